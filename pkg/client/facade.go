package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	domain "github.com/example/campus-presence/domain/presence"
	"github.com/example/campus-presence/modules/presence"
)

// defaultTypingWindow is the idle window after which the facade auto-emits
// typing_stop. The server stays stateless with respect to typing expiry.
const defaultTypingWindow = time.Second

// Events is the subscription surface the UI layer hooks into. Callbacks run
// on the session's read loop; a nil callback drops the event. Unsubscribing
// on UI teardown (clearing the callback) is the caller's responsibility.
type Events struct {
	OnConnected          func(connectionID string)
	OnNewMessage         func(msg domain.Message)
	OnUserJoined         func(roomID string, user domain.Identity)
	OnUserLeft           func(roomID string, user domain.Identity)
	OnUserTyping         func(roomID, userID, userName string, isTyping bool)
	OnRoomUsers          func(roomID string, users []domain.Identity)
	OnPrivateMessage     func(msg domain.Message)
	OnPrivateMessageSent func(msg domain.Message)
	OnError              func(message string)
	OnDisconnect         func(err error)
}

// wire is the minimal transport the session needs. The production
// implementation wraps a gorilla websocket; tests inject a fake.
type wire interface {
	ReadMessage() ([]byte, error)
	WriteJSON(v any) error
	Close() error
}

type dialFunc func(url string) (wire, error)

// Session owns one logical connection for one authenticated identity. It is
// meant to be constructed once at application startup and shared by UI
// components; Connect is idempotent for the same identity.
type Session struct {
	wsURL        string
	history      *HistoryClient
	events       Events
	dial         dialFunc
	typingWindow time.Duration
	logger       *slog.Logger

	mu           sync.Mutex
	conn         wire
	connID       string
	identity     domain.Identity
	connected    bool
	connecting   bool
	typingTimers map[string]*time.Timer
}

// Option configures a Session.
type Option func(*Session)

// WithTypingWindow overrides the typing idle window.
func WithTypingWindow(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.typingWindow = d
		}
	}
}

// WithLogger overrides the session logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// withDial swaps the transport; used by tests.
func withDial(dial dialFunc) Option {
	return func(s *Session) {
		s.dial = dial
	}
}

// NewSession creates a session for the given websocket URL. history may be
// nil, disabling the persistence side channel.
func NewSession(wsURL string, history *HistoryClient, events Events, opts ...Option) *Session {
	s := &Session{
		wsURL:        wsURL,
		history:      history,
		events:       events,
		dial:         gorillaDial,
		typingWindow: defaultTypingWindow,
		logger:       slog.Default().With(slog.String("component", "session")),
		typingTimers: make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect establishes the transport connection and authenticates. Calling
// it again while connected for the same identity returns nil without
// opening a redundant connection.
func (s *Session) Connect(identity domain.Identity) error {
	s.mu.Lock()
	if s.connected && s.identity.ID == identity.ID {
		s.mu.Unlock()
		return nil
	}
	if s.connected {
		s.mu.Unlock()
		return fmt.Errorf("session already connected as %s", s.identity.ID)
	}
	if s.connecting {
		s.mu.Unlock()
		return fmt.Errorf("connection attempt already in progress")
	}
	s.connecting = true
	s.mu.Unlock()

	// The dial and handshake run outside the lock so event callbacks can
	// call back into the session; the connecting flag keeps a second
	// Connect from opening a duplicate transport meanwhile.
	defer func() {
		s.mu.Lock()
		s.connecting = false
		s.mu.Unlock()
	}()

	conn, err := s.dial(s.wsURL)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	// The welcome frame arrives before anything else and carries the
	// server-assigned connection id, which message-id synthesis needs.
	raw, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to read welcome frame: %w", err)
	}
	connID, err := parseWelcome(raw)
	if err != nil {
		_ = conn.Close()
		return err
	}

	if err := conn.WriteJSON(frame{
		Type:    presence.InAuthenticate,
		Payload: identity,
	}); err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to authenticate: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.connID = connID
	s.identity = identity
	s.connected = true
	s.mu.Unlock()

	if s.events.OnConnected != nil {
		s.events.OnConnected(connID)
	}

	go s.readLoop(conn)

	s.logger.Info("session connected", "userID", identity.ID, "connID", connID)
	return nil
}

// JoinRoom emits a join_room event.
func (s *Session) JoinRoom(roomID string) error {
	return s.send(presence.InJoinRoom, roomRef{RoomID: roomID})
}

// LeaveRoom emits a leave_room event.
func (s *Session) LeaveRoom(roomID string) error {
	return s.send(presence.InLeaveRoom, roomRef{RoomID: roomID})
}

// SendMessage relays a text message to a room. The locally synthesized copy
// is surfaced to the UI before any network round-trip; the server echo
// carries the same id, so the UI reconciles by id rather than position.
// Persistence to the history store is fire-and-forget: a storage failure is
// logged, never surfaced, because the relay already delivered the message
// to live recipients.
func (s *Session) SendMessage(roomID, content string) error {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return fmt.Errorf("session not connected")
	}
	msg := domain.Message{
		ID:        fmt.Sprintf("%d-%s", time.Now().UnixMilli(), s.connID),
		RoomID:    roomID,
		Sender:    s.identity,
		Content:   content,
		Kind:      domain.KindText,
		Timestamp: time.Now(),
	}
	s.mu.Unlock()

	// Local echo first.
	if s.events.OnNewMessage != nil {
		s.events.OnNewMessage(msg)
	}

	if err := s.send(presence.InSendMessage, sendRef{
		RoomID:  roomID,
		Message: msgBody{ID: msg.ID, Content: content},
	}); err != nil {
		return err
	}

	go s.persist(msg)
	return nil
}

// SendPrivate relays a private message to every live connection of the
// recipient identity.
func (s *Session) SendPrivate(recipientID, content string) error {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return fmt.Errorf("session not connected")
	}
	msg := domain.Message{
		ID:          fmt.Sprintf("%d-%s", time.Now().UnixMilli(), s.connID),
		RecipientID: recipientID,
		Sender:      s.identity,
		Content:     content,
		Kind:        domain.KindPrivate,
		Timestamp:   time.Now(),
	}
	s.mu.Unlock()

	if err := s.send(presence.InPrivateMessage, privateRef{
		RecipientID: recipientID,
		Message:     msgBody{ID: msg.ID, Content: content},
	}); err != nil {
		return err
	}
	return nil
}

// ShareFile relays file metadata to a room.
func (s *Session) ShareFile(roomID string, file domain.FileMeta) error {
	return s.send(presence.InShareFile, fileRef{RoomID: roomID, File: file})
}

// StartTyping emits typing_start and arms the idle timer that auto-emits
// typing_stop after the idle window. Each further call resets the timer.
func (s *Session) StartTyping(roomID string) error {
	if err := s.send(presence.InTypingStart, roomRef{RoomID: roomID}); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if timer, ok := s.typingTimers[roomID]; ok {
		timer.Reset(s.typingWindow)
		return nil
	}
	s.typingTimers[roomID] = time.AfterFunc(s.typingWindow, func() {
		if err := s.StopTyping(roomID); err != nil {
			s.logger.Warn("auto typing_stop failed", "roomID", roomID, "error", err)
		}
	})
	return nil
}

// StopTyping cancels the idle timer and emits typing_stop.
func (s *Session) StopTyping(roomID string) error {
	s.mu.Lock()
	if timer, ok := s.typingTimers[roomID]; ok {
		timer.Stop()
		delete(s.typingTimers, roomID)
	}
	s.mu.Unlock()

	return s.send(presence.InTypingStop, roomRef{RoomID: roomID})
}

// History fetches a page of a room's durable history over the REST side
// channel.
func (s *Session) History(ctx context.Context, roomID string, page, limit int) ([]domain.Message, error) {
	if s.history == nil {
		return nil, fmt.Errorf("history client not configured")
	}
	return s.history.Fetch(ctx, roomID, page, limit)
}

// PrivateHistory fetches the private messages addressed to this session's
// identity, newest first. The relay drops private messages while the
// identity is offline, so this is the catch-up read after reconnecting.
func (s *Session) PrivateHistory(ctx context.Context, limit int) ([]domain.Message, error) {
	if s.history == nil {
		return nil, fmt.Errorf("history client not configured")
	}

	s.mu.Lock()
	identityID := s.identity.ID
	connected := s.connected
	s.mu.Unlock()
	if !connected {
		return nil, fmt.Errorf("session not connected")
	}
	return s.history.FetchPrivate(ctx, identityID, limit)
}

// Close voluntarily closes the connection. Cleanup of registry and room
// membership happens server-side, identically to a network drop.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return nil
	}
	for roomID, timer := range s.typingTimers {
		timer.Stop()
		delete(s.typingTimers, roomID)
	}
	s.connected = false
	return s.conn.Close()
}

// frame is the client-side wire envelope.
type frame struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type roomRef struct {
	RoomID string `json:"room_id"`
}

type msgBody struct {
	ID      string `json:"id,omitempty"`
	Content string `json:"content"`
}

type sendRef struct {
	RoomID  string  `json:"room_id"`
	Message msgBody `json:"message"`
}

type privateRef struct {
	RecipientID string  `json:"recipient_id"`
	Message     msgBody `json:"message"`
}

type fileRef struct {
	RoomID string          `json:"room_id"`
	File   domain.FileMeta `json:"file"`
}

func (s *Session) send(eventType string, payload any) error {
	s.mu.Lock()
	conn, connected := s.conn, s.connected
	s.mu.Unlock()

	if !connected {
		return fmt.Errorf("session not connected")
	}
	if err := conn.WriteJSON(frame{Type: eventType, Payload: payload}); err != nil {
		return fmt.Errorf("failed to send %s: %w", eventType, err)
	}
	return nil
}

func (s *Session) persist(msg domain.Message) {
	// The room-scoped side channel only covers room messages; private
	// messages reach storage through the relay's event stream.
	if s.history == nil || msg.RoomID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.history.Append(ctx, msg); err != nil {
		s.logger.Warn("history persist failed", "messageID", msg.ID, "error", err)
	}
}

// gorillaWire adapts a gorilla websocket connection to the wire interface,
// serializing writes.
type gorillaWire struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func gorillaDial(url string) (wire, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	return &gorillaWire{conn: conn}, nil
}

func (w *gorillaWire) ReadMessage() ([]byte, error) {
	_, data, err := w.conn.ReadMessage()
	return data, err
}

func (w *gorillaWire) WriteJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteJSON(v)
}

func (w *gorillaWire) Close() error {
	return w.conn.Close()
}

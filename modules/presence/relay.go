package presence

import (
	"fmt"
	"log/slog"
	"time"

	domain "github.com/example/campus-presence/domain/presence"
)

// Sender delivers one outbound event to one connection. The gateway's
// connection table implements it; tests use a recording fake.
type Sender interface {
	Send(connID string, event Outbound)
}

// Emitter is the hook through which the relay announces durable-worthy
// events to the rest of the application (the history store consumes them
// off the event bus). A nil emitter is valid; delivery to live recipients
// never depends on it.
type Emitter interface {
	MessageSent(msg domain.Message)
	PrivateMessageSent(msg domain.Message, delivered bool)
	UserJoined(roomID string, user domain.Identity)
	UserLeft(roomID string, user domain.Identity)
}

// Relay interprets inbound events and computes outbound fan-out. It holds no
// mutable state of its own: all state lives in the injected registry and
// tracker, so tests can instantiate isolated relays per case.
type Relay struct {
	registry *ConnRegistry
	tracker  *RoomTracker
	sender   Sender
	emitter  Emitter
	logger   *slog.Logger
}

// NewRelay creates a relay over the given shared state. emitter may be nil.
func NewRelay(registry *ConnRegistry, tracker *RoomTracker, sender Sender, emitter Emitter, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		registry: registry,
		tracker:  tracker,
		sender:   sender,
		emitter:  emitter,
		logger:   logger.With(slog.String("component", "relay")),
	}
}

// Dispatch processes one decoded inbound event for a connection. A bad event
// degrades into a rejection frame to the offending connection; it never
// propagates to other participants and never mutates shared state.
func (r *Relay) Dispatch(connID string, ev Inbound) {
	switch e := ev.(type) {
	case Authenticate:
		r.registry.Register(connID, e.Identity)
		r.logger.Info("connection authenticated",
			"connID", connID, "userID", e.Identity.ID)
		return
	}

	identity, ok := r.registry.Lookup(connID)
	if !ok {
		r.reject(connID, "not authenticated")
		return
	}

	switch e := ev.(type) {
	case JoinRoom:
		r.handleJoin(connID, identity, e.RoomID)
	case LeaveRoom:
		r.handleLeave(connID, e.RoomID)
	case SendMessage:
		r.handleSend(connID, identity, e)
	case TypingStart:
		r.handleTyping(identity, e.RoomID, true)
	case TypingStop:
		r.handleTyping(identity, e.RoomID, false)
	case PrivateMessage:
		r.handlePrivate(connID, identity, e)
	case ShareFile:
		r.handleShareFile(connID, identity, e)
	default:
		r.reject(connID, "unsupported event")
	}
}

func (r *Relay) handleJoin(connID string, identity domain.Identity, roomID string) {
	first := r.tracker.Join(roomID, connID, identity)

	r.sender.Send(connID, Outbound{
		Type: OutRoomUsers,
		Payload: RoomUsersPayload{
			RoomID: roomID,
			Users:  r.tracker.MembersOf(roomID),
		},
	})

	if !first {
		// Another device of the same identity is already in the room;
		// no presence churn for other members.
		return
	}

	joined := Outbound{
		Type:    OutUserJoined,
		Payload: UserJoinedPayload{RoomID: roomID, User: identity},
	}
	for _, peer := range r.tracker.ConnectionsInExcept(roomID, identity.ID) {
		r.sender.Send(peer, joined)
	}

	if r.emitter != nil {
		r.emitter.UserJoined(roomID, identity)
	}
	r.logger.Info("user joined room", "userID", identity.ID, "roomID", roomID)
}

func (r *Relay) handleLeave(connID, roomID string) {
	// An empty result means another device remains in the room, or the
	// connection was never a member. Both are silent outcomes.
	for _, identity := range r.tracker.Leave(roomID, connID) {
		r.notifyLeft(roomID, identity)
	}
}

// notifyLeft broadcasts user_left to the room's remaining members. Shared
// with the lifecycle manager's disconnect cleanup.
func (r *Relay) notifyLeft(roomID string, identity domain.Identity) {
	left := Outbound{
		Type:    OutUserLeft,
		Payload: UserLeftPayload{RoomID: roomID, User: identity},
	}
	for _, peer := range r.tracker.ConnectionsIn(roomID) {
		r.sender.Send(peer, left)
	}

	if r.emitter != nil {
		r.emitter.UserLeft(roomID, identity)
	}
	r.logger.Info("user left room", "userID", identity.ID, "roomID", roomID)
}

func (r *Relay) handleSend(connID string, identity domain.Identity, e SendMessage) {
	msg := domain.Message{
		ID:        messageID(e.MessageID, connID),
		RoomID:    e.RoomID,
		Sender:    identity,
		Content:   e.Content,
		Kind:      domain.KindText,
		Timestamp: time.Now(),
	}
	r.fanOutToRoom(msg)
}

func (r *Relay) handleShareFile(connID string, identity domain.Identity, e ShareFile) {
	file := e.File
	msg := domain.Message{
		ID:        messageID("", connID),
		RoomID:    e.RoomID,
		Sender:    identity,
		File:      &file,
		Kind:      domain.KindFile,
		Timestamp: time.Now(),
	}
	r.fanOutToRoom(msg)
}

// fanOutToRoom delivers new_message to every connection of every member
// identity, including the sender's own devices for multi-device consistency.
func (r *Relay) fanOutToRoom(msg domain.Message) {
	out := Outbound{Type: OutNewMessage, Payload: msg}
	for _, connID := range r.tracker.ConnectionsIn(msg.RoomID) {
		r.sender.Send(connID, out)
	}

	if r.emitter != nil {
		r.emitter.MessageSent(msg)
	}
	r.logger.Debug("message relayed",
		"messageID", msg.ID, "roomID", msg.RoomID, "kind", string(msg.Kind))
}

func (r *Relay) handleTyping(identity domain.Identity, roomID string, typing bool) {
	r.tracker.SetTyping(roomID, identity.ID, typing)

	out := Outbound{
		Type: OutUserTyping,
		Payload: UserTypingPayload{
			RoomID:   roomID,
			UserID:   identity.ID,
			UserName: identity.Name,
			IsTyping: typing,
		},
	}
	// Never echoed to any device of the typist.
	for _, peer := range r.tracker.ConnectionsInExcept(roomID, identity.ID) {
		r.sender.Send(peer, out)
	}
}

func (r *Relay) handlePrivate(connID string, identity domain.Identity, e PrivateMessage) {
	msg := domain.Message{
		ID:          messageID(e.MessageID, connID),
		RecipientID: e.RecipientID,
		Sender:      identity,
		Content:     e.Content,
		Kind:        domain.KindPrivate,
		Timestamp:   time.Now(),
	}

	// An offline recipient is a silent drop, not an error: durable delivery
	// is the history store's job, the relay only reaches live connections.
	recipients := r.registry.ConnectionsOf(e.RecipientID)
	out := Outbound{Type: OutPrivateMessage, Payload: msg}
	for _, rc := range recipients {
		r.sender.Send(rc, out)
	}

	r.sender.Send(connID, Outbound{Type: OutPrivateMessageSent, Payload: msg})

	if r.emitter != nil {
		r.emitter.PrivateMessageSent(msg, len(recipients) > 0)
	}
	r.logger.Debug("private message relayed",
		"messageID", msg.ID, "recipientID", e.RecipientID,
		"liveConnections", len(recipients))
}

func (r *Relay) reject(connID, reason string) {
	r.sender.Send(connID, Outbound{Type: OutError, Error: reason})
	r.logger.Warn("event rejected", "connID", connID, "reason", reason)
}

// messageID returns the client-supplied id when present, otherwise
// timestamp-plus-connection-id. Ids are monotonic enough for display
// ordering; strict cross-connection ordering is not guaranteed under clock
// skew.
func messageID(provided, connID string) string {
	if provided != "" {
		return provided
	}
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), connID)
}

package presence

import (
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	domain "github.com/example/campus-presence/domain/presence"
)

// Validation constants
const (
	MaxContentLength  = 4096
	MaxFileNameLength = 255
)

// Validation errors surfaced as protocol rejections to the offending
// connection only.
var (
	ErrUnknownEventType = errors.New("unknown event type")
	ErrMissingIdentity  = errors.New("identity id is required")
	ErrMissingRoomID    = errors.New("room id is required")
	ErrMissingRecipient = errors.New("recipient id is required")
	ErrMissingContent   = errors.New("message content is required")
	ErrContentTooLong   = errors.New("message content exceeds maximum length")
	ErrContentInvalid   = errors.New("message content is not valid UTF-8")
	ErrMissingFile      = errors.New("file metadata is required")
	ErrFileNameTooLong  = errors.New("file name exceeds maximum length")
)

// Inbound event type tags.
const (
	InAuthenticate   = "authenticate"
	InJoinRoom       = "join_room"
	InLeaveRoom      = "leave_room"
	InSendMessage    = "send_message"
	InTypingStart    = "typing_start"
	InTypingStop     = "typing_stop"
	InPrivateMessage = "private_message"
	InShareFile      = "share_file"
)

// Outbound event type tags.
const (
	OutConnected          = "connected"
	OutRoomUsers          = "room_users"
	OutUserJoined         = "user_joined"
	OutUserLeft           = "user_left"
	OutNewMessage         = "new_message"
	OutUserTyping         = "user_typing"
	OutPrivateMessage     = "private_message"
	OutPrivateMessageSent = "private_message_sent"
	OutError              = "error"
)

// Inbound is the closed set of events a client may send. Each concrete type
// carries exactly the fields its tag requires; DecodeInbound rejects
// anything else before it reaches the relay.
type Inbound interface {
	inbound()
}

// Authenticate attaches a verified identity to the connection.
type Authenticate struct {
	Identity domain.Identity
}

// JoinRoom adds the connection to a room.
type JoinRoom struct {
	RoomID string
}

// LeaveRoom removes the connection from a room.
type LeaveRoom struct {
	RoomID string
}

// SendMessage relays a text message to a room. MessageID is optional: when
// the client facade supplies one, the relay honors it so the client's
// optimistic local echo and the server echo reconcile by id.
type SendMessage struct {
	RoomID    string
	MessageID string
	Content   string
}

// TypingStart signals the identity started typing in a room.
type TypingStart struct {
	RoomID string
}

// TypingStop signals the identity stopped typing in a room.
type TypingStop struct {
	RoomID string
}

// PrivateMessage relays a message to every live connection of one identity.
type PrivateMessage struct {
	RecipientID string
	MessageID   string
	Content     string
}

// ShareFile relays file metadata to a room.
type ShareFile struct {
	RoomID string
	File   domain.FileMeta
}

func (Authenticate) inbound()   {}
func (JoinRoom) inbound()       {}
func (LeaveRoom) inbound()      {}
func (SendMessage) inbound()    {}
func (TypingStart) inbound()    {}
func (TypingStop) inbound()     {}
func (PrivateMessage) inbound() {}
func (ShareFile) inbound()      {}

// Envelope is the wire frame for both directions: a type tag plus a
// type-specific payload.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Outbound is a server-to-client frame. Error is set only on protocol
// rejections.
type Outbound struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Outbound payload shapes (stable contract with the UI layer).

type ConnectedPayload struct {
	ConnectionID string `json:"connection_id"`
}

type RoomUsersPayload struct {
	RoomID string            `json:"room_id"`
	Users  []domain.Identity `json:"users"`
}

type UserJoinedPayload struct {
	RoomID string          `json:"room_id"`
	User   domain.Identity `json:"user"`
}

type UserLeftPayload struct {
	RoomID string          `json:"room_id"`
	User   domain.Identity `json:"user"`
}

type UserTypingPayload struct {
	RoomID   string `json:"room_id"`
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
	IsTyping bool   `json:"is_typing"`
}

// Inbound payload shapes.

type roomPayload struct {
	RoomID string `json:"room_id"`
}

type messageBody struct {
	ID      string `json:"id,omitempty"`
	Content string `json:"content"`
}

type sendMessagePayload struct {
	RoomID  string      `json:"room_id"`
	Message messageBody `json:"message"`
}

type privateMessagePayload struct {
	RecipientID string      `json:"recipient_id"`
	Message     messageBody `json:"message"`
}

type shareFilePayload struct {
	RoomID string          `json:"room_id"`
	File   domain.FileMeta `json:"file"`
}

// DecodeInbound parses and validates one client frame. A decode error means
// the frame must be rejected locally to the offending connection; relay
// state is never touched.
func DecodeInbound(raw []byte) (Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}

	switch env.Type {
	case InAuthenticate:
		var identity domain.Identity
		if err := unmarshalPayload(env.Payload, &identity); err != nil {
			return nil, err
		}
		if identity.ID == "" {
			return nil, ErrMissingIdentity
		}
		return Authenticate{Identity: identity}, nil

	case InJoinRoom, InLeaveRoom, InTypingStart, InTypingStop:
		var p roomPayload
		if err := unmarshalPayload(env.Payload, &p); err != nil {
			return nil, err
		}
		if p.RoomID == "" {
			return nil, ErrMissingRoomID
		}
		switch env.Type {
		case InJoinRoom:
			return JoinRoom{RoomID: p.RoomID}, nil
		case InLeaveRoom:
			return LeaveRoom{RoomID: p.RoomID}, nil
		case InTypingStart:
			return TypingStart{RoomID: p.RoomID}, nil
		default:
			return TypingStop{RoomID: p.RoomID}, nil
		}

	case InSendMessage:
		var p sendMessagePayload
		if err := unmarshalPayload(env.Payload, &p); err != nil {
			return nil, err
		}
		if p.RoomID == "" {
			return nil, ErrMissingRoomID
		}
		if err := validateContent(p.Message.Content); err != nil {
			return nil, err
		}
		return SendMessage{
			RoomID:    p.RoomID,
			MessageID: p.Message.ID,
			Content:   p.Message.Content,
		}, nil

	case InPrivateMessage:
		var p privateMessagePayload
		if err := unmarshalPayload(env.Payload, &p); err != nil {
			return nil, err
		}
		if p.RecipientID == "" {
			return nil, ErrMissingRecipient
		}
		if err := validateContent(p.Message.Content); err != nil {
			return nil, err
		}
		return PrivateMessage{
			RecipientID: p.RecipientID,
			MessageID:   p.Message.ID,
			Content:     p.Message.Content,
		}, nil

	case InShareFile:
		var p shareFilePayload
		if err := unmarshalPayload(env.Payload, &p); err != nil {
			return nil, err
		}
		if p.RoomID == "" {
			return nil, ErrMissingRoomID
		}
		if p.File.Name == "" {
			return nil, ErrMissingFile
		}
		if len(p.File.Name) > MaxFileNameLength {
			return nil, ErrFileNameTooLong
		}
		return ShareFile{RoomID: p.RoomID, File: p.File}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, env.Type)
	}
}

func unmarshalPayload(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return errors.New("payload is required")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("malformed payload: %w", err)
	}
	return nil
}

func validateContent(content string) error {
	if content == "" {
		return ErrMissingContent
	}
	if len(content) > MaxContentLength {
		return ErrContentTooLong
	}
	if !utf8.ValidString(content) {
		return ErrContentInvalid
	}
	return nil
}

package presence

import "time"

// Identity is an authenticated participant, independent of any single
// connection. The core holds a read-only copy for the connection's lifetime;
// the surrounding application owns the record itself.
type Identity struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// MessageKind classifies a relayed message.
type MessageKind string

const (
	KindText    MessageKind = "text"
	KindFile    MessageKind = "file"
	KindPrivate MessageKind = "private"
)

// FileMeta describes a shared file. The file bytes themselves live in the
// surrounding application's upload storage; only metadata travels through
// the relay.
type FileMeta struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MimeType string `json:"mime_type,omitempty"`
	URL      string `json:"url,omitempty"`
}

// Message is an immutable record of one relayed communication. Sender is a
// snapshot taken at send time, so a later display-name change does not
// rewrite history. Exactly one of RoomID or RecipientID is set.
type Message struct {
	ID          string      `json:"id"`
	RoomID      string      `json:"room_id,omitempty"`
	RecipientID string      `json:"recipient_id,omitempty"`
	Sender      Identity    `json:"sender"`
	Content     string      `json:"content,omitempty"`
	File        *FileMeta   `json:"file,omitempty"`
	Kind        MessageKind `json:"kind"`
	Timestamp   time.Time   `json:"timestamp"`
}

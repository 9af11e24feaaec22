package events

import (
	"time"

	"github.com/go-monolith/mono/pkg/helper"

	domain "github.com/example/campus-presence/domain/presence"
)

// MessageSentEvent is emitted when the relay delivers a room message.
type MessageSentEvent struct {
	Message domain.Message `json:"message"`
}

// PrivateMessageSentEvent is emitted when the relay handles a private
// message, whether or not the recipient had a live connection. Durable
// delivery to offline recipients is the history store's concern.
type PrivateMessageSentEvent struct {
	Message   domain.Message `json:"message"`
	Delivered bool           `json:"delivered"`
}

// UserJoinedEvent is emitted when an identity's first connection joins a room.
type UserJoinedEvent struct {
	RoomID    string          `json:"room_id"`
	User      domain.Identity `json:"user"`
	Timestamp time.Time       `json:"timestamp"`
}

// UserLeftEvent is emitted when an identity's last connection leaves a room.
type UserLeftEvent struct {
	RoomID    string          `json:"room_id"`
	User      domain.Identity `json:"user"`
	Timestamp time.Time       `json:"timestamp"`
}

// Event definitions for the presence domain.
var (
	MessageSentV1 = helper.EventDefinition[MessageSentEvent](
		"presence",
		"MessageSent",
		"v1",
	)

	PrivateMessageSentV1 = helper.EventDefinition[PrivateMessageSentEvent](
		"presence",
		"PrivateMessageSent",
		"v1",
	)

	UserJoinedV1 = helper.EventDefinition[UserJoinedEvent](
		"presence",
		"UserJoined",
		"v1",
	)

	UserLeftV1 = helper.EventDefinition[UserLeftEvent](
		"presence",
		"UserLeft",
		"v1",
	)
)

package history

import (
	domain "github.com/example/campus-presence/domain/presence"
)

// Service names registered on the ServiceContainer.
const (
	ServiceAppendMessage  = "append-message"
	ServiceRoomHistory    = "room-history"
	ServicePrivateHistory = "private-history"
)

// Paging defaults for history reads.
const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// AppendMessageRequest asks the store to persist one message.
type AppendMessageRequest struct {
	Message domain.Message `json:"message"`
}

// AppendMessageResponse reports whether the message was accepted.
type AppendMessageResponse struct {
	Accepted bool `json:"accepted"`
}

// RoomHistoryRequest asks for a page of a room's history.
type RoomHistoryRequest struct {
	RoomID string `json:"room_id"`
	Page   int    `json:"page"`
	Limit  int    `json:"limit"`
}

// RoomHistoryResponse carries one page of messages in chronological order.
type RoomHistoryResponse struct {
	Messages []domain.Message `json:"messages"`
}

// PrivateHistoryRequest asks for the private messages addressed to an
// identity, the catch-up read a client performs after reconnecting.
type PrivateHistoryRequest struct {
	RecipientID string `json:"recipient_id"`
	Limit       int    `json:"limit"`
}

// PrivateHistoryResponse carries the messages, newest first.
type PrivateHistoryResponse struct {
	Messages []domain.Message `json:"messages"`
}

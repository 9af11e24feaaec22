package gateway

import (
	domain "github.com/example/campus-presence/domain/presence"
)

// ErrorResponse is the API error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// HistoryResponse is the API response for message history.
type HistoryResponse struct {
	RoomID   string           `json:"room_id"`
	Page     int              `json:"page"`
	Messages []domain.Message `json:"messages"`
	Total    int              `json:"total"`
}

// PrivateHistoryResponse is the API response for a private-message
// catch-up read.
type PrivateHistoryResponse struct {
	RecipientID string           `json:"recipient_id"`
	Messages    []domain.Message `json:"messages"`
	Total       int              `json:"total"`
}

// AcceptedResponse is the API response for a history append.
type AcceptedResponse struct {
	Accepted bool `json:"accepted"`
}

// HealthResponse is the API health check response.
type HealthResponse struct {
	Status  string         `json:"status"`
	Details map[string]any `json:"details,omitempty"`
}

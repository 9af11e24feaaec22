package history

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"

	domain "github.com/example/campus-presence/domain/presence"
)

// HistoryPort defines the interface for history operations. This is the
// port the gateway and the client facade's REST side channel go through.
type HistoryPort interface {
	Append(ctx context.Context, msg domain.Message) (bool, error)
	RoomHistory(ctx context.Context, roomID string, page, limit int) ([]domain.Message, error)
	PrivateHistory(ctx context.Context, recipientID string, limit int) ([]domain.Message, error)
}

// HistoryAdapter implements HistoryPort using the service container.
type HistoryAdapter struct {
	container mono.ServiceContainer
}

// NewHistoryAdapter creates a new HistoryAdapter.
func NewHistoryAdapter(container mono.ServiceContainer) HistoryPort {
	if container == nil {
		panic("history: ServiceContainer is nil")
	}
	return &HistoryAdapter{container: container}
}

// Append persists one message.
func (a *HistoryAdapter) Append(ctx context.Context, msg domain.Message) (bool, error) {
	req := AppendMessageRequest{Message: msg}
	var resp AppendMessageResponse
	if err := helper.CallRequestReplyService(
		ctx,
		a.container,
		ServiceAppendMessage,
		json.Marshal,
		json.Unmarshal,
		&req,
		&resp,
	); err != nil {
		return false, fmt.Errorf("failed to append message: %w", err)
	}
	return resp.Accepted, nil
}

// RoomHistory retrieves one page of a room's messages.
func (a *HistoryAdapter) RoomHistory(ctx context.Context, roomID string, page, limit int) ([]domain.Message, error) {
	req := RoomHistoryRequest{RoomID: roomID, Page: page, Limit: limit}
	var resp RoomHistoryResponse
	if err := helper.CallRequestReplyService(
		ctx,
		a.container,
		ServiceRoomHistory,
		json.Marshal,
		json.Unmarshal,
		&req,
		&resp,
	); err != nil {
		return nil, fmt.Errorf("failed to get room history: %w", err)
	}
	return resp.Messages, nil
}

// PrivateHistory retrieves the private messages addressed to an identity,
// newest first.
func (a *HistoryAdapter) PrivateHistory(ctx context.Context, recipientID string, limit int) ([]domain.Message, error) {
	req := PrivateHistoryRequest{RecipientID: recipientID, Limit: limit}
	var resp PrivateHistoryResponse
	if err := helper.CallRequestReplyService(
		ctx,
		a.container,
		ServicePrivateHistory,
		json.Marshal,
		json.Unmarshal,
		&req,
		&resp,
	); err != nil {
		return nil, fmt.Errorf("failed to get private history: %w", err)
	}
	return resp.Messages, nil
}

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	domain "github.com/example/campus-presence/domain/presence"
)

// HistoryClient talks to the durable-history REST side channel. It is a
// best-effort collaborator: the interactive send/receive path never waits
// on it.
type HistoryClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewHistoryClient creates a history client for the given base URL
// (e.g. "http://localhost:3000").
func NewHistoryClient(baseURL string) *HistoryClient {
	return &HistoryClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// historyResponse mirrors the gateway's history payload.
type historyResponse struct {
	RoomID   string           `json:"room_id"`
	Page     int              `json:"page"`
	Messages []domain.Message `json:"messages"`
	Total    int              `json:"total"`
}

type privateHistoryResponse struct {
	RecipientID string           `json:"recipient_id"`
	Messages    []domain.Message `json:"messages"`
	Total       int              `json:"total"`
}

type acceptedResponse struct {
	Accepted bool `json:"accepted"`
}

// Fetch retrieves one page of a room's history in chronological order.
func (c *HistoryClient) Fetch(ctx context.Context, roomID string, page, limit int) ([]domain.Message, error) {
	endpoint := fmt.Sprintf("%s/api/v1/rooms/%s/history", c.baseURL, url.PathEscape(roomID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build history request: %w", err)
	}
	q := req.URL.Query()
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))
	req.URL.RawQuery = q.Encode()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("history request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("history request returned %d", resp.StatusCode)
	}

	var body historyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode history response: %w", err)
	}
	return body.Messages, nil
}

// FetchPrivate retrieves the private messages addressed to an identity,
// newest first.
func (c *HistoryClient) FetchPrivate(ctx context.Context, recipientID string, limit int) ([]domain.Message, error) {
	endpoint := fmt.Sprintf("%s/api/v1/users/%s/private-history", c.baseURL, url.PathEscape(recipientID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build private history request: %w", err)
	}
	q := req.URL.Query()
	q.Set("limit", strconv.Itoa(limit))
	req.URL.RawQuery = q.Encode()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("private history request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("private history request returned %d", resp.StatusCode)
	}

	var body privateHistoryResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode private history response: %w", err)
	}
	return body.Messages, nil
}

// Append persists one message. Callers treat failures as log-and-continue:
// in-memory delivery already happened.
func (c *HistoryClient) Append(ctx context.Context, msg domain.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/v1/rooms/%s/history", c.baseURL, url.PathEscape(msg.RoomID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to build append request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("append request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("append request returned %d", resp.StatusCode)
	}

	var body acceptedResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("failed to decode append response: %w", err)
	}
	if !body.Accepted {
		return fmt.Errorf("message %s not accepted", msg.ID)
	}
	return nil
}

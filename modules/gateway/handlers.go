package gateway

import (
	"context"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	domain "github.com/example/campus-presence/domain/presence"
	"github.com/example/campus-presence/modules/presence"
)

// setupRoutes configures all HTTP routes.
func (m *Module) setupRoutes() {
	// Health check
	m.app.Get("/health", m.healthHandler)

	// WebSocket endpoint
	m.app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	m.app.Get("/ws", websocket.New(m.handleWebSocket))

	// REST side channel for durable history
	api := m.app.Group("/api/v1")
	api.Get("/rooms/:id/history", m.getHistory)
	api.Post("/rooms/:id/history", m.postHistory)
	api.Get("/users/:id/private-history", m.getPrivateHistory)
}

// handleWebSocket owns one connection: it assigns the opaque connection id,
// runs the lifecycle transitions, and feeds decoded frames to the relay.
// Each frame is processed to completion before the next read, so events
// from one connection are never reordered.
func (m *Module) handleWebSocket(c *websocket.Conn) {
	connID := uuid.New().String()
	limiter := newRateLimiter(burstSize, messagesPerSecond)

	m.conns.Add(connID, c)
	m.lifecycle.OnConnect(connID)
	defer func() {
		m.lifecycle.OnDisconnect(connID)
		m.conns.Remove(connID)
	}()

	// Welcome frame carries the connection id; the client facade uses it
	// to synthesize reconcilable message ids.
	m.conns.Send(connID, presence.Outbound{
		Type:    presence.OutConnected,
		Payload: presence.ConnectedPayload{ConnectionID: connID},
	})

	for {
		_, raw, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				m.logger.Warn("WebSocket read error", "connID", connID, "error", err)
			}
			break
		}

		if !limiter.allow() {
			m.conns.Send(connID, presence.Outbound{
				Type:  presence.OutError,
				Error: "rate limit exceeded, please slow down",
			})
			continue
		}

		ev, err := presence.DecodeInbound(raw)
		if err != nil {
			// Rejected locally; other participants never see it.
			m.conns.Send(connID, presence.Outbound{
				Type:  presence.OutError,
				Error: err.Error(),
			})
			continue
		}

		m.relay.Dispatch(connID, ev)
	}
}

// healthHandler handles GET /health.
func (m *Module) healthHandler(c *fiber.Ctx) error {
	return c.JSON(HealthResponse{
		Status: "healthy",
		Details: map[string]any{
			"module":            "gateway",
			"connected_clients": m.conns.Count(),
		},
	})
}

// getHistory handles GET /api/v1/rooms/:id/history.
func (m *Module) getHistory(c *fiber.Ctx) error {
	roomID := c.Params("id")
	page := c.QueryInt("page", 0)
	limit := c.QueryInt("limit", 50)

	messages, err := m.historyAdapter.RoomHistory(c.UserContext(), roomID, page, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Error:   "history_failed",
			Message: "Failed to get room history",
		})
	}

	return c.JSON(HistoryResponse{
		RoomID:   roomID,
		Page:     page,
		Messages: messages,
		Total:    len(messages),
	})
}

// getPrivateHistory handles GET /api/v1/users/:id/private-history. The
// relay drops private messages to offline recipients; this is how a
// reconnecting client catches up on what it missed.
func (m *Module) getPrivateHistory(c *fiber.Ctx) error {
	recipientID := c.Params("id")
	limit := c.QueryInt("limit", 50)

	messages, err := m.historyAdapter.PrivateHistory(c.UserContext(), recipientID, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Error:   "history_failed",
			Message: "Failed to get private history",
		})
	}

	return c.JSON(PrivateHistoryResponse{
		RecipientID: recipientID,
		Messages:    messages,
		Total:       len(messages),
	})
}

// postHistory handles POST /api/v1/rooms/:id/history, the facade's
// best-effort persistence side channel.
func (m *Module) postHistory(c *fiber.Ctx) error {
	roomID := c.Params("id")

	var msg domain.Message
	if err := c.BodyParser(&msg); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid message body",
		})
	}
	if msg.ID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error:   "validation_error",
			Message: "Message id is required",
		})
	}
	msg.RoomID = roomID

	accepted, err := m.historyAdapter.Append(context.WithoutCancel(c.UserContext()), msg)
	if err != nil {
		m.logger.Warn("History append failed", "messageID", msg.ID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Error:   "append_failed",
			Message: "Failed to persist message",
		})
	}

	return c.JSON(AcceptedResponse{Accepted: accepted})
}

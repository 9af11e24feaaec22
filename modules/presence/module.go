package presence

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/types"

	domain "github.com/example/campus-presence/domain/presence"
	"github.com/example/campus-presence/events"
)

// Module wires the presence core into the mono framework: it owns the
// registry, tracker, relay, and lifecycle manager, and publishes durable
// chat events on the EventBus for the history module to consume.
type Module struct {
	registry  *ConnRegistry
	tracker   *RoomTracker
	relay     *Relay
	lifecycle *Lifecycle
	sender    Sender
	eventBus  mono.EventBus
	logger    types.Logger
}

// Compile-time interface checks.
var (
	_ mono.Module                = (*Module)(nil)
	_ mono.EventBusAwareModule   = (*Module)(nil)
	_ mono.EventEmitterModule    = (*Module)(nil)
	_ mono.HealthCheckableModule = (*Module)(nil)
	_ Emitter                    = (*Module)(nil)
)

// NewModule creates the presence module. The transport sender is injected
// from main via SetSender before Start.
func NewModule(logger types.Logger) *Module {
	return &Module{
		registry: NewConnRegistry(),
		tracker:  NewRoomTracker(),
		logger:   logger,
	}
}

// Name returns the module name.
func (m *Module) Name() string {
	return "presence"
}

// SetEventBus receives the EventBus from the framework.
func (m *Module) SetEventBus(bus mono.EventBus) {
	m.eventBus = bus
}

// SetSender injects the transport's connection table (called from main.go,
// the way the gateway gets the relay back: the hub is not exposed via
// ServiceContainer).
func (m *Module) SetSender(sender Sender) {
	m.sender = sender
}

// EmitEvents declares the events this module can emit.
func (m *Module) EmitEvents() []mono.BaseEventDefinition {
	return []mono.BaseEventDefinition{
		events.MessageSentV1.ToBase(),
		events.PrivateMessageSentV1.ToBase(),
		events.UserJoinedV1.ToBase(),
		events.UserLeftV1.ToBase(),
	}
}

// Start constructs the relay and lifecycle manager over the injected sender.
func (m *Module) Start(_ context.Context) error {
	if m.sender == nil {
		return fmt.Errorf("transport sender dependency not set")
	}
	m.relay = NewRelay(m.registry, m.tracker, m.sender, m, slog.Default())
	m.lifecycle = NewLifecycle(m.registry, m.tracker, m.relay, slog.Default())
	m.logger.Info("Presence module started")
	return nil
}

// Stop gracefully shuts down the module.
func (m *Module) Stop(_ context.Context) error {
	m.logger.Info("Presence module stopped",
		"connections", m.registry.Count(), "rooms", m.tracker.RoomCount())
	return nil
}

// Health returns the health status.
func (m *Module) Health(_ context.Context) mono.HealthStatus {
	healthy := m.relay != nil
	return mono.HealthStatus{
		Healthy: healthy,
		Message: "operational",
		Details: map[string]any{
			"authenticated_connections": m.registry.Count(),
			"active_rooms":              m.tracker.RoomCount(),
		},
	}
}

// Relay returns the event relay for the gateway's read loop.
func (m *Module) Relay() *Relay {
	return m.relay
}

// Lifecycle returns the lifecycle manager for the gateway's connect and
// disconnect hooks.
func (m *Module) Lifecycle() *Lifecycle {
	return m.lifecycle
}

// Emitter implementation: publish relay events on the bus. Publish failures
// are logged and dropped; in-memory delivery to live recipients is
// authoritative and already happened.

// MessageSent publishes a MessageSent event.
func (m *Module) MessageSent(msg domain.Message) {
	if m.eventBus == nil {
		return
	}
	event := events.MessageSentEvent{Message: msg}
	if err := events.MessageSentV1.Publish(m.eventBus, event, nil); err != nil {
		slog.Warn("Failed to publish MessageSent event", "error", err)
	}
}

// PrivateMessageSent publishes a PrivateMessageSent event.
func (m *Module) PrivateMessageSent(msg domain.Message, delivered bool) {
	if m.eventBus == nil {
		return
	}
	event := events.PrivateMessageSentEvent{Message: msg, Delivered: delivered}
	if err := events.PrivateMessageSentV1.Publish(m.eventBus, event, nil); err != nil {
		slog.Warn("Failed to publish PrivateMessageSent event", "error", err)
	}
}

// UserJoined publishes a UserJoined event.
func (m *Module) UserJoined(roomID string, user domain.Identity) {
	if m.eventBus == nil {
		return
	}
	event := events.UserJoinedEvent{RoomID: roomID, User: user, Timestamp: time.Now()}
	if err := events.UserJoinedV1.Publish(m.eventBus, event, nil); err != nil {
		slog.Warn("Failed to publish UserJoined event", "error", err)
	}
}

// UserLeft publishes a UserLeft event.
func (m *Module) UserLeft(roomID string, user domain.Identity) {
	if m.eventBus == nil {
		return
	}
	event := events.UserLeftEvent{RoomID: roomID, User: user, Timestamp: time.Now()}
	if err := events.UserLeftV1.Publish(m.eventBus, event, nil); err != nil {
		slog.Warn("Failed to publish UserLeft event", "error", err)
	}
}

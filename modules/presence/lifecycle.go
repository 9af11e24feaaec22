package presence

import (
	"log/slog"
	"sync"
	"time"
)

// Lifecycle manages connect/authenticate/disconnect transitions. Disconnect
// is the only place global cleanup happens: it purges the identity from the
// registry and from every room the connection had joined, notifying
// remaining members. Transports can fire spurious duplicate disconnects, so
// every step tolerates already-gone state.
type Lifecycle struct {
	registry *ConnRegistry
	tracker  *RoomTracker
	relay    *Relay
	logger   *slog.Logger

	mu    sync.Mutex
	conns map[string]time.Time // connID -> connectedAt
}

// NewLifecycle creates a lifecycle manager over the same shared state as
// the relay.
func NewLifecycle(registry *ConnRegistry, tracker *RoomTracker, relay *Relay, logger *slog.Logger) *Lifecycle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Lifecycle{
		registry: registry,
		tracker:  tracker,
		relay:    relay,
		logger:   logger.With(slog.String("component", "lifecycle")),
		conns:    make(map[string]time.Time),
	}
}

// OnConnect records a bare, not-yet-authenticated connection. No registry
// entry exists until the authenticate event arrives.
func (l *Lifecycle) OnConnect(connID string) {
	l.mu.Lock()
	l.conns[connID] = time.Now()
	l.mu.Unlock()
	l.logger.Info("connection opened", "connID", connID)
}

// OnDisconnect handles voluntary close and network drop identically. It is
// idempotent: a duplicate signal finds nothing left to clean up.
func (l *Lifecycle) OnDisconnect(connID string) {
	l.mu.Lock()
	connectedAt, known := l.conns[connID]
	delete(l.conns, connID)
	l.mu.Unlock()

	identity, authenticated := l.registry.Remove(connID)

	// Notify with the identities the tracker actually removed, not the
	// registry's current one: after a re-authentication the connection may
	// still hold stale memberships under its previous identity.
	for _, roomID := range l.tracker.RoomsOf(connID) {
		for _, member := range l.tracker.Leave(roomID, connID) {
			l.relay.notifyLeft(roomID, member)
		}
	}

	if !known {
		return
	}
	if authenticated {
		l.logger.Info("connection closed",
			"connID", connID, "userID", identity.ID,
			"duration", time.Since(connectedAt))
	} else {
		l.logger.Info("connection closed before authenticate", "connID", connID)
	}
}

// ActiveConnections returns the number of open connections, authenticated
// or not.
func (l *Lifecycle) ActiveConnections() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.conns)
}

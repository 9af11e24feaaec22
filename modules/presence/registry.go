package presence

import (
	"sync"

	domain "github.com/example/campus-presence/domain/presence"
)

// ConnRegistry is the single source of truth mapping a connection identifier
// to its authenticated identity. It also keeps the reverse index
// (identity -> live connections) that private-message fan-out and
// multi-device self-echo need.
//
// All methods are safe for concurrent use. None of them fail: an unknown
// connection is "not yet authenticated", not an error.
type ConnRegistry struct {
	mu         sync.RWMutex
	conns      map[string]domain.Identity
	byIdentity map[string]map[string]struct{} // identityID -> set of connIDs
}

// NewConnRegistry creates an empty registry.
func NewConnRegistry() *ConnRegistry {
	return &ConnRegistry{
		conns:      make(map[string]domain.Identity),
		byIdentity: make(map[string]map[string]struct{}),
	}
}

// Register stores the connection -> identity mapping. Re-authenticating the
// same connection overwrites its identity without touching room membership.
func (r *ConnRegistry) Register(connID string, identity domain.Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.conns[connID]; ok && prev.ID != identity.ID {
		r.detach(prev.ID, connID)
	}

	r.conns[connID] = identity
	if r.byIdentity[identity.ID] == nil {
		r.byIdentity[identity.ID] = make(map[string]struct{})
	}
	r.byIdentity[identity.ID][connID] = struct{}{}
}

// Lookup returns the identity a connection authenticated as.
func (r *ConnRegistry) Lookup(connID string) (domain.Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	identity, ok := r.conns[connID]
	return identity, ok
}

// Remove deletes the mapping and returns the prior identity for cleanup
// cascades. Removing a connection that never authenticated is a no-op.
func (r *ConnRegistry) Remove(connID string) (domain.Identity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	identity, ok := r.conns[connID]
	if !ok {
		return domain.Identity{}, false
	}
	delete(r.conns, connID)
	r.detach(identity.ID, connID)
	return identity, true
}

// ConnectionsOf returns every live connection authenticated as the given
// identity. Empty for identities with no live connections.
func (r *ConnRegistry) ConnectionsOf(identityID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.byIdentity[identityID]
	if !ok {
		return nil
	}
	connIDs := make([]string, 0, len(set))
	for connID := range set {
		connIDs = append(connIDs, connID)
	}
	return connIDs
}

// Count returns the number of authenticated connections.
func (r *ConnRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// detach removes a connection from an identity's set. Caller holds the lock.
func (r *ConnRegistry) detach(identityID, connID string) {
	if set, ok := r.byIdentity[identityID]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(r.byIdentity, identityID)
		}
	}
}

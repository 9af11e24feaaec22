package presence

import (
	"sync"

	domain "github.com/example/campus-presence/domain/presence"
)

// RoomTracker maintains, for each room, the live set of member identities
// keyed by reference-counted connections, plus the reverse index (which
// rooms a connection has joined) used for disconnect cleanup.
//
// Membership is a relation between a room and an identity, not a
// connection: an identity with two open devices is in the room once, and is
// removed only when its last connection leaves. The first/last-connection
// check-then-act runs under the tracker's lock, so concurrent joins and
// leaves on the same (room, identity) pair cannot double-fire presence
// notifications.
//
// Rooms exist implicitly from the first join and are dropped the moment
// their member set empties; empty rooms are never persisted.
type RoomTracker struct {
	mu    sync.Mutex
	rooms map[string]map[string]*member  // roomID -> identityID -> member
	conns map[string]map[string]struct{} // connID -> set of roomIDs
}

// member is one identity's presence inside a room.
type member struct {
	identity domain.Identity
	conns    map[string]struct{}
	typing   bool
}

// NewRoomTracker creates an empty tracker.
func NewRoomTracker() *RoomTracker {
	return &RoomTracker{
		rooms: make(map[string]map[string]*member),
		conns: make(map[string]map[string]struct{}),
	}
}

// Join adds the identity to the room's member set and records the
// (room, connection) pair in the reverse index. It reports whether this was
// the identity's first connection in the room, which gates the user_joined
// notification for multi-device users.
func (t *RoomTracker) Join(roomID, connID string, identity domain.Identity) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	room := t.rooms[roomID]
	if room == nil {
		room = make(map[string]*member)
		t.rooms[roomID] = room
	}

	m := room[identity.ID]
	first := m == nil
	if first {
		m = &member{
			identity: identity,
			conns:    make(map[string]struct{}),
		}
		room[identity.ID] = m
	}
	m.conns[connID] = struct{}{}

	if t.conns[connID] == nil {
		t.conns[connID] = make(map[string]struct{})
	}
	t.conns[connID][roomID] = struct{}{}

	return first
}

// Leave removes the (room, connection) pair. An identity leaves the room's
// member set only when none of its connections remain; the returned
// identities drive the user_left notifications. A connection normally sits
// inside a single member, but re-authentication under a new identity can
// leave it inside several, so the sweep covers every member holding it.
// Leaving a room the connection never joined is a silent no-op.
func (t *RoomTracker) Leave(roomID, connID string) []domain.Identity {
	t.mu.Lock()
	defer t.mu.Unlock()

	if set, ok := t.conns[connID]; ok {
		delete(set, roomID)
		if len(set) == 0 {
			delete(t.conns, connID)
		}
	}

	room, ok := t.rooms[roomID]
	if !ok {
		return nil
	}

	var removed []domain.Identity
	for identityID, m := range room {
		if _, ok := m.conns[connID]; !ok {
			continue
		}
		delete(m.conns, connID)
		if len(m.conns) == 0 {
			delete(room, identityID)
			removed = append(removed, m.identity)
		}
	}
	if len(room) == 0 {
		delete(t.rooms, roomID)
	}
	return removed
}

// MembersOf returns a snapshot of the identities currently in the room.
func (t *RoomTracker) MembersOf(roomID string) []domain.Identity {
	t.mu.Lock()
	defer t.mu.Unlock()

	room, ok := t.rooms[roomID]
	if !ok {
		return nil
	}
	members := make([]domain.Identity, 0, len(room))
	for _, m := range room {
		members = append(members, m.identity)
	}
	return members
}

// ConnectionsIn returns every connection of every member identity in the
// room. This is the fan-out set for new_message, including the sender's own
// devices for multi-device consistency.
func (t *RoomTracker) ConnectionsIn(roomID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connectionsIn(roomID, "")
}

// ConnectionsInExcept returns the room's fan-out set minus every connection
// of the excluded identity. Used for user_joined and user_typing, which are
// never echoed back to the originator's own devices.
func (t *RoomTracker) ConnectionsInExcept(roomID, identityID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connectionsIn(roomID, identityID)
}

func (t *RoomTracker) connectionsIn(roomID, excludeIdentity string) []string {
	room, ok := t.rooms[roomID]
	if !ok {
		return nil
	}
	var connIDs []string
	for identityID, m := range room {
		if identityID == excludeIdentity {
			continue
		}
		for connID := range m.conns {
			connIDs = append(connIDs, connID)
		}
	}
	return connIDs
}

// RoomsOf returns the rooms a connection has joined. Used exclusively by the
// lifecycle manager during disconnect cleanup.
func (t *RoomTracker) RoomsOf(connID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	set, ok := t.conns[connID]
	if !ok {
		return nil
	}
	roomIDs := make([]string, 0, len(set))
	for roomID := range set {
		roomIDs = append(roomIDs, roomID)
	}
	return roomIDs
}

// SetTyping records the ephemeral typing flag for an identity in a room.
// The flag lives only in working memory; expiry is owned by the sending
// client, not the server. Unknown room or non-member is a no-op.
func (t *RoomTracker) SetTyping(roomID, identityID string, typing bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if room, ok := t.rooms[roomID]; ok {
		if m, ok := room[identityID]; ok {
			m.typing = typing
		}
	}
}

// RoomCount returns the number of rooms with at least one member.
func (t *RoomTracker) RoomCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.rooms)
}

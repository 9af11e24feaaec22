package presence

import (
	"sort"
	"testing"

	domain "github.com/example/campus-presence/domain/presence"
)

func TestConnRegistry_RegisterAndLookup(t *testing.T) {
	r := NewConnRegistry()

	alice := domain.Identity{ID: "u1", Name: "Alice"}
	r.Register("c1", alice)

	got, ok := r.Lookup("c1")
	if !ok {
		t.Fatal("Lookup() returned false for registered connection")
	}
	if got.ID != "u1" || got.Name != "Alice" {
		t.Errorf("Lookup() = %+v, want %+v", got, alice)
	}

	if _, ok := r.Lookup("unknown"); ok {
		t.Error("Lookup() returned true for unknown connection")
	}
}

func TestConnRegistry_ReRegisterOverwrites(t *testing.T) {
	r := NewConnRegistry()

	r.Register("c1", domain.Identity{ID: "u1", Name: "Alice"})
	r.Register("c1", domain.Identity{ID: "u2", Name: "Bob"})

	got, ok := r.Lookup("c1")
	if !ok {
		t.Fatal("Lookup() returned false after re-register")
	}
	if got.ID != "u2" {
		t.Errorf("expected identity u2 after re-register, got %q", got.ID)
	}

	// The old identity must not keep a stale reverse-index entry.
	if conns := r.ConnectionsOf("u1"); len(conns) != 0 {
		t.Errorf("expected no connections for u1, got %v", conns)
	}
	if conns := r.ConnectionsOf("u2"); len(conns) != 1 || conns[0] != "c1" {
		t.Errorf("expected [c1] for u2, got %v", conns)
	}
}

func TestConnRegistry_MultiDevice(t *testing.T) {
	r := NewConnRegistry()

	alice := domain.Identity{ID: "u1", Name: "Alice"}
	r.Register("laptop", alice)
	r.Register("phone", alice)

	conns := r.ConnectionsOf("u1")
	sort.Strings(conns)
	if len(conns) != 2 || conns[0] != "laptop" || conns[1] != "phone" {
		t.Errorf("expected [laptop phone], got %v", conns)
	}
	if r.Count() != 2 {
		t.Errorf("Count() = %d, want 2", r.Count())
	}
}

func TestConnRegistry_Remove(t *testing.T) {
	r := NewConnRegistry()

	alice := domain.Identity{ID: "u1", Name: "Alice"}
	r.Register("laptop", alice)
	r.Register("phone", alice)

	t.Run("returns prior identity", func(t *testing.T) {
		got, ok := r.Remove("laptop")
		if !ok {
			t.Fatal("Remove() returned false for registered connection")
		}
		if got.ID != "u1" {
			t.Errorf("Remove() identity = %q, want u1", got.ID)
		}
	})

	t.Run("other device survives", func(t *testing.T) {
		conns := r.ConnectionsOf("u1")
		if len(conns) != 1 || conns[0] != "phone" {
			t.Errorf("expected [phone], got %v", conns)
		}
	})

	t.Run("last device empties reverse index", func(t *testing.T) {
		r.Remove("phone")
		if conns := r.ConnectionsOf("u1"); len(conns) != 0 {
			t.Errorf("expected no connections for u1, got %v", conns)
		}
	})

	t.Run("unknown connection is a no-op", func(t *testing.T) {
		if _, ok := r.Remove("never-registered"); ok {
			t.Error("Remove() returned true for unknown connection")
		}
	})
}

package wsapi

import "testing"

func TestRegistry_RegisterReplacesAndClosesPrior(t *testing.T) {
	r := NewRegistry()
	first := &Session{id: "s1"}
	second := &Session{id: "s2"}

	r.Register("wylding-woods", "u1", first)
	if got := r.Count(); got != 1 {
		t.Fatalf("Count() = %d, want 1", got)
	}

	// Replacing a still-INIT session is a safe no-op close path: state never
	// reaches CONNECTED/AUTH_OK so closeDueToReplacement has nothing to tear
	// down, but the registry must still swap the pointer.
	r.Register("wylding-woods", "u1", second)
	if got := r.Count(); got != 1 {
		t.Fatalf("Count() after replacement = %d, want 1", got)
	}
}

func TestRegistry_UnregisterIgnoresStaleSession(t *testing.T) {
	r := NewRegistry()
	first := &Session{id: "s1"}
	second := &Session{id: "s2"}

	r.Register("wylding-woods", "u1", first)
	r.Register("wylding-woods", "u1", second)

	// first was already superseded; unregistering it must not evict second.
	r.Unregister("wylding-woods", "u1", first)
	if got := r.Count(); got != 1 {
		t.Fatalf("Count() after stale Unregister = %d, want 1", got)
	}

	r.Unregister("wylding-woods", "u1", second)
	if got := r.Count(); got != 0 {
		t.Fatalf("Count() after real Unregister = %d, want 0", got)
	}
}

func TestRegistry_DistinctUsersDoNotCollide(t *testing.T) {
	r := NewRegistry()
	r.Register("wylding-woods", "u1", &Session{id: "s1"})
	r.Register("wylding-woods", "u2", &Session{id: "s2"})
	r.Register("another-experience", "u1", &Session{id: "s3"})

	if got := r.Count(); got != 3 {
		t.Fatalf("Count() = %d, want 3", got)
	}
}

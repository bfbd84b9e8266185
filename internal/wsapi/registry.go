package wsapi

import "sync"

// Registry is the connection registry (§5: "a small in-process map guarded
// by a mutex; operations are O(1)"). It enforces the single-session-per-user
// policy: registering a user that already has a connection closes the prior
// one first.
type Registry struct {
	mu    sync.Mutex
	byKey map[string]*Session
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byKey: make(map[string]*Session)}
}

func registryKey(experienceID, userID string) string {
	return experienceID + "\x00" + userID
}

// Register records sess under (experienceID, userID). If a prior session is
// already registered for that key, sess replaces it in the map and the prior
// session is then closed before Register returns, so before sess starts
// serving (§4.7 step 2: "If the user had a prior connection, close the prior
// connection first").
func (r *Registry) Register(experienceID, userID string, sess *Session) {
	r.mu.Lock()
	key := registryKey(experienceID, userID)
	prior := r.byKey[key]
	r.byKey[key] = sess
	r.mu.Unlock()

	if prior != nil {
		prior.closeDueToReplacement()
	}
}

// Unregister removes sess from the registry, but only if it is still the
// session on record for that key — prevents a stale Unregister call from a
// session that was already superseded from evicting its replacement.
func (r *Registry) Unregister(experienceID, userID string, sess *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := registryKey(experienceID, userID)
	if r.byKey[key] == sess {
		delete(r.byKey, key)
	}
}

// Count reports the number of currently registered connections.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byKey)
}

package server

import "sync"

// Handle is the registry's view of one live, authenticated connection.
type Handle interface {
	// ID distinguishes connection instances so a replaced connection tearing
	// down late cannot evict its replacement.
	ID() string
	// Push writes one frame line to the peer. Best effort: false on failure.
	Push(line string) bool
	// Close shuts the connection down and runs its disconnect path once.
	Close()
}

// Registry is the concurrency-safe directory of authenticated connections.
// At most one live entry exists per user id.
type Registry struct {
	mu    sync.RWMutex
	conns map[int64]Handle
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[int64]Handle)}
}

// Register inserts a handle for a user, replacing any prior one. The replaced
// handle is closed, so a user can never appear twice.
func (r *Registry) Register(userID int64, h Handle) {
	r.mu.Lock()
	prev := r.conns[userID]
	r.conns[userID] = h
	r.mu.Unlock()

	// Close outside the lock: the old handle's disconnect path calls back
	// into Unregister.
	if prev != nil && prev.ID() != h.ID() {
		prev.Close()
	}
}

// Unregister removes the entry for userID if h is still the registered handle.
// Returns true when the entry was removed.
func (r *Registry) Unregister(userID int64, h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.conns[userID]
	if !ok || current.ID() != h.ID() {
		return false
	}
	delete(r.conns, userID)
	return true
}

// RouteTo pushes a frame to the user's connection if one is registered.
// Returns false, not an error, when the user is offline.
func (r *Registry) RouteTo(userID int64, line string) bool {
	r.mu.RLock()
	h, ok := r.conns[userID]
	r.mu.RUnlock()

	if !ok {
		return false
	}
	return h.Push(line)
}

// BroadcastExcept pushes a frame to every registered connection other than the
// sender's own.
func (r *Registry) BroadcastExcept(senderID int64, line string) {
	r.mu.RLock()
	handles := make([]Handle, 0, len(r.conns))
	for userID, h := range r.conns {
		if userID != senderID {
			handles = append(handles, h)
		}
	}
	r.mu.RUnlock()

	for _, h := range handles {
		h.Push(line)
	}
}

// CloseAll closes every registered connection. Used on server shutdown; each
// connection unregisters itself through its disconnect path.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	handles := make([]Handle, 0, len(r.conns))
	for _, h := range r.conns {
		handles = append(handles, h)
	}
	r.mu.RUnlock()

	for _, h := range handles {
		h.Close()
	}
}

// Registered reports whether a connection is registered for userID.
func (r *Registry) Registered(userID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[userID]
	return ok
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// UserIDs returns the ids of all registered users.
func (r *Registry) UserIDs() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]int64, 0, len(r.conns))
	for userID := range r.conns {
		ids = append(ids, userID)
	}
	return ids
}

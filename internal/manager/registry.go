package manager

import (
	"fmt"
	"sort"
	"sync"
)

// registry holds the live sessions keyed by instance id.
type registry struct {
	mu       sync.RWMutex
	sessions map[int64]*Session
}

func newRegistry() *registry {
	return &registry{sessions: make(map[int64]*Session)}
}

// Put inserts s if no session is registered for id.
func (r *registry) Put(id int64, s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; ok {
		return fmt.Errorf("%w: %d", ErrAlreadyExists, id)
	}
	r.sessions[id] = s
	return nil
}

func (r *registry) Get(id int64) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return s, nil
}

func (r *registry) Has(id int64) bool {
	r.mu.RLock()
	_, ok := r.sessions[id]
	r.mu.RUnlock()
	return ok
}

// Holds reports whether s is the registered session for s.ID.
func (r *registry) Holds(s *Session) bool {
	r.mu.RLock()
	cur, ok := r.sessions[s.ID]
	r.mu.RUnlock()
	return ok && cur == s
}

// Remove deletes the entry for id and returns it. Absent ids are a no-op.
func (r *registry) Remove(id int64) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	return s, ok
}

// RemoveSession deletes the entry for s.ID only while it still points at s.
func (r *registry) RemoveSession(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[s.ID]; ok && cur == s {
		delete(r.sessions, s.ID)
		return true
	}
	return false
}

// List returns a snapshot ordered by id.
func (r *registry) List() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

package bridge

import (
	"errors"
	"sync"
	"time"
)

var (
	ErrAlreadyExists   = errors.New("bridge: session already exists")
	ErrSessionNotFound = errors.New("bridge: session not found")
)

// Registry is the concurrent keyed store of live call sessions. It is the
// only structure shared across session goroutines and HTTP-triggered
// reads; every operation is atomic with respect to create/remove/list.
//
// An instance is injected into the Controller rather than held as a
// process-wide singleton so tests can run independent bridges.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	clock    func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session), clock: time.Now}
}

// Create registers a new session for callID. A live (non-Closed) session
// under the same id is rejected; a stale Closed entry is replaced.
func (r *Registry) Create(callID string, metadata map[string]string) (*Session, error) {
	if callID == "" {
		return nil, errors.New("bridge: call id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.sessions[callID]; ok && existing.State() != StateClosed {
		return nil, ErrAlreadyExists
	}
	s := newSession(callID, metadata, r.clock().UTC())
	r.sessions[callID] = s
	return s, nil
}

func (r *Registry) Get(callID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[callID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// List returns point-in-time snapshots, never live sessions.
func (r *Registry) List() []Snapshot {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	out := make([]Snapshot, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Snapshot())
	}
	return out
}

// Remove drops the entry for callID only while s is still the
// registered session. Teardown of a Closed session can race Create
// replacing that slot; a plain delete would take the replacement with it.
func (r *Registry) Remove(callID string, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[callID] == s {
		delete(r.sessions, callID)
	}
}

// Len reports the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

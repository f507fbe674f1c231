package cache

import (
	"context"
	"sync"

	"github.com/devpulse-io/devpulse/pkg/track"
)

// MemoryStore is a process-local session cache. It is the fallback when
// no Redis backend is configured and the default for tests. State is
// lost on restart.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]track.Session
	closed   bool
}

// NewMemoryStore creates an empty in-memory session cache.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string][]track.Session),
	}
}

// Save stores a copy of the user's session set.
func (m *MemoryStore) Save(ctx context.Context, userID string, sessions []track.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed{}
	}

	m.sessions[userID] = track.CloneAll(sessions)
	return nil
}

// Load returns a copy of the user's session set, or false if none is
// stored.
func (m *MemoryStore) Load(ctx context.Context, userID string) ([]track.Session, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, false, ErrStoreClosed{}
	}

	sessions, ok := m.sessions[userID]
	if !ok {
		return nil, false, nil
	}
	return track.CloneAll(sessions), true, nil
}

// LoadAll returns a copy of every stored session set.
func (m *MemoryStore) LoadAll(ctx context.Context) (map[string][]track.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed{}
	}

	out := make(map[string][]track.Session, len(m.sessions))
	for userID, sessions := range m.sessions {
		out[userID] = track.CloneAll(sessions)
	}
	return out, nil
}

// Delete removes the user's session set.
func (m *MemoryStore) Delete(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed{}
	}

	delete(m.sessions, userID)
	return nil
}

// Close marks the store closed and drops its contents.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	m.sessions = nil
	return nil
}

// Count returns the number of stored user entries. For monitoring and
// tests.
func (m *MemoryStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

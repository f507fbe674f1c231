// Package cache provides the persistence gateway for per-user session
// sets: a storage-agnostic Store interface with in-memory and Redis
// backends, a debounced-write decorator, and a startup selector that
// falls back to memory when Redis is not reachable.
//
// The gateway never owns session state. It receives point-in-time copies
// to persist and supplies copies back only during startup hydration.
package cache

import (
	"context"
	"time"

	"github.com/devpulse-io/devpulse/pkg/track"
)

// Store is the persistence interface for per-user session sets.
// Implementations must be safe for concurrent use.
type Store interface {
	// Save persists the full session set for a user, replacing any
	// previous set.
	Save(ctx context.Context, userID string, sessions []track.Session) error

	// Load retrieves a user's session set. The bool is false when the
	// user has no stored set; that is not an error.
	Load(ctx context.Context, userID string) ([]track.Session, bool, error)

	// LoadAll retrieves every stored session set, keyed by user id.
	// Used once at process start to hydrate the in-memory store.
	LoadAll(ctx context.Context) (map[string][]track.Session, error)

	// Delete removes a user's session set. Deleting an absent set is
	// not an error.
	Delete(ctx context.Context, userID string) error

	// Close releases backend resources.
	Close() error
}

// ErrStoreClosed is returned when operations are attempted on a closed
// store.
type ErrStoreClosed struct{}

func (e ErrStoreClosed) Error() string {
	return "session cache is closed"
}

// DefaultTTL is how long a persisted session set lives in the remote
// backend without being refreshed.
const DefaultTTL = 24 * time.Hour

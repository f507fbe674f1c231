package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/devpulse-io/devpulse/pkg/track"
)

// DefaultDebounceWindow is the coalescing window for writes to the
// underlying store.
const DefaultDebounceWindow = 2 * time.Second

// Debounced wraps a Store and coalesces Save calls per user: a pending
// write timer is reset on every new Save within the window, and only the
// last snapshot in the window reaches the underlying store. At most one
// underlying write happens per window per user regardless of how many
// handler-triggered persists occurred.
//
// Underlying write failures are logged and swallowed; the triggering
// handler has already returned by the time the write fires.
type Debounced struct {
	inner  Store
	window time.Duration
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingWrite
	closed  bool
}

type pendingWrite struct {
	timer    *time.Timer
	sessions []track.Session
}

// NewDebounced wraps inner with a per-user debounced write path. Reads
// and deletes pass through unchanged.
func NewDebounced(inner Store, window time.Duration, logger *slog.Logger) *Debounced {
	if window <= 0 {
		window = DefaultDebounceWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Debounced{
		inner:   inner,
		window:  window,
		logger:  logger.With("component", "cache_debounce"),
		pending: make(map[string]*pendingWrite),
	}
}

// Save schedules a write of the given snapshot. A pending timer for the
// same user is canceled and replaced, never stacked.
func (d *Debounced) Save(ctx context.Context, userID string, sessions []track.Session) error {
	snapshot := track.CloneAll(sessions)

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrStoreClosed{}
	}

	if p, ok := d.pending[userID]; ok {
		p.timer.Stop()
		p.sessions = snapshot
		p.timer.Reset(d.window)
		return nil
	}

	p := &pendingWrite{sessions: snapshot}
	p.timer = time.AfterFunc(d.window, func() {
		d.fire(userID)
	})
	d.pending[userID] = p
	return nil
}

// fire commits the pending snapshot for a user. The write uses a fresh
// context: the handler that triggered it is long gone.
func (d *Debounced) fire(userID string) {
	d.mu.Lock()
	p, ok := d.pending[userID]
	if !ok {
		d.mu.Unlock()
		return
	}
	delete(d.pending, userID)
	sessions := p.sessions
	d.mu.Unlock()

	if err := d.inner.Save(context.Background(), userID, sessions); err != nil {
		d.logger.Warn("debounced write failed",
			"user_id", userID,
			"sessions", len(sessions),
			"error", err)
	}
}

// Load passes through to the underlying store.
func (d *Debounced) Load(ctx context.Context, userID string) ([]track.Session, bool, error) {
	return d.inner.Load(ctx, userID)
}

// LoadAll passes through to the underlying store.
func (d *Debounced) LoadAll(ctx context.Context) (map[string][]track.Session, error) {
	return d.inner.LoadAll(ctx)
}

// Delete cancels any pending write for the user, then deletes from the
// underlying store. Without the cancel, a stale pending snapshot could
// resurrect the set after deletion.
func (d *Debounced) Delete(ctx context.Context, userID string) error {
	d.mu.Lock()
	if p, ok := d.pending[userID]; ok {
		p.timer.Stop()
		delete(d.pending, userID)
	}
	closed := d.closed
	d.mu.Unlock()

	if closed {
		return ErrStoreClosed{}
	}
	return d.inner.Delete(ctx, userID)
}

// Flush synchronously commits every pending write. Called during
// graceful shutdown so coalesced state is not lost.
func (d *Debounced) Flush(ctx context.Context) {
	d.mu.Lock()
	writes := make(map[string][]track.Session, len(d.pending))
	for userID, p := range d.pending {
		p.timer.Stop()
		writes[userID] = p.sessions
	}
	d.pending = make(map[string]*pendingWrite)
	d.mu.Unlock()

	for userID, sessions := range writes {
		if err := d.inner.Save(ctx, userID, sessions); err != nil {
			d.logger.Warn("flush write failed",
				"user_id", userID,
				"error", err)
		}
	}
}

// Close flushes pending writes and closes the underlying store.
func (d *Debounced) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	d.Flush(context.Background())
	return d.inner.Close()
}

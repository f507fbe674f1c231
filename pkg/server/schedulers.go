package server

import (
	"context"
	"time"

	"github.com/devpulse-io/devpulse/pkg/protocol"
	"github.com/devpulse-io/devpulse/pkg/track"
)

// Default scheduler intervals.
const (
	DefaultTickInterval  = 1 * time.Second
	DefaultPurgeInterval = 60 * time.Second
	DefaultPurgeAfter    = 12 * time.Hour
)

// RunTick broadcasts elapsed-time deltas at a fixed interval until the
// context is canceled. Only users in the running-users set are visited,
// which bounds the per-tick work.
func (h *Hub) RunTick(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.tickOnce(h.now())
		case <-ctx.Done():
			return
		}
	}
}

// tickOnce sends one round of compact tick frames. Users whose session
// maps emptied since the last membership recompute are dropped from the
// running-users set here.
func (h *Hub) tickOnce(now time.Time) {
	for _, userID := range h.runningUsers() {
		us := h.user(userID)

		us.mu.Lock()
		if len(us.sessions) == 0 {
			h.updateRunningLocked(userID, us)
			us.mu.Unlock()
			continue
		}
		entries := make([]protocol.TickEntry, 0, len(us.sessions))
		for _, s := range us.sessions {
			if !s.Running {
				continue
			}
			entries = append(entries, protocol.TickEntry{
				SessionID: s.ID,
				ElapsedMs: s.ElapsedMs(now),
				Running:   true,
			})
		}
		us.mu.Unlock()

		if len(entries) > 0 {
			h.broadcast(us, protocol.Tick(entries))
		}
	}
}

// RunPurge evicts abandoned sessions at a fixed interval until the
// context is canceled.
func (h *Hub) RunPurge(ctx context.Context, interval, maxPaused time.Duration) {
	if interval <= 0 {
		interval = DefaultPurgeInterval
	}
	if maxPaused <= 0 {
		maxPaused = DefaultPurgeAfter
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.purgeOnce(h.now(), maxPaused)
		case <-ctx.Done():
			return
		}
	}
}

// purgeOnce scans every user's session map and evicts sessions left
// paused longer than maxPaused. A changed user gets one persist and one
// running-users recompute, not one per evicted session.
func (h *Hub) purgeOnce(now time.Time, maxPaused time.Duration) {
	h.mu.RLock()
	users := make(map[string]*userState, len(h.users))
	for userID, us := range h.users {
		users[userID] = us
	}
	h.mu.RUnlock()

	for userID, us := range users {
		us.mu.Lock()
		var evicted []string
		for id, s := range us.sessions {
			if s.Running || s.EndedAt != nil || s.PausedAt == nil {
				continue
			}
			if now.Sub(*s.PausedAt) > maxPaused {
				evicted = append(evicted, id)
			}
		}
		for _, id := range evicted {
			delete(us.sessions, id)
		}
		var set []track.Session
		if len(evicted) > 0 {
			set = snapshotLocked(us)
			h.updateRunningLocked(userID, us)
		}
		us.mu.Unlock()

		if len(evicted) > 0 {
			h.metrics.sessionsPurged.Add(float64(len(evicted)))
			h.logger.Info("purged abandoned sessions",
				"user_id", userID,
				"count", len(evicted))
			h.persist(context.Background(), userID, set)
		}
	}
}

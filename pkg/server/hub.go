// Package server implements the real-time session-synchronization
// engine: the authoritative in-memory session registry, the per-user
// connection fanout, the message-driven state machine, and the tick and
// purge background loops, exposed over WebSocket with an HTTP
// operational surface.
package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/devpulse-io/devpulse/pkg/cache"
	"github.com/devpulse-io/devpulse/pkg/track"
)

// userState holds everything the engine tracks for one user: the
// authoritative session map and the set of live connections. The mutex
// serializes all mutation for the user, reproducing single-writer-per-
// user semantics: no two handlers ever interleave on the same user's
// map.
type userState struct {
	mu       sync.Mutex
	sessions map[string]*track.Session
	conns    map[*Conn]struct{}
}

// Hub is the server context: session store, connection registry,
// running-users set and the cache gateway, constructed once at startup
// and passed into every handler and scheduler.
type Hub struct {
	cache   cache.Store
	logger  *slog.Logger
	metrics *metrics
	tracer  trace.Tracer

	now   func() time.Time
	newID func() string

	mu      sync.RWMutex
	users   map[string]*userState
	running map[string]struct{}
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithClock overrides the time source. For tests.
func WithClock(now func() time.Time) HubOption {
	return func(h *Hub) {
		h.now = now
	}
}

// WithIDGenerator overrides session id generation. For tests.
func WithIDGenerator(gen func() string) HubOption {
	return func(h *Hub) {
		h.newID = gen
	}
}

// NewHub creates the server context. Metrics are registered on reg;
// pass a fresh registry in tests to avoid duplicate registration.
func NewHub(store cache.Store, reg prometheus.Registerer, logger *slog.Logger, opts ...HubOption) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		cache:   store,
		logger:  logger.With("component", "hub"),
		tracer:  otel.Tracer("devpulse"),
		now:     time.Now,
		newID:   uuid.NewString,
		users:   make(map[string]*userState),
		running: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.metrics = newMetrics(reg, h)
	return h
}

// user returns the state for a user, lazily creating the session map
// and connection set on first contact. Idempotent; every handler and
// the connection lifecycle go through here before touching either map.
func (h *Hub) user(userID string) *userState {
	h.mu.RLock()
	us, ok := h.users[userID]
	h.mu.RUnlock()
	if ok {
		return us
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if us, ok := h.users[userID]; ok {
		return us
	}
	us = &userState{
		sessions: make(map[string]*track.Session),
		conns:    make(map[*Conn]struct{}),
	}
	h.users[userID] = us
	return us
}

// Register adds a live connection to its user's registry.
func (h *Hub) Register(c *Conn) {
	us := h.user(c.userID)
	us.mu.Lock()
	us.conns[c] = struct{}{}
	us.mu.Unlock()

	h.metrics.connectionsActive.Inc()
	h.logger.Info("connection registered", "user_id", c.userID)
}

// Unregister removes a connection. The user's sessions keep mutating
// even with zero devices listening.
func (h *Hub) Unregister(c *Conn) {
	us := h.user(c.userID)
	us.mu.Lock()
	_, ok := us.conns[c]
	delete(us.conns, c)
	us.mu.Unlock()

	if ok {
		h.metrics.connectionsActive.Dec()
		h.logger.Info("connection unregistered", "user_id", c.userID)
	}
}

// Snapshot returns a deep copy of a user's current sessions.
func (h *Hub) Snapshot(userID string) []track.Session {
	us := h.user(userID)
	us.mu.Lock()
	defer us.mu.Unlock()
	return snapshotLocked(us)
}

// snapshotLocked copies the session set while us.mu is held.
func snapshotLocked(us *userState) []track.Session {
	out := make([]track.Session, 0, len(us.sessions))
	for _, s := range us.sessions {
		out = append(out, s.Clone())
	}
	return out
}

// updateRunningLocked recomputes the user's membership in the
// running-users set. Called with us.mu held so the decision reflects
// the mutation that triggered it; hub.mu nests inside us.mu here and
// nowhere is the reverse order taken.
func (h *Hub) updateRunningLocked(userID string, us *userState) {
	hasRunning := false
	for _, s := range us.sessions {
		if s.Running {
			hasRunning = true
			break
		}
	}

	h.mu.Lock()
	if hasRunning {
		h.running[userID] = struct{}{}
	} else {
		delete(h.running, userID)
	}
	h.mu.Unlock()
}

// runningUsers snapshots the running-users set.
func (h *Hub) runningUsers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.running))
	for userID := range h.running {
		out = append(out, userID)
	}
	return out
}

// isRunningUser reports running-users membership. For tests.
func (h *Hub) isRunningUser(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.running[userID]
	return ok
}

// persist hands a point-in-time snapshot to the cache gateway. The
// gateway debounces; failures are logged and never reach the handler's
// caller.
func (h *Hub) persist(ctx context.Context, userID string, sessions []track.Session) {
	if err := h.cache.Save(ctx, userID, sessions); err != nil {
		h.metrics.persistFailures.Inc()
		h.logger.Warn("persist failed", "user_id", userID, "error", err)
	}
}

// Hydrate seeds the session store from the cache gateway. Called once
// at process start, before any connection is accepted.
func (h *Hub) Hydrate(ctx context.Context) error {
	all, err := h.cache.LoadAll(ctx)
	if err != nil {
		return err
	}

	var total int
	for userID, sessions := range all {
		us := h.user(userID)
		us.mu.Lock()
		for i := range sessions {
			s := sessions[i]
			if s.Removed {
				continue
			}
			s.UserID = userID
			us.sessions[s.ID] = &s
		}
		h.updateRunningLocked(userID, us)
		us.mu.Unlock()
		total += len(sessions)
	}

	if total > 0 {
		h.logger.Info("hydrated sessions from cache",
			"users", len(all),
			"sessions", total)
	}
	return nil
}

// Counts returns the total tracked session count and the number of
// users with at least one live connection. Used by the health endpoint
// and the metrics gauges.
func (h *Hub) Counts() (sessions, connectedUsers int) {
	h.mu.RLock()
	states := make([]*userState, 0, len(h.users))
	for _, us := range h.users {
		states = append(states, us)
	}
	h.mu.RUnlock()

	for _, us := range states {
		us.mu.Lock()
		sessions += len(us.sessions)
		if len(us.conns) > 0 {
			connectedUsers++
		}
		us.mu.Unlock()
	}
	return sessions, connectedUsers
}

// Shutdown closes every live connection and flushes the cache gateway.
// Pending debounced writes are committed before the store closes.
func (h *Hub) Shutdown(ctx context.Context) {
	h.mu.RLock()
	states := make([]*userState, 0, len(h.users))
	for _, us := range h.users {
		states = append(states, us)
	}
	h.mu.RUnlock()

	for _, us := range states {
		us.mu.Lock()
		conns := make([]*Conn, 0, len(us.conns))
		for c := range us.conns {
			conns = append(conns, c)
		}
		us.conns = make(map[*Conn]struct{})
		us.mu.Unlock()

		if len(conns) > 0 {
			h.metrics.connectionsActive.Sub(float64(len(conns)))
		}
		for _, c := range conns {
			c.close(websocket.CloseGoingAway, "server shutting down")
		}
	}

	if d, ok := h.cache.(*cache.Debounced); ok {
		d.Flush(ctx)
	}
	if err := h.cache.Close(); err != nil {
		h.logger.Warn("cache close failed", "error", err)
	}
	h.logger.Info("hub shut down")
}

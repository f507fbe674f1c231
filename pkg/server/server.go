package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/devpulse-io/devpulse/pkg/auth"
	"github.com/devpulse-io/devpulse/pkg/protocol"
)

// maxMessageSize bounds inbound client messages.
const maxMessageSize = 64 * 1024

// Server exposes the Hub over HTTP: the WebSocket endpoint, a liveness
// endpoint and Prometheus metrics.
type Server struct {
	addr     string
	hub      *Hub
	verifier auth.IdentityVerifier
	upgrader websocket.Upgrader
	logger   *slog.Logger

	httpServer *http.Server
}

// New creates a Server wired to the given hub and identity verifier.
func New(addr string, hub *Hub, verifier auth.IdentityVerifier, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:     addr,
		hub:      hub,
		verifier: verifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		logger: logger.With("component", "server"),
	}
}

// Routes builds the HTTP router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)

	r.Get("/ws", s.handleWS)
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// Run serves until the context is canceled, then shuts down gracefully:
// the listener stops, live connections get a going-away close, and
// pending debounced writes are flushed.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http shutdown error", "error", err)
	}
	s.hub.Shutdown(shutdownCtx)
	return nil
}

// bearerToken extracts the client credential from the handshake:
// Authorization header first, then the token query parameter (browser
// WebSocket clients can't set headers).
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return token
		}
	}
	return r.URL.Query().Get("token")
}

// handleWS upgrades the connection, verifies the bearer credential, and
// on success registers the connection, sends the ready snapshot and
// starts the read loop. Verification failure closes the socket with the
// unauthorized close code and performs no further work.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	userID, err := s.verifier.Verify(r.Context(), token)
	if err != nil {
		s.logger.Info("connection rejected", "error", err)
		msg := websocket.FormatCloseMessage(protocol.CloseUnauthorized, "unauthorized")
		ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		ws.Close()
		return
	}

	c := newConn(ws, userID)
	s.hub.Register(c)

	if err := c.sendFrame(protocol.Ready(s.hub.Snapshot(userID))); err != nil {
		s.logger.Warn("ready frame send failed", "user_id", userID, "error", err)
		s.hub.Unregister(c)
		c.close(websocket.CloseInternalServerErr, "send failed")
		return
	}

	go s.readLoop(ws, c, userID)
}

// readLoop consumes inbound messages until the connection closes.
// Messages from a single connection are processed in arrival order.
func (s *Server) readLoop(ws *websocket.Conn, c *Conn, userID string) {
	defer func() {
		s.hub.Unregister(c)
		c.close(websocket.CloseNormalClosure, "")
	}()

	ws.SetReadLimit(maxMessageSize)

	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				s.logger.Warn("read error", "user_id", userID, "error", err)
			}
			return
		}
		s.hub.HandleMessage(context.Background(), c, userID, msg)
	}
}

// handleHealth reports liveness with the tracked session and connected
// user counts.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	sessions, users := s.hub.Counts()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{
		"status":   "ok",
		"sessions": sessions,
		"users":    users,
	}); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Debug("health encode failed", "error", err)
	}
}

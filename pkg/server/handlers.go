package server

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/devpulse-io/devpulse/pkg/protocol"
	"github.com/devpulse-io/devpulse/pkg/track"
)

// HandleMessage routes one inbound message. Malformed messages are
// dropped silently; a panicking handler is reported back to the
// originating connection only, and never stops processing for other
// messages or users.
func (h *Hub) HandleMessage(ctx context.Context, origin *Conn, userID string, data []byte) {
	env, err := protocol.ParseEnvelope(data)
	if err != nil {
		h.metrics.messagesDropped.Inc()
		h.logger.Debug("dropped malformed message", "user_id", userID, "error", err)
		return
	}

	ctx, span := h.tracer.Start(ctx, "message "+string(env.Type), trace.WithAttributes(
		attribute.String("message.type", string(env.Type)),
		attribute.String("user.id", userID),
	))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			h.metrics.handlerErrors.Inc()
			span.RecordError(fmt.Errorf("handler panic: %v", r))
			span.SetStatus(codes.Error, "handler panic")
			h.logger.Error("handler panic",
				"type", env.Type,
				"user_id", userID,
				"panic", r,
				"stack", string(debug.Stack()))
			if origin != nil {
				origin.sendFrame(protocol.Error("handler_error", fmt.Sprintf("%v", r)))
			}
		}
	}()

	h.metrics.messagesTotal.WithLabelValues(string(env.Type)).Inc()

	var ok bool
	switch env.Type {
	case protocol.KindSessionStart:
		ok = h.handleStart(ctx, userID, env.Payload)
	case protocol.KindSessionStop:
		ok = h.handleStop(ctx, userID, env.Payload)
	case protocol.KindSessionPause:
		ok = h.handlePause(ctx, userID, env.Payload)
	case protocol.KindSessionResume:
		ok = h.handleResume(ctx, userID, env.Payload)
	case protocol.KindSessionRemove:
		ok = h.handleRemove(ctx, userID, env.Payload)
	case protocol.KindSessionAttach:
		ok = h.handleAttach(ctx, userID, env.Payload)
	case protocol.KindSessionDetach:
		ok = h.handleDetach(ctx, userID, env.Payload)
	}

	if !ok {
		h.metrics.messagesDropped.Inc()
		h.logger.Debug("dropped message with invalid payload",
			"type", env.Type,
			"user_id", userID)
	}
}

// handleStart creates a fresh running session. Label is required; the
// session id is generated when the client doesn't supply one.
func (h *Hub) handleStart(ctx context.Context, userID string, payload json.RawMessage) bool {
	var p protocol.StartPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.Label == "" {
		return false
	}

	id := p.SessionID
	if id == "" {
		id = "session-" + h.newID()
	}

	us := h.user(userID)
	us.mu.Lock()
	s := track.New(id, userID, p.Label, h.now())
	s.Comment = p.Comment
	s.GroupID = p.GroupID
	s.GroupName = p.GroupName
	if len(p.Goals) > 0 {
		s.Goals = p.Goals
	}
	us.sessions[id] = s
	update := s.Clone()
	set := snapshotLocked(us)
	h.updateRunningLocked(userID, us)
	us.mu.Unlock()

	h.broadcast(us, protocol.SessionUpdate(update))
	h.persist(ctx, userID, set)
	return true
}

// handleStop closes a session: running time folds into accumulated,
// endedAt is set. A missing session id is a no-op, not an error.
func (h *Hub) handleStop(ctx context.Context, userID string, payload json.RawMessage) bool {
	return h.transition(ctx, userID, payload, func(s *track.Session) {
		s.Stop(h.now())
	})
}

// handlePause freezes a session's accumulated time and records the
// pause instant.
func (h *Hub) handlePause(ctx context.Context, userID string, payload json.RawMessage) bool {
	return h.transition(ctx, userID, payload, func(s *track.Session) {
		s.Pause(h.now())
	})
}

// handleResume restarts a paused or stopped session at the current
// instant, carrying accumulated time forward.
func (h *Hub) handleResume(ctx context.Context, userID string, payload json.RawMessage) bool {
	return h.transition(ctx, userID, payload, func(s *track.Session) {
		s.Resume(h.now())
	})
}

// transition applies an in-place mutation to a referenced session, then
// broadcasts the new state, persists the set, and recomputes the
// running-users membership. A session id not present in the map is a
// silent no-op.
func (h *Hub) transition(ctx context.Context, userID string, payload json.RawMessage, apply func(*track.Session)) bool {
	var p protocol.SessionRef
	if err := json.Unmarshal(payload, &p); err != nil || p.SessionID == "" {
		return false
	}

	us := h.user(userID)
	us.mu.Lock()
	s, ok := us.sessions[p.SessionID]
	if !ok {
		us.mu.Unlock()
		return true
	}
	apply(s)
	update := s.Clone()
	set := snapshotLocked(us)
	h.updateRunningLocked(userID, us)
	us.mu.Unlock()

	h.broadcast(us, protocol.SessionUpdate(update))
	h.persist(ctx, userID, set)
	return true
}

// handleRemove deletes the session from the map and broadcasts a
// tombstone. Removing a non-existent id does nothing: no tombstone, no
// persist.
func (h *Hub) handleRemove(ctx context.Context, userID string, payload json.RawMessage) bool {
	var p protocol.SessionRef
	if err := json.Unmarshal(payload, &p); err != nil || p.SessionID == "" {
		return false
	}

	us := h.user(userID)
	us.mu.Lock()
	if _, ok := us.sessions[p.SessionID]; !ok {
		us.mu.Unlock()
		return true
	}
	delete(us.sessions, p.SessionID)
	set := snapshotLocked(us)
	h.updateRunningLocked(userID, us)
	us.mu.Unlock()

	h.broadcast(us, protocol.Removal(p.SessionID))
	h.persist(ctx, userID, set)
	return true
}

// handleAttach appends a goal to the session unless one with the same
// id is already attached.
func (h *Hub) handleAttach(ctx context.Context, userID string, payload json.RawMessage) bool {
	var p protocol.AttachPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.SessionID == "" || p.Goal.ID == "" {
		return false
	}

	return h.transition(ctx, userID, mustRef(p.SessionID), func(s *track.Session) {
		s.AttachGoal(p.Goal)
	})
}

// handleDetach removes the goal with the given id, if attached.
func (h *Hub) handleDetach(ctx context.Context, userID string, payload json.RawMessage) bool {
	var p protocol.DetachPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.SessionID == "" || p.GoalID == "" {
		return false
	}

	return h.transition(ctx, userID, mustRef(p.SessionID), func(s *track.Session) {
		s.DetachGoal(p.GoalID)
	})
}

// mustRef re-encodes a session reference for the shared transition
// path.
func mustRef(sessionID string) json.RawMessage {
	data, _ := json.Marshal(protocol.SessionRef{SessionID: sessionID})
	return data
}

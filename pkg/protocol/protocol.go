// Package protocol defines the JSON wire protocol between clients and the
// sync server: the inbound message envelope, the closed set of message
// kinds, and the outbound frames (ready, session-update, tick, error).
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/devpulse-io/devpulse/pkg/track"
)

// MessageKind identifies an inbound client message. The set is closed;
// the router switches exhaustively over these values.
type MessageKind string

const (
	KindSessionStart  MessageKind = "session-start"
	KindSessionStop   MessageKind = "session-stop"
	KindSessionPause  MessageKind = "session-pause"
	KindSessionResume MessageKind = "session-resume"
	KindSessionRemove MessageKind = "session-remove"
	KindSessionAttach MessageKind = "session-attach"
	KindSessionDetach MessageKind = "session-detach"
)

// Outbound frame types.
const (
	TypeReady         = "ready"
	TypeSessionUpdate = "session-update"
	TypeTick          = "tick"
	TypeError         = "error"
)

// CloseUnauthorized is the WebSocket close code sent when the handshake
// credential fails verification. Application close codes live in the
// 4000-4999 range.
const CloseUnauthorized = 4401

// ErrMalformed is returned when an inbound message fails shape
// validation. The router drops such messages without surfacing an error
// to the client.
var ErrMalformed = errors.New("malformed message")

// Envelope is the inbound message wrapper.
type Envelope struct {
	Type    MessageKind     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// valid reports whether k names one of the seven message kinds.
func (k MessageKind) valid() bool {
	switch k {
	case KindSessionStart, KindSessionStop, KindSessionPause,
		KindSessionResume, KindSessionRemove, KindSessionAttach,
		KindSessionDetach:
		return true
	}
	return false
}

// ParseEnvelope decodes an inbound message and validates its kind.
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !env.Type.valid() {
		return Envelope{}, fmt.Errorf("%w: unknown type %q", ErrMalformed, env.Type)
	}
	return env, nil
}

// StartPayload carries session-start fields. Label is required;
// SessionID is generated server-side when absent.
type StartPayload struct {
	SessionID string       `json:"sessionId,omitempty"`
	Label     string       `json:"label"`
	Comment   string       `json:"comment,omitempty"`
	GroupID   string       `json:"groupId,omitempty"`
	GroupName string       `json:"groupName,omitempty"`
	Goals     []track.Goal `json:"goals,omitempty"`
}

// SessionRef carries the session id for stop, pause, resume and remove.
type SessionRef struct {
	SessionID string `json:"sessionId"`
}

// AttachPayload carries session-attach fields. Goal.ID is required.
type AttachPayload struct {
	SessionID string     `json:"sessionId"`
	Goal      track.Goal `json:"goal"`
}

// DetachPayload carries session-detach fields.
type DetachPayload struct {
	SessionID string `json:"sessionId"`
	GoalID    string `json:"goalId"`
}

// Frame is an outbound message.
type Frame struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// TickEntry is the compact per-session delta broadcast every tick.
// Only running sessions appear in a tick, so Running is always true on
// the wire; it is carried so clients can reuse their update path.
type TickEntry struct {
	SessionID string `json:"sessionId"`
	ElapsedMs int64  `json:"elapsedMs"`
	Running   bool   `json:"running"`
}

// Tombstone signals a session's removal. Wire-only, never persisted.
type Tombstone struct {
	SessionID string `json:"sessionId"`
	Removed   bool   `json:"removed"`
}

// ErrorPayload is sent back to the originating connection when a handler
// fails.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Ready builds the handshake frame carrying a full session snapshot.
func Ready(sessions []track.Session) Frame {
	if sessions == nil {
		sessions = []track.Session{}
	}
	return Frame{Type: TypeReady, Payload: sessions}
}

// SessionUpdate builds a full-session update frame.
func SessionUpdate(s track.Session) Frame {
	return Frame{Type: TypeSessionUpdate, Payload: s}
}

// Removal builds a tombstone update frame.
func Removal(sessionID string) Frame {
	return Frame{Type: TypeSessionUpdate, Payload: Tombstone{SessionID: sessionID, Removed: true}}
}

// Tick builds a tick frame from per-session elapsed entries.
func Tick(entries []TickEntry) Frame {
	return Frame{Type: TypeTick, Payload: entries}
}

// Error builds an error frame.
func Error(code, message string) Frame {
	return Frame{Type: TypeError, Payload: ErrorPayload{Code: code, Message: message}}
}

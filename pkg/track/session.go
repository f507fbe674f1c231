// Package track defines the domain model for tracked work sessions:
// the Session lifecycle (fresh, running, paused, ended), attached goals,
// and the elapsed-time arithmetic the sync engine builds on.
package track

import (
	"time"
)

// Goal is a work item attached to a session.
type Goal struct {
	ID                string     `json:"id"`
	Title             string     `json:"title"`
	Completed         bool       `json:"completed"`
	CompletedAt       *time.Time `json:"completedAt,omitempty"`
	GroupID           string     `json:"groupId,omitempty"`
	GroupName         string     `json:"groupName,omitempty"`
	EstimatedGoalTime int64      `json:"estimatedGoalTime,omitempty"`
}

// Session is one tracked work interval, possibly still open.
//
// Time accounting: StartedAt is the instant the session most recently
// began or resumed, AccumulatedMs is elapsed time frozen as of the last
// pause or stop. While Running, total elapsed time is
// AccumulatedMs + (now - StartedAt); otherwise it is AccumulatedMs exactly.
//
// Removed is a wire-only tombstone marker. It is never true on a session
// held in the store or written to the cache.
type Session struct {
	ID            string     `json:"sessionId"`
	UserID        string     `json:"userId"`
	Label         string     `json:"label"`
	Comment       string     `json:"comment,omitempty"`
	GroupID       string     `json:"groupId,omitempty"`
	GroupName     string     `json:"groupName,omitempty"`
	StartedAt     time.Time  `json:"startedAt"`
	AccumulatedMs int64      `json:"accumulatedMs"`
	Running       bool       `json:"running"`
	PausedAt      *time.Time `json:"pausedAt,omitempty"`
	EndedAt       *time.Time `json:"endedAt,omitempty"`
	Goals         []Goal     `json:"goals"`
	Removed       bool       `json:"removed,omitempty"`
}

// New creates a fresh running session.
func New(id, userID, label string, now time.Time) *Session {
	return &Session{
		ID:        id,
		UserID:    userID,
		Label:     label,
		StartedAt: now,
		Running:   true,
		Goals:     []Goal{},
	}
}

// ElapsedMs returns the total tracked time in milliseconds as of now.
func (s *Session) ElapsedMs(now time.Time) int64 {
	if !s.Running {
		return s.AccumulatedMs
	}
	return s.AccumulatedMs + now.Sub(s.StartedAt).Milliseconds()
}

// Pause freezes the session. The running interval is folded into
// AccumulatedMs and PausedAt records the pause instant. Pausing a
// session that is not running has no effect.
func (s *Session) Pause(now time.Time) {
	if !s.Running {
		return
	}
	s.AccumulatedMs += now.Sub(s.StartedAt).Milliseconds()
	s.Running = false
	t := now
	s.PausedAt = &t
}

// Resume restarts a paused or stopped session. Accumulated time is
// carried forward unchanged; StartedAt moves to the resume instant.
func (s *Session) Resume(now time.Time) {
	if s.Running {
		return
	}
	s.Running = true
	s.StartedAt = now
	s.PausedAt = nil
	s.EndedAt = nil
}

// Stop closes the session. Any running time is folded into
// AccumulatedMs, EndedAt is set and PausedAt cleared.
func (s *Session) Stop(now time.Time) {
	if s.Running {
		s.AccumulatedMs += now.Sub(s.StartedAt).Milliseconds()
		s.Running = false
	}
	t := now
	s.EndedAt = &t
	s.PausedAt = nil
}

// AttachGoal appends a goal unless one with the same id is already
// attached. Returns true if the goal list changed.
func (s *Session) AttachGoal(g Goal) bool {
	for _, existing := range s.Goals {
		if existing.ID == g.ID {
			return false
		}
	}
	s.Goals = append(s.Goals, g)
	return true
}

// DetachGoal removes the goal with the given id, preserving order of the
// remaining goals. Returns true if a goal was removed.
func (s *Session) DetachGoal(goalID string) bool {
	for i, g := range s.Goals {
		if g.ID == goalID {
			s.Goals = append(s.Goals[:i], s.Goals[i+1:]...)
			return true
		}
	}
	return false
}

// Clone returns a deep copy. The sync engine hands clones to the cache
// gateway and to broadcasts so that later mutations don't leak into
// in-flight writes.
func (s *Session) Clone() Session {
	c := *s
	if s.PausedAt != nil {
		t := *s.PausedAt
		c.PausedAt = &t
	}
	if s.EndedAt != nil {
		t := *s.EndedAt
		c.EndedAt = &t
	}
	c.Goals = make([]Goal, len(s.Goals))
	copy(c.Goals, s.Goals)
	for i, g := range s.Goals {
		if g.CompletedAt != nil {
			t := *g.CompletedAt
			c.Goals[i].CompletedAt = &t
		}
	}
	return c
}

// CloneAll deep-copies a session slice.
func CloneAll(sessions []Session) []Session {
	out := make([]Session, len(sessions))
	for i := range sessions {
		out[i] = sessions[i].Clone()
	}
	return out
}

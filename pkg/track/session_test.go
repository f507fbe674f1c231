package track

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_FreshSession(t *testing.T) {
	t0 := time.Now()
	s := New("session-1", "u1", "Refactor", t0)

	assert.True(t, s.Running)
	assert.Equal(t, int64(0), s.AccumulatedMs)
	assert.Equal(t, t0, s.StartedAt)
	assert.Nil(t, s.PausedAt)
	assert.Nil(t, s.EndedAt)
	assert.NotNil(t, s.Goals)
	assert.Empty(t, s.Goals)
}

func TestSession_PauseResumeElapsed(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s := New("session-1", "u1", "Refactor", t0)

	// Pause after 5s, resume at 8s, query at 10s: 5s + 2s = 7s.
	s.Pause(t0.Add(5 * time.Second))
	assert.False(t, s.Running)
	require.NotNil(t, s.PausedAt)
	assert.Equal(t, int64(5000), s.ElapsedMs(t0.Add(6*time.Second)))

	s.Resume(t0.Add(8 * time.Second))
	assert.True(t, s.Running)
	assert.Nil(t, s.PausedAt)
	assert.Nil(t, s.EndedAt)
	assert.Equal(t, int64(5000), s.AccumulatedMs)

	assert.Equal(t, int64(7000), s.ElapsedMs(t0.Add(10*time.Second)))
}

func TestSession_StopFreezesElapsed(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s := New("session-1", "u1", "Refactor", t0)

	s.Stop(t0.Add(3 * time.Second))
	assert.False(t, s.Running)
	require.NotNil(t, s.EndedAt)
	assert.Nil(t, s.PausedAt)
	assert.Equal(t, int64(3000), s.AccumulatedMs)

	// Frozen: later queries don't advance.
	assert.Equal(t, int64(3000), s.ElapsedMs(t0.Add(time.Hour)))
}

func TestSession_StopWhilePausedKeepsAccumulated(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s := New("session-1", "u1", "Refactor", t0)

	s.Pause(t0.Add(4 * time.Second))
	s.Stop(t0.Add(20 * time.Second))

	assert.Equal(t, int64(4000), s.AccumulatedMs)
	assert.Nil(t, s.PausedAt)
	require.NotNil(t, s.EndedAt)
}

func TestSession_RunningImpliesNoEndedAt(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s := New("session-1", "u1", "Refactor", t0)

	s.Stop(t0.Add(time.Second))
	s.Resume(t0.Add(2 * time.Second))

	assert.True(t, s.Running)
	assert.Nil(t, s.EndedAt)
	assert.Equal(t, t0.Add(2*time.Second), s.StartedAt)
}

func TestSession_PauseNotRunningIsNoop(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s := New("session-1", "u1", "Refactor", t0)
	s.Pause(t0.Add(time.Second))
	pausedAt := *s.PausedAt

	s.Pause(t0.Add(5 * time.Second))
	assert.Equal(t, pausedAt, *s.PausedAt)
	assert.Equal(t, int64(1000), s.AccumulatedMs)
}

func TestSession_AttachGoalDeduplicatesByID(t *testing.T) {
	t0 := time.Now()
	s := New("session-1", "u1", "Refactor", t0)

	assert.True(t, s.AttachGoal(Goal{ID: "g1", Title: "write tests"}))
	assert.False(t, s.AttachGoal(Goal{ID: "g1", Title: "different title, same id"}))
	assert.True(t, s.AttachGoal(Goal{ID: "g2", Title: "ship it"}))

	require.Len(t, s.Goals, 2)
	assert.Equal(t, "write tests", s.Goals[0].Title)
}

func TestSession_DetachGoal(t *testing.T) {
	t0 := time.Now()
	s := New("session-1", "u1", "Refactor", t0)
	s.AttachGoal(Goal{ID: "g1"})
	s.AttachGoal(Goal{ID: "g2"})
	s.AttachGoal(Goal{ID: "g3"})

	assert.True(t, s.DetachGoal("g2"))
	assert.False(t, s.DetachGoal("g2"))

	require.Len(t, s.Goals, 2)
	assert.Equal(t, "g1", s.Goals[0].ID)
	assert.Equal(t, "g3", s.Goals[1].ID)
}

func TestSession_CloneIsIndependent(t *testing.T) {
	t0 := time.Now()
	s := New("session-1", "u1", "Refactor", t0)
	s.AttachGoal(Goal{ID: "g1", Title: "original"})
	s.Pause(t0.Add(time.Second))

	c := s.Clone()
	c.Goals[0].Title = "mutated"
	*c.PausedAt = t0.Add(time.Hour)

	assert.Equal(t, "original", s.Goals[0].Title)
	assert.Equal(t, t0.Add(time.Second), *s.PausedAt)
}

package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devpulse-io/devpulse/pkg/protocol"
)

func TestHandleStart_CreatesFreshRunningSession(t *testing.T) {
	h, store, clk := newTestHub(t)
	c, link := attach(h, "u1")

	dispatch(t, h, c, "u1", protocol.KindSessionStart, map[string]any{"label": "Refactor"})

	snap := h.Snapshot("u1")
	require.Len(t, snap, 1)
	s := snap[0]
	assert.Equal(t, "session-test-1", s.ID)
	assert.Equal(t, "u1", s.UserID)
	assert.Equal(t, "Refactor", s.Label)
	assert.True(t, s.Running)
	assert.Equal(t, int64(0), s.AccumulatedMs)
	assert.Equal(t, clk.Now(), s.StartedAt)
	assert.Empty(t, s.Goals)

	updates := link.framesOfType(protocol.TypeSessionUpdate)
	require.Len(t, updates, 1)

	assert.Equal(t, 1, store.saveCount())
	assert.True(t, h.isRunningUser("u1"))
}

func TestHandleStart_ClientSuppliedID(t *testing.T) {
	h, _, _ := newTestHub(t)
	c, _ := attach(h, "u1")

	dispatch(t, h, c, "u1", protocol.KindSessionStart, map[string]any{
		"label":     "Review",
		"sessionId": "session-abc",
		"comment":   "PR 42",
		"groupId":   "grp-1",
		"groupName": "backend",
	})

	s := findSession(t, h, "u1", "session-abc")
	require.NotNil(t, s)
	assert.Equal(t, "PR 42", s.Comment)
	assert.Equal(t, "grp-1", s.GroupID)
	assert.Equal(t, "backend", s.GroupName)
}

func TestHandleStart_MissingLabelDropped(t *testing.T) {
	h, store, _ := newTestHub(t)
	c, link := attach(h, "u1")

	dispatch(t, h, c, "u1", protocol.KindSessionStart, map[string]any{"comment": "no label"})

	assert.Empty(t, h.Snapshot("u1"))
	assert.Equal(t, 0, store.saveCount())
	assert.Equal(t, 0, link.frameCount())
}

func TestHandleStop_FoldsElapsedAndEnds(t *testing.T) {
	h, _, clk := newTestHub(t)
	c, _ := attach(h, "u1")

	dispatch(t, h, c, "u1", protocol.KindSessionStart, map[string]any{"label": "work", "sessionId": "s1"})
	clk.Advance(3 * time.Second)
	dispatch(t, h, c, "u1", protocol.KindSessionStop, map[string]any{"sessionId": "s1"})

	s := findSession(t, h, "u1", "s1")
	require.NotNil(t, s)
	assert.False(t, s.Running)
	assert.Equal(t, int64(3000), s.AccumulatedMs)
	require.NotNil(t, s.EndedAt)
	assert.Nil(t, s.PausedAt)
	assert.False(t, h.isRunningUser("u1"))
}

func TestPauseResume_ElapsedArithmetic(t *testing.T) {
	h, _, clk := newTestHub(t)
	c, _ := attach(h, "u1")

	dispatch(t, h, c, "u1", protocol.KindSessionStart, map[string]any{"label": "work", "sessionId": "s1"})
	clk.Advance(5 * time.Second)
	dispatch(t, h, c, "u1", protocol.KindSessionPause, map[string]any{"sessionId": "s1"})
	clk.Advance(3 * time.Second)
	dispatch(t, h, c, "u1", protocol.KindSessionResume, map[string]any{"sessionId": "s1"})
	clk.Advance(2 * time.Second)

	s := findSession(t, h, "u1", "s1")
	require.NotNil(t, s)
	assert.True(t, s.Running)
	assert.Equal(t, int64(7000), s.ElapsedMs(clk.Now()))
}

func TestRunningUsers_PausingLastSessionLeavesSet(t *testing.T) {
	h, _, _ := newTestHub(t)
	c, _ := attach(h, "u1")

	dispatch(t, h, c, "u1", protocol.KindSessionStart, map[string]any{"label": "work", "sessionId": "s1"})
	require.True(t, h.isRunningUser("u1"))

	// Removed from the set within the handler invocation itself.
	dispatch(t, h, c, "u1", protocol.KindSessionPause, map[string]any{"sessionId": "s1"})
	assert.False(t, h.isRunningUser("u1"))

	dispatch(t, h, c, "u1", protocol.KindSessionResume, map[string]any{"sessionId": "s1"})
	assert.True(t, h.isRunningUser("u1"))
}

func TestHandleRemove_BroadcastsTombstoneAndPersists(t *testing.T) {
	h, store, _ := newTestHub(t)
	c, link := attach(h, "u1")

	dispatch(t, h, c, "u1", protocol.KindSessionStart, map[string]any{"label": "work", "sessionId": "s1"})
	dispatch(t, h, c, "u1", protocol.KindSessionRemove, map[string]any{"sessionId": "s1"})

	assert.Empty(t, h.Snapshot("u1"))
	assert.False(t, h.isRunningUser("u1"))

	updates := link.framesOfType(protocol.TypeSessionUpdate)
	require.Len(t, updates, 2)
	tombstone, ok := updates[1].Payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "s1", tombstone["sessionId"])
	assert.Equal(t, true, tombstone["removed"])

	// Start + remove: the persisted set after removal is empty.
	assert.Equal(t, 2, store.saveCount())
	assert.Empty(t, store.lastSave().sessions)
}

func TestHandleRemove_NonexistentIsSilentNoop(t *testing.T) {
	h, store, _ := newTestHub(t)
	c, link := attach(h, "u1")

	dispatch(t, h, c, "u1", protocol.KindSessionRemove, map[string]any{"sessionId": "ghost"})

	assert.Equal(t, 0, link.frameCount(), "no spurious tombstone")
	assert.Equal(t, 0, store.saveCount(), "no persistence triggered")
}

func TestTransition_NonexistentSessionIsNoop(t *testing.T) {
	h, store, _ := newTestHub(t)
	c, link := attach(h, "u1")

	for _, kind := range []protocol.MessageKind{
		protocol.KindSessionStop,
		protocol.KindSessionPause,
		protocol.KindSessionResume,
	} {
		dispatch(t, h, c, "u1", kind, map[string]any{"sessionId": "ghost"})
	}

	assert.Equal(t, 0, link.frameCount())
	assert.Equal(t, 0, store.saveCount())
}

func TestHandleAttach_DeduplicatesByGoalID(t *testing.T) {
	h, store, _ := newTestHub(t)
	c, _ := attach(h, "u1")

	dispatch(t, h, c, "u1", protocol.KindSessionStart, map[string]any{"label": "work", "sessionId": "s1"})
	dispatch(t, h, c, "u1", protocol.KindSessionAttach, map[string]any{
		"sessionId": "s1",
		"goal":      map[string]any{"id": "g1", "title": "write tests"},
	})
	dispatch(t, h, c, "u1", protocol.KindSessionAttach, map[string]any{
		"sessionId": "s1",
		"goal":      map[string]any{"id": "g1", "title": "same id again"},
	})

	s := findSession(t, h, "u1", "s1")
	require.NotNil(t, s)
	require.Len(t, s.Goals, 1)
	assert.Equal(t, "write tests", s.Goals[0].Title)

	// Both attaches broadcast and persist, even the deduplicated one.
	assert.Equal(t, 3, store.saveCount())
}

func TestHandleDetach_RemovesGoal(t *testing.T) {
	h, _, _ := newTestHub(t)
	c, _ := attach(h, "u1")

	dispatch(t, h, c, "u1", protocol.KindSessionStart, map[string]any{"label": "work", "sessionId": "s1"})
	dispatch(t, h, c, "u1", protocol.KindSessionAttach, map[string]any{
		"sessionId": "s1",
		"goal":      map[string]any{"id": "g1", "title": "a"},
	})
	dispatch(t, h, c, "u1", protocol.KindSessionAttach, map[string]any{
		"sessionId": "s1",
		"goal":      map[string]any{"id": "g2", "title": "b"},
	})
	dispatch(t, h, c, "u1", protocol.KindSessionDetach, map[string]any{
		"sessionId": "s1",
		"goalId":    "g1",
	})

	s := findSession(t, h, "u1", "s1")
	require.NotNil(t, s)
	require.Len(t, s.Goals, 1)
	assert.Equal(t, "g2", s.Goals[0].ID)
}

func TestHandleMessage_MalformedDroppedSilently(t *testing.T) {
	h, store, _ := newTestHub(t)
	c, link := attach(h, "u1")

	h.HandleMessage(context.Background(), c, "u1", []byte(`{broken`))
	h.HandleMessage(context.Background(), c, "u1", []byte(`{"type":"no-such-kind","payload":{}}`))

	assert.Equal(t, 0, link.frameCount())
	assert.Equal(t, 0, store.saveCount())
}

func TestLastTransitionWins_AcrossConnections(t *testing.T) {
	h, _, clk := newTestHub(t)
	c1, _ := attach(h, "u1")
	c2, _ := attach(h, "u1")

	dispatch(t, h, c1, "u1", protocol.KindSessionStart, map[string]any{"label": "work", "sessionId": "s1"})
	clk.Advance(time.Second)
	dispatch(t, h, c1, "u1", protocol.KindSessionPause, map[string]any{"sessionId": "s1"})
	dispatch(t, h, c2, "u1", protocol.KindSessionResume, map[string]any{"sessionId": "s1"})

	s := findSession(t, h, "u1", "s1")
	require.NotNil(t, s)
	assert.True(t, s.Running, "last processed transition wins")
}

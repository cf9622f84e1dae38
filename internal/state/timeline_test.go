package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hiveboard/hiveboard/internal/events"
)

func actionEvent(eventType events.EventType, ts time.Time, actionID, parentID string, mut ...func(*events.Event)) *events.Event {
	e := stateEvent("acme", "worker-1", eventType, ts, withTask("t-1"))
	e.ActionID = &actionID
	if parentID != "" {
		e.ParentActionID = &parentID
	}
	for _, m := range mut {
		m(e)
	}
	return e
}

func TestBuildActionTree(t *testing.T) {
	now := time.Now().UTC()
	dur := int64(1500)

	evs := []*events.Event{
		actionEvent(events.EventTypeActionStarted, now, "a-1", "", func(e *events.Event) {
			e.Payload = &events.Payload{Data: map[string]any{"action_name": "fetch_page"}}
		}),
		actionEvent(events.EventTypeActionStarted, now.Add(time.Second), "a-2", "a-1", func(e *events.Event) {
			e.Payload = &events.Payload{Summary: "parse links"}
		}),
		actionEvent(events.EventTypeActionCompleted, now.Add(2*time.Second), "a-2", "a-1", func(e *events.Event) {
			e.DurationMS = &dur
		}),
		actionEvent(events.EventTypeActionFailed, now.Add(3*time.Second), "a-1", ""),
	}

	roots := BuildActionTree(evs)
	require.Len(t, roots, 1)

	root := roots[0]
	assert.Equal(t, "a-1", root.ActionID)
	assert.Equal(t, "fetch_page", root.Name)
	assert.Equal(t, "failed", root.Status)
	require.NotNil(t, root.StartedAt)
	assert.Len(t, root.Events, 2)

	require.Len(t, root.Children, 1)
	child := root.Children[0]
	assert.Equal(t, "a-2", child.ActionID)
	assert.Equal(t, "parse links", child.Name)
	assert.Equal(t, "completed", child.Status)
	require.NotNil(t, child.DurationMS)
	assert.Equal(t, dur, *child.DurationMS)
	assert.Empty(t, child.Children)
}

func TestBuildActionTreeImplicitParent(t *testing.T) {
	now := time.Now().UTC()

	// The child references a parent whose own events never arrived. The parent
	// node is synthesized so the subtree stays reachable.
	evs := []*events.Event{
		actionEvent(events.EventTypeActionStarted, now, "child", "missing-parent"),
	}
	roots := BuildActionTree(evs)
	require.Len(t, roots, 1)
	assert.Equal(t, "missing-parent", roots[0].ActionID)
	assert.Equal(t, "running", roots[0].Status)
	require.Len(t, roots[0].Children, 1)
	assert.Equal(t, "child", roots[0].Children[0].ActionID)
}

func TestBuildActionTreeRunningAndUnnamed(t *testing.T) {
	now := time.Now().UTC()

	evs := []*events.Event{
		actionEvent(events.EventTypeActionStarted, now, "a-1", ""),
		// Non-action events inside the task are ignored.
		stateEvent("acme", "worker-1", events.EventTypeTaskStarted, now, withTask("t-1")),
	}
	roots := BuildActionTree(evs)
	require.Len(t, roots, 1)
	assert.Equal(t, "running", roots[0].Status)
	assert.Empty(t, roots[0].Name)
	assert.Nil(t, roots[0].DurationMS)
}

func TestBuildActionTreeEmpty(t *testing.T) {
	assert.Empty(t, BuildActionTree(nil))
	assert.NotNil(t, BuildActionTree(nil))
}

func TestBuildErrorChains(t *testing.T) {
	now := time.Now().UTC()

	t.Run("consecutive failures form one chain", func(t *testing.T) {
		evs := []*events.Event{
			actionEvent(events.EventTypeActionFailed, now, "a-1", ""),
			actionEvent(events.EventTypeActionFailed, now.Add(time.Second), "a-2", ""),
			stateEvent("acme", "worker-1", events.EventTypeTaskFailed, now.Add(2*time.Second), withTask("t-1")),
		}
		chains := BuildErrorChains(evs)
		require.Len(t, chains, 1)
		assert.Len(t, chains[0].Events, 3)
	})

	t.Run("interleaved success splits chains", func(t *testing.T) {
		evs := []*events.Event{
			actionEvent(events.EventTypeActionFailed, now, "a-1", ""),
			actionEvent(events.EventTypeActionCompleted, now.Add(time.Second), "a-2", ""),
			actionEvent(events.EventTypeActionFailed, now.Add(2*time.Second), "a-3", ""),
		}
		chains := BuildErrorChains(evs)
		require.Len(t, chains, 2)
		assert.Len(t, chains[0].Events, 1)
		assert.Len(t, chains[1].Events, 1)
	})

	t.Run("caused_by link continues the chain", func(t *testing.T) {
		failed := actionEvent(events.EventTypeActionFailed, now, "a-1", "")
		linked := stateEvent("acme", "worker-1", events.EventTypeEscalated, now.Add(time.Second), withTask("t-1"))
		linked.Payload = &events.Payload{Data: map[string]any{"caused_by": failed.EventID}}

		chains := BuildErrorChains([]*events.Event{failed, linked})
		require.Len(t, chains, 1)
		assert.Len(t, chains[0].Events, 2)
	})

	t.Run("no failures yields empty slice", func(t *testing.T) {
		evs := []*events.Event{
			stateEvent("acme", "worker-1", events.EventTypeTaskStarted, now, withTask("t-1")),
		}
		chains := BuildErrorChains(evs)
		assert.NotNil(t, chains)
		assert.Empty(t, chains)
	})
}

package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hiveboard/hiveboard/internal/events"
)

func planCreatedEvent(ts time.Time, goal string, revision int, steps ...string) *events.Event {
	stepList := make([]any, len(steps))
	for i, s := range steps {
		stepList[i] = s
	}
	e := stateEvent("acme", "worker-1", events.EventTypeCustom, ts, withTask("t-1"))
	e.Payload = &events.Payload{
		Kind: events.PayloadKindPlanCreated,
		Data: map[string]any{"goal": goal, "steps": stepList, "revision": float64(revision)},
	}
	return e
}

func planStepEvent(ts time.Time, index int, action string) *events.Event {
	e := stateEvent("acme", "worker-1", events.EventTypeCustom, ts, withTask("t-1"))
	e.Payload = &events.Payload{
		Kind: events.PayloadKindPlanStep,
		Data: map[string]any{"step_index": float64(index), "action": action},
	}
	return e
}

func TestBuildPlan(t *testing.T) {
	now := time.Now().UTC()

	evs := []*events.Event{
		planCreatedEvent(now, "crawl the docs site", 1, "fetch sitemap", "download pages", "index content"),
		planStepEvent(now.Add(time.Second), 0, "started"),
		planStepEvent(now.Add(2*time.Second), 0, "completed"),
		planStepEvent(now.Add(3*time.Second), 1, "started"),
		planStepEvent(now.Add(4*time.Second), 2, "skipped"),
	}

	plan := BuildPlan(evs)
	require.NotNil(t, plan)
	assert.Equal(t, "crawl the docs site", plan.Goal)
	assert.Equal(t, 1, plan.Revision)
	require.Len(t, plan.Steps, 3)

	assert.Equal(t, "completed", plan.Steps[0].Status)
	require.NotNil(t, plan.Steps[0].StartedAt)
	require.NotNil(t, plan.Steps[0].CompletedAt)
	assert.Equal(t, "started", plan.Steps[1].Status)
	assert.Nil(t, plan.Steps[1].CompletedAt)
	assert.Equal(t, "skipped", plan.Steps[2].Status)

	// Skipped steps count toward progress.
	assert.Equal(t, 2, plan.Progress.Completed)
	assert.Equal(t, 3, plan.Progress.Total)
}

func TestBuildPlanRevisions(t *testing.T) {
	now := time.Now().UTC()

	evs := []*events.Event{
		planCreatedEvent(now, "old goal", 1, "step a", "step b"),
		planStepEvent(now.Add(time.Second), 0, "completed"),
		planCreatedEvent(now.Add(2*time.Second), "new goal", 2, "step x"),
		planStepEvent(now.Add(3*time.Second), 0, "started"),
	}

	plan := BuildPlan(evs)
	require.NotNil(t, plan)
	assert.Equal(t, "new goal", plan.Goal)
	assert.Equal(t, 2, plan.Revision)
	require.Len(t, plan.Steps, 1)
	// The pre-revision step completion belongs to the superseded plan.
	assert.Equal(t, "started", plan.Steps[0].Status)
	assert.Equal(t, 0, plan.Progress.Completed)
}

func TestBuildPlanIgnoresOutOfRangeSteps(t *testing.T) {
	now := time.Now().UTC()

	evs := []*events.Event{
		planCreatedEvent(now, "goal", 1, "only step"),
		planStepEvent(now.Add(time.Second), 5, "completed"),
		planStepEvent(now.Add(2*time.Second), -1, "completed"),
	}
	plan := BuildPlan(evs)
	require.NotNil(t, plan)
	assert.Equal(t, "pending", plan.Steps[0].Status)
}

func TestBuildPlanNoneEmitted(t *testing.T) {
	now := time.Now().UTC()
	evs := []*events.Event{
		stateEvent("acme", "worker-1", events.EventTypeTaskStarted, now, withTask("t-1")),
	}
	assert.Nil(t, BuildPlan(evs))
	assert.Nil(t, BuildPlan(nil))
}

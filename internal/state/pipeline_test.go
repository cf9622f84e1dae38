package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hiveboard/hiveboard/internal/events"
	"github.com/hiveboard/hiveboard/internal/storage"
)

func payloadEvent(ts time.Time, kind string, data map[string]any, mut ...func(*events.Event)) *events.Event {
	e := stateEvent("acme", "worker-1", events.EventTypeCustom, ts)
	e.Payload = &events.Payload{Kind: kind, Data: data}
	for _, m := range mut {
		m(e)
	}
	return e
}

func insertAll(t *testing.T, store *storage.Store, evs ...*events.Event) {
	t.Helper()
	_, err := store.InsertEvents(evs)
	require.NoError(t, err)
}

func TestPipelineQueueLastSnapshotWins(t *testing.T) {
	engine, store := newTestEngine(t, time.Minute, nil)
	now := time.Now().UTC()

	insertAll(t, store,
		payloadEvent(now.Add(-2*time.Minute), events.PayloadKindQueueSnapshot, map[string]any{
			"depth": float64(9),
			"items": []any{"a", "b"},
		}),
		payloadEvent(now.Add(-time.Minute), events.PayloadKindQueueSnapshot, map[string]any{
			"depth": float64(2),
		}),
	)

	p := engine.PipelineFor("acme", events.KeyTypeLive, "worker-1")
	require.NotNil(t, p.Queue)
	assert.Equal(t, 2, p.Queue.Depth)
	assert.NotNil(t, p.Queue.Items)
	assert.Empty(t, p.Queue.Items)
}

func TestPipelineTodoReplay(t *testing.T) {
	engine, store := newTestEngine(t, time.Minute, nil)
	now := time.Now().UTC()

	insertAll(t, store,
		payloadEvent(now.Add(-5*time.Minute), events.PayloadKindTodo, map[string]any{
			"todo_id": "td-1", "action": "created", "title": "refresh cache",
		}),
		payloadEvent(now.Add(-4*time.Minute), events.PayloadKindTodo, map[string]any{
			"todo_id": "td-2", "action": "created", "title": "rotate keys",
		}),
		payloadEvent(now.Add(-3*time.Minute), events.PayloadKindTodo, map[string]any{
			"todo_id": "td-1", "action": "completed",
		}),
		payloadEvent(now.Add(-2*time.Minute), events.PayloadKindTodo, map[string]any{
			"todo_id": "td-3", "action": "created", "title": "retry upload",
		}),
		payloadEvent(now.Add(-time.Minute), events.PayloadKindTodo, map[string]any{
			"todo_id": "td-3", "action": "deferred",
		}),
	)

	p := engine.PipelineFor("acme", events.KeyTypeLive, "worker-1")
	require.Len(t, p.Todos, 2)
	assert.Equal(t, "td-2", p.Todos[0].TodoID)
	assert.Equal(t, "rotate keys", p.Todos[0].Title)
	// Deferred todos stay open, and the title from the created event sticks.
	assert.Equal(t, "td-3", p.Todos[1].TodoID)
	assert.Equal(t, "deferred", p.Todos[1].Action)
	assert.Equal(t, "retry upload", p.Todos[1].Title)
}

func TestPipelineIssueLifecycle(t *testing.T) {
	engine, store := newTestEngine(t, time.Minute, nil)
	now := time.Now().UTC()

	report := func(ts time.Time, issueID string, extra map[string]any) *events.Event {
		data := map[string]any{"issue_id": issueID, "action": "reported"}
		for k, v := range extra {
			data[k] = v
		}
		return payloadEvent(ts, events.PayloadKindIssue, data)
	}

	insertAll(t, store,
		report(now.Add(-6*time.Minute), "is-1", map[string]any{"severity": "warn", "category": "rate_limit"}),
		report(now.Add(-5*time.Minute), "is-1", nil),
		payloadEvent(now.Add(-4*time.Minute), events.PayloadKindIssue, map[string]any{
			"issue_id": "is-2", "action": "reported",
		}),
		payloadEvent(now.Add(-3*time.Minute), events.PayloadKindIssue, map[string]any{
			"issue_id": "is-2", "action": "resolved",
		}),
	)

	p := engine.PipelineFor("acme", events.KeyTypeLive, "worker-1")
	require.Len(t, p.Issues, 1)
	issue := p.Issues[0]
	assert.Equal(t, "is-1", issue.IssueID)
	assert.Equal(t, "warn", issue.Severity)
	assert.Equal(t, "rate_limit", issue.Category)
	// Two reports without an explicit count accumulate.
	assert.Equal(t, 2, issue.OccurrenceCount)
	assert.True(t, issue.LastSeen.After(issue.FirstSeen))

	t.Run("re-report reopens", func(t *testing.T) {
		insertAll(t, store, payloadEvent(now.Add(-time.Minute), events.PayloadKindIssue, map[string]any{
			"issue_id": "is-2", "action": "reported", "occurrence_count": float64(7),
		}))
		p := engine.PipelineFor("acme", events.KeyTypeLive, "worker-1")
		require.Len(t, p.Issues, 2)
		assert.Equal(t, "is-2", p.Issues[1].IssueID)
		assert.Equal(t, 7, p.Issues[1].OccurrenceCount)
	})
}

func TestPipelineScheduledSnapshot(t *testing.T) {
	engine, store := newTestEngine(t, time.Minute, nil)
	now := time.Now().UTC()

	insertAll(t, store, payloadEvent(now.Add(-time.Minute), events.PayloadKindScheduled, map[string]any{
		"items": []any{
			map[string]any{"id": "s-1", "name": "nightly sync", "interval": "24h", "enabled": true},
		},
	}))

	p := engine.PipelineFor("acme", events.KeyTypeLive, "worker-1")
	require.NotNil(t, p.Scheduled)
	require.Len(t, p.Scheduled.Items, 1)
	assert.Equal(t, "nightly sync", p.Scheduled.Items[0].Name)
	assert.True(t, p.Scheduled.Items[0].Enabled)
}

func TestPipelineEmpty(t *testing.T) {
	engine, _ := newTestEngine(t, time.Minute, nil)
	p := engine.PipelineFor("acme", events.KeyTypeLive, "worker-1")
	assert.Nil(t, p.Queue)
	assert.Nil(t, p.Scheduled)
	assert.NotNil(t, p.Todos)
	assert.Empty(t, p.Todos)
	assert.NotNil(t, p.Issues)
	assert.Empty(t, p.Issues)
}

package alerts

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hiveboard/hiveboard/internal/common/logger"
	"github.com/hiveboard/hiveboard/internal/events"
	"github.com/hiveboard/hiveboard/internal/storage"
)

func newTestEvaluator(t *testing.T) (*Evaluator, *storage.Store) {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console", OutputPath: "stdout"})
	require.NoError(t, err)
	store, err := storage.New(t.TempDir(), nil, log)
	require.NoError(t, err)
	return NewEvaluator(store, log), store
}

func failedEvent(ts time.Time) *events.Event {
	taskID := "t-1"
	return &events.Event{
		EventID:   uuid.New().String(),
		TenantID:  "acme",
		KeyType:   events.KeyTypeLive,
		Timestamp: ts,
		EventType: events.EventTypeTaskFailed,
		Severity:  events.SeverityError,
		AgentID:   "worker-1",
		TaskID:    &taskID,
	}
}

func completedEvent(ts time.Time) *events.Event {
	taskID := "t-1"
	return &events.Event{
		EventID:   uuid.New().String(),
		TenantID:  "acme",
		KeyType:   events.KeyTypeLive,
		Timestamp: ts,
		EventType: events.EventTypeTaskCompleted,
		Severity:  events.SeverityInfo,
		AgentID:   "worker-1",
		TaskID:    &taskID,
	}
}

func TestTaskFailureCountRule(t *testing.T) {
	ev, store := newTestEvaluator(t)
	now := time.Now().UTC()

	require.NoError(t, store.CreateAlertRule(&storage.AlertRule{
		TenantID:        "acme",
		Name:            "too many failures",
		ConditionType:   ConditionTaskFailureCount,
		ConditionParams: map[string]any{"threshold": float64(3)},
		Enabled:         true,
	}))

	batch := []*events.Event{failedEvent(now.Add(-3 * time.Minute)), failedEvent(now.Add(-2 * time.Minute))}
	_, err := store.InsertEvents(batch)
	require.NoError(t, err)

	// Two failures, threshold three: no firing.
	ev.Evaluate(context.Background(), "acme", batch)
	assert.Empty(t, store.ListAlertHistory("acme", 0))

	third := failedEvent(now.Add(-time.Minute))
	_, err = store.InsertEvents([]*events.Event{third})
	require.NoError(t, err)
	ev.Evaluate(context.Background(), "acme", []*events.Event{third})

	history := store.ListAlertHistory("acme", 0)
	require.Len(t, history, 1)
	assert.Len(t, history[0].TriggeringEventIDs, 3)
}

func TestRuleRefireSuppression(t *testing.T) {
	ev, store := newTestEvaluator(t)
	now := time.Now().UTC()

	require.NoError(t, store.CreateAlertRule(&storage.AlertRule{
		TenantID:        "acme",
		ConditionType:   ConditionTaskFailureCount,
		ConditionParams: map[string]any{"threshold": float64(1)},
		Enabled:         true,
	}))

	batch := []*events.Event{failedEvent(now.Add(-time.Minute))}
	_, err := store.InsertEvents(batch)
	require.NoError(t, err)

	ev.Evaluate(context.Background(), "acme", batch)
	ev.Evaluate(context.Background(), "acme", batch)
	ev.Evaluate(context.Background(), "acme", batch)

	// Still inside the rule window: exactly one history entry.
	assert.Len(t, store.ListAlertHistory("acme", 0), 1)
}

func TestDisabledRuleNeverFires(t *testing.T) {
	ev, store := newTestEvaluator(t)
	now := time.Now().UTC()

	require.NoError(t, store.CreateAlertRule(&storage.AlertRule{
		TenantID:        "acme",
		ConditionType:   ConditionTaskFailureCount,
		ConditionParams: map[string]any{"threshold": float64(1)},
		Enabled:         false,
	}))

	batch := []*events.Event{failedEvent(now)}
	_, err := store.InsertEvents(batch)
	require.NoError(t, err)
	ev.Evaluate(context.Background(), "acme", batch)
	assert.Empty(t, store.ListAlertHistory("acme", 0))
}

func TestErrorRateRule(t *testing.T) {
	ev, store := newTestEvaluator(t)
	now := time.Now().UTC()

	require.NoError(t, store.CreateAlertRule(&storage.AlertRule{
		TenantID:        "acme",
		ConditionType:   ConditionErrorRate,
		ConditionParams: map[string]any{"threshold": 0.5},
		Enabled:         true,
	}))

	// One failure out of three tasks: 33%, under the threshold.
	batch := []*events.Event{
		completedEvent(now.Add(-3 * time.Minute)),
		completedEvent(now.Add(-2 * time.Minute)),
		failedEvent(now.Add(-time.Minute)),
	}
	_, err := store.InsertEvents(batch)
	require.NoError(t, err)
	ev.Evaluate(context.Background(), "acme", batch)
	assert.Empty(t, store.ListAlertHistory("acme", 0))

	more := []*events.Event{failedEvent(now.Add(-30 * time.Second)), failedEvent(now.Add(-10 * time.Second))}
	_, err = store.InsertEvents(more)
	require.NoError(t, err)
	ev.Evaluate(context.Background(), "acme", more)
	assert.Len(t, store.ListAlertHistory("acme", 0), 1)
}

func TestCostThresholdRule(t *testing.T) {
	ev, store := newTestEvaluator(t)
	now := time.Now().UTC()

	require.NoError(t, store.CreateAlertRule(&storage.AlertRule{
		TenantID:        "acme",
		ConditionType:   ConditionCostThreshold,
		ConditionParams: map[string]any{"threshold": float64(1)},
		Enabled:         true,
	}))

	cost := 2.5
	call := &events.Event{
		EventID:   uuid.New().String(),
		TenantID:  "acme",
		KeyType:   events.KeyTypeLive,
		Timestamp: now.Add(-time.Minute),
		EventType: events.EventTypeCustom,
		Severity:  events.SeverityInfo,
		AgentID:   "worker-1",
		Payload: &events.Payload{
			Kind: events.PayloadKindLLMCall,
			Data: map[string]any{"model": "gpt-4o", "tokens_in": float64(100), "tokens_out": float64(50), "cost": cost},
		},
	}
	_, err := store.InsertEvents([]*events.Event{call})
	require.NoError(t, err)

	ev.Evaluate(context.Background(), "acme", []*events.Event{call})
	assert.Len(t, store.ListAlertHistory("acme", 0), 1)
}

func TestAgentOfflineRule(t *testing.T) {
	ev, store := newTestEvaluator(t)
	now := time.Now().UTC()

	require.NoError(t, store.CreateAlertRule(&storage.AlertRule{
		TenantID:        "acme",
		ConditionType:   ConditionAgentOffline,
		ConditionParams: map[string]any{"offline_seconds": float64(3600)},
		Enabled:         true,
	}))
	require.NoError(t, store.UpsertAgent(&storage.AgentRecord{
		TenantID: "acme",
		AgentID:  "worker-1",
		LastSeen: now.Add(-2 * time.Hour),
	}))

	ev.Evaluate(context.Background(), "acme", nil)
	assert.Len(t, store.ListAlertHistory("acme", 0), 1)
}

func TestEvaluatorSeesTestKeyEvents(t *testing.T) {
	ev, store := newTestEvaluator(t)
	now := time.Now().UTC()

	require.NoError(t, store.CreateAlertRule(&storage.AlertRule{
		TenantID:        "acme",
		ConditionType:   ConditionTaskFailureCount,
		ConditionParams: map[string]any{"threshold": float64(1)},
		Enabled:         true,
	}))

	e := failedEvent(now.Add(-time.Minute))
	e.KeyType = events.KeyTypeTest
	_, err := store.InsertEvents([]*events.Event{e})
	require.NoError(t, err)

	ev.Evaluate(context.Background(), "acme", []*events.Event{e})
	assert.Len(t, store.ListAlertHistory("acme", 0), 1)
}

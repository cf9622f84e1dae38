package broadcast

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hiveboard/hiveboard/internal/common/logger"
	"github.com/hiveboard/hiveboard/internal/events"
	"github.com/hiveboard/hiveboard/internal/events/bus"
	apiv1 "github.com/hiveboard/hiveboard/pkg/api/v1"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console", OutputPath: "stdout"})
	require.NoError(t, err)
	return log
}

func sampleEvent(mut ...func(*events.Event)) *events.Event {
	e := &events.Event{
		EventID:   uuid.New().String(),
		TenantID:  "acme",
		KeyType:   events.KeyTypeLive,
		Timestamp: time.Now().UTC(),
		EventType: events.EventTypeTaskStarted,
		Severity:  events.SeverityInfo,
		AgentID:   "worker-1",
	}
	for _, m := range mut {
		m(e)
	}
	return e
}

func TestSubscriptionMatchesEvent(t *testing.T) {
	t.Run("events channel required", func(t *testing.T) {
		sub := NewSubscription([]string{apiv1.ChannelAgents}, apiv1.SubscriptionFilters{})
		assert.False(t, sub.MatchesEvent(sampleEvent()))
		assert.True(t, sub.WantsAgents())
		assert.False(t, sub.WantsEvents())
	})

	t.Run("no filters match everything", func(t *testing.T) {
		sub := NewSubscription([]string{apiv1.ChannelEvents}, apiv1.SubscriptionFilters{})
		assert.True(t, sub.MatchesEvent(sampleEvent()))
	})

	t.Run("agent filter", func(t *testing.T) {
		sub := NewSubscription([]string{apiv1.ChannelEvents}, apiv1.SubscriptionFilters{AgentID: "worker-2"})
		assert.False(t, sub.MatchesEvent(sampleEvent()))
		assert.True(t, sub.MatchesEvent(sampleEvent(func(e *events.Event) { e.AgentID = "worker-2" })))
	})

	t.Run("environment filter", func(t *testing.T) {
		sub := NewSubscription([]string{apiv1.ChannelEvents}, apiv1.SubscriptionFilters{Environment: "prod"})
		assert.False(t, sub.MatchesEvent(sampleEvent()), "unset environment never matches a set filter")
		prod := "prod"
		assert.True(t, sub.MatchesEvent(sampleEvent(func(e *events.Event) { e.Environment = &prod })))
	})

	t.Run("payload kind filter", func(t *testing.T) {
		sub := NewSubscription([]string{apiv1.ChannelEvents}, apiv1.SubscriptionFilters{PayloadKind: events.PayloadKindLLMCall})
		assert.False(t, sub.MatchesEvent(sampleEvent()))
		assert.True(t, sub.MatchesEvent(sampleEvent(func(e *events.Event) {
			e.Payload = &events.Payload{Kind: events.PayloadKindLLMCall}
		})))
	})

	t.Run("min severity is an ordered threshold", func(t *testing.T) {
		sub := NewSubscription([]string{apiv1.ChannelEvents}, apiv1.SubscriptionFilters{MinSeverity: "warn"})
		assert.False(t, sub.MatchesEvent(sampleEvent(func(e *events.Event) { e.Severity = events.SeverityDebug })))
		assert.False(t, sub.MatchesEvent(sampleEvent(func(e *events.Event) { e.Severity = events.SeverityInfo })))
		assert.True(t, sub.MatchesEvent(sampleEvent(func(e *events.Event) { e.Severity = events.SeverityWarn })))
		assert.True(t, sub.MatchesEvent(sampleEvent(func(e *events.Event) { e.Severity = events.SeverityError })))
	})

	t.Run("unknown min severity is ignored", func(t *testing.T) {
		sub := NewSubscription([]string{apiv1.ChannelEvents}, apiv1.SubscriptionFilters{MinSeverity: "shrug"})
		assert.True(t, sub.MatchesEvent(sampleEvent()))
	})

	t.Run("nil subscription matches nothing", func(t *testing.T) {
		var sub *Subscription
		assert.False(t, sub.WantsEvents())
		assert.False(t, sub.WantsAgents())
	})
}

// fakeBackend records deliveries for dispatcher tests.
type fakeBackend struct {
	mu     sync.Mutex
	events []*events.Event
	agents []apiv1.StreamMessage
	wake   chan struct{}
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{wake: make(chan struct{}, 16)}
}

func (f *fakeBackend) DeliverEvent(tenantID string, e *events.Event) {
	f.mu.Lock()
	f.events = append(f.events, e)
	f.mu.Unlock()
	f.wake <- struct{}{}
}

func (f *fakeBackend) DeliverAgentMessage(tenantID string, msg apiv1.StreamMessage) {
	f.mu.Lock()
	f.agents = append(f.agents, msg)
	f.mu.Unlock()
	f.wake <- struct{}{}
}

func (f *fakeBackend) waitFor(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-f.wake:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for delivery %d of %d", i+1, n)
		}
	}
}

func TestDispatcherRoutesBusMessages(t *testing.T) {
	log := testLogger(t)
	eventBus := bus.NewMemoryEventBus(log)
	backend := newFakeBackend()
	broadcaster := NewBroadcaster(eventBus, log)

	dispatcher := NewDispatcher(eventBus, backend, log)
	require.NoError(t, dispatcher.Start())
	defer dispatcher.Stop()

	ctx := context.Background()
	e := sampleEvent()
	broadcaster.BroadcastEvents(ctx, "acme", []*events.Event{e})
	broadcaster.BroadcastAgentStatusChange(ctx, "acme", apiv1.AgentStatusChange{
		AgentID:        "worker-1",
		PreviousStatus: "idle",
		NewStatus:      "processing",
	})
	broadcaster.AgentStuck("acme", "worker-1", time.Now().UTC(), 2*time.Minute)
	broadcaster.AgentStuckCleared("acme", "worker-1")

	backend.waitFor(t, 4)

	backend.mu.Lock()
	defer backend.mu.Unlock()
	require.Len(t, backend.events, 1)
	assert.Equal(t, e.EventID, backend.events[0].EventID)

	require.Len(t, backend.agents, 3)
	types := make(map[string]bool)
	for _, msg := range backend.agents {
		types[msg.Type] = true
	}
	assert.True(t, types[apiv1.StreamTypeAgentStatusChanged])
	assert.True(t, types[apiv1.StreamTypeAgentStuck])
	assert.True(t, types[apiv1.StreamTypeAgentStuckCleared])
}

func TestDispatcherStopUnsubscribes(t *testing.T) {
	log := testLogger(t)
	eventBus := bus.NewMemoryEventBus(log)
	backend := newFakeBackend()
	broadcaster := NewBroadcaster(eventBus, log)

	dispatcher := NewDispatcher(eventBus, backend, log)
	require.NoError(t, dispatcher.Start())
	dispatcher.Stop()

	broadcaster.BroadcastEvents(context.Background(), "acme", []*events.Event{sampleEvent()})

	select {
	case <-backend.wake:
		t.Fatal("delivery after Stop")
	case <-time.After(100 * time.Millisecond):
	}
}

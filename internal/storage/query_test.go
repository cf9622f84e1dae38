package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hiveboard/hiveboard/internal/events"
)

func TestFilterEventsVisibility(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()

	live := testEvent("acme", "worker-1", events.EventTypeTaskStarted, now)
	test := testEvent("acme", "worker-1", events.EventTypeTaskStarted, now.Add(time.Second), func(e *events.Event) {
		e.KeyType = events.KeyTypeTest
	})
	foreign := testEvent("globex", "worker-1", events.EventTypeTaskStarted, now)
	_, err := s.InsertEvents([]*events.Event{live, test, foreign})
	require.NoError(t, err)

	t.Run("live viewer excludes test rows", func(t *testing.T) {
		page, err := s.FilterEvents(EventFilter{TenantID: "acme", ViewerKeyType: events.KeyTypeLive})
		require.NoError(t, err)
		require.Len(t, page.Events, 1)
		assert.Equal(t, live.EventID, page.Events[0].EventID)
	})

	t.Run("read viewer excludes test rows", func(t *testing.T) {
		page, err := s.FilterEvents(EventFilter{TenantID: "acme", ViewerKeyType: events.KeyTypeRead})
		require.NoError(t, err)
		assert.Len(t, page.Events, 1)
	})

	t.Run("test viewer sees everything", func(t *testing.T) {
		page, err := s.FilterEvents(EventFilter{TenantID: "acme", ViewerKeyType: events.KeyTypeTest})
		require.NoError(t, err)
		assert.Len(t, page.Events, 2)
	})

	t.Run("tenants never leak", func(t *testing.T) {
		page, err := s.FilterEvents(EventFilter{TenantID: "globex", ViewerKeyType: events.KeyTypeTest})
		require.NoError(t, err)
		require.Len(t, page.Events, 1)
		assert.Equal(t, foreign.EventID, page.Events[0].EventID)
	})
}

func TestFilterEventsHeartbeatDefault(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()

	hb := testEvent("acme", "worker-1", events.EventTypeHeartbeat, now)
	task := testEvent("acme", "worker-1", events.EventTypeTaskStarted, now.Add(time.Second))
	_, err := s.InsertEvents([]*events.Event{hb, task})
	require.NoError(t, err)

	page, err := s.FilterEvents(EventFilter{TenantID: "acme", ViewerKeyType: events.KeyTypeLive})
	require.NoError(t, err)
	require.Len(t, page.Events, 1)
	assert.Equal(t, task.EventID, page.Events[0].EventID)

	include := false
	page, err = s.FilterEvents(EventFilter{TenantID: "acme", ViewerKeyType: events.KeyTypeLive, ExcludeHeartbeats: &include})
	require.NoError(t, err)
	assert.Len(t, page.Events, 2)
}

func TestFilterEventsFields(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()

	a := testEvent("acme", "worker-1", events.EventTypeTaskFailed, now, func(e *events.Event) {
		e.TaskID = strPtr("t-1")
		e.Environment = strPtr("prod")
		e.Group = strPtr("checkout")
	})
	b := testEvent("acme", "worker-2", events.EventTypeCustom, now.Add(time.Second), func(e *events.Event) {
		e.Severity = events.SeverityInfo
		e.Payload = &events.Payload{Kind: events.PayloadKindLLMCall}
	})
	_, err := s.InsertEvents([]*events.Event{a, b})
	require.NoError(t, err)

	cases := []struct {
		name   string
		filter EventFilter
		want   string
	}{
		{"by agent", EventFilter{AgentID: "worker-1"}, a.EventID},
		{"by task", EventFilter{TaskID: "t-1"}, a.EventID},
		{"by type", EventFilter{EventType: events.EventTypeCustom}, b.EventID},
		{"by severity", EventFilter{Severity: events.SeverityError}, a.EventID},
		{"by payload kind", EventFilter{PayloadKind: events.PayloadKindLLMCall}, b.EventID},
		{"by environment", EventFilter{Environment: "prod"}, a.EventID},
		{"by group", EventFilter{Group: "checkout"}, a.EventID},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := tc.filter
			f.TenantID = "acme"
			f.ViewerKeyType = events.KeyTypeLive
			page, err := s.FilterEvents(f)
			require.NoError(t, err)
			require.Len(t, page.Events, 1)
			assert.Equal(t, tc.want, page.Events[0].EventID)
		})
	}

	t.Run("time range", func(t *testing.T) {
		since := now.Add(500 * time.Millisecond)
		page, err := s.FilterEvents(EventFilter{TenantID: "acme", ViewerKeyType: events.KeyTypeLive, Since: &since})
		require.NoError(t, err)
		require.Len(t, page.Events, 1)
		assert.Equal(t, b.EventID, page.Events[0].EventID)
	})
}

func TestFilterEventsCursorPagination(t *testing.T) {
	s := newTestStore(t)
	base := time.Now().UTC().Truncate(time.Second)

	var all []*events.Event
	for i := 0; i < 10; i++ {
		all = append(all, testEvent("acme", "worker-1", events.EventTypeTaskStarted, base.Add(time.Duration(i)*time.Second)))
	}
	_, err := s.InsertEvents(all)
	require.NoError(t, err)

	walk := func(ascending bool) []string {
		var got []string
		cursor := ""
		for {
			page, err := s.FilterEvents(EventFilter{
				TenantID:      "acme",
				ViewerKeyType: events.KeyTypeLive,
				Ascending:     ascending,
				Limit:         3,
				Cursor:        cursor,
			})
			require.NoError(t, err)
			for _, e := range page.Events {
				got = append(got, e.EventID)
			}
			if !page.HasMore {
				return got
			}
			require.NotEmpty(t, page.Cursor)
			cursor = page.Cursor
		}
	}

	t.Run("descending", func(t *testing.T) {
		got := walk(false)
		require.Len(t, got, 10)
		for i, e := range all {
			assert.Equal(t, e.EventID, got[len(got)-1-i], "no row lost or duplicated across pages")
		}
	})

	t.Run("ascending", func(t *testing.T) {
		got := walk(true)
		require.Len(t, got, 10)
		for i, e := range all {
			assert.Equal(t, e.EventID, got[i])
		}
	})

	t.Run("invalid cursor", func(t *testing.T) {
		_, err := s.FilterEvents(EventFilter{TenantID: "acme", ViewerKeyType: events.KeyTypeLive, Cursor: "not-a-cursor!"})
		assert.Error(t, err)
	})
}

func TestFilterEventsTimestampTiebreak(t *testing.T) {
	s := newTestStore(t)
	ts := time.Now().UTC()

	// Identical timestamps paginate on event_id so no row can be skipped.
	var all []*events.Event
	for i := 0; i < 6; i++ {
		all = append(all, testEvent("acme", "worker-1", events.EventTypeTaskStarted, ts))
	}
	_, err := s.InsertEvents(all)
	require.NoError(t, err)

	seen := make(map[string]bool)
	cursor := ""
	for {
		page, err := s.FilterEvents(EventFilter{TenantID: "acme", ViewerKeyType: events.KeyTypeLive, Limit: 2, Cursor: cursor})
		require.NoError(t, err)
		for _, e := range page.Events {
			assert.False(t, seen[e.EventID], "event %s returned twice", e.EventID)
			seen[e.EventID] = true
		}
		if !page.HasMore {
			break
		}
		cursor = page.Cursor
	}
	assert.Len(t, seen, 6)
}

func TestTaskEventsAscending(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()

	e1 := testEvent("acme", "worker-1", events.EventTypeTaskStarted, now, func(e *events.Event) { e.TaskID = strPtr("t-1") })
	e2 := testEvent("acme", "worker-1", events.EventTypeTaskCompleted, now.Add(time.Minute), func(e *events.Event) { e.TaskID = strPtr("t-1") })
	_, err := s.InsertEvents([]*events.Event{e2, e1})
	require.NoError(t, err)

	evs := s.TaskEvents("acme", events.KeyTypeLive, "t-1")
	require.Len(t, evs, 2)
	assert.Equal(t, e1.EventID, evs[0].EventID)
	assert.Equal(t, e2.EventID, evs[1].EventID)
}

package storage

import (
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hiveboard/hiveboard/internal/events"
)

// EventFilter selects events for query endpoints. TenantID is mandatory;
// ViewerKeyType drives test/live visibility (test keys see everything, other
// keys exclude rows tagged test).
type EventFilter struct {
	TenantID      string
	ViewerKeyType events.KeyType

	AgentID     string
	TaskID      string
	ProjectID   string
	EventType   events.EventType
	Severity    events.Severity
	PayloadKind string
	Environment string
	Group       string

	Since *time.Time
	Until *time.Time

	// ExcludeHeartbeats defaults to true when nil.
	ExcludeHeartbeats *bool

	// Ascending sorts oldest-first (timelines); default is newest-first.
	Ascending bool

	Limit  int
	Cursor string
}

// Page is one page of events plus the continuation cursor.
type Page struct {
	Events  []*events.Event
	Cursor  string
	HasMore bool
}

// matches applies every filter except pagination.
func (f *EventFilter) matches(e *events.Event) bool {
	if e.TenantID != f.TenantID {
		return false
	}
	// Test-key rows are invisible to live and read viewers.
	if f.ViewerKeyType != events.KeyTypeTest && e.KeyType == events.KeyTypeTest {
		return false
	}
	if f.AgentID != "" && e.AgentID != f.AgentID {
		return false
	}
	if f.TaskID != "" && (e.TaskID == nil || *e.TaskID != f.TaskID) {
		return false
	}
	if f.ProjectID != "" && (e.ProjectID == nil || *e.ProjectID != f.ProjectID) {
		return false
	}
	if f.EventType != "" && e.EventType != f.EventType {
		return false
	}
	if f.Severity != "" && e.Severity != f.Severity {
		return false
	}
	if f.PayloadKind != "" && e.PayloadKind() != f.PayloadKind {
		return false
	}
	if f.Environment != "" && (e.Environment == nil || *e.Environment != f.Environment) {
		return false
	}
	if f.Group != "" && (e.Group == nil || *e.Group != f.Group) {
		return false
	}
	if f.Since != nil && e.Timestamp.Before(*f.Since) {
		return false
	}
	if f.Until != nil && e.Timestamp.After(*f.Until) {
		return false
	}
	excludeHeartbeats := f.ExcludeHeartbeats == nil || *f.ExcludeHeartbeats
	if excludeHeartbeats && e.EventType == events.EventTypeHeartbeat {
		return false
	}
	return true
}

// FilterEvents scans the events table without holding the write lock and
// returns one page sorted by (timestamp, event_id), descending unless
// f.Ascending is set.
func (s *Store) FilterEvents(f EventFilter) (*Page, error) {
	rows := s.events.snapshot()

	var matched []*events.Event
	for _, e := range rows {
		if f.matches(e) {
			matched = append(matched, e)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			if f.Ascending {
				return a.Timestamp.Before(b.Timestamp)
			}
			return a.Timestamp.After(b.Timestamp)
		}
		if f.Ascending {
			return a.EventID < b.EventID
		}
		return a.EventID > b.EventID
	})

	if f.Cursor != "" {
		afterTS, afterID, err := decodeCursor(f.Cursor)
		if err != nil {
			return nil, fmt.Errorf("invalid cursor: %w", err)
		}
		// Resume at the first row sorting strictly after the cursor row.
		start := sort.Search(len(matched), func(i int) bool {
			return sortsAfter(matched[i], afterTS, afterID, f.Ascending)
		})
		matched = matched[start:]
	}

	page := &Page{}
	if f.Limit > 0 && len(matched) > f.Limit {
		page.Events = matched[:f.Limit]
		page.HasMore = true
		last := page.Events[len(page.Events)-1]
		page.Cursor = encodeCursor(last.Timestamp, last.EventID)
	} else {
		page.Events = matched
	}
	if page.Events == nil {
		page.Events = []*events.Event{}
	}
	return page, nil
}

// sortsAfter reports whether e sorts strictly after the cursor row in the
// current ordering.
func sortsAfter(e *events.Event, ts time.Time, id string, asc bool) bool {
	if e.Timestamp.Equal(ts) {
		if asc {
			return e.EventID > id
		}
		return e.EventID < id
	}
	if asc {
		return e.Timestamp.After(ts)
	}
	return e.Timestamp.Before(ts)
}

// encodeCursor packs the last row's sort key into an opaque cursor.
func encodeCursor(ts time.Time, eventID string) string {
	raw := strconv.FormatInt(ts.UnixNano(), 10) + "|" + eventID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(cursor string) (time.Time, string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", err
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 {
		return time.Time{}, "", fmt.Errorf("malformed cursor")
	}
	nanos, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}, "", err
	}
	return time.Unix(0, nanos).UTC(), parts[1], nil
}

// AgentEvents returns every event for one agent in ascending time, including
// heartbeats. Used by state derivation.
func (s *Store) AgentEvents(tenantID, agentID string) []*events.Event {
	rows := s.events.snapshot()
	var out []*events.Event
	for _, e := range rows {
		if e.TenantID == tenantID && e.AgentID == agentID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].EventID < out[j].EventID
	})
	return out
}

// TaskEvents returns every event of a task in ascending time.
func (s *Store) TaskEvents(tenantID string, viewer events.KeyType, taskID string) []*events.Event {
	noExclude := false
	page, _ := s.FilterEvents(EventFilter{
		TenantID:          tenantID,
		ViewerKeyType:     viewer,
		TaskID:            taskID,
		ExcludeHeartbeats: &noExclude,
		Ascending:         true,
	})
	return page.Events
}

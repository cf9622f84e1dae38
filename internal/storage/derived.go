package storage

import (
	"sort"
	"time"

	"github.com/hiveboard/hiveboard/internal/events"
)

// AgentStats aggregates one agent's last hour of activity.
type AgentStats struct {
	TasksCompleted    int      `json:"tasks_completed"`
	TasksFailed       int      `json:"tasks_failed"`
	SuccessRate       *float64 `json:"success_rate"`
	AvgDurationMS     *float64 `json:"avg_duration_ms"`
	TotalCost         float64  `json:"total_cost"`
	ThroughputPerHour float64  `json:"throughput_per_hour"`
}

// ComputeAgentStats1h aggregates the agent's events in [now-1h, now].
func (s *Store) ComputeAgentStats1h(tenantID string, viewer events.KeyType, agentID string, now time.Time) AgentStats {
	since := now.Add(-time.Hour)
	noExclude := false
	page, _ := s.FilterEvents(EventFilter{
		TenantID:          tenantID,
		ViewerKeyType:     viewer,
		AgentID:           agentID,
		Since:             &since,
		Until:             &now,
		ExcludeHeartbeats: &noExclude,
	})

	var stats AgentStats
	var durationSum float64
	var durationCount int
	for _, e := range page.Events {
		switch e.EventType {
		case events.EventTypeTaskCompleted:
			stats.TasksCompleted++
			if e.DurationMS != nil {
				durationSum += float64(*e.DurationMS)
				durationCount++
			}
		case events.EventTypeTaskFailed:
			stats.TasksFailed++
		}
		if call, ok := e.Payload.LLMCall(); ok {
			stats.TotalCost += s.callCost(call)
		}
	}
	if total := stats.TasksCompleted + stats.TasksFailed; total > 0 {
		rate := float64(stats.TasksCompleted) / float64(total)
		stats.SuccessRate = &rate
	}
	if durationCount > 0 {
		avg := durationSum / float64(durationCount)
		stats.AvgDurationMS = &avg
	}
	// The window is exactly one hour, so throughput equals the completed count.
	stats.ThroughputPerHour = float64(stats.TasksCompleted)
	return stats
}

// callCost prefers the explicit payload cost and falls back to the pricing
// estimator.
func (s *Store) callCost(call events.LLMCallData) float64 {
	if call.Cost != nil {
		return *call.Cost
	}
	if s.estimate != nil {
		if cost, ok := s.estimate(call.Model, call.TokensIn, call.TokensOut); ok {
			return cost
		}
	}
	return 0
}

// callCostEstimated reports the cost and whether it came from the estimator.
func (s *Store) callCostEstimated(call events.LLMCallData) (float64, bool) {
	if call.Cost != nil {
		return *call.Cost, false
	}
	if s.estimate != nil {
		if cost, ok := s.estimate(call.Model, call.TokensIn, call.TokensOut); ok {
			return cost, true
		}
	}
	return 0, false
}

// TaskSummary is one row of the tasks list, rolled up from the task's events.
type TaskSummary struct {
	TaskID         string    `json:"task_id"`
	AgentID        string    `json:"agent_id"`
	ProjectID      *string   `json:"project_id"`
	StartedAt      time.Time `json:"started_at"`
	LastEventAt    time.Time `json:"last_event_at"`
	DerivedStatus  string    `json:"derived_status"`
	DurationMS     *int64    `json:"duration_ms"`
	TotalCost      float64   `json:"total_cost"`
	LLMCallCount   int       `json:"llm_call_count"`
	TotalTokensIn  int64     `json:"total_tokens_in"`
	TotalTokensOut int64     `json:"total_tokens_out"`
	EventCount     int       `json:"event_count"`
}

// TaskFilter selects tasks for ListTasks.
type TaskFilter struct {
	TenantID      string
	ViewerKeyType events.KeyType
	AgentID       string
	ProjectID     string
	Environment   string
	Group         string
	Since         *time.Time
	Until         *time.Time
	Limit         int
}

// ListTasks groups events by (agent_id, task_id) and emits one summary row
// per task, newest started_at first.
func (s *Store) ListTasks(f TaskFilter) []*TaskSummary {
	noExclude := false
	page, _ := s.FilterEvents(EventFilter{
		TenantID:          f.TenantID,
		ViewerKeyType:     f.ViewerKeyType,
		AgentID:           f.AgentID,
		ProjectID:         f.ProjectID,
		Environment:       f.Environment,
		Group:             f.Group,
		Since:             f.Since,
		Until:             f.Until,
		ExcludeHeartbeats: &noExclude,
		Ascending:         true,
	})

	type key struct{ agentID, taskID string }
	byTask := make(map[key]*TaskSummary)
	var order []key

	for _, e := range page.Events {
		if e.TaskID == nil {
			continue
		}
		k := key{e.AgentID, *e.TaskID}
		row, ok := byTask[k]
		if !ok {
			row = &TaskSummary{
				TaskID:        *e.TaskID,
				AgentID:       e.AgentID,
				StartedAt:     e.Timestamp,
				DerivedStatus: "running",
			}
			byTask[k] = row
			order = append(order, k)
		}
		row.EventCount++
		row.LastEventAt = e.Timestamp
		if e.ProjectID != nil {
			row.ProjectID = e.ProjectID
		}
		switch e.EventType {
		case events.EventTypeTaskCompleted:
			row.DerivedStatus = "completed"
			row.DurationMS = e.DurationMS
		case events.EventTypeTaskFailed:
			row.DerivedStatus = "failed"
			row.DurationMS = e.DurationMS
		case events.EventTypeEscalated:
			row.DerivedStatus = "escalated"
		}
		if call, ok := e.Payload.LLMCall(); ok {
			row.LLMCallCount++
			row.TotalTokensIn += call.TokensIn
			row.TotalTokensOut += call.TokensOut
			row.TotalCost += s.callCost(call)
		}
	}

	out := make([]*TaskSummary, 0, len(order))
	for _, k := range order {
		out = append(out, byTask[k])
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

// NewestPayloadEvent returns the most recent event of the given payload kind
// for an agent, or nil. Used by pipeline reconstruction.
func (s *Store) NewestPayloadEvent(tenantID string, viewer events.KeyType, agentID, kind string) *events.Event {
	page, _ := s.FilterEvents(EventFilter{
		TenantID:      tenantID,
		ViewerKeyType: viewer,
		AgentID:       agentID,
		PayloadKind:   kind,
		Limit:         1,
	})
	if len(page.Events) == 0 {
		return nil
	}
	return page.Events[0]
}

// PayloadEvents returns every event of the given payload kind for an agent in
// ascending time.
func (s *Store) PayloadEvents(tenantID string, viewer events.KeyType, agentID, kind string) []*events.Event {
	page, _ := s.FilterEvents(EventFilter{
		TenantID:      tenantID,
		ViewerKeyType: viewer,
		AgentID:       agentID,
		PayloadKind:   kind,
		Ascending:     true,
	})
	return page.Events
}

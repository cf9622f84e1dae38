package storage

import (
	"sort"
	"time"

	"github.com/hiveboard/hiveboard/internal/events"
)

// MetricsSummary is the top-line aggregate for a time range.
type MetricsSummary struct {
	TasksCompleted int      `json:"tasks_completed"`
	TasksFailed    int      `json:"tasks_failed"`
	SuccessRate    *float64 `json:"success_rate"`
	AvgDurationMS  *float64 `json:"avg_duration_ms"`
	TotalCost      float64  `json:"total_cost"`
	EventCount     int      `json:"event_count"`
}

// MetricsBucket is one interval of the bucketed timeseries.
type MetricsBucket struct {
	Timestamp      time.Time `json:"timestamp"`
	TasksCompleted int       `json:"tasks_completed"`
	TasksFailed    int       `json:"tasks_failed"`
	Events         int       `json:"events"`
	Cost           float64   `json:"cost"`
}

// GroupRollup is a per-group aggregate when group_by is requested.
type GroupRollup struct {
	Group          string   `json:"group"`
	TasksCompleted int      `json:"tasks_completed"`
	TasksFailed    int      `json:"tasks_failed"`
	SuccessRate    *float64 `json:"success_rate"`
	TotalCost      float64  `json:"total_cost"`
}

// MetricsResult bundles summary, timeseries, and optional group rollups.
type MetricsResult struct {
	Summary    MetricsSummary  `json:"summary"`
	Timeseries []MetricsBucket `json:"timeseries"`
	Groups     []GroupRollup   `json:"groups,omitempty"`
}

// MetricsQuery selects the range and grouping for GetMetrics.
type MetricsQuery struct {
	TenantID      string
	ViewerKeyType events.KeyType
	Since         time.Time
	Until         time.Time
	Interval      time.Duration
	GroupBy       string // "", "agent", "model"
}

// GetMetrics aggregates events into a summary, a bucketed timeseries, and
// per-group rollups when GroupBy is agent or model.
func (s *Store) GetMetrics(q MetricsQuery) *MetricsResult {
	if q.Interval <= 0 {
		q.Interval = time.Hour
	}
	noExclude := false
	page, _ := s.FilterEvents(EventFilter{
		TenantID:          q.TenantID,
		ViewerKeyType:     q.ViewerKeyType,
		Since:             &q.Since,
		Until:             &q.Until,
		ExcludeHeartbeats: &noExclude,
		Ascending:         true,
	})

	result := &MetricsResult{}
	buckets := make(map[int64]*MetricsBucket)
	groups := make(map[string]*GroupRollup)
	var durationSum float64
	var durationCount int

	for _, e := range page.Events {
		result.Summary.EventCount++

		bucketStart := e.Timestamp.Truncate(q.Interval)
		b, ok := buckets[bucketStart.Unix()]
		if !ok {
			b = &MetricsBucket{Timestamp: bucketStart}
			buckets[bucketStart.Unix()] = b
		}
		b.Events++

		var groupKey string
		switch q.GroupBy {
		case "agent":
			groupKey = e.AgentID
		case "model":
			if call, ok := e.Payload.LLMCall(); ok && call.Model != "" {
				groupKey = call.Model
			} else if e.PayloadKind() == events.PayloadKindLLMCall {
				groupKey = "unknown"
			}
		}
		var g *GroupRollup
		if groupKey != "" {
			g, ok = groups[groupKey]
			if !ok {
				g = &GroupRollup{Group: groupKey}
				groups[groupKey] = g
			}
		}

		switch e.EventType {
		case events.EventTypeTaskCompleted:
			result.Summary.TasksCompleted++
			b.TasksCompleted++
			if g != nil {
				g.TasksCompleted++
			}
			if e.DurationMS != nil {
				durationSum += float64(*e.DurationMS)
				durationCount++
			}
		case events.EventTypeTaskFailed:
			result.Summary.TasksFailed++
			b.TasksFailed++
			if g != nil {
				g.TasksFailed++
			}
		}

		if call, ok := e.Payload.LLMCall(); ok {
			cost := s.callCost(call)
			result.Summary.TotalCost += cost
			b.Cost += cost
			if g != nil {
				g.TotalCost += cost
			}
		}
	}

	if total := result.Summary.TasksCompleted + result.Summary.TasksFailed; total > 0 {
		rate := float64(result.Summary.TasksCompleted) / float64(total)
		result.Summary.SuccessRate = &rate
	}
	if durationCount > 0 {
		avg := durationSum / float64(durationCount)
		result.Summary.AvgDurationMS = &avg
	}

	result.Timeseries = fillBuckets(buckets, q.Since, q.Until, q.Interval)

	for _, g := range groups {
		if total := g.TasksCompleted + g.TasksFailed; total > 0 {
			rate := float64(g.TasksCompleted) / float64(total)
			g.SuccessRate = &rate
		}
		result.Groups = append(result.Groups, *g)
	}
	sortGroups(result.Groups)
	return result
}

// fillBuckets emits contiguous buckets across the range so dashboards get an
// unbroken series.
func fillBuckets(buckets map[int64]*MetricsBucket, since, until time.Time, interval time.Duration) []MetricsBucket {
	var out []MetricsBucket
	for t := since.Truncate(interval); !t.After(until); t = t.Add(interval) {
		if b, ok := buckets[t.Unix()]; ok {
			out = append(out, *b)
		} else {
			out = append(out, MetricsBucket{Timestamp: t})
		}
	}
	return out
}

// sortGroups orders rollups by cost descending, name ascending as tiebreak.
func sortGroups(groups []GroupRollup) {
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].TotalCost != groups[j].TotalCost {
			return groups[i].TotalCost > groups[j].TotalCost
		}
		return groups[i].Group < groups[j].Group
	})
}

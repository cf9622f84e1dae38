package storage

import (
	"sort"
	"time"

	"github.com/hiveboard/hiveboard/internal/events"
)

// CostBreakdownRow is one by_agent or by_model aggregate.
type CostBreakdownRow struct {
	Key       string  `json:"key"`
	CallCount int     `json:"call_count"`
	Cost      float64 `json:"cost"`
	TokensIn  int64   `json:"tokens_in"`
	TokensOut int64   `json:"tokens_out"`
}

// CostSummary is the total spend over a range with breakdowns.
type CostSummary struct {
	TotalCost      float64            `json:"total_cost"`
	TotalTokensIn  int64              `json:"total_tokens_in"`
	TotalTokensOut int64              `json:"total_tokens_out"`
	TotalCalls     int                `json:"total_calls"`
	Estimated      bool               `json:"estimated"`
	ByAgent        []CostBreakdownRow `json:"by_agent"`
	ByModel        []CostBreakdownRow `json:"by_model"`
}

// CostCall is one individual llm_call row.
type CostCall struct {
	EventID         string    `json:"event_id"`
	Timestamp       time.Time `json:"timestamp"`
	AgentID         string    `json:"agent_id"`
	TaskID          *string   `json:"task_id"`
	Name            string    `json:"name"`
	Model           string    `json:"model"`
	TokensIn        int64     `json:"tokens_in"`
	TokensOut       int64     `json:"tokens_out"`
	Cost            float64   `json:"cost"`
	Estimated       bool      `json:"estimated"`
	DurationMS      *int64    `json:"duration_ms"`
	PromptPreview   string    `json:"prompt_preview"`
	ResponsePreview string    `json:"response_preview"`
}

// CostBucket is one interval of the cost timeseries.
type CostBucket struct {
	Timestamp time.Time `json:"timestamp"`
	Model     string    `json:"model,omitempty"`
	Cost      float64   `json:"cost"`
	CallCount int       `json:"call_count"`
	TokensIn  int64     `json:"tokens_in"`
	TokensOut int64     `json:"tokens_out"`
}

// llmCallEvents returns the llm_call events in the range, ascending.
func (s *Store) llmCallEvents(tenantID string, viewer events.KeyType, agentID string, since, until *time.Time) []*events.Event {
	page, _ := s.FilterEvents(EventFilter{
		TenantID:      tenantID,
		ViewerKeyType: viewer,
		AgentID:       agentID,
		PayloadKind:   events.PayloadKindLLMCall,
		Since:         since,
		Until:         until,
		Ascending:     true,
	})
	return page.Events
}

// GetCostSummary totals llm_call spend over a range with by_agent and
// by_model breakdowns.
func (s *Store) GetCostSummary(tenantID string, viewer events.KeyType, since, until *time.Time) *CostSummary {
	summary := &CostSummary{
		ByAgent: []CostBreakdownRow{},
		ByModel: []CostBreakdownRow{},
	}
	byAgent := make(map[string]*CostBreakdownRow)
	byModel := make(map[string]*CostBreakdownRow)

	for _, e := range s.llmCallEvents(tenantID, viewer, "", since, until) {
		call, ok := e.Payload.LLMCall()
		if !ok {
			continue
		}
		cost, estimated := s.callCostEstimated(call)
		if estimated {
			summary.Estimated = true
		}
		summary.TotalCalls++
		summary.TotalCost += cost
		summary.TotalTokensIn += call.TokensIn
		summary.TotalTokensOut += call.TokensOut

		model := call.Model
		if model == "" {
			model = "unknown"
		}
		addBreakdown(byAgent, e.AgentID, cost, call)
		addBreakdown(byModel, model, cost, call)
	}

	summary.ByAgent = flattenBreakdown(byAgent)
	summary.ByModel = flattenBreakdown(byModel)
	return summary
}

func addBreakdown(m map[string]*CostBreakdownRow, key string, cost float64, call events.LLMCallData) {
	row, ok := m[key]
	if !ok {
		row = &CostBreakdownRow{Key: key}
		m[key] = row
	}
	row.CallCount++
	row.Cost += cost
	row.TokensIn += call.TokensIn
	row.TokensOut += call.TokensOut
}

func flattenBreakdown(m map[string]*CostBreakdownRow) []CostBreakdownRow {
	out := make([]CostBreakdownRow, 0, len(m))
	for _, row := range m {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Cost != out[j].Cost {
			return out[i].Cost > out[j].Cost
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// CostCallsQuery selects individual llm_call rows.
type CostCallsQuery struct {
	TenantID      string
	ViewerKeyType events.KeyType
	AgentID       string
	Since         *time.Time
	Until         *time.Time
	OrderByCost   bool // default is newest first
	Limit         int
	Offset        int
}

// GetCostCalls returns individual llm_call events ordered by cost or newest.
// The bool reports whether more rows follow the page.
func (s *Store) GetCostCalls(q CostCallsQuery) ([]*CostCall, bool) {
	var calls []*CostCall
	for _, e := range s.llmCallEvents(q.TenantID, q.ViewerKeyType, q.AgentID, q.Since, q.Until) {
		call, ok := e.Payload.LLMCall()
		if !ok {
			continue
		}
		cost, estimated := s.callCostEstimated(call)
		calls = append(calls, &CostCall{
			EventID:         e.EventID,
			Timestamp:       e.Timestamp,
			AgentID:         e.AgentID,
			TaskID:          e.TaskID,
			Name:            call.Name,
			Model:           call.Model,
			TokensIn:        call.TokensIn,
			TokensOut:       call.TokensOut,
			Cost:            cost,
			Estimated:       estimated,
			DurationMS:      call.DurationMS,
			PromptPreview:   call.PromptPreview,
			ResponsePreview: call.ResponsePreview,
		})
	}

	if q.OrderByCost {
		sort.Slice(calls, func(i, j int) bool {
			if calls[i].Cost != calls[j].Cost {
				return calls[i].Cost > calls[j].Cost
			}
			return calls[i].Timestamp.After(calls[j].Timestamp)
		})
	} else {
		sort.Slice(calls, func(i, j int) bool {
			return calls[i].Timestamp.After(calls[j].Timestamp)
		})
	}

	if q.Offset > len(calls) {
		q.Offset = len(calls)
	}
	calls = calls[q.Offset:]
	hasMore := false
	if q.Limit > 0 && len(calls) > q.Limit {
		calls = calls[:q.Limit]
		hasMore = true
	}
	if calls == nil {
		calls = []*CostCall{}
	}
	return calls, hasMore
}

// GetCostTimeseries buckets llm_call spend by interval, optionally split per
// model.
func (s *Store) GetCostTimeseries(tenantID string, viewer events.KeyType, since, until time.Time, interval time.Duration, splitByModel bool) []CostBucket {
	if interval <= 0 {
		interval = time.Hour
	}

	type bucketKey struct {
		start int64
		model string
	}
	buckets := make(map[bucketKey]*CostBucket)

	for _, e := range s.llmCallEvents(tenantID, viewer, "", &since, &until) {
		call, ok := e.Payload.LLMCall()
		if !ok {
			continue
		}
		start := e.Timestamp.Truncate(interval)
		key := bucketKey{start: start.Unix()}
		if splitByModel {
			key.model = call.Model
			if key.model == "" {
				key.model = "unknown"
			}
		}
		b, ok := buckets[key]
		if !ok {
			b = &CostBucket{Timestamp: start, Model: key.model}
			buckets[key] = b
		}
		b.Cost += s.callCost(call)
		b.CallCount++
		b.TokensIn += call.TokensIn
		b.TokensOut += call.TokensOut
	}

	out := make([]CostBucket, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].Model < out[j].Model
	})
	return out
}

// Package alerts evaluates tenant alert rules against newly ingested events.
// Evaluation runs post-persist and fire-and-forget; failures are logged and
// never affect ingestion.
package alerts

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hiveboard/hiveboard/internal/common/logger"
	"github.com/hiveboard/hiveboard/internal/events"
	"github.com/hiveboard/hiveboard/internal/storage"
)

// Supported condition types.
const (
	ConditionErrorRate        = "error_rate"
	ConditionTaskFailureCount = "task_failure_count"
	ConditionCostThreshold    = "cost_threshold"
	ConditionAgentOffline     = "agent_offline"
)

const defaultWindow = time.Hour

// Evaluator runs the tenant's enabled rules and appends to alert history when
// a condition fires.
type Evaluator struct {
	store *storage.Store
	log   *logger.Logger
}

// NewEvaluator creates the rule evaluator.
func NewEvaluator(store *storage.Store, log *logger.Logger) *Evaluator {
	return &Evaluator{
		store: store,
		log:   log.WithFields(zap.String("component", "alerts")),
	}
}

// Evaluate checks every enabled rule of the tenant against the accepted batch
// and the surrounding window.
func (ev *Evaluator) Evaluate(ctx context.Context, tenantID string, evs []*events.Event) {
	now := time.Now().UTC()
	for _, rule := range ev.store.ListAlertRules(tenantID) {
		if !rule.Enabled {
			continue
		}
		if ev.firedRecently(tenantID, rule, now) {
			continue
		}
		fired, triggering := ev.check(tenantID, rule, evs, now)
		if !fired {
			continue
		}
		entry := &storage.AlertHistoryEntry{
			RuleID:             rule.RuleID,
			TenantID:           tenantID,
			FiredAt:            now,
			TriggeringEventIDs: triggering,
		}
		if err := ev.store.AppendAlertHistory(entry); err != nil {
			ev.log.Error("Failed to record alert firing",
				zap.String("rule_id", rule.RuleID),
				zap.Error(err))
			continue
		}
		ev.log.Info("Alert fired",
			zap.String("rule_id", rule.RuleID),
			zap.String("rule_name", rule.Name),
			zap.String("condition_type", rule.ConditionType),
			zap.Int("triggering_events", len(triggering)))
	}
}

// firedRecently suppresses refiring within the rule's window.
func (ev *Evaluator) firedRecently(tenantID string, rule *storage.AlertRule, now time.Time) bool {
	window := ruleWindow(rule)
	for _, h := range ev.store.ListAlertHistory(tenantID, 0) {
		if h.RuleID == rule.RuleID {
			return now.Sub(h.FiredAt) < window
		}
	}
	return false
}

func (ev *Evaluator) check(tenantID string, rule *storage.AlertRule, batch []*events.Event, now time.Time) (bool, []string) {
	switch rule.ConditionType {
	case ConditionTaskFailureCount:
		return ev.checkTaskFailures(tenantID, rule, now)
	case ConditionErrorRate:
		return ev.checkErrorRate(tenantID, rule, now)
	case ConditionCostThreshold:
		return ev.checkCost(tenantID, rule, now)
	case ConditionAgentOffline:
		return ev.checkAgentOffline(tenantID, rule, now)
	default:
		ev.log.Warn("Unknown alert condition type",
			zap.String("rule_id", rule.RuleID),
			zap.String("condition_type", rule.ConditionType))
		return false, nil
	}
}

func (ev *Evaluator) windowEvents(tenantID string, rule *storage.AlertRule, now time.Time) []*events.Event {
	since := now.Add(-ruleWindow(rule))
	noExclude := false
	page, _ := ev.store.FilterEvents(storage.EventFilter{
		TenantID:          tenantID,
		ViewerKeyType:     events.KeyTypeTest,
		Since:             &since,
		Until:             &now,
		ExcludeHeartbeats: &noExclude,
		Ascending:         true,
	})
	return page.Events
}

func (ev *Evaluator) checkTaskFailures(tenantID string, rule *storage.AlertRule, now time.Time) (bool, []string) {
	threshold := paramFloat(rule.ConditionParams, "threshold", 5)
	var triggering []string
	for _, e := range ev.windowEvents(tenantID, rule, now) {
		if e.EventType == events.EventTypeTaskFailed {
			triggering = append(triggering, e.EventID)
		}
	}
	return float64(len(triggering)) >= threshold, triggering
}

func (ev *Evaluator) checkErrorRate(tenantID string, rule *storage.AlertRule, now time.Time) (bool, []string) {
	threshold := paramFloat(rule.ConditionParams, "threshold", 0.5)
	var completed int
	var triggering []string
	for _, e := range ev.windowEvents(tenantID, rule, now) {
		switch e.EventType {
		case events.EventTypeTaskCompleted:
			completed++
		case events.EventTypeTaskFailed:
			triggering = append(triggering, e.EventID)
		}
	}
	total := completed + len(triggering)
	if total == 0 {
		return false, nil
	}
	return float64(len(triggering))/float64(total) >= threshold, triggering
}

func (ev *Evaluator) checkCost(tenantID string, rule *storage.AlertRule, now time.Time) (bool, []string) {
	threshold := paramFloat(rule.ConditionParams, "threshold", 0)
	if threshold <= 0 {
		return false, nil
	}
	since := now.Add(-ruleWindow(rule))
	summary := ev.store.GetCostSummary(tenantID, events.KeyTypeTest, &since, &now)
	return summary.TotalCost >= threshold, nil
}

func (ev *Evaluator) checkAgentOffline(tenantID string, rule *storage.AlertRule, now time.Time) (bool, []string) {
	cutoff := time.Duration(paramFloat(rule.ConditionParams, "offline_seconds", 86400)) * time.Second
	for _, rec := range ev.store.AgentRecords(tenantID) {
		if now.Sub(rec.LastSeen) > cutoff {
			return true, nil
		}
	}
	return false, nil
}

func ruleWindow(rule *storage.AlertRule) time.Duration {
	secs := paramFloat(rule.ConditionParams, "window_seconds", 0)
	if secs <= 0 {
		return defaultWindow
	}
	return time.Duration(secs) * time.Second
}

// paramFloat reads a numeric rule parameter; JSON decoding leaves numbers as
// float64.
func paramFloat(params map[string]any, key string, fallback float64) float64 {
	if params == nil {
		return fallback
	}
	switch v := params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return fallback
	}
}

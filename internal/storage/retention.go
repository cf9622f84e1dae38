package storage

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hiveboard/hiveboard/internal/events"
)

// PruneResult reports what one prune pass removed.
type PruneResult struct {
	TTLPruned   int `json:"ttl_pruned"`
	ColdPruned  int `json:"cold_pruned"`
	TotalPruned int `json:"total_pruned"`
}

// Prune runs both retention policies in a single pass under the events lock:
// the tenant plan TTL and the cold-event windows for heartbeat and
// action_started. Events with an unknown tenant are kept rather than silently
// dropped. Persists only when something was removed.
func (s *Store) Prune(now time.Time) (*PruneResult, error) {
	result := &PruneResult{}

	// Tenant plans are read up front so the events lock is not held while
	// touching the tenants table.
	cutoffs := make(map[string]time.Time)
	s.tenants.mu.RLock()
	for _, t := range s.tenants.rows {
		cutoffs[t.TenantID] = now.Add(-events.PlanRetention(t.Plan))
	}
	s.tenants.mu.RUnlock()

	heartbeatCutoff := now.Add(-events.HeartbeatRetention)
	actionStartedCutoff := now.Add(-events.ActionStartedRetention)

	err := s.events.mutate(func() (bool, error) {
		kept := s.events.rows[:0]
		for _, e := range s.events.rows {
			if ttlCutoff, known := cutoffs[e.TenantID]; known && e.Timestamp.Before(ttlCutoff) {
				result.TTLPruned++
				delete(s.eventIndex, eventKey(e.TenantID, e.EventID))
				continue
			}
			switch e.EventType {
			case events.EventTypeHeartbeat:
				if e.Timestamp.Before(heartbeatCutoff) {
					result.ColdPruned++
					delete(s.eventIndex, eventKey(e.TenantID, e.EventID))
					continue
				}
			case events.EventTypeActionStarted:
				if e.Timestamp.Before(actionStartedCutoff) {
					result.ColdPruned++
					delete(s.eventIndex, eventKey(e.TenantID, e.EventID))
					continue
				}
			}
			kept = append(kept, e)
		}
		s.events.rows = kept
		return result.TTLPruned+result.ColdPruned > 0, nil
	})
	if err != nil {
		return nil, err
	}

	historyPruned, err := s.pruneAlertHistory(cutoffs)
	if err != nil {
		return nil, err
	}
	result.TTLPruned += historyPruned

	result.TotalPruned = result.TTLPruned + result.ColdPruned
	return result, nil
}

// pruneAlertHistory applies the tenant plan TTL to alert history as well.
func (s *Store) pruneAlertHistory(cutoffs map[string]time.Time) (int, error) {
	pruned := 0
	err := s.alertHistory.mutate(func() (bool, error) {
		kept := s.alertHistory.rows[:0]
		for _, h := range s.alertHistory.rows {
			if cutoff, known := cutoffs[h.TenantID]; known && h.FiredAt.Before(cutoff) {
				pruned++
				continue
			}
			kept = append(kept, h)
		}
		s.alertHistory.rows = kept
		return pruned > 0, nil
	})
	return pruned, err
}

// RunPruneLoop prunes once immediately (clearing backlog before serving) and
// then every interval until ctx is cancelled. Prune failures are logged and
// the loop continues.
func (s *Store) RunPruneLoop(ctx context.Context, interval time.Duration) {
	s.pruneOnce()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pruneOnce()
		}
	}
}

func (s *Store) pruneOnce() {
	result, err := s.Prune(time.Now().UTC())
	if err != nil {
		s.log.Error("Prune failed", zap.Error(err))
		return
	}
	if result.TotalPruned > 0 {
		s.log.Info("Pruned events",
			zap.Int("ttl_pruned", result.TTLPruned),
			zap.Int("cold_pruned", result.ColdPruned),
			zap.Int("total_pruned", result.TotalPruned))
	}
}

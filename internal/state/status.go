// Package state reconstructs agent status, task timelines, action trees,
// plan overlays, and pipeline views purely from the event stream.
package state

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hiveboard/hiveboard/internal/common/logger"
	"github.com/hiveboard/hiveboard/internal/events"
	"github.com/hiveboard/hiveboard/internal/storage"
)

// Agent derived statuses.
const (
	StatusOffline         = "offline"
	StatusStuck           = "stuck"
	StatusWaitingApproval = "waiting_approval"
	StatusError           = "error"
	StatusProcessing      = "processing"
	StatusIdle            = "idle"
)

// offlineAfter is how long an agent may be silent before it is offline.
const offlineAfter = 24 * time.Hour

// StuckNotifier receives stuck transitions. The broadcast bus implements it.
type StuckNotifier interface {
	AgentStuck(tenantID, agentID string, lastHeartbeat time.Time, threshold time.Duration)
	AgentStuckCleared(tenantID, agentID string)
}

// Engine derives agent status from the event stream. It also owns the
// once-per-window stuck tracking: agent.stuck fires exactly once per
// contiguous stuck period and is cleared by the next heartbeat.
type Engine struct {
	store     *storage.Store
	threshold time.Duration
	notifier  StuckNotifier
	log       *logger.Logger

	mu         sync.Mutex
	stuckFired map[string]bool // (tenant\x00agent) → fired this window
}

// NewEngine creates a derivation engine. notifier may be nil (no stuck
// broadcasts, e.g. in tests).
func NewEngine(store *storage.Store, stuckThreshold time.Duration, notifier StuckNotifier, log *logger.Logger) *Engine {
	return &Engine{
		store:      store,
		threshold:  stuckThreshold,
		notifier:   notifier,
		log:        log.WithFields(zap.String("component", "state")),
		stuckFired: make(map[string]bool),
	}
}

// SetNotifier wires the broadcast back-end after construction.
func (e *Engine) SetNotifier(n StuckNotifier) { e.notifier = n }

// StatusFor derives the agent's current status from its events, firing the
// stuck notification on the transition into a stuck window.
func (e *Engine) StatusFor(tenantID, agentID string, now time.Time) string {
	evs := e.store.AgentEvents(tenantID, agentID)
	rec, _ := e.store.GetAgent(tenantID, agentID)
	return e.derive(tenantID, agentID, evs, rec, now)
}

func (e *Engine) derive(tenantID, agentID string, evs []*events.Event, rec *storage.AgentRecord, now time.Time) string {
	if len(evs) == 0 {
		return StatusOffline
	}

	last := evs[len(evs)-1]
	lastSeen := last.Timestamp
	if rec != nil && rec.LastSeen.After(lastSeen) {
		lastSeen = rec.LastSeen
	}
	if now.Sub(lastSeen) > offlineAfter {
		e.clearStuck(tenantID, agentID, false)
		return StatusOffline
	}

	if e.checkStuck(tenantID, agentID, evs, rec, now) {
		return StatusStuck
	}

	if waitingApproval(evs) {
		return StatusWaitingApproval
	}

	switch lastTaskTransition(evs) {
	case events.EventTypeTaskFailed:
		return StatusError
	case events.EventTypeTaskStarted:
		return StatusProcessing
	}

	if hasOpenTask(evs) {
		return StatusProcessing
	}
	return StatusIdle
}

// checkStuck applies the heartbeat-overdue rule and manages the
// once-per-window notification.
func (e *Engine) checkStuck(tenantID, agentID string, evs []*events.Event, rec *storage.AgentRecord, now time.Time) bool {
	// The heartbeat reference is the cache's last_heartbeat; an agent that
	// never heartbeated is measured from its latest event instead.
	var hbRef time.Time
	if rec != nil && rec.LastHeartbeat != nil {
		hbRef = *rec.LastHeartbeat
	}
	for i := len(evs) - 1; i >= 0; i-- {
		if evs[i].EventType == events.EventTypeHeartbeat {
			if evs[i].Timestamp.After(hbRef) {
				hbRef = evs[i].Timestamp
			}
			break
		}
	}
	if hbRef.IsZero() {
		hbRef = evs[len(evs)-1].Timestamp
	}

	overdue := now.Sub(hbRef) > e.threshold
	active := false
	for i := len(evs) - 1; i >= 0; i-- {
		if evs[i].EventType == events.EventTypeHeartbeat {
			continue
		}
		active = evs[i].EventType.ImpliesActiveWork()
		break
	}

	if overdue && active {
		e.fireStuck(tenantID, agentID, hbRef)
		return true
	}
	e.clearStuck(tenantID, agentID, !overdue)
	return false
}

func stuckKey(tenantID, agentID string) string { return tenantID + "\x00" + agentID }

func (e *Engine) fireStuck(tenantID, agentID string, lastHeartbeat time.Time) {
	e.mu.Lock()
	already := e.stuckFired[stuckKey(tenantID, agentID)]
	e.stuckFired[stuckKey(tenantID, agentID)] = true
	e.mu.Unlock()
	if already || e.notifier == nil {
		return
	}
	e.log.Warn("Agent stuck",
		zap.String("tenant_id", tenantID),
		zap.String("agent_id", agentID),
		zap.Time("last_heartbeat", lastHeartbeat))
	e.notifier.AgentStuck(tenantID, agentID, lastHeartbeat, e.threshold)
}

// clearStuck ends the stuck window. notify controls whether subscribers hear
// about the recovery (a fresh heartbeat) or the window just lapses (offline).
func (e *Engine) clearStuck(tenantID, agentID string, notify bool) {
	e.mu.Lock()
	was := e.stuckFired[stuckKey(tenantID, agentID)]
	delete(e.stuckFired, stuckKey(tenantID, agentID))
	e.mu.Unlock()
	if was && notify && e.notifier != nil {
		e.notifier.AgentStuckCleared(tenantID, agentID)
	}
}

// waitingApproval reports whether the latest approval-related event is a
// request without a subsequent approval_received.
func waitingApproval(evs []*events.Event) bool {
	for i := len(evs) - 1; i >= 0; i-- {
		switch evs[i].EventType {
		case events.EventTypeApprovalRequested:
			return true
		case events.EventTypeApprovalReceived:
			return false
		}
	}
	return false
}

// lastTaskTransition returns the type of the chronologically last
// task-scoped event, or "" when the agent has none.
func lastTaskTransition(evs []*events.Event) events.EventType {
	for i := len(evs) - 1; i >= 0; i-- {
		if evs[i].EventType.IsTaskScoped() {
			return evs[i].EventType
		}
	}
	return ""
}

// hasOpenTask reports whether any task_started lacks a later completion for
// the same task_id.
func hasOpenTask(evs []*events.Event) bool {
	open := make(map[string]bool)
	for _, e := range evs {
		if e.TaskID == nil {
			continue
		}
		switch e.EventType {
		case events.EventTypeTaskStarted:
			open[*e.TaskID] = true
		case events.EventTypeTaskCompleted, events.EventTypeTaskFailed:
			delete(open, *e.TaskID)
		}
	}
	return len(open) > 0
}

// HeartbeatAge returns seconds since the agent's last heartbeat, or nil when
// it never heartbeated.
func HeartbeatAge(rec *storage.AgentRecord, now time.Time) *float64 {
	if rec == nil || rec.LastHeartbeat == nil {
		return nil
	}
	age := now.Sub(*rec.LastHeartbeat).Seconds()
	return &age
}

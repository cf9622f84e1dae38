// Package ingest implements the event ingestion pipeline: batch validation
// with partial-success semantics, envelope enrichment, dedup, agent-cache
// upsert, status-change detection, and broadcast hand-off.
package ingest

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hiveboard/hiveboard/internal/broadcast"
	"github.com/hiveboard/hiveboard/internal/common/logger"
	"github.com/hiveboard/hiveboard/internal/events"
	"github.com/hiveboard/hiveboard/internal/state"
	"github.com/hiveboard/hiveboard/internal/storage"
	apiv1 "github.com/hiveboard/hiveboard/pkg/api/v1"
)

// Whole-batch rejections; the handler maps these to 400.
var (
	ErrBatchTooLarge  = errors.New("batch exceeds maximum size")
	ErrMissingAgentID = errors.New("envelope is missing agent_id")
)

// AlertEvaluator runs alert rules against newly accepted events.
type AlertEvaluator interface {
	Evaluate(ctx context.Context, tenantID string, evs []*events.Event)
}

// Pipeline processes ingest batches. A single mutex linearizes batches so the
// previous-status capture is atomic with the event append; only ingestion
// writes status-affecting state, so readers are unaffected.
type Pipeline struct {
	store       *storage.Store
	engine      *state.Engine
	broadcaster *broadcast.Broadcaster
	alerts      AlertEvaluator
	log         *logger.Logger

	mu sync.Mutex
}

// New creates the ingestion pipeline. alerts may be nil.
func New(store *storage.Store, engine *state.Engine, broadcaster *broadcast.Broadcaster, alerts AlertEvaluator, log *logger.Logger) *Pipeline {
	return &Pipeline{
		store:       store,
		engine:      engine,
		broadcaster: broadcaster,
		alerts:      alerts,
		log:         log.WithFields(zap.String("component", "ingest")),
	}
}

// Ingest validates and applies one batch for the authenticated tenant.
// Whole-batch violations return an error; per-event failures are reported in
// the response. accepted+rejected always equals the submitted batch size.
func (p *Pipeline) Ingest(ctx context.Context, tenantID string, keyType events.KeyType, req *apiv1.IngestRequest) (*apiv1.IngestResponse, error) {
	if len(req.Events) > events.MaxBatchSize {
		return nil, ErrBatchTooLarge
	}
	if req.Envelope.AgentID == "" {
		return nil, ErrMissingAgentID
	}

	resp := &apiv1.IngestResponse{
		Warnings: []apiv1.IngestIssue{},
		Errors:   []apiv1.IngestIssue{},
	}

	var accepted []*events.Event
	for i := range req.Events {
		e, warnings, reject := p.validate(tenantID, keyType, &req.Envelope, &req.Events[i], i)
		resp.Warnings = append(resp.Warnings, warnings...)
		if reject != nil {
			resp.Rejected++
			resp.Errors = append(resp.Errors, *reject)
			continue
		}
		resp.Accepted++
		accepted = append(accepted, e)
	}

	if len(accepted) == 0 {
		return resp, nil
	}

	// State updates read from the chronologically-latest event, not from
	// submission order.
	sortByTimestamp(accepted)

	p.mu.Lock()
	err := p.apply(ctx, tenantID, accepted)
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if p.alerts != nil {
		go p.alerts.Evaluate(context.WithoutCancel(ctx), tenantID, accepted)
	}
	return resp, nil
}

// apply runs the batch side-effects in order: previous-status capture, event
// append, agent-cache upsert, junction population, status-change broadcast,
// event broadcast.
func (p *Pipeline) apply(ctx context.Context, tenantID string, accepted []*events.Event) error {
	now := time.Now().UTC()

	byAgent := make(map[string][]*events.Event)
	var agentOrder []string
	for _, e := range accepted {
		if _, seen := byAgent[e.AgentID]; !seen {
			agentOrder = append(agentOrder, e.AgentID)
		}
		byAgent[e.AgentID] = append(byAgent[e.AgentID], e)
	}

	previous := make(map[string]string, len(agentOrder))
	for _, agentID := range agentOrder {
		previous[agentID] = p.engine.StatusFor(tenantID, agentID, now)
	}

	if _, err := p.store.InsertEvents(accepted); err != nil {
		return err
	}

	for _, agentID := range agentOrder {
		evs := byAgent[agentID]
		rec, err := p.upsertAgent(tenantID, agentID, previous[agentID], evs)
		if err != nil {
			return err
		}
		p.populateJunction(tenantID, agentID, evs)

		newStatus := p.engine.StatusFor(tenantID, agentID, now)
		if newStatus != previous[agentID] {
			p.broadcaster.BroadcastAgentStatusChange(ctx, tenantID, apiv1.AgentStatusChange{
				AgentID:             agentID,
				PreviousStatus:      previous[agentID],
				NewStatus:           newStatus,
				CurrentTaskID:       rec.LastTaskID,
				CurrentProjectID:    rec.LastProjectID,
				HeartbeatAgeSeconds: state.HeartbeatAge(rec, now),
			})
		}
	}

	p.broadcaster.BroadcastEvents(ctx, tenantID, accepted)
	return nil
}

// upsertAgent refreshes the cache row from the batch's chronologically-latest
// event, capturing the pre-batch derived status. Seen times come from event
// timestamps so backfilled batches do not make an agent look just-seen.
func (p *Pipeline) upsertAgent(tenantID, agentID, previousStatus string, evs []*events.Event) (*storage.AgentRecord, error) {
	rec, err := p.store.GetAgent(tenantID, agentID)
	if err == storage.ErrNotFound {
		rec = &storage.AgentRecord{
			TenantID:  tenantID,
			AgentID:   agentID,
			FirstSeen: evs[0].Timestamp,
		}
	} else if err != nil {
		return nil, err
	} else {
		copied := *rec
		rec = &copied
	}

	last := evs[len(evs)-1]
	rec.LastSeen = last.Timestamp
	rec.LastEventType = string(last.EventType)
	rec.PreviousStatus = previousStatus
	if last.TaskID != nil {
		rec.LastTaskID = last.TaskID
	}
	if last.ProjectID != nil {
		rec.LastProjectID = last.ProjectID
	}
	if last.AgentType != nil {
		rec.AgentType = last.AgentType
	}
	if last.AgentVersion != nil {
		rec.AgentVersion = last.AgentVersion
	}
	if last.Framework != nil {
		rec.Framework = last.Framework
	}
	if last.Environment != nil {
		rec.Environment = last.Environment
	}
	if last.Group != nil {
		rec.Group = last.Group
	}
	for i := len(evs) - 1; i >= 0; i-- {
		if evs[i].EventType == events.EventTypeHeartbeat {
			ts := evs[i].Timestamp
			if rec.LastHeartbeat == nil || ts.After(*rec.LastHeartbeat) {
				rec.LastHeartbeat = &ts
			}
			break
		}
	}

	if err := p.store.UpsertAgent(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// populateJunction records new (project, agent) pairs seen in the batch.
func (p *Pipeline) populateJunction(tenantID, agentID string, evs []*events.Event) {
	seen := make(map[string]bool)
	for _, e := range evs {
		if e.ProjectID == nil || seen[*e.ProjectID] {
			continue
		}
		seen[*e.ProjectID] = true
		project, err := p.store.GetProject(tenantID, *e.ProjectID)
		if err != nil {
			continue
		}
		if err := p.store.EnsureProjectAgent(tenantID, project.ProjectID, agentID); err != nil {
			p.log.Warn("Failed to record project agent",
				zap.String("project_id", project.ProjectID),
				zap.String("agent_id", agentID),
				zap.Error(err))
		}
	}
}

func sortByTimestamp(evs []*events.Event) {
	sort.SliceStable(evs, func(i, j int) bool {
		return evs[i].Timestamp.Before(evs[j].Timestamp)
	})
}

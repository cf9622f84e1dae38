package api

import (
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hiveboard/hiveboard/internal/events"
	"github.com/hiveboard/hiveboard/internal/state"
	"github.com/hiveboard/hiveboard/internal/storage"
)

// AgentView is one row of the agents listing: the cache record joined with
// the derived status and last-hour stats.
type AgentView struct {
	AgentID             string             `json:"agent_id"`
	DerivedStatus       string             `json:"derived_status"`
	AgentType           *string            `json:"agent_type"`
	AgentVersion        *string            `json:"agent_version"`
	Framework           *string            `json:"framework"`
	Environment         *string            `json:"environment"`
	Group               *string            `json:"group"`
	FirstSeen           time.Time          `json:"first_seen"`
	LastSeen            time.Time          `json:"last_seen"`
	LastHeartbeat       *time.Time         `json:"last_heartbeat"`
	LastEventType       string             `json:"last_event_type"`
	LastTaskID          *string            `json:"last_task_id"`
	LastProjectID       *string            `json:"last_project_id"`
	HeartbeatAgeSeconds *float64           `json:"heartbeat_age_seconds"`
	Stats               storage.AgentStats `json:"stats"`
}

// attentionRank orders agents by how urgently a human should look at them.
var attentionRank = map[string]int{
	state.StatusError:           0,
	state.StatusStuck:           1,
	state.StatusWaitingApproval: 2,
	state.StatusProcessing:      3,
	state.StatusIdle:            4,
	state.StatusOffline:         5,
}

// ListAgents handles GET /v1/agents with environment, group, and project_id
// filters. sort=attention orders by derived-status urgency.
func (h *Handlers) ListAgents(c *gin.Context) {
	tenantID, keyType, ok := viewer(c)
	if !ok {
		return
	}
	now := time.Now().UTC()

	environment := c.Query("environment")
	group := c.Query("group")

	var projectAgents map[string]bool
	if projectRef := c.Query("project_id"); projectRef != "" {
		project, err := h.store.GetProject(tenantID, projectRef)
		if err != nil {
			respondNotFound(c, "project not found")
			return
		}
		projectAgents = h.store.ProjectAgents(tenantID, project.ProjectID)
	}

	views := []*AgentView{}
	for _, rec := range h.store.AgentRecords(tenantID) {
		if environment != "" && (rec.Environment == nil || *rec.Environment != environment) {
			continue
		}
		if group != "" && (rec.Group == nil || *rec.Group != group) {
			continue
		}
		if projectAgents != nil && !projectAgents[rec.AgentID] {
			continue
		}
		views = append(views, h.agentView(tenantID, keyType, rec, now))
	}

	if c.Query("sort") == "attention" {
		sort.SliceStable(views, func(i, j int) bool {
			ri, rj := attentionRank[views[i].DerivedStatus], attentionRank[views[j].DerivedStatus]
			if ri != rj {
				return ri < rj
			}
			return views[i].LastSeen.After(views[j].LastSeen)
		})
	} else {
		sort.Slice(views, func(i, j int) bool { return views[i].AgentID < views[j].AgentID })
	}

	c.JSON(200, gin.H{"data": views})
}

// GetAgent handles GET /v1/agents/:id.
func (h *Handlers) GetAgent(c *gin.Context) {
	tenantID, keyType, ok := viewer(c)
	if !ok {
		return
	}
	rec, err := h.store.GetAgent(tenantID, c.Param("id"))
	if err != nil {
		respondNotFound(c, "agent not found")
		return
	}
	c.JSON(200, h.agentView(tenantID, keyType, rec, time.Now().UTC()))
}

// GetAgentPipeline handles GET /v1/agents/:id/pipeline.
func (h *Handlers) GetAgentPipeline(c *gin.Context) {
	tenantID, keyType, ok := viewer(c)
	if !ok {
		return
	}
	agentID := c.Param("id")
	if _, err := h.store.GetAgent(tenantID, agentID); err != nil {
		respondNotFound(c, "agent not found")
		return
	}
	c.JSON(200, h.engine.PipelineFor(tenantID, keyType, agentID))
}

func (h *Handlers) agentView(tenantID string, keyType events.KeyType, rec *storage.AgentRecord, now time.Time) *AgentView {
	return &AgentView{
		AgentID:             rec.AgentID,
		DerivedStatus:       h.engine.StatusFor(tenantID, rec.AgentID, now),
		AgentType:           rec.AgentType,
		AgentVersion:        rec.AgentVersion,
		Framework:           rec.Framework,
		Environment:         rec.Environment,
		Group:               rec.Group,
		FirstSeen:           rec.FirstSeen,
		LastSeen:            rec.LastSeen,
		LastHeartbeat:       rec.LastHeartbeat,
		LastEventType:       rec.LastEventType,
		LastTaskID:          rec.LastTaskID,
		LastProjectID:       rec.LastProjectID,
		HeartbeatAgeSeconds: state.HeartbeatAge(rec, now),
		Stats:               h.store.ComputeAgentStats1h(tenantID, keyType, rec.AgentID, now),
	}
}

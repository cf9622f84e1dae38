package api

import (
	"github.com/gin-gonic/gin"

	"github.com/hiveboard/hiveboard/internal/events"
	"github.com/hiveboard/hiveboard/internal/state"
	"github.com/hiveboard/hiveboard/internal/storage"
)

// TimelineResponse is the full derived view of one task.
type TimelineResponse struct {
	TaskID      string             `json:"task_id"`
	Events      []*events.Event    `json:"events"`
	ActionTree  []*state.ActionNode `json:"action_tree"`
	ErrorChains []state.ErrorChain `json:"error_chains"`
	Plan        *state.Plan        `json:"plan"`
}

// ListTasks handles GET /v1/tasks.
func (h *Handlers) ListTasks(c *gin.Context) {
	tenantID, keyType, ok := viewer(c)
	if !ok {
		return
	}
	since, ok := parseOptionalTime(c, "since")
	if !ok {
		return
	}
	until, ok := parseOptionalTime(c, "until")
	if !ok {
		return
	}

	tasks := h.store.ListTasks(storage.TaskFilter{
		TenantID:      tenantID,
		ViewerKeyType: keyType,
		AgentID:       c.Query("agent_id"),
		ProjectID:     c.Query("project_id"),
		Environment:   c.Query("environment"),
		Group:         c.Query("group"),
		Since:         since,
		Until:         until,
		Limit:         parseLimit(c),
	})
	c.JSON(200, gin.H{"data": tasks})
}

// GetTaskTimeline handles GET /v1/tasks/:id/timeline: events ascending plus
// the action tree, error chains, and plan overlay.
func (h *Handlers) GetTaskTimeline(c *gin.Context) {
	tenantID, keyType, ok := viewer(c)
	if !ok {
		return
	}
	taskID := c.Param("id")
	evs := h.store.TaskEvents(tenantID, keyType, taskID)
	if len(evs) == 0 {
		respondNotFound(c, "task not found")
		return
	}
	c.JSON(200, TimelineResponse{
		TaskID:      taskID,
		Events:      evs,
		ActionTree:  state.BuildActionTree(evs),
		ErrorChains: state.BuildErrorChains(evs),
		Plan:        state.BuildPlan(evs),
	})
}

package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/hiveboard/hiveboard/internal/events"
	"github.com/hiveboard/hiveboard/internal/storage"
	apiv1 "github.com/hiveboard/hiveboard/pkg/api/v1"
)

// ListEvents handles GET /v1/events with cursor pagination. Heartbeats are
// excluded unless exclude_heartbeats=false.
func (h *Handlers) ListEvents(c *gin.Context) {
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

	filter := storage.EventFilter{
		TenantID:      tenantID,
		ViewerKeyType: keyType,
		AgentID:       c.Query("agent_id"),
		TaskID:        c.Query("task_id"),
		ProjectID:     c.Query("project_id"),
		EventType:     events.EventType(c.Query("event_type")),
		Severity:      events.Severity(c.Query("severity")),
		PayloadKind:   c.Query("payload_kind"),
		Environment:   c.Query("environment"),
		Group:         c.Query("group"),
		Since:         since,
		Until:         until,
		Ascending:     c.Query("order") == "asc",
		Limit:         parseLimit(c),
		Cursor:        c.Query("cursor"),
	}
	if raw := c.Query("exclude_heartbeats"); raw != "" {
		exclude, err := strconv.ParseBool(raw)
		if err != nil {
			respondError(c, http.StatusBadRequest, "bad_request", "invalid exclude_heartbeats", nil)
			return
		}
		filter.ExcludeHeartbeats = &exclude
	}

	page, err := h.store.FilterEvents(filter)
	if err != nil {
		respondError(c, http.StatusBadRequest, "bad_request", err.Error(), nil)
		return
	}

	resp := apiv1.Paginated[*events.Event]{
		Data:       page.Events,
		Pagination: apiv1.Pagination{HasMore: page.HasMore},
	}
	if page.Cursor != "" {
		resp.Pagination.Cursor = &page.Cursor
	}
	c.JSON(http.StatusOK, resp)
}

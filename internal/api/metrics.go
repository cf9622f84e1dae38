package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hiveboard/hiveboard/internal/storage"
	apiv1 "github.com/hiveboard/hiveboard/pkg/api/v1"
)

// GetMetrics handles GET /v1/metrics: summary, bucketed timeseries, and
// per-group rollups for group_by agent or model.
func (h *Handlers) GetMetrics(c *gin.Context) {
	tenantID, keyType, ok := viewer(c)
	if !ok {
		return
	}
	since, until, ok := parseTimeRange(c, 24*time.Hour)
	if !ok {
		return
	}

	groupBy := c.Query("group_by")
	switch groupBy {
	case "", "agent", "model":
	default:
		respondError(c, http.StatusBadRequest, "bad_request", "group_by must be agent or model", nil)
		return
	}

	result := h.store.GetMetrics(storage.MetricsQuery{
		TenantID:      tenantID,
		ViewerKeyType: keyType,
		Since:         since,
		Until:         until,
		Interval:      parseInterval(c, time.Hour),
		GroupBy:       groupBy,
	})
	c.JSON(http.StatusOK, result)
}

// GetCostSummary handles GET /v1/cost.
func (h *Handlers) GetCostSummary(c *gin.Context) {
	tenantID, keyType, ok := viewer(c)
	if !ok {
		return
	}
	since, until, ok := parseTimeRange(c, 24*time.Hour)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.store.GetCostSummary(tenantID, keyType, &since, &until))
}

// GetCostCalls handles GET /v1/cost/calls and its /v1/llm-calls alias:
// individual llm_call rows ordered by cost or newest first.
func (h *Handlers) GetCostCalls(c *gin.Context) {
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

	offset := 0
	if raw := c.Query("offset"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			offset = v
		}
	}

	calls, hasMore := h.store.GetCostCalls(storage.CostCallsQuery{
		TenantID:      tenantID,
		ViewerKeyType: keyType,
		AgentID:       c.Query("agent_id"),
		Since:         since,
		Until:         until,
		OrderByCost:   c.Query("order") == "cost",
		Limit:         parseLimit(c),
		Offset:        offset,
	})
	c.JSON(http.StatusOK, apiv1.Paginated[*storage.CostCall]{
		Data:       calls,
		Pagination: apiv1.Pagination{HasMore: hasMore},
	})
}

// GetCostTimeseries handles GET /v1/cost/timeseries.
func (h *Handlers) GetCostTimeseries(c *gin.Context) {
	tenantID, keyType, ok := viewer(c)
	if !ok {
		return
	}
	since, until, ok := parseTimeRange(c, 24*time.Hour)
	if !ok {
		return
	}
	split := c.Query("split_by_model") == "true"
	buckets := h.store.GetCostTimeseries(tenantID, keyType, since, until, parseInterval(c, time.Hour), split)
	c.JSON(http.StatusOK, gin.H{"data": buckets})
}

// Package api serves the HiveBoard REST surface. All read handlers delegate
// to the storage engine and the state derivation engine.
package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hiveboard/hiveboard/internal/auth"
	"github.com/hiveboard/hiveboard/internal/common/logger"
	"github.com/hiveboard/hiveboard/internal/events"
	"github.com/hiveboard/hiveboard/internal/ingest"
	"github.com/hiveboard/hiveboard/internal/state"
	"github.com/hiveboard/hiveboard/internal/storage"
	apiv1 "github.com/hiveboard/hiveboard/pkg/api/v1"
)

const (
	defaultPageLimit = 100
	maxPageLimit     = 500
)

// Handlers bundles the dependencies of the REST surface.
type Handlers struct {
	store    *storage.Store
	engine   *state.Engine
	pipeline *ingest.Pipeline
	log      *logger.Logger
}

// NewHandlers creates the REST handlers.
func NewHandlers(store *storage.Store, engine *state.Engine, pipeline *ingest.Pipeline, log *logger.Logger) *Handlers {
	return &Handlers{
		store:    store,
		engine:   engine,
		pipeline: pipeline,
		log:      log.WithFields(zap.String("component", "api")),
	}
}

// RegisterRoutes mounts the full v1 surface.
func (h *Handlers) RegisterRoutes(r gin.IRouter) {
	v1 := r.Group("/v1")

	v1.POST("/ingest", h.Ingest)

	v1.GET("/agents", h.ListAgents)
	v1.GET("/agents/:id", h.GetAgent)
	v1.GET("/agents/:id/pipeline", h.GetAgentPipeline)

	v1.GET("/tasks", h.ListTasks)
	v1.GET("/tasks/:id/timeline", h.GetTaskTimeline)

	v1.GET("/events", h.ListEvents)
	v1.GET("/metrics", h.GetMetrics)

	v1.GET("/cost", h.GetCostSummary)
	v1.GET("/cost/calls", h.GetCostCalls)
	v1.GET("/cost/timeseries", h.GetCostTimeseries)
	v1.GET("/llm-calls", h.GetCostCalls)

	v1.GET("/projects", h.ListProjects)
	v1.POST("/projects", h.CreateProject)
	v1.GET("/projects/:id", h.GetProject)
	v1.PATCH("/projects/:id", h.UpdateProject)
	v1.DELETE("/projects/:id", h.DeleteProject)

	v1.GET("/alerts/rules", h.ListAlertRules)
	v1.POST("/alerts/rules", h.CreateAlertRule)
	v1.GET("/alerts/rules/:id", h.GetAlertRule)
	v1.PATCH("/alerts/rules/:id", h.UpdateAlertRule)
	v1.DELETE("/alerts/rules/:id", h.DeleteAlertRule)
	v1.GET("/alerts/history", h.ListAlertHistory)
}

// viewer extracts the authenticated tenant and key type.
func viewer(c *gin.Context) (string, events.KeyType, bool) {
	key, ok := auth.KeyFromContext(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "unauthorized", "missing authentication", nil)
		return "", "", false
	}
	return key.TenantID, key.KeyType, true
}

func respondError(c *gin.Context, status int, code, message string, details map[string]any) {
	c.JSON(status, apiv1.ErrorResponse{
		Error:   code,
		Message: message,
		Status:  status,
		Details: details,
	})
}

func respondNotFound(c *gin.Context, message string) {
	respondError(c, http.StatusNotFound, "not_found", message, nil)
}

// respondStorageError maps storage sentinel errors to their HTTP shape.
func respondStorageError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		respondNotFound(c, "resource not found")
	case errors.Is(err, storage.ErrConflict):
		respondError(c, http.StatusConflict, "conflict", "resource already exists", nil)
	case errors.Is(err, storage.ErrCannotDeleteDefault):
		respondError(c, http.StatusBadRequest, "cannot_delete_default", "the default project cannot be removed", nil)
	default:
		respondError(c, http.StatusInternalServerError, "internal_error", "internal error", nil)
	}
}

// parseTimeRange reads since/until query params, applying a default lookback
// when since is absent.
func parseTimeRange(c *gin.Context, defaultLookback time.Duration) (time.Time, time.Time, bool) {
	now := time.Now().UTC()
	since := now.Add(-defaultLookback)
	until := now

	if raw := c.Query("since"); raw != "" {
		t, err := events.ParseTimestamp(raw)
		if err != nil {
			respondError(c, http.StatusBadRequest, "bad_request", "invalid since timestamp", nil)
			return time.Time{}, time.Time{}, false
		}
		since = t
	}
	if raw := c.Query("until"); raw != "" {
		t, err := events.ParseTimestamp(raw)
		if err != nil {
			respondError(c, http.StatusBadRequest, "bad_request", "invalid until timestamp", nil)
			return time.Time{}, time.Time{}, false
		}
		until = t
	}
	return since, until, true
}

// parseOptionalTime reads one optional timestamp query param.
func parseOptionalTime(c *gin.Context, name string) (*time.Time, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	t, err := events.ParseTimestamp(raw)
	if err != nil {
		respondError(c, http.StatusBadRequest, "bad_request", "invalid "+name+" timestamp", nil)
		return nil, false
	}
	return &t, true
}

func parseLimit(c *gin.Context) int {
	limit := defaultPageLimit
	if raw := c.Query("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	return limit
}

// parseInterval reads an interval query param given in seconds or as a Go
// duration string.
func parseInterval(c *gin.Context, fallback time.Duration) time.Duration {
	raw := c.Query("interval")
	if raw == "" {
		return fallback
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return d
	}
	return fallback
}

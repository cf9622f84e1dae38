package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hiveboard/hiveboard/internal/storage"
)

type alertRuleRequest struct {
	Name            string         `json:"name"`
	ConditionType   string         `json:"condition_type"`
	ConditionParams map[string]any `json:"condition_params"`
	Severity        string         `json:"severity"`
	Channels        []string       `json:"channels"`
	Enabled         *bool          `json:"enabled"`
}

// ListAlertRules handles GET /v1/alerts/rules.
func (h *Handlers) ListAlertRules(c *gin.Context) {
	tenantID, _, ok := viewer(c)
	if !ok {
		return
	}
	rules := h.store.ListAlertRules(tenantID)
	if rules == nil {
		rules = []*storage.AlertRule{}
	}
	c.JSON(http.StatusOK, gin.H{"data": rules})
}

// CreateAlertRule handles POST /v1/alerts/rules.
func (h *Handlers) CreateAlertRule(c *gin.Context) {
	tenantID, _, ok := viewer(c)
	if !ok {
		return
	}
	var req alertRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Name == "" || req.ConditionType == "" {
		respondError(c, http.StatusBadRequest, "bad_request", "name and condition_type are required", nil)
		return
	}
	rule := &storage.AlertRule{
		TenantID:        tenantID,
		Name:            req.Name,
		ConditionType:   req.ConditionType,
		ConditionParams: req.ConditionParams,
		Severity:        req.Severity,
		Channels:        req.Channels,
		Enabled:         req.Enabled == nil || *req.Enabled,
	}
	if err := h.store.CreateAlertRule(rule); err != nil {
		respondStorageError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rule)
}

// GetAlertRule handles GET /v1/alerts/rules/:id.
func (h *Handlers) GetAlertRule(c *gin.Context) {
	tenantID, _, ok := viewer(c)
	if !ok {
		return
	}
	rule, err := h.store.GetAlertRule(tenantID, c.Param("id"))
	if err != nil {
		respondNotFound(c, "alert rule not found")
		return
	}
	c.JSON(http.StatusOK, rule)
}

// UpdateAlertRule handles PATCH /v1/alerts/rules/:id.
func (h *Handlers) UpdateAlertRule(c *gin.Context) {
	tenantID, _, ok := viewer(c)
	if !ok {
		return
	}
	existing, err := h.store.GetAlertRule(tenantID, c.Param("id"))
	if err != nil {
		respondNotFound(c, "alert rule not found")
		return
	}
	var req alertRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "bad_request", "malformed request body", nil)
		return
	}

	updated := *existing
	if req.Name != "" {
		updated.Name = req.Name
	}
	if req.ConditionType != "" {
		updated.ConditionType = req.ConditionType
	}
	if req.ConditionParams != nil {
		updated.ConditionParams = req.ConditionParams
	}
	if req.Severity != "" {
		updated.Severity = req.Severity
	}
	if req.Channels != nil {
		updated.Channels = req.Channels
	}
	if req.Enabled != nil {
		updated.Enabled = *req.Enabled
	}
	if err := h.store.UpdateAlertRule(&updated); err != nil {
		respondStorageError(c, err)
		return
	}
	c.JSON(http.StatusOK, &updated)
}

// DeleteAlertRule handles DELETE /v1/alerts/rules/:id.
func (h *Handlers) DeleteAlertRule(c *gin.Context) {
	tenantID, _, ok := viewer(c)
	if !ok {
		return
	}
	if err := h.store.DeleteAlertRule(tenantID, c.Param("id")); err != nil {
		respondStorageError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListAlertHistory handles GET /v1/alerts/history, newest first.
func (h *Handlers) ListAlertHistory(c *gin.Context) {
	tenantID, _, ok := viewer(c)
	if !ok {
		return
	}
	history := h.store.ListAlertHistory(tenantID, parseLimit(c))
	if history == nil {
		history = []*storage.AlertHistoryEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"data": history})
}

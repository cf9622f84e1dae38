package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hiveboard/hiveboard/internal/ingest"
	apiv1 "github.com/hiveboard/hiveboard/pkg/api/v1"
)

// Ingest handles POST /v1/ingest. Responds 200 when the whole batch was
// accepted cleanly and 207 when any event was rejected or warned about.
func (h *Handlers) Ingest(c *gin.Context) {
	tenantID, keyType, ok := viewer(c)
	if !ok {
		return
	}

	var req apiv1.IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "bad_request", "malformed request body", nil)
		return
	}

	resp, err := h.pipeline.Ingest(c.Request.Context(), tenantID, keyType, &req)
	if err != nil {
		switch {
		case errors.Is(err, ingest.ErrBatchTooLarge):
			respondError(c, http.StatusBadRequest, "bad_request", "batch exceeds 500 events", nil)
		case errors.Is(err, ingest.ErrMissingAgentID):
			respondError(c, http.StatusBadRequest, "bad_request", "envelope.agent_id is required", nil)
		default:
			h.log.Error("Ingest failed", zap.String("tenant_id", tenantID), zap.Error(err))
			respondError(c, http.StatusInternalServerError, "internal_error", "failed to persist batch", nil)
		}
		return
	}

	status := http.StatusOK
	if resp.Rejected > 0 || len(resp.Warnings) > 0 {
		status = http.StatusMultiStatus
	}
	c.JSON(status, resp)
}

package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hiveboard/hiveboard/internal/storage"
)

type projectRequest struct {
	Slug     string `json:"slug"`
	Name     string `json:"name"`
	Archived *bool  `json:"archived"`
}

// ListProjects handles GET /v1/projects.
func (h *Handlers) ListProjects(c *gin.Context) {
	tenantID, _, ok := viewer(c)
	if !ok {
		return
	}
	projects := h.store.ListProjects(tenantID)
	if projects == nil {
		projects = []*storage.Project{}
	}
	c.JSON(http.StatusOK, gin.H{"data": projects})
}

// CreateProject handles POST /v1/projects. Slug collisions conflict.
func (h *Handlers) CreateProject(c *gin.Context) {
	tenantID, _, ok := viewer(c)
	if !ok {
		return
	}
	var req projectRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Slug == "" {
		respondError(c, http.StatusBadRequest, "bad_request", "slug is required", nil)
		return
	}
	project := &storage.Project{
		TenantID: tenantID,
		Slug:     req.Slug,
		Name:     req.Name,
	}
	if err := h.store.CreateProject(project); err != nil {
		respondStorageError(c, err)
		return
	}
	c.JSON(http.StatusCreated, project)
}

// GetProject handles GET /v1/projects/:id, matching ID or slug.
func (h *Handlers) GetProject(c *gin.Context) {
	tenantID, _, ok := viewer(c)
	if !ok {
		return
	}
	project, err := h.store.GetProject(tenantID, c.Param("id"))
	if err != nil {
		respondNotFound(c, "project not found")
		return
	}
	c.JSON(http.StatusOK, project)
}

// UpdateProject handles PATCH /v1/projects/:id. The default project keeps its
// slug; archiving is reversible.
func (h *Handlers) UpdateProject(c *gin.Context) {
	tenantID, _, ok := viewer(c)
	if !ok {
		return
	}
	existing, err := h.store.GetProject(tenantID, c.Param("id"))
	if err != nil {
		respondNotFound(c, "project not found")
		return
	}
	var req projectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "bad_request", "malformed request body", nil)
		return
	}

	updated := *existing
	if req.Slug != "" {
		updated.Slug = req.Slug
	}
	if req.Name != "" {
		updated.Name = req.Name
	}
	if req.Archived != nil {
		updated.Archived = *req.Archived
	}
	if err := h.store.UpdateProject(&updated); err != nil {
		respondStorageError(c, err)
		return
	}
	c.JSON(http.StatusOK, &updated)
}

// DeleteProject handles DELETE /v1/projects/:id. The implicit default cannot
// be deleted.
func (h *Handlers) DeleteProject(c *gin.Context) {
	tenantID, _, ok := viewer(c)
	if !ok {
		return
	}
	if err := h.store.DeleteProject(tenantID, c.Param("id")); err != nil {
		respondStorageError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

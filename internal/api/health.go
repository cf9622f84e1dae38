package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterHealthRoute mounts the unauthenticated liveness endpoint.
func (h *Handlers) RegisterHealthRoute(r gin.IRouter) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"tables": h.store.TableCounts(),
		})
	})
}

package main

import (
	"github.com/gin-gonic/gin"

	"github.com/hiveboard/hiveboard/internal/api"
	"github.com/hiveboard/hiveboard/internal/broadcast"
	"github.com/hiveboard/hiveboard/internal/common/httpmw"
	"github.com/hiveboard/hiveboard/internal/common/logger"
)

// setupRoutes mounts the REST surface, the mode-selected streaming surface,
// and the health endpoint.
func setupRoutes(router *gin.Engine, svc *services, log *logger.Logger) {
	router.Use(httpmw.RequestLogger(log, "hiveboard"))
	router.Use(httpmw.OtelTracing("hiveboard"))
	router.Use(svc.auth.Handler())

	handlers := api.NewHandlers(svc.store, svc.engine, svc.pipeline, log)
	handlers.RegisterRoutes(router)
	handlers.RegisterHealthRoute(router)

	if svc.hub != nil {
		stream := broadcast.NewStreamHandler(svc.hub, svc.auth.AuthenticateToken, log)
		router.GET("/v1/stream", stream.HandleConnection)
	}
	if svc.bridge != nil {
		svc.bridge.RegisterRoutes(router)
	}
}

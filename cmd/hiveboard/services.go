package main

import (
	"context"

	"github.com/hiveboard/hiveboard/internal/alerts"
	"github.com/hiveboard/hiveboard/internal/auth"
	"github.com/hiveboard/hiveboard/internal/broadcast"
	"github.com/hiveboard/hiveboard/internal/common/config"
	"github.com/hiveboard/hiveboard/internal/common/logger"
	"github.com/hiveboard/hiveboard/internal/events/bus"
	"github.com/hiveboard/hiveboard/internal/ingest"
	"github.com/hiveboard/hiveboard/internal/state"
	"github.com/hiveboard/hiveboard/internal/storage"
)

// services bundles the wired application components.
type services struct {
	store       *storage.Store
	engine      *state.Engine
	broadcaster *broadcast.Broadcaster
	dispatcher  *broadcast.Dispatcher
	pipeline    *ingest.Pipeline
	auth        *auth.Middleware
	hub         *broadcast.Hub
	bridge      *broadcast.Bridge
}

// provideServices wires the pipeline: store, derivation engine, broadcaster,
// alert evaluator, and the mode-selected broadcast back-end.
func provideServices(ctx context.Context, cfg *config.Config, store *storage.Store, eventBus bus.EventBus, log *logger.Logger) *services {
	broadcaster := broadcast.NewBroadcaster(eventBus, log)
	engine := state.NewEngine(store, cfg.StuckThreshold(), broadcaster, log)
	evaluator := alerts.NewEvaluator(store, log)
	pipeline := ingest.New(store, engine, broadcaster, evaluator, log)
	authMW := auth.New(store, log)

	svc := &services{
		store:       store,
		engine:      engine,
		broadcaster: broadcaster,
		pipeline:    pipeline,
		auth:        authMW,
	}

	// One backend per process: the native hub in local mode, the gateway
	// bridge in production.
	var backend broadcast.Backend
	if cfg.Mode == config.ModeProduction {
		svc.bridge = broadcast.NewBridge(cfg.Gateway.Endpoint, authMW.AuthenticateToken, log)
		svc.bridge.Start(ctx)
		backend = svc.bridge
	} else {
		svc.hub = broadcast.NewHub(log)
		go svc.hub.Run(ctx)
		backend = svc.hub
	}

	svc.dispatcher = broadcast.NewDispatcher(eventBus, backend, log)
	if err := svc.dispatcher.Start(); err != nil {
		log.Fatal("Failed to start broadcast dispatcher")
	}
	return svc
}

package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/hiveboard/hiveboard/internal/common/config"
	"github.com/hiveboard/hiveboard/internal/common/logger"
	"github.com/hiveboard/hiveboard/internal/pricing"
	"github.com/hiveboard/hiveboard/internal/storage"
)

// provideStorage loads the tables, bootstraps the dev tenant, and starts the
// retention loop.
func provideStorage(ctx context.Context, cfg *config.Config, log *logger.Logger) *storage.Store {
	store, err := storage.New(cfg.Storage.DataDir, pricing.Estimate, log)
	if err != nil {
		log.Fatal("Failed to initialize storage", zap.Error(err))
	}

	if cfg.Auth.DevKey != "" {
		if err := store.EnsureDevTenant(cfg.Auth.DevKey); err != nil {
			log.Fatal("Failed to bootstrap dev tenant", zap.Error(err))
		}
		log.Info("Dev tenant ready")
	}

	go store.RunPruneLoop(ctx, cfg.Retention.PruneInterval())
	return store
}

package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"moduforge.dev/moduforge/internal/pkg/logger"
)

// Start starts all background services: the runtime's dispatch loop and,
// when async persistence is configured, the River job consumer.
func (a *Application) Start(ctx context.Context) error {
	if err := a.Runtime.Start(ctx, a.Pools); err != nil {
		return fmt.Errorf("start dispatch loop: %w", err)
	}
	logger.Info("dispatch loop started",
		zap.Int("queue_size", a.Runtime.Options().QueueSize),
	)

	if a.RiverClient != nil {
		if err := a.RiverClient.Start(ctx); err != nil {
			return fmt.Errorf("start river client: %w", err)
		}
		logger.Info("River client started, persistence jobs will now be consumed")
	}
	return nil
}

// Shutdown gracefully stops everything in reverse dependency order: stop
// accepting dispatches, flush the persistence window, stop River, drain
// the worker pools, close the connection pool.
func (a *Application) Shutdown(ctx context.Context) {
	a.Runtime.Stop(ctx)

	if a.Committer != nil {
		a.Committer.Flush()
	}
	if a.RiverClient != nil {
		if err := a.RiverClient.Stop(ctx); err != nil {
			logger.Error("failed to stop river client", zap.Error(err))
		} else {
			logger.Info("River client stopped")
		}
	}
	if a.Pools != nil {
		a.Pools.Shutdown()
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
	logger.Info("application stopped")
}

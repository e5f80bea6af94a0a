// Package worker provides goroutine pool management for the runtime's
// async dispatch path and bridge fan-out. All background concurrency goes
// through a Pool with context propagation instead of naked goroutines.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"moduforge.dev/moduforge/internal/pkg/logger"
)

// ErrPoolClosed is returned when submitting to a closed pool.
var ErrPoolClosed = errors.New("worker pool is closed")

// Task is a context-aware task function.
type Task func(ctx context.Context)

// Pool wraps ants.Pool with context-aware submission.
type Pool struct {
	pool *ants.Pool
	name string
}

// Pools is the collection of worker pools shared across a runtime instance.
type Pools struct {
	// Dispatch runs async-runtime transaction dispatch and middleware work.
	Dispatch *Pool
	// Bridge runs external-bridge fan-out (search indexing, CRDT translation).
	Bridge *Pool

	// serviceCtx is the service lifecycle context for detached tasks.
	serviceCtx    context.Context
	serviceCancel context.CancelFunc
}

// PoolConfig contains worker pool sizing.
type PoolConfig struct {
	DispatchPoolSize int
	BridgePoolSize   int
}

// DefaultPoolConfig returns default configuration.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		DispatchPoolSize: 100,
		BridgePoolSize:   50,
	}
}

// NewPools creates the worker pool collection.
func NewPools(ctx context.Context, cfg PoolConfig) (*Pools, error) {
	serviceCtx, serviceCancel := context.WithCancel(ctx)

	panicHandler := func(p interface{}) {
		logger.Error("worker panic recovered",
			zap.Any("panic", p),
			zap.Stack("stack"),
		)
	}

	dispatchAnts, err := ants.NewPool(cfg.DispatchPoolSize,
		ants.WithPanicHandler(panicHandler),
		ants.WithNonblocking(false),
		ants.WithExpiryDuration(10*time.Second),
	)
	if err != nil {
		serviceCancel()
		return nil, err
	}

	bridgeAnts, err := ants.NewPool(cfg.BridgePoolSize,
		ants.WithPanicHandler(panicHandler),
		ants.WithNonblocking(false),
		ants.WithExpiryDuration(30*time.Second), // bridge fan-out tasks may be longer-lived
	)
	if err != nil {
		dispatchAnts.Release()
		serviceCancel()
		return nil, err
	}

	return &Pools{
		Dispatch:      &Pool{pool: dispatchAnts, name: "dispatch"},
		Bridge:        &Pool{pool: bridgeAnts, name: "bridge"},
		serviceCtx:    serviceCtx,
		serviceCancel: serviceCancel,
	}, nil
}

// Submit submits a context-aware task.
// The task receives the caller's context and should check ctx.Done() at blocking points.
// If context is already cancelled, returns ctx.Err() immediately without submitting.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	return p.pool.Submit(func() {
		select {
		case <-ctx.Done():
			logger.Debug("task skipped: context cancelled",
				zap.String("pool", p.name),
				zap.Error(ctx.Err()),
			)
			return
		default:
		}
		task(ctx)
	})
}

// Running returns the number of currently running goroutines in the pool.
func (p *Pool) Running() int { return p.pool.Running() }

// SubmitDetached submits a detached background task.
// Detached tasks use the service lifecycle context instead of a request
// context, for long-running work that should survive request cancellation
// but still respect graceful shutdown.
func (p *Pools) SubmitDetached(poolName string, task Task) error {
	var pool *Pool
	switch poolName {
	case "bridge":
		pool = p.Bridge
	default:
		pool = p.Dispatch
	}

	return pool.pool.Submit(func() {
		select {
		case <-p.serviceCtx.Done():
			logger.Debug("detached task skipped: service shutting down",
				zap.String("pool", poolName),
			)
			return
		default:
		}
		task(p.serviceCtx)
	})
}

// Shutdown gracefully shuts down all pools with a timeout.
// Cancels the service context first, then waits for running tasks (max 30s).
func (p *Pools) Shutdown() {
	p.serviceCancel()

	const shutdownTimeout = 30 * time.Second
	if err := p.Dispatch.pool.ReleaseTimeout(shutdownTimeout); err != nil {
		logger.Warn("dispatch pool shutdown timeout", zap.Error(err))
	}
	if err := p.Bridge.pool.ReleaseTimeout(shutdownTimeout); err != nil {
		logger.Warn("bridge pool shutdown timeout", zap.Error(err))
	}
}

// Metrics returns pool metrics for observability.
func (p *Pools) Metrics() map[string]interface{} {
	return map[string]interface{}{
		"dispatch": map[string]int{
			"running": p.Dispatch.pool.Running(),
			"free":    p.Dispatch.pool.Free(),
			"cap":     p.Dispatch.pool.Cap(),
		},
		"bridge": map[string]int{
			"running": p.Bridge.pool.Running(),
			"free":    p.Bridge.pool.Free(),
			"cap":     p.Bridge.pool.Cap(),
		},
	}
}

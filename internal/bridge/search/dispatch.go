package search

import (
	"context"

	"go.uber.org/zap"

	"moduforge.dev/moduforge/internal/pkg/logger"
	"moduforge.dev/moduforge/internal/pkg/worker"
	"moduforge.dev/moduforge/internal/state"
	"moduforge.dev/moduforge/internal/step"
	"moduforge.dev/moduforge/internal/transaction"
)

// Dispatcher adapts an Indexer to the runtime's commit hook, pushing the
// actual index work onto the bridge worker pool so indexing never blocks
// the dispatch path.
type Dispatcher struct {
	indexer Indexer
	pools   *worker.Pools
}

// NewDispatcher wires an indexer to the shared worker pools.
func NewDispatcher(indexer Indexer, pools *worker.Pools) *Dispatcher {
	return &Dispatcher{indexer: indexer, pools: pools}
}

// OnCommitted is the runtime commit hook: it snapshots the committed
// patches and schedules a TransactionCommitted index event. Failures are
// logged; the commit has already happened.
func (d *Dispatcher) OnCommitted(_ context.Context, committed []*transaction.Transaction, newState *state.State) error {
	var patches []step.Patch
	for _, tr := range committed {
		patches = append(patches, tr.Patches()...)
	}
	event := IndexEvent{
		Kind:      TransactionCommitted,
		Patches:   patches,
		PoolAfter: newState.Doc(),
	}
	err := d.pools.SubmitDetached("bridge", func(ctx context.Context) {
		if err := d.indexer.Handle(ctx, event); err != nil {
			logger.Warn("index event failed",
				zap.Int("patches", len(event.Patches)),
				zap.Error(err),
			)
		}
	})
	if err != nil {
		logger.Warn("index fan-out submit failed", zap.Error(err))
	}
	return nil
}

// RebuildAll schedules a full re-index of the given state's document.
func (d *Dispatcher) RebuildAll(s *state.State) error {
	event := IndexEvent{Kind: Rebuild, PoolAfter: s.Doc()}
	return d.pools.SubmitDetached("bridge", func(ctx context.Context) {
		if err := d.indexer.Handle(ctx, event); err != nil {
			logger.Warn("index rebuild failed", zap.Error(err))
		}
	})
}

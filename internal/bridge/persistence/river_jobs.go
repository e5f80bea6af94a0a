package persistence

import (
	"context"

	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"moduforge.dev/moduforge/internal/pkg/logger"
)

// PersistBatchArgs carries one group-committed batch of events into the
// durable queue. The batch is self-contained: a retried job re-appends the
// same events and the store's transaction-id conflict guard keeps the
// stream clean.
type PersistBatchArgs struct {
	Events []PersistedEvent `json:"events"`
}

// Kind returns the job kind identifier for event-batch persistence.
func (PersistBatchArgs) Kind() string { return "moduforge_persist_batch" }

// InsertOpts returns default insert options for persistence jobs.
func (PersistBatchArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       "moduforge_persistence",
		MaxAttempts: 5,
	}
}

// PersistBatchWorker appends queued batches to the event store.
type PersistBatchWorker struct {
	river.WorkerDefaults[PersistBatchArgs]
	store Store
}

// NewPersistBatchWorker constructs the worker around a store.
func NewPersistBatchWorker(store Store) *PersistBatchWorker {
	return &PersistBatchWorker{store: store}
}

// Work appends the job's event batch.
func (w *PersistBatchWorker) Work(ctx context.Context, job *river.Job[PersistBatchArgs]) error {
	logger.Debug("persisting event batch",
		zap.Int("events", len(job.Args.Events)),
		zap.Int("attempt", job.Attempt),
	)
	return w.store.AppendBatch(ctx, job.Args.Events)
}

package persistence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"moduforge.dev/moduforge/internal/bridge"
	"moduforge.dev/moduforge/internal/pkg/logger"
	"moduforge.dev/moduforge/internal/state"
	"moduforge.dev/moduforge/internal/transaction"
)

// CommitMode selects how committed transactions reach durable storage.
type CommitMode string

const (
	// MemoryOnly keeps the stream in process; nothing survives a restart.
	MemoryOnly CommitMode = "memory"
	// AsyncDurable groups events for up to GroupWindow before handing the
	// batch to the durable job queue; the dispatch path never waits on
	// the database.
	AsyncDurable CommitMode = "async"
	// SyncDurable appends inline before the commit hook returns.
	SyncDurable CommitMode = "sync"
)

// DefaultGroupWindow is the AsyncDurable batching window.
const DefaultGroupWindow = 50 * time.Millisecond

// Committer translates committed transactions into persisted events under
// one of the three commit modes. It is registered with the runtime as a
// commit hook.
type Committer struct {
	mode        CommitMode
	store       Store
	riverClient *river.Client[pgx.Tx]
	groupWindow time.Duration

	mu      sync.Mutex
	pending []PersistedEvent
	timer   *time.Timer
}

// NewCommitter builds a committer. riverClient may be nil except for
// AsyncDurable; groupWindow <= 0 selects the default.
func NewCommitter(mode CommitMode, store Store, riverClient *river.Client[pgx.Tx], groupWindow time.Duration) (*Committer, error) {
	if mode == AsyncDurable && riverClient == nil {
		return nil, fmt.Errorf("persistence: async durable mode requires a river client")
	}
	if groupWindow <= 0 {
		groupWindow = DefaultGroupWindow
	}
	return &Committer{
		mode:        mode,
		store:       store,
		riverClient: riverClient,
		groupWindow: groupWindow,
	}, nil
}

// OnCommitted is the runtime commit hook: it encodes each committed
// transaction and routes the batch per the commit mode.
func (c *Committer) OnCommitted(ctx context.Context, committed []*transaction.Transaction, newState *state.State) error {
	events := make([]PersistedEvent, 0, len(committed))
	now := time.Now()
	for _, tr := range committed {
		ev, err := EncodeTransaction(tr)
		if err != nil {
			return bridge.Errorf("persistence", "encode transaction", err)
		}
		ev.Timestamp = now
		events = append(events, ev)
	}

	switch c.mode {
	case MemoryOnly, SyncDurable:
		if err := c.store.AppendBatch(ctx, events); err != nil {
			return bridge.Errorf("persistence", "append batch", err)
		}
		return nil
	case AsyncDurable:
		c.enqueue(events)
		return nil
	default:
		return bridge.Errorf("persistence", "commit", fmt.Errorf("unknown commit mode %q", c.mode))
	}
}

// enqueue buffers events and arms the group-window timer; the first event
// of a window starts the clock, later ones ride along.
func (c *Committer) enqueue(events []PersistedEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = append(c.pending, events...)
	if c.timer == nil {
		c.timer = time.AfterFunc(c.groupWindow, c.flushWindow)
	}
}

func (c *Committer) flushWindow() {
	c.mu.Lock()
	batch := c.pending
	c.pending = nil
	c.timer = nil
	c.mu.Unlock()
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := c.riverClient.Insert(ctx, PersistBatchArgs{Events: batch}, nil); err != nil {
		logger.Error("failed to enqueue persistence batch, events lost from durable stream",
			zap.Int("events", len(batch)),
			zap.Error(err),
		)
	}
}

// Flush forces any buffered AsyncDurable window out immediately, used at
// shutdown.
func (c *Committer) Flush() {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.mu.Unlock()
	c.flushWindow()
}

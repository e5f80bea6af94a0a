package runtime

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"moduforge.dev/moduforge/internal/pkg/logger"
	"moduforge.dev/moduforge/internal/pkg/worker"
	"moduforge.dev/moduforge/internal/state"
	"moduforge.dev/moduforge/internal/transaction"
)

// dispatchRequest is one queued transaction plus its caller's reply
// channel.
type dispatchRequest struct {
	ctx   context.Context
	tr    *transaction.Transaction
	reply chan error
}

// ForgeAsyncRuntime drives the shared dispatch algorithm from a bounded
// ingress queue drained by a single loop, so transactions are applied in
// submission order and the atomic swap stays single-writer. Plugin and
// middleware bodies may block on I/O inside the loop; parallelism comes
// from running multiple runtime instances, never from concurrent dispatch
// within one.
type ForgeAsyncRuntime struct {
	*ForgeRuntime

	queue chan dispatchRequest

	startOnce sync.Once
	started   bool
	stopOnce  sync.Once
	stopped   chan struct{}
	drained   chan struct{}
}

// NewAsync wraps a synchronous runtime with the bounded ingress queue.
func NewAsync(initial *state.State, opts Options) *ForgeAsyncRuntime {
	base := New(initial, opts)
	return &ForgeAsyncRuntime{
		ForgeRuntime: base,
		queue:        make(chan dispatchRequest, base.opts.QueueSize),
		stopped:      make(chan struct{}),
		drained:      make(chan struct{}),
	}
}

// Start launches the dispatch loop on the given worker pool. Safe to call
// once; later calls are no-ops.
func (r *ForgeAsyncRuntime) Start(ctx context.Context, pools *worker.Pools) error {
	var startErr error
	r.startOnce.Do(func() {
		startErr = pools.SubmitDetached("dispatch", func(serviceCtx context.Context) {
			r.loop(serviceCtx)
		})
		r.started = startErr == nil
	})
	return startErr
}

func (r *ForgeAsyncRuntime) loop(serviceCtx context.Context) {
	defer close(r.drained)
	for {
		select {
		case <-serviceCtx.Done():
			r.failPending()
			return
		case <-r.stopped:
			r.failPending()
			return
		case req := <-r.queue:
			select {
			case <-req.ctx.Done():
				req.reply <- &Error{Kind: Cancelled, Err: req.ctx.Err()}
			default:
				req.reply <- r.Dispatch(req.ctx, req.tr)
			}
		}
	}
}

// failPending rejects whatever is still queued at shutdown.
func (r *ForgeAsyncRuntime) failPending() {
	for {
		select {
		case req := <-r.queue:
			req.reply <- &Error{Kind: ShuttingDown}
		default:
			return
		}
	}
}

// DispatchFlow enqueues tr and awaits its completion. A full queue rejects
// immediately with BackpressureRejected rather than blocking the caller;
// cancellation of ctx while waiting returns Cancelled, and the dispatch
// loop's all-or-nothing apply guarantees the runtime is left consistent
// either way.
func (r *ForgeAsyncRuntime) DispatchFlow(ctx context.Context, tr *transaction.Transaction) error {
	req := dispatchRequest{ctx: ctx, tr: tr, reply: make(chan error, 1)}
	select {
	case r.queue <- req:
	default:
		return &Error{Kind: BackpressureRejected}
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return &Error{Kind: Cancelled, Err: ctx.Err()}
	}
}

// Stop terminates the dispatch loop and waits for it to drain.
func (r *ForgeAsyncRuntime) Stop(ctx context.Context) {
	r.stopOnce.Do(func() {
		close(r.stopped)
	})
	if r.started {
		select {
		case <-r.drained:
		case <-ctx.Done():
			logger.Warn("async runtime stop timed out waiting for dispatch loop",
				zap.Error(ctx.Err()),
			)
		}
	}
	r.Destroy(context.Background())
}

// QueueDepth reports how many dispatches are waiting.
func (r *ForgeAsyncRuntime) QueueDepth() int {
	return len(r.queue)
}

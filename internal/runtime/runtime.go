package runtime

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"moduforge.dev/moduforge/internal/eventbus"
	"moduforge.dev/moduforge/internal/history"
	"moduforge.dev/moduforge/internal/pkg/logger"
	"moduforge.dev/moduforge/internal/state"
	"moduforge.dev/moduforge/internal/transaction"
)

// CommitHook is how external bridges observe committed transactions. Hooks
// run after Event Applied is published; their errors are bridge-level
// warnings and can never roll back the commit.
type CommitHook func(ctx context.Context, committed []*transaction.Transaction, newState *state.State) error

// ForgeRuntime is the synchronous runtime: a single thread of control where
// Dispatch is a blocking call. The current-state cell is an atomic pointer,
// so readers on other goroutines always observe either the pre- or the
// post-dispatch state, never a torn value.
type ForgeRuntime struct {
	opts        Options
	current     atomic.Pointer[state.State]
	history     *history.Manager
	events      *eventbus.Bus
	middlewares *MiddlewareStack

	hookMu sync.RWMutex
	hooks  []CommitHook

	// dispatchMu serializes dispatches; only one is active at a time.
	dispatchMu sync.Mutex
}

// New constructs a runtime around an initial state and publishes the
// Created event.
func New(initial *state.State, opts Options) *ForgeRuntime {
	opts = opts.Normalize()
	r := &ForgeRuntime{
		opts:        opts,
		history:     history.NewManager(initial, opts.HistoryLimit),
		events:      eventbus.NewBus(opts.EventHandlerTimeout),
		middlewares: NewMiddlewareStack(),
	}
	r.current.Store(initial)
	r.events.Publish(context.Background(), eventbus.Created{State: initial})
	return r
}

// CurrentState returns the live state snapshot.
func (r *ForgeRuntime) CurrentState() *state.State {
	return r.current.Load()
}

// Tr derives a transaction from the current state.
func (r *ForgeRuntime) Tr() *transaction.Transaction {
	return r.CurrentState().Tr()
}

// History returns the undo/redo manager.
func (r *ForgeRuntime) History() *history.Manager {
	return r.history
}

// Events returns the runtime's event bus.
func (r *ForgeRuntime) Events() *eventbus.Bus {
	return r.events
}

// Middlewares returns the middleware stack for registration.
func (r *ForgeRuntime) Middlewares() *MiddlewareStack {
	return r.middlewares
}

// Options returns the normalized runtime tunables.
func (r *ForgeRuntime) Options() Options {
	return r.opts
}

// OnCommitted registers a commit hook for an external bridge.
func (r *ForgeRuntime) OnCommitted(hook CommitHook) {
	r.hookMu.Lock()
	defer r.hookMu.Unlock()
	r.hooks = append(r.hooks, hook)
}

// Undo restores the previous state, swapping it into the current cell.
func (r *ForgeRuntime) Undo() *state.State {
	s := r.history.Undo()
	if s != nil {
		r.current.Store(s)
	}
	return s
}

// Redo restores the next state, symmetric to Undo.
func (r *ForgeRuntime) Redo() *state.State {
	s := r.history.Redo()
	if s != nil {
		r.current.Store(s)
	}
	return s
}

// Destroy publishes the Destroyed event. The runtime has no background
// machinery of its own to stop; async variants layer that on top.
func (r *ForgeRuntime) Destroy(ctx context.Context) {
	r.events.Publish(ctx, eventbus.Destroyed{})
}

// Dispatch runs the full dispatch algorithm for tr: before middlewares,
// apply, atomic state swap, history record, events, commit hooks, after
// middlewares, then any middleware follow-ons up to the configured depth.
// Errors before the swap abort with observable state unchanged.
func (r *ForgeRuntime) Dispatch(ctx context.Context, tr *transaction.Transaction) error {
	r.dispatchMu.Lock()
	defer r.dispatchMu.Unlock()
	return r.dispatchAtDepth(ctx, tr, 0)
}

func (r *ForgeRuntime) dispatchAtDepth(ctx context.Context, tr *transaction.Transaction, depth int) error {
	for _, mw := range r.middlewares.All() {
		if err := r.runBefore(ctx, mw, tr); err != nil {
			return err
		}
	}

	tr.Commit()
	pre := r.current.Load()
	res, err := pre.Apply(ctx, tr)
	if key, filtered := state.IsFilteredOut(err); filtered {
		r.events.Publish(ctx, eventbus.Filtered{PluginKey: key, TransactionID: tr.ID()})
		return err
	}
	if err != nil {
		r.events.Publish(ctx, eventbus.DispatchFailed{Err: err, TransactionID: tr.ID()})
		return &Error{Kind: ApplyFailed, Err: err}
	}

	// Swap point: everything past here is post-commit and can only warn.
	r.current.Store(res.NewState)
	r.history.Record(res.Transactions, res.NewState)
	r.events.Publish(ctx, eventbus.Applied{Transactions: res.Transactions, NewState: res.NewState})
	r.runCommitHooks(ctx, res)

	var followups []*transaction.Transaction
	for _, mw := range r.middlewares.All() {
		if follow := r.runAfter(ctx, mw, res); follow != nil {
			followups = append(followups, follow)
		}
	}

	for _, follow := range followups {
		if depth+1 > r.opts.MaxMiddlewareDepth {
			logger.Warn("middleware follow-on dropped: max depth reached",
				zap.Int("max_depth", r.opts.MaxMiddlewareDepth),
				zap.String("transaction_id", follow.ID().String()),
			)
			continue
		}
		if err := r.dispatchAtDepth(ctx, follow, depth+1); err != nil {
			logger.Warn("middleware follow-on dispatch failed",
				zap.String("transaction_id", follow.ID().String()),
				zap.Error(err),
			)
		}
	}
	return nil
}

// runBefore executes one before hook under the middleware deadline. A
// timeout or error here is fatal to the dispatch.
func (r *ForgeRuntime) runBefore(ctx context.Context, mw Middleware, tr *transaction.Transaction) error {
	mctx, cancel := context.WithTimeout(ctx, r.opts.MiddlewareTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- mw.BeforeDispatch(mctx, tr)
	}()
	select {
	case err := <-done:
		if err != nil {
			return &Error{Kind: MiddlewareFailed, Middleware: mw.Name(), Phase: "before", Err: err}
		}
		return nil
	case <-mctx.Done():
		return &Error{Kind: MiddlewareTimeout, Middleware: mw.Name(), Phase: "before"}
	}
}

// runAfter executes one after hook. Timeouts and errors here are
// non-fatal: the commit already happened, so they only warn.
func (r *ForgeRuntime) runAfter(ctx context.Context, mw Middleware, res *state.ApplyResult) *transaction.Transaction {
	mctx, cancel := context.WithTimeout(ctx, r.opts.MiddlewareTimeout)
	defer cancel()

	type afterResult struct {
		follow *transaction.Transaction
		err    error
	}
	done := make(chan afterResult, 1)
	go func() {
		follow, err := mw.AfterDispatch(mctx, res.NewState, res.Transactions)
		done <- afterResult{follow: follow, err: err}
	}()
	select {
	case out := <-done:
		if out.err != nil {
			logger.Warn("after-dispatch middleware failed",
				zap.String("middleware", mw.Name()),
				zap.Error(out.err),
			)
			return nil
		}
		return out.follow
	case <-mctx.Done():
		logger.Warn("after-dispatch middleware timed out",
			zap.String("middleware", mw.Name()),
			zap.Duration("timeout", r.opts.MiddlewareTimeout),
		)
		return nil
	}
}

func (r *ForgeRuntime) runCommitHooks(ctx context.Context, res *state.ApplyResult) {
	r.hookMu.RLock()
	hooks := append([]CommitHook(nil), r.hooks...)
	r.hookMu.RUnlock()
	for i, hook := range hooks {
		start := time.Now()
		if err := hook(ctx, res.Transactions, res.NewState); err != nil {
			logger.Warn("commit hook failed",
				zap.Int("hook", i),
				zap.Duration("elapsed", time.Since(start)),
				zap.Error(err),
			)
		}
	}
}

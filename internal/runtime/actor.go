package runtime

import (
	"context"
	"sync"

	"moduforge.dev/moduforge/internal/state"
	"moduforge.dev/moduforge/internal/transaction"
)

// ForgeActorRuntime is the message-passing variant: one goroutine owns the
// current state and processes Dispatch messages from a mailbox. It exists
// for hosts that want several independent documents, each behind its own
// actor; parallelism is across actors, never within one.
type ForgeActorRuntime struct {
	*ForgeRuntime

	mailbox chan dispatchRequest
	done    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

// NewActor constructs the actor and starts its owning goroutine.
func NewActor(initial *state.State, opts Options) *ForgeActorRuntime {
	base := New(initial, opts)
	a := &ForgeActorRuntime{
		ForgeRuntime: base,
		mailbox:      make(chan dispatchRequest, base.opts.QueueSize),
		done:         make(chan struct{}),
	}
	a.wg.Add(1)
	go a.run()
	return a
}

func (a *ForgeActorRuntime) run() {
	defer a.wg.Done()
	for {
		select {
		case <-a.done:
			for {
				select {
				case req := <-a.mailbox:
					req.reply <- &Error{Kind: ShuttingDown}
				default:
					return
				}
			}
		case req := <-a.mailbox:
			req.reply <- a.Dispatch(req.ctx, req.tr)
		}
	}
}

// Send delivers a Dispatch message and returns the reply channel; callers
// that want blocking semantics use SendWait.
func (a *ForgeActorRuntime) Send(ctx context.Context, tr *transaction.Transaction) (<-chan error, error) {
	req := dispatchRequest{ctx: ctx, tr: tr, reply: make(chan error, 1)}
	select {
	case a.mailbox <- req:
		return req.reply, nil
	default:
		return nil, &Error{Kind: BackpressureRejected}
	}
}

// SendWait dispatches tr through the mailbox and blocks for the result.
func (a *ForgeActorRuntime) SendWait(ctx context.Context, tr *transaction.Transaction) error {
	reply, err := a.Send(ctx, tr)
	if err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return &Error{Kind: Cancelled, Err: ctx.Err()}
	}
}

// Close stops the actor goroutine and drains the mailbox with rejections.
func (a *ForgeActorRuntime) Close() {
	a.once.Do(func() {
		close(a.done)
	})
	a.wg.Wait()
}

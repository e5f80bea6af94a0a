// Package eventbus implements the typed publish/subscribe bus the runtime
// uses for lifecycle and transaction events. Handlers run sequentially in
// registration order; a failing or hanging handler is isolated so it can
// never abort a dispatch that has already committed.
package eventbus

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"moduforge.dev/moduforge/internal/pkg/logger"
	"moduforge.dev/moduforge/internal/state"
	"moduforge.dev/moduforge/internal/transaction"
)

// Kind identifies one event type on the bus.
type Kind string

const (
	KindCreated        Kind = "created"
	KindApplied        Kind = "applied"
	KindFiltered       Kind = "filtered"
	KindDispatchFailed Kind = "dispatch_failed"
	KindDestroyed      Kind = "destroyed"
)

// Event is the common interface over the bus's event payloads.
type Event interface {
	Kind() Kind
}

// Created fires once when a runtime comes up with its initial state.
type Created struct {
	State *state.State
}

func (Created) Kind() Kind { return KindCreated }

// Applied fires exactly once per successful dispatch, after the state swap
// and history record, before after-dispatch middlewares.
type Applied struct {
	Transactions []*transaction.Transaction
	NewState     *state.State
}

func (Applied) Kind() Kind { return KindApplied }

// Filtered fires when a plugin's pre-filter vetoed the dispatch.
type Filtered struct {
	PluginKey     string
	TransactionID transaction.ID
}

func (Filtered) Kind() Kind { return KindFiltered }

// DispatchFailed fires when a dispatch failed before the state swap; it is
// the only event a failed dispatch produces.
type DispatchFailed struct {
	Err           error
	TransactionID transaction.ID
}

func (DispatchFailed) Kind() Kind { return KindDispatchFailed }

// Destroyed fires when the runtime shuts down.
type Destroyed struct{}

func (Destroyed) Kind() Kind { return KindDestroyed }

// Handler processes one event. Errors are logged and otherwise ignored.
type Handler func(ctx context.Context, event Event) error

// DefaultHandlerTimeout bounds each handler invocation.
const DefaultHandlerTimeout = 30 * time.Second

// Bus routes events to registered handlers.
type Bus struct {
	mu             sync.RWMutex
	handlers       map[Kind][]Handler
	allHandlers    []Handler
	handlerTimeout time.Duration
}

// NewBus constructs a bus. timeout <= 0 selects DefaultHandlerTimeout.
func NewBus(timeout time.Duration) *Bus {
	if timeout <= 0 {
		timeout = DefaultHandlerTimeout
	}
	return &Bus{
		handlers:       map[Kind][]Handler{},
		handlerTimeout: timeout,
	}
}

// Subscribe registers a handler for one event kind.
func (b *Bus) Subscribe(kind Kind, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[kind] = append(b.handlers[kind], h)
}

// SubscribeAll registers a handler for every event kind.
func (b *Bus) SubscribeAll(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allHandlers = append(b.allHandlers, h)
}

// Publish delivers event to every matching handler in registration order
// (kind-specific handlers first, then catch-all handlers). Each handler is
// bounded by the bus's handler timeout: on expiry the handler's result is
// dropped with a warning and delivery continues, and the goroutine running
// the straggler is left to finish against its cancelled context.
func (b *Bus) Publish(ctx context.Context, event Event) {
	b.mu.RLock()
	handlers := append(append([]Handler(nil), b.handlers[event.Kind()]...), b.allHandlers...)
	b.mu.RUnlock()

	for i, h := range handlers {
		b.invoke(ctx, event, i, h)
	}
}

func (b *Bus) invoke(ctx context.Context, event Event, index int, h Handler) {
	hctx, cancel := context.WithTimeout(ctx, b.handlerTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("event handler panicked",
					zap.String("event", string(event.Kind())),
					zap.Int("handler", index),
					zap.Any("panic", r),
				)
				done <- nil
			}
		}()
		done <- h(hctx, event)
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.Error("event handler failed",
				zap.String("event", string(event.Kind())),
				zap.Int("handler", index),
				zap.Error(err),
			)
		}
	case <-hctx.Done():
		logger.Warn("event handler timed out, dropping its result",
			zap.String("event", string(event.Kind())),
			zap.Int("handler", index),
			zap.Duration("timeout", b.handlerTimeout),
		)
	}
}

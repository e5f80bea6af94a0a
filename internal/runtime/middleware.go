// Package runtime implements the dispatch loop shared by the sync, async,
// and actor runtimes: middleware chain, state apply, history record, event
// emission, and commit hooks for the external bridges.
package runtime

import (
	"context"
	"sync"

	"moduforge.dev/moduforge/internal/state"
	"moduforge.dev/moduforge/internal/transaction"
)

// Middleware observes and annotates dispatches. BeforeDispatch runs ahead
// of apply and may mutate the transaction's meta; an error aborts the
// dispatch. AfterDispatch runs once the new state is committed and may
// return one follow-on transaction, which the runtime dispatches
// recursively up to its configured depth.
type Middleware interface {
	Name() string
	BeforeDispatch(ctx context.Context, tr *transaction.Transaction) error
	AfterDispatch(ctx context.Context, newState *state.State, committed []*transaction.Transaction) (*transaction.Transaction, error)
}

// MiddlewareStack is the ordered middleware list. Registration order is
// execution order for both phases.
type MiddlewareStack struct {
	mu          sync.RWMutex
	middlewares []Middleware
}

// NewMiddlewareStack constructs an empty stack.
func NewMiddlewareStack() *MiddlewareStack {
	return &MiddlewareStack{}
}

// Use appends a middleware to the chain.
func (s *MiddlewareStack) Use(m Middleware) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.middlewares = append(s.middlewares, m)
}

// All returns a snapshot of the chain.
func (s *MiddlewareStack) All() []Middleware {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Middleware(nil), s.middlewares...)
}

package state

import (
	"context"
	"time"

	"go.uber.org/zap"

	"moduforge.dev/moduforge/internal/pkg/logger"
	"moduforge.dev/moduforge/internal/step"
	"moduforge.dev/moduforge/internal/transaction"
)

// ApplyResult is the outcome of a successful State.Apply: the final state
// and every transaction committed along the way, the incoming one first and
// the append loop's follow-ons after it in acceptance order.
type ApplyResult struct {
	NewState     *State
	Transactions []*transaction.Transaction
}

// Apply runs the plugin pipeline for tr against s: pre-filter, primary
// apply, state-field update, then the append loop until it reaches a fixed
// point or a budget trips. All work happens on local values; s itself is
// never modified, so a failed Apply leaves no trace (all-or-nothing).
func (s *State) Apply(ctx context.Context, tr *transaction.Transaction) (*ApplyResult, error) {
	plugins := s.config.plugins
	deadline := time.Now().Add(s.config.ApplyTimeout)

	// Pre-filter: any veto rejects the whole dispatch before anything is
	// built.
	for _, p := range plugins {
		if p.Behavior == nil {
			continue
		}
		if !p.Behavior.FilterTransaction(ctx, tr, s) {
			return nil, &ApplyError{Kind: FilteredOut, PluginKey: p.Key.String()}
		}
	}

	current, err := s.applyOne(ctx, tr)
	if err != nil {
		return nil, err
	}
	committed := []*transaction.Transaction{tr}
	lastRound := s
	appendCounts := map[string]int{}

	// Append loop: each accepted follow-on restarts the pass over the
	// plugin order, so earlier plugins always see later plugins' output.
	for {
		if time.Now().After(deadline) {
			return nil, &ApplyError{Kind: ApplyTimeout}
		}
		progressed := false
		for _, p := range plugins {
			if p.Behavior == nil {
				continue
			}
			follow, err := p.Behavior.AppendTransaction(ctx, committed, lastRound, current)
			if err != nil {
				return nil, &ApplyError{Kind: PluginFailed, PluginKey: p.Key.String(), Err: err}
			}
			if follow == nil {
				continue
			}
			key := p.Key.String()
			appendCounts[key]++
			if appendCounts[key] > s.config.MaxAppendsPerTransaction {
				return nil, &ApplyError{
					Kind:      PluginFailed,
					PluginKey: key,
					Err:       &PluginError{Kind: AppendLoopBudgetExceeded, PluginKey: key},
				}
			}
			if !follow.Committed() {
				logger.Warn("plugin offered an uncommitted follow-on transaction, discarding",
					zap.String("plugin", key),
					zap.String("transaction_id", follow.ID().String()),
				)
				continue
			}

			// Re-filter with every plugin except the author: a plugin may
			// not veto its own follow-on, which avoids livelock between a
			// filter and its own append.
			vetoed := false
			for _, q := range plugins {
				if q == p || q.Behavior == nil {
					continue
				}
				if !q.Behavior.FilterTransaction(ctx, follow, current) {
					logger.Debug("follow-on transaction filtered out",
						zap.String("author", key),
						zap.String("vetoed_by", q.Key.String()),
					)
					vetoed = true
					break
				}
			}
			if vetoed {
				continue
			}

			next, err := current.applyOne(ctx, follow)
			if err != nil {
				return nil, err
			}
			lastRound = current
			current = next
			committed = append(committed, follow)
			progressed = true
			break
		}
		if !progressed {
			break
		}
	}

	return &ApplyResult{NewState: current, Transactions: committed}, nil
}

// applyOne performs the primary apply plus the state-field update for one
// transaction: tr's steps replayed against s.doc, version incremented, and
// each plugin field recomputed in execution order against the incrementally
// populated scaffold.
func (s *State) applyOne(ctx context.Context, tr *transaction.Transaction) (*State, error) {
	doc := s.doc
	for i, st := range tr.Steps() {
		next, _, err := st.Apply(doc, s.config.Schema)
		if err != nil {
			return nil, &ApplyError{Kind: StepApplyFailed, Err: step.WrapAt(i, err)}
		}
		doc = next
	}

	scaffold := &State{
		version:      s.version + 1,
		config:       s.config,
		doc:          doc,
		pluginFields: s.cloneFields(),
		resources:    s.resources,
	}
	for _, p := range s.config.plugins {
		if p.Field == nil {
			continue
		}
		key := p.Key.String()
		value, err := p.Field.Apply(ctx, tr, s.pluginFields[key], s, scaffold)
		if err != nil {
			return nil, &ApplyError{Kind: PluginFailed, PluginKey: key, Err: err}
		}
		scaffold.pluginFields[key] = value
	}
	return scaffold, nil
}

// Package search implements the search/index bridge: committed patches are
// translated into index events and fanned out to a pluggable Indexer off
// the commit path.
package search

import (
	"context"
	"strings"
	"sync"

	"moduforge.dev/moduforge/internal/model"
	"moduforge.dev/moduforge/internal/pool"
	"moduforge.dev/moduforge/internal/step"
)

// IndexEvent is the union the bridge hands an Indexer. Exactly one of the
// payload fields per kind is populated.
type IndexEvent struct {
	Kind EventKind

	// StepApplied
	Step  step.Step
	Patch step.Patch

	// TransactionCommitted
	Patches []step.Patch

	// Rebuild
	Scope []model.NodeID

	// PoolAfter is set on every kind: the document as of this event.
	PoolAfter *pool.NodePool
}

// EventKind identifies one index event variant.
type EventKind int

const (
	StepApplied EventKind = iota
	TransactionCommitted
	Rebuild
)

// Indexer consumes index events. Implementations must be idempotent on
// replays: the bridge may deliver the same committed transaction more than
// once after a crash.
type Indexer interface {
	Handle(ctx context.Context, event IndexEvent) error
}

// MemoryIndexer is the bundled reference Indexer: a map from node id to
// its searchable text, rebuilt incrementally from patches.
type MemoryIndexer struct {
	mu   sync.RWMutex
	docs map[model.NodeID]string
}

// NewMemoryIndexer constructs an empty index.
func NewMemoryIndexer() *MemoryIndexer {
	return &MemoryIndexer{docs: map[model.NodeID]string{}}
}

// Handle applies one index event. Node additions and attr changes upsert
// the node's text; removals delete it; Rebuild re-walks the given scope
// (or the whole pool) from scratch.
func (ix *MemoryIndexer) Handle(_ context.Context, event IndexEvent) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	switch event.Kind {
	case StepApplied:
		ix.applyPatch(event.Patch, event.PoolAfter)
	case TransactionCommitted:
		for _, patch := range event.Patches {
			ix.applyPatch(patch, event.PoolAfter)
		}
	case Rebuild:
		scope := event.Scope
		if len(scope) == 0 && event.PoolAfter != nil {
			scope = []model.NodeID{event.PoolAfter.Root()}
		}
		ix.docs = map[model.NodeID]string{}
		for _, id := range scope {
			ix.walk(event.PoolAfter, id)
		}
	}
	return nil
}

func (ix *MemoryIndexer) applyPatch(patch step.Patch, after *pool.NodePool) {
	for _, entry := range patch {
		switch entry.Kind {
		case step.PatchNodeRemoved:
			delete(ix.docs, entry.NodeID)
		case step.PatchNodeAdded, step.PatchAttrChanged, step.PatchMarkChanged, step.PatchNodeMoved:
			ix.upsert(after, entry.NodeID)
		}
	}
}

func (ix *MemoryIndexer) walk(p *pool.NodePool, id model.NodeID) {
	if p == nil {
		return
	}
	ix.upsert(p, id)
	if children, ok := p.Children(id); ok {
		for _, c := range children {
			ix.walk(p, c)
		}
	}
}

func (ix *MemoryIndexer) upsert(p *pool.NodePool, id model.NodeID) {
	if p == nil {
		return
	}
	n, ok := p.Get(id)
	if !ok {
		return
	}
	var parts []string
	if n.Text != "" {
		parts = append(parts, n.Text)
	}
	for _, v := range n.Attrs {
		if s, ok := v.(string); ok && s != "" {
			parts = append(parts, s)
		}
	}
	ix.docs[id] = strings.Join(parts, " ")
}

// Search returns the ids of nodes whose indexed text contains the query,
// case-insensitively.
func (ix *MemoryIndexer) Search(query string) []model.NodeID {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	query = strings.ToLower(query)
	var out []model.NodeID
	for id, text := range ix.docs {
		if strings.Contains(strings.ToLower(text), query) {
			out = append(out, id)
		}
	}
	return out
}

// Size reports how many nodes are indexed.
func (ix *MemoryIndexer) Size() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.docs)
}

package crdt

import (
	"sync"

	"moduforge.dev/moduforge/internal/model"
	"moduforge.dev/moduforge/internal/pool"
	"moduforge.dev/moduforge/internal/state"
	"moduforge.dev/moduforge/internal/step"
	"moduforge.dev/moduforge/internal/transaction"
)

// LWWBridge is a deliberately minimal reference Bridge: last-writer-wins
// per (node, attr) using a Lamport clock, enough to demonstrate the
// translation boundary. It is not a general CRDT and makes no attempt at
// intention preservation for structural edits.
type LWWBridge struct {
	siteID string

	mu    sync.Mutex
	clock uint64
	// lastSeen tracks the highest clock applied per (node, key) so stale
	// remote writes lose deterministically.
	lastSeen map[attrKey]uint64
}

type attrKey struct {
	node model.NodeID
	key  string
}

// NewLWWBridge constructs a bridge for one replication site.
func NewLWWBridge(siteID string) *LWWBridge {
	return &LWWBridge{siteID: siteID, lastSeen: map[attrKey]uint64{}}
}

func (b *LWWBridge) tick() uint64 {
	b.clock++
	return b.clock
}

func (b *LWWBridge) observe(clock uint64) {
	if clock > b.clock {
		b.clock = clock
	}
}

// TransactionToOps translates the transaction's patches into ops, stamping
// each with this site and a fresh clock value.
func (b *LWWBridge) TransactionToOps(tr *transaction.Transaction) []Op {
	b.mu.Lock()
	defer b.mu.Unlock()

	var ops []Op
	for _, patch := range tr.Patches() {
		for _, entry := range patch {
			op := Op{SiteID: b.siteID, Clock: b.tick(), NodeID: entry.NodeID}
			switch entry.Kind {
			case step.PatchNodeAdded:
				op.Kind = OpInsertNode
				op.ParentID = entry.ParentID
				op.Position = entry.Position
				if n, ok := tr.Working().Get(entry.NodeID); ok {
					op.NodeType = n.Type
					op.Attrs = n.Attrs.Clone()
				}
			case step.PatchNodeRemoved:
				op.Kind = OpDeleteNode
			case step.PatchNodeMoved:
				op.Kind = OpMoveNode
				op.ParentID = entry.NewParentID
				op.Position = entry.NewPosition
			case step.PatchAttrChanged:
				op.Kind = OpSetAttr
				op.Key = entry.AttrKey
				op.Value = entry.NewValue
				b.lastSeen[attrKey{node: entry.NodeID, key: entry.AttrKey}] = op.Clock
			case step.PatchMarkChanged:
				if entry.MarkAdded {
					op.Kind = OpSetMark
				} else {
					op.Kind = OpRemoveMark
				}
				op.MarkType = entry.MarkType
			}
			ops = append(ops, op)
		}
	}
	return ops
}

// OpsToTransaction builds one transaction applying the remote ops that
// win under last-writer-wins against the current state. Ops referencing
// nodes the local document no longer has are dropped (delete wins).
func (b *LWWBridge) OpsToTransaction(ops []Op, s *state.State) (*transaction.Transaction, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	tr := s.Tr()
	applied := 0
	for _, op := range ops {
		b.observe(op.Clock)
		var st step.Step
		switch op.Kind {
		case OpInsertNode:
			if !tr.Working().Contains(op.ParentID) || tr.Working().Contains(op.NodeID) {
				continue
			}
			n := model.Node{ID: op.NodeID, Type: op.NodeType, Attrs: op.Attrs.Clone()}
			pos := op.Position
			if children, ok := tr.Working().Children(op.ParentID); ok && pos > len(children) {
				pos = len(children)
			}
			st = step.AddNode{Parent: op.ParentID, Position: pos, Subtree: pool.NewLeafSubtree(n)}
		case OpDeleteNode:
			if !tr.Working().Contains(op.NodeID) {
				continue
			}
			st = step.RemoveNode{Node: op.NodeID}
		case OpMoveNode:
			if !tr.Working().Contains(op.NodeID) || !tr.Working().Contains(op.ParentID) {
				continue
			}
			st = step.MoveNode{Node: op.NodeID, NewParent: op.ParentID, Position: op.Position}
		case OpSetAttr:
			if !tr.Working().Contains(op.NodeID) {
				continue
			}
			k := attrKey{node: op.NodeID, key: op.Key}
			if op.Clock <= b.lastSeen[k] {
				continue // stale write loses
			}
			b.lastSeen[k] = op.Clock
			st = step.SetAttr{Node: op.NodeID, Key: op.Key, Value: op.Value}
		case OpSetMark:
			if !tr.Working().Contains(op.NodeID) {
				continue
			}
			st = step.AddMark{Node: op.NodeID, Mark: model.Mark{Type: op.MarkType}}
		case OpRemoveMark:
			if !tr.Working().Contains(op.NodeID) {
				continue
			}
			st = step.RemoveMark{Node: op.NodeID, MarkType: op.MarkType}
		default:
			continue
		}
		if err := tr.AddStep(st); err != nil {
			// A remote op the local schema rejects is dropped rather than
			// poisoning the rest of the batch.
			continue
		}
		applied++
	}
	if applied == 0 {
		return nil, nil
	}
	tr.SetMeta("crdt_origin", b.siteID)
	tr.Commit()
	return tr, nil
}

// Package crdt defines the CRDT bridge boundary: translating committed
// transactions into CRDT operations and back. Conflict resolution is the
// bridge implementation's concern; the engine only guarantees that a
// bridge-produced transaction either satisfies every document invariant or
// fails cleanly at apply time.
package crdt

import (
	"moduforge.dev/moduforge/internal/model"
	"moduforge.dev/moduforge/internal/state"
	"moduforge.dev/moduforge/internal/transaction"
)

// OpKind identifies one CRDT operation variant.
type OpKind int

const (
	OpInsertNode OpKind = iota
	OpDeleteNode
	OpMoveNode
	OpSetAttr
	OpSetMark
	OpRemoveMark
)

// Op is one site-tagged, clock-stamped operation on the replicated
// document.
type Op struct {
	Kind     OpKind
	SiteID   string
	Clock    uint64
	NodeID   model.NodeID
	ParentID model.NodeID
	Position int
	NodeType string
	Key      string
	Value    interface{}
	MarkType string
	Attrs    model.Attrs
}

// Bridge converts between committed transactions and CRDT operations.
type Bridge interface {
	// TransactionToOps translates a committed local transaction into
	// operations for the replication layer.
	TransactionToOps(tr *transaction.Transaction) []Op

	// OpsToTransaction builds a local transaction from remote operations
	// against the given state, or returns nil when every op is stale or
	// already reflected.
	OpsToTransaction(ops []Op, s *state.State) (*transaction.Transaction, error)
}

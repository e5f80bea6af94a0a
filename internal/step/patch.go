// Package step implements the invertible, mergeable edit operations that
// transactions apply against a NodePool: AddNode, RemoveNode, MoveNode,
// SetAttr, AddMark, RemoveMark, and BatchStep.
package step

import "moduforge.dev/moduforge/internal/model"

// PatchKind identifies the observable effect one Patch entry records.
type PatchKind int

const (
	PatchNodeAdded PatchKind = iota
	PatchNodeRemoved
	PatchNodeMoved
	PatchAttrChanged
	PatchMarkChanged
)

// PatchEntry is one observable diff produced by a successfully applied
// Step. Bridges (persistence, search, CRDT) consume patches; the engine
// never re-applies them.
type PatchEntry struct {
	Kind PatchKind

	NodeID model.NodeID

	// NodeAdded / NodeRemoved
	ParentID model.NodeID
	Position int

	// NodeMoved
	OldParentID model.NodeID
	OldPosition int
	NewParentID model.NodeID
	NewPosition int

	// AttrChanged
	AttrKey   string
	OldValue  interface{}
	NewValue  interface{}

	// MarkChanged
	MarkType string
	MarkAdded bool
}

// Patch is the ordered sequence of patch entries a Step produced.
type Patch []PatchEntry

// Concat appends other's entries after p's, used by BatchStep.
func (p Patch) Concat(other Patch) Patch {
	out := make(Patch, 0, len(p)+len(other))
	out = append(out, p...)
	out = append(out, other...)
	return out
}

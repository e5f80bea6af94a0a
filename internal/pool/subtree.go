package pool

import "moduforge.dev/moduforge/internal/model"

// Subtree is a freshly-constructed, not-yet-inserted fragment of the
// document tree: a root node plus every descendant, keyed by id. AddNode's
// underlying insert takes a Subtree so callers can build multi-level trees
// (e.g. a table with rows and cells) in one step.
type Subtree struct {
	Root  model.NodeID
	Nodes map[model.NodeID]model.Node
}

// NewLeafSubtree wraps a single node with no children as a one-node
// Subtree, the common case for inserting a plain leaf.
func NewLeafSubtree(n model.Node) Subtree {
	return Subtree{Root: n.ID, Nodes: map[model.NodeID]model.Node{n.ID: n}}
}

// NewSubtree builds a Subtree from a root node and its full descendant
// set; every id referenced transitively by root.Content must appear in
// nodes.
func NewSubtree(root model.Node, nodes map[model.NodeID]model.Node) Subtree {
	all := make(map[model.NodeID]model.Node, len(nodes)+1)
	for id, n := range nodes {
		all[id] = n
	}
	all[root.ID] = root
	return Subtree{Root: root.ID, Nodes: all}
}

// ids returns every node id in the subtree, root included.
func (s Subtree) ids() []model.NodeID {
	out := make([]model.NodeID, 0, len(s.Nodes))
	for id := range s.Nodes {
		out = append(out, id)
	}
	return out
}

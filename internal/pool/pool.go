package pool

import "moduforge.dev/moduforge/internal/model"

// NodePool is a persistent, immutable mapping from NodeID to Node plus a
// parent index. Every With* operation returns a new NodePool; the receiver
// is always left untouched, which is what lets State hold a cheap-to-clone
// snapshot of the whole document tree at every version.
type NodePool struct {
	nodes   *trieNode // NodeID -> model.Node
	parents *trieNode // NodeID -> model.NodeID (absent for the root)
	rootID  model.NodeID
	size    int
}

// NewNodePool constructs the initial pool for a single root node with no
// children and no parent.
func NewNodePool(root model.Node) *NodePool {
	nodes := trieInsert(nil, idKey(root.ID), 0, root)
	return &NodePool{nodes: nodes, rootID: root.ID, size: 1}
}

// Get returns the node stored under id.
func (p *NodePool) Get(id model.NodeID) (model.Node, bool) {
	v, ok := trieGet(p.nodes, idKey(id))
	if !ok {
		return model.Node{}, false
	}
	return v.(model.Node), true
}

// Parent returns the parent of id, or false if id is the root or absent.
func (p *NodePool) Parent(id model.NodeID) (model.NodeID, bool) {
	v, ok := trieGet(p.parents, idKey(id))
	if !ok {
		return model.NodeID{}, false
	}
	return v.(model.NodeID), true
}

// Children returns the ordered child ids of id.
func (p *NodePool) Children(id model.NodeID) ([]model.NodeID, bool) {
	n, ok := p.Get(id)
	if !ok {
		return nil, false
	}
	return n.Content, true
}

// Root returns the pool's root node id.
func (p *NodePool) Root() model.NodeID {
	return p.rootID
}

// Size returns the number of nodes in the pool.
func (p *NodePool) Size() int {
	return p.size
}

// Contains reports whether id is present in the pool.
func (p *NodePool) Contains(id model.NodeID) bool {
	_, ok := trieGet(p.nodes, idKey(id))
	return ok
}

// clone produces a shallow copy of p's trie roots and counters, cheap
// because the tries themselves are immutable and shared.
func (p *NodePool) clone() *NodePool {
	return &NodePool{nodes: p.nodes, parents: p.parents, rootID: p.rootID, size: p.size}
}

// descendants returns id and every node reachable from it via Content,
// depth-first, id first.
func (p *NodePool) descendants(id model.NodeID) []model.NodeID {
	var out []model.NodeID
	var walk func(model.NodeID)
	walk = func(cur model.NodeID) {
		out = append(out, cur)
		n, ok := p.Get(cur)
		if !ok {
			return
		}
		for _, c := range n.Content {
			walk(c)
		}
	}
	walk(id)
	return out
}

// SubtreeOf captures id and every descendant as a Subtree, suitable for
// re-inserting the same fragment elsewhere (used by RemoveNode.Invert to
// reconstruct what it removed).
func (p *NodePool) SubtreeOf(id model.NodeID) Subtree {
	nodes := make(map[model.NodeID]model.Node)
	for _, d := range p.descendants(id) {
		n, ok := p.Get(d)
		if ok {
			nodes[d] = n
		}
	}
	return Subtree{Root: id, Nodes: nodes}
}

// isDescendant reports whether candidate is id or a descendant of id.
func (p *NodePool) isDescendant(id, candidate model.NodeID) bool {
	for _, d := range p.descendants(id) {
		if d == candidate {
			return true
		}
	}
	return false
}

// WithInserted inserts subtree as a child of parentID at position,
// shifting later siblings right. Returns PoolError and the receiver's own
// state on any invariant violation.
func (p *NodePool) WithInserted(parentID model.NodeID, position int, subtree Subtree) (*NodePool, error) {
	parentNode, ok := p.Get(parentID)
	if !ok {
		return p, errNotFound(parentID)
	}
	if position < 0 || position > len(parentNode.Content) {
		return p, errPositionOutOfRange(parentID, position, len(parentNode.Content))
	}
	for _, id := range subtree.ids() {
		if p.Contains(id) {
			return p, errDuplicateId(id)
		}
	}

	next := p.clone()
	for id, n := range subtree.Nodes {
		next.nodes = trieInsert(next.nodes, idKey(id), 0, n)
		next.size++
		parent := parentID
		if id != subtree.Root {
			parent = parentOf(subtree, id)
		}
		next.parents = trieInsert(next.parents, idKey(id), 0, parent)
	}

	newContent := make([]model.NodeID, 0, len(parentNode.Content)+1)
	newContent = append(newContent, parentNode.Content[:position]...)
	newContent = append(newContent, subtree.Root)
	newContent = append(newContent, parentNode.Content[position:]...)
	updatedParent := parentNode.WithContent(newContent)
	next.nodes = trieInsert(next.nodes, idKey(parentID), 0, updatedParent)

	return next, nil
}

// parentOf finds the direct parent of a non-root subtree member by
// scanning the subtree's own content lists.
func parentOf(subtree Subtree, id model.NodeID) model.NodeID {
	for pid, n := range subtree.Nodes {
		for _, c := range n.Content {
			if c == id {
				return pid
			}
		}
	}
	return model.NilNodeID
}

// WithRemoved removes id and all of its descendants from the pool.
func (p *NodePool) WithRemoved(id model.NodeID) (*NodePool, error) {
	if !p.Contains(id) {
		return p, errNotFound(id)
	}
	if id == p.rootID {
		return p, errWouldOrphan(id, "cannot remove the root node")
	}
	parentID, _ := p.Parent(id)
	parentNode, _ := p.Get(parentID)

	next := p.clone()
	for _, d := range p.descendants(id) {
		next.nodes = trieDelete(next.nodes, idKey(d), 0)
		next.parents = trieDelete(next.parents, idKey(d), 0)
		next.size--
	}

	newContent := make([]model.NodeID, 0, len(parentNode.Content)-1)
	for _, c := range parentNode.Content {
		if c != id {
			newContent = append(newContent, c)
		}
	}
	updatedParent := parentNode.WithContent(newContent)
	next.nodes = trieInsert(next.nodes, idKey(parentID), 0, updatedParent)

	return next, nil
}

// WithMoved relocates id to be a child of newParent at position. Moving a
// node to itself or to one of its own descendants is rejected as it would
// disconnect the tree (WouldOrphan).
func (p *NodePool) WithMoved(id, newParent model.NodeID, position int) (*NodePool, error) {
	if !p.Contains(id) {
		return p, errNotFound(id)
	}
	if id == p.rootID {
		return p, errWouldOrphan(id, "cannot move the root node")
	}
	newParentNode, ok := p.Get(newParent)
	if !ok {
		return p, errNotFound(newParent)
	}
	if p.isDescendant(id, newParent) {
		return p, errWouldOrphan(id, "new parent is the node itself or one of its descendants")
	}

	oldParentID, _ := p.Parent(id)
	oldParentNode, _ := p.Get(oldParentID)

	filteredOldContent := make([]model.NodeID, 0, len(oldParentNode.Content))
	for _, c := range oldParentNode.Content {
		if c != id {
			filteredOldContent = append(filteredOldContent, c)
		}
	}

	targetContent := newParentNode.Content
	if oldParentID == newParent {
		targetContent = filteredOldContent
	}
	if position < 0 || position > len(targetContent) {
		return p, errPositionOutOfRange(newParent, position, len(targetContent))
	}

	next := p.clone()
	next.nodes = trieInsert(next.nodes, idKey(oldParentID), 0, oldParentNode.WithContent(filteredOldContent))

	finalNewParentNode, _ := next.Get(newParent)
	base := finalNewParentNode.Content
	newContent := make([]model.NodeID, 0, len(base)+1)
	newContent = append(newContent, base[:position]...)
	newContent = append(newContent, id)
	newContent = append(newContent, base[position:]...)
	next.nodes = trieInsert(next.nodes, idKey(newParent), 0, finalNewParentNode.WithContent(newContent))

	next.parents = trieInsert(next.parents, idKey(id), 0, newParent)

	return next, nil
}

// WithReplacedAttrs returns a new pool with id's attrs replaced wholesale.
func (p *NodePool) WithReplacedAttrs(id model.NodeID, attrs model.Attrs) (*NodePool, error) {
	n, ok := p.Get(id)
	if !ok {
		return p, errNotFound(id)
	}
	next := p.clone()
	next.nodes = trieInsert(next.nodes, idKey(id), 0, n.WithAttrs(attrs))
	return next, nil
}

// WithReplacedMarks returns a new pool with id's mark set replaced
// wholesale.
func (p *NodePool) WithReplacedMarks(id model.NodeID, marks model.MarkSet) (*NodePool, error) {
	n, ok := p.Get(id)
	if !ok {
		return p, errNotFound(id)
	}
	next := p.clone()
	next.nodes = trieInsert(next.nodes, idKey(id), 0, n.WithMarks(marks))
	return next, nil
}

package step

import (
	"moduforge.dev/moduforge/internal/model"
	"moduforge.dev/moduforge/internal/pool"
)

// AddNode inserts subtree as a child of Parent at Position.
type AddNode struct {
	Parent   model.NodeID
	Position int
	Subtree  pool.Subtree
}

func (s AddNode) Apply(p *pool.NodePool, schema *model.Schema) (*pool.NodePool, Patch, error) {
	next, err := p.WithInserted(s.Parent, s.Position, s.Subtree)
	if err != nil {
		return p, nil, err
	}
	if err := validateAffectedNode(next, schema, s.Parent); err != nil {
		return p, nil, err
	}
	if err := validateSubtreeNodes(next, schema, s.Subtree); err != nil {
		return p, nil, err
	}
	patch := Patch{{Kind: PatchNodeAdded, NodeID: s.Subtree.Root, ParentID: s.Parent, Position: s.Position}}
	return next, patch, nil
}

func (s AddNode) Invert(poolBefore *pool.NodePool) Step {
	return RemoveNode{Node: s.Subtree.Root}
}

func (s AddNode) Merge(next Step) (Step, bool) {
	return nil, false
}

func (s AddNode) replay(p *pool.NodePool) *pool.NodePool {
	next, err := p.WithInserted(s.Parent, s.Position, s.Subtree)
	if err != nil {
		return p
	}
	return next
}

// RemoveNode removes Node and all of its descendants.
type RemoveNode struct {
	Node model.NodeID
}

func (s RemoveNode) Apply(p *pool.NodePool, schema *model.Schema) (*pool.NodePool, Patch, error) {
	parentID, _ := p.Parent(s.Node)
	parentNode, _ := p.Get(parentID)
	position := parentNode.ChildIndex(s.Node)

	next, err := p.WithRemoved(s.Node)
	if err != nil {
		return p, nil, err
	}
	if err := validateAffectedNode(next, schema, parentID); err != nil {
		return p, nil, err
	}
	patch := Patch{{Kind: PatchNodeRemoved, NodeID: s.Node, ParentID: parentID, Position: position}}
	return next, patch, nil
}

func (s RemoveNode) Invert(poolBefore *pool.NodePool) Step {
	parentID, _ := poolBefore.Parent(s.Node)
	parentNode, _ := poolBefore.Get(parentID)
	position := parentNode.ChildIndex(s.Node)
	return AddNode{Parent: parentID, Position: position, Subtree: poolBefore.SubtreeOf(s.Node)}
}

func (s RemoveNode) Merge(next Step) (Step, bool) {
	return nil, false
}

func (s RemoveNode) replay(p *pool.NodePool) *pool.NodePool {
	next, err := p.WithRemoved(s.Node)
	if err != nil {
		return p
	}
	return next
}

// MoveNode relocates Node to be a child of NewParent at Position.
type MoveNode struct {
	Node      model.NodeID
	NewParent model.NodeID
	Position  int
}

func (s MoveNode) Apply(p *pool.NodePool, schema *model.Schema) (*pool.NodePool, Patch, error) {
	oldParentID, _ := p.Parent(s.Node)
	oldParentNode, _ := p.Get(oldParentID)
	oldPosition := oldParentNode.ChildIndex(s.Node)

	next, err := p.WithMoved(s.Node, s.NewParent, s.Position)
	if err != nil {
		return p, nil, err
	}
	if err := validateAffectedNode(next, schema, oldParentID); err != nil {
		return p, nil, err
	}
	if err := validateAffectedNode(next, schema, s.NewParent); err != nil {
		return p, nil, err
	}
	patch := Patch{{
		Kind:        PatchNodeMoved,
		NodeID:      s.Node,
		OldParentID: oldParentID,
		OldPosition: oldPosition,
		NewParentID: s.NewParent,
		NewPosition: s.Position,
	}}
	return next, patch, nil
}

func (s MoveNode) Invert(poolBefore *pool.NodePool) Step {
	parentID, _ := poolBefore.Parent(s.Node)
	parentNode, _ := poolBefore.Get(parentID)
	position := parentNode.ChildIndex(s.Node)
	return MoveNode{Node: s.Node, NewParent: parentID, Position: position}
}

func (s MoveNode) Merge(next Step) (Step, bool) {
	return nil, false
}

func (s MoveNode) replay(p *pool.NodePool) *pool.NodePool {
	next, err := p.WithMoved(s.Node, s.NewParent, s.Position)
	if err != nil {
		return p
	}
	return next
}

// SetAttr sets Node's Key attr to Value. A nil Value reverts the attr to
// its schema default, if one is declared.
type SetAttr struct {
	Node  model.NodeID
	Key   string
	Value interface{}
}

func (s SetAttr) resolvedValue(schema *model.Schema, nodeType string) interface{} {
	if s.Value != nil {
		return s.Value
	}
	if def, ok := schema.Defaults(nodeType, s.Key); ok {
		return def
	}
	return nil
}

func (s SetAttr) Apply(p *pool.NodePool, schema *model.Schema) (*pool.NodePool, Patch, error) {
	n, ok := p.Get(s.Node)
	if !ok {
		return p, nil, &pool.Error{Kind: pool.NotFound, NodeID: s.Node}
	}
	oldValue := n.Attrs[s.Key]
	newValue := s.resolvedValue(schema, n.Type)
	newAttrs := n.Attrs.With(s.Key, newValue)

	if err := schema.ValidateAttrs(n.Type, newAttrs); err != nil {
		return p, nil, err
	}
	next, err := p.WithReplacedAttrs(s.Node, newAttrs)
	if err != nil {
		return p, nil, err
	}
	patch := Patch{{Kind: PatchAttrChanged, NodeID: s.Node, AttrKey: s.Key, OldValue: oldValue, NewValue: newValue}}
	return next, patch, nil
}

func (s SetAttr) Invert(poolBefore *pool.NodePool) Step {
	n, ok := poolBefore.Get(s.Node)
	if !ok {
		return SetAttr{Node: s.Node, Key: s.Key, Value: nil}
	}
	oldValue := n.Attrs[s.Key]
	return SetAttr{Node: s.Node, Key: s.Key, Value: oldValue}
}

func (s SetAttr) Merge(next Step) (Step, bool) {
	other, ok := next.(SetAttr)
	if !ok || other.Node != s.Node || other.Key != s.Key {
		return nil, false
	}
	return SetAttr{Node: s.Node, Key: s.Key, Value: other.Value}, true
}

func (s SetAttr) replay(p *pool.NodePool) *pool.NodePool {
	n, ok := p.Get(s.Node)
	if !ok {
		return p
	}
	newAttrs := n.Attrs.With(s.Key, s.Value)
	next, err := p.WithReplacedAttrs(s.Node, newAttrs)
	if err != nil {
		return p
	}
	return next
}

// AddMark attaches Mark to Node, replacing any existing mark of the same
// type.
type AddMark struct {
	Node model.NodeID
	Mark model.Mark
}

func (s AddMark) Apply(p *pool.NodePool, schema *model.Schema) (*pool.NodePool, Patch, error) {
	n, ok := p.Get(s.Node)
	if !ok {
		return p, nil, &pool.Error{Kind: pool.NotFound, NodeID: s.Node}
	}
	newMarks := n.Marks.Add(s.Mark)
	if err := schema.ValidateMarks(n.Type, newMarks); err != nil {
		return p, nil, err
	}
	next, err := p.WithReplacedMarks(s.Node, newMarks)
	if err != nil {
		return p, nil, err
	}
	patch := Patch{{Kind: PatchMarkChanged, NodeID: s.Node, MarkType: s.Mark.Type, MarkAdded: true}}
	return next, patch, nil
}

func (s AddMark) Invert(poolBefore *pool.NodePool) Step {
	return RemoveMark{Node: s.Node, MarkType: s.Mark.Type}
}

func (s AddMark) Merge(next Step) (Step, bool) {
	return nil, false
}

func (s AddMark) replay(p *pool.NodePool) *pool.NodePool {
	n, ok := p.Get(s.Node)
	if !ok {
		return p
	}
	next, err := p.WithReplacedMarks(s.Node, n.Marks.Add(s.Mark))
	if err != nil {
		return p
	}
	return next
}

// RemoveMark removes the mark of MarkType from Node, if present.
type RemoveMark struct {
	Node     model.NodeID
	MarkType string
}

func (s RemoveMark) Apply(p *pool.NodePool, schema *model.Schema) (*pool.NodePool, Patch, error) {
	n, ok := p.Get(s.Node)
	if !ok {
		return p, nil, &pool.Error{Kind: pool.NotFound, NodeID: s.Node}
	}
	newMarks := n.Marks.Remove(s.MarkType)
	if err := schema.ValidateMarks(n.Type, newMarks); err != nil {
		return p, nil, err
	}
	next, err := p.WithReplacedMarks(s.Node, newMarks)
	if err != nil {
		return p, nil, err
	}
	patch := Patch{{Kind: PatchMarkChanged, NodeID: s.Node, MarkType: s.MarkType, MarkAdded: false}}
	return next, patch, nil
}

func (s RemoveMark) Invert(poolBefore *pool.NodePool) Step {
	n, ok := poolBefore.Get(s.Node)
	if !ok {
		return AddMark{Node: s.Node, Mark: model.Mark{Type: s.MarkType}}
	}
	if i := n.Marks.IndexOf(s.MarkType); i >= 0 {
		return AddMark{Node: s.Node, Mark: n.Marks[i]}
	}
	return AddMark{Node: s.Node, Mark: model.Mark{Type: s.MarkType}}
}

func (s RemoveMark) Merge(next Step) (Step, bool) {
	return nil, false
}

func (s RemoveMark) replay(p *pool.NodePool) *pool.NodePool {
	n, ok := p.Get(s.Node)
	if !ok {
		return p
	}
	next, err := p.WithReplacedMarks(s.Node, n.Marks.Remove(s.MarkType))
	if err != nil {
		return p
	}
	return next
}

// BatchStep applies Steps in order, atomically: if any sub-step fails, the
// pool is restored to the state observed before the batch started, not
// before the whole enclosing transaction.
type BatchStep struct {
	Steps []Step
}

func (s BatchStep) Apply(p *pool.NodePool, schema *model.Schema) (*pool.NodePool, Patch, error) {
	cur := p
	var patch Patch
	for _, sub := range s.Steps {
		next, subPatch, err := sub.Apply(cur, schema)
		if err != nil {
			return p, nil, err
		}
		cur = next
		patch = patch.Concat(subPatch)
	}
	return cur, patch, nil
}

func (s BatchStep) Invert(poolBefore *pool.NodePool) Step {
	intermediates := make([]*pool.NodePool, len(s.Steps)+1)
	intermediates[0] = poolBefore
	for i, sub := range s.Steps {
		r, ok := sub.(replayer)
		if !ok {
			intermediates[i+1] = intermediates[i]
			continue
		}
		intermediates[i+1] = r.replay(intermediates[i])
	}

	inverted := make([]Step, len(s.Steps))
	for i := len(s.Steps) - 1; i >= 0; i-- {
		inverted[len(s.Steps)-1-i] = s.Steps[i].Invert(intermediates[i])
	}
	return BatchStep{Steps: inverted}
}

func (s BatchStep) Merge(next Step) (Step, bool) {
	return nil, false
}

func (s BatchStep) replay(p *pool.NodePool) *pool.NodePool {
	cur := p
	for _, sub := range s.Steps {
		r, ok := sub.(replayer)
		if !ok {
			continue
		}
		cur = r.replay(cur)
	}
	return cur
}

// validateAffectedNode checks that nodeID's current children (if any)
// still satisfy the schema's content automaton for its type, used after a
// structural edit that may have changed a node's child list.
func validateAffectedNode(p *pool.NodePool, schema *model.Schema, nodeID model.NodeID) error {
	n, ok := p.Get(nodeID)
	if !ok {
		return nil
	}
	childTypes := make([]string, len(n.Content))
	for i, c := range n.Content {
		cn, ok := p.Get(c)
		if !ok {
			continue
		}
		childTypes[i] = cn.Type
	}
	return schema.ValidateContent(n.Type, childTypes)
}

// validateSubtreeNodes validates every node of a freshly inserted subtree
// against the schema: its own attrs, marks, and content.
func validateSubtreeNodes(p *pool.NodePool, schema *model.Schema, subtree pool.Subtree) error {
	for id := range subtree.Nodes {
		n, ok := p.Get(id)
		if !ok {
			continue
		}
		if !schema.HasNodeType(n.Type) {
			return &model.SchemaError{Kind: model.UnknownType, NodeType: n.Type}
		}
		if err := schema.ValidateAttrs(n.Type, n.Attrs); err != nil {
			return err
		}
		if err := schema.ValidateMarks(n.Type, n.Marks); err != nil {
			return err
		}
		if err := validateAffectedNode(p, schema, id); err != nil {
			return err
		}
	}
	return nil
}

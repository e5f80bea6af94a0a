package step

import (
	"fmt"

	"moduforge.dev/moduforge/internal/model"
	"moduforge.dev/moduforge/internal/pool"
)

// Wire kind tags, one byte each, stable across releases: they are what the
// persistence bridge writes into the event stream.
const (
	WireAddNode    byte = 1
	WireRemoveNode byte = 2
	WireMoveNode   byte = 3
	WireSetAttr    byte = 4
	WireAddMark    byte = 5
	WireRemoveMark byte = 6
	WireBatch      byte = 7
)

// WireMark is the serialized form of a model.Mark.
type WireMark struct {
	Type  string      `json:"type"`
	Attrs model.Attrs `json:"attrs,omitempty"`
}

// WireNode is the serialized form of one subtree member.
type WireNode struct {
	ID      string      `json:"id"`
	Type    string      `json:"type"`
	Attrs   model.Attrs `json:"attrs,omitempty"`
	Marks   []WireMark  `json:"marks,omitempty"`
	Content []string    `json:"content,omitempty"`
	Text    string      `json:"text,omitempty"`
}

// WireSubtree is the serialized form of a pool.Subtree.
type WireSubtree struct {
	Root  string     `json:"root"`
	Nodes []WireNode `json:"nodes"`
}

// WireStep is the JSON-serializable union over every step variant. Kind
// selects which of the remaining fields are meaningful.
type WireStep struct {
	Kind      byte         `json:"kind"`
	Parent    string       `json:"parent,omitempty"`
	Position  int          `json:"position,omitempty"`
	Subtree   *WireSubtree `json:"subtree,omitempty"`
	Node      string       `json:"node,omitempty"`
	NewParent string       `json:"new_parent,omitempty"`
	Key       string       `json:"key,omitempty"`
	Value     interface{}  `json:"value,omitempty"`
	Mark      *WireMark    `json:"mark,omitempty"`
	MarkType  string       `json:"mark_type,omitempty"`
	Steps     []WireStep   `json:"steps,omitempty"`
}

// ToWire converts a Step into its serializable form.
func ToWire(s Step) (WireStep, error) {
	switch v := s.(type) {
	case AddNode:
		return WireStep{Kind: WireAddNode, Parent: v.Parent.String(), Position: v.Position, Subtree: subtreeToWire(v.Subtree)}, nil
	case RemoveNode:
		return WireStep{Kind: WireRemoveNode, Node: v.Node.String()}, nil
	case MoveNode:
		return WireStep{Kind: WireMoveNode, Node: v.Node.String(), NewParent: v.NewParent.String(), Position: v.Position}, nil
	case SetAttr:
		return WireStep{Kind: WireSetAttr, Node: v.Node.String(), Key: v.Key, Value: v.Value}, nil
	case AddMark:
		return WireStep{Kind: WireAddMark, Node: v.Node.String(), Mark: &WireMark{Type: v.Mark.Type, Attrs: v.Mark.Attrs}}, nil
	case RemoveMark:
		return WireStep{Kind: WireRemoveMark, Node: v.Node.String(), MarkType: v.MarkType}, nil
	case BatchStep:
		steps := make([]WireStep, len(v.Steps))
		for i, sub := range v.Steps {
			w, err := ToWire(sub)
			if err != nil {
				return WireStep{}, err
			}
			steps[i] = w
		}
		return WireStep{Kind: WireBatch, Steps: steps}, nil
	default:
		return WireStep{}, fmt.Errorf("step: cannot serialize unknown step type %T", s)
	}
}

// FromWire reconstructs a Step from its serialized form.
func FromWire(w WireStep) (Step, error) {
	switch w.Kind {
	case WireAddNode:
		parent, err := model.ParseNodeID(w.Parent)
		if err != nil {
			return nil, fmt.Errorf("step: bad parent id: %w", err)
		}
		if w.Subtree == nil {
			return nil, fmt.Errorf("step: add-node step has no subtree")
		}
		subtree, err := subtreeFromWire(*w.Subtree)
		if err != nil {
			return nil, err
		}
		return AddNode{Parent: parent, Position: w.Position, Subtree: subtree}, nil
	case WireRemoveNode:
		node, err := model.ParseNodeID(w.Node)
		if err != nil {
			return nil, fmt.Errorf("step: bad node id: %w", err)
		}
		return RemoveNode{Node: node}, nil
	case WireMoveNode:
		node, err := model.ParseNodeID(w.Node)
		if err != nil {
			return nil, fmt.Errorf("step: bad node id: %w", err)
		}
		parent, err := model.ParseNodeID(w.NewParent)
		if err != nil {
			return nil, fmt.Errorf("step: bad new parent id: %w", err)
		}
		return MoveNode{Node: node, NewParent: parent, Position: w.Position}, nil
	case WireSetAttr:
		node, err := model.ParseNodeID(w.Node)
		if err != nil {
			return nil, fmt.Errorf("step: bad node id: %w", err)
		}
		return SetAttr{Node: node, Key: w.Key, Value: w.Value}, nil
	case WireAddMark:
		node, err := model.ParseNodeID(w.Node)
		if err != nil {
			return nil, fmt.Errorf("step: bad node id: %w", err)
		}
		if w.Mark == nil {
			return nil, fmt.Errorf("step: add-mark step has no mark")
		}
		return AddMark{Node: node, Mark: model.Mark{Type: w.Mark.Type, Attrs: w.Mark.Attrs.Clone()}}, nil
	case WireRemoveMark:
		node, err := model.ParseNodeID(w.Node)
		if err != nil {
			return nil, fmt.Errorf("step: bad node id: %w", err)
		}
		return RemoveMark{Node: node, MarkType: w.MarkType}, nil
	case WireBatch:
		steps := make([]Step, len(w.Steps))
		for i, sub := range w.Steps {
			s, err := FromWire(sub)
			if err != nil {
				return nil, err
			}
			steps[i] = s
		}
		return BatchStep{Steps: steps}, nil
	default:
		return nil, fmt.Errorf("step: unknown wire kind %d", w.Kind)
	}
}

func subtreeToWire(s pool.Subtree) *WireSubtree {
	out := &WireSubtree{Root: s.Root.String()}
	for _, n := range s.Nodes {
		wn := WireNode{ID: n.ID.String(), Type: n.Type, Attrs: n.Attrs, Text: n.Text}
		for _, m := range n.Marks {
			wn.Marks = append(wn.Marks, WireMark{Type: m.Type, Attrs: m.Attrs})
		}
		for _, c := range n.Content {
			wn.Content = append(wn.Content, c.String())
		}
		out.Nodes = append(out.Nodes, wn)
	}
	return out
}

func subtreeFromWire(w WireSubtree) (pool.Subtree, error) {
	root, err := model.ParseNodeID(w.Root)
	if err != nil {
		return pool.Subtree{}, fmt.Errorf("step: bad subtree root id: %w", err)
	}
	nodes := make(map[model.NodeID]model.Node, len(w.Nodes))
	for _, wn := range w.Nodes {
		id, err := model.ParseNodeID(wn.ID)
		if err != nil {
			return pool.Subtree{}, fmt.Errorf("step: bad subtree node id: %w", err)
		}
		n := model.Node{ID: id, Type: wn.Type, Attrs: wn.Attrs.Clone(), Text: wn.Text}
		for _, m := range wn.Marks {
			n.Marks = n.Marks.Add(model.Mark{Type: m.Type, Attrs: m.Attrs.Clone()})
		}
		for _, c := range wn.Content {
			cid, err := model.ParseNodeID(c)
			if err != nil {
				return pool.Subtree{}, fmt.Errorf("step: bad subtree content id: %w", err)
			}
			n.Content = append(n.Content, cid)
		}
		nodes[id] = n
	}
	return pool.Subtree{Root: root, Nodes: nodes}, nil
}

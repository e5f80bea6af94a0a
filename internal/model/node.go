package model

import "github.com/google/uuid"

// NodeID uniquely identifies a node within a NodePool. IDs are assigned at
// construction time and never change across a node's lifetime, even when
// its attrs, marks, or children are replaced.
type NodeID uuid.UUID

// NilNodeID is the zero value, used to mean "no parent" (the root's parent).
var NilNodeID = NodeID(uuid.Nil)

// NewNodeID generates a fresh random node identifier.
func NewNodeID() NodeID {
	return NodeID(uuid.New())
}

// ParseNodeID parses a canonical UUID string into a NodeID.
func ParseNodeID(s string) (NodeID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return NodeID{}, err
	}
	return NodeID(id), nil
}

func (id NodeID) String() string {
	return uuid.UUID(id).String()
}

// IsNil reports whether id is the nil identifier.
func (id NodeID) IsNil() bool {
	return id == NilNodeID
}

// Node is an immutable value describing one element of the document tree.
// Node values never reference each other directly: the parent/child
// relationship is recorded by the owning NodePool via each node's Content
// list of child IDs, not by pointers. Replacing a node's attrs, marks, or
// content always produces a new Node value; the original is left untouched,
// which is what lets NodePool share unchanged subtrees across versions.
type Node struct {
	ID      NodeID
	Type    string
	Attrs   Attrs
	Marks   MarkSet
	Content []NodeID
	// Text holds inline text content for text-like leaf nodes. Empty for
	// element nodes, which carry their payload in Content instead.
	Text string
}

// NewNode constructs a Node with a fresh ID. Attrs and marks are cloned so
// the caller's maps/slices cannot alias the returned node's state.
func NewNode(nodeType string, attrs Attrs, marks MarkSet, content []NodeID) Node {
	n := Node{
		ID:    NewNodeID(),
		Type:  nodeType,
		Attrs: attrs.Clone(),
		Marks: marks.Clone(),
	}
	if len(content) > 0 {
		n.Content = append([]NodeID(nil), content...)
	}
	return n
}

// NewTextNode constructs a text leaf node.
func NewTextNode(nodeType, text string, marks MarkSet) Node {
	return Node{
		ID:    NewNodeID(),
		Type:  nodeType,
		Attrs: Attrs{},
		Marks: marks.Clone(),
		Text:  text,
	}
}

// IsLeaf reports whether the node has no children (text nodes are always
// leaves; element nodes are leaves only when their content list is empty).
func (n Node) IsLeaf() bool {
	return len(n.Content) == 0
}

// WithAttrs returns a copy of n with attrs replaced wholesale.
func (n Node) WithAttrs(attrs Attrs) Node {
	n.Attrs = attrs.Clone()
	return n
}

// WithMarks returns a copy of n with its mark set replaced wholesale.
func (n Node) WithMarks(marks MarkSet) Node {
	n.Marks = marks.Clone()
	return n
}

// WithContent returns a copy of n with its child list replaced wholesale.
func (n Node) WithContent(content []NodeID) Node {
	n.Content = append([]NodeID(nil), content...)
	return n
}

// ChildIndex returns the index of childID in n.Content, or -1 if absent.
func (n Node) ChildIndex(childID NodeID) int {
	for i, c := range n.Content {
		if c == childID {
			return i
		}
	}
	return -1
}

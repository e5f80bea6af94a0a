package model

// Mark is a piece of inline formatting or metadata attached to a node, such
// as "bold" or "link". A node may carry any number of marks, but at most one
// instance of a given mark type (adding the same type again replaces it).
type Mark struct {
	Type  string
	Attrs Attrs
}

// NewMark constructs a Mark, cloning attrs so later mutation of the caller's
// map cannot reach back into the mark.
func NewMark(markType string, attrs Attrs) Mark {
	return Mark{Type: markType, Attrs: attrs.Clone()}
}

// Equal reports whether two marks have the same type and attrs.
func (m Mark) Equal(other Mark) bool {
	return m.Type == other.Type && m.Attrs.Equal(other.Attrs)
}

// MarkSet is an ordered, type-deduplicated collection of marks. Order is
// insertion order and is preserved by Add/Remove.
type MarkSet []Mark

// IndexOf returns the index of the mark with the given type, or -1.
func (s MarkSet) IndexOf(markType string) int {
	for i, m := range s {
		if m.Type == markType {
			return i
		}
	}
	return -1
}

// Add returns a new MarkSet with mark added, replacing any existing mark of
// the same type in place so ordering is stable across updates.
func (s MarkSet) Add(mark Mark) MarkSet {
	if i := s.IndexOf(mark.Type); i >= 0 {
		out := make(MarkSet, len(s))
		copy(out, s)
		out[i] = mark
		return out
	}
	out := make(MarkSet, len(s), len(s)+1)
	copy(out, s)
	return append(out, mark)
}

// Remove returns a new MarkSet with the mark of the given type removed, if
// present. If absent, the original set is returned unchanged.
func (s MarkSet) Remove(markType string) MarkSet {
	i := s.IndexOf(markType)
	if i < 0 {
		return s
	}
	out := make(MarkSet, 0, len(s)-1)
	out = append(out, s[:i]...)
	out = append(out, s[i+1:]...)
	return out
}

// Has reports whether the set contains a mark of the given type.
func (s MarkSet) Has(markType string) bool {
	return s.IndexOf(markType) >= 0
}

// Clone returns a deep-enough copy (marks are value types; attrs maps are
// cloned) so the returned set shares no mutable state with s.
func (s MarkSet) Clone() MarkSet {
	out := make(MarkSet, len(s))
	for i, m := range s {
		out[i] = Mark{Type: m.Type, Attrs: m.Attrs.Clone()}
	}
	return out
}

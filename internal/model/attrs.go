// Package model implements the ModuForge data model: nodes, marks, attrs,
// and the schema that governs which combinations of them are well-formed.
package model

// Attrs is a string-keyed mapping of JSON-compatible values attached to a
// node or mark. Keys are unique; insertion order is not significant.
type Attrs map[string]interface{}

// Clone returns a shallow copy of a. A nil receiver returns an empty, non-nil
// map so callers never need a nil check before indexing the result.
func (a Attrs) Clone() Attrs {
	out := make(Attrs, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// With returns a copy of a with key set to value; a itself is unmodified.
func (a Attrs) With(key string, value interface{}) Attrs {
	out := a.Clone()
	out[key] = value
	return out
}

// Equal reports whether a and b contain the same keys mapped to equal
// values. Nested map[string]interface{} and []interface{} values are
// compared recursively, element by element; other values with Go's ==.
func (a Attrs) Equal(b Attrs) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		bv, ok := b[k]
		if !ok || !attrValueEqual(v, bv) {
			return false
		}
	}
	return true
}

func attrValueEqual(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == b
	}
	switch av := a.(type) {
	case map[string]interface{}:
		bv, ok := b.(map[string]interface{})
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			if !attrValueEqual(v, bv[k]) {
				return false
			}
		}
		return true
	case []interface{}:
		bv, ok := b.([]interface{})
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !attrValueEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

package model

import (
	"fmt"
)

// AttrSpec describes one declared attribute of a node type. An attribute
// with no default must be supplied on every node of that type; one with a
// default may be omitted, in which case Schema.Defaults supplies the value.
type AttrSpec struct {
	Default    interface{} `yaml:"default,omitempty"`
	HasDefault bool        `yaml:"-"`
}

// NodeSpec is the declarative, YAML-loadable description of one node type.
type NodeSpec struct {
	// Content is a content expression over child type names and group
	// names, e.g. "paragraph+ (image | table)*". Empty means leaf-only
	// (no children accepted).
	Content string `yaml:"content"`
	// Marks lists the mark types allowed on this node type, or ["_"] for
	// "any mark is allowed".
	Marks []string `yaml:"marks"`
	// Attrs maps attr name to its spec.
	Attrs map[string]AttrSpec `yaml:"attrs"`
}

// MarkSpec is the declarative description of one mark type.
type MarkSpec struct {
	// Excludes lists mark types that cannot coexist with this one on the
	// same node. A mark always implicitly excludes itself as a duplicate,
	// which MarkSet.Add already handles by replacement rather than error.
	Excludes []string `yaml:"excludes"`
}

// SchemaSpec is the full declarative schema document, as loaded from YAML.
type SchemaSpec struct {
	TopNode string                 `yaml:"top_node"`
	Nodes   map[string]NodeSpec    `yaml:"nodes"`
	Marks   map[string]MarkSpec    `yaml:"marks"`
	Groups  map[string][]string    `yaml:"groups"`
}

const wildcardMark = "_"

// Schema is the compiled, immutable form of a SchemaSpec: every node type's
// content expression has been compiled to a ContentAutomaton and every
// group reference resolved, so validation never re-parses the spec.
type Schema struct {
	spec       SchemaSpec
	automata   map[string]*ContentAutomaton
	markIndex  map[string]map[string]bool // node type -> set of allowed mark types (expanded, minus wildcard flag)
	wildcard   map[string]bool            // node type -> marks("_") present
}

// CompileSchema validates and compiles a SchemaSpec into a Schema, or
// returns a SchemaError describing the first problem found.
func CompileSchema(spec SchemaSpec) (*Schema, error) {
	if spec.TopNode == "" {
		return nil, newSchemaErr(InconsistentDefaults, "", "top_node must be set")
	}
	if _, ok := spec.Nodes[spec.TopNode]; !ok {
		return nil, newSchemaErr(UnknownType, spec.TopNode, "top_node is not a declared node type")
	}

	for typeName, ns := range spec.Nodes {
		ast, err := parseContentExpr(ns.Content)
		if err != nil {
			return nil, &SchemaError{Kind: InvalidContentExpr, NodeType: typeName, Detail: err.Error()}
		}
		if err := validateContentRefs(ast, spec.Nodes, spec.Groups); err != nil {
			return nil, &SchemaError{Kind: UnknownType, NodeType: typeName, Detail: err.Error()}
		}
		for _, markType := range ns.Marks {
			if markType == wildcardMark {
				continue
			}
			if _, ok := spec.Marks[markType]; !ok {
				return nil, newSchemaErr(UnknownType, markType, fmt.Sprintf("mark type referenced by node %q is not declared", typeName))
			}
		}
	}
	for markType, ms := range spec.Marks {
		for _, excluded := range ms.Excludes {
			if _, ok := spec.Marks[excluded]; !ok {
				return nil, newSchemaErr(UnknownType, excluded, fmt.Sprintf("mark type excluded by %q is not declared", markType))
			}
		}
	}
	for groupName, members := range spec.Groups {
		for _, m := range members {
			if _, ok := spec.Nodes[m]; !ok {
				return nil, newSchemaErr(UnknownType, m, fmt.Sprintf("group %q references undeclared node type", groupName))
			}
		}
	}

	s := &Schema{
		spec:      spec,
		automata:  map[string]*ContentAutomaton{},
		markIndex: map[string]map[string]bool{},
		wildcard:  map[string]bool{},
	}
	for typeName, ns := range spec.Nodes {
		automaton, err := compileContentAutomaton(ns.Content, spec.Groups)
		if err != nil {
			return nil, &SchemaError{Kind: InvalidContentExpr, NodeType: typeName, Detail: err.Error()}
		}
		s.automata[typeName] = automaton

		marks := map[string]bool{}
		for _, mt := range ns.Marks {
			if mt == wildcardMark {
				s.wildcard[typeName] = true
				continue
			}
			marks[mt] = true
		}
		s.markIndex[typeName] = marks
	}
	return s, nil
}

// validateContentRefs walks the AST checking that every literal name is
// either a declared node type or a declared group.
func validateContentRefs(ast contentAST, nodes map[string]NodeSpec, groups map[string][]string) error {
	switch v := ast.(type) {
	case litExpr:
		if _, ok := nodes[v.name]; ok {
			return nil
		}
		if _, ok := groups[v.name]; ok {
			return nil
		}
		return fmt.Errorf("content expression references undeclared type or group %q", v.name)
	case seqExpr:
		for _, item := range v.items {
			if err := validateContentRefs(item, nodes, groups); err != nil {
				return err
			}
		}
		return nil
	case altExpr:
		for _, item := range v.items {
			if err := validateContentRefs(item, nodes, groups); err != nil {
				return err
			}
		}
		return nil
	case starExpr:
		return validateContentRefs(v.item, nodes, groups)
	case plusExpr:
		return validateContentRefs(v.item, nodes, groups)
	case optExpr:
		return validateContentRefs(v.item, nodes, groups)
	default:
		return nil
	}
}

// AllowedMarks reports whether markType may be applied to a node of type
// nodeType (either declared explicitly, or the type allows the "_"
// wildcard).
func (s *Schema) AllowedMarks(nodeType, markType string) bool {
	if s.wildcard[nodeType] {
		return true
	}
	return s.markIndex[nodeType][markType]
}

// Excludes reports whether mark type a lists b in its excludes set; b's own
// excludes set is not consulted.
func (s *Schema) Excludes(a, b string) bool {
	spec, ok := s.spec.Marks[a]
	if !ok {
		return false
	}
	for _, e := range spec.Excludes {
		if e == b {
			return true
		}
	}
	return false
}

// Defaults returns the default value for (nodeType, attr) and whether one
// is declared.
func (s *Schema) Defaults(nodeType, attr string) (interface{}, bool) {
	ns, ok := s.spec.Nodes[nodeType]
	if !ok {
		return nil, false
	}
	as, ok := ns.Attrs[attr]
	if !ok {
		return nil, false
	}
	return as.Default, as.HasDefault
}

// AttrNames returns the declared attribute names of nodeType.
func (s *Schema) AttrNames(nodeType string) []string {
	ns, ok := s.spec.Nodes[nodeType]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(ns.Attrs))
	for name := range ns.Attrs {
		out = append(out, name)
	}
	return out
}

// HasNodeType reports whether nodeType is declared in the schema.
func (s *Schema) HasNodeType(nodeType string) bool {
	_, ok := s.spec.Nodes[nodeType]
	return ok
}

// TopNode returns the declared root node type.
func (s *Schema) TopNode() string {
	return s.spec.TopNode
}

// IsDefaultConstructible reports whether every non-defaulted attr of
// nodeType has a default -- i.e. whether FillToValidPrefix may synthesize a
// bare node of this type with no further input.
func (s *Schema) IsDefaultConstructible(nodeType string) bool {
	ns, ok := s.spec.Nodes[nodeType]
	if !ok {
		return false
	}
	for _, as := range ns.Attrs {
		if !as.HasDefault {
			return false
		}
	}
	return true
}

// ValidateAttrs checks that attrs satisfies nodeType's attr declarations:
// every attr without a default must be present, and every present attr must
// be declared.
func (s *Schema) ValidateAttrs(nodeType string, attrs Attrs) error {
	ns, ok := s.spec.Nodes[nodeType]
	if !ok {
		return newSchemaErr(UnknownType, nodeType, "")
	}
	for name, as := range ns.Attrs {
		if _, present := attrs[name]; !present && !as.HasDefault {
			return newSchemaErr(AttrMissing, nodeType, name)
		}
	}
	for name := range attrs {
		if _, declared := ns.Attrs[name]; !declared {
			return newSchemaErr(AttrUndeclared, nodeType, name)
		}
	}
	return nil
}

// ValidateMarks checks that every mark in marks is allowed on nodeType and
// that no two marks in the set exclude each other.
func (s *Schema) ValidateMarks(nodeType string, marks MarkSet) error {
	for _, m := range marks {
		if !s.AllowedMarks(nodeType, m.Type) {
			return newSchemaErr(MarkForbidden, nodeType, m.Type)
		}
	}
	for i := range marks {
		for j := range marks {
			if i == j {
				continue
			}
			if s.Excludes(marks[i].Type, marks[j].Type) {
				return newSchemaErr(MarkExcluded, nodeType, fmt.Sprintf("%s excludes %s", marks[i].Type, marks[j].Type))
			}
		}
	}
	return nil
}

// ValidateContent checks that childTypes is an accepted completion of
// nodeType's content expression.
func (s *Schema) ValidateContent(nodeType string, childTypes []string) error {
	automaton, ok := s.automata[nodeType]
	if !ok {
		return newSchemaErr(UnknownType, nodeType, "")
	}
	if !automaton.Accept(childTypes) {
		ns := s.spec.Nodes[nodeType]
		return &SchemaError{
			Kind:     ContentMismatch,
			NodeType: nodeType,
			Expected: ns.Content,
			Got:      append([]string(nil), childTypes...),
		}
	}
	return nil
}

// FillToValidPrefix returns the shortest sequence of default-constructible
// node types that, appended to childTypes, reaches a valid accepting state
// for nodeType's content expression. ok is false (NoFillAvailable) if
// childTypes is not itself a valid prefix, or no completion exists using
// only default-constructible types.
func (s *Schema) FillToValidPrefix(nodeType string, childTypes []string) ([]string, bool) {
	automaton, ok := s.automata[nodeType]
	if !ok {
		return nil, false
	}
	return automaton.FillToValidPrefix(childTypes, s.IsDefaultConstructible)
}

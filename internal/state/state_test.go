package state

import (
	"context"
	"testing"

	"moduforge.dev/moduforge/internal/model"
	"moduforge.dev/moduforge/internal/pool"
	"moduforge.dev/moduforge/internal/step"
	"moduforge.dev/moduforge/internal/transaction"
)

func testSchema(t *testing.T) *model.Schema {
	t.Helper()
	spec := model.SchemaSpec{
		TopNode: "doc",
		Nodes: map[string]model.NodeSpec{
			"doc":       {Content: "paragraph*"},
			"paragraph": {Content: "text*", Marks: []string{"strong", "em"}},
			"text":      {Content: "", Attrs: map[string]model.AttrSpec{"value": {Default: "", HasDefault: true}}},
		},
		Marks: map[string]model.MarkSpec{"strong": {}, "em": {}},
	}
	s, err := model.CompileSchema(spec)
	if err != nil {
		t.Fatalf("CompileSchema() error = %v", err)
	}
	return s
}

func testConfig(t *testing.T, plugins ...*Plugin) *Configuration {
	t.Helper()
	mgr := NewPluginManager()
	for _, p := range plugins {
		if err := mgr.Register(p); err != nil {
			t.Fatalf("Register(%s) error = %v", p.Key, err)
		}
	}
	cfg, err := NewConfiguration(testSchema(t), mgr)
	if err != nil {
		t.Fatalf("NewConfiguration() error = %v", err)
	}
	return cfg
}

// countField counts committed transactions in its state field.
type countField struct{}

func (countField) Init(context.Context, *Configuration, *State) (interface{}, error) {
	return 0, nil
}

func (countField) Apply(_ context.Context, _ *transaction.Transaction, value interface{}, _, _ *State) (interface{}, error) {
	return value.(int) + 1, nil
}

func TestCreateBuildsRootFromSchemaTopNode(t *testing.T) {
	cfg := testConfig(t)
	s, err := Create(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if s.Version() != 0 {
		t.Fatalf("Version() = %d, want 0", s.Version())
	}
	root, ok := s.Doc().Get(s.Doc().Root())
	if !ok {
		t.Fatal("root node missing from pool")
	}
	if root.Type != "doc" {
		t.Fatalf("root type = %q, want doc", root.Type)
	}
}

func TestCreateInitializesPluginFields(t *testing.T) {
	p := &Plugin{
		Key:    PluginKey{Name: "counter", Version: "1.0.0"},
		Field:  countField{},
		Config: PluginConfig{Enabled: true},
	}
	cfg := testConfig(t, p)
	s, err := Create(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	v, ok := s.GetField("counter@1.0.0")
	if !ok {
		t.Fatal("counter field not installed")
	}
	if v.(int) != 0 {
		t.Fatalf("initial counter = %v, want 0", v)
	}
}

func TestApplyAdvancesVersionAndDoc(t *testing.T) {
	cfg := testConfig(t)
	s, err := Create(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	tr := s.Tr()
	para := model.NewNode("paragraph", nil, nil, nil)
	if err := tr.AddStep(step.AddNode{Parent: s.Doc().Root(), Position: 0, Subtree: pool.NewLeafSubtree(para)}); err != nil {
		t.Fatalf("AddStep() error = %v", err)
	}
	tr.Commit()

	res, err := s.Apply(context.Background(), tr)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if res.NewState.Version() != 1 {
		t.Fatalf("new version = %d, want 1", res.NewState.Version())
	}
	if len(res.Transactions) != 1 {
		t.Fatalf("committed = %d transactions, want 1", len(res.Transactions))
	}
	children, _ := res.NewState.Doc().Children(res.NewState.Doc().Root())
	if len(children) != 1 || children[0] != para.ID {
		t.Fatalf("root children = %v, want [%v]", children, para.ID)
	}
	// The original state is untouched.
	if s.Version() != 0 || s.Doc().Size() != 1 {
		t.Fatal("Apply mutated the receiving state")
	}
}

func TestApplyUpdatesPluginFields(t *testing.T) {
	p := &Plugin{
		Key:    PluginKey{Name: "counter", Version: "1.0.0"},
		Field:  countField{},
		Config: PluginConfig{Enabled: true},
	}
	cfg := testConfig(t, p)
	s, err := Create(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	tr := s.Tr()
	tr.Commit()
	res, err := s.Apply(context.Background(), tr)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	v, _ := res.NewState.GetField("counter@1.0.0")
	if v.(int) != 1 {
		t.Fatalf("counter after one apply = %v, want 1", v)
	}
	old, _ := s.GetField("counter@1.0.0")
	if old.(int) != 0 {
		t.Fatalf("old state counter mutated to %v", old)
	}
}

func TestApplyEmptyTransactionAfterRejectedStep(t *testing.T) {
	cfg := testConfig(t)
	s, err := Create(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	// AddStep rejects a step that removes a node absent from s.doc, so the
	// transaction reaches the scheduler with no steps at all.
	tr := transaction.New(s.Version(), s.Doc(), cfg.Schema)
	bogus := step.RemoveNode{Node: model.NewNodeID()}
	_ = tr.AddStep(bogus) // fails, leaving the transaction empty
	tr.Commit()

	res, err := s.Apply(context.Background(), tr)
	if err != nil {
		t.Fatalf("empty transaction should apply cleanly, got %v", err)
	}
	if res.NewState.Version() != 1 {
		t.Fatalf("version = %d, want 1", res.NewState.Version())
	}
}

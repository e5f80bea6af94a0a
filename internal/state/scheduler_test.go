package state

import (
	"context"
	"errors"
	"testing"

	"moduforge.dev/moduforge/internal/model"
	"moduforge.dev/moduforge/internal/pool"
	"moduforge.dev/moduforge/internal/step"
	"moduforge.dev/moduforge/internal/transaction"
)

// metaVeto vetoes any transaction carrying the configured meta key.
type metaVeto struct {
	key string
}

func (v metaVeto) FilterTransaction(_ context.Context, tr *transaction.Transaction, _ *State) bool {
	_, present := tr.GetMeta(v.key)
	return !present
}

func (v metaVeto) AppendTransaction(context.Context, []*transaction.Transaction, *State, *State) (*transaction.Transaction, error) {
	return nil, nil
}

// chainOnMeta emits one follow-on when any committed transaction carries
// triggerMeta; the follow-on inserts a node and carries emitMeta.
type chainOnMeta struct {
	triggerMeta string
	emitMeta    string
	nodeType    string
	parentOf    func(s *State) model.NodeID
}

func (c chainOnMeta) FilterTransaction(context.Context, *transaction.Transaction, *State) bool {
	return true
}

func (c chainOnMeta) AppendTransaction(_ context.Context, committed []*transaction.Transaction, _, current *State) (*transaction.Transaction, error) {
	triggered := false
	for _, tr := range committed {
		if _, ok := tr.GetMeta(c.triggerMeta); ok {
			triggered = true
		}
		// Already emitted for this dispatch: the emit meta shows up in the
		// committed list once our follow-on lands.
		if _, ok := tr.GetMeta(c.emitMeta); ok {
			return nil, nil
		}
	}
	if !triggered {
		return nil, nil
	}
	follow := current.Tr()
	n := model.NewNode(c.nodeType, nil, nil, nil)
	if err := follow.AddStep(step.AddNode{Parent: c.parentOf(current), Position: 0, Subtree: pool.NewLeafSubtree(n)}); err != nil {
		return nil, err
	}
	follow.SetMeta(c.emitMeta, true)
	follow.Commit()
	return follow, nil
}

// alwaysAppend loops forever, exercising the append budget.
type alwaysAppend struct{}

func (alwaysAppend) FilterTransaction(context.Context, *transaction.Transaction, *State) bool {
	return true
}

func (alwaysAppend) AppendTransaction(_ context.Context, _ []*transaction.Transaction, _, current *State) (*transaction.Transaction, error) {
	follow := current.Tr()
	follow.SetMeta("loop", true)
	follow.Commit()
	return follow, nil
}

func TestPreFilterVetoRejectsWholeDispatch(t *testing.T) {
	veto := &Plugin{
		Key:      PluginKey{Name: "veto", Version: "1.0.0"},
		Behavior: metaVeto{key: "forbidden"},
		Config:   PluginConfig{Enabled: true},
	}
	cfg := testConfig(t, veto)
	s, err := Create(context.Background(), cfg, nil)
	if err != nil {
		t.Fatal(err)
	}

	tr := s.Tr()
	tr.SetMeta("forbidden", true)
	tr.Commit()

	_, err = s.Apply(context.Background(), tr)
	key, ok := IsFilteredOut(err)
	if !ok {
		t.Fatalf("expected FilteredOut, got %v", err)
	}
	if key != "veto@1.0.0" {
		t.Fatalf("vetoing plugin = %q, want veto@1.0.0", key)
	}
}

func TestAppendLoopChainsAcrossPlugins(t *testing.T) {
	parent := func(s *State) model.NodeID { return s.Doc().Root() }
	firstPara := func(s *State) model.NodeID {
		children, _ := s.Doc().Children(s.Doc().Root())
		return children[0]
	}

	a := &Plugin{
		Key:      PluginKey{Name: "doc-creator", Version: "1.0.0"},
		Priority: 10,
		Behavior: chainOnMeta{triggerMeta: "create_doc", emitMeta: "paragraph_added", nodeType: "paragraph", parentOf: parent},
		Config:   PluginConfig{Enabled: true},
	}
	b := &Plugin{
		Key:      PluginKey{Name: "text-filler", Version: "1.0.0"},
		Priority: 20,
		Behavior: chainOnMeta{triggerMeta: "paragraph_added", emitMeta: "text_added", nodeType: "text", parentOf: firstPara},
		Config:   PluginConfig{Enabled: true},
	}
	cfg := testConfig(t, a, b)
	s, err := Create(context.Background(), cfg, nil)
	if err != nil {
		t.Fatal(err)
	}

	tr := s.Tr()
	tr.SetMeta("create_doc", true)
	tr.Commit()

	res, err := s.Apply(context.Background(), tr)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if len(res.Transactions) != 3 {
		t.Fatalf("committed = %d transactions, want 3", len(res.Transactions))
	}
	if res.Transactions[0] != tr {
		t.Fatal("first committed transaction should be the input")
	}
	if res.NewState.Version() != 3 {
		t.Fatalf("final version = %d, want 3", res.NewState.Version())
	}

	doc := res.NewState.Doc()
	paras, _ := doc.Children(doc.Root())
	if len(paras) != 1 {
		t.Fatalf("root has %d children, want 1 paragraph", len(paras))
	}
	texts, _ := doc.Children(paras[0])
	if len(texts) != 1 {
		t.Fatalf("paragraph has %d children, want 1 text", len(texts))
	}
}

func TestAppendLoopBudgetIsAllOrNothing(t *testing.T) {
	l := &Plugin{
		Key:      PluginKey{Name: "looper", Version: "1.0.0"},
		Behavior: alwaysAppend{},
		Config:   PluginConfig{Enabled: true},
	}
	cfg := testConfig(t, l)
	s, err := Create(context.Background(), cfg, nil)
	if err != nil {
		t.Fatal(err)
	}

	tr := s.Tr()
	tr.Commit()
	_, err = s.Apply(context.Background(), tr)
	var ae *ApplyError
	if !errors.As(err, &ae) {
		t.Fatalf("expected ApplyError, got %v", err)
	}
	var pe *PluginError
	if !errors.As(err, &pe) || pe.Kind != AppendLoopBudgetExceeded {
		t.Fatalf("expected AppendLoopBudgetExceeded, got %v", err)
	}
	if pe.PluginKey != "looper@1.0.0" {
		t.Fatalf("budget plugin = %q, want looper@1.0.0", pe.PluginKey)
	}
	// All-or-nothing: the receiving state never observed any of the
	// intermediate applies.
	if s.Version() != 0 {
		t.Fatalf("state version mutated to %d", s.Version())
	}
}

func TestPluginCannotVetoOwnFollowOn(t *testing.T) {
	// One plugin both emits a follow-on and would veto it by meta; the
	// scheduler must skip the author during re-filter, so the follow-on
	// still lands.
	self := &Plugin{
		Key: PluginKey{Name: "self", Version: "1.0.0"},
		Behavior: selfVetoAppend{},
		Config:   PluginConfig{Enabled: true},
	}
	cfg := testConfig(t, self)
	s, err := Create(context.Background(), cfg, nil)
	if err != nil {
		t.Fatal(err)
	}

	tr := s.Tr()
	tr.SetMeta("start", true)
	tr.Commit()
	res, err := s.Apply(context.Background(), tr)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if len(res.Transactions) != 2 {
		t.Fatalf("committed = %d, want 2 (input + self follow-on)", len(res.Transactions))
	}
}

// selfVetoAppend emits one follow-on tagged "self_emitted" and filters out
// every transaction carrying that tag.
type selfVetoAppend struct{}

func (selfVetoAppend) FilterTransaction(_ context.Context, tr *transaction.Transaction, _ *State) bool {
	_, emitted := tr.GetMeta("self_emitted")
	return !emitted
}

func (selfVetoAppend) AppendTransaction(_ context.Context, committed []*transaction.Transaction, _, current *State) (*transaction.Transaction, error) {
	for _, tr := range committed {
		if _, ok := tr.GetMeta("self_emitted"); ok {
			return nil, nil
		}
	}
	follow := current.Tr()
	follow.SetMeta("self_emitted", true)
	follow.Commit()
	return follow, nil
}

func TestApplyDeterminism(t *testing.T) {
	p := &Plugin{
		Key:    PluginKey{Name: "counter", Version: "1.0.0"},
		Field:  countField{},
		Config: PluginConfig{Enabled: true},
	}
	cfg := testConfig(t, p)
	s, err := Create(context.Background(), cfg, nil)
	if err != nil {
		t.Fatal(err)
	}

	para := model.NewNode("paragraph", nil, nil, nil)
	tr := s.Tr()
	if err := tr.AddStep(step.AddNode{Parent: s.Doc().Root(), Position: 0, Subtree: pool.NewLeafSubtree(para)}); err != nil {
		t.Fatal(err)
	}
	tr.Commit()

	r1, err := s.Apply(context.Background(), tr)
	if err != nil {
		t.Fatal(err)
	}
	r2, err := s.Apply(context.Background(), tr)
	if err != nil {
		t.Fatal(err)
	}
	if r1.NewState.Version() != r2.NewState.Version() {
		t.Fatal("two applies of the same transaction produced different versions")
	}
	if r1.NewState.Doc().Size() != r2.NewState.Doc().Size() {
		t.Fatal("two applies produced different doc sizes")
	}
	v1, _ := r1.NewState.GetField("counter@1.0.0")
	v2, _ := r2.NewState.GetField("counter@1.0.0")
	if v1 != v2 {
		t.Fatal("two applies produced different plugin fields")
	}
}

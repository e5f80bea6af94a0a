package runtime

// End-to-end coverage of the dispatch pipeline: happy path, schema
// rejection, append-loop chaining, filter veto, append budget exhaustion,
// and undo/redo round trips, all against the paragraph/text schema.

import (
	"context"
	"errors"
	"testing"

	"moduforge.dev/moduforge/internal/eventbus"
	"moduforge.dev/moduforge/internal/model"
	"moduforge.dev/moduforge/internal/pool"
	"moduforge.dev/moduforge/internal/state"
	"moduforge.dev/moduforge/internal/step"
	"moduforge.dev/moduforge/internal/transaction"
)

// newScenarioRuntime builds a runtime whose initial doc is a root with one
// empty paragraph, returning the runtime and the paragraph's id.
func newScenarioRuntime(t *testing.T, plugins ...*state.Plugin) (*ForgeRuntime, model.NodeID) {
	t.Helper()
	mgr := state.NewPluginManager()
	for _, p := range plugins {
		if err := mgr.Register(p); err != nil {
			t.Fatal(err)
		}
	}
	cfg, err := state.NewConfiguration(scenarioSchema(t), mgr)
	if err != nil {
		t.Fatal(err)
	}

	para := model.NewNode("paragraph", nil, nil, nil)
	root := model.NewNode("doc", nil, nil, nil)
	doc, err := pool.NewNodePool(root).WithInserted(root.ID, 0, pool.NewLeafSubtree(para))
	if err != nil {
		t.Fatal(err)
	}
	s, err := state.CreateWithDoc(context.Background(), cfg, doc, nil)
	if err != nil {
		t.Fatal(err)
	}
	return New(s, Options{}), para.ID
}

func TestScenarioHappyPath(t *testing.T) {
	r, p1 := newScenarioRuntime(t)
	s0 := r.CurrentState()

	var appliedEvents []eventbus.Applied
	r.Events().Subscribe(eventbus.KindApplied, func(_ context.Context, e eventbus.Event) error {
		appliedEvents = append(appliedEvents, e.(eventbus.Applied))
		return nil
	})

	text := model.NewNode("text", model.Attrs{"value": "hi"}, nil, nil)
	tr := r.Tr()
	if err := tr.AddStep(step.AddNode{Parent: p1, Position: 0, Subtree: pool.NewLeafSubtree(text)}); err != nil {
		t.Fatal(err)
	}
	if err := r.Dispatch(context.Background(), tr); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	s1 := r.CurrentState()
	if s1.Version() != s0.Version()+1 {
		t.Fatalf("version = %d, want %d", s1.Version(), s0.Version()+1)
	}
	children, _ := s1.Doc().Children(p1)
	if len(children) != 1 || children[0] != text.ID {
		t.Fatalf("paragraph children = %v, want [%v]", children, text.ID)
	}
	if len(appliedEvents) != 1 {
		t.Fatalf("Applied events = %d, want 1", len(appliedEvents))
	}
	if len(appliedEvents[0].Transactions) != 1 {
		t.Fatalf("committed in Applied = %d, want 1", len(appliedEvents[0].Transactions))
	}
}

func TestScenarioSchemaRejection(t *testing.T) {
	r, p1 := newScenarioRuntime(t)

	// Advance to S1 with a text node.
	text := model.NewNode("text", model.Attrs{"value": "hi"}, nil, nil)
	tr := r.Tr()
	if err := tr.AddStep(step.AddNode{Parent: p1, Position: 0, Subtree: pool.NewLeafSubtree(text)}); err != nil {
		t.Fatal(err)
	}
	if err := r.Dispatch(context.Background(), tr); err != nil {
		t.Fatal(err)
	}
	s1 := r.CurrentState()

	var failed int
	r.Events().Subscribe(eventbus.KindDispatchFailed, func(context.Context, eventbus.Event) error {
		failed++
		return nil
	})

	// "link" is not an allowed mark on text, so AddStep under the
	// runtime's schema refuses it outright; a transaction built elsewhere
	// (a collaboration peer with a looser schema) can still carry the
	// step, and the scheduler must reject it at apply time.
	looseSpec := model.SchemaSpec{
		TopNode: "doc",
		Nodes: map[string]model.NodeSpec{
			"doc":       {Content: "paragraph+"},
			"paragraph": {Content: "text*", Marks: []string{"_"}},
			"text":      {Content: "", Marks: []string{"_"}, Attrs: map[string]model.AttrSpec{"value": {Default: "", HasDefault: true}}},
		},
		Marks: map[string]model.MarkSpec{"strong": {}, "em": {}, "link": {}},
	}
	loose, err := model.CompileSchema(looseSpec)
	if err != nil {
		t.Fatal(err)
	}
	foreign := transaction.New(s1.Version(), s1.Doc(), loose)
	if err := foreign.AddStep(step.AddMark{Node: text.ID, Mark: model.Mark{Type: "link"}}); err != nil {
		t.Fatal(err)
	}

	err = r.Dispatch(context.Background(), foreign)
	var re *Error
	if !errors.As(err, &re) || re.Kind != ApplyFailed {
		t.Fatalf("expected ApplyFailed, got %v", err)
	}
	var se *model.SchemaError
	if !errors.As(err, &se) || se.Kind != model.MarkForbidden {
		t.Fatalf("expected wrapped MarkForbidden, got %v", err)
	}
	if r.CurrentState() != s1 {
		t.Fatal("failed dispatch must leave current state pointer unchanged")
	}
	if failed != 1 {
		t.Fatalf("DispatchFailed events = %d, want 1", failed)
	}
	past, _ := r.History().Depths()
	if past != 1 {
		t.Fatalf("history depth = %d, want 1 (no entry for the failure)", past)
	}
}

// docCreator and textFiller mirror the chained plugins of the append-loop
// scenario: one reacts to a meta key by inserting a paragraph, the next
// reacts to that by inserting a text node.
type docCreator struct{}

func (docCreator) FilterTransaction(context.Context, *transaction.Transaction, *state.State) bool {
	return true
}

func (docCreator) AppendTransaction(_ context.Context, committed []*transaction.Transaction, _, current *state.State) (*transaction.Transaction, error) {
	want := false
	for _, tr := range committed {
		if _, ok := tr.GetMeta("create_doc"); ok {
			want = true
		}
		if _, ok := tr.GetMeta("paragraph_added"); ok {
			return nil, nil
		}
	}
	if !want {
		return nil, nil
	}
	follow := current.Tr()
	para := model.NewNode("paragraph", nil, nil, nil)
	if err := follow.AddStep(step.AddNode{Parent: current.Doc().Root(), Position: 0, Subtree: pool.NewLeafSubtree(para)}); err != nil {
		return nil, err
	}
	follow.SetMeta("paragraph_added", true)
	follow.Commit()
	return follow, nil
}

type textFiller struct{}

func (textFiller) FilterTransaction(context.Context, *transaction.Transaction, *state.State) bool {
	return true
}

func (textFiller) AppendTransaction(_ context.Context, committed []*transaction.Transaction, _, current *state.State) (*transaction.Transaction, error) {
	want := false
	for _, tr := range committed {
		if _, ok := tr.GetMeta("paragraph_added"); ok {
			want = true
		}
		if _, ok := tr.GetMeta("text_added"); ok {
			return nil, nil
		}
	}
	if !want {
		return nil, nil
	}
	children, _ := current.Doc().Children(current.Doc().Root())
	follow := current.Tr()
	text := model.NewNode("text", nil, nil, nil)
	if err := follow.AddStep(step.AddNode{Parent: children[0], Position: 0, Subtree: pool.NewLeafSubtree(text)}); err != nil {
		return nil, err
	}
	follow.SetMeta("text_added", true)
	follow.Commit()
	return follow, nil
}

func TestScenarioAppendLoopChaining(t *testing.T) {
	a := &state.Plugin{
		Key:      state.PluginKey{Name: "doc-creator", Version: "1.0.0"},
		Priority: 10,
		Behavior: docCreator{},
		Config:   state.PluginConfig{Enabled: true},
	}
	b := &state.Plugin{
		Key:      state.PluginKey{Name: "text-filler", Version: "1.0.0"},
		Priority: 20,
		Behavior: textFiller{},
		Config:   state.PluginConfig{Enabled: true},
	}

	mgr := state.NewPluginManager()
	for _, p := range []*state.Plugin{a, b} {
		if err := mgr.Register(p); err != nil {
			t.Fatal(err)
		}
	}
	cfg, err := state.NewConfiguration(scenarioSchema(t), mgr)
	if err != nil {
		t.Fatal(err)
	}
	s0, err := state.Create(context.Background(), cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	r := New(s0, Options{})

	var applied eventbus.Applied
	r.Events().Subscribe(eventbus.KindApplied, func(_ context.Context, e eventbus.Event) error {
		applied = e.(eventbus.Applied)
		return nil
	})

	tr := r.Tr()
	tr.SetMeta("create_doc", true)
	if err := r.Dispatch(context.Background(), tr); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	if len(applied.Transactions) != 3 {
		t.Fatalf("committed = %d, want 3 [input, paragraph, text]", len(applied.Transactions))
	}
	if applied.Transactions[0] != tr {
		t.Fatal("input transaction must come first in the committed list")
	}
	final := r.CurrentState()
	if final.Version() != s0.Version()+3 {
		t.Fatalf("version = %d, want %d", final.Version(), s0.Version()+3)
	}
	paras, _ := final.Doc().Children(final.Doc().Root())
	if len(paras) != 1 {
		t.Fatalf("paragraphs = %d, want 1", len(paras))
	}
	texts, _ := final.Doc().Children(paras[0])
	if len(texts) != 1 {
		t.Fatalf("texts = %d, want 1", len(texts))
	}
}

// metaVeto rejects transactions carrying "forbidden".
type metaVeto struct{}

func (metaVeto) FilterTransaction(_ context.Context, tr *transaction.Transaction, _ *state.State) bool {
	_, forbidden := tr.GetMeta("forbidden")
	return !forbidden
}

func (metaVeto) AppendTransaction(context.Context, []*transaction.Transaction, *state.State, *state.State) (*transaction.Transaction, error) {
	return nil, nil
}

func TestScenarioFilterVeto(t *testing.T) {
	v := &state.Plugin{
		Key:      state.PluginKey{Name: "veto", Version: "1.0.0"},
		Behavior: metaVeto{},
		Config:   state.PluginConfig{Enabled: true},
	}
	r, _ := newScenarioRuntime(t, v)
	pre := r.CurrentState()

	var filtered []eventbus.Filtered
	r.Events().Subscribe(eventbus.KindFiltered, func(_ context.Context, e eventbus.Event) error {
		filtered = append(filtered, e.(eventbus.Filtered))
		return nil
	})

	tr := r.Tr()
	tr.SetMeta("forbidden", true)
	err := r.Dispatch(context.Background(), tr)
	key, ok := state.IsFilteredOut(err)
	if !ok {
		t.Fatalf("expected FilteredOut, got %v", err)
	}
	if key != "veto@1.0.0" {
		t.Fatalf("filtered by %q, want veto@1.0.0", key)
	}
	if r.CurrentState() != pre {
		t.Fatal("filtered dispatch mutated state")
	}
	if len(filtered) != 1 || filtered[0].PluginKey != "veto@1.0.0" {
		t.Fatalf("Filtered events = %v", filtered)
	}
	past, _ := r.History().Depths()
	if past != 0 {
		t.Fatal("filtered dispatch recorded history")
	}
}

// looper emits a follow-on on every invocation, forever.
type looper struct{}

func (looper) FilterTransaction(context.Context, *transaction.Transaction, *state.State) bool {
	return true
}

func (looper) AppendTransaction(_ context.Context, _ []*transaction.Transaction, _, current *state.State) (*transaction.Transaction, error) {
	follow := current.Tr()
	follow.SetMeta("loop", true)
	follow.Commit()
	return follow, nil
}

func TestScenarioAppendBudgetExhaustion(t *testing.T) {
	l := &state.Plugin{
		Key:      state.PluginKey{Name: "looper", Version: "1.0.0"},
		Behavior: looper{},
		Config:   state.PluginConfig{Enabled: true},
	}
	r, _ := newScenarioRuntime(t, l)
	pre := r.CurrentState()

	err := r.Dispatch(context.Background(), r.Tr())
	var pe *state.PluginError
	if !errors.As(err, &pe) || pe.Kind != state.AppendLoopBudgetExceeded {
		t.Fatalf("expected AppendLoopBudgetExceeded, got %v", err)
	}
	// All-or-nothing: no partial progress is visible and history is empty.
	if r.CurrentState() != pre {
		t.Fatal("budget exhaustion leaked partial state")
	}
	past, _ := r.History().Depths()
	if past != 0 {
		t.Fatal("budget exhaustion recorded history")
	}
}

func TestScenarioUndoRedoRoundTrip(t *testing.T) {
	r, p1 := newScenarioRuntime(t)
	s0 := r.CurrentState()

	text := model.NewNode("text", model.Attrs{"value": "hi"}, nil, nil)
	tr := r.Tr()
	if err := tr.AddStep(step.AddNode{Parent: p1, Position: 0, Subtree: pool.NewLeafSubtree(text)}); err != nil {
		t.Fatal(err)
	}
	if err := r.Dispatch(context.Background(), tr); err != nil {
		t.Fatal(err)
	}
	s1 := r.CurrentState()

	undone := r.Undo()
	if undone != s0 {
		t.Fatal("Undo() did not restore S0")
	}
	if r.CurrentState() != s0 {
		t.Fatal("Undo() did not swap the current state cell")
	}
	children, _ := r.CurrentState().Doc().Children(p1)
	if len(children) != 0 {
		t.Fatalf("after undo, paragraph children = %v, want none", children)
	}

	redone := r.Redo()
	if redone != s1 {
		t.Fatal("Redo() did not restore S1")
	}
	children, _ = r.CurrentState().Doc().Children(p1)
	if len(children) != 1 || children[0] != text.ID {
		t.Fatalf("after redo, paragraph children = %v", children)
	}
}

func TestStepInvertRoundTrip(t *testing.T) {
	// Property 4: invert applied to the post-pool restores the pre-pool
	// structurally, checked end to end through the runtime's schema.
	r, p1 := newScenarioRuntime(t)
	schema := r.CurrentState().Config().Schema
	before := r.CurrentState().Doc()

	text := model.NewNode("text", model.Attrs{"value": "hi"}, nil, nil)
	add := step.AddNode{Parent: p1, Position: 0, Subtree: pool.NewLeafSubtree(text)}
	after, _, err := add.Apply(before, schema)
	if err != nil {
		t.Fatal(err)
	}
	restored, _, err := add.Invert(before).Apply(after, schema)
	if err != nil {
		t.Fatal(err)
	}
	if restored.Size() != before.Size() {
		t.Fatalf("restored size = %d, want %d", restored.Size(), before.Size())
	}
	if restored.Contains(text.ID) {
		t.Fatal("inverted add left the node behind")
	}
}

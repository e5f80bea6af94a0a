package crdt

import (
	"context"
	"testing"

	"moduforge.dev/moduforge/internal/model"
	"moduforge.dev/moduforge/internal/pkg/logger"
	"moduforge.dev/moduforge/internal/pool"
	"moduforge.dev/moduforge/internal/state"
	"moduforge.dev/moduforge/internal/step"
)

func init() {
	_ = logger.Init("error", "json")
}

func bridgeState(t *testing.T) *state.State {
	t.Helper()
	spec := model.SchemaSpec{
		TopNode: "doc",
		Nodes: map[string]model.NodeSpec{
			"doc":       {Content: "paragraph*"},
			"paragraph": {Content: "", Marks: []string{"strong"}, Attrs: map[string]model.AttrSpec{"align": {Default: "left", HasDefault: true}}},
		},
		Marks: map[string]model.MarkSpec{"strong": {}},
	}
	schema, err := model.CompileSchema(spec)
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := state.NewConfiguration(schema, nil)
	if err != nil {
		t.Fatal(err)
	}
	s, err := state.Create(context.Background(), cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestTransactionToOpsCoversPatchKinds(t *testing.T) {
	s := bridgeState(t)
	b := NewLWWBridge("site-a")

	tr := s.Tr()
	para := model.NewNode("paragraph", model.Attrs{"align": "left"}, nil, nil)
	if err := tr.AddStep(step.AddNode{Parent: s.Doc().Root(), Position: 0, Subtree: pool.NewLeafSubtree(para)}); err != nil {
		t.Fatal(err)
	}
	if err := tr.AddStep(step.SetAttr{Node: para.ID, Key: "align", Value: "right"}); err != nil {
		t.Fatal(err)
	}
	if err := tr.AddStep(step.AddMark{Node: para.ID, Mark: model.Mark{Type: "strong"}}); err != nil {
		t.Fatal(err)
	}
	tr.Commit()

	ops := b.TransactionToOps(tr)
	if len(ops) != 3 {
		t.Fatalf("ops = %d, want 3", len(ops))
	}
	if ops[0].Kind != OpInsertNode || ops[0].NodeType != "paragraph" {
		t.Fatalf("ops[0] = %+v, want insert of paragraph", ops[0])
	}
	if ops[1].Kind != OpSetAttr || ops[1].Value != "right" {
		t.Fatalf("ops[1] = %+v, want set align=right", ops[1])
	}
	if ops[2].Kind != OpSetMark || ops[2].MarkType != "strong" {
		t.Fatalf("ops[2] = %+v, want strong mark", ops[2])
	}
	for i := 1; i < len(ops); i++ {
		if ops[i].Clock <= ops[i-1].Clock {
			t.Fatal("clocks must be strictly increasing")
		}
	}
}

func TestOpsToTransactionAppliesRemoteOps(t *testing.T) {
	s := bridgeState(t)
	b := NewLWWBridge("site-b")
	remote := model.NewNodeID()

	tr, err := b.OpsToTransaction([]Op{
		{Kind: OpInsertNode, SiteID: "site-a", Clock: 1, NodeID: remote, ParentID: s.Doc().Root(), NodeType: "paragraph", Attrs: model.Attrs{"align": "left"}},
		{Kind: OpSetAttr, SiteID: "site-a", Clock: 2, NodeID: remote, Key: "align", Value: "center"},
	}, s)
	if err != nil {
		t.Fatal(err)
	}
	if tr == nil {
		t.Fatal("expected a transaction for applicable remote ops")
	}

	res, err := s.Apply(context.Background(), tr)
	if err != nil {
		t.Fatalf("bridge transaction failed invariants: %v", err)
	}
	n, ok := res.NewState.Doc().Get(remote)
	if !ok {
		t.Fatal("remote node not applied")
	}
	if n.Attrs["align"] != "center" {
		t.Fatalf("align = %v, want center", n.Attrs["align"])
	}
}

func TestStaleAttrWriteLoses(t *testing.T) {
	s := bridgeState(t)
	b := NewLWWBridge("site-b")
	remote := model.NewNodeID()

	tr, err := b.OpsToTransaction([]Op{
		{Kind: OpInsertNode, SiteID: "site-a", Clock: 5, NodeID: remote, ParentID: s.Doc().Root(), NodeType: "paragraph", Attrs: model.Attrs{"align": "left"}},
		{Kind: OpSetAttr, SiteID: "site-a", Clock: 9, NodeID: remote, Key: "align", Value: "right"},
	}, s)
	if err != nil || tr == nil {
		t.Fatal(err)
	}
	res, err := s.Apply(context.Background(), tr)
	if err != nil {
		t.Fatal(err)
	}

	// A concurrent write with an older clock must not override.
	stale, err := b.OpsToTransaction([]Op{
		{Kind: OpSetAttr, SiteID: "site-c", Clock: 7, NodeID: remote, Key: "align", Value: "center"},
	}, res.NewState)
	if err != nil {
		t.Fatal(err)
	}
	if stale != nil {
		t.Fatal("stale write should produce no transaction")
	}
}

func TestInapplicableOpsProduceNoTransaction(t *testing.T) {
	s := bridgeState(t)
	b := NewLWWBridge("site-b")
	if tr, err := b.OpsToTransaction([]Op{
		{Kind: OpDeleteNode, SiteID: "site-a", Clock: 1, NodeID: model.NewNodeID()},
	}, s); err != nil || tr != nil {
		t.Fatalf("expected nil transaction for unknown node, got %v, %v", tr, err)
	}
}

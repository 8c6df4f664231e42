package gates

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/overseer-ai/gatehouse/internal/engine"
	"github.com/overseer-ai/gatehouse/internal/registry"
	"github.com/overseer-ai/gatehouse/internal/state"
	"github.com/overseer-ai/gatehouse/internal/workflow"
)

func newPhaseGate() *PhaseGate {
	mgr := workflow.NewManager(state.NewMemoryStore(), workflow.DefaultSkips(), time.Hour)
	return NewPhaseGate(mgr, nil, zap.NewNop())
}

func phaseSnapshot(p workflow.Phase) *engine.Snapshot {
	snap := snapshot()
	snap.Phase = workflow.State{Current: p}
	return snap
}

func TestPhaseGate_SamePhaseAllows(t *testing.T) {
	g := newPhaseGate()

	res, err := g.Evaluate(context.Background(), request(writeEvent("/a.go"), phaseSnapshot(workflow.PhaseImplement)))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if res.Verdict != engine.VerdictAllow {
		t.Fatalf("expected ALLOW in implement phase, got %v", res.Verdict)
	}
}

func TestPhaseGate_AllowedSkipPasses(t *testing.T) {
	g := newPhaseGate()

	// research -> implement is on the default skip allow-list
	res, _ := g.Evaluate(context.Background(), request(writeEvent("/a.go"), phaseSnapshot(workflow.PhaseResearch)))
	if res.Verdict != engine.VerdictAllow {
		t.Fatalf("expected allow-listed skip to pass, got %v: %s", res.Verdict, res.Explanation)
	}
}

func TestPhaseGate_FarForwardJumpBlocks(t *testing.T) {
	g := newPhaseGate()

	res, _ := g.Evaluate(context.Background(), request(writeEvent("/a.go"), phaseSnapshot(workflow.PhaseInit)))
	if res.Verdict != engine.VerdictBlock {
		t.Fatalf("expected init -> implement to block, got %v", res.Verdict)
	}
	missing, ok := res.Fields[engine.FieldMissingPhases].([]string)
	if !ok || len(missing) != 2 || missing[0] != "research" || missing[1] != "planning" {
		t.Fatalf("expected missing phases [research planning], got %v", res.Fields[engine.FieldMissingPhases])
	}
}

func TestPhaseGate_BackwardImpliedPhaseAllows(t *testing.T) {
	g := newPhaseGate()

	res, _ := g.Evaluate(context.Background(), request(writeEvent("/a.go"), phaseSnapshot(workflow.PhaseReview)))
	if res.Verdict != engine.VerdictAllow {
		t.Fatalf("expected backward implied phase to pass, got %v", res.Verdict)
	}
}

func TestPhaseGate_OverrideForcesAllow(t *testing.T) {
	g := newPhaseGate()

	req := request(writeEvent("/a.go"), phaseSnapshot(workflow.PhaseInit))
	req.Overrides.Phase = true

	res, _ := g.Evaluate(context.Background(), req)
	if res.Verdict != engine.VerdictAllow {
		t.Fatalf("expected override to force ALLOW, got %v", res.Verdict)
	}
	if !res.Overridden {
		t.Fatal("expected result marked overridden")
	}
	if res.Explanation == "" {
		t.Fatal("expected overridden result to keep its explanation")
	}
}

func TestPhaseGate_CatalogImpliedPhase(t *testing.T) {
	g := newPhaseGate()

	req := request(event("RunBenchmarks", "execute"), phaseSnapshot(workflow.PhaseInit))
	req.Spec = &registry.ToolSpec{ToolName: "RunBenchmarks", Intent: "execute", ImpliedPhase: "review"}

	res, _ := g.Evaluate(context.Background(), req)
	if res.Verdict != engine.VerdictBlock {
		t.Fatalf("expected catalog-implied review phase to block from init, got %v", res.Verdict)
	}

	// "any" removes the constraint
	req.Spec = &registry.ToolSpec{ToolName: "RunBenchmarks", Intent: "execute", ImpliedPhase: "any"}
	res, _ = g.Evaluate(context.Background(), req)
	if res.Verdict != engine.VerdictAllow {
		t.Fatalf("expected implied phase any to pass, got %v", res.Verdict)
	}
}

func TestPhaseGate_UnknownImpliedPhaseAllows(t *testing.T) {
	g := newPhaseGate()

	req := request(writeEvent("/a.go"), phaseSnapshot(workflow.PhaseInit))
	req.Spec = &registry.ToolSpec{ToolName: "Write", Intent: "write", ImpliedPhase: "shipping"}

	res, _ := g.Evaluate(context.Background(), req)
	if res.Verdict != engine.VerdictAllow {
		t.Fatalf("expected unknown implied phase to fail open, got %v", res.Verdict)
	}
}

func TestPhaseGate_UnscopedExempt(t *testing.T) {
	g := newPhaseGate()

	res, _ := g.Evaluate(context.Background(), request(event("Mystery", "unscoped"), phaseSnapshot(workflow.PhaseInit)))
	if res.Verdict != engine.VerdictAllow {
		t.Fatalf("expected unscoped event to pass, got %v", res.Verdict)
	}
}

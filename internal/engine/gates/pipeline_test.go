package gates

import (
	"context"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/overseer-ai/gatehouse/internal/classify"
	"github.com/overseer-ai/gatehouse/internal/engine"
	"github.com/overseer-ai/gatehouse/internal/registry"
	"github.com/overseer-ai/gatehouse/internal/state"
	"github.com/overseer-ai/gatehouse/internal/workflow"
)

// newPipeline builds the full dispatcher with the real gates, backed by an
// in-memory store.
func newPipeline(store state.Store) (*engine.Engine, *registry.StateRegistry, *workflow.Manager) {
	reg := registry.NewStateRegistry(store, nil)
	mgr := workflow.NewManager(store, workflow.DefaultSkips(), time.Hour)
	eng := engine.New(engine.Params{
		Classifier: classify.New(classify.Config{}),
		Registry:   reg,
		Store:      store,
		Phases:     mgr,
		Question:   NewQuestionGate(nil),
		Parallel: []engine.Gate{
			NewCapabilityGate(nil, zap.NewNop()),
			NewPhaseGate(mgr, nil, zap.NewNop()),
			NewScopeGate(),
			NewFlagGate(0),
		},
		Advisor:     NewDuplicateAdvisor(0, nil, 0),
		GateTimeout: 200 * time.Millisecond,
		SessionTTL:  time.Hour,
		Logger:      zap.NewNop(),
	})
	return eng, reg, mgr
}

func advanceToImplement(t *testing.T, mgr *workflow.Manager, session string) {
	t.Helper()
	ctx := context.Background()
	if _, err := mgr.Advance(ctx, session, workflow.PhaseResearch, "test setup"); err != nil {
		t.Fatalf("advance to research failed: %v", err)
	}
	if _, err := mgr.Advance(ctx, session, workflow.PhaseImplement, "test setup"); err != nil {
		t.Fatalf("advance to implement failed: %v", err)
	}
}

func check(eng *engine.Engine, agent, session, tool string, params map[string]any) *engine.CheckResponse {
	return eng.Check(context.Background(), &engine.CheckRequest{
		AgentID:    agent,
		SessionID:  session,
		ToolName:   tool,
		Parameters: params,
	})
}

func TestPipeline_PendingQuestionLocksSession(t *testing.T) {
	store := state.NewMemoryStore()
	eng, _, _ := newPipeline(store)
	ctx := context.Background()

	if err := state.PutJSON(ctx, store, engine.QuestionKey("s1"), engine.PendingQuestion{
		Question: "should the cache be write-through?",
		AskedAt:  time.Now().UTC(),
	}, time.Hour); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	attempts := []struct {
		tool   string
		params map[string]any
	}{
		{"Read", map[string]any{"file_path": "/a.go"}},
		{"Write", map[string]any{"file_path": "/a.go", "content": "x"}},
		{"Bash", map[string]any{"command": "ls"}},
	}
	for i, attempt := range attempts {
		resp := check(eng, "", "s1", attempt.tool, attempt.params)
		if resp.Verdict != engine.VerdictBlock || resp.ExitCode != 2 {
			t.Fatalf("attempt %d: expected BLOCK/2, got %v/%d", i, resp.Verdict, resp.ExitCode)
		}

		var q engine.PendingQuestion
		if _, err := state.GetJSON(ctx, store, engine.QuestionKey("s1"), &q); err != nil {
			t.Fatalf("read question failed: %v", err)
		}
		if q.ViolationCount != int64(i+1) {
			t.Fatalf("attempt %d: expected violation count %d, got %d", i, i+1, q.ViolationCount)
		}
	}

	resp := check(eng, "", "s1", "answer_question", map[string]any{"answer": "write-through"})
	if resp.Verdict == engine.VerdictBlock {
		t.Fatalf("expected the answer to pass, got %v: %s", resp.Verdict, resp.Reason)
	}
	if _, found, _ := store.Get(ctx, engine.QuestionKey("s1")); found {
		t.Fatal("expected the question cleared after the answer")
	}

	resp = check(eng, "", "s1", "Read", map[string]any{"file_path": "/a.go"})
	if resp.Verdict != engine.VerdictAllow {
		t.Fatalf("expected the session unlocked after the answer, got %v", resp.Verdict)
	}
}

func TestPipeline_InScopeWriteAppendsExactlyOneEntry(t *testing.T) {
	store := state.NewMemoryStore()
	eng, _, mgr := newPipeline(store)
	ctx := context.Background()
	advanceToImplement(t, mgr, "s1")

	if err := state.PutJSON(ctx, store, engine.ScopeKey("s1"), engine.TaskScope{
		TaskID:       "task-7",
		AllowedPaths: []string{"src/**"},
		CreatedAt:    time.Now().UTC(),
	}, time.Hour); err != nil {
		t.Fatalf("seed scope failed: %v", err)
	}

	resp := check(eng, "", "s1", "Write", map[string]any{"file_path": "src/app.go", "content": "x"})
	if resp.Verdict != engine.VerdictAllow {
		t.Fatalf("expected in-scope write to ALLOW, got %v: %s", resp.Verdict, resp.Reason)
	}

	var mods []engine.FileModification
	if _, err := state.GetJSON(ctx, store, engine.ModifiedFilesKey("s1"), &mods); err != nil {
		t.Fatalf("read modified files failed: %v", err)
	}
	if len(mods) != 1 || mods[0].Path != "src/app.go" {
		t.Fatalf("expected exactly one modified entry for src/app.go, got %+v", mods)
	}

	resp = check(eng, "", "s1", "Write", map[string]any{"file_path": "infra/main.tf", "content": "x"})
	if resp.Verdict != engine.VerdictBlock {
		t.Fatalf("expected out-of-scope write to BLOCK, got %v", resp.Verdict)
	}
	if _, err := state.GetJSON(ctx, store, engine.ModifiedFilesKey("s1"), &mods); err != nil {
		t.Fatalf("read modified files failed: %v", err)
	}
	if len(mods) != 1 {
		t.Fatalf("blocked write must not append, got %+v", mods)
	}
}

func TestPipeline_CapabilityScenarios(t *testing.T) {
	store := state.NewMemoryStore()
	eng, reg, mgr := newPipeline(store)
	ctx := context.Background()
	advanceToImplement(t, mgr, "s1")

	if err := reg.PutGrant(ctx, registry.CapabilityGrant{
		AgentID:      "reader",
		Capabilities: []string{registry.CapabilityFileRead},
	}); err != nil {
		t.Fatalf("PutGrant failed: %v", err)
	}

	resp := check(eng, "reader", "s1", "Write", map[string]any{"file_path": "src/a.go", "content": "x"})
	if resp.Verdict != engine.VerdictBlock {
		t.Fatalf("expected read-only agent's write to BLOCK, got %v", resp.Verdict)
	}
	if !strings.Contains(resp.Reason, registry.CapabilityFileWrite) {
		t.Fatalf("expected the missing capability named, got %q", resp.Reason)
	}

	// unregistered agents run unrestricted
	resp = check(eng, "ghost", "s1", "Write", map[string]any{"file_path": "src/a.go", "content": "x"})
	if resp.Verdict != engine.VerdictAllow {
		t.Fatalf("expected orchestrator-mode write to ALLOW, got %v: %s", resp.Verdict, resp.Reason)
	}
}

func TestPipeline_ActiveBlockerBlocksRegardless(t *testing.T) {
	store := state.NewMemoryStore()
	eng, _, mgr := newPipeline(store)
	ctx := context.Background()
	advanceToImplement(t, mgr, "s1")

	if err := state.PutJSON(ctx, store, engine.FlagsKey("s1"), engine.FlagBoard{
		Flags: []engine.Flag{{
			ID: "f1", Type: engine.FlagBlocker, Message: "ci is red",
			Status: engine.FlagActive, RaisedAt: time.Now().UTC(),
		}},
	}, time.Hour); err != nil {
		t.Fatalf("seed flags failed: %v", err)
	}

	resp := check(eng, "", "s1", "Write", map[string]any{"file_path": "src/a.go", "content": "x"})
	if resp.Verdict != engine.VerdictBlock {
		t.Fatalf("expected active blocker to BLOCK writes, got %v", resp.Verdict)
	}
	if !strings.Contains(resp.Reason, "ci is red") {
		t.Fatalf("expected blocker message in reason, got %q", resp.Reason)
	}
}

func TestPipeline_SameEventTwiceSameVerdict(t *testing.T) {
	store := state.NewMemoryStore()
	eng, _, mgr := newPipeline(store)
	advanceToImplement(t, mgr, "s1")

	params := map[string]any{"file_path": "src/a.go", "content": "x"}
	first := check(eng, "", "s1", "Write", params)
	second := check(eng, "", "s1", "Write", params)
	if first.Verdict != second.Verdict {
		t.Fatalf("expected stable verdict, got %v then %v", first.Verdict, second.Verdict)
	}
}

func TestPipeline_BlockReasonCarriesEveryBlockingGate(t *testing.T) {
	store := state.NewMemoryStore()
	eng, reg, mgr := newPipeline(store)
	ctx := context.Background()
	advanceToImplement(t, mgr, "s1")

	if err := reg.PutGrant(ctx, registry.CapabilityGrant{
		AgentID:      "reader",
		Capabilities: []string{registry.CapabilityFileRead},
	}); err != nil {
		t.Fatalf("PutGrant failed: %v", err)
	}
	if err := state.PutJSON(ctx, store, engine.ScopeKey("s1"), engine.TaskScope{
		TaskID:       "task-7",
		AllowedPaths: []string{"docs/**"},
		CreatedAt:    time.Now().UTC(),
	}, time.Hour); err != nil {
		t.Fatalf("seed scope failed: %v", err)
	}

	resp := check(eng, "reader", "s1", "Write", map[string]any{"file_path": "src/a.go", "content": "x"})
	if resp.Verdict != engine.VerdictBlock {
		t.Fatalf("expected BLOCK, got %v", resp.Verdict)
	}
	if !strings.Contains(resp.Reason, engine.GateCapability) || !strings.Contains(resp.Reason, engine.GateScope) {
		t.Fatalf("expected both blocking gates in reason, got %q", resp.Reason)
	}
}

func TestPipeline_WastefulRepeatReadAccumulatesWaste(t *testing.T) {
	store := state.NewMemoryStore()
	eng, _, _ := newPipeline(store)
	ctx := context.Background()

	params := map[string]any{"file_path": "src/a.go"}
	check(eng, "", "s1", "Read", params)
	resp := check(eng, "", "s1", "Read", params)

	var annotated *engine.GateResult
	for _, a := range resp.Annotations {
		if a.Gate == engine.GateDuplicate {
			annotated = a
		}
	}
	if annotated == nil || annotated.Fields[engine.FieldClassification] != engine.ClassWasteful {
		t.Fatalf("expected wasteful annotation, got %+v", annotated)
	}

	var waste int64
	if _, err := state.GetJSON(ctx, store, engine.SessionWasteKey("s1"), &waste); err != nil {
		t.Fatalf("read waste failed: %v", err)
	}
	if waste != 1500 {
		t.Fatalf("expected Read waste 1500 recorded, got %d", waste)
	}
}

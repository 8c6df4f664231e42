package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/overseer-ai/gatehouse/internal/auth"
	"github.com/overseer-ai/gatehouse/internal/classify"
	"github.com/overseer-ai/gatehouse/internal/engine"
	"github.com/overseer-ai/gatehouse/internal/engine/gates"
	"github.com/overseer-ai/gatehouse/internal/registry"
	"github.com/overseer-ai/gatehouse/internal/state"
	"github.com/overseer-ai/gatehouse/internal/workflow"
)

const testKey = "ghk_routertest1234"

// setupTestServer builds the full router over a real engine and an in-memory
// store. Admin and Reader stay nil: those endpoints answer 503 without their
// backing databases.
func setupTestServer(t *testing.T) (*httptest.Server, state.Store) {
	t.Helper()
	logger := zap.NewNop()
	store := state.NewMemoryStore()
	reg := registry.NewStateRegistry(store, nil)
	mgr := workflow.NewManager(store, workflow.DefaultSkips(), time.Hour)

	eng := engine.New(engine.Params{
		Classifier: classify.New(classify.Config{}),
		Registry:   reg,
		Store:      store,
		Phases:     mgr,
		Question:   gates.NewQuestionGate(nil),
		Parallel: []engine.Gate{
			gates.NewCapabilityGate(nil, logger),
			gates.NewPhaseGate(mgr, nil, logger),
			gates.NewScopeGate(),
			gates.NewFlagGate(0),
		},
		Advisor:     gates.NewDuplicateAdvisor(0, nil, 0),
		GateTimeout: 200 * time.Millisecond,
		SessionTTL:  time.Hour,
		Logger:      logger,
	})

	srv := httptest.NewServer(NewRouter(&Dependencies{
		Engine:     eng,
		State:      store,
		Phases:     mgr,
		Auth:       auth.NewStaticAuthenticator(),
		Logger:     logger,
		SessionTTL: time.Hour,
	}))
	t.Cleanup(srv.Close)
	return srv, store
}

// doJSON sends an authenticated request and decodes the response into out
// when out is non-nil. Returns the HTTP status.
func doJSON(t *testing.T, srv *httptest.Server, method, path string, body, out any) int {
	t.Helper()

	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, srv.URL+path, reqBody)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+testKey)

	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decode response: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func setPhase(t *testing.T, srv *httptest.Server, session string, phase workflow.Phase) {
	t.Helper()
	status := doJSON(t, srv, http.MethodPut, "/v1/phase",
		SetPhaseReq{SessionID: session, Phase: string(phase)}, nil)
	if status != http.StatusOK {
		t.Fatalf("set phase %s: expected 200, got %d", phase, status)
	}
}

func TestRouter_RequiresAuth(t *testing.T) {
	srv, _ := setupTestServer(t)

	cases := []struct {
		name   string
		header string
	}{
		{"no header", ""},
		{"wrong prefix", "Bearer sk_routertest1234"},
		{"scheme only", "Bearer"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, srv.URL+"/v1/phase", nil)
			if err != nil {
				t.Fatal(err)
			}
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			resp, err := srv.Client().Do(req)
			if err != nil {
				t.Fatal(err)
			}
			_ = resp.Body.Close()
			if resp.StatusCode != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", resp.StatusCode)
			}
		})
	}
}

func TestRouter_HealthzNeedsNoAuth(t *testing.T) {
	srv, _ := setupTestServer(t)

	resp, err := srv.Client().Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestRouter_CheckEndToEnd(t *testing.T) {
	srv, _ := setupTestServer(t)
	session := "s1"

	setPhase(t, srv, session, workflow.PhaseResearch)
	setPhase(t, srv, session, workflow.PhaseImplement)

	status := doJSON(t, srv, http.MethodPut, "/v1/scope", PutScopeReq{
		SessionID:    session,
		TaskID:       "task-42",
		AllowedPaths: []string{"src/**"},
	}, nil)
	if status != http.StatusOK {
		t.Fatalf("put scope: expected 200, got %d", status)
	}

	var allowed engine.CheckResponse
	status = doJSON(t, srv, http.MethodPost, "/v1/check", engine.CheckRequest{
		SessionID:  session,
		ToolName:   "Write",
		Parameters: map[string]any{"file_path": "src/main.go", "content": "package main"},
	}, &allowed)
	if status != http.StatusOK {
		t.Fatalf("check: expected 200, got %d", status)
	}
	if allowed.Verdict != engine.VerdictAllow || allowed.ExitCode != 0 {
		t.Fatalf("expected ALLOW/0 for in-scope write, got %v/%d (reason: %s)",
			allowed.Verdict, allowed.ExitCode, allowed.Reason)
	}
	if allowed.RequestID == "" {
		t.Fatal("expected non-empty request_id")
	}

	var blocked engine.CheckResponse
	status = doJSON(t, srv, http.MethodPost, "/v1/check", engine.CheckRequest{
		SessionID:  session,
		ToolName:   "Write",
		Parameters: map[string]any{"file_path": "infra/main.tf", "content": "resource {}"},
	}, &blocked)
	if status != http.StatusOK {
		t.Fatalf("check: the verdict travels in the body, expected 200, got %d", status)
	}
	if blocked.Verdict != engine.VerdictBlock || blocked.ExitCode != 2 {
		t.Fatalf("expected BLOCK/2 for out-of-scope write, got %v/%d", blocked.Verdict, blocked.ExitCode)
	}

	var scope ScopeResp
	status = doJSON(t, srv, http.MethodGet, "/v1/scope?session_id="+session, nil, &scope)
	if status != http.StatusOK {
		t.Fatalf("get scope: expected 200, got %d", status)
	}
	if len(scope.ModifiedFiles) != 1 || scope.ModifiedFiles[0].Path != "src/main.go" {
		t.Fatalf("expected exactly the in-scope write in the modified log, got %+v", scope.ModifiedFiles)
	}
}

func TestRouter_CheckRejectsMissingToolName(t *testing.T) {
	srv, _ := setupTestServer(t)

	status := doJSON(t, srv, http.MethodPost, "/v1/check",
		map[string]any{"session_id": "s1"}, nil)
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", status)
	}
}

func TestRouter_PhaseTransitions(t *testing.T) {
	srv, _ := setupTestServer(t)

	var initial PhaseResp
	status := doJSON(t, srv, http.MethodGet, "/v1/phase?session_id=s1", nil, &initial)
	if status != http.StatusOK {
		t.Fatalf("get phase: expected 200, got %d", status)
	}
	if initial.Current != workflow.PhaseInit {
		t.Fatalf("expected a fresh session in init, got %s", initial.Current)
	}

	var advanced PhaseResp
	status = doJSON(t, srv, http.MethodPut, "/v1/phase",
		SetPhaseReq{SessionID: "s1", Phase: "research", Reason: "reading the issue"}, &advanced)
	if status != http.StatusOK {
		t.Fatalf("advance: expected 200, got %d", status)
	}
	if advanced.Current != workflow.PhaseResearch || len(advanced.History) != 1 {
		t.Fatalf("expected research with one transition, got %s (%d transitions)",
			advanced.Current, len(advanced.History))
	}

	// research -> complete jumps three phases with no skip configured
	status = doJSON(t, srv, http.MethodPut, "/v1/phase",
		SetPhaseReq{SessionID: "s1", Phase: "complete"}, nil)
	if status != http.StatusConflict {
		t.Fatalf("illegal jump: expected 409, got %d", status)
	}

	status = doJSON(t, srv, http.MethodPut, "/v1/phase",
		SetPhaseReq{SessionID: "s1", Phase: "deploy"}, nil)
	if status != http.StatusBadRequest {
		t.Fatalf("unknown phase: expected 400, got %d", status)
	}
}

func TestRouter_ScopeLifecycle(t *testing.T) {
	srv, _ := setupTestServer(t)

	var empty ScopeResp
	status := doJSON(t, srv, http.MethodGet, "/v1/scope?session_id=s1", nil, &empty)
	if status != http.StatusOK {
		t.Fatalf("get scope: expected 200, got %d", status)
	}
	if empty.Scope != nil {
		t.Fatalf("expected no scope for a fresh session, got %+v", empty.Scope)
	}

	status = doJSON(t, srv, http.MethodPut, "/v1/scope", PutScopeReq{
		SessionID:    "s1",
		TaskID:       "task-9",
		Description:  "migrate the session store",
		AllowedPaths: []string{"internal/session/**"},
	}, nil)
	if status != http.StatusOK {
		t.Fatalf("put scope: expected 200, got %d", status)
	}

	var current ScopeResp
	doJSON(t, srv, http.MethodGet, "/v1/scope?session_id=s1", nil, &current)
	if current.Scope == nil || current.Scope.TaskID != "task-9" {
		t.Fatalf("expected task-9 scope, got %+v", current.Scope)
	}

	status = doJSON(t, srv, http.MethodPut, "/v1/scope",
		PutScopeReq{SessionID: "s1"}, nil)
	if status != http.StatusBadRequest {
		t.Fatalf("missing task_id: expected 400, got %d", status)
	}

	status = doJSON(t, srv, http.MethodDelete, "/v1/scope?session_id=s1", nil, nil)
	if status != http.StatusNoContent {
		t.Fatalf("delete scope: expected 204, got %d", status)
	}

	var cleared ScopeResp
	doJSON(t, srv, http.MethodGet, "/v1/scope?session_id=s1", nil, &cleared)
	if cleared.Scope != nil {
		t.Fatalf("expected the scope cleared, got %+v", cleared.Scope)
	}
}

func TestRouter_FlagLifecycle(t *testing.T) {
	srv, _ := setupTestServer(t)

	status := doJSON(t, srv, http.MethodPost, "/v1/flags",
		RaiseFlagReq{SessionID: "s1", Type: "CRITICAL", Message: "x"}, nil)
	if status != http.StatusBadRequest {
		t.Fatalf("bad type: expected 400, got %d", status)
	}

	status = doJSON(t, srv, http.MethodPost, "/v1/flags",
		RaiseFlagReq{SessionID: "s1", Type: "BLOCKER"}, nil)
	if status != http.StatusBadRequest {
		t.Fatalf("missing message: expected 400, got %d", status)
	}

	var raised engine.Flag
	status = doJSON(t, srv, http.MethodPost, "/v1/flags",
		RaiseFlagReq{SessionID: "s1", Type: "BLOCKER", Message: "migration not applied"}, &raised)
	if status != http.StatusCreated {
		t.Fatalf("raise: expected 201, got %d", status)
	}
	if raised.ID == "" || raised.Status != engine.FlagActive {
		t.Fatalf("expected an active flag with an ID, got %+v", raised)
	}

	var board FlagBoardResp
	status = doJSON(t, srv, http.MethodGet, "/v1/flags?session_id=s1", nil, &board)
	if status != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", status)
	}
	if len(board.Flags) != 1 || board.Flags[0].ID != raised.ID {
		t.Fatalf("expected the raised flag on the board, got %+v", board.Flags)
	}

	var resolved engine.Flag
	status = doJSON(t, srv, http.MethodPost, "/v1/flags/"+raised.ID+"/resolve?session_id=s1", nil, &resolved)
	if status != http.StatusOK {
		t.Fatalf("resolve: expected 200, got %d", status)
	}
	if resolved.Status != engine.FlagResolved || resolved.ResolvedAt == nil {
		t.Fatalf("expected a resolved flag with a timestamp, got %+v", resolved)
	}

	status = doJSON(t, srv, http.MethodPost, "/v1/flags/no-such-flag/resolve?session_id=s1", nil, nil)
	if status != http.StatusNotFound {
		t.Fatalf("resolve unknown: expected 404, got %d", status)
	}
}

func TestRouter_BlockerFlagBlocksChecks(t *testing.T) {
	srv, _ := setupTestServer(t)

	status := doJSON(t, srv, http.MethodPost, "/v1/flags",
		RaiseFlagReq{SessionID: "s1", Type: "BLOCKER", Message: "ci is red"}, nil)
	if status != http.StatusCreated {
		t.Fatalf("raise: expected 201, got %d", status)
	}

	var resp engine.CheckResponse
	doJSON(t, srv, http.MethodPost, "/v1/check", engine.CheckRequest{
		SessionID:  "s1",
		ToolName:   "Read",
		Parameters: map[string]any{"file_path": "README.md"},
	}, &resp)
	if resp.Verdict != engine.VerdictBlock {
		t.Fatalf("expected the blocker to block reads too, got %v", resp.Verdict)
	}
}

func TestRouter_ChecklistLifecycle(t *testing.T) {
	srv, _ := setupTestServer(t)

	status := doJSON(t, srv, http.MethodPost, "/v1/checklist",
		UpsertChecklistReq{SessionID: "s1", Priority: "P5", Description: "x"}, nil)
	if status != http.StatusBadRequest {
		t.Fatalf("bad priority: expected 400, got %d", status)
	}

	status = doJSON(t, srv, http.MethodPost, "/v1/checklist",
		UpsertChecklistReq{SessionID: "s1", Priority: "P0"}, nil)
	if status != http.StatusBadRequest {
		t.Fatalf("missing description: expected 400, got %d", status)
	}

	var item engine.ChecklistItem
	status = doJSON(t, srv, http.MethodPost, "/v1/checklist",
		UpsertChecklistReq{SessionID: "s1", Priority: "P0", Description: "tests pass"}, &item)
	if status != http.StatusOK {
		t.Fatalf("upsert: expected 200, got %d", status)
	}
	if item.ID == "" || item.Verified {
		t.Fatalf("expected an unverified item with a generated ID, got %+v", item)
	}

	var replaced engine.ChecklistItem
	doJSON(t, srv, http.MethodPost, "/v1/checklist", UpsertChecklistReq{
		SessionID: "s1", ID: item.ID, Priority: "P0", Description: "tests pass on CI",
	}, &replaced)
	var board FlagBoardResp
	doJSON(t, srv, http.MethodGet, "/v1/flags?session_id=s1", nil, &board)
	if len(board.Checklist) != 1 || board.Checklist[0].Description != "tests pass on CI" {
		t.Fatalf("expected the item replaced in place, got %+v", board.Checklist)
	}

	var verified engine.ChecklistItem
	status = doJSON(t, srv, http.MethodPost, "/v1/checklist/"+item.ID+"/verify?session_id=s1", nil, &verified)
	if status != http.StatusOK {
		t.Fatalf("verify: expected 200, got %d", status)
	}
	if !verified.Verified {
		t.Fatalf("expected the item verified, got %+v", verified)
	}

	status = doJSON(t, srv, http.MethodPost, "/v1/checklist/no-such-item/verify?session_id=s1", nil, nil)
	if status != http.StatusNotFound {
		t.Fatalf("verify unknown: expected 404, got %d", status)
	}
}

func TestRouter_QuestionLifecycle(t *testing.T) {
	srv, _ := setupTestServer(t)

	status := doJSON(t, srv, http.MethodPost, "/v1/questions",
		RaiseQuestionReq{SessionID: "s1"}, nil)
	if status != http.StatusBadRequest {
		t.Fatalf("missing question: expected 400, got %d", status)
	}

	var asked QuestionResp
	status = doJSON(t, srv, http.MethodPost, "/v1/questions",
		RaiseQuestionReq{SessionID: "s1", Question: "which database do we target?"}, &asked)
	if status != http.StatusCreated {
		t.Fatalf("ask: expected 201, got %d", status)
	}
	if asked.Question == nil || asked.Question.Question != "which database do we target?" {
		t.Fatalf("expected the question echoed back, got %+v", asked.Question)
	}

	status = doJSON(t, srv, http.MethodPost, "/v1/questions",
		RaiseQuestionReq{SessionID: "s1", Question: "second question"}, nil)
	if status != http.StatusConflict {
		t.Fatalf("double ask: expected 409, got %d", status)
	}

	var blocked engine.CheckResponse
	doJSON(t, srv, http.MethodPost, "/v1/check", engine.CheckRequest{
		SessionID:  "s1",
		ToolName:   "Read",
		Parameters: map[string]any{"file_path": "go.mod"},
	}, &blocked)
	if blocked.Verdict != engine.VerdictBlock {
		t.Fatalf("expected the pending question to lock the session, got %v", blocked.Verdict)
	}

	var answered QuestionResp
	status = doJSON(t, srv, http.MethodPost, "/v1/questions/answer",
		AnswerQuestionReq{SessionID: "s1", Answer: "postgres"}, &answered)
	if status != http.StatusOK {
		t.Fatalf("answer: expected 200, got %d", status)
	}
	if answered.Question == nil || answered.Question.Question != "which database do we target?" {
		t.Fatalf("expected the cleared question returned, got %+v", answered.Question)
	}

	status = doJSON(t, srv, http.MethodPost, "/v1/questions/answer",
		AnswerQuestionReq{SessionID: "s1"}, nil)
	if status != http.StatusNotFound {
		t.Fatalf("answer with nothing pending: expected 404, got %d", status)
	}

	var unlocked engine.CheckResponse
	doJSON(t, srv, http.MethodPost, "/v1/check", engine.CheckRequest{
		SessionID:  "s1",
		ToolName:   "Read",
		Parameters: map[string]any{"file_path": "go.mod"},
	}, &unlocked)
	if unlocked.Verdict != engine.VerdictAllow {
		t.Fatalf("expected the session unlocked after the answer, got %v", unlocked.Verdict)
	}
}

func TestRouter_AgentsUnavailableWithoutPostgres(t *testing.T) {
	srv, _ := setupTestServer(t)

	status := doJSON(t, srv, http.MethodPost, "/v1/agents",
		RegisterAgentReq{AgentID: "builder"}, nil)
	if status != http.StatusServiceUnavailable {
		t.Fatalf("register: expected 503, got %d", status)
	}

	status = doJSON(t, srv, http.MethodGet, "/v1/agents/builder", nil, nil)
	if status != http.StatusServiceUnavailable {
		t.Fatalf("get: expected 503, got %d", status)
	}
}

func TestRouter_DecisionsUnavailableWithoutClickHouse(t *testing.T) {
	srv, _ := setupTestServer(t)

	status := doJSON(t, srv, http.MethodGet, "/v1/decisions", nil, nil)
	if status != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", status)
	}
}

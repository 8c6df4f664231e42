// Package engine evaluates classified tool-call events against the policy
// gates and merges their results into an admission verdict. The engine fails
// open: gate errors, store outages, and deadline misses degrade to ALLOW
// with a warning logged, never to a hang or a crash.
package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/overseer-ai/gatehouse/internal/classify"
	"github.com/overseer-ai/gatehouse/internal/registry"
	"github.com/overseer-ai/gatehouse/internal/state"
	"github.com/overseer-ai/gatehouse/internal/storage"
	"github.com/overseer-ai/gatehouse/internal/workflow"
)

// DefaultSession is used when a request names no session.
const DefaultSession = "default"

// maxModifiedEntries bounds the per-session modified-files log.
const maxModifiedEntries = 500

// Params wires an Engine. Question runs first and short-circuits on BLOCK;
// Parallel gates fan out concurrently; Advisor always runs last and cannot
// affect the verdict.
type Params struct {
	Classifier *classify.Classifier
	Registry   registry.Registry
	Store      state.Store
	Phases     *workflow.Manager
	Question   Gate
	Parallel   []Gate
	Advisor    Gate
	Audit      storage.Writer

	// GateTimeout bounds the parallel fan-out. Default 50ms.
	GateTimeout time.Duration
	// SessionTTL is applied to session state written by the commit step.
	// Default 24h.
	SessionTTL time.Duration

	Logger *zap.Logger
}

// Engine is the dispatcher: classify, snapshot, gate, merge, commit, audit.
type Engine struct {
	classifier *classify.Classifier
	registry   registry.Registry
	store      state.Store
	phases     *workflow.Manager
	question   Gate
	parallel   []Gate
	advisor    Gate
	audit      storage.Writer
	timeout    time.Duration
	ttl        time.Duration
	logger     *zap.Logger
	now        func() time.Time
}

func New(p Params) *Engine {
	if p.GateTimeout <= 0 {
		p.GateTimeout = 50 * time.Millisecond
	}
	if p.SessionTTL <= 0 {
		p.SessionTTL = 24 * time.Hour
	}
	if p.Logger == nil {
		p.Logger = zap.NewNop()
	}
	return &Engine{
		classifier: p.Classifier,
		registry:   p.Registry,
		store:      p.Store,
		phases:     p.Phases,
		question:   p.Question,
		parallel:   p.Parallel,
		advisor:    p.Advisor,
		audit:      p.Audit,
		timeout:    p.GateTimeout,
		ttl:        p.SessionTTL,
		logger:     p.Logger,
		now:        time.Now,
	}
}

// CheckRequest is one tool-call event to evaluate.
type CheckRequest struct {
	AgentID    string         `json:"agent_id,omitempty"`
	SessionID  string         `json:"session_id,omitempty"`
	ToolName   string         `json:"tool_name"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Overrides  Overrides      `json:"overrides"`
}

// CheckResponse is the verdict plus per-gate annotations.
type CheckResponse struct {
	RequestID   string        `json:"request_id"`
	Verdict     Verdict       `json:"verdict"`
	ExitCode    int           `json:"exit_code"`
	Reason      string        `json:"reason,omitempty"`
	Annotations []*GateResult `json:"annotations"`
	LatencyMS   float64       `json:"latency_ms"`
}

// Check evaluates one event. It never returns an error: every internal
// failure degrades toward ALLOW and is logged.
func (e *Engine) Check(ctx context.Context, req *CheckRequest) *CheckResponse {
	start := time.Now()
	requestID := uuid.New().String()

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = DefaultSession
	}
	ts := req.Timestamp
	if ts.IsZero() {
		ts = e.now()
	}

	spec, err := e.registry.GetTool(ctx, req.ToolName)
	if err != nil {
		e.logger.Warn("tool catalog lookup failed, treating tool as unregistered",
			zap.String("tool_name", req.ToolName),
			zap.Error(err),
		)
		spec = nil
	}

	ev := e.classifier.Classify(classify.RawEvent{
		ActorID:    req.AgentID,
		SessionID:  sessionID,
		ToolName:   req.ToolName,
		Parameters: req.Parameters,
		Timestamp:  ts,
	}, spec)

	snap := e.loadSnapshot(ctx, req.AgentID, sessionID, ev)
	evalReq := &EvalRequest{Event: ev, Spec: spec, Snapshot: snap, Overrides: req.Overrides}

	var annotations []*GateResult

	qres := e.runGate(ctx, e.question, evalReq)
	annotations = append(annotations, qres)

	if qres.Verdict != VerdictBlock {
		annotations = append(annotations, e.runParallel(ctx, evalReq)...)
	}

	if e.advisor != nil {
		annotations = append(annotations, e.runGate(ctx, e.advisor, evalReq))
	}

	merged := Merge(annotations)
	e.commit(ctx, evalReq, annotations, merged)

	latency := float64(time.Since(start).Microseconds()) / 1000.0
	resp := &CheckResponse{
		RequestID:   requestID,
		Verdict:     merged.Verdict,
		ExitCode:    merged.Verdict.ExitCode(),
		Reason:      merged.Reason,
		Annotations: annotations,
		LatencyMS:   latency,
	}

	e.emit(requestID, req, ev, merged, annotations, snap, latency)
	return resp
}

func (e *Engine) runGate(ctx context.Context, g Gate, req *EvalRequest) *GateResult {
	result, err := g.Evaluate(ctx, req)
	if err != nil {
		e.logger.Warn("gate error, failing open",
			zap.String("gate", g.Name()),
			zap.Error(err),
		)
		return &GateResult{Gate: g.Name(), Verdict: VerdictAllow, Explanation: "gate error: " + err.Error()}
	}
	if result == nil {
		return Allow(g.Name())
	}
	return result
}

// gateOutput holds a single gate's result alongside its name.
type gateOutput struct {
	name   string
	result *GateResult
	err    error
}

// runParallel runs the independent gates concurrently and returns whatever
// finished inside the timeout.
//
// Each goroutine sends its result through a buffered channel, so the main
// goroutine can safely read completed results without racing against
// in-flight writes. When the deadline fires, we stop reading and return
// whatever has been collected. Late-finishing goroutines send into the
// buffered channel (which has capacity for all gates) and are never read;
// the channel is GC'd once all references are gone.
func (e *Engine) runParallel(ctx context.Context, req *EvalRequest) []*GateResult {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	ch := make(chan gateOutput, len(e.parallel))

	for _, g := range e.parallel {
		go func(g Gate) {
			result, err := g.Evaluate(ctx, req)
			ch <- gateOutput{name: g.Name(), result: result, err: err}
		}(g)
	}

	collected := make([]gateOutput, 0, len(e.parallel))
	remaining := len(e.parallel)
	for remaining > 0 {
		select {
		case out := <-ch:
			collected = append(collected, out)
			remaining--
		case <-ctx.Done():
			e.logger.Warn("gate timeout exceeded, failing open with partial results",
				zap.Duration("timeout", e.timeout),
			)
			remaining = 0
		}
	}

	results := make([]*GateResult, 0, len(collected))
	for _, out := range collected {
		if out.err != nil {
			e.logger.Warn("gate error, failing open",
				zap.String("gate", out.name),
				zap.Error(out.err),
			)
			results = append(results, &GateResult{
				Gate:        out.name,
				Verdict:     VerdictAllow,
				Explanation: "gate error: " + out.err.Error(),
			})
			continue
		}
		if out.result == nil {
			results = append(results, Allow(out.name))
			continue
		}
		results = append(results, out.result)
	}

	return results
}

// commit applies the evaluation's side effects after the verdict is known.
// Gates stay pure; this is the only place session state is written on the
// check path. Commit failures are logged and never change the verdict.
func (e *Engine) commit(ctx context.Context, req *EvalRequest, results []*GateResult, merged MergeResult) {
	ev := req.Event
	sessionID := req.Snapshot.SessionID
	now := e.now().UTC()

	if ev.Intent == classify.IntentRead {
		_, err := e.store.Update(ctx, CallHistoryKey(sessionID, ev.Signature), e.ttl, func(current []byte, found bool) ([]byte, error) {
			rec := CallRecord{Signature: ev.Signature, ToolName: ev.ToolName}
			if found {
				if err := json.Unmarshal(current, &rec); err != nil {
					rec = CallRecord{Signature: ev.Signature, ToolName: ev.ToolName}
				}
			}
			rec.Path = ev.Path
			rec.LastSeenAt = now
			rec.Occurrences++
			return json.Marshal(&rec)
		})
		if err != nil {
			e.logger.Warn("commit: call history write failed",
				zap.String("session_id", sessionID),
				zap.Error(err),
			)
		}
	}

	if merged.Verdict != VerdictBlock && ev.Path != "" &&
		(ev.Intent == classify.IntentWrite || ev.Intent == classify.IntentEdit) {
		_, err := e.store.Update(ctx, ModifiedFilesKey(sessionID), e.ttl, func(current []byte, found bool) ([]byte, error) {
			var mods []FileModification
			if found {
				if err := json.Unmarshal(current, &mods); err != nil {
					mods = nil
				}
			}
			mods = append(mods, FileModification{Path: ev.Path, ModifiedAt: now})
			if len(mods) > maxModifiedEntries {
				mods = mods[len(mods)-maxModifiedEntries:]
			}
			return json.Marshal(mods)
		})
		if err != nil {
			e.logger.Warn("commit: modified files write failed",
				zap.String("session_id", sessionID),
				zap.Error(err),
			)
		}
	}

	for _, r := range results {
		switch {
		case r.Gate == GateQuestion && r.Verdict == VerdictBlock:
			e.bumpViolationCount(ctx, sessionID)
		case r.Gate == GateQuestion && fieldBool(r.Fields, FieldQuestionCleared):
			if err := e.store.Delete(ctx, QuestionKey(sessionID)); err != nil {
				e.logger.Warn("commit: question clear failed",
					zap.String("session_id", sessionID),
					zap.Error(err),
				)
			}
		case r.Gate == GateDuplicate && fieldString(r.Fields, FieldClassification) == ClassWasteful:
			if est := fieldInt64(r.Fields, FieldWasteEstimate); est > 0 {
				if _, err := state.AddInt64(ctx, e.store, SessionWasteKey(sessionID), est, e.ttl); err != nil {
					e.logger.Warn("commit: waste counter write failed",
						zap.String("session_id", sessionID),
						zap.Error(err),
					)
				}
			}
		}
	}
}

// bumpViolationCount increments the pending question's counter. The question
// may have been answered between snapshot and commit; then there is nothing
// to count.
func (e *Engine) bumpViolationCount(ctx context.Context, sessionID string) {
	_, err := e.store.Update(ctx, QuestionKey(sessionID), e.ttl, func(current []byte, found bool) ([]byte, error) {
		if !found {
			return nil, state.ErrSkipUpdate
		}
		var q PendingQuestion
		if err := json.Unmarshal(current, &q); err != nil {
			return nil, state.ErrSkipUpdate
		}
		q.ViolationCount++
		return json.Marshal(&q)
	})
	if err != nil {
		e.logger.Warn("commit: violation count write failed",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
	}
}

func (e *Engine) emit(requestID string, req *CheckRequest, ev classify.Event, merged MergeResult, results []*GateResult, snap *Snapshot, latencyMS float64) {
	if e.audit == nil {
		return
	}

	gatesJSON, err := json.Marshal(results)
	if err != nil {
		gatesJSON = []byte("[]")
	}
	overridden := false
	var waste int64
	for _, r := range results {
		if r.Overridden {
			overridden = true
		}
		if r.Gate == GateDuplicate && fieldString(r.Fields, FieldClassification) == ClassWasteful {
			waste = fieldInt64(r.Fields, FieldWasteEstimate)
		}
	}

	e.audit.Write(storage.DecisionEvent{
		RequestID:     requestID,
		OccurredAt:    e.now().UTC(),
		SessionID:     snap.SessionID,
		AgentID:       req.AgentID,
		ToolName:      req.ToolName,
		Intent:        string(ev.Intent),
		Verdict:       merged.Verdict.String(),
		Reason:        merged.Reason,
		GateResults:   string(gatesJSON),
		LatencyMS:     latencyMS,
		Overridden:    overridden,
		WasteEstimate: waste,
	})
}

func fieldBool(fields map[string]any, key string) bool {
	v, _ := fields[key].(bool)
	return v
}

func fieldString(fields map[string]any, key string) string {
	v, _ := fields[key].(string)
	return v
}

func fieldInt64(fields map[string]any, key string) int64 {
	switch v := fields[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

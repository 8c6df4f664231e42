package engine

import (
	"context"

	"github.com/overseer-ai/gatehouse/internal/classify"
	"github.com/overseer-ai/gatehouse/internal/registry"
)

// Gate checks one policy dimension of a classified event. Gates are pure:
// they read the snapshot, never the store, and leave all state mutation to
// the dispatcher's commit step.
type Gate interface {
	Name() string
	Evaluate(ctx context.Context, req *EvalRequest) (*GateResult, error)
}

// Overrides force individual gates to ALLOW. Overridden results keep their
// explanation and are marked in the annotation and the audit trail.
type Overrides struct {
	Phase bool `json:"phase,omitempty"`
	Scope bool `json:"scope,omitempty"`
}

// EvalRequest carries everything a gate may consult for one evaluation.
type EvalRequest struct {
	Event     classify.Event
	Spec      *registry.ToolSpec
	Snapshot  *Snapshot
	Overrides Overrides
}

// GateResult is one gate's contribution to the decision.
type GateResult struct {
	Gate        string         `json:"gate"`
	Verdict     Verdict        `json:"verdict"`
	Explanation string         `json:"explanation,omitempty"`
	Overridden  bool           `json:"overridden,omitempty"`
	Fields      map[string]any `json:"fields,omitempty"`
}

// Allow is the no-objection result for a gate.
func Allow(gate string) *GateResult {
	return &GateResult{Gate: gate, Verdict: VerdictAllow}
}

// Override converts a blocking result into a forced ALLOW, keeping the
// original explanation for the audit trail.
func (r *GateResult) Override() *GateResult {
	r.Verdict = VerdictAllow
	r.Overridden = true
	return r
}

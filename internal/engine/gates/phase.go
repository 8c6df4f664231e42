package gates

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/overseer-ai/gatehouse/internal/classify"
	"github.com/overseer-ai/gatehouse/internal/engine"
	"github.com/overseer-ai/gatehouse/internal/workflow"
)

// DefaultIntentPhases maps intents to the phase they imply when the catalog
// is silent. Intents missing here imply no phase.
func DefaultIntentPhases() map[classify.Intent]workflow.Phase {
	return map[classify.Intent]workflow.Phase{
		classify.IntentWrite: workflow.PhaseImplement,
		classify.IntentEdit:  workflow.PhaseImplement,
	}
}

// PhaseGate blocks events whose implied phase is not reachable from the
// session's current phase. It never mutates phase state; transitions happen
// only through the explicit workflow operation.
type PhaseGate struct {
	manager      *workflow.Manager
	intentPhases map[classify.Intent]workflow.Phase
	logger       *zap.Logger
}

func NewPhaseGate(manager *workflow.Manager, intentPhases map[classify.Intent]workflow.Phase, logger *zap.Logger) *PhaseGate {
	if intentPhases == nil {
		intentPhases = DefaultIntentPhases()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PhaseGate{manager: manager, intentPhases: intentPhases, logger: logger}
}

func (g *PhaseGate) Name() string { return engine.GatePhase }

func (g *PhaseGate) Evaluate(_ context.Context, req *engine.EvalRequest) (*engine.GateResult, error) {
	if req.Event.Intent == classify.IntentUnscoped {
		return engine.Allow(g.Name()), nil
	}

	implied := g.impliedPhase(req)
	if implied == "" {
		return engine.Allow(g.Name()), nil
	}
	if !workflow.Valid(implied) {
		g.logger.Warn("catalog implies unknown phase, allowing",
			zap.String("tool_name", req.Event.ToolName),
			zap.String("implied_phase", string(implied)),
		)
		return engine.Allow(g.Name()), nil
	}

	current := req.Snapshot.Phase.Current
	if err := g.manager.Validate(current, implied); err == nil {
		return engine.Allow(g.Name()), nil
	}

	missing := workflow.Between(current, implied)
	names := make([]string, len(missing))
	for i, p := range missing {
		names[i] = string(p)
	}

	result := &engine.GateResult{
		Gate:    g.Name(),
		Verdict: engine.VerdictBlock,
		Explanation: fmt.Sprintf("session is in phase %q but %s implies %q; enter %s first",
			current, req.Event.ToolName, implied, strings.Join(names, " then ")),
		Fields: map[string]any{
			engine.FieldMissingPhases: names,
			engine.FieldRemedies: []string{
				fmt.Sprintf("advance the session phase to %q", missing[0]),
				"override the phase gate with an acknowledgement if this jump is intentional",
			},
		},
	}
	if req.Overrides.Phase {
		return result.Override(), nil
	}
	return result, nil
}

// impliedPhase resolves the phase an event implies: catalog first, then the
// intent map. "any" and empty mean no constraint.
func (g *PhaseGate) impliedPhase(req *engine.EvalRequest) workflow.Phase {
	if req.Spec != nil && req.Spec.ImpliedPhase != "" {
		if req.Spec.ImpliedPhase == "any" {
			return ""
		}
		return workflow.Phase(req.Spec.ImpliedPhase)
	}
	return g.intentPhases[req.Event.Intent]
}

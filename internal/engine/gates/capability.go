// Package gates implements the policy gates the engine dispatches to:
// capability boundary, workflow phase, task scope, flag/checklist, pending
// question, and the advisory duplicate-call intelligence.
package gates

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/overseer-ai/gatehouse/internal/classify"
	"github.com/overseer-ai/gatehouse/internal/engine"
	"github.com/overseer-ai/gatehouse/internal/registry"
)

// DefaultReadonlyCommands are the command prefixes treated as read-only for
// capability purposes.
func DefaultReadonlyCommands() []string {
	return []string{
		"ls", "cat", "head", "tail", "grep", "rg", "find", "wc", "pwd",
		"which", "ps",
		"git status", "git log", "git diff", "git show", "git branch",
	}
}

// CapabilityGate blocks calls that exceed the agent's capability grant.
// Agents without a grant run in orchestrator mode and pass unrestricted.
type CapabilityGate struct {
	readonlyCommands []string
	logger           *zap.Logger
}

func NewCapabilityGate(readonlyCommands []string, logger *zap.Logger) *CapabilityGate {
	if readonlyCommands == nil {
		readonlyCommands = DefaultReadonlyCommands()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CapabilityGate{readonlyCommands: readonlyCommands, logger: logger}
}

func (g *CapabilityGate) Name() string { return engine.GateCapability }

func (g *CapabilityGate) Evaluate(_ context.Context, req *engine.EvalRequest) (*engine.GateResult, error) {
	required := g.requiredCapability(req)
	if required == registry.CapabilityNone {
		return engine.Allow(g.Name()), nil
	}

	grant := req.Snapshot.Grant
	if grant == nil {
		// orchestrator mode
		return engine.Allow(g.Name()), nil
	}
	if grant.Has(required) {
		return engine.Allow(g.Name()), nil
	}

	return &engine.GateResult{
		Gate:    g.Name(),
		Verdict: engine.VerdictBlock,
		Explanation: fmt.Sprintf("agent %q lacks capability %q required for %s",
			grant.AgentID, required, req.Event.ToolName),
		Fields: map[string]any{
			engine.FieldMissingCapability: required,
			engine.FieldRemedies: []string{
				fmt.Sprintf("request the %q capability from the orchestrator", required),
				"delegate this call to an agent holding the capability",
			},
		},
	}, nil
}

// requiredCapability maps the event to exactly one capability. The catalog
// entry wins when it names one; otherwise the intent decides.
func (g *CapabilityGate) requiredCapability(req *engine.EvalRequest) string {
	if req.Spec != nil && req.Spec.RequiredCapability != "" {
		return req.Spec.RequiredCapability
	}

	switch req.Event.Intent {
	case classify.IntentRead:
		return registry.CapabilityFileRead
	case classify.IntentWrite:
		return registry.CapabilityFileWrite
	case classify.IntentEdit:
		return registry.CapabilityFileEdit
	case classify.IntentExecute:
		if req.Event.Command != "" && matchAnyCommand(g.readonlyCommands, req.Event.Command) {
			return registry.CapabilityBashReadonly
		}
		return registry.CapabilityBashExecute
	case classify.IntentSpawnAgent:
		return registry.CapabilityCreateAgent
	case classify.IntentAskQuestion, classify.IntentUnscoped:
		return registry.CapabilityNone
	default:
		g.logger.Warn("no capability mapping for intent, allowing",
			zap.String("intent", string(req.Event.Intent)),
			zap.String("tool_name", req.Event.ToolName),
		)
		return registry.CapabilityNone
	}
}

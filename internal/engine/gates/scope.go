package gates

import (
	"context"
	"fmt"

	"github.com/overseer-ai/gatehouse/internal/classify"
	"github.com/overseer-ai/gatehouse/internal/engine"
)

// ScopeGate keeps writes, edits, and commands inside the declared task
// scope. Sessions without a scope pass: there is nothing to enforce.
type ScopeGate struct{}

func NewScopeGate() *ScopeGate { return &ScopeGate{} }

func (g *ScopeGate) Name() string { return engine.GateScope }

func (g *ScopeGate) Evaluate(_ context.Context, req *engine.EvalRequest) (*engine.GateResult, error) {
	scope := req.Snapshot.Scope
	if scope == nil {
		return engine.Allow(g.Name()), nil
	}

	var result *engine.GateResult
	switch req.Event.Intent {
	case classify.IntentWrite, classify.IntentEdit:
		result = g.checkPath(req, scope)
	case classify.IntentExecute:
		result = g.checkCommand(req, scope)
	default:
		// reads and the rest are not scope-bound
		return engine.Allow(g.Name()), nil
	}

	if result.Verdict == engine.VerdictBlock && req.Overrides.Scope {
		return result.Override(), nil
	}
	return result, nil
}

func (g *ScopeGate) checkPath(req *engine.EvalRequest, scope *engine.TaskScope) *engine.GateResult {
	path := req.Event.Path
	if path == "" {
		return engine.Allow(g.Name())
	}
	if matchAnyGlob(scope.AllowedPaths, path) {
		return engine.Allow(g.Name())
	}

	return &engine.GateResult{
		Gate:    g.Name(),
		Verdict: engine.VerdictBlock,
		Explanation: fmt.Sprintf("%s targets %q, outside the scope of task %q",
			req.Event.ToolName, path, scope.TaskID),
		Fields: map[string]any{
			engine.FieldRemedies: []string{
				fmt.Sprintf("expand the task scope to cover %q", path),
				"finish the current task before starting work on other files",
				"override the scope gate with an acknowledgement if this file belongs to the task",
			},
		},
	}
}

func (g *ScopeGate) checkCommand(req *engine.EvalRequest, scope *engine.TaskScope) *engine.GateResult {
	command := req.Event.Command
	if command == "" {
		return engine.Allow(g.Name())
	}
	if matchAnyCommand(scope.AllowedCommandPatterns, command) {
		return engine.Allow(g.Name())
	}

	return &engine.GateResult{
		Gate:    g.Name(),
		Verdict: engine.VerdictBlock,
		Explanation: fmt.Sprintf("command %q is not allowed by the scope of task %q",
			command, scope.TaskID),
		Fields: map[string]any{
			engine.FieldRemedies: []string{
				"decompose the command into steps the task scope allows",
				fmt.Sprintf("expand the task scope's command patterns to cover %q", command),
			},
		},
	}
}

package gates

import (
	"context"
	"fmt"
	"strings"

	"github.com/overseer-ai/gatehouse/internal/classify"
	"github.com/overseer-ai/gatehouse/internal/engine"
	"github.com/overseer-ai/gatehouse/internal/workflow"
)

// DefaultWarningThreshold is the active WARNING count above which mutating
// calls start to WARN.
const DefaultWarningThreshold = 3

// FlagGate blocks mutating calls while BLOCKER flags are active, warns when
// too many WARNING flags pile up, and holds completion back until the
// checklist is verified.
type FlagGate struct {
	warningThreshold int
}

func NewFlagGate(warningThreshold int) *FlagGate {
	if warningThreshold <= 0 {
		warningThreshold = DefaultWarningThreshold
	}
	return &FlagGate{warningThreshold: warningThreshold}
}

func (g *FlagGate) Name() string { return engine.GateFlags }

func (g *FlagGate) Evaluate(_ context.Context, req *engine.EvalRequest) (*engine.GateResult, error) {
	if req.Event.Intent == classify.IntentUnscoped && !req.Event.Completion {
		return engine.Allow(g.Name()), nil
	}

	board := &req.Snapshot.Board
	fields := map[string]any{}
	var blocks, warns []string

	if isMutating(req.Event.Intent) {
		if blockers := board.ActiveFlags(engine.FlagBlocker); len(blockers) > 0 {
			msgs := make([]string, len(blockers))
			for i, f := range blockers {
				msgs[i] = f.Message
			}
			blocks = append(blocks, fmt.Sprintf("%d active blocker(s): %s",
				len(blockers), strings.Join(msgs, "; ")))
			fields[engine.FieldBlockers] = msgs
		} else if warnings := board.ActiveFlags(engine.FlagWarning); len(warnings) > g.warningThreshold {
			msgs := make([]string, len(warnings))
			for i, f := range warnings {
				msgs[i] = f.Message
			}
			warns = append(warns, fmt.Sprintf("%d active warnings exceed the threshold of %d: %s",
				len(warnings), g.warningThreshold, strings.Join(msgs, "; ")))
			fields[engine.FieldWarnings] = msgs
		}
	}

	if req.Event.Completion {
		p0, p1 := unverifiedItems(board, req.Snapshot.Phase.Current)
		if len(p0) > 0 {
			blocks = append(blocks, fmt.Sprintf("completion requires %d unverified P0 checklist item(s): %s",
				len(p0), strings.Join(p0, "; ")))
			fields[engine.FieldUnverified] = append(p0, p1...)
		} else if len(p1) > 0 {
			warns = append(warns, fmt.Sprintf("%d P1 checklist item(s) still unverified: %s",
				len(p1), strings.Join(p1, "; ")))
			fields[engine.FieldUnverified] = p1
		}
	}

	switch {
	case len(blocks) > 0:
		return &engine.GateResult{
			Gate:        g.Name(),
			Verdict:     engine.VerdictBlock,
			Explanation: strings.Join(append(blocks, warns...), "; "),
			Fields:      fields,
		}, nil
	case len(warns) > 0:
		return &engine.GateResult{
			Gate:        g.Name(),
			Verdict:     engine.VerdictWarn,
			Explanation: strings.Join(warns, "; "),
			Fields:      fields,
		}, nil
	default:
		return engine.Allow(g.Name()), nil
	}
}

func isMutating(intent classify.Intent) bool {
	switch intent {
	case classify.IntentWrite, classify.IntentEdit, classify.IntentExecute:
		return true
	default:
		return false
	}
}

// unverifiedItems returns the descriptions of unverified checklist items
// applicable to the phase, split by priority. Items without a phase apply
// everywhere.
func unverifiedItems(board *engine.FlagBoard, phase workflow.Phase) (p0, p1 []string) {
	for _, item := range board.Checklist {
		if item.Verified {
			continue
		}
		if item.Phase != "" && item.Phase != phase {
			continue
		}
		switch item.Priority {
		case engine.PriorityP0:
			p0 = append(p0, item.Description)
		case engine.PriorityP1:
			p1 = append(p1, item.Description)
		}
	}
	return p0, p1
}

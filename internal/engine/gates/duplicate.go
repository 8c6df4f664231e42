package gates

import (
	"context"
	"fmt"
	"time"

	"github.com/overseer-ai/gatehouse/internal/classify"
	"github.com/overseer-ai/gatehouse/internal/engine"
)

// DefaultStaleness is how long a read result is considered fresh. Repeats
// beyond it are context refreshes, not waste.
const DefaultStaleness = 120 * time.Second

// DefaultWasteEstimate is the token cost charged for a wasteful repeat of a
// tool without an entry in the estimate map.
const DefaultWasteEstimate int64 = 500

// DefaultWasteEstimates maps tool names to the token cost of repeating them
// pointlessly.
func DefaultWasteEstimates() map[string]int64 {
	return map[string]int64{
		"Read":      1500,
		"Grep":      800,
		"Glob":      300,
		"LS":        300,
		"WebFetch":  2500,
		"WebSearch": 2500,
	}
}

// DuplicateAdvisor classifies repeated read-only calls. It is purely
// advisory: the verdict is always ALLOW, the value is in the annotation.
type DuplicateAdvisor struct {
	staleness      time.Duration
	wasteEstimates map[string]int64
	defaultWaste   int64
}

func NewDuplicateAdvisor(staleness time.Duration, wasteEstimates map[string]int64, defaultWaste int64) *DuplicateAdvisor {
	if staleness <= 0 {
		staleness = DefaultStaleness
	}
	if wasteEstimates == nil {
		wasteEstimates = DefaultWasteEstimates()
	}
	if defaultWaste <= 0 {
		defaultWaste = DefaultWasteEstimate
	}
	return &DuplicateAdvisor{
		staleness:      staleness,
		wasteEstimates: wasteEstimates,
		defaultWaste:   defaultWaste,
	}
}

func (g *DuplicateAdvisor) Name() string { return engine.GateDuplicate }

func (g *DuplicateAdvisor) Evaluate(_ context.Context, req *engine.EvalRequest) (*engine.GateResult, error) {
	if req.Event.Intent != classify.IntentRead {
		return engine.Allow(g.Name()), nil
	}
	prev := req.Snapshot.PrevCall
	if prev == nil || prev.Occurrences == 0 {
		return engine.Allow(g.Name()), nil
	}

	occurrence := prev.Occurrences + 1

	// Re-reading a file after writing it is verification, however quickly
	// it happens.
	if req.Event.Path != "" {
		if mod := engine.LastModified(req.Snapshot.Modified, req.Event.Path); !mod.IsZero() && mod.After(prev.LastSeenAt) {
			return &engine.GateResult{
				Gate:    g.Name(),
				Verdict: engine.VerdictAllow,
				Explanation: fmt.Sprintf("repeat read of %q verifies a modification made after the previous read",
					req.Event.Path),
				Fields: map[string]any{
					engine.FieldClassification: engine.ClassVerificationAfterModification,
					engine.FieldOccurrence:     occurrence,
				},
			}, nil
		}
	}

	elapsed := req.Event.Timestamp.Sub(prev.LastSeenAt)
	if elapsed > g.staleness {
		return &engine.GateResult{
			Gate:    g.Name(),
			Verdict: engine.VerdictAllow,
			Explanation: fmt.Sprintf("repeat call after %s refreshes context older than %s",
				elapsed.Round(time.Second), g.staleness),
			Fields: map[string]any{
				engine.FieldClassification: engine.ClassStaleContextRefresh,
				engine.FieldOccurrence:     occurrence,
			},
		}, nil
	}

	estimate := g.defaultWaste
	if e, ok := g.wasteEstimates[req.Event.ToolName]; ok {
		estimate = e
	}
	return &engine.GateResult{
		Gate:    g.Name(),
		Verdict: engine.VerdictAllow,
		Explanation: fmt.Sprintf("identical %s call repeated %s after occurrence #%d; reuse that result instead (~%d tokens)",
			req.Event.ToolName, elapsed.Round(time.Second), prev.Occurrences, estimate),
		Fields: map[string]any{
			engine.FieldClassification: engine.ClassWasteful,
			engine.FieldOccurrence:     occurrence,
			engine.FieldWasteEstimate:  estimate,
			engine.FieldSessionWaste:   req.Snapshot.SessionWaste + estimate,
		},
	}, nil
}

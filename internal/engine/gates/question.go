package gates

import (
	"context"
	"fmt"

	"github.com/overseer-ai/gatehouse/internal/engine"
)

// DefaultAnswerTools are the tool names allowed to pass while a question is
// pending.
func DefaultAnswerTools() []string {
	return []string{"answer_question"}
}

// QuestionGate locks the session while a question awaits an answer. Only
// the configured answer tools pass; everything else blocks and counts a
// violation. The gate runs first and a block short-circuits the pipeline.
type QuestionGate struct {
	answerTools map[string]bool
}

func NewQuestionGate(answerTools []string) *QuestionGate {
	if answerTools == nil {
		answerTools = DefaultAnswerTools()
	}
	allowed := make(map[string]bool, len(answerTools))
	for _, name := range answerTools {
		allowed[name] = true
	}
	return &QuestionGate{answerTools: allowed}
}

func (g *QuestionGate) Name() string { return engine.GateQuestion }

func (g *QuestionGate) Evaluate(_ context.Context, req *engine.EvalRequest) (*engine.GateResult, error) {
	q := req.Snapshot.Question
	if q == nil {
		return engine.Allow(g.Name()), nil
	}

	if g.answerTools[req.Event.ToolName] {
		return &engine.GateResult{
			Gate:        g.Name(),
			Verdict:     engine.VerdictAllow,
			Explanation: "answer received, clearing the pending question",
			Fields:      map[string]any{engine.FieldQuestionCleared: true},
		}, nil
	}

	// Counting the current attempt; the commit step persists the increment.
	count := q.ViolationCount + 1
	return &engine.GateResult{
		Gate:    g.Name(),
		Verdict: engine.VerdictBlock,
		Explanation: fmt.Sprintf("question pending since %s: %q; answer it before doing anything else (violation #%d)",
			q.AskedAt.Format("15:04:05"), q.Question, count),
		Fields: map[string]any{
			engine.FieldViolationCount: count,
			engine.FieldRemedies: []string{
				"deliver the answer through one of the configured answer tools",
			},
		},
	}, nil
}

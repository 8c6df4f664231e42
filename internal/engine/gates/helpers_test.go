package gates

import (
	"time"

	"github.com/overseer-ai/gatehouse/internal/classify"
	"github.com/overseer-ai/gatehouse/internal/engine"
	"github.com/overseer-ai/gatehouse/internal/workflow"
)

var testStart = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func event(tool string, intent classify.Intent) classify.Event {
	return classify.Event{
		RawEvent: classify.RawEvent{
			ActorID:   "agent-1",
			SessionID: "s1",
			ToolName:  tool,
			Timestamp: testStart,
		},
		Intent:    intent,
		Signature: classify.Signature(tool, nil),
	}
}

func writeEvent(path string) classify.Event {
	ev := event("Write", classify.IntentWrite)
	ev.Path = path
	return ev
}

func execEvent(command string) classify.Event {
	ev := event("Bash", classify.IntentExecute)
	ev.Command = command
	return ev
}

func readEvent(path string) classify.Event {
	ev := event("Read", classify.IntentRead)
	ev.Path = path
	return ev
}

func snapshot() *engine.Snapshot {
	return &engine.Snapshot{
		SessionID: "s1",
		Phase:     workflow.State{Current: workflow.PhaseImplement},
	}
}

func request(ev classify.Event, snap *engine.Snapshot) *engine.EvalRequest {
	if snap == nil {
		snap = snapshot()
	}
	return &engine.EvalRequest{Event: ev, Snapshot: snap}
}

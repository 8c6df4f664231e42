package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/overseer-ai/gatehouse/internal/classify"
	"github.com/overseer-ai/gatehouse/internal/registry"
	"github.com/overseer-ai/gatehouse/internal/state"
	"github.com/overseer-ai/gatehouse/internal/workflow"
)

// Snapshot is the session state read once per evaluation and shared by all
// gates. A load failure of any piece degrades to the absent/default form of
// that piece; evaluation never fails because the store does.
type Snapshot struct {
	SessionID string
	AgentID   string

	Phase    workflow.State
	Scope    *TaskScope
	Modified []FileModification
	Board    FlagBoard
	Question *PendingQuestion
	Grant    *registry.CapabilityGrant

	// PrevCall is the session's existing record for this event's signature,
	// nil on first occurrence.
	PrevCall *CallRecord

	// SessionWaste is the tokens already burned on wasteful duplicates.
	SessionWaste int64
}

func (e *Engine) loadSnapshot(ctx context.Context, agentID, sessionID string, ev classify.Event) *Snapshot {
	snap := &Snapshot{
		SessionID: sessionID,
		AgentID:   agentID,
		Phase:     workflow.State{Current: workflow.PhaseInit},
	}

	if phase, err := e.phases.Current(ctx, sessionID); err != nil {
		e.logger.Warn("snapshot: phase state unavailable, assuming init",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
	} else {
		snap.Phase = phase
	}

	var scope TaskScope
	if found, err := state.GetJSON(ctx, e.store, ScopeKey(sessionID), &scope); err != nil {
		e.logger.Warn("snapshot: task scope unavailable, assuming none",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
	} else if found {
		snap.Scope = &scope
	}

	if _, err := state.GetJSON(ctx, e.store, ModifiedFilesKey(sessionID), &snap.Modified); err != nil {
		e.logger.Warn("snapshot: modified files unavailable, assuming empty",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		snap.Modified = nil
	}

	if _, err := state.GetJSON(ctx, e.store, FlagsKey(sessionID), &snap.Board); err != nil {
		e.logger.Warn("snapshot: flag board unavailable, assuming empty",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		snap.Board = FlagBoard{}
	}

	var question PendingQuestion
	if found, err := state.GetJSON(ctx, e.store, QuestionKey(sessionID), &question); err != nil {
		e.logger.Warn("snapshot: pending question unavailable, assuming clear",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
	} else if found {
		snap.Question = &question
	}

	if agentID != "" {
		grant, err := e.registry.GetGrant(ctx, agentID)
		if err != nil {
			e.logger.Warn("snapshot: capability grant unavailable, assuming orchestrator",
				zap.String("agent_id", agentID),
				zap.Error(err),
			)
		} else {
			snap.Grant = grant
		}
	}

	var prev CallRecord
	if found, err := state.GetJSON(ctx, e.store, CallHistoryKey(sessionID, ev.Signature), &prev); err != nil {
		e.logger.Warn("snapshot: call history unavailable, assuming first occurrence",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
	} else if found {
		snap.PrevCall = &prev
	}

	if _, err := state.GetJSON(ctx, e.store, SessionWasteKey(sessionID), &snap.SessionWaste); err != nil {
		e.logger.Warn("snapshot: waste counter unavailable, assuming zero",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		snap.SessionWaste = 0
	}

	return snap
}

// Key helpers shared with the API handlers that manage session state.

func ScopeKey(sessionID string) string {
	return state.Key(state.NamespaceTaskScope, sessionID)
}

func ModifiedFilesKey(sessionID string) string {
	return state.Key(state.NamespaceModifiedFiles, sessionID)
}

func FlagsKey(sessionID string) string {
	return state.Key(state.NamespaceFlags, sessionID)
}

func QuestionKey(sessionID string) string {
	return state.Key(state.NamespacePendingQuestion, sessionID)
}

func CallHistoryKey(sessionID, signature string) string {
	return state.Key(state.NamespaceCallHistory, sessionID, signature)
}

// SessionWasteKey is the session's running duplicate-waste counter.
func SessionWasteKey(sessionID string) string {
	return state.Key(state.NamespaceCallHistory, sessionID, "total-waste")
}

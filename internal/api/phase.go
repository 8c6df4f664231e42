package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/overseer-ai/gatehouse/internal/workflow"
)

// handleGetPhase implements GET /v1/phase.
func (d *Dependencies) handleGetPhase(w http.ResponseWriter, r *http.Request) {
	sessionID := session(r, "")

	st, err := d.Phases.Current(r.Context(), sessionID)
	if err != nil {
		d.Logger.Error("failed to read phase state", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to read phase state"})
		return
	}
	writeJSON(w, http.StatusOK, PhaseResp{SessionID: sessionID, State: st})
}

// handleSetPhase implements PUT /v1/phase: an explicit, validated transition.
func (d *Dependencies) handleSetPhase(w http.ResponseWriter, r *http.Request) {
	var req SetPhaseReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}

	target := workflow.Phase(req.Phase)
	if !workflow.Valid(target) {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "unknown phase " + req.Phase})
		return
	}

	sessionID := session(r, req.SessionID)
	st, err := d.Phases.Advance(r.Context(), sessionID, target, req.Reason)
	if err != nil {
		var te *workflow.TransitionError
		if errors.As(err, &te) {
			writeJSON(w, http.StatusConflict, ErrorResp{Detail: te.Error()})
			return
		}
		d.Logger.Error("failed to advance phase", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to advance phase"})
		return
	}
	writeJSON(w, http.StatusOK, PhaseResp{SessionID: sessionID, State: st})
}

package api

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/overseer-ai/gatehouse/internal/engine"
	"github.com/overseer-ai/gatehouse/internal/state"
)

// handleGetScope implements GET /v1/scope: the scope plus the session's
// modified-files log.
func (d *Dependencies) handleGetScope(w http.ResponseWriter, r *http.Request) {
	sessionID := session(r, "")
	ctx := r.Context()

	var scope *engine.TaskScope
	if _, err := state.GetJSON(ctx, d.State, engine.ScopeKey(sessionID), &scope); err != nil {
		d.Logger.Error("failed to read scope", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to read scope"})
		return
	}

	var mods []engine.FileModification
	if _, err := state.GetJSON(ctx, d.State, engine.ModifiedFilesKey(sessionID), &mods); err != nil {
		d.Logger.Error("failed to read modified files", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to read modified files"})
		return
	}
	if mods == nil {
		mods = []engine.FileModification{}
	}

	writeJSON(w, http.StatusOK, ScopeResp{SessionID: sessionID, Scope: scope, ModifiedFiles: mods})
}

// handlePutScope implements PUT /v1/scope: create or replace the task scope.
// The modified-files log is session-scoped and survives scope replacement.
func (d *Dependencies) handlePutScope(w http.ResponseWriter, r *http.Request) {
	var req PutScopeReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if req.TaskID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "task_id is required"})
		return
	}

	sessionID := session(r, req.SessionID)
	scope := engine.TaskScope{
		TaskID:                 req.TaskID,
		Description:            req.Description,
		AllowedPaths:           req.AllowedPaths,
		AllowedCommandPatterns: req.AllowedCommandPatterns,
		CreatedAt:              time.Now().UTC(),
	}

	if err := state.PutJSON(r.Context(), d.State, engine.ScopeKey(sessionID), scope, d.SessionTTL); err != nil {
		d.Logger.Error("failed to store scope", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to store scope"})
		return
	}
	writeJSON(w, http.StatusOK, ScopeResp{SessionID: sessionID, Scope: &scope, ModifiedFiles: []engine.FileModification{}})
}

// handleDeleteScope implements DELETE /v1/scope: the task is finished or
// abandoned. Clears the scope and the modified-files log together.
func (d *Dependencies) handleDeleteScope(w http.ResponseWriter, r *http.Request) {
	sessionID := session(r, "")
	ctx := r.Context()

	if err := d.State.Delete(ctx, engine.ScopeKey(sessionID)); err != nil {
		d.Logger.Error("failed to delete scope", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to delete scope"})
		return
	}
	if err := d.State.Delete(ctx, engine.ModifiedFilesKey(sessionID)); err != nil {
		d.Logger.Error("failed to delete modified files", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to delete modified files"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/overseer-ai/gatehouse/internal/engine"
)

// handleCheck implements POST /v1/check.
// Auth middleware has already validated the Bearer token.
func (d *Dependencies) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req engine.CheckRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if req.ToolName == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "tool_name is required"})
		return
	}

	if identity := identityFromContext(r.Context()); identity != nil && identity.AgentID != "" {
		d.Logger.Debug("check request",
			zap.String("caller", identity.AgentID),
			zap.String("tool_name", req.ToolName),
		)
	}

	// The verdict travels in the body; the HTTP status is 200 even for BLOCK.
	resp := d.Engine.Check(r.Context(), &req)
	writeJSON(w, http.StatusOK, resp)
}

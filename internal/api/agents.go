package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/overseer-ai/gatehouse/internal/store"
)

// requireAdmin guards the agent-registry handlers: they need the Postgres
// store, which is optional at startup.
func (d *Dependencies) requireAdmin(w http.ResponseWriter) bool {
	if d.Admin == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "Agent registry requires Postgres"})
		return false
	}
	return true
}

func (d *Dependencies) handleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	if !d.requireAdmin(w) {
		return
	}

	var req RegisterAgentReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if req.AgentID == "" || len(req.AgentID) > 255 {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "agent_id must be 1-255 characters"})
		return
	}

	existing, err := d.Admin.GetAgent(r.Context(), req.AgentID)
	if err != nil {
		d.Logger.Error("failed to check agent", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to register agent"})
		return
	}
	if existing != nil {
		writeJSON(w, http.StatusConflict, ErrorResp{Detail: "Agent already registered: " + req.AgentID})
		return
	}

	agent, plainKey, err := d.Admin.CreateAgent(r.Context(), req.AgentID, req.Capabilities)
	if err != nil {
		d.Logger.Error("failed to create agent", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to register agent"})
		return
	}

	writeJSON(w, http.StatusCreated, RegisterAgentResp{
		AgentID:      agent.AgentID,
		APIKey:       plainKey,
		APIKeyPrefix: agent.APIKeyPrefix,
		Capabilities: agent.Capabilities,
		CreatedAt:    agent.CreatedAt,
	})
}

func (d *Dependencies) handleListAgents(w http.ResponseWriter, r *http.Request) {
	if !d.requireAdmin(w) {
		return
	}

	agents, err := d.Admin.ListAgents(r.Context())
	if err != nil {
		d.Logger.Error("failed to list agents", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to list agents"})
		return
	}

	resp := make([]AgentResp, 0, len(agents))
	for _, a := range agents {
		resp = append(resp, agentToResp(a))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (d *Dependencies) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	if !d.requireAdmin(w) {
		return
	}

	id := r.PathValue("agent_id")
	agent, err := d.Admin.GetAgent(r.Context(), id)
	if err != nil {
		d.Logger.Error("failed to get agent", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to get agent"})
		return
	}
	if agent == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Agent not found."})
		return
	}
	writeJSON(w, http.StatusOK, agentToResp(agent))
}

func (d *Dependencies) handleUpdateAgentCapabilities(w http.ResponseWriter, r *http.Request) {
	if !d.requireAdmin(w) {
		return
	}

	id := r.PathValue("agent_id")

	var req UpdateCapabilitiesReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}

	agent, err := d.Admin.UpdateCapabilities(r.Context(), id, req.Capabilities)
	if err != nil {
		d.Logger.Error("failed to update capabilities", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to update capabilities"})
		return
	}
	if agent == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Agent not found."})
		return
	}
	writeJSON(w, http.StatusOK, agentToResp(agent))
}

func (d *Dependencies) handleRotateAgentKey(w http.ResponseWriter, r *http.Request) {
	if !d.requireAdmin(w) {
		return
	}

	id := r.PathValue("agent_id")
	agent, plainKey, err := d.Admin.RotateAPIKey(r.Context(), id)
	if err != nil {
		d.Logger.Error("failed to rotate key", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to rotate API key"})
		return
	}
	if agent == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Agent not found."})
		return
	}
	writeJSON(w, http.StatusOK, RotateKeyResp{
		AgentID:      agent.AgentID,
		APIKey:       plainKey,
		APIKeyPrefix: agent.APIKeyPrefix,
	})
}

func agentToResp(a *store.Agent) AgentResp {
	return AgentResp{
		AgentID:      a.AgentID,
		APIKeyPrefix: a.APIKeyPrefix,
		Capabilities: a.Capabilities,
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
}

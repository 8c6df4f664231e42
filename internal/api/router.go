// Package api exposes the evaluation engine and the session-state
// collaborator operations over HTTP.
package api

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/overseer-ai/gatehouse/internal/auth"
	"github.com/overseer-ai/gatehouse/internal/engine"
	"github.com/overseer-ai/gatehouse/internal/state"
	"github.com/overseer-ai/gatehouse/internal/storage"
	"github.com/overseer-ai/gatehouse/internal/store"
	"github.com/overseer-ai/gatehouse/internal/workflow"
)

// Dependencies holds shared state injected into all HTTP handlers.
type Dependencies struct {
	Engine     *engine.Engine
	State      state.Store
	Phases     *workflow.Manager
	Admin      *store.Store    // nil if Postgres unavailable
	Reader     *storage.Reader // nil if ClickHouse unavailable
	Auth       auth.Authenticator
	Logger     *zap.Logger
	SessionTTL time.Duration
}

// NewRouter builds the HTTP mux with all routes wired up.
func NewRouter(deps *Dependencies) http.Handler {
	mux := http.NewServeMux()

	// Evaluation
	mux.HandleFunc("POST /v1/check", deps.authMiddleware(deps.handleCheck))
	mux.HandleFunc("GET /v1/decisions", deps.authMiddleware(deps.handleListDecisions))

	// Session phase
	mux.HandleFunc("GET /v1/phase", deps.authMiddleware(deps.handleGetPhase))
	mux.HandleFunc("PUT /v1/phase", deps.authMiddleware(deps.handleSetPhase))

	// Task scope
	mux.HandleFunc("GET /v1/scope", deps.authMiddleware(deps.handleGetScope))
	mux.HandleFunc("PUT /v1/scope", deps.authMiddleware(deps.handlePutScope))
	mux.HandleFunc("DELETE /v1/scope", deps.authMiddleware(deps.handleDeleteScope))

	// Flags & completion checklist
	mux.HandleFunc("GET /v1/flags", deps.authMiddleware(deps.handleListFlags))
	mux.HandleFunc("POST /v1/flags", deps.authMiddleware(deps.handleRaiseFlag))
	mux.HandleFunc("POST /v1/flags/{flag_id}/resolve", deps.authMiddleware(deps.handleResolveFlag))
	mux.HandleFunc("POST /v1/checklist", deps.authMiddleware(deps.handleUpsertChecklistItem))
	mux.HandleFunc("POST /v1/checklist/{item_id}/verify", deps.authMiddleware(deps.handleVerifyChecklistItem))

	// Pending questions
	mux.HandleFunc("POST /v1/questions", deps.authMiddleware(deps.handleRaiseQuestion))
	mux.HandleFunc("POST /v1/questions/answer", deps.authMiddleware(deps.handleAnswerQuestion))

	// Agent registration (requires Postgres)
	mux.HandleFunc("POST /v1/agents", deps.authMiddleware(deps.handleRegisterAgent))
	mux.HandleFunc("GET /v1/agents", deps.authMiddleware(deps.handleListAgents))
	mux.HandleFunc("GET /v1/agents/{agent_id}", deps.authMiddleware(deps.handleGetAgent))
	mux.HandleFunc("PUT /v1/agents/{agent_id}/capabilities", deps.authMiddleware(deps.handleUpdateAgentCapabilities))
	mux.HandleFunc("POST /v1/agents/{agent_id}/rotate-key", deps.authMiddleware(deps.handleRotateAgentKey))

	// Health check
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return corsMiddleware(requestLogging(mux, deps.Logger))
}

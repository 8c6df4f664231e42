package api

import (
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/overseer-ai/gatehouse/internal/storage"
)

// handleListDecisions implements GET /v1/decisions: the audit trail of
// recent verdicts, newest first.
func (d *Dependencies) handleListDecisions(w http.ResponseWriter, r *http.Request) {
	if d.Reader == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "ClickHouse not configured"})
		return
	}

	q := r.URL.Query()
	params := storage.ListDecisionsParams{
		Limit: queryInt(q, "limit", 50),
	}
	if params.Limit < 1 {
		params.Limit = 1
	}
	if params.Limit > 500 {
		params.Limit = 500
	}

	if v := q.Get("session_id"); v != "" {
		params.SessionID = &v
	}
	if v := q.Get("agent_id"); v != "" {
		params.AgentID = &v
	}
	if v := q.Get("verdict"); v != "" {
		params.Verdict = &v
	}

	decisions, err := d.Reader.ListDecisions(r.Context(), params)
	if err != nil {
		d.Logger.Error("failed to list decisions", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to list decisions"})
		return
	}
	if decisions == nil {
		decisions = []storage.DecisionRow{}
	}
	writeJSON(w, http.StatusOK, decisions)
}

func queryInt(q url.Values, key string, defaultVal int) int {
	v := q.Get(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

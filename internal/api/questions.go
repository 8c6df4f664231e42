package api

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/overseer-ai/gatehouse/internal/engine"
	"github.com/overseer-ai/gatehouse/internal/state"
)

// handleRaiseQuestion implements POST /v1/questions. While the question is
// pending the session is locked: every tool call except answer delivery is
// blocked. One pending question per session; raising a second is a conflict.
func (d *Dependencies) handleRaiseQuestion(w http.ResponseWriter, r *http.Request) {
	var req RaiseQuestionReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if req.Question == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "question is required"})
		return
	}

	sessionID := session(r, req.SessionID)
	key := engine.QuestionKey(sessionID)

	var existing engine.PendingQuestion
	found, err := state.GetJSON(r.Context(), d.State, key, &existing)
	if err != nil {
		d.Logger.Error("failed to read pending question", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to read pending question"})
		return
	}
	if found {
		writeJSON(w, http.StatusConflict, ErrorResp{Detail: "A question is already pending for this session"})
		return
	}

	q := engine.PendingQuestion{
		Type:     req.Type,
		Question: req.Question,
		AskedAt:  time.Now().UTC(),
	}
	if err := state.PutJSON(r.Context(), d.State, key, q, d.SessionTTL); err != nil {
		d.Logger.Error("failed to store pending question", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to store pending question"})
		return
	}
	writeJSON(w, http.StatusCreated, QuestionResp{SessionID: sessionID, Question: &q})
}

// handleAnswerQuestion implements POST /v1/questions/answer: the human side
// of the loop. Clearing the key unlocks the session.
func (d *Dependencies) handleAnswerQuestion(w http.ResponseWriter, r *http.Request) {
	var req AnswerQuestionReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}

	sessionID := session(r, req.SessionID)
	key := engine.QuestionKey(sessionID)

	var q engine.PendingQuestion
	found, err := state.GetJSON(r.Context(), d.State, key, &q)
	if err != nil {
		d.Logger.Error("failed to read pending question", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to read pending question"})
		return
	}
	if !found {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "No pending question for this session"})
		return
	}

	if err := d.State.Delete(r.Context(), key); err != nil {
		d.Logger.Error("failed to clear pending question", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to clear pending question"})
		return
	}
	writeJSON(w, http.StatusOK, QuestionResp{SessionID: sessionID, Question: &q})
}

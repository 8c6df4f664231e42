package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/overseer-ai/gatehouse/internal/engine"
	"github.com/overseer-ai/gatehouse/internal/state"
	"github.com/overseer-ai/gatehouse/internal/workflow"
)

// errNotFound signals a CAS update that found no matching entry. The update
// aborts without writing and the handler maps it to a 404.
var errNotFound = errors.New("not found")

// handleListFlags implements GET /v1/flags: the session's flag board.
func (d *Dependencies) handleListFlags(w http.ResponseWriter, r *http.Request) {
	sessionID := session(r, "")

	var board engine.FlagBoard
	if _, err := state.GetJSON(r.Context(), d.State, engine.FlagsKey(sessionID), &board); err != nil {
		d.Logger.Error("failed to read flag board", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to read flag board"})
		return
	}
	writeJSON(w, http.StatusOK, flagBoardResp(sessionID, &board))
}

// handleRaiseFlag implements POST /v1/flags.
func (d *Dependencies) handleRaiseFlag(w http.ResponseWriter, r *http.Request) {
	var req RaiseFlagReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}

	flagType := engine.FlagType(req.Type)
	switch flagType {
	case engine.FlagBlocker, engine.FlagWarning, engine.FlagInfo:
	default:
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "type must be BLOCKER, WARNING or INFO"})
		return
	}
	if req.Message == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "message is required"})
		return
	}

	sessionID := session(r, req.SessionID)
	flag := engine.Flag{
		ID:       uuid.New().String(),
		Type:     flagType,
		TaskID:   req.TaskID,
		Message:  req.Message,
		Status:   engine.FlagActive,
		RaisedAt: time.Now().UTC(),
	}

	err := d.updateBoard(r, sessionID, func(board *engine.FlagBoard) error {
		board.Flags = append(board.Flags, flag)
		return nil
	})
	if err != nil {
		d.Logger.Error("failed to raise flag", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to raise flag"})
		return
	}
	writeJSON(w, http.StatusCreated, flag)
}

// handleResolveFlag implements POST /v1/flags/{flag_id}/resolve.
func (d *Dependencies) handleResolveFlag(w http.ResponseWriter, r *http.Request) {
	flagID := r.PathValue("flag_id")
	sessionID := session(r, "")

	var resolved engine.Flag
	err := d.updateBoard(r, sessionID, func(board *engine.FlagBoard) error {
		for i := range board.Flags {
			if board.Flags[i].ID != flagID {
				continue
			}
			now := time.Now().UTC()
			board.Flags[i].Status = engine.FlagResolved
			board.Flags[i].ResolvedAt = &now
			resolved = board.Flags[i]
			return nil
		}
		return errNotFound
	})
	if err != nil {
		if errors.Is(err, errNotFound) {
			writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "No flag with ID " + flagID})
			return
		}
		d.Logger.Error("failed to resolve flag", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to resolve flag"})
		return
	}
	writeJSON(w, http.StatusOK, resolved)
}

// handleUpsertChecklistItem implements POST /v1/checklist. Items are matched
// by ID: a known ID replaces the existing item, an unknown or omitted ID
// appends a new one.
func (d *Dependencies) handleUpsertChecklistItem(w http.ResponseWriter, r *http.Request) {
	var req UpsertChecklistReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}

	switch req.Priority {
	case engine.PriorityP0, engine.PriorityP1:
	default:
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "priority must be P0 or P1"})
		return
	}
	if req.Description == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "description is required"})
		return
	}
	if req.Phase != "" && !workflow.Valid(workflow.Phase(req.Phase)) {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "unknown phase " + req.Phase})
		return
	}

	sessionID := session(r, req.SessionID)
	item := engine.ChecklistItem{
		ID:          req.ID,
		Priority:    req.Priority,
		Phase:       workflow.Phase(req.Phase),
		Description: req.Description,
	}
	if item.ID == "" {
		item.ID = uuid.New().String()
	}

	err := d.updateBoard(r, sessionID, func(board *engine.FlagBoard) error {
		for i := range board.Checklist {
			if board.Checklist[i].ID == item.ID {
				board.Checklist[i] = item
				return nil
			}
		}
		board.Checklist = append(board.Checklist, item)
		return nil
	})
	if err != nil {
		d.Logger.Error("failed to upsert checklist item", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to upsert checklist item"})
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// handleVerifyChecklistItem implements POST /v1/checklist/{item_id}/verify.
func (d *Dependencies) handleVerifyChecklistItem(w http.ResponseWriter, r *http.Request) {
	itemID := r.PathValue("item_id")
	sessionID := session(r, "")

	var verified engine.ChecklistItem
	err := d.updateBoard(r, sessionID, func(board *engine.FlagBoard) error {
		for i := range board.Checklist {
			if board.Checklist[i].ID != itemID {
				continue
			}
			board.Checklist[i].Verified = true
			verified = board.Checklist[i]
			return nil
		}
		return errNotFound
	})
	if err != nil {
		if errors.Is(err, errNotFound) {
			writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "No checklist item with ID " + itemID})
			return
		}
		d.Logger.Error("failed to verify checklist item", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to verify checklist item"})
		return
	}
	writeJSON(w, http.StatusOK, verified)
}

// updateBoard applies mutate to the session's flag board inside the store's
// CAS loop. mutate may run more than once and must be side-effect free
// apart from writing through its board pointer.
func (d *Dependencies) updateBoard(r *http.Request, sessionID string, mutate func(*engine.FlagBoard) error) error {
	key := engine.FlagsKey(sessionID)
	_, err := d.State.Update(r.Context(), key, d.SessionTTL, func(current []byte, found bool) ([]byte, error) {
		var board engine.FlagBoard
		if found {
			if err := json.Unmarshal(current, &board); err != nil {
				return nil, err
			}
		}
		if err := mutate(&board); err != nil {
			return nil, err
		}
		return json.Marshal(&board)
	})
	return err
}

func flagBoardResp(sessionID string, board *engine.FlagBoard) FlagBoardResp {
	resp := FlagBoardResp{SessionID: sessionID, Flags: board.Flags, Checklist: board.Checklist}
	if resp.Flags == nil {
		resp.Flags = []engine.Flag{}
	}
	if resp.Checklist == nil {
		resp.Checklist = []engine.ChecklistItem{}
	}
	return resp
}

package api

import (
	"time"

	"github.com/overseer-ai/gatehouse/internal/engine"
	"github.com/overseer-ai/gatehouse/internal/workflow"
)

// --- Phase ---

// SetPhaseReq is the JSON body for PUT /v1/phase.
type SetPhaseReq struct {
	SessionID string `json:"session_id,omitempty"`
	Phase     string `json:"phase"`
	Reason    string `json:"reason,omitempty"`
}

// PhaseResp reports a session's phase state.
type PhaseResp struct {
	SessionID string `json:"session_id"`
	workflow.State
}

// --- Scope ---

// PutScopeReq is the JSON body for PUT /v1/scope.
type PutScopeReq struct {
	SessionID              string   `json:"session_id,omitempty"`
	TaskID                 string   `json:"task_id"`
	Description            string   `json:"description,omitempty"`
	AllowedPaths           []string `json:"allowed_paths,omitempty"`
	AllowedCommandPatterns []string `json:"allowed_command_patterns,omitempty"`
}

// ScopeResp reports a session's task scope and its modified-files log.
type ScopeResp struct {
	SessionID     string                    `json:"session_id"`
	Scope         *engine.TaskScope         `json:"scope"`
	ModifiedFiles []engine.FileModification `json:"modified_files"`
}

// --- Flags & checklist ---

// RaiseFlagReq is the JSON body for POST /v1/flags.
type RaiseFlagReq struct {
	SessionID string `json:"session_id,omitempty"`
	Type      string `json:"type"`
	TaskID    string `json:"task_id,omitempty"`
	Message   string `json:"message"`
}

// FlagBoardResp reports a session's flags and completion checklist.
type FlagBoardResp struct {
	SessionID string                 `json:"session_id"`
	Flags     []engine.Flag          `json:"flags"`
	Checklist []engine.ChecklistItem `json:"checklist"`
}

// UpsertChecklistReq is the JSON body for POST /v1/checklist.
type UpsertChecklistReq struct {
	SessionID   string `json:"session_id,omitempty"`
	ID          string `json:"id,omitempty"`
	Priority    string `json:"priority"`
	Phase       string `json:"phase,omitempty"`
	Description string `json:"description"`
}

// --- Questions ---

// RaiseQuestionReq is the JSON body for POST /v1/questions.
type RaiseQuestionReq struct {
	SessionID string `json:"session_id,omitempty"`
	Type      string `json:"type,omitempty"`
	Question  string `json:"question"`
}

// QuestionResp reports a session's pending question, if any.
type QuestionResp struct {
	SessionID string                  `json:"session_id"`
	Question  *engine.PendingQuestion `json:"question"`
}

// AnswerQuestionReq is the JSON body for POST /v1/questions/answer.
type AnswerQuestionReq struct {
	SessionID string `json:"session_id,omitempty"`
	Answer    string `json:"answer,omitempty"`
}

// --- Agents ---

// RegisterAgentReq is the JSON body for POST /v1/agents.
type RegisterAgentReq struct {
	AgentID      string   `json:"agent_id"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// RegisterAgentResp includes the plaintext API key (shown once).
type RegisterAgentResp struct {
	AgentID      string    `json:"agent_id"`
	APIKey       string    `json:"api_key"`
	APIKeyPrefix string    `json:"api_key_prefix"`
	Capabilities []string  `json:"capabilities"`
	CreatedAt    time.Time `json:"created_at"`
}

// AgentResp mirrors an agent row (no plaintext key).
type AgentResp struct {
	AgentID      string    `json:"agent_id"`
	APIKeyPrefix string    `json:"api_key_prefix"`
	Capabilities []string  `json:"capabilities"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// UpdateCapabilitiesReq is the JSON body for PUT /v1/agents/{agent_id}/capabilities.
type UpdateCapabilitiesReq struct {
	Capabilities []string `json:"capabilities"`
}

// RotateKeyResp carries a freshly rotated API key. The plaintext key is
// returned exactly once.
type RotateKeyResp struct {
	AgentID      string `json:"agent_id"`
	APIKey       string `json:"api_key"`
	APIKeyPrefix string `json:"api_key_prefix"`
}

// ErrorResp is a standard error response body.
type ErrorResp struct {
	Detail string `json:"detail"`
}

package engine

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/overseer-ai/gatehouse/internal/workflow"
)

// Verdict is the admission decision for a tool call.
type Verdict int

const (
	VerdictAllow Verdict = iota + 1
	VerdictWarn
	VerdictBlock
)

// String returns the wire form of the verdict.
func (v Verdict) String() string {
	switch v {
	case VerdictAllow:
		return "ALLOW"
	case VerdictWarn:
		return "WARN"
	case VerdictBlock:
		return "BLOCK"
	default:
		return "UNSPECIFIED"
	}
}

// ExitCode maps the verdict to the hook process exit code.
func (v Verdict) ExitCode() int {
	switch v {
	case VerdictWarn:
		return 1
	case VerdictBlock:
		return 2
	default:
		return 0
	}
}

func (v Verdict) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.String())
}

func (v *Verdict) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseVerdict(s)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func ParseVerdict(s string) (Verdict, error) {
	switch s {
	case "ALLOW":
		return VerdictAllow, nil
	case "WARN":
		return VerdictWarn, nil
	case "BLOCK":
		return VerdictBlock, nil
	default:
		return 0, fmt.Errorf("unknown verdict %q", s)
	}
}

// Gate names, stable across the API and the audit trail.
const (
	GateQuestion   = "pending_question"
	GateCapability = "capability_boundary"
	GatePhase      = "workflow_phase"
	GateScope      = "task_scope"
	GateFlags      = "flag_checklist"
	GateDuplicate  = "duplicate_call"
)

// Machine-readable annotation field keys.
const (
	FieldViolationCount    = "violation_count"
	FieldMissingCapability = "missing_capability"
	FieldMissingPhases     = "missing_phases"
	FieldRemedies          = "remedies"
	FieldClassification    = "classification"
	FieldOccurrence        = "occurrence"
	FieldWasteEstimate     = "waste_estimate"
	FieldSessionWaste      = "session_waste"
	FieldBlockers          = "blockers"
	FieldWarnings          = "warnings"
	FieldUnverified        = "unverified"
	FieldQuestionCleared   = "question_cleared"
	FieldSchemaViolations  = "schema_violations"
)

// Duplicate-call classifications.
const (
	ClassVerificationAfterModification = "verification_after_modification"
	ClassStaleContextRefresh           = "stale_context_refresh"
	ClassWasteful                      = "wasteful"
)

// TaskScope bounds the files and commands of the session's current task.
type TaskScope struct {
	TaskID                 string    `json:"task_id"`
	Description            string    `json:"description,omitempty"`
	AllowedPaths           []string  `json:"allowed_paths,omitempty"`
	AllowedCommandPatterns []string  `json:"allowed_command_patterns,omitempty"`
	CreatedAt              time.Time `json:"created_at"`
}

// FileModification is one entry in the session's ordered modified-files log.
type FileModification struct {
	Path       string    `json:"path"`
	ModifiedAt time.Time `json:"modified_at"`
}

// LastModified returns the newest modification time for path, or zero time
// when path was never recorded.
func LastModified(mods []FileModification, path string) time.Time {
	var latest time.Time
	for _, m := range mods {
		if m.Path == path && m.ModifiedAt.After(latest) {
			latest = m.ModifiedAt
		}
	}
	return latest
}

type FlagType string

const (
	FlagBlocker FlagType = "BLOCKER"
	FlagWarning FlagType = "WARNING"
	FlagInfo    FlagType = "INFO"
)

type FlagStatus string

const (
	FlagActive   FlagStatus = "active"
	FlagResolved FlagStatus = "resolved"
)

// Flag is a raised concern attached to the session's task.
type Flag struct {
	ID         string     `json:"id"`
	Type       FlagType   `json:"type"`
	TaskID     string     `json:"task_id,omitempty"`
	Message    string     `json:"message"`
	Status     FlagStatus `json:"status"`
	RaisedAt   time.Time  `json:"raised_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// ChecklistItem is a completion requirement. P0 items block completion
// while unverified, P1 items only warn.
type ChecklistItem struct {
	ID          string         `json:"id"`
	Priority    string         `json:"priority"`
	Phase       workflow.Phase `json:"phase,omitempty"`
	Description string         `json:"description"`
	Verified    bool           `json:"verified"`
}

const (
	PriorityP0 = "P0"
	PriorityP1 = "P1"
)

// FlagBoard is the flags-namespace document: raised flags plus the
// completion checklist.
type FlagBoard struct {
	Flags     []Flag          `json:"flags,omitempty"`
	Checklist []ChecklistItem `json:"checklist,omitempty"`
}

// ActiveFlags returns the active flags of the given type.
func (b *FlagBoard) ActiveFlags(t FlagType) []Flag {
	var out []Flag
	for _, f := range b.Flags {
		if f.Status == FlagActive && f.Type == t {
			out = append(out, f)
		}
	}
	return out
}

// PendingQuestion is the session's open question, if any. While one is
// pending, the session is locked to answer delivery.
type PendingQuestion struct {
	Type           string    `json:"type,omitempty"`
	Question       string    `json:"question_text"`
	AskedAt        time.Time `json:"asked_at"`
	ViolationCount int64     `json:"violation_count"`
}

// CallRecord tracks repeat calls sharing a signature within a session.
type CallRecord struct {
	Signature   string    `json:"signature"`
	ToolName    string    `json:"tool_name"`
	Path        string    `json:"path,omitempty"`
	LastSeenAt  time.Time `json:"last_seen_at"`
	Occurrences int64     `json:"occurrences"`
}

// Package classify normalizes raw tool-call events into classified events
// carrying an intent, extracted path or command, a canonical call signature,
// and a completion marker. Classification is pure; callers resolve the tool
// spec first and pass it in.
package classify

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/overseer-ai/gatehouse/internal/registry"
)

// Intent is the normalized action category of a tool call.
type Intent string

const (
	IntentRead        Intent = "read"
	IntentWrite       Intent = "write"
	IntentEdit        Intent = "edit"
	IntentExecute     Intent = "execute"
	IntentSpawnAgent  Intent = "spawn_agent"
	IntentAskQuestion Intent = "ask_question"

	// IntentUnscoped marks calls that could not be classified: unknown
	// tools and calls whose parameters fail the catalog schema.
	IntentUnscoped Intent = "unscoped"
)

// builtinIntents covers the standard agent toolset. Catalog entries take
// precedence when a tool appears in both.
var builtinIntents = map[string]Intent{
	"Read":            IntentRead,
	"Glob":            IntentRead,
	"Grep":            IntentRead,
	"LS":              IntentRead,
	"WebFetch":        IntentRead,
	"WebSearch":       IntentRead,
	"NotebookRead":    IntentRead,
	"Write":           IntentWrite,
	"Edit":            IntentEdit,
	"MultiEdit":       IntentEdit,
	"NotebookEdit":    IntentEdit,
	"Bash":            IntentExecute,
	"Task":            IntentSpawnAgent,
	"Agent":           IntentSpawnAgent,
	"AskUserQuestion": IntentAskQuestion,
}

var knownIntents = map[Intent]bool{
	IntentRead:        true,
	IntentWrite:       true,
	IntentEdit:        true,
	IntentExecute:     true,
	IntentSpawnAgent:  true,
	IntentAskQuestion: true,
}

// RawEvent is a tool call as received from the hook or API, before
// classification.
type RawEvent struct {
	ActorID    string         `json:"actor_id"`
	SessionID  string         `json:"session_id"`
	ToolName   string         `json:"tool_name"`
	Parameters map[string]any `json:"parameters"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Event is a classified tool call.
type Event struct {
	RawEvent

	Intent Intent `json:"intent"`

	// Path is the target file for read/write/edit intents, empty otherwise.
	Path string `json:"path,omitempty"`
	// Command is the shell command for execute intents, empty otherwise.
	Command string `json:"command,omitempty"`

	// Completion marks calls that signal the task is finished.
	Completion bool `json:"completion,omitempty"`

	// Signature identifies the call for duplicate detection. Two calls to
	// the same tool with equal parameters share a signature.
	Signature string `json:"signature"`

	// SchemaViolations holds catalog schema failures when Intent is
	// unscoped because of invalid parameters.
	SchemaViolations []string `json:"schema_violations,omitempty"`
}

// Config tunes completion detection. Zero value uses the defaults.
type Config struct {
	// CompletionTools are tool names whose calls mark task completion.
	CompletionTools []string
	// CompletionCommands are shell command prefixes that mark completion
	// when issued through an execute-intent tool.
	CompletionCommands []string
}

// Classifier assigns intents to raw events.
type Classifier struct {
	completionTools    map[string]bool
	completionCommands []string
}

func New(cfg Config) *Classifier {
	if len(cfg.CompletionCommands) == 0 {
		cfg.CompletionCommands = []string{"git commit"}
	}
	tools := make(map[string]bool, len(cfg.CompletionTools))
	for _, name := range cfg.CompletionTools {
		tools[name] = true
	}
	return &Classifier{
		completionTools:    tools,
		completionCommands: cfg.CompletionCommands,
	}
}

// Classify resolves the event's intent and derived fields. spec is the
// catalog entry for the tool, nil when the tool is not registered. Unknown
// tools that are not builtin classify as unscoped, as do calls whose
// parameters fail the catalog schema.
func (c *Classifier) Classify(raw RawEvent, spec *registry.ToolSpec) Event {
	ev := Event{
		RawEvent:  raw,
		Signature: Signature(raw.ToolName, raw.Parameters),
	}

	ev.Intent = c.resolveIntent(raw, spec)

	if spec != nil && len(spec.ParameterSchema) > 0 {
		if violations := validateParameters(spec.ParameterSchema, raw.Parameters); len(violations) > 0 {
			ev.Intent = IntentUnscoped
			ev.SchemaViolations = violations
		}
	}

	switch ev.Intent {
	case IntentRead, IntentWrite, IntentEdit:
		ev.Path = extractPath(raw.Parameters)
	case IntentExecute:
		ev.Command = extractCommand(raw.Parameters)
	}

	ev.Completion = c.isCompletion(raw.ToolName, ev.Command)
	return ev
}

func (c *Classifier) resolveIntent(raw RawEvent, spec *registry.ToolSpec) Intent {
	if spec != nil {
		intent := Intent(spec.Intent)
		if knownIntents[intent] {
			return intent
		}
		return IntentUnscoped
	}
	if intent, ok := builtinIntents[raw.ToolName]; ok {
		return intent
	}
	return IntentUnscoped
}

func (c *Classifier) isCompletion(toolName, command string) bool {
	if c.completionTools[toolName] {
		return true
	}
	if command == "" {
		return false
	}
	for _, prefix := range c.completionCommands {
		if command == prefix || strings.HasPrefix(command, prefix+" ") {
			return true
		}
	}
	return false
}

// extractPath pulls the target file from the conventional parameter names.
func extractPath(params map[string]any) string {
	for _, key := range []string{"file_path", "path", "notebook_path"} {
		if v, ok := params[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// extractCommand pulls the shell command, preferring the resolved form
// when a wrapper supplies one.
func extractCommand(params map[string]any) string {
	for _, key := range []string{"command_effective", "command"} {
		if v, ok := params[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// Signature hashes the tool name and parameters into a short stable id.
// json.Marshal writes map keys in sorted order, so parameter ordering does
// not affect the result.
func Signature(toolName string, params map[string]any) string {
	canonical, err := json.Marshal(params)
	if err != nil {
		canonical = []byte("{}")
	}
	h := sha256.New()
	h.Write([]byte(toolName))
	h.Write([]byte{0})
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil))[:16]
}

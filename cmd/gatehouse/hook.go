package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/overseer-ai/gatehouse/internal/engine"
	"github.com/overseer-ai/gatehouse/internal/registry"
	"github.com/overseer-ai/gatehouse/internal/server"
	"github.com/overseer-ai/gatehouse/internal/storage"
	"github.com/overseer-ai/gatehouse/internal/workflow"
)

var hookCmd = &cobra.Command{
	Use:   "hook",
	Short: "Evaluate one tool-call event from stdin",
	Long: `Read a tool-call event as JSON on stdin, evaluate it against the
local file-backed state store and print the decision as JSON on stdout.

The exit code carries the verdict so a host agent can wire gatehouse
directly into its pre-tool hook:

  0  ALLOW
  1  WARN
  2  BLOCK

Event format:

  {"agent_id": "worker-1", "session_id": "sess-42",
   "tool_name": "Write", "parameters": {"file_path": "src/main.go"}}

"tool_input" is accepted as an alias for "parameters". A malformed event
is evaluated with whatever fields did parse; the hook never breaks the
host loop over its own plumbing.`,
	Args: cobra.NoArgs,
	Run:  runHook,
}

func init() {
	rootCmd.AddCommand(hookCmd)
}

// hookEvent is the stdin payload. ToolInput mirrors the field name used by
// common host agents so their events work unmodified.
type hookEvent struct {
	AgentID    string         `json:"agent_id"`
	SessionID  string         `json:"session_id"`
	ToolName   string         `json:"tool_name"`
	Parameters map[string]any `json:"parameters"`
	ToolInput  map[string]any `json:"tool_input"`
}

// decodeHookEvent parses raw and applies the tool_input alias. The event is
// usable even when an error is returned, holding whatever fields did parse.
func decodeHookEvent(raw []byte) (hookEvent, error) {
	var ev hookEvent
	err := json.Unmarshal(raw, &ev)
	if ev.Parameters == nil {
		ev.Parameters = ev.ToolInput
	}
	return ev, err
}

func runHook(cmd *cobra.Command, _ []string) {
	logger := quietLogger()
	defer logger.Sync() //nolint:errcheck // best-effort flush

	raw, err := io.ReadAll(os.Stdin)
	if err != nil {
		logger.Warn("failed to read stdin", zap.Error(err))
	}
	ev, err := decodeHookEvent(raw)
	if err != nil {
		logger.Warn("malformed event, evaluating with parsed fields", zap.Error(err))
	}
	if ev.SessionID == "" {
		ev.SessionID = sessionID
	}

	cfg, err := loadCLIConfig()
	if err != nil {
		logger.Warn("config unavailable, allowing", zap.Error(err))
		os.Exit(0)
	}
	store, err := openLocalStore(cfg, logger)
	if err != nil {
		logger.Warn("state store unavailable, allowing", zap.Error(err))
		os.Exit(0)
	}

	reg := registry.NewStateRegistry(store, cfg.Registry.Catalog)
	for _, grant := range cfg.Registry.Grants {
		if err := reg.PutGrant(cmd.Context(), grant); err != nil {
			logger.Warn("failed to seed capability grant",
				zap.String("agent_id", grant.AgentID),
				zap.Error(err),
			)
		}
	}
	phases := workflow.NewManager(store, cfg.Workflow.Skips, cfg.State.SessionTTL)
	eng := server.BuildEngine(cfg, store, reg, phases, storage.NewLogWriter(logger), logger)

	resp := eng.Check(cmd.Context(), &engine.CheckRequest{
		AgentID:    ev.AgentID,
		SessionID:  ev.SessionID,
		ToolName:   ev.ToolName,
		Parameters: ev.Parameters,
		Timestamp:  time.Now().UTC(),
	})

	out, err := json.Marshal(resp)
	if err != nil {
		logger.Warn("failed to marshal response, allowing", zap.Error(err))
		os.Exit(0)
	}
	fmt.Println(string(out))
	os.Exit(resp.ExitCode)
}

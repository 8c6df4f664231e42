package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/overseer-ai/gatehouse/internal/config"
	"github.com/overseer-ai/gatehouse/internal/engine"
	"github.com/overseer-ai/gatehouse/internal/state"
)

var (
	// Global flags
	cfgFile   string
	stateFile string
	sessionID string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "gatehouse",
	Short: "Admission control for autonomous coding agents",
	Long: `gatehouse evaluates agent tool calls against session policy and
answers ALLOW, WARN or BLOCK.

Host integration:
  hook         Evaluate one tool-call event from stdin (exit 0/1/2)

Server:
  serve        Run the HTTP policy server

Session state:
  state        Inspect and edit the local state store
  phase        Show or advance the session workflow phase
  flags        List, raise and resolve session flags
  question     Ask or answer the session's pending question`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: "+config.DefaultConfigFile+")")
	rootCmd.PersistentFlags().StringVar(&stateFile, "state-file", "", "State file path (overrides config)")
	rootCmd.PersistentFlags().StringVar(&sessionID, "session", engine.DefaultSession, "Session ID")
}

// loadCLIConfig loads configuration honoring the --config and --state-file
// flags. Local commands always use the file backend regardless of the
// configured one.
func loadCLIConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		path = envOrDefault("GATEHOUSE_CONFIG", config.DefaultConfigFile)
	}
	cfg, err := config.LoadFrom(path)
	if err != nil {
		return nil, err
	}
	if stateFile != "" {
		cfg.State.Backend = "file"
		cfg.State.FilePath = stateFile
	}
	return cfg, nil
}

// openLocalStore opens the file-backed state store the local commands and
// the hook operate on.
func openLocalStore(cfg *config.Config, logger *zap.Logger) (state.Store, error) {
	return state.NewFileStore(cfg.State.FilePath, logger)
}

// quietLogger routes diagnostics to stderr so command output and hook
// responses own stdout.
func quietLogger() *zap.Logger {
	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapcore.WarnLevel),
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return logger
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

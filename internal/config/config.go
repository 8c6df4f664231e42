// Package config provides hierarchical configuration loading for Gatehouse.
// Precedence: defaults < YAML file < environment variables.
package config

import (
	"time"

	"github.com/overseer-ai/gatehouse/internal/engine/gates"
	"github.com/overseer-ai/gatehouse/internal/registry"
	"github.com/overseer-ai/gatehouse/internal/workflow"
)

// Config holds all runtime configuration for the Gatehouse server and CLI.
type Config struct {
	Server     Server     `yaml:"server"`
	Logging    Logging    `yaml:"logging"`
	State      State      `yaml:"state"`
	Auth       Auth       `yaml:"auth"`
	Postgres   Postgres   `yaml:"postgres"`
	ClickHouse ClickHouse `yaml:"clickhouse"`
	Engine     Engine     `yaml:"engine"`
	Gates      Gates      `yaml:"gates"`
	Classify   Classify   `yaml:"classify"`
	Workflow   Workflow   `yaml:"workflow"`
	Registry   Registry   `yaml:"registry"`
}

// Server holds HTTP server configuration.
type Server struct {
	Port string `yaml:"port"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level string `yaml:"level"`
}

// State selects and tunes the shared session-state backend.
type State struct {
	Backend    string        `yaml:"backend"` // "memory" | "file" | "nats"
	FilePath   string        `yaml:"file_path"`
	NATSURL    string        `yaml:"nats_url"`
	NATSBucket string        `yaml:"nats_bucket"`
	SessionTTL time.Duration `yaml:"session_ttl"`
}

// Auth selects the API key validation mode.
type Auth struct {
	Mode     string        `yaml:"mode"` // "static" | "postgres"
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// Postgres holds the agent registry connection configuration.
type Postgres struct {
	DSN string `yaml:"dsn"`
}

// ClickHouse holds the decision audit trail connection configuration.
type ClickHouse struct {
	DSN string `yaml:"dsn"`
}

// Engine holds dispatcher configuration.
type Engine struct {
	GateTimeout time.Duration `yaml:"gate_timeout"`
}

// Gates holds the per-gate tuning knobs.
type Gates struct {
	WarningFlagThreshold int              `yaml:"warning_flag_threshold"`
	Staleness            time.Duration    `yaml:"staleness"`
	DefaultWasteEstimate int64            `yaml:"default_waste_estimate"`
	WasteEstimates       map[string]int64 `yaml:"waste_estimates"`
	ReadonlyCommands     []string         `yaml:"readonly_commands"`
	AnswerTools          []string         `yaml:"answer_tools"`
}

// Classify holds completion-detection configuration.
type Classify struct {
	CompletionTools    []string `yaml:"completion_tools"`
	CompletionCommands []string `yaml:"completion_commands"`
}

// Workflow holds the phase-transition allow-list.
type Workflow struct {
	Skips []workflow.Skip `yaml:"skips"`
}

// Registry holds static capability grants and catalog entries for
// deployments without Postgres.
type Registry struct {
	Grants  []registry.CapabilityGrant `yaml:"grants"`
	Catalog []registry.ToolSpec        `yaml:"catalog"`
}

// Defaults returns a Config with the built-in policy defaults. Gate knobs
// reference the gates package so the file and the code cannot drift apart.
func Defaults() Config {
	return Config{
		Server: Server{
			Port: "8082",
		},
		Logging: Logging{
			Level: "info",
		},
		State: State{
			Backend:    "memory",
			FilePath:   "gatehouse-state.json",
			NATSURL:    "nats://localhost:4222",
			NATSBucket: "gatehouse",
			SessionTTL: 24 * time.Hour,
		},
		Auth: Auth{
			Mode:     "static",
			CacheTTL: 30 * time.Second,
		},
		Engine: Engine{
			GateTimeout: 50 * time.Millisecond,
		},
		Gates: Gates{
			WarningFlagThreshold: gates.DefaultWarningThreshold,
			Staleness:            gates.DefaultStaleness,
			DefaultWasteEstimate: gates.DefaultWasteEstimate,
			WasteEstimates:       gates.DefaultWasteEstimates(),
			ReadonlyCommands:     gates.DefaultReadonlyCommands(),
			AnswerTools:          gates.DefaultAnswerTools(),
		},
		Classify: Classify{
			CompletionTools:    []string{},
			CompletionCommands: []string{"git commit"},
		},
		Workflow: Workflow{
			Skips: workflow.DefaultSkips(),
		},
	}
}

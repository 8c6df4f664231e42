package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/overseer-ai/gatehouse/internal/workflow"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "gatehouse.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// The YAML file is optional; a missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the operator
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "GATEHOUSE_HTTP_PORT")
	setString(&cfg.Logging.Level, "GATEHOUSE_LOG_LEVEL")

	setString(&cfg.State.Backend, "GATEHOUSE_STATE_BACKEND")
	setString(&cfg.State.FilePath, "GATEHOUSE_STATE_FILE")
	setString(&cfg.State.NATSURL, "NATS_URL")
	setString(&cfg.State.NATSBucket, "GATEHOUSE_NATS_BUCKET")
	setDuration(&cfg.State.SessionTTL, "GATEHOUSE_SESSION_TTL")

	setString(&cfg.Auth.Mode, "GATEHOUSE_AUTH_MODE")
	setDuration(&cfg.Auth.CacheTTL, "GATEHOUSE_AUTH_CACHE_TTL")

	setString(&cfg.Postgres.DSN, "POSTGRES_DSN")
	setString(&cfg.ClickHouse.DSN, "CLICKHOUSE_DSN")

	setDuration(&cfg.Engine.GateTimeout, "GATEHOUSE_GATE_TIMEOUT")

	setInt(&cfg.Gates.WarningFlagThreshold, "GATEHOUSE_WARNING_FLAG_THRESHOLD")
	setDuration(&cfg.Gates.Staleness, "GATEHOUSE_STALENESS")
	setInt64(&cfg.Gates.DefaultWasteEstimate, "GATEHOUSE_DEFAULT_WASTE_ESTIMATE")
}

// validate checks that the loaded config is internally consistent.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}

	switch cfg.State.Backend {
	case "memory", "file", "nats":
	default:
		return fmt.Errorf("state.backend must be memory, file or nats, got %q", cfg.State.Backend)
	}
	if cfg.State.Backend == "file" && cfg.State.FilePath == "" {
		return errors.New("state.file_path is required for the file backend")
	}
	if cfg.State.Backend == "nats" && cfg.State.NATSURL == "" {
		return errors.New("state.nats_url is required for the nats backend")
	}

	switch cfg.Auth.Mode {
	case "static", "postgres":
	default:
		return fmt.Errorf("auth.mode must be static or postgres, got %q", cfg.Auth.Mode)
	}
	if cfg.Auth.Mode == "postgres" && cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required for postgres auth")
	}

	if cfg.Engine.GateTimeout <= 0 {
		return errors.New("engine.gate_timeout must be positive")
	}
	if cfg.Gates.WarningFlagThreshold < 0 {
		return errors.New("gates.warning_flag_threshold must be >= 0")
	}
	if cfg.Gates.Staleness <= 0 {
		return errors.New("gates.staleness must be positive")
	}

	for _, s := range cfg.Workflow.Skips {
		if !workflow.Valid(s.From) || !workflow.Valid(s.To) {
			return fmt.Errorf("workflow.skips: unknown phase in %s -> %s", s.From, s.To)
		}
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

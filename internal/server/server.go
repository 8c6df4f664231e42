// Package server wires the state store, registry, gates and HTTP API into a
// runnable daemon. Both the standalone server binary and the CLI serve
// command call Run.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx as database/sql driver
	"go.uber.org/zap"

	"github.com/overseer-ai/gatehouse/internal/api"
	"github.com/overseer-ai/gatehouse/internal/auth"
	"github.com/overseer-ai/gatehouse/internal/classify"
	"github.com/overseer-ai/gatehouse/internal/config"
	"github.com/overseer-ai/gatehouse/internal/engine"
	"github.com/overseer-ai/gatehouse/internal/engine/gates"
	"github.com/overseer-ai/gatehouse/internal/registry"
	"github.com/overseer-ai/gatehouse/internal/state"
	"github.com/overseer-ai/gatehouse/internal/storage"
	"github.com/overseer-ai/gatehouse/internal/store"
	"github.com/overseer-ai/gatehouse/internal/workflow"
)

// Run builds the full server from cfg and blocks until SIGINT or SIGTERM.
// All backends are optional except the state store: without Postgres the
// agent endpoints return 503 and capability grants come from config, without
// ClickHouse decisions go to the log writer.
func Run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("starting gatehouse server",
		zap.String("http_port", cfg.Server.Port),
		zap.String("state_backend", cfg.State.Backend),
		zap.String("auth_mode", cfg.Auth.Mode),
		zap.Duration("gate_timeout", cfg.Engine.GateTimeout),
	)

	// Shared state store
	var stateStore state.Store
	switch cfg.State.Backend {
	case "file":
		fileStore, err := state.NewFileStore(cfg.State.FilePath, logger)
		if err != nil {
			return fmt.Errorf("state file: %w", err)
		}
		stateStore = fileStore
	case "nats":
		natsStore, err := state.NewNATSStore(ctx, cfg.State.NATSURL, cfg.State.NATSBucket, logger)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer natsStore.Close()
		stateStore = natsStore
	default:
		stateStore = state.NewMemoryStore()
	}

	// Postgres backs the agent registry and key auth; both optional.
	var db *sql.DB
	if cfg.Postgres.DSN != "" {
		var err error
		db, err = sql.Open("pgx", cfg.Postgres.DSN)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer func() { _ = db.Close() }()
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("postgres ping: %w", err)
		}
		logger.Info("postgres connected")
	} else {
		logger.Info("no POSTGRES_DSN set, agent registry endpoints will not be available")
	}

	// Capability grants and tool catalog
	var reg registry.Registry
	if db != nil {
		pgReg, err := registry.NewPostgresRegistry(registry.PostgresRegistryConfig{
			DB:       db,
			CacheTTL: cfg.Auth.CacheTTL,
			Logger:   logger,
		})
		if err != nil {
			return fmt.Errorf("postgres registry: %w", err)
		}
		defer pgReg.Close()
		reg = pgReg
	} else {
		stateReg := registry.NewStateRegistry(stateStore, cfg.Registry.Catalog)
		for _, grant := range cfg.Registry.Grants {
			if err := stateReg.PutGrant(ctx, grant); err != nil {
				logger.Warn("failed to seed capability grant",
					zap.String("agent_id", grant.AgentID),
					zap.Error(err),
				)
			}
		}
		reg = stateReg
	}

	// API key authentication
	var authenticator auth.Authenticator
	if cfg.Auth.Mode == "postgres" {
		authenticator = auth.NewPostgresAuthenticator(auth.PostgresAuthConfig{
			DB:       db,
			CacheTTL: cfg.Auth.CacheTTL,
			Logger:   logger,
		})
	} else {
		authenticator = auth.NewStaticAuthenticator()
		logger.Info("static auth mode, any well-formed key is accepted")
	}

	// Decision audit trail, ClickHouse when configured
	var writer storage.Writer
	if cfg.ClickHouse.DSN != "" {
		chWriter, err := storage.NewClickHouseWriter(cfg.ClickHouse.DSN, logger)
		if err != nil {
			logger.Warn("clickhouse connection failed, falling back to log writer",
				zap.Error(err),
			)
			writer = storage.NewLogWriter(logger)
		} else {
			writer = chWriter
			logger.Info("clickhouse writer connected")
		}
	} else {
		writer = storage.NewLogWriter(logger)
		logger.Info("no CLICKHOUSE_DSN set, using log writer")
	}
	defer writer.Close() //nolint:errcheck // drained on shutdown

	var reader *storage.Reader
	if cfg.ClickHouse.DSN != "" {
		chReader, err := storage.NewReader(cfg.ClickHouse.DSN, logger)
		if err != nil {
			logger.Warn("clickhouse reader connection failed", zap.Error(err))
		} else {
			defer func() { _ = chReader.Close() }()
			reader = chReader
		}
	}

	var admin *store.Store
	if db != nil {
		admin = store.NewStore(db)
	}

	phases := workflow.NewManager(stateStore, cfg.Workflow.Skips, cfg.State.SessionTTL)
	eng := BuildEngine(cfg, stateStore, reg, phases, writer, logger)

	router := api.NewRouter(&api.Dependencies{
		Engine:     eng,
		State:      stateStore,
		Phases:     phases,
		Admin:      admin,
		Reader:     reader,
		Auth:       authenticator,
		Logger:     logger,
		SessionTTL: cfg.State.SessionTTL,
	})

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	logger.Info("gatehouse server stopped")
	return nil
}

// BuildEngine assembles the gate pipeline from config. The server and the
// CLI hook path share it so both evaluate events identically.
func BuildEngine(cfg *config.Config, stateStore state.Store, reg registry.Registry, phases *workflow.Manager, writer storage.Writer, logger *zap.Logger) *engine.Engine {
	return engine.New(engine.Params{
		Classifier: classify.New(classify.Config{
			CompletionTools:    cfg.Classify.CompletionTools,
			CompletionCommands: cfg.Classify.CompletionCommands,
		}),
		Registry: reg,
		Store:    stateStore,
		Phases:   phases,
		Question: gates.NewQuestionGate(cfg.Gates.AnswerTools),
		Parallel: []engine.Gate{
			gates.NewCapabilityGate(cfg.Gates.ReadonlyCommands, logger),
			gates.NewPhaseGate(phases, nil, logger),
			gates.NewScopeGate(),
			gates.NewFlagGate(cfg.Gates.WarningFlagThreshold),
		},
		Advisor: gates.NewDuplicateAdvisor(
			cfg.Gates.Staleness,
			cfg.Gates.WasteEstimates,
			cfg.Gates.DefaultWasteEstimate,
		),
		Audit:       writer,
		GateTimeout: cfg.Engine.GateTimeout,
		SessionTTL:  cfg.State.SessionTTL,
		Logger:      logger,
	})
}

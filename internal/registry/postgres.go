package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// RegistryStore abstracts the database queries behind PostgresRegistry so
// tests can substitute a fixture without a live connection.
type RegistryStore interface {
	LookupGrant(ctx context.Context, agentID string) (*CapabilityGrant, error)
	LookupTool(ctx context.Context, toolName string) (*ToolSpec, error)
}

// ErrNotRegistered is returned by stores when a lookup matches no row.
// PostgresRegistry converts it to the nil-result contract of Registry.
var ErrNotRegistered = errors.New("not registered")

// sqlRegistryStore is the real implementation using *sql.DB.
type sqlRegistryStore struct {
	db *sql.DB
}

func (s *sqlRegistryStore) LookupGrant(ctx context.Context, agentID string) (*CapabilityGrant, error) {
	var (
		grant   CapabilityGrant
		capsRaw []byte
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT agent_id, capabilities FROM agents WHERE agent_id = $1`,
		agentID,
	).Scan(&grant.AgentID, &capsRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotRegistered
	}
	if err != nil {
		return nil, fmt.Errorf("LookupGrant: %w", err)
	}
	if len(capsRaw) > 0 {
		if err := json.Unmarshal(capsRaw, &grant.Capabilities); err != nil {
			return nil, fmt.Errorf("LookupGrant: decode capabilities: %w", err)
		}
	}
	return &grant, nil
}

func (s *sqlRegistryStore) LookupTool(ctx context.Context, toolName string) (*ToolSpec, error) {
	var (
		spec      ToolSpec
		schemaRaw []byte
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT tool_name, description, intent, required_capability, implied_phase, parameter_schema
		 FROM tool_catalog WHERE tool_name = $1`,
		toolName,
	).Scan(&spec.ToolName, &spec.Description, &spec.Intent, &spec.RequiredCapability, &spec.ImpliedPhase, &schemaRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotRegistered
	}
	if err != nil {
		return nil, fmt.Errorf("LookupTool: %w", err)
	}
	if len(schemaRaw) > 0 {
		if err := json.Unmarshal(schemaRaw, &spec.ParameterSchema); err != nil {
			return nil, fmt.Errorf("LookupTool: decode parameter_schema: %w", err)
		}
	}
	return &spec, nil
}

// PostgresRegistry serves grants and tool specs from Postgres with a
// ristretto read-through cache. Unknown agents and tools are cached
// negatively so repeated probes for unregistered names stay cheap.
type PostgresRegistry struct {
	store  RegistryStore
	cache  *lookupCache
	logger *zap.Logger
}

type PostgresRegistryConfig struct {
	DB            *sql.DB
	CacheTTL      time.Duration
	CacheMaxBytes int64
	Logger        *zap.Logger
}

func NewPostgresRegistry(cfg PostgresRegistryConfig) (*PostgresRegistry, error) {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * time.Second
	}
	if cfg.CacheMaxBytes <= 0 {
		cfg.CacheMaxBytes = 16 << 20
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	cache, err := newLookupCache(cfg.CacheMaxBytes, cfg.CacheTTL)
	if err != nil {
		return nil, fmt.Errorf("NewPostgresRegistry: %w", err)
	}
	return &PostgresRegistry{
		store:  &sqlRegistryStore{db: cfg.DB},
		cache:  cache,
		logger: cfg.Logger,
	}, nil
}

// newRegistryWithStore is the test seam for PostgresRegistry.
func newRegistryWithStore(store RegistryStore, ttl time.Duration, logger *zap.Logger) (*PostgresRegistry, error) {
	cache, err := newLookupCache(1<<20, ttl)
	if err != nil {
		return nil, err
	}
	return &PostgresRegistry{store: store, cache: cache, logger: logger}, nil
}

func (r *PostgresRegistry) GetGrant(ctx context.Context, agentID string) (*CapabilityGrant, error) {
	key := "grant." + agentID
	if raw, ok := r.cache.get(key); ok {
		var grant *CapabilityGrant
		if err := json.Unmarshal(raw, &grant); err == nil {
			return grant, nil
		}
		// fall through to the store on a corrupt cache entry
	}
	grant, err := r.store.LookupGrant(ctx, agentID)
	if errors.Is(err, ErrNotRegistered) {
		r.cache.set(key, nil)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetGrant: %w", err)
	}
	if raw, err := json.Marshal(grant); err == nil {
		r.cache.set(key, raw)
	}
	return grant, nil
}

func (r *PostgresRegistry) GetTool(ctx context.Context, toolName string) (*ToolSpec, error) {
	key := "tool." + toolName
	if raw, ok := r.cache.get(key); ok {
		var spec *ToolSpec
		if err := json.Unmarshal(raw, &spec); err == nil {
			return spec, nil
		}
	}
	spec, err := r.store.LookupTool(ctx, toolName)
	if errors.Is(err, ErrNotRegistered) {
		r.cache.set(key, nil)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetTool: %w", err)
	}
	if raw, err := json.Marshal(spec); err == nil {
		r.cache.set(key, raw)
	}
	return spec, nil
}

// Close releases the cache. The database handle is owned by the caller.
func (r *PostgresRegistry) Close() {
	r.cache.close()
}

package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/overseer-ai/gatehouse/internal/auth"
)

// Agent represents a row in the agents table.
type Agent struct {
	AgentID      string
	Capabilities []string
	APIKeyPrefix string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// GenerateAPIKey creates a new ghk_ API key with its bcrypt hash and prefix.
// Returns (fullKey, hash, prefix, error). The fullKey is shown to the caller once.
func GenerateAPIKey() (string, string, string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", "", fmt.Errorf("GenerateAPIKey: %w", err)
	}
	fullKey := auth.KeyPrefix + hex.EncodeToString(raw) // 68 chars total

	hashBytes, err := bcrypt.GenerateFromPassword([]byte(fullKey), bcrypt.DefaultCost)
	if err != nil {
		return "", "", "", fmt.Errorf("GenerateAPIKey: %w", err)
	}

	prefix := fullKey[:8] // "ghk_ab12"
	return fullKey, string(hashBytes), prefix, nil
}

// CreateAgent inserts a new agent with its capability set.
// Returns the agent and the plaintext API key (shown once).
func (s *Store) CreateAgent(ctx context.Context, agentID string, capabilities []string) (*Agent, string, error) {
	fullKey, keyHash, keyPrefix, err := GenerateAPIKey()
	if err != nil {
		return nil, "", fmt.Errorf("CreateAgent: %w", err)
	}

	if capabilities == nil {
		capabilities = []string{}
	}
	caps, err := json.Marshal(capabilities)
	if err != nil {
		return nil, "", fmt.Errorf("CreateAgent: %w", err)
	}

	var (
		a       Agent
		capsRaw []byte
	)
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO agents (agent_id, capabilities, api_key_hash, api_key_prefix)
		VALUES ($1, $2, $3, $4)
		RETURNING agent_id, capabilities, api_key_prefix, created_at, updated_at`,
		agentID, caps, keyHash, keyPrefix,
	).Scan(&a.AgentID, &capsRaw, &a.APIKeyPrefix, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, "", fmt.Errorf("CreateAgent: %w", err)
	}
	if err := json.Unmarshal(capsRaw, &a.Capabilities); err != nil {
		return nil, "", fmt.Errorf("CreateAgent: %w", err)
	}

	return &a, fullKey, nil
}

// GetAgent returns an agent by ID, or nil if not found.
func (s *Store) GetAgent(ctx context.Context, agentID string) (*Agent, error) {
	var (
		a       Agent
		capsRaw []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT agent_id, capabilities, api_key_prefix, created_at, updated_at
		FROM agents WHERE agent_id = $1`, agentID,
	).Scan(&a.AgentID, &capsRaw, &a.APIKeyPrefix, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetAgent: %w", err)
	}
	if err := json.Unmarshal(capsRaw, &a.Capabilities); err != nil {
		return nil, fmt.Errorf("GetAgent: %w", err)
	}
	return &a, nil
}

// ListAgents returns all agents ordered by created_at DESC.
func (s *Store) ListAgents(ctx context.Context) ([]*Agent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT agent_id, capabilities, api_key_prefix, created_at, updated_at
		FROM agents ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("ListAgents: %w", err)
	}
	defer rows.Close()

	var agents []*Agent
	for rows.Next() {
		var (
			a       Agent
			capsRaw []byte
		)
		if err := rows.Scan(&a.AgentID, &capsRaw, &a.APIKeyPrefix, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("ListAgents: %w", err)
		}
		if err := json.Unmarshal(capsRaw, &a.Capabilities); err != nil {
			return nil, fmt.Errorf("ListAgents: %w", err)
		}
		agents = append(agents, &a)
	}
	return agents, rows.Err()
}

// RotateAPIKey issues a fresh API key for an agent, invalidating the old one.
// Returns the agent, the new plaintext key (shown once), or nil if the agent
// does not exist.
func (s *Store) RotateAPIKey(ctx context.Context, agentID string) (*Agent, string, error) {
	fullKey, keyHash, keyPrefix, err := GenerateAPIKey()
	if err != nil {
		return nil, "", fmt.Errorf("RotateAPIKey: %w", err)
	}

	var (
		a       Agent
		capsRaw []byte
	)
	err = s.db.QueryRowContext(ctx, `
		UPDATE agents SET
			api_key_hash   = $2,
			api_key_prefix = $3,
			updated_at     = now()
		WHERE agent_id = $1
		RETURNING agent_id, capabilities, api_key_prefix, created_at, updated_at`,
		agentID, keyHash, keyPrefix,
	).Scan(&a.AgentID, &capsRaw, &a.APIKeyPrefix, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("RotateAPIKey: %w", err)
	}
	if err := json.Unmarshal(capsRaw, &a.Capabilities); err != nil {
		return nil, "", fmt.Errorf("RotateAPIKey: %w", err)
	}
	return &a, fullKey, nil
}

// UpdateCapabilities replaces an agent's capability set.
// Returns the updated agent, or nil if the agent does not exist.
func (s *Store) UpdateCapabilities(ctx context.Context, agentID string, capabilities []string) (*Agent, error) {
	if capabilities == nil {
		capabilities = []string{}
	}
	caps, err := json.Marshal(capabilities)
	if err != nil {
		return nil, fmt.Errorf("UpdateCapabilities: %w", err)
	}

	var (
		a       Agent
		capsRaw []byte
	)
	err = s.db.QueryRowContext(ctx, `
		UPDATE agents SET
			capabilities = $2,
			updated_at   = now()
		WHERE agent_id = $1
		RETURNING agent_id, capabilities, api_key_prefix, created_at, updated_at`,
		agentID, caps,
	).Scan(&a.AgentID, &capsRaw, &a.APIKeyPrefix, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("UpdateCapabilities: %w", err)
	}
	if err := json.Unmarshal(capsRaw, &a.Capabilities); err != nil {
		return nil, fmt.Errorf("UpdateCapabilities: %w", err)
	}
	return &a, nil
}

package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/overseer-ai/gatehouse/internal/state"
)

// StateRegistry keeps capability grants in the shared state store so they
// can be rewritten at runtime, and serves tool specs from a fixed catalog.
// It is the registry used when no Postgres pool is configured.
type StateRegistry struct {
	store   state.Store
	catalog map[string]ToolSpec
}

func NewStateRegistry(store state.Store, catalog []ToolSpec) *StateRegistry {
	byName := make(map[string]ToolSpec, len(catalog))
	for _, spec := range catalog {
		byName[spec.ToolName] = spec
	}
	return &StateRegistry{store: store, catalog: byName}
}

func (r *StateRegistry) GetGrant(ctx context.Context, agentID string) (*CapabilityGrant, error) {
	var grant CapabilityGrant
	found, err := state.GetJSON(ctx, r.store, grantKey(agentID), &grant)
	if err != nil {
		return nil, fmt.Errorf("GetGrant: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &grant, nil
}

func (r *StateRegistry) GetTool(_ context.Context, toolName string) (*ToolSpec, error) {
	spec, ok := r.catalog[toolName]
	if !ok {
		return nil, nil
	}
	return &spec, nil
}

// PutGrant registers or replaces an agent's capability set. Grants never
// expire on their own; they are removed explicitly.
func (r *StateRegistry) PutGrant(ctx context.Context, grant CapabilityGrant) error {
	if grant.AgentID == "" {
		return fmt.Errorf("PutGrant: empty agent id")
	}
	if err := state.PutJSON(ctx, r.store, grantKey(grant.AgentID), grant, 0*time.Second); err != nil {
		return fmt.Errorf("PutGrant: %w", err)
	}
	return nil
}

// DeleteGrant removes an agent's grant, returning it to orchestrator mode.
func (r *StateRegistry) DeleteGrant(ctx context.Context, agentID string) error {
	if err := r.store.Delete(ctx, grantKey(agentID)); err != nil {
		return fmt.Errorf("DeleteGrant: %w", err)
	}
	return nil
}

func grantKey(agentID string) string {
	return state.Key(state.NamespaceCapabilityRegistry, agentID)
}

package registry

import "context"

// Registry resolves capability grants and tool catalog entries for the
// gates. Both lookups return nil (not an error) when nothing is registered:
// a nil grant means orchestrator mode, a nil spec means an unknown tool.
type Registry interface {
	// GetGrant returns the capability grant for an agent, or nil if the
	// agent has no registry entry.
	GetGrant(ctx context.Context, agentID string) (*CapabilityGrant, error)

	// GetTool returns the catalog entry for a tool, or nil if the tool is
	// not registered.
	GetTool(ctx context.Context, toolName string) (*ToolSpec, error)
}

// StaticRegistry serves grants and tool specs from fixed maps. It backs
// config-driven deployments and tests.
type StaticRegistry struct {
	grants map[string]*CapabilityGrant
	tools  map[string]*ToolSpec
}

// NewStaticRegistry builds a registry from the given entries. Nil maps are
// fine; lookups then always miss.
func NewStaticRegistry(grants []CapabilityGrant, tools []ToolSpec) *StaticRegistry {
	r := &StaticRegistry{
		grants: make(map[string]*CapabilityGrant, len(grants)),
		tools:  make(map[string]*ToolSpec, len(tools)),
	}
	for i := range grants {
		g := grants[i]
		r.grants[g.AgentID] = &g
	}
	for i := range tools {
		t := tools[i]
		r.tools[t.ToolName] = &t
	}
	return r
}

func (r *StaticRegistry) GetGrant(_ context.Context, agentID string) (*CapabilityGrant, error) {
	return r.grants[agentID], nil
}

func (r *StaticRegistry) GetTool(_ context.Context, toolName string) (*ToolSpec, error) {
	return r.tools[toolName], nil
}

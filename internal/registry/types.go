package registry

// Capability names checked by the capability boundary gate.
const (
	CapabilityFileRead     = "file_read"
	CapabilityFileWrite    = "file_write"
	CapabilityFileEdit     = "file_edit"
	CapabilityBashReadonly = "bash_readonly"
	CapabilityBashExecute  = "bash_execute"
	CapabilityCreateAgent  = "create_agent"

	// CapabilityNone is the always-allowed pseudo-capability. Unknown tools
	// and question/answer traffic map here so a novel tool never deadlocks
	// an agent.
	CapabilityNone = ""
)

// ToolSpec is one catalog entry. The classifier uses Intent and
// ParameterSchema; the capability gate uses RequiredCapability and the phase
// gate uses ImpliedPhase.
type ToolSpec struct {
	ToolName           string         `json:"tool_name" yaml:"tool_name"`
	Description        string         `json:"description,omitempty" yaml:"description,omitempty"`
	Intent             string         `json:"intent" yaml:"intent"`
	RequiredCapability string         `json:"required_capability,omitempty" yaml:"required_capability,omitempty"`
	ImpliedPhase       string         `json:"implied_phase,omitempty" yaml:"implied_phase,omitempty"`
	ParameterSchema    map[string]any `json:"parameter_schema,omitempty" yaml:"parameter_schema,omitempty"`
}

// CapabilityGrant is the capability set registered for one agent. Agents
// with no grant on record run in orchestrator mode and are unrestricted.
type CapabilityGrant struct {
	AgentID      string   `json:"agent_id" yaml:"agent_id"`
	Capabilities []string `json:"capabilities" yaml:"capabilities"`
}

// Has reports whether the grant includes the named capability.
// Every grant implicitly includes CapabilityNone.
func (g *CapabilityGrant) Has(capability string) bool {
	if capability == CapabilityNone {
		return true
	}
	for _, c := range g.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

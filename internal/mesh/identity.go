package mesh

import "github.com/dorkos/dorkos/internal/agentmgr"

// IdentityAdapter implements agentmgr.IdentityReader over a Mesh Registry,
// letting the Agent Manager's system-prompt assembly (spec §4.4.3) consult
// Mesh manifests without Mesh importing agentmgr's Manager (avoiding the
// cycle agentmgr's own IdentityReader interface was designed to prevent).
type IdentityAdapter struct {
	Registry *Registry
}

var _ agentmgr.IdentityReader = IdentityAdapter{}

// ReadIdentity looks up the manifest anchored at cwd, if any.
func (a IdentityAdapter) ReadIdentity(cwd string) (agentmgr.AgentIdentity, bool, error) {
	m, ok, err := a.Registry.GetByPath(cwd)
	if err != nil || !ok {
		return agentmgr.AgentIdentity{}, ok, err
	}
	return agentmgr.AgentIdentity{
		DisplayName:    m.DisplayName,
		Description:    m.Description,
		PersonaEnabled: m.Persona.Enabled,
		PersonaText:    m.Persona.Text,
	}, true, nil
}

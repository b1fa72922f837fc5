package substrate

import (
	"os"
	"strconv"
)

// Flag is a process-level boolean feature gate, set once at startup from an
// environment variable and queryable thereafter by every subsystem and by a
// "get config" operation so clients can render disabled states.
type Flag struct {
	name    string
	enabled bool
}

// NewFlag reads the named environment variable once, falling back to def
// when unset or unparsable.
func NewFlag(name string, def bool) *Flag {
	enabled := def
	if v, ok := os.LookupEnv(name); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			enabled = b
		}
	}
	return &Flag{name: name, enabled: enabled}
}

// Enabled reports the flag's fixed startup value.
func (f *Flag) Enabled() bool { return f.enabled }

// Name returns the backing environment variable name.
func (f *Flag) Name() string { return f.name }

// Flags is the standard set of subsystem gates, matching spec §6.1.
type Flags struct {
	Pulse *Flag
	Relay *Flag
	Mesh  *Flag
	Tunnel *Flag
}

// NewFlags builds the standard flag set from the environment, with pulse
// defaulting on and relay/mesh/tunnel defaulting off.
func NewFlags() *Flags {
	return &Flags{
		Pulse:  NewFlag("DORKOS_PULSE_ENABLED", true),
		Relay:  NewFlag("DORKOS_RELAY_ENABLED", false),
		Mesh:   NewFlag("DORKOS_MESH_ENABLED", false),
		Tunnel: NewFlag("DORKOS_TUNNEL_ENABLED", false),
	}
}

// Snapshot is the JSON-serializable view returned by "get config" operations.
type Snapshot struct {
	Pulse  SubsystemFlag `json:"pulse"`
	Relay  SubsystemFlag `json:"relay"`
	Mesh   SubsystemFlag `json:"mesh"`
	Tunnel SubsystemFlag `json:"tunnel"`
}

// SubsystemFlag is the wire shape of a single subsystem's enabled state.
type SubsystemFlag struct {
	Enabled bool `json:"enabled"`
}

// Snapshot renders the current (fixed) flag values for transport.
func (f *Flags) Snapshot() Snapshot {
	return Snapshot{
		Pulse:  SubsystemFlag{Enabled: f.Pulse.Enabled()},
		Relay:  SubsystemFlag{Enabled: f.Relay.Enabled()},
		Mesh:   SubsystemFlag{Enabled: f.Mesh.Enabled()},
		Tunnel: SubsystemFlag{Enabled: f.Tunnel.Enabled()},
	}
}

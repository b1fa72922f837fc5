package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/titanous/json5"
)

// IsProd reports whether DORKOS_ENV is "production"; non-prod is the
// default so a bare checkout runs with debug logging and a throwaway data
// home.
func IsProd() bool {
	return os.Getenv("DORKOS_ENV") == "production"
}

// Default returns the documented defaults from spec §6.1.
func Default() *Config {
	dataHome := "./.temp/.dork"
	logLevel := "debug"
	if IsProd() {
		if home, err := os.UserHomeDir(); err == nil {
			dataHome = filepath.Join(home, ".dork")
		} else {
			dataHome = ".dork"
		}
		logLevel = "info"
	}

	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}

	return &Config{
		Port:          4242,
		DataHome:      dataHome,
		DefaultCwd:    cwd,
		BoundaryRoot:  filepath.Dir(dataHome),
		PulseEnabled:  true,
		RelayEnabled:  false,
		MeshEnabled:   false,
		TunnelEnabled: false,
		LogLevel:      logLevel,
		Pulse: Pulse{
			DefaultConcurrencyCap: 1,
			TickIntervalSeconds:  30,
		},
		Relay: Relay{
			TraceRetentionDays: 7,
		},
		Mesh: Mesh{
			MaxDiscoveryDepth: 3,
			ActiveWindowSec:   60,
			InactiveWindowSec: 1800,
		},
	}
}

// Load reads a JSON5 config file, falling back to Default() when absent, and
// overlays environment variables afterward so they always take precedence.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays the spec §6.1 environment variables. Env vars
// always win over file values.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("DORKOS_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Port = n
		}
	}
	if v := os.Getenv("DORKOS_DATA_HOME"); v != "" {
		c.DataHome = v
	}
	if v := os.Getenv("DORKOS_DEFAULT_CWD"); v != "" {
		c.DefaultCwd = v
	}
	if v := os.Getenv("DORKOS_BOUNDARY_ROOT"); v != "" {
		c.BoundaryRoot = v
	}
	if v, ok := envBool("DORKOS_PULSE_ENABLED"); ok {
		c.PulseEnabled = v
	}
	if v, ok := envBool("DORKOS_RELAY_ENABLED"); ok {
		c.RelayEnabled = v
	}
	if v, ok := envBool("DORKOS_MESH_ENABLED"); ok {
		c.MeshEnabled = v
	}
	if v, ok := envBool("DORKOS_TUNNEL_ENABLED"); ok {
		c.TunnelEnabled = v
	}
	if v := os.Getenv("DORKOS_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

func envBool(name string) (bool, bool) {
	v := os.Getenv(name)
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}

// Package config loads DorkOS's root configuration: a JSON5 file overlaid by
// environment variables, matching spec §6.1's environment table exactly.
package config

import (
	"log/slog"
	"sync"
)

// Config is the root configuration for the DorkOS server.
type Config struct {
	Port int `json:"port"`

	// DataHome is the root of durable state: "~/.dork" in prod,
	// "./.temp/.dork" in non-prod.
	DataHome string `json:"dataHome"`

	// DefaultCwd is the default working directory for sessions with no
	// explicit cwd.
	DefaultCwd string `json:"defaultCwd"`

	// BoundaryRoot is the boundary guard's root; defaults to DataHome's
	// parent.
	BoundaryRoot string `json:"boundaryRoot"`

	PulseEnabled  bool `json:"pulseEnabled"`
	RelayEnabled  bool `json:"relayEnabled"`
	MeshEnabled   bool `json:"meshEnabled"`
	TunnelEnabled bool `json:"tunnelEnabled"`

	LogLevel string `json:"logLevel"`

	Pulse Pulse `json:"pulse,omitempty"`
	Relay Relay `json:"relay,omitempty"`
	Mesh  Mesh  `json:"mesh,omitempty"`

	mu sync.RWMutex
}

// Pulse holds Pulse-specific defaults overridable from the config file.
type Pulse struct {
	DefaultConcurrencyCap int `json:"defaultConcurrencyCap,omitempty"`
	TickIntervalSeconds   int `json:"tickIntervalSeconds,omitempty"`
}

// Relay holds Relay-specific defaults.
type Relay struct {
	AdaptersConfigPath string `json:"adaptersConfigPath,omitempty"`
	TraceRetentionDays int    `json:"traceRetentionDays,omitempty"`
	TelemetryEnabled   bool   `json:"telemetryEnabled,omitempty"`
	OTLPEndpoint       string `json:"otlpEndpoint,omitempty"`
}

// Mesh holds Mesh-specific defaults.
type Mesh struct {
	DiscoveryRoots    []string `json:"discoveryRoots,omitempty"`
	MaxDiscoveryDepth int      `json:"maxDiscoveryDepth,omitempty"`
	ActiveWindowSec   int      `json:"activeWindowSec,omitempty"`
	InactiveWindowSec int      `json:"inactiveWindowSec,omitempty"`
}

// LogLevelValue parses the configured log level into a slog.Level,
// defaulting to info on an unrecognized value.
func (c *Config) LogLevelValue() slog.Level {
	switch c.LogLevel {
	case "debug", "trace":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error", "fatal":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

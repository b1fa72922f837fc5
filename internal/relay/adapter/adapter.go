// Package adapter is the Relay Adapter Registry: a plugin loader that tracks
// lifecycle state for pluggable external-channel adapters and reconciles
// them against a hot-reloadable config file (spec §4.7). Grounded on
// internal/channels/manager.go's map-keyed lifecycle tracking, generalized
// from "channels implementing channels.Channel" to "adapters implementing
// adapter.Adapter", and on internal/channels/instance_loader.go's
// config-diff reconciliation for Reload.
package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Status is the adapter lifecycle state (spec §3, Adapter).
type Status string

const (
	StatusDisabled     Status = "disabled"
	StatusStarting     Status = "starting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusError        Status = "error"
)

// StartTimeout bounds how long Start may run before the adapter is marked
// StatusError (spec §5, "Adapter start timeout: ~30s").
const StartTimeout = 30 * time.Second

// Adapter is a pluggable external-channel component. Configure is called once
// at construction with the JSON config blob assigned to this adapter ID;
// Start/Stop must be safe to call from any lifecycle state.
type Adapter interface {
	ID() string
	DisplayName() string
	SubjectPrefixes() []string
	Configure(raw json.RawMessage) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	HandleMessage(ctx context.Context, chatID, channelType, senderID, content string) error
}

// Factory builds a fresh Adapter instance for a given adapter ID, used by
// Reload to recreate adapters whose config changed.
type Factory func(id string) (Adapter, error)

// Info is the read-only view returned by ListAdapters.
type Info struct {
	ID              string   `json:"id"`
	DisplayName     string   `json:"displayName"`
	SubjectPrefixes []string `json:"subjectPrefixes"`
	Status          Status   `json:"status"`
	Enabled         bool     `json:"enabled"`
	Error           string   `json:"error,omitempty"`
}

type entry struct {
	adapter Adapter
	status  Status
	enabled bool
	errText string
	rawCfg  json.RawMessage
}

// Registry tracks adapter lifecycle state and reconciles it against an
// on-disk config file (spec §6.2, `{data}/relay/adapters.json`).
type Registry struct {
	configPath string
	factories  map[string]Factory
	logger     *slog.Logger

	mu      sync.RWMutex
	entries map[string]*entry
}

// fileConfig is the on-disk shape of adapters.json: adapter ID → {enabled, config}.
type fileConfig struct {
	Adapters map[string]struct {
		Enabled bool            `json:"enabled"`
		Config  json.RawMessage `json:"config"`
	} `json:"adapters"`
}

// New creates a Registry. factories maps adapter ID (e.g. "discord",
// "telegram") to a constructor; the registry itself holds no adapter-specific
// knowledge (spec §9, "no implicit singletons").
func New(configPath string, factories map[string]Factory, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		configPath: configPath,
		factories:  factories,
		logger:     logger,
		entries:    make(map[string]*entry),
	}
}

// ListAdapters returns all known adapters with their current status.
func (r *Registry) ListAdapters() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Info, 0, len(r.entries))
	for id, e := range r.entries {
		out = append(out, Info{
			ID:              id,
			DisplayName:     e.adapter.DisplayName(),
			SubjectPrefixes: e.adapter.SubjectPrefixes(),
			Status:          e.status,
			Enabled:         e.enabled,
			Error:           e.errText,
		})
	}
	return out
}

// Enable persists the enabled flag and transitions the adapter through
// starting → connected (or error). Idempotent: calling Enable on an already
// connected adapter is a no-op besides re-persisting the flag.
func (r *Registry) Enable(ctx context.Context, id string) error {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("adapter %q not registered", id)
	}
	e.enabled = true
	if e.status == StatusConnected {
		r.mu.Unlock()
		if err := r.persist(); err != nil {
			r.logger.Warn("adapter.enable persist failed", "id", id, "error", err)
		}
		return nil
	}
	e.status = StatusStarting
	r.mu.Unlock()

	if err := r.persist(); err != nil {
		r.logger.Warn("adapter.enable persist failed", "id", id, "error", err)
	}

	startCtx, cancel := context.WithTimeout(ctx, StartTimeout)
	defer cancel()
	err := e.adapter.Start(startCtx)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		e.status = StatusError
		e.errText = err.Error()
		r.logger.Error("adapter start failed", "id", id, "error", err)
		return err
	}
	e.status = StatusConnected
	e.errText = ""
	return nil
}

// Disable safely transitions the adapter to disconnected from any state.
func (r *Registry) Disable(ctx context.Context, id string) error {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("adapter %q not registered", id)
	}
	e.enabled = false
	r.mu.Unlock()

	err := e.adapter.Stop(ctx)

	r.mu.Lock()
	e.status = StatusDisconnected
	r.mu.Unlock()

	if perr := r.persist(); perr != nil {
		r.logger.Warn("adapter.disable persist failed", "id", id, "error", perr)
	}
	return err
}

// register adds an adapter instance to the registry without starting it
// (used at startup after reading the config file, and by Reload).
func (r *Registry) register(id string, a Adapter, enabled bool, rawCfg json.RawMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	status := StatusDisabled
	if enabled {
		status = StatusDisconnected
	}
	r.entries[id] = &entry{adapter: a, status: status, enabled: enabled, rawCfg: rawCfg}
}

// Reload re-reads the adapter config file and reconciles: starts
// enabled-but-stopped adapters, stops disabled-but-running adapters, and
// recreates adapters whose config changed. Individual adapter failures are
// logged and do not abort the reload (spec §4.7, "must not throw").
func (r *Registry) Reload(ctx context.Context) error {
	cfg, err := r.readConfigFile()
	if err != nil {
		return fmt.Errorf("reload: %w", err)
	}

	for id, fc := range cfg.Adapters {
		r.mu.Lock()
		e, known := r.entries[id]
		r.mu.Unlock()

		if !known {
			factory, ok := r.factories[id]
			if !ok {
				r.logger.Warn("reload: no factory for adapter", "id", id)
				continue
			}
			a, err := factory(id)
			if err != nil {
				r.logger.Error("reload: construct adapter failed", "id", id, "error", err)
				continue
			}
			if err := a.Configure(fc.Config); err != nil {
				r.logger.Error("reload: configure adapter failed", "id", id, "error", err)
				continue
			}
			r.register(id, a, false, fc.Config)
			r.mu.Lock()
			e = r.entries[id]
			r.mu.Unlock()
		} else if configChanged(e.rawCfg, fc.Config) {
			factory, ok := r.factories[id]
			if ok {
				if fresh, err := factory(id); err == nil {
					if err := fresh.Configure(fc.Config); err == nil {
						_ = e.adapter.Stop(ctx)
						r.mu.Lock()
						e.adapter = fresh
						e.rawCfg = fc.Config
						e.status = StatusDisconnected
						r.mu.Unlock()
					}
				}
			}
		}

		switch {
		case fc.Enabled && e.status != StatusConnected && e.status != StatusStarting:
			if err := r.Enable(ctx, id); err != nil {
				r.logger.Warn("reload: enable failed", "id", id, "error", err)
			}
		case !fc.Enabled && (e.status == StatusConnected || e.status == StatusStarting):
			if err := r.Disable(ctx, id); err != nil {
				r.logger.Warn("reload: disable failed", "id", id, "error", err)
			}
		}
	}
	return nil
}

func configChanged(a, b json.RawMessage) bool {
	return string(a) != string(b)
}

func (r *Registry) readConfigFile() (fileConfig, error) {
	var cfg fileConfig
	data, err := os.ReadFile(r.configPath)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", r.configPath, err)
	}
	return cfg, nil
}

// persist writes the current enabled-flag state back to the config file,
// atomically (write-temp then rename, spec §5).
func (r *Registry) persist() error {
	r.mu.RLock()
	cfg := fileConfig{Adapters: make(map[string]struct {
		Enabled bool            `json:"enabled"`
		Config  json.RawMessage `json:"config"`
	})}
	for id, e := range r.entries {
		cfg.Adapters[id] = struct {
			Enabled bool            `json:"enabled"`
			Config  json.RawMessage `json:"config"`
		}{Enabled: e.enabled, Config: e.rawCfg}
	}
	r.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	tmp := r.configPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, r.configPath)
}

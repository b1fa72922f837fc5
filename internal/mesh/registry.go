package mesh

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dorkos/dorkos/internal/boundary"
	"github.com/dorkos/dorkos/internal/idgen"
	"github.com/dorkos/dorkos/internal/relay"
	"github.com/dorkos/dorkos/internal/sqlitestore"
	"github.com/dorkos/dorkos/internal/substrate"
)

const schema = `
CREATE TABLE IF NOT EXISTS manifests (
	id            TEXT PRIMARY KEY,
	display_name  TEXT NOT NULL,
	description   TEXT,
	runtime       TEXT NOT NULL,
	capabilities  TEXT,
	behavior      TEXT,
	budget        TEXT,
	persona       TEXT,
	registered_at INTEGER NOT NULL,
	registered_by TEXT,
	project_path  TEXT NOT NULL UNIQUE,
	scan_root     TEXT,
	icon          TEXT,
	color         TEXT,
	last_seen_at  INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS denials (
	path      TEXT PRIMARY KEY,
	strategy  TEXT,
	reason    TEXT,
	timestamp INTEGER NOT NULL,
	denier    TEXT
);
CREATE TABLE IF NOT EXISTS events (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	kind        TEXT NOT NULL,
	manifest_id TEXT NOT NULL,
	timestamp   INTEGER NOT NULL,
	detail      TEXT
);
CREATE TABLE IF NOT EXISTS access_rules (
	id     INTEGER PRIMARY KEY AUTOINCREMENT,
	from_ns TEXT NOT NULL,
	to_ns   TEXT NOT NULL,
	action  TEXT NOT NULL,
	reason  TEXT
);
`

// dotConfigDirName is the well-known subdirectory of a project path the
// manifest file is written into (spec §3 invariant 2).
const dotConfigDirName = ".dorkos"

// EndpointManager creates a Relay endpoint for a manifest on registration and
// removes it on unregistration (spec §3 invariant 3, §4.10 "register").
// Kept as a minimal interface (rather than importing *relay.Bus directly)
// so Registry can be unit-tested without a live Bus.
type EndpointManager interface {
	RegisterEndpoint(subject string, metadata map[string]any) (*relay.Endpoint, error)
	Unregister(id string)
}

// Registry is the durable Mesh Registry (spec §4.10).
type Registry struct {
	db       *sql.DB
	guard    *boundary.Guard
	ids      *idgen.Service
	relay    EndpointManager // nil disables Relay endpoint management
	logger   *slog.Logger

	mu        sync.Mutex
	endpoints map[string]string // manifest ID -> relay endpoint ID
}

// Open opens (creating if absent) the Mesh registry database at path.
func Open(path string, guard *boundary.Guard, ids *idgen.Service, relayMgr EndpointManager, logger *slog.Logger) (*Registry, error) {
	db, err := sqlitestore.Open(path, schema)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{db: db, guard: guard, ids: ids, relay: relayMgr, logger: logger, endpoints: map[string]string{}}, nil
}

// Close closes the underlying database.
func (r *Registry) Close() error { return r.db.Close() }

// RegisterOptions overrides the inferred candidate hints at registration time.
type RegisterOptions struct {
	DisplayName  string
	Description  string
	Runtime      RuntimeLabel
	Capabilities []string
	Behavior     Behavior
	Budget       Budget
	Persona      Persona
	ScanRoot     string
}

// Register validates candidatePath is within the boundary, builds a manifest
// from overrides, atomically writes the on-disk manifest file, inserts it
// into the registry, emits a `registered` event, and (if Relay is wired)
// creates a `mesh.agent.{id}` endpoint.
func (r *Registry) Register(candidatePath string, opts RegisterOptions, approver string) (Manifest, error) {
	resolved, err := r.guard.Validate("", candidatePath)
	if err != nil {
		return Manifest{}, err
	}

	now := time.Now()
	m := Manifest{
		ID:           r.ids.NewString(),
		DisplayName:  opts.DisplayName,
		Description:  opts.Description,
		Runtime:      opts.Runtime,
		Capabilities: opts.Capabilities,
		Behavior:     opts.Behavior,
		Budget:       opts.Budget,
		Persona:      opts.Persona,
		RegisteredAt: now,
		RegisteredBy: approver,
		ProjectPath:  resolved,
		ScanRoot:     opts.ScanRoot,
		LastSeenAt:   now,
	}
	if m.DisplayName == "" {
		m.DisplayName = filepath.Base(resolved)
	}
	if m.Runtime == "" {
		m.Runtime = RuntimeOther
	}

	if err := writeManifestFile(resolved, m); err != nil {
		return Manifest{}, substrate.New(substrate.CodeInternal, "write manifest file: %v", err)
	}

	if err := r.insert(m); err != nil {
		return Manifest{}, err
	}
	r.emit(Event{Kind: EventRegistered, ManifestID: m.ID, Timestamp: now})

	if r.relay != nil {
		ep, err := r.relay.RegisterEndpoint(fmt.Sprintf("mesh.agent.%s", m.ID), map[string]any{"manifestId": m.ID})
		if err != nil {
			r.logger.Warn("mesh: create relay endpoint failed", "manifestId", m.ID, "error", err)
		} else {
			r.mu.Lock()
			r.endpoints[m.ID] = ep.ID
			r.mu.Unlock()
		}
	}

	return m, nil
}

// RegisterByPath is a short-circuit for registering a path with no prior
// discovery step, inferring display name/runtime from the path itself.
func (r *Registry) RegisterByPath(path string, overrides RegisterOptions, approver string) (Manifest, error) {
	return r.Register(path, overrides, approver)
}

func writeManifestFile(projectPath string, m Manifest) error {
	dir := filepath.Join(projectPath, dotConfigDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	target := filepath.Join(dir, "agent.json")
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, target)
}

func (r *Registry) insert(m Manifest) error {
	caps, _ := json.Marshal(m.Capabilities)
	behavior, _ := json.Marshal(m.Behavior)
	budget, _ := json.Marshal(m.Budget)
	persona, _ := json.Marshal(m.Persona)

	_, err := r.db.Exec(
		`INSERT INTO manifests (id, display_name, description, runtime, capabilities, behavior, budget, persona, registered_at, registered_by, project_path, scan_root, icon, color, last_seen_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.DisplayName, m.Description, string(m.Runtime), string(caps), string(behavior), string(budget), string(persona),
		m.RegisteredAt.UnixMilli(), m.RegisteredBy, m.ProjectPath, m.ScanRoot, m.Icon, m.Color, m.LastSeenAt.UnixMilli(),
	)
	return err
}

// ListOptions filters List.
type ListOptions struct {
	Runtime         RuntimeLabel
	Capability      string
	CallerNamespace string
}

// List returns manifests matching the given filters, additionally filtered
// by the access-rule graph when CallerNamespace is set.
func (r *Registry) List(opts ListOptions) ([]Manifest, error) {
	all, err := r.scanAll(`SELECT id, display_name, description, runtime, capabilities, behavior, budget, persona, registered_at, registered_by, project_path, scan_root, icon, color, last_seen_at FROM manifests`)
	if err != nil {
		return nil, err
	}

	var out []Manifest
	for _, m := range all {
		if opts.Runtime != "" && m.Runtime != opts.Runtime {
			continue
		}
		if opts.Capability != "" && !containsStr(m.Capabilities, opts.Capability) {
			continue
		}
		if opts.CallerNamespace != "" {
			rules, err := r.AccessRules()
			if err != nil {
				return nil, err
			}
			if !Visible(opts.CallerNamespace, m.Namespace(), rules) {
				continue
			}
		}
		out = append(out, m)
	}
	return out, nil
}

func containsStr(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Get returns the manifest with the given ID.
func (r *Registry) Get(id string) (Manifest, bool, error) {
	return r.scanOne(`SELECT id, display_name, description, runtime, capabilities, behavior, budget, persona, registered_at, registered_by, project_path, scan_root, icon, color, last_seen_at FROM manifests WHERE id = ?`, id)
}

// GetByPath returns the manifest anchored at the given project path.
func (r *Registry) GetByPath(path string) (Manifest, bool, error) {
	return r.scanOne(`SELECT id, display_name, description, runtime, capabilities, behavior, budget, persona, registered_at, registered_by, project_path, scan_root, icon, color, last_seen_at FROM manifests WHERE project_path = ?`, path)
}

// Unregister removes the on-disk manifest file, the registry row, the Relay
// endpoint (if any), and emits a `deregistered` event.
func (r *Registry) Unregister(id string) error {
	m, ok, err := r.Get(id)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	manifestPath := filepath.Join(m.ProjectPath, dotConfigDirName, "agent.json")
	_ = os.Remove(manifestPath)

	if _, err := r.db.Exec(`DELETE FROM manifests WHERE id = ?`, id); err != nil {
		return err
	}

	r.mu.Lock()
	epID, hadEp := r.endpoints[id]
	delete(r.endpoints, id)
	r.mu.Unlock()
	if hadEp && r.relay != nil {
		r.relay.Unregister(epID)
	}

	r.emit(Event{Kind: EventDeregistered, ManifestID: id, Timestamp: time.Now()})
	return nil
}

// Deny records a denial, excluding path from future discovery results.
func (r *Registry) Deny(path, strategy, reason, denier string) error {
	_, err := r.db.Exec(
		`INSERT OR REPLACE INTO denials (path, strategy, reason, timestamp, denier) VALUES (?, ?, ?, ?, ?)`,
		path, strategy, reason, time.Now().UnixMilli(), denier,
	)
	return err
}

// Undeny clears a denial record for path.
func (r *Registry) Undeny(path string) error {
	_, err := r.db.Exec(`DELETE FROM denials WHERE path = ?`, path)
	return err
}

// IsDenied reports whether path is currently denied.
func (r *Registry) IsDenied(path string) bool {
	var n int
	_ = r.db.QueryRow(`SELECT COUNT(*) FROM denials WHERE path = ?`, path).Scan(&n)
	return n > 0
}

// IsRegistered reports whether path already has a manifest.
func (r *Registry) IsRegistered(path string) bool {
	_, ok, _ := r.GetByPath(path)
	return ok
}

// ManifestLookup backs the discovery "manifest" strategy: an
// already-registered manifest at dir is auto-importable.
func (r *Registry) ManifestLookup(dir string) (DiscoveryHints, bool) {
	m, ok, err := r.GetByPath(dir)
	if err != nil || !ok {
		return DiscoveryHints{}, false
	}
	return DiscoveryHints{SuggestedName: m.DisplayName, DetectedRuntime: m.Runtime, Description: m.Description}, true
}

// Heartbeat updates a manifest's last-seen timestamp and emits a heartbeat
// event.
func (r *Registry) Heartbeat(id string) error {
	_, err := r.db.Exec(`UPDATE manifests SET last_seen_at = ? WHERE id = ?`, time.Now().UnixMilli(), id)
	if err != nil {
		return err
	}
	r.emit(Event{Kind: EventHeartbeat, ManifestID: id, Timestamp: time.Now()})
	return nil
}

// AccessRules returns all stored access rules.
func (r *Registry) AccessRules() ([]AccessRule, error) {
	rows, err := r.db.Query(`SELECT from_ns, to_ns, action, reason FROM access_rules`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AccessRule
	for rows.Next() {
		var ar AccessRule
		var reason sql.NullString
		if err := rows.Scan(&ar.From, &ar.To, &ar.Action, &reason); err != nil {
			return nil, err
		}
		ar.Reason = reason.String
		out = append(out, ar)
	}
	return out, rows.Err()
}

// AddAccessRule inserts a new access rule.
func (r *Registry) AddAccessRule(rule AccessRule) error {
	_, err := r.db.Exec(`INSERT INTO access_rules (from_ns, to_ns, action, reason) VALUES (?, ?, ?, ?)`,
		rule.From, rule.To, rule.Action, rule.Reason)
	return err
}

func (r *Registry) emit(e Event) {
	detail := string(e.Kind)
	_, err := r.db.Exec(`INSERT INTO events (kind, manifest_id, timestamp, detail) VALUES (?, ?, ?, ?)`,
		string(e.Kind), e.ManifestID, e.Timestamp.UnixMilli(), detail)
	if err != nil {
		r.logger.Warn("mesh: emit event failed", "kind", e.Kind, "error", err)
	}
}

func (r *Registry) scanAll(query string, args ...any) ([]Manifest, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Manifest
	for rows.Next() {
		m, err := scanManifestRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *Registry) scanOne(query string, arg string) (Manifest, bool, error) {
	row := r.db.QueryRow(query, arg)
	m, err := scanManifestRow(row)
	if err == sql.ErrNoRows {
		return Manifest{}, false, nil
	}
	if err != nil {
		return Manifest{}, false, err
	}
	return m, true, nil
}

type manifestScanner interface {
	Scan(dest ...any) error
}

func scanManifestRow(s manifestScanner) (Manifest, error) {
	var m Manifest
	var description, registeredBy, scanRoot, icon, color sql.NullString
	var runtime, capsJSON, behaviorJSON, budgetJSON, personaJSON string
	var registeredAtMs, lastSeenAtMs int64

	if err := s.Scan(&m.ID, &m.DisplayName, &description, &runtime, &capsJSON, &behaviorJSON, &budgetJSON, &personaJSON,
		&registeredAtMs, &registeredBy, &m.ProjectPath, &scanRoot, &icon, &color, &lastSeenAtMs); err != nil {
		return Manifest{}, err
	}

	m.Description = description.String
	m.Runtime = RuntimeLabel(runtime)
	m.RegisteredBy = registeredBy.String
	m.ScanRoot = scanRoot.String
	m.Icon = icon.String
	m.Color = color.String
	m.RegisteredAt = time.UnixMilli(registeredAtMs)
	m.LastSeenAt = time.UnixMilli(lastSeenAtMs)
	_ = json.Unmarshal([]byte(capsJSON), &m.Capabilities)
	_ = json.Unmarshal([]byte(behaviorJSON), &m.Behavior)
	_ = json.Unmarshal([]byte(budgetJSON), &m.Budget)
	_ = json.Unmarshal([]byte(personaJSON), &m.Persona)
	return m, nil
}

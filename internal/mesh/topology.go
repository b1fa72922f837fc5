package mesh

import (
	"strings"
	"time"
)

// EnrichedAgent is a manifest joined with cross-subsystem status for a
// Topology View (spec §4.10).
type EnrichedAgent struct {
	Manifest        Manifest `json:"manifest"`
	Health          Health   `json:"health"`
	BoundAdapterIDs []string `json:"boundAdapterIds"`
	BoundSubject    string   `json:"boundSubject"`
	PulseScheduleCount int   `json:"pulseScheduleCount"`
	LastSeenAt      string   `json:"lastSeenAt"`
}

// NamespaceView groups enriched agents under one namespace.
type NamespaceView struct {
	Name   string          `json:"name"`
	Color  string          `json:"color"`
	Agents []EnrichedAgent `json:"agents"`
}

// Topology is the full namespace-scoped view returned by GetTopology.
type Topology struct {
	Namespaces  []NamespaceView `json:"namespaces"`
	AccessRules []AccessRule    `json:"accessRules"`
}

// BindingLookup resolves the bound adapter IDs for a manifest's project path
// (spec §4.10 enrichment step 3); GetTopology derives the bound subject itself. Enrichment failures return
// safe defaults rather than failing the call.
type BindingLookup interface {
	BoundAdapterIDs(agentWorkingDir string) []string
}

// PulseScheduleCounter counts Pulse schedules targeting a working directory.
type PulseScheduleCounter interface {
	CountSchedulesForDir(workingDir string) int
}

// GetTopology builds the namespace-scoped view for namespace (spec §4.10).
// bindings/pulse may be nil, in which case their enrichment fields default to
// zero values rather than failing the call (spec: "Enrichment steps that
// depend on absent subsystems... return safe defaults").
func (r *Registry) GetTopology(namespace string, bindings BindingLookup, pulse PulseScheduleCounter) (Topology, error) {
	if namespace == "" {
		namespace = "*"
	}

	all, err := r.scanAll(`SELECT id, display_name, description, runtime, capabilities, behavior, budget, persona, registered_at, registered_by, project_path, scan_root, icon, color, last_seen_at FROM manifests`)
	if err != nil {
		return Topology{}, err
	}
	rules, err := r.AccessRules()
	if err != nil {
		return Topology{}, err
	}

	byNamespace := map[string][]Manifest{}
	for _, m := range all {
		ns := m.Namespace()
		if namespace != "*" && !Visible(namespace, ns, rules) {
			continue
		}
		byNamespace[ns] = append(byNamespace[ns], m)
	}

	var views []NamespaceView
	for ns, manifests := range byNamespace {
		var agents []EnrichedAgent
		for _, m := range manifests {
			ea := EnrichedAgent{
				Manifest:     m,
				Health:       DeriveHealth(m.LastSeenAt, time.Now()),
				BoundSubject: "mesh.agent." + m.ID,
				LastSeenAt:   m.LastSeenAt.Format("2006-01-02T15:04:05Z07:00"),
			}
			if bindings != nil {
				ea.BoundAdapterIDs = bindings.BoundAdapterIDs(m.ProjectPath)
			}
			if pulse != nil {
				ea.PulseScheduleCount = pulse.CountSchedulesForDir(m.ProjectPath)
			}
			agents = append(agents, ea)
		}
		views = append(views, NamespaceView{Name: ns, Agents: agents})
	}

	return Topology{Namespaces: views, AccessRules: rules}, nil
}

// Visible evaluates deny-first access-rule matching between two namespace
// expressions (spec §4.10 "Access rules"): if any deny rule matches, access
// is denied; otherwise any allow rule permits; absent rules default to allow
// within the same namespace and deny across namespaces.
func Visible(from, to string, rules []AccessRule) bool {
	denied := false
	allowed := false
	for _, r := range rules {
		if !nsMatch(r.From, from) || !nsMatch(r.To, to) {
			continue
		}
		if r.Action == "deny" {
			denied = true
		}
		if r.Action == "allow" {
			allowed = true
		}
	}
	if denied {
		return false
	}
	if allowed {
		return true
	}
	return from == to
}

// nsMatch supports Relay-style wildcards ("*" matches any single namespace
// token) for namespace expressions.
func nsMatch(pattern, value string) bool {
	if pattern == "*" || pattern == value {
		return true
	}
	return strings.EqualFold(pattern, value)
}

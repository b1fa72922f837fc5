package agentmgr

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"
)

// GitStatus is the shape an external git-status collector returns (spec
// §4.4.3's <git_status> block). IsRepo false renders the block as
// "is git repo: false" regardless of the other fields.
type GitStatus struct {
	IsRepo   bool
	Branch   string
	Ahead    int
	Behind   int
	Dirty    int
	Detached bool
}

// GitStatusCollector is the external collaborator that inspects cwd's git
// state. A collector error renders as "is git repo: false" per spec.
type GitStatusCollector interface {
	Status(cwd string) (GitStatus, error)
}

// AgentIdentity is the subset of a Mesh manifest the system prompt needs.
type AgentIdentity struct {
	DisplayName    string
	Description    string
	PersonaEnabled bool
	PersonaText    string
}

// IdentityReader reads the Mesh manifest anchored at cwd, if one exists. A
// lookup failure is swallowed by the caller, not by the reader.
type IdentityReader interface {
	ReadIdentity(cwd string) (AgentIdentity, bool, error)
}

// contextConfig names the fields baked into the <env> block that don't vary
// per-call (product name, version, port). The platform label is not stored
// here; it comes from runtime.GOOS.
type contextConfig struct {
	ProductName string
	Version     string
	Port        int
}

// buildSystemPromptSuffix assembles the <env>, <git_status>, and
// agent-identity/persona blocks described in spec §4.4.3, then appends the
// caller-supplied suffix with a blank-line separator.
func buildSystemPromptSuffix(cfg contextConfig, cwd string, git GitStatusCollector, identity IdentityReader, callerSuffix string) string {
	var b strings.Builder

	b.WriteString("<env>\n")
	fmt.Fprintf(&b, "working_dir: %s\n", cwd)
	fmt.Fprintf(&b, "product: %s\n", cfg.ProductName)
	fmt.Fprintf(&b, "version: %s\n", cfg.Version)
	fmt.Fprintf(&b, "port: %d\n", cfg.Port)
	fmt.Fprintf(&b, "platform: %s\n", runtime.GOOS)
	fmt.Fprintf(&b, "os_version: %s\n", osVersion())
	fmt.Fprintf(&b, "node_runtime: %s\n", "dorkos-go")
	fmt.Fprintf(&b, "hostname: %s\n", hostname())
	fmt.Fprintf(&b, "timestamp_utc: %s\n", time.Now().UTC().Format(time.RFC3339))
	b.WriteString("</env>\n\n")

	b.WriteString("<git_status>\n")
	if git == nil {
		b.WriteString("is git repo: false\n")
	} else if status, err := git.Status(cwd); err != nil || !status.IsRepo {
		b.WriteString("is git repo: false\n")
	} else {
		fmt.Fprintf(&b, "is git repo: true\n")
		fmt.Fprintf(&b, "branch: %s\n", status.Branch)
		fmt.Fprintf(&b, "ahead: %d\n", status.Ahead)
		fmt.Fprintf(&b, "behind: %d\n", status.Behind)
		fmt.Fprintf(&b, "dirty: %d\n", status.Dirty)
		fmt.Fprintf(&b, "detached: %t\n", status.Detached)
	}
	b.WriteString("</git_status>")

	if identity != nil {
		if id, ok, err := identity.ReadIdentity(cwd); err == nil && ok {
			b.WriteString("\n\n<agent_identity>\n")
			fmt.Fprintf(&b, "name: %s\n", id.DisplayName)
			fmt.Fprintf(&b, "description: %s\n", id.Description)
			b.WriteString("</agent_identity>")

			if id.PersonaEnabled && id.PersonaText != "" {
				b.WriteString("\n\n<agent_persona>\n")
				b.WriteString(id.PersonaText)
				b.WriteString("\n</agent_persona>")
			}
		}
	}

	if callerSuffix != "" {
		b.WriteString("\n\n")
		b.WriteString(callerSuffix)
	}

	return b.String()
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}

func osVersion() string {
	return runtime.GOOS + "/" + runtime.GOARCH
}

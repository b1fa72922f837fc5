package mcptools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dorkos/dorkos/internal/agentmgr"
)

// SessionCounter is the subset of *agentmgr.Manager the core contributor
// needs.
type SessionCounter interface {
	SessionCount() int
}

// CoreContributor exposes the always-on core tool set: ping,
// get_server_info, get_session_count, get_current_agent (spec §4.5 "Core").
type CoreContributor struct {
	ProductName string
	Version     string
	DefaultCwd  string

	Sessions SessionCounter
	Identity agentmgr.IdentityReader
}

var _ ToolContributor = (*CoreContributor)(nil)

func (c *CoreContributor) Tools() []ToolSpec {
	specs := []ToolSpec{
		{
			Name:        "ping",
			Description: "Health check; returns pong.",
			Handler: func(ctx context.Context, args map[string]any) (string, bool) {
				return "pong", false
			},
		},
		{
			Name:        "get_server_info",
			Description: "Returns the product name and version of the running server.",
			Handler: func(ctx context.Context, args map[string]any) (string, bool) {
				return marshalOrError(map[string]any{
					"name":    c.ProductName,
					"version": c.Version,
				})
			},
		},
	}

	if c.Sessions != nil {
		specs = append(specs, ToolSpec{
			Name:        "get_session_count",
			Description: "Returns the number of live Agent Manager sessions.",
			Handler: func(ctx context.Context, args map[string]any) (string, bool) {
				return marshalOrError(map[string]any{"count": c.Sessions.SessionCount()})
			},
		})
	}

	if c.Identity != nil {
		specs = append(specs, ToolSpec{
			Name:        "get_current_agent",
			Description: "Reads the Mesh manifest anchored at the default working directory, if any.",
			Handler: func(ctx context.Context, args map[string]any) (string, bool) {
				id, ok, err := c.Identity.ReadIdentity(c.DefaultCwd)
				if err != nil {
					return fmt.Sprintf("failed to read agent identity: %v", err), true
				}
				if !ok {
					return "no agent manifest found at the default working directory", false
				}
				return marshalOrError(map[string]any{
					"displayName": id.DisplayName,
					"description": id.Description,
					"persona":     id.PersonaEnabled,
				})
			},
		})
	}

	return specs
}

func marshalOrError(v any) (string, bool) {
	b, err := json.Marshal(v)
	if err != nil {
		return err.Error(), true
	}
	return string(b), false
}

package mcptools

import (
	"context"
	"time"

	"github.com/dorkos/dorkos/internal/mesh"
)

// MeshContributor exposes spec §7 "Mesh": discover, register, list, deny,
// unregister, status, inspect, query_topology.
type MeshContributor struct {
	Registry *mesh.Registry
	Roots    []string
}

var _ ToolContributor = (*MeshContributor)(nil)

func (c *MeshContributor) Tools() []ToolSpec {
	if c.Registry == nil {
		return nil
	}
	return []ToolSpec{
		{
			Name:        "discover",
			Description: "Scan configured roots for unregistered agent projects.",
			Handler: func(ctx context.Context, args map[string]any) (string, bool) {
				candidates := mesh.Discover(c.Roots, mesh.DiscoverOptions{}, c.Registry.ManifestLookup, c.Registry.IsDenied, c.Registry.IsRegistered)
				return marshalOrError(candidates)
			},
		},
		{
			Name:        "register",
			Description: "Register an agent project at the given path.",
			SchemaJSON: []byte(`{
				"type": "object",
				"properties": {
					"path": {"type": "string"},
					"displayName": {"type": "string"},
					"description": {"type": "string"}
				},
				"required": ["path"]
			}`),
			Handler: func(ctx context.Context, args map[string]any) (string, bool) {
				path := strArg(args, "path")
				opts := mesh.RegisterOptions{DisplayName: strArg(args, "displayName"), Description: strArg(args, "description")}
				m, err := c.Registry.Register(path, opts, "mcp")
				if err != nil {
					return err.Error(), true
				}
				return marshalOrError(m)
			},
		},
		{
			Name:        "list",
			Description: "List registered agent manifests.",
			Handler: func(ctx context.Context, args map[string]any) (string, bool) {
				all, err := c.Registry.List(mesh.ListOptions{})
				if err != nil {
					return err.Error(), true
				}
				return marshalOrError(all)
			},
		},
		{
			Name:        "deny",
			Description: "Mark a path as denied so it's excluded from future discovery.",
			SchemaJSON:  []byte(`{"type":"object","properties":{"path":{"type":"string"},"reason":{"type":"string"}},"required":["path"]}`),
			Handler: func(ctx context.Context, args map[string]any) (string, bool) {
				if err := c.Registry.Deny(strArg(args, "path"), "manual", strArg(args, "reason"), "mcp"); err != nil {
					return err.Error(), true
				}
				return "denied", false
			},
		},
		{
			Name:        "unregister",
			Description: "Remove a registered agent manifest by ID.",
			SchemaJSON:  []byte(`{"type":"object","properties":{"id":{"type":"string"}},"required":["id"]}`),
			Handler: func(ctx context.Context, args map[string]any) (string, bool) {
				if err := c.Registry.Unregister(strArg(args, "id")); err != nil {
					return err.Error(), true
				}
				return "unregistered", false
			},
		},
		{
			Name:        "status",
			Description: "Return a manifest's derived health and last-seen timestamp.",
			SchemaJSON:  []byte(`{"type":"object","properties":{"id":{"type":"string"}},"required":["id"]}`),
			Handler: func(ctx context.Context, args map[string]any) (string, bool) {
				m, ok, err := c.Registry.Get(strArg(args, "id"))
				if err != nil {
					return err.Error(), true
				}
				if !ok {
					return "manifest not found", true
				}
				return marshalOrError(map[string]any{
					"health":     mesh.DeriveHealth(m.LastSeenAt, time.Now()),
					"lastSeenAt": m.LastSeenAt,
				})
			},
		},
		{
			Name:        "inspect",
			Description: "Return the full manifest for an agent ID.",
			SchemaJSON:  []byte(`{"type":"object","properties":{"id":{"type":"string"}},"required":["id"]}`),
			Handler: func(ctx context.Context, args map[string]any) (string, bool) {
				m, ok, err := c.Registry.Get(strArg(args, "id"))
				if err != nil {
					return err.Error(), true
				}
				if !ok {
					return "manifest not found", true
				}
				return marshalOrError(m)
			},
		},
		{
			Name:        "query_topology",
			Description: "Return the namespace-scoped topology view.",
			SchemaJSON:  []byte(`{"type":"object","properties":{"namespace":{"type":"string"}}}`),
			Handler: func(ctx context.Context, args map[string]any) (string, bool) {
				topo, err := c.Registry.GetTopology(strArg(args, "namespace"), nil, nil)
				if err != nil {
					return err.Error(), true
				}
				return marshalOrError(topo)
			},
		},
	}
}

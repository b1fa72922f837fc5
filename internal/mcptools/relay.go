package mcptools

import (
	"context"
	"fmt"

	"github.com/dorkos/dorkos/internal/relay"
	"github.com/dorkos/dorkos/internal/relay/adapter"
	"github.com/dorkos/dorkos/internal/relaytrace"
)

// RelayContributor exposes the Relay message-bus operations spec §7 names
// under "Relay": send, inbox, list_endpoints, register_endpoint, get_trace,
// get_metrics.
type RelayContributor struct {
	Bus    *relay.Bus
	Traces *relaytrace.Store
}

var _ ToolContributor = (*RelayContributor)(nil)

func (c *RelayContributor) Tools() []ToolSpec {
	if c.Bus == nil {
		return nil
	}

	specs := []ToolSpec{
		{
			Name:        "send",
			Description: "Publish a message onto a Relay subject.",
			SchemaJSON: []byte(`{
				"type": "object",
				"properties": {
					"subject": {"type": "string"},
					"payload": {}
				},
				"required": ["subject"]
			}`),
			Handler: func(ctx context.Context, args map[string]any) (string, bool) {
				subject, _ := args["subject"].(string)
				res, err := c.Bus.Publish(subject, args["payload"], relay.PublishOptions{From: "mcp"})
				if err != nil {
					return err.Error(), true
				}
				return marshalOrError(map[string]any{
					"messageId":    res.MessageID,
					"deliveredTo":  res.DeliveredTo,
					"matchedCount": res.MatchedCount,
				})
			},
		},
		{
			Name:        "list_endpoints",
			Description: "List all durable Relay subscription endpoints.",
			Handler: func(ctx context.Context, args map[string]any) (string, bool) {
				eps := c.Bus.ListEndpoints()
				out := make([]map[string]any, 0, len(eps))
				for _, ep := range eps {
					out = append(out, map[string]any{"id": ep.ID, "pattern": ep.Pattern})
				}
				return marshalOrError(out)
			},
		},
		{
			Name:        "register_endpoint",
			Description: "Register a durable Relay endpoint for a concrete subject.",
			SchemaJSON: []byte(`{
				"type": "object",
				"properties": {"subject": {"type": "string"}},
				"required": ["subject"]
			}`),
			Handler: func(ctx context.Context, args map[string]any) (string, bool) {
				subject, _ := args["subject"].(string)
				ep, err := c.Bus.RegisterEndpoint(subject, nil)
				if err != nil {
					return err.Error(), true
				}
				return marshalOrError(map[string]any{"id": ep.ID, "pattern": ep.Pattern})
			},
		},
		{
			Name:        "inbox",
			Description: "Read a durable endpoint's inbox, cursor-paginated.",
			SchemaJSON: []byte(`{
				"type": "object",
				"properties": {
					"subject": {"type": "string"},
					"cursor": {"type": "integer"},
					"limit": {"type": "integer"}
				},
				"required": ["subject"]
			}`),
			Handler: func(ctx context.Context, args map[string]any) (string, bool) {
				subject, _ := args["subject"].(string)
				ep, ok := c.Bus.GetEndpoint(subject)
				if !ok || ep.Inbox == nil {
					return fmt.Sprintf("no durable endpoint registered for subject %q", subject), true
				}
				cursor := intArg(args, "cursor")
				limit := intArg(args, "limit")
				page := ep.Inbox.Read(relay.ReadOptions{Cursor: cursor, Limit: limit})
				return marshalOrError(map[string]any{
					"messages":   page.Messages,
					"nextCursor": page.NextCursor,
				})
			},
		},
	}

	if c.Traces != nil {
		specs = append(specs,
			ToolSpec{
				Name:        "get_trace",
				Description: "Return all spans for a trace ID, ordered by start time.",
				SchemaJSON: []byte(`{
					"type": "object",
					"properties": {"traceId": {"type": "string"}},
					"required": ["traceId"]
				}`),
				Handler: func(ctx context.Context, args map[string]any) (string, bool) {
					traceID, _ := args["traceId"].(string)
					spans, err := c.Traces.GetTrace(traceID)
					if err != nil {
						return err.Error(), true
					}
					return marshalOrError(spans)
				},
			},
			ToolSpec{
				Name:        "get_metrics",
				Description: "Aggregate Relay deliver-latency percentiles and dead-letter counts.",
				Handler: func(ctx context.Context, args map[string]any) (string, bool) {
					metrics, err := c.Traces.GetMetrics()
					if err != nil {
						return err.Error(), true
					}
					return marshalOrError(metrics)
				},
			},
		)
	}

	return specs
}

func intArg(args map[string]any, key string) int {
	v, ok := args[key]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}

// AdapterContributor exposes spec §7 "Adapters": list_adapters, enable,
// disable, reload.
type AdapterContributor struct {
	Registry *adapter.Registry
}

var _ ToolContributor = (*AdapterContributor)(nil)

func (c *AdapterContributor) Tools() []ToolSpec {
	if c.Registry == nil {
		return nil
	}
	return []ToolSpec{
		{
			Name:        "list_adapters",
			Description: "List all registered Relay adapters and their status.",
			Handler: func(ctx context.Context, args map[string]any) (string, bool) {
				return marshalOrError(c.Registry.ListAdapters())
			},
		},
		{
			Name:        "enable_adapter",
			Description: "Enable and connect an adapter by ID.",
			SchemaJSON:  []byte(`{"type":"object","properties":{"id":{"type":"string"}},"required":["id"]}`),
			Handler: func(ctx context.Context, args map[string]any) (string, bool) {
				id, _ := args["id"].(string)
				if err := c.Registry.Enable(ctx, id); err != nil {
					return err.Error(), true
				}
				return "enabled", false
			},
		},
		{
			Name:        "disable_adapter",
			Description: "Disable an adapter by ID.",
			SchemaJSON:  []byte(`{"type":"object","properties":{"id":{"type":"string"}},"required":["id"]}`),
			Handler: func(ctx context.Context, args map[string]any) (string, bool) {
				id, _ := args["id"].(string)
				if err := c.Registry.Disable(ctx, id); err != nil {
					return err.Error(), true
				}
				return "disabled", false
			},
		},
		{
			Name:        "reload_adapters",
			Description: "Re-read the adapters config file and reconcile running state.",
			Handler: func(ctx context.Context, args map[string]any) (string, bool) {
				if err := c.Registry.Reload(ctx); err != nil {
					return err.Error(), true
				}
				return "reloaded", false
			},
		},
	}
}

// BindingContributor exposes spec §7 "Bindings": list, create, delete.
type BindingContributor struct {
	Store *adapter.BindingStore
}

var _ ToolContributor = (*BindingContributor)(nil)

func (c *BindingContributor) Tools() []ToolSpec {
	if c.Store == nil {
		return nil
	}
	return []ToolSpec{
		{
			Name:        "list_bindings",
			Description: "List all Adapter-to-Agent bindings.",
			Handler: func(ctx context.Context, args map[string]any) (string, bool) {
				all, err := c.Store.GetAll()
				if err != nil {
					return err.Error(), true
				}
				return marshalOrError(all)
			},
		},
		{
			Name:        "create_binding",
			Description: "Create a new Adapter-to-Agent binding.",
			SchemaJSON: []byte(`{
				"type": "object",
				"properties": {
					"id": {"type": "string"},
					"adapterId": {"type": "string"},
					"agentId": {"type": "string"},
					"agentWorkingDirectory": {"type": "string"},
					"sessionStrategy": {"type": "string", "enum": ["stateless", "per-user", "per-chat"]},
					"chatIdFilter": {"type": "string"},
					"channelType": {"type": "string"},
					"label": {"type": "string"}
				},
				"required": ["id", "adapterId", "agentId", "agentWorkingDirectory", "sessionStrategy"]
			}`),
			Handler: func(ctx context.Context, args map[string]any) (string, bool) {
				b := adapter.Binding{
					ID:              strArg(args, "id"),
					AdapterID:       strArg(args, "adapterId"),
					AgentID:         strArg(args, "agentId"),
					AgentWorkingDir: strArg(args, "agentWorkingDirectory"),
					SessionStrategy: adapter.SessionStrategy(strArg(args, "sessionStrategy")),
					ChatIDFilter:    strArg(args, "chatIdFilter"),
					ChannelType:     strArg(args, "channelType"),
					Label:           strArg(args, "label"),
				}
				if err := c.Store.Create(b); err != nil {
					return err.Error(), true
				}
				return "created", false
			},
		},
		{
			Name:        "delete_binding",
			Description: "Delete a binding by ID. Idempotent.",
			SchemaJSON:  []byte(`{"type":"object","properties":{"id":{"type":"string"}},"required":["id"]}`),
			Handler: func(ctx context.Context, args map[string]any) (string, bool) {
				if err := c.Store.Delete(strArg(args, "id")); err != nil {
					return err.Error(), true
				}
				return "deleted", false
			},
		},
	}
}

func strArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

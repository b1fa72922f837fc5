// Package mcptools assembles one in-process mark3labs/mcp-go tool server per
// runtime query, built from every enabled subsystem's tool contributions
// (spec §4.5). The server instance is rebuilt on every sendMessage call
// because the runtime's tool transport is single-shot per query.
package mcptools

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Factory builds a fresh MCP server instance; the Agent Manager calls it
// once per sendMessage and passes the result as the {dorkos: server} MCP
// server map entry (spec §4.5).
type Factory func() *server.MCPServer

// ToolSpec describes one tool contribution: its MCP-visible name/description,
// a raw JSON schema for its arguments, and the handler that serves it.
// Handlers never panic or return a Go error for a business failure — they
// report it through the (content, isError) return per spec §4.5, matching
// the teacher's `tools.Result{ForLLM, IsError}` shape in
// internal/tools/result.go.
type ToolSpec struct {
	Name        string
	Description string
	SchemaJSON  []byte // JSON Schema object describing the arguments; nil means no arguments
	Handler     func(ctx context.Context, args map[string]any) (content string, isError bool)
}

// ToolContributor is implemented by each subsystem that wants to expose
// tools through the registry. A contributor whose backing service is absent
// (nil) returns zero tools — the dependency-injection gate spec §4.5
// requires ("subsystems whose optional services are absent contribute zero
// tools").
type ToolContributor interface {
	Tools() []ToolSpec
}

// Registry assembles an MCP server from a fixed list of contributors,
// established once at startup and re-rendered into a fresh *server.MCPServer
// on every BuildFactory-returned call.
type Registry struct {
	name         string
	version      string
	contributors []ToolContributor
	logger       *slog.Logger
}

// New builds a registry that reports name/version in the MCP server's
// initialize response.
func New(name, version string, logger *slog.Logger, contributors ...ToolContributor) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{name: name, version: version, contributors: contributors, logger: logger}
}

// BuildFactory returns the Factory the Agent Manager invokes per query.
func (r *Registry) BuildFactory() Factory {
	return func() *server.MCPServer {
		s := server.NewMCPServer(r.name, r.version)
		for _, c := range r.contributors {
			if c == nil {
				continue
			}
			for _, spec := range c.Tools() {
				r.register(s, spec)
			}
		}
		return s
	}
}

func (r *Registry) register(s *server.MCPServer, spec ToolSpec) {
	schema := spec.SchemaJSON
	if len(schema) == 0 {
		schema = []byte(`{"type":"object"}`)
	}

	var compiled *jsonschema.Schema
	if c, err := compileSchema(spec.Name, schema); err != nil {
		r.logger.Warn("mcptools.schema_compile_failed", "tool", spec.Name, "error", err)
	} else {
		compiled = c
	}

	tool := mcp.NewToolWithRawSchema(spec.Name, spec.Description, schema)
	handler := spec.Handler

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (result *mcp.CallToolResult, err error) {
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error("mcptools.tool_panic", "tool", spec.Name, "recovered", p)
				result = mcp.NewToolResultError("internal error")
				err = nil
			}
		}()

		args := req.GetArguments()
		if compiled != nil {
			if verr := compiled.Validate(map[string]any(args)); verr != nil {
				return mcp.NewToolResultError("invalid arguments: " + verr.Error()), nil
			}
		}

		content, isError := handler(ctx, args)
		if isError {
			return mcp.NewToolResultError(content), nil
		}
		return mcp.NewToolResultText(content), nil
	})
}

func compileSchema(name string, raw []byte) (*jsonschema.Schema, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	url := "mem://" + name + ".json"
	if err := c.AddResource(url, doc); err != nil {
		return nil, err
	}
	return c.Compile(url)
}

package mcptools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/dorkos/dorkos/internal/boundary"
	"github.com/dorkos/dorkos/internal/idgen"
	"github.com/dorkos/dorkos/internal/mesh"
)

func newTestMeshContributor(t *testing.T) (*MeshContributor, string) {
	t.Helper()
	root := t.TempDir()
	guard, err := boundary.NewGuard(root)
	if err != nil {
		t.Fatalf("NewGuard: %v", err)
	}
	reg, err := mesh.Open(filepath.Join(t.TempDir(), "mesh.db"), guard, idgen.New(nil), nil, nil)
	if err != nil {
		t.Fatalf("mesh.Open: %v", err)
	}
	t.Cleanup(func() { reg.Close() })
	return &MeshContributor{Registry: reg, Roots: []string{root}}, root
}

func TestMeshContributorGatesOnRegistry(t *testing.T) {
	c := &MeshContributor{}
	if tools := c.Tools(); tools != nil {
		t.Fatal("expected nil tools without a Registry")
	}
}

func TestMeshContributorRegisterListInspectUnregister(t *testing.T) {
	c, root := newTestMeshContributor(t)
	tools := c.Tools()

	projectDir := filepath.Join(root, "proj")
	if err := os.MkdirAll(projectDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	registerTool, ok := findTool(tools, "register")
	if !ok {
		t.Fatal("expected register tool")
	}
	content, isError := registerTool.Handler(context.Background(), map[string]any{
		"path": projectDir, "displayName": "scout",
	})
	if isError {
		t.Fatalf("unexpected error: %s", content)
	}
	var m mesh.Manifest
	if err := json.Unmarshal([]byte(content), &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m.DisplayName != "scout" {
		t.Fatalf("expected DisplayName scout, got %q", m.DisplayName)
	}

	listTool, _ := findTool(tools, "list")
	content, isError = listTool.Handler(context.Background(), nil)
	if isError {
		t.Fatalf("unexpected error: %s", content)
	}
	var all []mesh.Manifest
	if err := json.Unmarshal([]byte(content), &all); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 manifest, got %d", len(all))
	}

	inspectTool, _ := findTool(tools, "inspect")
	content, isError = inspectTool.Handler(context.Background(), map[string]any{"id": m.ID})
	if isError {
		t.Fatalf("unexpected error: %s", content)
	}

	statusTool, _ := findTool(tools, "status")
	content, isError = statusTool.Handler(context.Background(), map[string]any{"id": m.ID})
	if isError {
		t.Fatalf("unexpected error: %s", content)
	}

	topologyTool, _ := findTool(tools, "query_topology")
	content, isError = topologyTool.Handler(context.Background(), map[string]any{"namespace": "*"})
	if isError {
		t.Fatalf("unexpected error: %s", content)
	}

	unregisterTool, _ := findTool(tools, "unregister")
	content, isError = unregisterTool.Handler(context.Background(), map[string]any{"id": m.ID})
	if isError {
		t.Fatalf("unexpected error: %s", content)
	}

	content, isError = listTool.Handler(context.Background(), nil)
	if isError {
		t.Fatalf("unexpected error: %s", content)
	}
	all = nil
	if err := json.Unmarshal([]byte(content), &all); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("expected 0 manifests after unregister, got %d", len(all))
	}
}

func TestMeshContributorDenyAndDiscover(t *testing.T) {
	c, root := newTestMeshContributor(t)
	tools := c.Tools()

	projectDir := filepath.Join(root, "proj")
	if err := os.MkdirAll(projectDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(projectDir, "CLAUDE.md"), []byte("# hi"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	discoverTool, _ := findTool(tools, "discover")
	content, isError := discoverTool.Handler(context.Background(), nil)
	if isError {
		t.Fatalf("unexpected error: %s", content)
	}
	var candidates []mesh.DiscoveryCandidate
	if err := json.Unmarshal([]byte(content), &candidates); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("expected 1 discovery candidate, got %d", len(candidates))
	}

	denyTool, _ := findTool(tools, "deny")
	content, isError = denyTool.Handler(context.Background(), map[string]any{"path": projectDir, "reason": "not an agent"})
	if isError {
		t.Fatalf("unexpected error: %s", content)
	}

	content, isError = discoverTool.Handler(context.Background(), nil)
	if isError {
		t.Fatalf("unexpected error: %s", content)
	}
	candidates = nil
	if err := json.Unmarshal([]byte(content), &candidates); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(candidates) != 0 {
		t.Fatalf("expected denied path excluded from discovery, got %d candidates", len(candidates))
	}
}

package mesh

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDiscoverFindsClaudeCodeProject(t *testing.T) {
	root := t.TempDir()
	projDir := filepath.Join(root, "proj")
	if err := os.MkdirAll(projDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(projDir, "CLAUDE.md"), []byte("# hi"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	candidates := Discover([]string{root}, DiscoverOptions{}, nil, func(string) bool { return false }, func(string) bool { return false })
	found := false
	for _, c := range candidates {
		if c.Path == projDir && c.Strategy == "claude-code" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a claude-code candidate at %s, got %+v", projDir, candidates)
	}
}

func TestDiscoverExcludesDeniedAndRegisteredPaths(t *testing.T) {
	root := t.TempDir()
	projDir := filepath.Join(root, "proj")
	if err := os.MkdirAll(projDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(projDir, "CLAUDE.md"), []byte("# hi"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	candidates := Discover([]string{root}, DiscoverOptions{}, nil, func(p string) bool { return p == projDir }, func(string) bool { return false })
	for _, c := range candidates {
		if c.Path == projDir {
			t.Fatal("expected denied path to be excluded")
		}
	}
}

func TestDiscoverRespectsExcludedDirs(t *testing.T) {
	root := t.TempDir()
	nodeModules := filepath.Join(root, "node_modules", "inner")
	if err := os.MkdirAll(nodeModules, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(nodeModules, "CLAUDE.md"), []byte("# hi"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	candidates := Discover([]string{root}, DiscoverOptions{}, nil, func(string) bool { return false }, func(string) bool { return false })
	for _, c := range candidates {
		if c.Path == nodeModules {
			t.Fatal("expected node_modules subtree to be excluded from traversal")
		}
	}
}

func TestDiscoverRespectsMaxDepth(t *testing.T) {
	root := t.TempDir()
	deep := filepath.Join(root, "a", "b", "c", "d")
	if err := os.MkdirAll(deep, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(deep, "CLAUDE.md"), []byte("# hi"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	candidates := Discover([]string{root}, DiscoverOptions{MaxDepth: 1}, nil, func(string) bool { return false }, func(string) bool { return false })
	for _, c := range candidates {
		if c.Path == deep {
			t.Fatal("expected depth-bounded scan to miss a dir beyond maxDepth")
		}
	}
}

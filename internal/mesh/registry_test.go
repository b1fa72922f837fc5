package mesh

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dorkos/dorkos/internal/boundary"
	"github.com/dorkos/dorkos/internal/idgen"
)

func newTestRegistry(t *testing.T) (*Registry, string) {
	t.Helper()
	root := t.TempDir()
	guard, err := boundary.NewGuard(root)
	if err != nil {
		t.Fatalf("NewGuard: %v", err)
	}
	dbPath := filepath.Join(t.TempDir(), "mesh.db")
	reg, err := Open(dbPath, guard, idgen.New(nil), nil, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { reg.Close() })
	return reg, root
}

func TestRegisterWritesManifestFileAndRow(t *testing.T) {
	reg, root := newTestRegistry(t)
	projectDir := filepath.Join(root, "proj1")
	mkdirT(t, projectDir)

	m, err := reg.Register(projectDir, RegisterOptions{DisplayName: "scout"}, "alice")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	manifestFile := filepath.Join(projectDir, dotConfigDirName, "agent.json")
	if !fileExists(manifestFile) {
		t.Fatalf("expected manifest file at %s", manifestFile)
	}

	got, ok, err := reg.Get(m.ID)
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got.DisplayName != "scout" {
		t.Fatalf("expected DisplayName scout, got %q", got.DisplayName)
	}
}

func TestRegisterRejectsPathOutsideBoundary(t *testing.T) {
	reg, _ := newTestRegistry(t)
	if _, err := reg.Register("/etc/passwd-adjacent-dir", RegisterOptions{}, "alice"); err == nil {
		t.Fatal("expected boundary violation error")
	}
}

func TestUnregisterRemovesManifestFileAndRow(t *testing.T) {
	reg, root := newTestRegistry(t)
	projectDir := filepath.Join(root, "proj2")
	mkdirT(t, projectDir)

	m, err := reg.Register(projectDir, RegisterOptions{DisplayName: "scout2"}, "alice")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := reg.Unregister(m.ID); err != nil {
		t.Fatalf("Unregister: %v", err)
	}

	manifestFile := filepath.Join(projectDir, dotConfigDirName, "agent.json")
	if fileExists(manifestFile) {
		t.Fatal("expected manifest file to be removed")
	}
	if _, ok, _ := reg.Get(m.ID); ok {
		t.Fatal("expected manifest row to be removed")
	}
}

func TestDenyExcludesFromIsDenied(t *testing.T) {
	reg, _ := newTestRegistry(t)
	if reg.IsDenied("/some/path") {
		t.Fatal("expected not denied initially")
	}
	if err := reg.Deny("/some/path", "heuristic", "not an agent", "bob"); err != nil {
		t.Fatalf("Deny: %v", err)
	}
	if !reg.IsDenied("/some/path") {
		t.Fatal("expected denied after Deny")
	}
	if err := reg.Undeny("/some/path"); err != nil {
		t.Fatalf("Undeny: %v", err)
	}
	if reg.IsDenied("/some/path") {
		t.Fatal("expected not denied after Undeny")
	}
}

func TestListFiltersByRuntimeAndCapability(t *testing.T) {
	reg, root := newTestRegistry(t)
	p1 := filepath.Join(root, "p1")
	p2 := filepath.Join(root, "p2")
	mkdirT(t, p1)
	mkdirT(t, p2)

	if _, err := reg.Register(p1, RegisterOptions{DisplayName: "a1", Runtime: RuntimeClaudeCode, Capabilities: []string{"search"}}, ""); err != nil {
		t.Fatalf("Register p1: %v", err)
	}
	if _, err := reg.Register(p2, RegisterOptions{DisplayName: "a2", Runtime: RuntimeCursor, Capabilities: []string{"code"}}, ""); err != nil {
		t.Fatalf("Register p2: %v", err)
	}

	results, err := reg.List(ListOptions{Runtime: RuntimeClaudeCode})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(results) != 1 || results[0].DisplayName != "a1" {
		t.Fatalf("expected only a1, got %+v", results)
	}

	results, err = reg.List(ListOptions{Capability: "code"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(results) != 1 || results[0].DisplayName != "a2" {
		t.Fatalf("expected only a2, got %+v", results)
	}
}

func TestHeartbeatUpdatesLastSeen(t *testing.T) {
	reg, root := newTestRegistry(t)
	p := filepath.Join(root, "p3")
	mkdirT(t, p)
	m, err := reg.Register(p, RegisterOptions{DisplayName: "a3"}, "")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	time.Sleep(2 * time.Millisecond)
	if err := reg.Heartbeat(m.ID); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	got, _, _ := reg.Get(m.ID)
	if !got.LastSeenAt.After(m.LastSeenAt) {
		t.Fatal("expected LastSeenAt to advance after Heartbeat")
	}
}

func TestDeriveHealthThresholds(t *testing.T) {
	now := time.Now()
	if DeriveHealth(now, now) != HealthActive {
		t.Fatal("expected active for lastSeenAt == now")
	}
	if DeriveHealth(now.Add(-5*time.Minute), now) != HealthInactive {
		t.Fatal("expected inactive for 5 minutes ago")
	}
	if DeriveHealth(now.Add(-time.Hour), now) != HealthStale {
		t.Fatal("expected stale for 1 hour ago")
	}
}

func TestVisibleDenyFirstEvaluation(t *testing.T) {
	rules := []AccessRule{
		{From: "teamA", To: "teamB", Action: "allow"},
		{From: "teamA", To: "teamB", Action: "deny"},
	}
	if Visible("teamA", "teamB", rules) {
		t.Fatal("expected deny to win over allow for the same tuple")
	}
}

func TestVisibleDefaultsToSameNamespaceOnly(t *testing.T) {
	if !Visible("default", "default", nil) {
		t.Fatal("expected same-namespace visibility by default")
	}
	if Visible("default", "other", nil) {
		t.Fatal("expected cross-namespace denial by default")
	}
}

func mkdirT(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", path, err)
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

package transcript

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTranscript(t *testing.T, root, cwd, sessionID, content string, mtime time.Time) string {
	t.Helper()
	dir := filepath.Join(root, cwdDir(cwd))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, sessionID+".jsonl")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestListSessionsNewestWins(t *testing.T) {
	root := t.TempDir()
	cwd := "/workspace/proj"

	older := time.Now().Add(-time.Hour)
	newer := time.Now()

	writeTranscript(t, root, cwd, "sess-1", `{"role":"user","content":"old title"}
{"role":"assistant","content":"old preview"}
`, older)

	// Simulate a duplicate-id rewrite (e.g. after compaction) with a newer mtime.
	writeTranscript(t, root, cwd, "sess-1", `{"role":"user","content":"new title"}
{"role":"assistant","content":"new preview"}
`, newer)

	r := NewReader(root)
	summaries, err := r.ListSessions(cwd)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("len(summaries) = %d, want 1", len(summaries))
	}
	if summaries[0].Title != "new title" {
		t.Fatalf("Title = %q, want %q", summaries[0].Title, "new title")
	}
}

func TestListSessionsMissingDir(t *testing.T) {
	r := NewReader(t.TempDir())
	summaries, err := r.ListSessions("/nonexistent/cwd")
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if summaries != nil {
		t.Fatalf("expected nil summaries, got %v", summaries)
	}
}

func TestReadTranscript(t *testing.T) {
	root := t.TempDir()
	cwd := "/workspace/proj"
	writeTranscript(t, root, cwd, "sess-2", `{"role":"user","content":"hi"}
{"role":"assistant","content":"hello back"}
`, time.Now())

	r := NewReader(root)
	stream, err := r.ReadTranscript("sess-2")
	if err != nil {
		t.Fatalf("ReadTranscript: %v", err)
	}
	defer stream.Close()

	var lines []Line
	for {
		line, ok := stream.Next()
		if !ok {
			break
		}
		lines = append(lines, line)
	}
	if len(lines) != 2 {
		t.Fatalf("len(lines) = %d, want 2", len(lines))
	}
	if lines[0].Role != "user" || lines[1].Role != "assistant" {
		t.Fatalf("unexpected roles: %+v", lines)
	}
}

func TestReadTranscriptMissing(t *testing.T) {
	r := NewReader(t.TempDir())
	if _, err := r.ReadTranscript("does-not-exist"); err == nil {
		t.Fatal("expected error for missing session")
	}
}

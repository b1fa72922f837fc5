// Package transcript is a read-only collaborator over the LLM runtime's
// on-disk session transcripts. It never writes.
package transcript

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Reader lists and reads transcripts under a configured root, matching the
// runtime's on-disk layout: {root}/{hash(cwd)}/{sessionId}.jsonl.
type Reader struct {
	root string
}

// NewReader builds a Reader over the given transcript root directory.
func NewReader(root string) *Reader {
	return &Reader{root: root}
}

// SessionSummary is one entry in ListSessions's result.
type SessionSummary struct {
	ID        string
	Title     string
	CreatedAt time.Time
	Preview   string
}

// Line is one JSON object from a transcript's line-oriented message stream.
type Line struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Raw     map[string]any `json:"-"`
}

// cwdDir derives the deterministic directory name the runtime uses for a
// given working directory, matching the runtime's own hashing convention
// (sha256 of the absolute path, hex-encoded, truncated to 16 characters —
// short enough to stay filesystem-friendly, long enough that collisions
// across a single data home are not a practical concern).
func cwdDir(cwd string) string {
	abs := cwd
	if a, err := filepath.Abs(cwd); err == nil {
		abs = a
	}
	sum := sha256.Sum256([]byte(abs))
	return hex.EncodeToString(sum[:])[:16]
}

// ListSessions scans the transcript directory for cwd and returns a summary
// per session id, preferring the newest file when a session id appears more
// than once (e.g. after a compaction rewrite).
func (r *Reader) ListSessions(cwd string) ([]SessionSummary, error) {
	dir := filepath.Join(r.root, cwdDir(cwd))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	newest := map[string]os.DirEntry{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".jsonl")
		cur, ok := newest[id]
		if !ok {
			newest[id] = e
			continue
		}
		curInfo, _ := cur.Info()
		nextInfo, _ := e.Info()
		if nextInfo != nil && curInfo != nil && nextInfo.ModTime().After(curInfo.ModTime()) {
			newest[id] = e
		}
	}

	summaries := make([]SessionSummary, 0, len(newest))
	for id, e := range newest {
		info, err := e.Info()
		if err != nil {
			continue
		}
		title, preview := summarizeFile(filepath.Join(dir, e.Name()))
		summaries = append(summaries, SessionSummary{
			ID:        id,
			Title:     title,
			CreatedAt: info.ModTime(),
			Preview:   preview,
		})
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].CreatedAt.After(summaries[j].CreatedAt)
	})
	return summaries, nil
}

// summarizeFile extracts the first user message (title) and the last
// assistant message (preview) from a transcript file, tolerating malformed
// lines by skipping them.
func summarizeFile(path string) (title, preview string) {
	f, err := os.Open(path)
	if err != nil {
		return "", ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var line Line
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			continue
		}
		switch line.Role {
		case "user":
			if title == "" {
				title = truncate(line.Content, 80)
			}
		case "assistant":
			preview = truncate(line.Content, 160)
		}
	}
	return title, preview
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// MessageStream is a lazy cursor over a transcript file's
// lines — no concurrent producer exists, so a channel-fed goroutine would be
// needless machinery; a scanner-backed iterator is the idiomatic fit.
type MessageStream struct {
	scanner *bufio.Scanner
	file    *os.File
}

// Next advances the cursor, returning false once the stream is exhausted.
// Malformed lines are skipped rather than surfaced, matching the reader's
// tolerant-scan behavior in ListSessions.
func (m *MessageStream) Next() (Line, bool) {
	for m.scanner.Scan() {
		var line Line
		if err := json.Unmarshal(m.scanner.Bytes(), &line); err != nil {
			continue
		}
		_ = json.Unmarshal(m.scanner.Bytes(), &line.Raw)
		return line, true
	}
	return Line{}, false
}

// Close releases the underlying file handle.
func (m *MessageStream) Close() error {
	return m.file.Close()
}

// ReadTranscript opens the newest file for sessionID across every cwd bucket
// under the transcript root and returns a lazy message stream.
func (r *Reader) ReadTranscript(sessionID string) (*MessageStream, error) {
	path, err := r.findNewest(sessionID)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &MessageStream{scanner: scanner, file: f}, nil
}

func (r *Reader) findNewest(sessionID string) (string, error) {
	var best string
	var bestMod time.Time

	buckets, err := os.ReadDir(r.root)
	if err != nil {
		return "", err
	}
	for _, b := range buckets {
		if !b.IsDir() {
			continue
		}
		candidate := filepath.Join(r.root, b.Name(), sessionID+".jsonl")
		info, err := os.Stat(candidate)
		if err != nil {
			continue
		}
		if best == "" || info.ModTime().After(bestMod) {
			best = candidate
			bestMod = info.ModTime()
		}
	}
	if best == "" {
		return "", os.ErrNotExist
	}
	return best, nil
}

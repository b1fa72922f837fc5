package mesh

import (
	"os"
	"path/filepath"
	"time"
)

// DiscoveryHints carries the detection strategy's inferred metadata (spec §3,
// Discovery Candidate).
type DiscoveryHints struct {
	SuggestedName        string   `json:"suggestedName"`
	DetectedRuntime      RuntimeLabel `json:"detectedRuntime"`
	InferredCapabilities []string `json:"inferredCapabilities,omitempty"`
	Description          string   `json:"description,omitempty"`
}

// DiscoveryCandidate is an unregistered (or re-discoverable) agent project
// found by a directory scan.
type DiscoveryCandidate struct {
	Path          string         `json:"path"`
	Strategy      string         `json:"detectionStrategy"`
	Hints         DiscoveryHints `json:"hints"`
	DiscoveredAt  time.Time      `json:"discoveredAt"`
}

// DefaultMaxDepth bounds the BFS walk (spec §4.9).
const DefaultMaxDepth = 3

// DefaultExcludedDirs are well-known build outputs and package directories
// skipped during discovery.
var DefaultExcludedDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
	"vendor":       true,
	"dist":         true,
	"build":        true,
	"target":       true,
	".venv":        true,
	"__pycache__":  true,
}

// strategy is a single detection rule: Detect reports a match (ok) and its
// hints for a candidate directory.
type strategy struct {
	name   string
	detect func(dir string, entries []os.DirEntry) (DiscoveryHints, bool)
}

// builtinStrategies implements spec §4.9's sentinel table plus a best-effort
// heuristic fallback, in priority order (first match wins).
func builtinStrategies(manifestLookup func(dir string) (DiscoveryHints, bool)) []strategy {
	return []strategy{
		{
			name: "claude-code",
			detect: func(dir string, entries []os.DirEntry) (DiscoveryHints, bool) {
				if hasFile(entries, "CLAUDE.md") {
					return DiscoveryHints{SuggestedName: filepath.Base(dir), DetectedRuntime: RuntimeClaudeCode}, true
				}
				return DiscoveryHints{}, false
			},
		},
		{
			name: "cursor",
			detect: func(dir string, entries []os.DirEntry) (DiscoveryHints, bool) {
				if hasDir(entries, ".cursor") {
					return DiscoveryHints{SuggestedName: filepath.Base(dir), DetectedRuntime: RuntimeCursor}, true
				}
				return DiscoveryHints{}, false
			},
		},
		{
			name: "codex",
			detect: func(dir string, entries []os.DirEntry) (DiscoveryHints, bool) {
				if hasDir(entries, ".codex") {
					return DiscoveryHints{SuggestedName: filepath.Base(dir), DetectedRuntime: RuntimeCodex}, true
				}
				return DiscoveryHints{}, false
			},
		},
		{
			name: "manifest",
			detect: func(dir string, entries []os.DirEntry) (DiscoveryHints, bool) {
				if manifestLookup == nil {
					return DiscoveryHints{}, false
				}
				return manifestLookup(dir)
			},
		},
		{
			name: "heuristic",
			detect: func(dir string, entries []os.DirEntry) (DiscoveryHints, bool) {
				if hasFile(entries, "go.mod") || hasFile(entries, "package.json") || hasFile(entries, "pyproject.toml") {
					return DiscoveryHints{SuggestedName: filepath.Base(dir), DetectedRuntime: RuntimeOther, Description: "heuristically detected project"}, true
				}
				return DiscoveryHints{}, false
			},
		},
	}
}

func hasFile(entries []os.DirEntry, name string) bool {
	for _, e := range entries {
		if !e.IsDir() && e.Name() == name {
			return true
		}
	}
	return false
}

func hasDir(entries []os.DirEntry, name string) bool {
	for _, e := range entries {
		if e.IsDir() && e.Name() == name {
			return true
		}
	}
	return false
}

// DiscoverOptions configures Discover.
type DiscoverOptions struct {
	MaxDepth     int
	ExcludedDirs map[string]bool
}

// bfsQueueItem tracks a pending directory and its depth, since
// filepath.WalkDir's unbounded DFS can't express a depth bound without its
// own queue (see DESIGN.md).
type bfsQueueItem struct {
	path  string
	depth int
}

// Discover performs a bounded breadth-first scan from roots, classifying
// each visited directory with the first matching strategy and emitting a
// candidate. Symlinks are not followed. manifestLookup backs the "manifest"
// strategy (spec §4.9's already-registered auto-import sentinel);
// isDenied/isRegistered filter out paths the registry has already resolved
// (spec §4.9, "filtered out").
func Discover(roots []string, opts DiscoverOptions, manifestLookup func(dir string) (DiscoveryHints, bool), isDenied func(path string) bool, isRegistered func(path string) bool) []DiscoveryCandidate {
	maxDepth := opts.MaxDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	excluded := opts.ExcludedDirs
	if excluded == nil {
		excluded = DefaultExcludedDirs
	}
	strategies := builtinStrategies(manifestLookup)

	var out []DiscoveryCandidate
	var queue []bfsQueueItem
	for _, r := range roots {
		queue = append(queue, bfsQueueItem{path: r, depth: 0})
	}

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		info, err := os.Lstat(item.path)
		if err != nil || info.Mode()&os.ModeSymlink != 0 || !info.IsDir() {
			continue
		}

		entries, err := os.ReadDir(item.path)
		if err != nil {
			continue
		}

		if !isDenied(item.path) && !isRegistered(item.path) {
			for _, s := range strategies {
				if hints, ok := s.detect(item.path, entries); ok {
					out = append(out, DiscoveryCandidate{
						Path:         item.path,
						Strategy:     s.name,
						Hints:        hints,
						DiscoveredAt: time.Now(),
					})
					break
				}
			}
		}

		if item.depth >= maxDepth {
			continue
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			if excluded[e.Name()] {
				continue
			}
			queue = append(queue, bfsQueueItem{path: filepath.Join(item.path, e.Name()), depth: item.depth + 1})
		}
	}
	return out
}

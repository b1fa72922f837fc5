// Package boundary implements the single choke point every subsystem must
// call before touching the filesystem with a caller-supplied path.
package boundary

import (
	"path/filepath"
	"strings"

	"github.com/dorkos/dorkos/internal/substrate"
)

// Guard validates paths against a single configured root.
type Guard struct {
	root string
}

// NewGuard resolves root to an absolute, symlink-free path at construction
// time so later Validate calls compare against a canonical prefix.
func NewGuard(root string) (*Guard, error) {
	resolved, err := resolve(root)
	if err != nil {
		return nil, substrate.New(substrate.CodeInternal, "resolve boundary root %q: %v", root, err)
	}
	return &Guard{root: resolved}, nil
}

// Root returns the guard's canonical root.
func (g *Guard) Root() string { return g.root }

// Validate resolves path (absolute, or relative to cwd if cwd is non-empty)
// and rejects with BOUNDARY_VIOLATION if the resolved, symlink-free path is
// not contained within the guard's root.
func (g *Guard) Validate(cwd, path string) (string, error) {
	return Validate(g.root, cwd, path)
}

// Validate is the free-function form used where constructing a Guard isn't
// warranted (e.g. a one-off check against a manifest's anchor path).
func Validate(root, cwd, path string) (string, error) {
	resolvedRoot, err := resolve(root)
	if err != nil {
		return "", substrate.New(substrate.CodeInternal, "resolve boundary root %q: %v", root, err)
	}

	candidate := path
	if !filepath.IsAbs(candidate) {
		if cwd == "" {
			return "", substrate.New(substrate.CodeBoundaryViolation, "relative path %q requires a working directory", path).
				WithDetails(map[string]any{"path": path})
		}
		candidate = filepath.Join(cwd, candidate)
	}

	resolved, err := resolve(candidate)
	if err != nil {
		// A path that doesn't exist yet (e.g. a file about to be created)
		// can't be symlink-resolved; fall back to resolving its parent and
		// re-joining the leaf, matching the common "write a new file" case.
		resolved, err = resolveNonExistent(candidate)
		if err != nil {
			return "", substrate.New(substrate.CodeBoundaryViolation, "cannot resolve path %q: %v", path, err).
				WithDetails(map[string]any{"path": path})
		}
	}

	if !withinRoot(resolvedRoot, resolved) {
		return "", substrate.New(substrate.CodeBoundaryViolation, "path %q escapes boundary root %q", path, resolvedRoot).
			WithDetails(map[string]any{"path": path})
	}

	return resolved, nil
}

func withinRoot(root, candidate string) bool {
	if candidate == root {
		return true
	}
	rel, err := filepath.Rel(root, candidate)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return !strings.HasPrefix(rel, "..") && rel != ".."
}

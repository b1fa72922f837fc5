package boundary

import (
	"fmt"
	"os"
	"path/filepath"
)

// resolve turns path into an absolute, symlink-resolved, cleaned path. It
// requires the path to exist.
func resolve(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", err
	}
	return filepath.Clean(real), nil
}

// resolveNonExistent walks up from path until it finds an existing ancestor,
// resolves that ancestor's symlinks, and rejoins the non-existent suffix.
// This lets the boundary guard validate "write a new file here" paths
// without requiring the file to pre-exist.
func resolveNonExistent(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	abs = filepath.Clean(abs)

	var suffix []string
	cur := abs
	for {
		if _, err := os.Lstat(cur); err == nil {
			break
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return "", fmt.Errorf("no existing ancestor for %q", path)
		}
		suffix = append([]string{filepath.Base(cur)}, suffix...)
		cur = parent
	}

	real, err := filepath.EvalSymlinks(cur)
	if err != nil {
		return "", err
	}
	parts := append([]string{real}, suffix...)
	return filepath.Clean(filepath.Join(parts...)), nil
}

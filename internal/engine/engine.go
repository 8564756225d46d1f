// Package engine identifies and discovers chess engine executables under test.
package engine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Engine identifies one engine executable. Immutable once discovered.
type Engine struct {
	Path    string
	Name    string
	WorkDir string
	Args    []string
}

// New builds an Engine identity for an executable path.
func New(path string, args ...string) Engine {
	return Engine{
		Path:    path,
		Name:    filepath.Base(path),
		WorkDir: filepath.Dir(path),
		Args:    args,
	}
}

// Discover scans root for engine executables matching the include globs and
// not matching any exclude glob. Glob patterns apply to base names. Results
// are de-duplicated and returned in deterministic (sorted) order.
func Discover(root string, include, exclude []string) ([]Engine, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("discovery root is required")
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat discovery root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("discovery root %s is not a directory", root)
	}
	if len(include) == 0 {
		include = []string{"*"}
	}

	seen := map[string]struct{}{}
	var paths []string
	for _, pattern := range include {
		matches, err := filepath.Glob(filepath.Join(root, pattern))
		if err != nil {
			return nil, fmt.Errorf("include pattern %q: %w", pattern, err)
		}
		for _, match := range matches {
			if _, dup := seen[match]; dup {
				continue
			}
			seen[match] = struct{}{}
			paths = append(paths, match)
		}
	}
	sort.Strings(paths)

	var engines []Engine
	for _, path := range paths {
		excluded, err := matchesAny(exclude, filepath.Base(path))
		if err != nil {
			return nil, err
		}
		if excluded {
			continue
		}
		if !isCandidate(path) {
			continue
		}
		engines = append(engines, New(path))
	}
	return engines, nil
}

func matchesAny(patterns []string, base string) (bool, error) {
	for _, pattern := range patterns {
		ok, err := filepath.Match(pattern, base)
		if err != nil {
			return false, fmt.Errorf("exclude pattern %q: %w", pattern, err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// isCandidate reports whether path is a regular file that plausibly launches:
// either carrying an executable bit or a Windows .exe suffix.
func isCandidate(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	if info.Mode().Perm()&0o111 != 0 {
		return true
	}
	return strings.EqualFold(filepath.Ext(path), ".exe")
}

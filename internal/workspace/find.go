// Package workspace provides fleet-root detection.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rjwalters/loom-sub010/internal/constants"
)

// ErrNotFound indicates no fleet root was found.
var ErrNotFound = errors.New("not in a shepherd fleet root")

// Marker is the config file that identifies a fleet root.
const Marker = constants.DirShepherd + "/" + constants.FileConfig

// EnvRoot is the environment fallback set inside worker sessions, for
// commands run from a worktree that has since been removed.
const EnvRoot = "SHEP_FLEET_ROOT"

// Find locates the fleet root by walking up from the given directory.
// When started inside a worktree path it continues to the outermost match so
// a nested checkout can never shadow the real root. Does not resolve
// symlinks, to stay consistent with os.Getwd().
func Find(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}

	inWorktree := isInWorktreePath(absDir)
	var match string

	current := absDir
	for {
		if _, err := os.Stat(filepath.Join(current, Marker)); err == nil {
			if !inWorktree {
				return current, nil
			}
			match = current
		}

		parent := filepath.Dir(current)
		if parent == current {
			if match != "" {
				return match, nil
			}
			return "", ErrNotFound
		}
		current = parent
	}
}

func isInWorktreePath(path string) bool {
	sep := string(filepath.Separator)
	return strings.Contains(path, sep+constants.DirShepherd+sep+constants.DirWorktrees+sep)
}

// FindFromCwd locates the fleet root from the current working directory.
// If getcwd fails (the worktree was removed under us), falls back to the
// SHEP_FLEET_ROOT env var set in worker sessions.
func FindFromCwd() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		if root := os.Getenv(EnvRoot); root != "" {
			if _, statErr := os.Stat(filepath.Join(root, Marker)); statErr == nil {
				return root, nil
			}
		}
		return "", fmt.Errorf("getting current directory: %w", err)
	}
	return Find(cwd)
}

// IsRoot checks whether the given directory is itself a fleet root.
func IsRoot(dir string) (bool, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false, fmt.Errorf("resolving path: %w", err)
	}
	if _, err := os.Stat(filepath.Join(absDir, Marker)); err == nil {
		return true, nil
	}
	return false, nil
}

package doctor

import (
	"os"
	"path/filepath"

	"github.com/rjwalters/loom-sub010/internal/constants"
)

// WorkspaceCheck verifies the fleet workspace layout: the .shepherd
// directory exists, holds a config file, and is writable.
type WorkspaceCheck struct {
	BaseCheck
}

// NewWorkspaceCheck creates a new workspace layout check.
func NewWorkspaceCheck() *WorkspaceCheck {
	return &WorkspaceCheck{
		BaseCheck: BaseCheck{
			CheckName:        "workspace",
			CheckDescription: "Check that the .shepherd workspace directory exists and is writable",
			CheckCategory:    CategoryCore,
		},
	}
}

// Run checks the workspace directory.
func (c *WorkspaceCheck) Run(ctx *CheckContext) *CheckResult {
	dir := constants.ShepherdDir(ctx.Root)

	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return &CheckResult{
			Name:    c.Name(),
			Status:  StatusError,
			Message: "No .shepherd directory found",
			FixHint: "Run 'shep init' to initialize the workspace",
		}
	}
	if err != nil {
		return &CheckResult{
			Name:    c.Name(),
			Status:  StatusError,
			Message: "Cannot stat .shepherd directory",
			Details: []string{err.Error()},
		}
	}
	if !info.IsDir() {
		return &CheckResult{
			Name:    c.Name(),
			Status:  StatusError,
			Message: ".shepherd exists but is not a directory",
			FixHint: "Remove the file and run 'shep init'",
		}
	}

	if _, err := os.Stat(constants.ConfigPath(ctx.Root)); os.IsNotExist(err) {
		return &CheckResult{
			Name:    c.Name(),
			Status:  StatusError,
			Message: ".shepherd/" + constants.FileConfig + " not found",
			FixHint: "Run 'shep init' to write a default config",
		}
	}

	// Writability probe. The daemon persists state, events, and run files
	// here on every iteration.
	probe := filepath.Join(dir, ".doctor-probe")
	f, err := os.Create(probe)
	if err != nil {
		return &CheckResult{
			Name:    c.Name(),
			Status:  StatusError,
			Message: ".shepherd directory is not writable",
			Details: []string{err.Error()},
		}
	}
	f.Close()
	os.Remove(probe)

	return &CheckResult{
		Name:    c.Name(),
		Status:  StatusOK,
		Message: ".shepherd workspace present and writable",
	}
}

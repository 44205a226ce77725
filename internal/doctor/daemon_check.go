package doctor

import (
	"fmt"

	"github.com/rjwalters/loom-sub010/internal/constants"
	"github.com/rjwalters/loom-sub010/internal/daemon"
)

// DaemonCheck detects a stale daemon PID file. A crashed daemon leaves its
// PID behind, which makes status commands report a fleet that is not there.
type DaemonCheck struct {
	FixableCheck
}

// NewDaemonCheck creates a new daemon liveness check.
func NewDaemonCheck() *DaemonCheck {
	return &DaemonCheck{
		FixableCheck: FixableCheck{
			BaseCheck: BaseCheck{
				CheckName:        "daemon",
				CheckDescription: "Check for a stale daemon PID file",
				CheckCategory:    CategoryCore,
			},
		},
	}
}

// Run checks the recorded daemon PID against the process table.
func (c *DaemonCheck) Run(ctx *CheckContext) *CheckResult {
	pid := daemon.ReadPID(ctx.Root)
	if pid == 0 {
		return &CheckResult{
			Name:    c.Name(),
			Status:  StatusOK,
			Message: "Daemon not running",
		}
	}

	if daemon.ProcessAlive(pid) {
		return &CheckResult{
			Name:    c.Name(),
			Status:  StatusOK,
			Message: fmt.Sprintf("Daemon running (pid %d)", pid),
		}
	}

	return &CheckResult{
		Name:    c.Name(),
		Status:  StatusWarning,
		Message: fmt.Sprintf("Stale PID file: process %d is gone", pid),
		Details: []string{constants.DaemonPIDPath(ctx.Root)},
		FixHint: "Run 'shep doctor --fix' to remove it",
	}
}

// Fix removes the stale PID file. The flock guarding daemon singleton-ness
// released when the process died, so the lock file needs no cleanup.
func (c *DaemonCheck) Fix(ctx *CheckContext) error {
	pid := daemon.ReadPID(ctx.Root)
	if pid == 0 || daemon.ProcessAlive(pid) {
		return nil
	}
	daemon.ClearPID(ctx.Root)
	return nil
}

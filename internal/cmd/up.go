package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rjwalters/loom-sub010/internal/daemon"
	"github.com/rjwalters/loom-sub010/internal/style"
)

var upCmd = &cobra.Command{
	Use:     "up",
	GroupID: GroupFleet,
	Short:   "Start the fleet daemon in the background",
	Long: `Start the daemon as a detached background process.

The daemon recovers any state left by a previous run, then keeps the
fleet converged: spawning shepherds onto ready backlog, reclaiming
dead ones, and triggering proposer roles when the backlog runs low.`,
	RunE: runUp,
}

func init() {
	rootCmd.AddCommand(upCmd)
}

func runUp(cmd *cobra.Command, args []string) error {
	if running, pid := daemon.IsRunning(fleetRoot); running {
		fmt.Printf("%s Daemon already running (pid %d)\n", style.SuccessPrefix, pid)
		return nil
	}

	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locating executable: %w", err)
	}

	child := exec.Command(self, "daemon", "run")
	child.Dir = fleetRoot
	// The daemon logs to .shepherd/daemon/daemon.log; detach its I/O and
	// session so it survives this shell.
	child.Stdin = nil
	child.Stdout = nil
	child.Stderr = nil
	child.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := child.Start(); err != nil {
		return fmt.Errorf("starting daemon: %w", err)
	}
	_ = child.Process.Release()

	// Give it a moment to take the lock and write its PID.
	time.Sleep(300 * time.Millisecond)

	running, pid := daemon.IsRunning(fleetRoot)
	if !running {
		return fmt.Errorf("daemon failed to start; check %s", daemonLogHint())
	}

	fmt.Printf("%s Daemon started (pid %d)\n", style.SuccessPrefix, pid)
	return nil
}

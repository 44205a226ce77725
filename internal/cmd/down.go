package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rjwalters/loom-sub010/internal/config"
	"github.com/rjwalters/loom-sub010/internal/daemon"
	"github.com/rjwalters/loom-sub010/internal/style"
)

var downCmd = &cobra.Command{
	Use:     "down",
	GroupID: GroupFleet,
	Short:   "Stop the fleet daemon",
	Long: `Stop the daemon with a graceful drain.

The daemon gets SIGTERM, finishes its iteration, then waits up to the
configured shutdown grace for running shepherds to finish before
tearing down the stragglers. Worktrees and tracker state are left
intact; 'shep up' resumes where the fleet left off.`,
	RunE: runDown,
}

func init() {
	rootCmd.AddCommand(downCmd)
}

func runDown(cmd *cobra.Command, args []string) error {
	running, pid := daemon.IsRunning(fleetRoot)
	if !running {
		fmt.Println("Daemon not running")
		return nil
	}

	cfg, err := config.Load(fleetRoot)
	if err != nil {
		cfg = config.Default()
	}

	// Wait out the daemon's own drain plus margin for teardown.
	wait := cfg.GetShutdownGrace() + 10*time.Second

	fmt.Printf("Stopping daemon (pid %d)...\n", pid)
	if err := daemon.StopDaemon(fleetRoot, wait); err != nil {
		return err
	}

	fmt.Printf("%s Daemon stopped\n", style.SuccessPrefix)
	return nil
}

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rjwalters/loom-sub010/internal/daemon"
	"github.com/rjwalters/loom-sub010/internal/events"
	"github.com/rjwalters/loom-sub010/internal/style"
)

var pauseReason string

var pauseCmd = &cobra.Command{
	Use:     "pause",
	GroupID: GroupFleet,
	Short:   "Pause spawning without stopping the daemon",
	Long: `Stop the daemon from claiming new work.

Running shepherds finish normally; reclaim, heartbeats, and worktree
cleanup keep running. The pause persists across daemon restarts until
'shep resume' clears it.`,
	RunE: runPause,
}

func init() {
	pauseCmd.Flags().StringVar(&pauseReason, "reason", "", "Why the fleet is paused (shown in status)")
	rootCmd.AddCommand(pauseCmd)
}

func runPause(cmd *cobra.Command, args []string) error {
	if _, paused := daemon.ReadPause(fleetRoot); paused {
		fmt.Println("Fleet is already paused")
		return nil
	}

	by := os.Getenv("USER")
	if err := daemon.WritePause(fleetRoot, daemon.Pause{
		Reason: pauseReason,
		By:     by,
		At:     time.Now(),
	}); err != nil {
		return fmt.Errorf("writing pause marker: %w", err)
	}

	if err := events.Append(fleetRoot, events.TypePaused, "cli", events.PausePayload(pauseReason, by)); err != nil {
		style.PrintWarning("could not record event: %v", err)
	}

	fmt.Printf("%s Fleet paused; running shepherds will finish\n", style.SuccessPrefix)
	return nil
}

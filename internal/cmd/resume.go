package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rjwalters/loom-sub010/internal/daemon"
	"github.com/rjwalters/loom-sub010/internal/events"
	"github.com/rjwalters/loom-sub010/internal/style"
)

var resumeCmd = &cobra.Command{
	Use:     "resume",
	GroupID: GroupFleet,
	Short:   "Resume spawning after a pause",
	RunE:    runResume,
}

func init() {
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	if _, paused := daemon.ReadPause(fleetRoot); !paused {
		fmt.Println("Fleet is not paused")
		return nil
	}

	if err := daemon.ClearPause(fleetRoot); err != nil {
		return fmt.Errorf("clearing pause marker: %w", err)
	}

	by := os.Getenv("USER")
	if err := events.Append(fleetRoot, events.TypeResumed, "cli", events.PausePayload("", by)); err != nil {
		style.PrintWarning("could not record event: %v", err)
	}

	fmt.Printf("%s Fleet resumed\n", style.SuccessPrefix)
	return nil
}

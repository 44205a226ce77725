package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/rjwalters/loom-sub010/internal/config"
	"github.com/rjwalters/loom-sub010/internal/daemon"
)

var runFor time.Duration

var runCmd = &cobra.Command{
	Use:     "run",
	GroupID: GroupFleet,
	Short:   "Run the daemon in the foreground",
	Long: `Run the daemon loop in the foreground, logging to the terminal's
session. Useful for watching a fleet converge or for bounded runs:

  shep run --for 30m

With --for the daemon drains and exits once the duration elapses;
without it the loop runs until interrupted.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().DurationVar(&runFor, "for", 0, "Stop after this duration (0 = run until interrupted)")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(fleetRoot)
	if err != nil {
		return err
	}

	d, err := daemon.New(fleetRoot, cfg)
	if err != nil {
		return err
	}

	if runFor > 0 {
		return d.RunFor(cmd.Context(), runFor)
	}
	return d.Run(cmd.Context())
}

package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rjwalters/loom-sub010/internal/config"
	"github.com/rjwalters/loom-sub010/internal/constants"
	"github.com/rjwalters/loom-sub010/internal/daemon"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: GroupFleet,
	Short:   "Daemon process control",
	RunE:    requireSubcommand,
}

var daemonRunCmd = &cobra.Command{
	Use:    "run",
	Short:  "Run the daemon loop in the foreground",
	Hidden: true,
	RunE:   runDaemonRun,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the daemon is running",
	RunE:  runDaemonStatus,
}

func init() {
	daemonCmd.AddCommand(daemonRunCmd)
	daemonCmd.AddCommand(daemonStatusCmd)
	rootCmd.AddCommand(daemonCmd)
}

func daemonLogHint() string {
	return constants.DaemonLogPath(fleetRoot)
}

func runDaemonRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(fleetRoot)
	if err != nil {
		return err
	}

	d, err := daemon.New(fleetRoot, cfg)
	if err != nil {
		return err
	}
	return d.Run(cmd.Context())
}

func runDaemonStatus(cmd *cobra.Command, args []string) error {
	running, pid := daemon.IsRunning(fleetRoot)
	if !running {
		fmt.Println("Daemon not running")
		return nil
	}

	st, err := daemon.LoadState(fleetRoot)
	if err != nil {
		fmt.Printf("Daemon running (pid %d)\n", pid)
		return nil
	}

	fmt.Printf("Daemon running (pid %d, up %s, %d iterations)\n",
		pid, time.Since(st.StartedAt).Round(time.Second), st.Iterations)
	return nil
}

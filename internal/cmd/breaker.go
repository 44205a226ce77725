package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rjwalters/loom-sub010/internal/config"
	"github.com/rjwalters/loom-sub010/internal/daemon"
	"github.com/rjwalters/loom-sub010/internal/style"
)

var breakerCmd = &cobra.Command{
	Use:     "breaker",
	GroupID: GroupDiag,
	Short:   "Inspect or reset the fleet circuit breaker",
	Long: `The breaker trips when too many shepherds fail inside the
configured window and blocks all spawning until an operator resets it.`,
	RunE: requireSubcommand,
}

var breakerStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show breaker state",
	RunE:  runBreakerStatus,
}

var breakerResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Request a breaker reset",
	RunE:  runBreakerReset,
}

func init() {
	breakerCmd.AddCommand(breakerStatusCmd)
	breakerCmd.AddCommand(breakerResetCmd)
	rootCmd.AddCommand(breakerCmd)
}

func runBreakerStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(fleetRoot)
	if err != nil {
		cfg = config.Default()
	}

	breaker := failureTracker(fleetRoot, cfg).Breaker()
	count := breaker.WindowCount(time.Now())

	if breaker.Tripped() {
		fmt.Printf("%s Breaker TRIPPED: %d failure(s) in the last %s (threshold %d)\n",
			style.ErrorPrefix, count, cfg.GetBreakerWindow(), cfg.Breaker.Threshold)
	} else {
		fmt.Printf("%s Breaker closed: %d failure(s) in the last %s (threshold %d)\n",
			style.SuccessPrefix, count, cfg.GetBreakerWindow(), cfg.Breaker.Threshold)
	}

	if daemon.BreakerResetPending(fleetRoot) {
		fmt.Printf("%s Reset requested, daemon applies it next iteration\n", style.ArrowPrefix)
	}
	return nil
}

func runBreakerReset(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(fleetRoot)
	if err != nil {
		cfg = config.Default()
	}

	if !failureTracker(fleetRoot, cfg).Breaker().Tripped() {
		fmt.Println("Breaker is not tripped; nothing to reset")
		return nil
	}

	if daemon.BreakerResetPending(fleetRoot) {
		fmt.Println("Reset already requested")
		return nil
	}

	if err := daemon.RequestBreakerReset(fleetRoot); err != nil {
		return fmt.Errorf("requesting breaker reset: %w", err)
	}

	fmt.Printf("%s Breaker reset requested\n", style.SuccessPrefix)
	if running, _ := daemon.IsRunning(fleetRoot); running {
		fmt.Printf("%s The daemon applies it on its next iteration\n", style.ArrowPrefix)
	} else {
		fmt.Printf("%s The daemon is stopped; the reset applies when it starts\n", style.ArrowPrefix)
	}
	return nil
}

package cmd

import (
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rjwalters/loom-sub010/internal/config"
	"github.com/rjwalters/loom-sub010/internal/session"
	"github.com/rjwalters/loom-sub010/internal/shepherd"
	"github.com/rjwalters/loom-sub010/internal/tmux"
	"github.com/rjwalters/loom-sub010/internal/tracker"
	"github.com/rjwalters/loom-sub010/internal/worktree"
)

var (
	shepherdSlot int
	shepherdID   string
	shepherdItem string
)

// shepherdCmd is hidden: the daemon spawns `shep shepherd run` itself and
// encodes the outcome in the exit code. Operators interact through the
// daemon, not through this.
var shepherdCmd = &cobra.Command{
	Use:    "shepherd",
	Hidden: true,
	Short:  "Run a single shepherd (internal)",
	RunE:   requireSubcommand,
}

var shepherdRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Drive one work item to completion",
	RunE:  runShepherdRun,
}

func init() {
	shepherdRunCmd.Flags().StringVar(&fleetRoot, "root", "", "Fleet root directory")
	shepherdRunCmd.Flags().IntVar(&shepherdSlot, "slot", 0, "Pool slot index")
	shepherdRunCmd.Flags().StringVar(&shepherdID, "id", "", "Shepherd id")
	shepherdRunCmd.Flags().StringVar(&shepherdItem, "item", "", "Work item id")

	shepherdCmd.AddCommand(shepherdRunCmd)
	rootCmd.AddCommand(shepherdCmd)
}

func runShepherdRun(cmd *cobra.Command, args []string) error {
	if shepherdID == "" || shepherdItem == "" {
		return errors.New("--id and --item are required")
	}

	cfg, err := config.Load(fleetRoot)
	if err != nil {
		cfg = config.Default()
	}

	// The daemon pointed our stdout and stderr at the run log already.
	logger := log.New(os.Stderr, "", log.LstdFlags)

	sh := shepherd.New(shepherd.Config{
		Root:           fleetRoot,
		Slot:           shepherdSlot,
		ID:             shepherdID,
		ItemID:         shepherdItem,
		WorkerCommand:  cfg.Worker.Command,
		AutoApprove:    cfg.Fleet.AutoApprove,
		PhaseBudget:    cfg.GetPhaseBudget(),
		ApprovalWait:   cfg.GetApprovalWait(),
		ReviewCycleCap: cfg.Worker.ReviewCycleCap,
	},
		tracker.NewCLIClient(cfg.Tracker.Command, fleetRoot),
		session.NewTmuxService(tmux.NewTmux()),
		worktree.NewManager(fleetRoot, cfg.Worktree.BaseBranch, cfg.GetMergeGrace()),
		logger,
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	outcome := sh.Run(ctx)
	stop()

	// The daemon reads the outcome back from the exit code, so this must
	// bypass cobra's error-to-exit-1 mapping.
	os.Exit(outcome.ExitCode())
	return nil
}

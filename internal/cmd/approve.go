package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rjwalters/loom-sub010/internal/config"
	"github.com/rjwalters/loom-sub010/internal/labels"
	"github.com/rjwalters/loom-sub010/internal/style"
	"github.com/rjwalters/loom-sub010/internal/tracker"
)

var approveCmd = &cobra.Command{
	Use:     "approve <item...>",
	GroupID: GroupWork,
	Short:   "Approve curated items for the fleet",
	Long: `Move curated items to approved so the daemon may claim them.

Only needed when auto_approve is off; with it on, the daemon treats
curated items as claimable already.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runApprove,
}

func init() {
	rootCmd.AddCommand(approveCmd)
}

func runApprove(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(fleetRoot)
	if err != nil {
		cfg = config.Default()
	}

	tc := tracker.NewCLIClient(cfg.Tracker.Command, fleetRoot)
	machine := labels.NewMachine(tc)

	var failed int
	for _, itemID := range args {
		item, err := tc.Get(cmd.Context(), itemID)
		if err != nil {
			if errors.Is(err, tracker.ErrNotFound) {
				fmt.Printf("%s %s: not found in tracker\n", style.ErrorPrefix, itemID)
			} else {
				fmt.Printf("%s %s: %v\n", style.ErrorPrefix, itemID, err)
			}
			failed++
			continue
		}

		st := labels.Classify(item.Labels)
		switch st.Primary {
		case tracker.LabelCurated:
			// Proceed with the transition below.
		case tracker.LabelApproved:
			fmt.Printf("  %s already approved\n", itemID)
			continue
		default:
			fmt.Printf("%s %s is %s, only curated items can be approved\n",
				style.ErrorPrefix, itemID, st.Primary)
			failed++
			continue
		}

		if err := machine.Transition(cmd.Context(), itemID, tracker.LabelCurated, tracker.LabelApproved); err != nil {
			fmt.Printf("%s %s: %v\n", style.ErrorPrefix, itemID, err)
			failed++
			continue
		}
		fmt.Printf("%s approved %s\n", style.SuccessPrefix, itemID)
	}

	if failed > 0 {
		return fmt.Errorf("%d item(s) not approved", failed)
	}
	return nil
}

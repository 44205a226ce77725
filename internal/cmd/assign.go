package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rjwalters/loom-sub010/internal/config"
	"github.com/rjwalters/loom-sub010/internal/daemon"
	"github.com/rjwalters/loom-sub010/internal/events"
	"github.com/rjwalters/loom-sub010/internal/labels"
	"github.com/rjwalters/loom-sub010/internal/style"
	"github.com/rjwalters/loom-sub010/internal/tracker"
)

var assignCmd = &cobra.Command{
	Use:     "assign <item>",
	GroupID: GroupWork,
	Short:   "Queue an item for the next free slot",
	Long: `Queue a directed assignment for the daemon.

The item skips backlog ordering: the daemon claims it on its next
iteration if a slot is free and the item is in a claimable state.
Assignments survive daemon restarts.`,
	Args: cobra.ExactArgs(1),
	RunE: runAssign,
}

func init() {
	rootCmd.AddCommand(assignCmd)
}

func runAssign(cmd *cobra.Command, args []string) error {
	itemID := args[0]

	cfg, err := config.Load(fleetRoot)
	if err != nil {
		cfg = config.Default()
	}

	// Catch typos while the operator is still watching.
	tc := tracker.NewCLIClient(cfg.Tracker.Command, fleetRoot)
	item, err := tc.Get(cmd.Context(), itemID)
	if err != nil {
		if errors.Is(err, tracker.ErrNotFound) {
			return fmt.Errorf("item %s not found in tracker", itemID)
		}
		return fmt.Errorf("looking up %s: %w", itemID, err)
	}

	st := labels.Classify(item.Labels)
	if st.Owned() {
		return fmt.Errorf("item %s is already %s; reclaim it first", itemID, st.Primary)
	}
	if !st.Claimable(true) {
		return fmt.Errorf("item %s is not claimable (state %s)", itemID, st.Primary)
	}

	by := os.Getenv("USER")
	if err := daemon.QueueAssignment(fleetRoot, daemon.Assignment{
		ItemID:      itemID,
		RequestedBy: by,
		At:          time.Now(),
	}); err != nil {
		return fmt.Errorf("queueing assignment: %w", err)
	}

	if err := events.Append(fleetRoot, events.TypeAssigned, "cli", events.AssignPayload(itemID, by)); err != nil {
		style.PrintWarning("could not record event: %v", err)
	}

	fmt.Printf("%s Assignment queued for %s\n", style.SuccessPrefix, itemID)
	fmt.Printf("%s The daemon claims it on its next iteration\n", style.ArrowPrefix)
	return nil
}

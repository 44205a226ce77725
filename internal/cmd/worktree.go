package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rjwalters/loom-sub010/internal/config"
	"github.com/rjwalters/loom-sub010/internal/style"
	"github.com/rjwalters/loom-sub010/internal/worktree"
)

var worktreeForce bool

var worktreeCmd = &cobra.Command{
	Use:     "worktree",
	Aliases: []string{"wt"},
	GroupID: GroupWork,
	Short:   "Inspect and clean up item worktrees",
	RunE:    requireSubcommand,
}

var worktreeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked worktrees",
	RunE:  runWorktreeList,
}

var worktreeCleanCmd = &cobra.Command{
	Use:   "clean [item...]",
	Short: "Remove merged worktrees past the grace period",
	Long: `Remove worktrees whose items were merged and whose grace period has
elapsed. With item arguments, only those are considered. --force removes
the named items regardless of merge state or uncommitted changes.`,
	RunE: runWorktreeClean,
}

func init() {
	worktreeCleanCmd.Flags().BoolVar(&worktreeForce, "force", false, "Remove even if unmerged or dirty")
	worktreeCmd.AddCommand(worktreeListCmd)
	worktreeCmd.AddCommand(worktreeCleanCmd)
	rootCmd.AddCommand(worktreeCmd)
}

func worktreeManager() (*worktree.Manager, *config.Config) {
	cfg, err := config.Load(fleetRoot)
	if err != nil {
		cfg = config.Default()
	}
	return worktree.NewManager(fleetRoot, cfg.Worktree.BaseBranch, cfg.GetMergeGrace()), cfg
}

func runWorktreeList(cmd *cobra.Command, args []string) error {
	mgr, _ := worktreeManager()

	metas := mgr.Tracked()
	if len(metas) == 0 {
		fmt.Println("No worktrees tracked")
		return nil
	}

	fmt.Printf("%-12s %-24s %-18s %s\n", "ITEM", "BRANCH", "STATE", "PATH")
	for _, meta := range metas {
		state := "active"
		if meta.MergedAt != nil {
			state = fmt.Sprintf("merged %s ago", time.Since(*meta.MergedAt).Round(time.Minute))
		}
		if _, err := os.Stat(meta.Path); err != nil {
			state += " (dir missing)"
		}
		fmt.Printf("%-12s %-24s %-18s %s\n", meta.ItemID, meta.Branch, state, meta.Path)
	}
	return nil
}

func runWorktreeClean(cmd *cobra.Command, args []string) error {
	mgr, _ := worktreeManager()

	targets := args
	if len(targets) == 0 {
		if worktreeForce {
			return errors.New("refusing to force-clean everything; name the item(s)")
		}
		for _, meta := range mgr.Tracked() {
			targets = append(targets, meta.ItemID)
		}
	}
	if len(targets) == 0 {
		fmt.Println("No worktrees tracked")
		return nil
	}

	var removed, skipped, failed int
	for _, itemID := range targets {
		err := mgr.Remove(cmd.Context(), itemID, worktree.RemoveOptions{Force: worktreeForce})
		switch {
		case err == nil:
			removed++
			fmt.Printf("%s removed %s\n", style.SuccessPrefix, itemID)
		case errors.Is(err, worktree.ErrNotMerged),
			errors.Is(err, worktree.ErrGraceNotElapsed),
			errors.Is(err, worktree.ErrUncommitted):
			skipped++
			fmt.Printf("  skipped %s: %v\n", itemID, err)
		case errors.Is(err, worktree.ErrNotTracked):
			skipped++
			fmt.Printf("  skipped %s: not tracked\n", itemID)
		default:
			failed++
			fmt.Printf("%s %s: %v\n", style.ErrorPrefix, itemID, err)
		}
	}

	fmt.Printf("\nRemoved %d, skipped %d", removed, skipped)
	if failed > 0 {
		fmt.Printf(", failed %d", failed)
	}
	fmt.Println()

	if failed > 0 {
		return fmt.Errorf("%d removal(s) failed", failed)
	}
	return nil
}

package doctor

import (
	"context"
	"fmt"

	"github.com/rjwalters/loom-sub010/internal/worktree"
)

// WorktreeCheck reconciles worktree metadata against disk. It flags
// metadata whose directory is gone and live worktrees nothing tracks.
// Removing trees for closed items is left to the daemon, which has the
// tracker context to decide that safely.
type WorktreeCheck struct {
	FixableCheck

	// orphans found by Run, cached for Fix.
	orphans []worktree.Orphan
}

// NewWorktreeCheck creates a new worktree metadata check.
func NewWorktreeCheck() *WorktreeCheck {
	return &WorktreeCheck{
		FixableCheck: FixableCheck{
			BaseCheck: BaseCheck{
				CheckName:        "worktrees",
				CheckDescription: "Check that worktree metadata matches disk",
				CheckCategory:    CategoryCleanup,
			},
		},
	}
}

func (c *WorktreeCheck) manager(ctx *CheckContext) *worktree.Manager {
	cfg := ctx.Cfg()
	return worktree.NewManager(ctx.Root, cfg.Worktree.BaseBranch, cfg.GetMergeGrace())
}

// allOpen treats every item as open so the sweep never proposes removal.
func allOpen(itemID string) (bool, error) { return false, nil }

// Run compares tracked metadata with live worktrees.
func (c *WorktreeCheck) Run(ctx *CheckContext) *CheckResult {
	mgr := c.manager(ctx)
	orphans, err := mgr.Orphans(context.Background(), allOpen)
	if err != nil {
		return &CheckResult{
			Name:    c.Name(),
			Status:  StatusWarning,
			Message: "Could not sweep worktrees",
			Details: []string{err.Error()},
		}
	}

	c.orphans = orphans

	if len(orphans) == 0 {
		return &CheckResult{
			Name:    c.Name(),
			Status:  StatusOK,
			Message: fmt.Sprintf("%d worktree(s) tracked, metadata consistent", len(mgr.Tracked())),
		}
	}

	var details []string
	for _, o := range orphans {
		switch o.Action {
		case worktree.OrphanDropMeta:
			details = append(details, fmt.Sprintf("%s: metadata points to missing directory %s", o.ItemID, o.Path))
		case worktree.OrphanAdopt:
			details = append(details, fmt.Sprintf("%s: live worktree %s is not tracked", o.ItemID, o.Path))
		default:
			details = append(details, fmt.Sprintf("%s: %s (%s)", o.ItemID, o.Path, o.Action))
		}
	}

	return &CheckResult{
		Name:    c.Name(),
		Status:  StatusWarning,
		Message: fmt.Sprintf("%d worktree inconsistency(ies) found", len(orphans)),
		Details: details,
		FixHint: "Run 'shep doctor --fix' to reconcile metadata",
	}
}

// Fix drops stale metadata and adopts untracked worktrees.
func (c *WorktreeCheck) Fix(ctx *CheckContext) error {
	mgr := c.manager(ctx)
	for _, o := range c.orphans {
		switch o.Action {
		case worktree.OrphanDropMeta:
			if err := mgr.Forget(o.ItemID); err != nil {
				return fmt.Errorf("dropping metadata for %s: %w", o.ItemID, err)
			}
		case worktree.OrphanAdopt:
			if err := mgr.Adopt(o.ItemID, o.Path, o.Branch); err != nil {
				return fmt.Errorf("adopting worktree %s: %w", o.Path, err)
			}
		}
	}
	return nil
}

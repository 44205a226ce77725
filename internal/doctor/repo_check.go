package doctor

import (
	"context"
	"fmt"
	"strings"

	"github.com/rjwalters/loom-sub010/internal/constants"
	"github.com/rjwalters/loom-sub010/internal/git"
	"github.com/rjwalters/loom-sub010/internal/worktree"
)

// driftWarnCommits is how far a work branch may fall behind the base
// branch before the repository check flags it.
const driftWarnCommits = 50

// RepoCheck verifies the fleet root is a git repository, that the primary
// checkout is not sitting on an item work branch, and that tracked work
// branches have not drifted far behind the base branch.
type RepoCheck struct {
	BaseCheck
}

// NewRepoCheck creates a new repository state check.
func NewRepoCheck() *RepoCheck {
	return &RepoCheck{
		BaseCheck: BaseCheck{
			CheckName:        "repository",
			CheckDescription: "Check that the fleet root is a healthy git repository",
			CheckCategory:    CategoryCore,
		},
	}
}

// Run inspects the repository at the fleet root.
func (c *RepoCheck) Run(ctx *CheckContext) *CheckResult {
	g := git.New(ctx.Root)
	bg := context.Background()

	if !g.IsRepo(bg) {
		return &CheckResult{
			Name:    c.Name(),
			Status:  StatusError,
			Message: "Fleet root is not a git repository",
			FixHint: "Run shep inside the repository it builds; worktrees are cut from it",
		}
	}

	branch, err := g.CurrentBranch(bg)
	if err != nil {
		return &CheckResult{
			Name:    c.Name(),
			Status:  StatusWarning,
			Message: "Could not read the checked-out branch",
			Details: []string{err.Error()},
		}
	}
	if strings.HasPrefix(branch, constants.BranchPrefix) {
		return &CheckResult{
			Name:    c.Name(),
			Status:  StatusWarning,
			Message: fmt.Sprintf("Primary checkout is on work branch %s", branch),
			FixHint: "Check out the base branch; work branches belong to item worktrees",
		}
	}

	cfg := ctx.Cfg()
	base := cfg.Worktree.BaseBranch
	mgr := worktree.NewManager(ctx.Root, base, cfg.GetMergeGrace())

	var drifted []string
	for _, meta := range mgr.Tracked() {
		// A missing branch is the worktree check's finding, not ours.
		behind, err := g.CountCommitsBehind(bg, base, meta.Branch)
		if err != nil {
			continue
		}
		if behind >= driftWarnCommits {
			drifted = append(drifted, fmt.Sprintf("%s: %s is %d commits behind %s", meta.ItemID, meta.Branch, behind, base))
		}
	}
	if len(drifted) > 0 {
		return &CheckResult{
			Name:    c.Name(),
			Status:  StatusWarning,
			Message: fmt.Sprintf("%d work branch(es) far behind %s", len(drifted), base),
			Details: drifted,
			FixHint: "Rebase the branches onto " + base + " or finish their items",
		}
	}

	return &CheckResult{
		Name:    c.Name(),
		Status:  StatusOK,
		Message: "git repository on " + branch,
	}
}

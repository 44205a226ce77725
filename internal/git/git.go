// Package git wraps the git CLI for worktree and branch management.
package git

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Git runs git commands against one repository.
type Git struct {
	repoDir string
}

// New returns a Git for the repository at repoDir.
func New(repoDir string) *Git {
	return &Git{repoDir: repoDir}
}

// RepoDir returns the repository path this Git operates on.
func (g *Git) RepoDir() string {
	return g.repoDir
}

// run executes git in the repo directory and returns trimmed stdout.
func (g *Git) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...) //nolint:gosec // G204: arguments are constructed internally
	cmd.Dir = g.repoDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

// IsRepo reports whether repoDir is inside a git repository.
func (g *Git) IsRepo(ctx context.Context) bool {
	_, err := g.run(ctx, "rev-parse", "--git-dir")
	return err == nil
}

// Version returns the git version string, e.g. "2.43.0".
func (g *Git) Version(ctx context.Context) (string, error) {
	out, err := g.run(ctx, "--version")
	if err != nil {
		return "", err
	}
	return strings.TrimPrefix(out, "git version "), nil
}

// CurrentBranch returns the branch checked out in repoDir.
func (g *Git) CurrentBranch(ctx context.Context) (string, error) {
	return g.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
}

// WorktreeAddFromRef creates a worktree at path on a new branch cut from
// startPoint. If the branch already exists (a previous attempt was
// interrupted) the worktree is attached to it instead.
func (g *Git) WorktreeAddFromRef(ctx context.Context, path, branch, startPoint string) error {
	_, err := g.run(ctx, "worktree", "add", "-b", branch, path, startPoint)
	if err != nil && strings.Contains(err.Error(), "already exists") {
		_, err = g.run(ctx, "worktree", "add", path, branch)
	}
	if err != nil {
		return fmt.Errorf("adding worktree %s: %w", path, err)
	}
	return nil
}

// WorktreeRemove removes the worktree at path.
func (g *Git) WorktreeRemove(ctx context.Context, path string, force bool) error {
	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, path)
	if _, err := g.run(ctx, args...); err != nil {
		return fmt.Errorf("removing worktree %s: %w", path, err)
	}
	return nil
}

// WorktreePrune drops worktree bookkeeping for directories deleted behind
// git's back.
func (g *Git) WorktreePrune(ctx context.Context) error {
	_, err := g.run(ctx, "worktree", "prune")
	return err
}

// WorktreeInfo is one entry of `git worktree list --porcelain`.
type WorktreeInfo struct {
	Path   string
	Head   string
	Branch string // short branch name, empty when detached
}

// WorktreeList returns every worktree git knows about, including the
// primary checkout.
func (g *Git) WorktreeList(ctx context.Context) ([]WorktreeInfo, error) {
	out, err := g.run(ctx, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}
	return parseWorktreeList(out), nil
}

// parseWorktreeList parses porcelain output: entries are attribute lines
// separated by blank lines.
func parseWorktreeList(out string) []WorktreeInfo {
	var infos []WorktreeInfo
	var cur *WorktreeInfo
	flush := func() {
		if cur != nil && cur.Path != "" {
			infos = append(infos, *cur)
		}
		cur = nil
	}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			flush()
			continue
		}
		if cur == nil {
			cur = &WorktreeInfo{}
		}
		switch {
		case strings.HasPrefix(line, "worktree "):
			cur.Path = strings.TrimPrefix(line, "worktree ")
		case strings.HasPrefix(line, "HEAD "):
			cur.Head = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch "):
			cur.Branch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
		}
	}
	flush()
	return infos
}

// StatusPorcelain returns the changed paths in dir, one per entry. An
// empty result means the tree is clean.
func (g *Git) StatusPorcelain(ctx context.Context, dir string) ([]string, error) {
	sub := &Git{repoDir: dir}
	out, err := sub.run(ctx, "status", "--porcelain")
	if err != nil {
		return nil, err
	}
	var files []string
	for _, line := range strings.Split(out, "\n") {
		if len(line) > 3 {
			files = append(files, strings.TrimSpace(line[3:]))
		}
	}
	return files, nil
}

// DeleteBranch deletes a local branch. force uses -D so unmerged branches
// go too.
func (g *Git) DeleteBranch(ctx context.Context, branch string, force bool) error {
	flag := "-d"
	if force {
		flag = "-D"
	}
	_, err := g.run(ctx, "branch", flag, branch)
	return err
}

// CountCommitsBehind returns how many commits ref is behind base.
func (g *Git) CountCommitsBehind(ctx context.Context, base, ref string) (int, error) {
	out, err := g.run(ctx, "rev-list", "--count", ref+".."+base)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(out)
	if err != nil {
		return 0, fmt.Errorf("parsing rev-list count %q: %w", out, err)
	}
	return n, nil
}

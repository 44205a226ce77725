package doctor

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/rjwalters/loom-sub010/internal/git"
	"github.com/rjwalters/loom-sub010/internal/tmux"
)

// MinGitVersion is the oldest git the fleet supports. Worktree removal via
// `git worktree remove` needs 2.17.
const MinGitVersion = "2.17.0"

// MinTrackerVersion is the oldest compatible tracker CLI. Older releases
// lack the compare-and-swap exit code label moves depend on.
const MinTrackerVersion = "0.9.0"

// GitCheck verifies git is installed and new enough for worktree management.
type GitCheck struct {
	BaseCheck
}

// NewGitCheck creates a new git dependency check.
func NewGitCheck() *GitCheck {
	return &GitCheck{
		BaseCheck: BaseCheck{
			CheckName:        "git",
			CheckDescription: "Check that git is installed and supports worktree removal",
			CheckCategory:    CategoryInfrastructure,
		},
	}
}

// Run checks the git binary and its version.
func (c *GitCheck) Run(ctx *CheckContext) *CheckResult {
	if _, err := exec.LookPath("git"); err != nil {
		return &CheckResult{
			Name:    c.Name(),
			Status:  StatusError,
			Message: "git not found in PATH",
			FixHint: "Install git " + MinGitVersion + " or newer",
		}
	}

	raw, err := git.New(ctx.Root).Version(context.Background())
	if err != nil {
		return &CheckResult{
			Name:    c.Name(),
			Status:  StatusWarning,
			Message: "git found but 'git --version' failed",
			Details: []string{err.Error()},
		}
	}

	version := parseSemver(raw)
	if version == "" {
		return &CheckResult{
			Name:    c.Name(),
			Status:  StatusWarning,
			Message: "Could not parse git version",
			Details: []string{raw},
		}
	}

	if compareVersions(version, MinGitVersion) < 0 {
		return &CheckResult{
			Name:    c.Name(),
			Status:  StatusError,
			Message: fmt.Sprintf("git %s is too old (minimum: %s)", version, MinGitVersion),
			FixHint: "Upgrade git; worktree cleanup needs `git worktree remove`",
		}
	}

	return &CheckResult{
		Name:    c.Name(),
		Status:  StatusOK,
		Message: "git " + version,
	}
}

// TmuxCheck verifies tmux is installed. Worker and role sessions run inside
// tmux, so nothing spawns without it.
type TmuxCheck struct {
	BaseCheck
}

// NewTmuxCheck creates a new tmux dependency check.
func NewTmuxCheck() *TmuxCheck {
	return &TmuxCheck{
		BaseCheck: BaseCheck{
			CheckName:        "tmux",
			CheckDescription: "Check that tmux is installed",
			CheckCategory:    CategoryInfrastructure,
		},
	}
}

// Run checks the tmux binary.
func (c *TmuxCheck) Run(ctx *CheckContext) *CheckResult {
	if !tmux.NewTmux().IsAvailable() {
		return &CheckResult{
			Name:    c.Name(),
			Status:  StatusError,
			Message: "tmux not found in PATH",
			FixHint: "Install tmux; worker sessions run inside it",
		}
	}

	output, err := exec.Command("tmux", "-V").Output()
	if err != nil {
		return &CheckResult{
			Name:    c.Name(),
			Status:  StatusWarning,
			Message: "tmux found but 'tmux -V' failed",
			Details: []string{err.Error()},
		}
	}

	return &CheckResult{
		Name:    c.Name(),
		Status:  StatusOK,
		Message: strings.TrimSpace(string(output)),
	}
}

// TrackerCheck verifies the work tracker CLI is installed and compatible.
type TrackerCheck struct {
	BaseCheck
}

// NewTrackerCheck creates a new tracker CLI dependency check.
func NewTrackerCheck() *TrackerCheck {
	return &TrackerCheck{
		BaseCheck: BaseCheck{
			CheckName:        "tracker",
			CheckDescription: "Check that the work tracker CLI is installed and compatible",
			CheckCategory:    CategoryInfrastructure,
		},
	}
}

// Run checks the configured tracker command and its version.
func (c *TrackerCheck) Run(ctx *CheckContext) *CheckResult {
	command := ctx.Cfg().Tracker.Command
	if command == "" {
		command = "wk"
	}

	if _, err := exec.LookPath(command); err != nil {
		return &CheckResult{
			Name:    c.Name(),
			Status:  StatusError,
			Message: fmt.Sprintf("tracker CLI %q not found in PATH", command),
			FixHint: "Install the tracker CLI or set tracker.command in config.toml",
		}
	}

	output, err := exec.Command(command, "--version").Output()
	if err != nil {
		// Old trackers without --version still work for label moves.
		return &CheckResult{
			Name:    c.Name(),
			Status:  StatusWarning,
			Message: fmt.Sprintf("%s found but version unknown", command),
			Details: []string{err.Error()},
		}
	}

	version := parseSemver(string(output))
	if version == "" {
		return &CheckResult{
			Name:    c.Name(),
			Status:  StatusWarning,
			Message: fmt.Sprintf("Could not parse %s version", command),
			Details: []string{strings.TrimSpace(string(output))},
		}
	}

	if compareVersions(version, MinTrackerVersion) < 0 {
		return &CheckResult{
			Name:    c.Name(),
			Status:  StatusError,
			Message: fmt.Sprintf("%s %s is too old (minimum: %s)", command, version, MinTrackerVersion),
			FixHint: "Upgrade the tracker CLI",
		}
	}

	return &CheckResult{
		Name:    c.Name(),
		Status:  StatusOK,
		Message: fmt.Sprintf("%s %s", command, version),
	}
}

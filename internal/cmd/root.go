// Package cmd provides CLI commands for the shep tool.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rjwalters/loom-sub010/internal/workspace"
)

var rootCmd = &cobra.Command{
	Use:     "shep",
	Short:   "Shepherd fleet - autonomous coding-agent orchestration",
	Version: Version,
	Long: `Shep runs a fleet of shepherds: supervisor processes that each drive
one work item through curation, build, review, and merge using a coding
agent in a tmux session.

The daemon watches the tracker backlog, spawns shepherds onto idle
slots, reclaims the stuck ones, and escalates items that keep failing.`,
	PersistentPreRunE: persistentPreRun,
}

// fleetRoot is the resolved workspace root, set by persistentPreRun for
// every command that is not exempt.
var fleetRoot string

// rootExemptCommands run outside a fleet workspace.
var rootExemptCommands = map[string]bool{
	"init":       true,
	"version":    true,
	"help":       true,
	"completion": true,
}

// persistentPreRun resolves the fleet root before every command. An
// explicitly set root (the daemon passes --root to spawned shepherds) is
// verified instead of discovered.
func persistentPreRun(cmd *cobra.Command, args []string) error {
	if rootExemptCommands[cmd.Name()] {
		return nil
	}
	if fleetRoot != "" {
		ok, err := workspace.IsRoot(fleetRoot)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%s is not a fleet workspace (missing %s)", fleetRoot, workspace.Marker)
		}
		return nil
	}

	root, err := workspace.FindFromCwd()
	if err != nil {
		return fmt.Errorf("not in a fleet workspace (run 'shep init' first): %w", err)
	}
	fleetRoot = root
	return nil
}

// Execute runs the root command and returns an exit code.
// The caller (main) should call os.Exit with this code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		// Errors already printed by cobra
		return 1
	}
	return 0
}

// Command group IDs - used by subcommands to organize help output
const (
	GroupFleet = "fleet"
	GroupWork  = "work"
	GroupDiag  = "diag"
	GroupSetup = "setup"
)

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: GroupFleet, Title: "Fleet Control:"},
		&cobra.Group{ID: GroupWork, Title: "Work Items:"},
		&cobra.Group{ID: GroupDiag, Title: "Diagnostics:"},
		&cobra.Group{ID: GroupSetup, Title: "Setup:"},
	)

	rootCmd.SetHelpCommandGroupID(GroupDiag)
	rootCmd.SetCompletionCommandGroupID(GroupSetup)
}

// requireSubcommand returns a RunE for parent commands that need a
// subcommand. Without this, Cobra silently shows help and exits 0 for
// unknown subcommands, masking typos.
func requireSubcommand(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("requires a subcommand\n\nRun 'shep %s --help' for usage", cmd.Name())
	}
	return fmt.Errorf("unknown command %q for %q\n\nRun 'shep %s --help' for available commands",
		args[0], cmd.Name(), cmd.Name())
}

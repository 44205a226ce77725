package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rjwalters/loom-sub010/internal/config"
	"github.com/rjwalters/loom-sub010/internal/constants"
	"github.com/rjwalters/loom-sub010/internal/style"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:     "init",
	GroupID: GroupSetup,
	Short:   "Initialize a fleet workspace in the current directory",
	Long: `Create the .shepherd directory with a default config.toml.

The workspace root is where the daemon keeps its state, run files,
event log, and per-item worktrees. Edit .shepherd/config.toml to set
the worker command, fleet size, and roles before running 'shep up'.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	root, err := os.Getwd()
	if err != nil {
		return err
	}

	configPath := constants.ConfigPath(root)
	if _, err := os.Stat(configPath); err == nil && !initForce {
		return fmt.Errorf("workspace already initialized (%s exists); use --force to overwrite", configPath)
	}

	if err := config.Save(root, config.Default()); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	for _, dir := range []string{
		constants.DaemonDir(root),
		constants.RunsDir(root),
		constants.WorktreesDir(root),
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	fmt.Printf("%s Initialized fleet workspace at %s\n", style.SuccessPrefix, root)
	fmt.Printf("  %s Edit %s, then run %s\n",
		style.ArrowPrefix, style.Bold.Render(configPath), style.Bold.Render("shep up"))
	return nil
}

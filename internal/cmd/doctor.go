package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rjwalters/loom-sub010/internal/config"
	"github.com/rjwalters/loom-sub010/internal/doctor"
)

var (
	doctorFix     bool
	doctorVerbose bool
	doctorJSON    bool
)

var doctorCmd = &cobra.Command{
	Use:     "doctor",
	GroupID: GroupDiag,
	Short:   "Diagnose fleet problems",
	Long: `Run health checks against the workspace, config, external tools,
daemon state, worktrees, and sessions. --fix repairs what is safe to
repair automatically.`,
	RunE: runDoctor,
}

func init() {
	doctorCmd.Flags().BoolVar(&doctorFix, "fix", false, "Fix problems where possible")
	doctorCmd.Flags().BoolVarP(&doctorVerbose, "verbose", "v", false, "Show details for passing checks too")
	doctorCmd.Flags().BoolVar(&doctorJSON, "json", false, "Output as JSON")
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	// A broken config is itself a finding, so load errors are not fatal here.
	cfg, _ := config.Load(fleetRoot)

	ctx := &doctor.CheckContext{
		Root:    fleetRoot,
		Config:  cfg,
		Verbose: doctorVerbose,
	}

	d := doctor.NewDoctor()
	d.RegisterAll(doctor.FleetChecks()...)

	var report *doctor.Report
	if doctorFix {
		report = d.Fix(ctx)
	} else {
		report = d.Run(ctx)
	}

	if doctorJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		report.Print(os.Stdout, doctorVerbose)
	}

	if report.HasErrors() {
		return fmt.Errorf("doctor found %d error(s)", report.Summary.Errors)
	}
	return nil
}

// Package doctor diagnoses common fleet problems and fixes the safe ones.
//
// Each check inspects one concern (a binary on PATH, a config file, leftover
// state) and reports a CheckResult. Checks that embed FixableCheck and
// implement Fix can repair what they find; Doctor.Fix re-runs the check
// afterwards so the report shows the post-fix status.
package doctor

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/rjwalters/loom-sub010/internal/config"
)

// Status classifies a check outcome.
type Status int

const (
	StatusOK Status = iota
	StatusWarning
	StatusError
)

// String returns the lowercase status name.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusWarning:
		return "warning"
	case StatusError:
		return "error"
	}
	return "unknown"
}

// MarshalJSON encodes the status as its string name.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Check categories, used to group report output.
const (
	CategoryCore           = "core"
	CategoryConfig         = "config"
	CategoryInfrastructure = "infrastructure"
	CategoryCleanup        = "cleanup"
)

// CheckContext carries the workspace a check should inspect.
type CheckContext struct {
	// Root is the fleet workspace root (the directory holding .shepherd/).
	Root string

	// Config is the loaded fleet config, or nil when it failed to load.
	// Checks that need settings fall back to defaults when nil.
	Config *config.Config

	// Verbose requests extra detail in results.
	Verbose bool
}

// Cfg returns the context config, or defaults when none was loaded.
func (ctx *CheckContext) Cfg() *config.Config {
	if ctx.Config != nil {
		return ctx.Config
	}
	return config.Default()
}

// CheckResult is the outcome of running one check.
type CheckResult struct {
	Name    string   `json:"name"`
	Status  Status   `json:"status"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`

	// FixHint tells the operator how to resolve a non-OK result.
	FixHint string `json:"fix_hint,omitempty"`
}

// Check is a single health check.
type Check interface {
	Name() string
	Description() string
	Category() string
	Run(ctx *CheckContext) *CheckResult
}

// Fixable is a check that can repair what it detects.
type Fixable interface {
	Check
	Fix(ctx *CheckContext) error
}

// BaseCheck provides the identity methods for a check.
type BaseCheck struct {
	CheckName        string
	CheckDescription string
	CheckCategory    string
}

func (b *BaseCheck) Name() string        { return b.CheckName }
func (b *BaseCheck) Description() string { return b.CheckDescription }
func (b *BaseCheck) Category() string    { return b.CheckCategory }

// CanFix reports whether the check implements a fix. Overridden by
// FixableCheck.
func (b *BaseCheck) CanFix() bool { return false }

// FixableCheck marks a check as repairable. Embedders must implement
// Fix(ctx) error.
type FixableCheck struct {
	BaseCheck
}

func (f *FixableCheck) CanFix() bool { return true }

// Doctor runs a registered list of checks.
type Doctor struct {
	checks []Check
}

// NewDoctor creates an empty doctor.
func NewDoctor() *Doctor {
	return &Doctor{}
}

// Register adds a check. Checks run in registration order.
func (d *Doctor) Register(c Check) {
	d.checks = append(d.checks, c)
}

// RegisterAll adds several checks at once.
func (d *Doctor) RegisterAll(checks ...Check) {
	d.checks = append(d.checks, checks...)
}

// Run executes every check and returns the report.
func (d *Doctor) Run(ctx *CheckContext) *Report {
	report := &Report{}
	for _, c := range d.checks {
		report.add(c, c.Run(ctx))
	}
	return report
}

// Fix executes every check and attempts to repair non-OK results where the
// check supports it. Fixed checks are re-run so the report reflects the
// state after repair.
func (d *Doctor) Fix(ctx *CheckContext) *Report {
	report := &Report{}
	for _, c := range d.checks {
		result := c.Run(ctx)
		if result.Status != StatusOK {
			if f, ok := c.(Fixable); ok {
				if err := f.Fix(ctx); err != nil {
					result.Details = append(result.Details, "fix failed: "+err.Error())
				} else {
					rerun := c.Run(ctx)
					if rerun.Status == StatusOK {
						rerun.Message += " (fixed)"
						report.Summary.Fixed++
					}
					result = rerun
				}
			}
		}
		report.add(c, result)
	}
	return report
}

// Summary tallies results by status.
type Summary struct {
	OK       int `json:"ok"`
	Warnings int `json:"warnings"`
	Errors   int `json:"errors"`
	Fixed    int `json:"fixed,omitempty"`
}

// Report is the outcome of a doctor run.
type Report struct {
	Checks  []*CheckResult `json:"checks"`
	Summary Summary        `json:"summary"`

	// categories records the category of each result, parallel to Checks,
	// so Print can group output. Registration order is preserved.
	categories []string
}

func (r *Report) add(c Check, result *CheckResult) {
	r.Checks = append(r.Checks, result)
	r.categories = append(r.categories, c.Category())
	switch result.Status {
	case StatusOK:
		r.Summary.OK++
	case StatusWarning:
		r.Summary.Warnings++
	case StatusError:
		r.Summary.Errors++
	}
}

// HasErrors reports whether any check failed outright.
func (r *Report) HasErrors() bool {
	return r.Summary.Errors > 0
}

func glyph(s Status) string {
	switch s {
	case StatusOK:
		return "✓"
	case StatusWarning:
		return "!"
	case StatusError:
		return "✗"
	}
	return "?"
}

// Print writes a human-readable report. Details and fix hints are shown for
// non-OK results; verbose shows details for everything.
func (r *Report) Print(w io.Writer, verbose bool) {
	lastCategory := ""
	for i, result := range r.Checks {
		if cat := r.categories[i]; cat != lastCategory {
			if lastCategory != "" {
				fmt.Fprintln(w)
			}
			fmt.Fprintf(w, "%s\n", cat)
			lastCategory = cat
		}

		fmt.Fprintf(w, "  %s %s: %s\n", glyph(result.Status), result.Name, result.Message)

		if result.Status != StatusOK || verbose {
			for _, detail := range result.Details {
				fmt.Fprintf(w, "      %s\n", detail)
			}
		}
		if result.Status != StatusOK && result.FixHint != "" {
			fmt.Fprintf(w, "      fix: %s\n", result.FixHint)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%d ok, %d warning(s), %d error(s)", r.Summary.OK, r.Summary.Warnings, r.Summary.Errors)
	if r.Summary.Fixed > 0 {
		fmt.Fprintf(w, ", %d fixed", r.Summary.Fixed)
	}
	fmt.Fprintln(w)
}

// FleetChecks returns the standard check set for a fleet workspace, in
// report order.
func FleetChecks() []Check {
	return []Check{
		NewWorkspaceCheck(),
		NewRepoCheck(),
		NewConfigCheck(),
		NewGitCheck(),
		NewTmuxCheck(),
		NewTrackerCheck(),
		NewDaemonCheck(),
		NewStateFileCheck(),
		NewBreakerCheck(),
		NewWorktreeCheck(),
		NewOrphanSessionCheck(),
	}
}

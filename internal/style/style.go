// Package style centralizes terminal styling for command output.
package style

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
)

// Shared styles for command output.
var (
	// Bold emphasizes headings and identifiers.
	Bold = lipgloss.NewStyle().Bold(true)

	// Dim de-emphasizes secondary detail.
	Dim = lipgloss.NewStyle().Faint(true)

	// Success renders confirmations.
	Success = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))

	// Warning renders recoverable problems.
	Warning = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))

	// Error renders failures.
	Error = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))

	// Info renders neutral notices.
	Info = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
)

// Status prefixes for one-line results.
var (
	SuccessPrefix = Success.Render("✓")
	ErrorPrefix   = Error.Render("✗")
	WarningPrefix = Warning.Render("!")
	ArrowPrefix   = Info.Render("→")
)

// PrintWarning writes a styled warning line to stderr.
func PrintWarning(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "%s %s\n", WarningPrefix, fmt.Sprintf(format, args...))
}

package cmd

import (
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/rjwalters/loom-sub010/internal/config"
	"github.com/rjwalters/loom-sub010/internal/failure"
)

// failureTracker builds the failure tracker the same way the daemon
// does, so CLI commands see the same backoff and breaker state.
func failureTracker(root string, cfg *config.Config) *failure.Tracker {
	return failure.NewTracker(root, failure.Config{
		BackoffBase:      cfg.GetBackoffBase(),
		BackoffCap:       cfg.Backoff.Cap,
		EscalationCap:    cfg.Backoff.EscalationCap,
		BreakerWindow:    cfg.GetBreakerWindow(),
		BreakerThreshold: cfg.Breaker.Threshold,
	})
}

// titleCase renders a phase or role name for display.
func titleCase(s string) string {
	return cases.Title(language.English).String(s)
}

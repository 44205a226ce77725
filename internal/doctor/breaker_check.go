package doctor

import (
	"fmt"
	"time"

	"github.com/rjwalters/loom-sub010/internal/failure"
)

// BreakerCheck reports a tripped circuit breaker and items the failure
// tracker has parked. Both stop spawns without any visible process dying,
// which reads as a hung fleet until someone looks here.
type BreakerCheck struct {
	BaseCheck
}

// NewBreakerCheck creates a new failure-state check.
func NewBreakerCheck() *BreakerCheck {
	return &BreakerCheck{
		BaseCheck: BaseCheck{
			CheckName:        "breaker",
			CheckDescription: "Check the circuit breaker and failure backlog",
			CheckCategory:    CategoryCore,
		},
	}
}

// Run inspects the persisted failure state.
func (c *BreakerCheck) Run(ctx *CheckContext) *CheckResult {
	cfg := ctx.Cfg()
	tracker := failure.NewTracker(ctx.Root, failure.Config{
		BackoffBase:      cfg.GetBackoffBase(),
		BackoffCap:       cfg.Backoff.Cap,
		EscalationCap:    cfg.Backoff.EscalationCap,
		BreakerWindow:    cfg.GetBreakerWindow(),
		BreakerThreshold: cfg.Breaker.Threshold,
	})

	now := time.Now()
	breaker := tracker.Breaker()
	if breaker.Tripped() {
		return &CheckResult{
			Name:   c.Name(),
			Status: StatusError,
			Message: fmt.Sprintf("Circuit breaker is tripped (%d failure(s) in %s)",
				breaker.WindowCount(now), cfg.GetBreakerWindow()),
			FixHint: "Fix the shared cause, then run 'shep breaker reset'",
		}
	}

	inBackoff := 0
	escalated := 0
	for itemID := range tracker.Records() {
		if ok, _ := tracker.InBackoff(itemID, now); ok {
			inBackoff++
		}
		if tracker.ShouldEscalate(itemID) {
			escalated++
		}
	}

	if escalated > 0 {
		return &CheckResult{
			Name:    c.Name(),
			Status:  StatusWarning,
			Message: fmt.Sprintf("%d item(s) at the escalation cap", escalated),
			FixHint: "Decompose or unblock them; they will not be retried",
		}
	}
	if inBackoff > 0 {
		return &CheckResult{
			Name:    c.Name(),
			Status:  StatusOK,
			Message: fmt.Sprintf("Breaker closed, %d item(s) in backoff", inBackoff),
		}
	}
	return &CheckResult{
		Name:    c.Name(),
		Status:  StatusOK,
		Message: "Breaker closed, no failure backlog",
	}
}

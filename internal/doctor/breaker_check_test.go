package doctor

import (
	"strings"
	"testing"
	"time"

	"github.com/rjwalters/loom-sub010/internal/failure"
)

// seedFailures returns a tracker writing failure state the way the daemon
// would, with the stock thresholds the check reads back by default.
func seedFailures(root string) *failure.Tracker {
	return failure.NewTracker(root, failure.Config{
		BackoffBase:      time.Minute,
		BackoffCap:       6,
		EscalationCap:    3,
		BreakerWindow:    10 * time.Minute,
		BreakerThreshold: 5,
	})
}

func TestBreakerCheckClean(t *testing.T) {
	ctx := testCtx(t)

	result := NewBreakerCheck().Run(ctx)
	if result.Status != StatusOK {
		t.Errorf("Status = %s, want ok: %s", result.Status, result.Message)
	}
	if !strings.Contains(result.Message, "no failure backlog") {
		t.Errorf("Message = %q", result.Message)
	}
}

func TestBreakerCheckTripped(t *testing.T) {
	ctx := testCtx(t)
	breaker := seedFailures(ctx.Root).Breaker()
	now := time.Now()
	for i := 0; i < 5; i++ {
		if err := breaker.RecordFailure(now); err != nil {
			t.Fatalf("seeding breaker: %v", err)
		}
	}

	result := NewBreakerCheck().Run(ctx)
	if result.Status != StatusError {
		t.Fatalf("Status = %s, want error: %s", result.Status, result.Message)
	}
	if !strings.Contains(result.Message, "tripped") {
		t.Errorf("Message = %q", result.Message)
	}
	if !strings.Contains(result.FixHint, "breaker reset") {
		t.Errorf("FixHint = %q", result.FixHint)
	}
}

func TestBreakerCheckEscalatedItems(t *testing.T) {
	ctx := testCtx(t)
	tracker := seedFailures(ctx.Root)
	now := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := tracker.RecordFailure("wk-1", failure.ClassTransient, now); err != nil {
			t.Fatalf("seeding failures: %v", err)
		}
	}

	result := NewBreakerCheck().Run(ctx)
	if result.Status != StatusWarning {
		t.Fatalf("Status = %s, want warning: %s", result.Status, result.Message)
	}
	if !strings.Contains(result.Message, "escalation cap") {
		t.Errorf("Message = %q", result.Message)
	}
}

func TestBreakerCheckBackoffOnly(t *testing.T) {
	ctx := testCtx(t)
	if _, err := seedFailures(ctx.Root).RecordFailure("wk-2", failure.ClassStuck, time.Now()); err != nil {
		t.Fatalf("seeding failure: %v", err)
	}

	result := NewBreakerCheck().Run(ctx)
	if result.Status != StatusOK {
		t.Fatalf("Status = %s, want ok: %s", result.Status, result.Message)
	}
	if !strings.Contains(result.Message, "1 item(s) in backoff") {
		t.Errorf("Message = %q", result.Message)
	}
}

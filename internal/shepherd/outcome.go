package shepherd

import "time"

// Outcome classifies how a Shepherd run ended. The daemon maps each outcome
// to a distinct failure-tracker and label action, so the values must stay
// disjoint and stable.
type Outcome string

const (
	// OutcomeSuccess means the item merged and closed.
	OutcomeSuccess Outcome = "success"

	// OutcomeBlocked means the worker reported it cannot proceed; the item
	// carries the blocked modifier and the reason as a comment.
	OutcomeBlocked Outcome = "blocked"

	// OutcomeNoop means there was nothing to do: the work was already
	// satisfied, approval never arrived, or another writer took the item.
	OutcomeNoop Outcome = "noop"

	// OutcomeBudgetExhausted means a phase ran past its budget. The daemon
	// requests decomposition instead of retrying.
	OutcomeBudgetExhausted Outcome = "budget-exhausted"

	// OutcomeReviewExhausted means review and doctor cycled up to the cap
	// without converging.
	OutcomeReviewExhausted Outcome = "review-exhausted"

	// OutcomeCrashed means the run ended uncleanly. Assigned by the daemon
	// when a Shepherd process dies without a result, and used for
	// interrupted runs.
	OutcomeCrashed Outcome = "crashed"
)

// Process exit codes for each outcome. Codes 1 and 2 are avoided so panics
// and log.Fatal stay distinguishable from classified exits.
const (
	exitSuccess         = 0
	exitBlocked         = 20
	exitNoop            = 21
	exitBudgetExhausted = 22
	exitReviewExhausted = 23
	exitCrashed         = 24
)

// ExitCode returns the process exit code for the outcome.
func (o Outcome) ExitCode() int {
	switch o {
	case OutcomeSuccess:
		return exitSuccess
	case OutcomeBlocked:
		return exitBlocked
	case OutcomeNoop:
		return exitNoop
	case OutcomeBudgetExhausted:
		return exitBudgetExhausted
	case OutcomeReviewExhausted:
		return exitReviewExhausted
	default:
		return exitCrashed
	}
}

// OutcomeForExit maps a process exit code back to an outcome. Unknown codes,
// including panic and fatal-log exits, count as crashed.
func OutcomeForExit(code int) Outcome {
	switch code {
	case exitSuccess:
		return OutcomeSuccess
	case exitBlocked:
		return OutcomeBlocked
	case exitNoop:
		return OutcomeNoop
	case exitBudgetExhausted:
		return OutcomeBudgetExhausted
	case exitReviewExhausted:
		return OutcomeReviewExhausted
	default:
		return OutcomeCrashed
	}
}

// Result is the terminal record a Shepherd writes before exiting.
type Result struct {
	// Outcome is the exit classification.
	Outcome Outcome `json:"outcome"`

	// Phase is the phase the run ended in.
	Phase Phase `json:"phase"`

	// Item is the work item the run drove.
	Item string `json:"item"`

	// Detail is a human-readable explanation, e.g. the blocked reason.
	Detail string `json:"detail,omitempty"`

	// FinishedAt is when the result was written.
	FinishedAt time.Time `json:"finished_at"`
}

package shepherd

import (
	"fmt"

	"github.com/rjwalters/loom-sub010/internal/tracker"
)

// Phase is one step of the item lifecycle a Shepherd drives.
type Phase string

const (
	// PhaseCurate readies a raw item: clarifies scope and acceptance
	// criteria before any code is touched.
	PhaseCurate Phase = "curate"

	// PhaseAwaitApproval holds a curated item until it is approved, either
	// automatically or by an operator.
	PhaseAwaitApproval Phase = "await-approval"

	// PhaseBuild implements the item in its worktree.
	PhaseBuild Phase = "build"

	// PhaseReview checks the committed changes against the item's
	// acceptance criteria.
	PhaseReview Phase = "review"

	// PhaseDoctor fixes problems found in review. Doctor and review
	// alternate until review passes or the cycle cap is hit.
	PhaseDoctor Phase = "doctor"

	// PhaseMerge lands the change and closes the item.
	PhaseMerge Phase = "merge"

	// PhaseDone is the success terminal.
	PhaseDone Phase = "done"

	// PhaseBlocked is the failure terminal.
	PhaseBlocked Phase = "blocked"
)

// Terminal reports whether the phase ends the run.
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseBlocked
}

// NeedsWorktree reports whether the phase runs a worker inside the item's
// worktree. Curate and await-approval only read the item; merge is pure
// tracker work.
func (p Phase) NeedsWorktree() bool {
	switch p {
	case PhaseBuild, PhaseReview, PhaseDoctor:
		return true
	default:
		return false
	}
}

// PhaseForLabel maps an item's primary label to the phase a Shepherd should
// enter. Interrupted items resume from where their label says they stopped.
func PhaseForLabel(primary tracker.Label) (Phase, error) {
	switch primary {
	case tracker.LabelNew:
		return PhaseCurate, nil
	case tracker.LabelCurated:
		return PhaseAwaitApproval, nil
	case tracker.LabelApproved, tracker.LabelBuilding:
		return PhaseBuild, nil
	case tracker.LabelReviewing:
		return PhaseReview, nil
	case tracker.LabelApprovedForMerge:
		return PhaseMerge, nil
	case tracker.LabelDone:
		return PhaseDone, nil
	default:
		return "", fmt.Errorf("no phase for label %q", primary)
	}
}

// Next returns the phase that follows p on the forward path. Review's next
// is merge; a failed review detours through doctor, whose next is review
// again. Terminal phases have no successor.
func Next(p Phase) (Phase, error) {
	switch p {
	case PhaseCurate:
		return PhaseAwaitApproval, nil
	case PhaseAwaitApproval:
		return PhaseBuild, nil
	case PhaseBuild:
		return PhaseReview, nil
	case PhaseReview:
		return PhaseMerge, nil
	case PhaseDoctor:
		return PhaseReview, nil
	case PhaseMerge:
		return PhaseDone, nil
	default:
		return "", fmt.Errorf("phase %q has no successor", p)
	}
}

// OwnedLabel returns the primary label that marks an item as owned while a
// Shepherd runs the given phase. Phases before build do not own the item.
func OwnedLabel(p Phase) (tracker.Label, bool) {
	switch p {
	case PhaseBuild:
		return tracker.LabelBuilding, true
	case PhaseReview, PhaseDoctor:
		return tracker.LabelReviewing, true
	case PhaseMerge:
		return tracker.LabelApprovedForMerge, true
	default:
		return "", false
	}
}

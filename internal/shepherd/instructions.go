package shepherd

import "fmt"

// instructionHeader opens every phase instruction. Signal parsing scopes
// itself to session output after the last header, so markers left in the
// scrollback by earlier phases are never re-read.
func instructionHeader(phase Phase, itemID string) string {
	return fmt.Sprintf("[SHEP PHASE %s %s]", phase, itemID)
}

// instructionFor builds the one-line instruction sent into the worker
// session on phase entry. The text tells the worker what to do and which
// markers to print; the Shepherd only ever reads the markers back.
func instructionFor(phase Phase, itemID string) string {
	header := instructionHeader(phase, itemID)
	switch phase {
	case PhaseCurate:
		return fmt.Sprintf("%s Assess work item %s: tighten its description, acceptance criteria, and scope until it is ready to build. Do not change code. Print %s when it is ready, %s <reason> if it cannot proceed, or %s if it needs no work.",
			header, itemID, MarkerComplete, MarkerBlocked, MarkerNoOp)
	case PhaseBuild:
		return fmt.Sprintf("%s Implement work item %s in this worktree and commit all changes to the current branch. Print %s when the implementation is committed, %s <reason> if you cannot proceed, or %s if the work is already satisfied.",
			header, itemID, MarkerComplete, MarkerBlocked, MarkerNoOp)
	case PhaseReview:
		return fmt.Sprintf("%s Review the committed changes for work item %s against its acceptance criteria. Print %s if they are ready to merge, or %s if problems need fixing.",
			header, itemID, MarkerReviewPass, MarkerReviewFail)
	case PhaseDoctor:
		return fmt.Sprintf("%s Fix the problems review found in work item %s and commit the fixes. Print %s when committed, or %s <reason> if you cannot proceed.",
			header, itemID, MarkerComplete, MarkerBlocked)
	default:
		return fmt.Sprintf("%s No worker action for phase %s.", header, phase)
	}
}

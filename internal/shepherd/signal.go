package shepherd

import "strings"

// Signal is a marker a worker prints into its session to report phase
// progress. The Shepherd polls recent session output and acts on the most
// recent marker it finds.
type Signal int

const (
	// SignalNone means no marker was found.
	SignalNone Signal = iota

	// SignalComplete means the phase finished its work.
	SignalComplete

	// SignalBlocked means the worker cannot proceed; a reason follows the
	// marker on the same line.
	SignalBlocked

	// SignalNoOp means the work is already satisfied.
	SignalNoOp

	// SignalReviewPass means review found the change ready to merge.
	SignalReviewPass

	// SignalReviewFail means review found problems to fix.
	SignalReviewFail
)

// Marker strings workers print. Matched per line, anywhere in the line, so
// prompts and timestamps around them do not matter.
const (
	MarkerComplete   = "PHASE COMPLETE"
	MarkerBlocked    = "PHASE BLOCKED:"
	MarkerNoOp       = "NO-OP"
	MarkerReviewPass = "REVIEW PASS"
	MarkerReviewFail = "REVIEW FAIL"
)

// ParseSignal scans session output for progress markers and returns the last
// one found, plus its detail text for blocked markers. Later lines win so a
// worker that corrects itself is believed.
func ParseSignal(output string) (Signal, string) {
	sig := SignalNone
	detail := ""
	for _, line := range strings.Split(output, "\n") {
		switch {
		case strings.Contains(line, MarkerBlocked):
			sig = SignalBlocked
			_, after, _ := strings.Cut(line, MarkerBlocked)
			detail = strings.TrimSpace(after)
		case strings.Contains(line, MarkerComplete):
			sig = SignalComplete
			detail = ""
		case strings.Contains(line, MarkerReviewPass):
			sig = SignalReviewPass
			detail = ""
		case strings.Contains(line, MarkerReviewFail):
			sig = SignalReviewFail
			detail = ""
		case strings.Contains(line, MarkerNoOp):
			sig = SignalNoOp
			detail = ""
		}
	}
	return sig, detail
}

// afterLastMarker returns the output lines after the line holding the last
// occurrence of marker, or "" when the marker is absent. Used to scope signal
// parsing to output produced since the current phase instruction was sent:
// markers from earlier phases are cut off, and the instruction's own echo,
// which names the markers it asks for, cannot signal itself because the rest
// of its line is skipped too.
func afterLastMarker(output, marker string) string {
	idx := strings.LastIndex(output, marker)
	if idx < 0 {
		return ""
	}
	rest := output[idx:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		return rest[nl+1:]
	}
	return ""
}

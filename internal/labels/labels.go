// Package labels implements the label state machine over the tracker.
//
// Primary labels form a single linear chain; modifier labels ride
// alongside. The package gives the rest of the fleet three things: a pure
// classification of an observed label set, a verify-then-write transition
// that cannot double-apply, and a pure reconciliation that computes the
// edits needed to repair a contradictory label set.
package labels

import (
	"context"
	"fmt"

	"github.com/rjwalters/loom-sub010/internal/tracker"
)

// State classifies one item's observed labels.
type State struct {
	// Primary is the single lifecycle label, or empty when the item has
	// none or several.
	Primary tracker.Label

	// Blocked and Urgent are the modifier flags.
	Blocked bool
	Urgent  bool

	// Conflicting holds every lifecycle label observed when there was
	// more than one. Empty for healthy items.
	Conflicting []tracker.Label
}

// Classify reduces a raw label set to a State. Unknown labels are ignored.
func Classify(labels []tracker.Label) State {
	var state State
	var primaries []tracker.Label
	for _, l := range labels {
		switch {
		case l == tracker.LabelBlocked:
			state.Blocked = true
		case l == tracker.LabelUrgent:
			state.Urgent = true
		case l.IsPrimary():
			primaries = append(primaries, l)
		}
	}
	switch len(primaries) {
	case 0:
	case 1:
		state.Primary = primaries[0]
	default:
		state.Conflicting = primaries
	}
	return state
}

// Healthy reports whether exactly one primary label was observed.
func (s State) Healthy() bool {
	return s.Primary != "" && len(s.Conflicting) == 0
}

// Claimable reports whether a shepherd may claim an item in this state.
// Blocked and contradictory items are never claimable; curated items are
// claimable only when auto-approve is on, since otherwise they are parked
// waiting for a human.
func (s State) Claimable(autoApprove bool) bool {
	if s.Blocked || len(s.Conflicting) > 0 {
		return false
	}
	switch s.Primary {
	case tracker.LabelNew, tracker.LabelApproved:
		return true
	case tracker.LabelCurated:
		return autoApprove
	}
	return false
}

// Owned reports whether the primary label implies a live shepherd is
// driving the item.
func (s State) Owned() bool {
	return requiresOwner(s.Primary)
}

func requiresOwner(l tracker.Label) bool {
	switch l {
	case tracker.LabelBuilding, tracker.LabelReviewing, tracker.LabelApprovedForMerge:
		return true
	}
	return false
}

// Machine issues label transitions against the tracker.
type Machine struct {
	client tracker.Client
}

// NewMachine returns a Machine writing through client.
func NewMachine(client tracker.Client) *Machine {
	return &Machine{client: client}
}

// Transition moves an item's primary label from one value to another.
//
// The item is re-read first: from must still be present and no other
// primary label may exist, otherwise the call reports
// tracker.ErrConflict without writing. The write itself is the tracker's
// atomic relabel, so a second writer racing on the same hop loses with a
// conflict rather than double-applying. Re-applying a transition that
// already happened (to present, from gone) is a no-op success.
func (m *Machine) Transition(ctx context.Context, itemID string, from, to tracker.Label) error {
	item, err := m.client.Get(ctx, itemID)
	if err != nil {
		return fmt.Errorf("reading %s: %w", itemID, err)
	}

	state := Classify(item.Labels)
	if state.Primary == to && !item.HasLabel(from) {
		return nil
	}
	if len(state.Conflicting) > 0 {
		return fmt.Errorf("%w: %s carries %v", tracker.ErrConflict, itemID, state.Conflicting)
	}
	if state.Primary != from {
		return fmt.Errorf("%w: %s is %q, expected %q", tracker.ErrConflict, itemID, state.Primary, from)
	}

	if err := m.client.Relabel(ctx, itemID, from, to); err != nil {
		return fmt.Errorf("relabeling %s: %w", itemID, err)
	}
	return nil
}

// FixOp is the kind of edit a reconciliation fix performs.
type FixOp string

const (
	OpAdd    FixOp = "add"
	OpRemove FixOp = "remove"
)

// Fix is one label edit needed to repair a contradictory item.
type Fix struct {
	Op    FixOp
	Label tracker.Label
}

// Reconcile computes the edits that repair a contradictory observation.
// It is pure: the daemon supplies the classified state and whether a live
// shepherd owns the item, and applies the returned fixes itself.
//
// Resolution rules:
//   - several primaries: keep the most-advanced, unless it implies a live
//     owner and there is none, in which case keep the most-advanced label
//     that does not.
//   - a single owner-implying primary with no live owner reverts to
//     approved so the item becomes claimable again.
//   - no primary at all restores approved.
//
// Adds are listed before removes so applying fixes in order never leaves
// the item without a primary label.
func Reconcile(state State, liveOwner bool) []Fix {
	primaries := state.Conflicting
	if len(primaries) == 0 && state.Primary != "" {
		primaries = []tracker.Label{state.Primary}
	}

	switch len(primaries) {
	case 0:
		return []Fix{{Op: OpAdd, Label: tracker.LabelApproved}}

	case 1:
		p := primaries[0]
		if requiresOwner(p) && !liveOwner {
			return []Fix{
				{Op: OpAdd, Label: tracker.LabelApproved},
				{Op: OpRemove, Label: p},
			}
		}
		return nil

	default:
		keep := mostAdvanced(primaries, false)
		if requiresOwner(keep) && !liveOwner {
			keep = mostAdvanced(primaries, true)
		}

		var fixes []Fix
		if keep == "" {
			// Every observed primary implies an owner and none is alive.
			keep = tracker.LabelApproved
			fixes = append(fixes, Fix{Op: OpAdd, Label: keep})
		}
		kept := false
		for _, p := range primaries {
			if p == keep && !kept {
				kept = true
				continue
			}
			fixes = append(fixes, Fix{Op: OpRemove, Label: p})
		}
		return fixes
	}
}

// mostAdvanced returns the label furthest along the chain, optionally
// restricted to labels that do not imply a live owner. Empty when no
// candidate qualifies.
func mostAdvanced(primaries []tracker.Label, unownedOnly bool) tracker.Label {
	var best tracker.Label
	bestIdx := -1
	for _, p := range primaries {
		if unownedOnly && requiresOwner(p) {
			continue
		}
		if idx := p.ChainIndex(); idx > bestIdx {
			best, bestIdx = p, idx
		}
	}
	return best
}

// Repair applies reconciliation fixes to an item.
func (m *Machine) Repair(ctx context.Context, itemID string, fixes []Fix) error {
	for _, fix := range fixes {
		var err error
		switch fix.Op {
		case OpAdd:
			err = m.client.AddLabel(ctx, itemID, fix.Label)
		case OpRemove:
			err = m.client.RemoveLabel(ctx, itemID, fix.Label)
		}
		if err != nil {
			return fmt.Errorf("applying %s %s to %s: %w", fix.Op, fix.Label, itemID, err)
		}
	}
	return nil
}

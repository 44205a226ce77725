// Package pool holds the shepherd slot table and its scheduling arithmetic.
//
// The table itself is plain data persisted inside the daemon state; the
// functions here are pure so sizing and staleness decisions can be tested
// without a daemon. The daemon owns all mutation.
package pool

import "time"

// SlotState describes what occupies a slot.
type SlotState string

const (
	// StateIdle means the slot is free for a new shepherd.
	StateIdle SlotState = "idle"

	// StateActive means a shepherd process is driving an item in the slot.
	StateActive SlotState = "active"

	// StateReclaiming means the daemon is tearing the shepherd down. The
	// slot is not reusable until reclamation finishes.
	StateReclaiming SlotState = "reclaiming"
)

// ShepherdInfo is the daemon's record of one spawned shepherd process.
type ShepherdInfo struct {
	ID          string `json:"id"`
	ItemID      string `json:"item_id"`
	Phase       string `json:"phase,omitempty"`
	PID         int    `json:"pid"`
	SessionName string `json:"session_name"`

	// StartedAt is when the process was spawned. Staleness before the
	// first heartbeat is judged against it.
	StartedAt time.Time `json:"started_at"`

	// LastHeartbeat is the newest heartbeat timestamp observed, valid only
	// once HeartbeatSeen is set.
	LastHeartbeat time.Time `json:"last_heartbeat,omitempty"`
	HeartbeatSeen bool      `json:"heartbeat_seen"`

	ReviewCycles int       `json:"review_cycles,omitempty"`
	State        SlotState `json:"state"`
}

// Slot is one position in the pool. A nil Shepherd means the slot is idle.
type Slot struct {
	Index    int           `json:"index"`
	Shepherd *ShepherdInfo `json:"shepherd,omitempty"`
}

// State returns the slot's effective state.
func (s *Slot) State() SlotState {
	if s.Shepherd == nil {
		return StateIdle
	}
	return s.Shepherd.State
}

// NewSlots returns an empty table of n slots.
func NewSlots(n int) []Slot {
	slots := make([]Slot, n)
	for i := range slots {
		slots[i].Index = i
	}
	return slots
}

// Resize adjusts the table to n slots. Growing appends idle slots. Shrinking
// drops idle slots from the tail only: occupied slots survive past n and the
// table shrinks the rest of the way as they free up.
func Resize(slots []Slot, n int) []Slot {
	if n < 0 {
		n = 0
	}
	for len(slots) < n {
		slots = append(slots, Slot{Index: len(slots)})
	}
	for len(slots) > n && slots[len(slots)-1].Shepherd == nil {
		slots = slots[:len(slots)-1]
	}
	return slots
}

// TargetSize returns how many shepherds the backlog wants:
// ceil(ready/itemsPerShepherd) clamped to [0, max]. itemsPerShepherd below 1
// is treated as 1.
func TargetSize(ready, itemsPerShepherd, max int) int {
	if ready <= 0 || max <= 0 {
		return 0
	}
	if itemsPerShepherd < 1 {
		itemsPerShepherd = 1
	}
	target := (ready + itemsPerShepherd - 1) / itemsPerShepherd
	if target > max {
		return max
	}
	return target
}

// IdleSlots returns the indices of slots a new shepherd may take. Slots under
// reclamation are occupied, not idle.
func IdleSlots(slots []Slot) []int {
	var idle []int
	for i := range slots {
		if slots[i].Shepherd == nil {
			idle = append(idle, i)
		}
	}
	return idle
}

// ActiveCount returns how many slots hold a live shepherd. Reclaiming slots
// do not count: their shepherd is already being torn down.
func ActiveCount(slots []Slot) int {
	n := 0
	for i := range slots {
		if slots[i].Shepherd != nil && slots[i].Shepherd.State == StateActive {
			n++
		}
	}
	return n
}

// Assigned reports whether any slot's shepherd is driving the item. Items
// under reclamation count: the item is not dispatchable until the slot is
// cleaned up.
func Assigned(slots []Slot, itemID string) bool {
	for i := range slots {
		if slots[i].Shepherd != nil && slots[i].Shepherd.ItemID == itemID {
			return true
		}
	}
	return false
}

// Stale reports whether a shepherd has gone quiet. Before the first observed
// heartbeat the grace is tInit, measured from the spawn; a booting agent gets
// the longer window. After the first heartbeat the grace tightens to tSteady,
// measured from the newest heartbeat.
func Stale(info *ShepherdInfo, now time.Time, tInit, tSteady time.Duration) bool {
	if info == nil {
		return false
	}
	if !info.HeartbeatSeen {
		return now.Sub(info.StartedAt) > tInit
	}
	return now.Sub(info.LastHeartbeat) > tSteady
}

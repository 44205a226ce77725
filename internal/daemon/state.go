package daemon

import (
	"os"
	"time"

	"github.com/rjwalters/loom-sub010/internal/constants"
	"github.com/rjwalters/loom-sub010/internal/pool"
	"github.com/rjwalters/loom-sub010/internal/state"
)

// DaemonState is the persisted snapshot of the control loop. It is advisory:
// on startup the daemon reconciles it against live processes, sessions, and
// the tracker rather than trusting it. Losing the file loses slot
// bookkeeping, not work.
type DaemonState struct {
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`

	// Slots is the shepherd pool table.
	Slots []pool.Slot `json:"slots"`

	// LastTrigger records when each proposer role last fired, for cooldowns.
	LastTrigger map[string]time.Time `json:"last_trigger,omitempty"`

	// PendingCleanup queues items whose worktrees await grace-gated removal.
	PendingCleanup []string `json:"pending_cleanup,omitempty"`

	Iterations int `json:"iterations"`
	Spawned    int `json:"spawned"`
	Reclaimed  int `json:"reclaimed"`
}

func defaultState() *DaemonState {
	return &DaemonState{LastTrigger: make(map[string]time.Time)}
}

func stateStore(root string) *state.Manager[DaemonState] {
	return state.NewManager(constants.DaemonDir(root), constants.FileDaemonState, defaultState)
}

// LoadState reads the persisted daemon state. A missing file yields an
// empty state, so status commands work before the first daemon run.
func LoadState(root string) (*DaemonState, error) {
	return stateStore(root).Load()
}

// Pause is the operator pause marker written by `shep pause`. While it
// exists the daemon keeps observing and reclaiming but spawns nothing and
// triggers no proposers.
type Pause struct {
	Reason string    `json:"reason,omitempty"`
	By     string    `json:"by,omitempty"`
	At     time.Time `json:"at"`
}

func pauseStore(root string) *state.Manager[Pause] {
	return state.NewManager(constants.ShepherdDir(root), constants.FilePaused, func() *Pause { return &Pause{} })
}

// WritePause marks the fleet paused.
func WritePause(root string, p Pause) error {
	return pauseStore(root).Save(&p)
}

// ClearPause removes the pause marker.
func ClearPause(root string) error {
	return pauseStore(root).Remove()
}

// ReadPause returns the pause marker when one is present. A marker that
// exists but cannot be parsed still counts as paused.
func ReadPause(root string) (*Pause, bool) {
	st := pauseStore(root)
	if !st.Exists() {
		return nil, false
	}
	p, err := st.Load()
	if err != nil {
		return &Pause{}, true
	}
	return p, true
}

// Assignment is one operator force-assign request. Assignments bypass pool
// arithmetic but not claim rules: the spawned shepherd still claims the
// item through the same label transition as any other.
type Assignment struct {
	ItemID      string    `json:"item_id"`
	RequestedBy string    `json:"requested_by,omitempty"`
	At          time.Time `json:"at"`
}

type assignQueue struct {
	Pending []Assignment `json:"pending"`
}

func assignStore(root string) *state.Manager[assignQueue] {
	return state.NewManager(constants.ShepherdDir(root), constants.FileAssigns, func() *assignQueue { return &assignQueue{} })
}

// QueueAssignment appends a force-assign request for the daemon's next
// iteration.
func QueueAssignment(root string, a Assignment) error {
	st := assignStore(root)
	q, err := st.Load()
	if err != nil {
		q = &assignQueue{}
	}
	q.Pending = append(q.Pending, a)
	return st.Save(q)
}

// takeAssignments drains the queue. Requests that cannot be placed yet are
// re-queued by the caller.
func takeAssignments(root string) []Assignment {
	st := assignStore(root)
	if !st.Exists() {
		return nil
	}
	q, err := st.Load()
	_ = st.Remove()
	if err != nil {
		return nil
	}
	return q.Pending
}

// RequestBreakerReset asks the daemon to reset the circuit breaker. The
// request is a marker file the daemon consumes on its next iteration, so
// failures.json keeps a single writer while the loop is up.
func RequestBreakerReset(root string) error {
	stamp := time.Now().UTC().Format(time.RFC3339) + "\n"
	return os.WriteFile(constants.BreakerResetPath(root), []byte(stamp), 0644)
}

// BreakerResetPending reports whether a reset request is waiting.
func BreakerResetPending(root string) bool {
	_, err := os.Stat(constants.BreakerResetPath(root))
	return err == nil
}

func consumeBreakerReset(root string) bool {
	if !BreakerResetPending(root) {
		return false
	}
	_ = os.Remove(constants.BreakerResetPath(root))
	return true
}

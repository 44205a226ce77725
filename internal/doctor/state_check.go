package doctor

import (
	"fmt"
	"os"

	"github.com/rjwalters/loom-sub010/internal/constants"
	"github.com/rjwalters/loom-sub010/internal/daemon"
)

// StateFileCheck verifies the persisted daemon state loads. A corrupt
// state.json blocks daemon startup; moving it aside is safe because
// recovery rebuilds the slot table from run directories and sessions.
type StateFileCheck struct {
	FixableCheck
}

// NewStateFileCheck creates a new daemon state file check.
func NewStateFileCheck() *StateFileCheck {
	return &StateFileCheck{
		FixableCheck: FixableCheck{
			BaseCheck: BaseCheck{
				CheckName:        "daemon-state",
				CheckDescription: "Check that the persisted daemon state loads",
				CheckCategory:    CategoryCore,
			},
		},
	}
}

// Run loads the daemon state file.
func (c *StateFileCheck) Run(ctx *CheckContext) *CheckResult {
	path := constants.DaemonStatePath(ctx.Root)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &CheckResult{
			Name:    c.Name(),
			Status:  StatusOK,
			Message: "No daemon state yet",
		}
	}

	st, err := daemon.LoadState(ctx.Root)
	if err != nil {
		return &CheckResult{
			Name:    c.Name(),
			Status:  StatusError,
			Message: constants.FileDaemonState + " is corrupt",
			Details: []string{path, err.Error()},
			FixHint: "Run 'shep doctor --fix' to move it aside; recovery rebuilds it",
		}
	}

	occupied := 0
	for _, slot := range st.Slots {
		if slot.Shepherd != nil {
			occupied++
		}
	}

	return &CheckResult{
		Name:    c.Name(),
		Status:  StatusOK,
		Message: fmt.Sprintf("Daemon state loads (%d slot(s), %d occupied)", len(st.Slots), occupied),
	}
}

// Fix moves a corrupt state file aside so the next daemon start rebuilds it.
func (c *StateFileCheck) Fix(ctx *CheckContext) error {
	path := constants.DaemonStatePath(ctx.Root)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if _, err := daemon.LoadState(ctx.Root); err == nil {
		return nil
	}
	return os.Rename(path, path+".bak")
}

package shepherd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rjwalters/loom-sub010/internal/constants"
	"github.com/rjwalters/loom-sub010/internal/state"
)

// Heartbeat is the periodic liveness record an active Shepherd writes. The
// daemon compares At against its grace windows to detect hangs.
type Heartbeat struct {
	ShepherdID string    `json:"shepherd_id"`
	ItemID     string    `json:"item_id"`
	Phase      Phase     `json:"phase"`
	At         time.Time `json:"at"`
}

// Progress marks entry into a phase. Its absence past a short grace window
// after spawn means the Shepherd failed before doing anything.
type Progress struct {
	Phase     Phase     `json:"phase"`
	EnteredAt time.Time `json:"entered_at"`
}

// RunFiles accesses one Shepherd's runtime directory. The Shepherd process
// writes these files; the daemon reads them to observe the run from outside.
type RunFiles struct {
	dir       string
	heartbeat *state.Manager[Heartbeat]
	progress  *state.Manager[Progress]
	result    *state.Manager[Result]
}

// NewRunFiles returns the run-file accessor for one Shepherd id.
func NewRunFiles(root, shepherdID string) *RunFiles {
	dir := constants.RunDir(root, shepherdID)
	return &RunFiles{
		dir:       dir,
		heartbeat: state.NewManager(dir, constants.FileHeartbeat, func() *Heartbeat { return &Heartbeat{} }),
		progress:  state.NewManager(dir, constants.FileProgress, func() *Progress { return &Progress{} }),
		result:    state.NewManager(dir, constants.FileResult, func() *Result { return &Result{} }),
	}
}

// Dir returns the run directory path.
func (f *RunFiles) Dir() string {
	return f.dir
}

// LogPath returns the Shepherd process log path inside the run directory.
func (f *RunFiles) LogPath() string {
	return filepath.Join(f.dir, constants.FileShepherdLog)
}

// WriteHeartbeat records a liveness beat.
func (f *RunFiles) WriteHeartbeat(h Heartbeat) error {
	return f.heartbeat.Save(&h)
}

// ReadHeartbeat returns the latest heartbeat, or nil when none was written.
func (f *RunFiles) ReadHeartbeat() (*Heartbeat, error) {
	if !f.heartbeat.Exists() {
		return nil, nil
	}
	return f.heartbeat.Load()
}

// WriteProgress records entry into a phase.
func (f *RunFiles) WriteProgress(p Progress) error {
	return f.progress.Save(&p)
}

// ReadProgress returns the current phase marker, or nil when none exists.
func (f *RunFiles) ReadProgress() (*Progress, error) {
	if !f.progress.Exists() {
		return nil, nil
	}
	return f.progress.Load()
}

// HasProgress reports whether any phase marker has been written.
func (f *RunFiles) HasProgress() bool {
	return f.progress.Exists()
}

// WriteResult records the terminal outcome. Written before the process
// exits so the daemon can always distinguish a classified exit from a crash.
func (f *RunFiles) WriteResult(r Result) error {
	return f.result.Save(&r)
}

// ReadResult returns the terminal result, or nil when the run has not
// finished (or died before writing one).
func (f *RunFiles) ReadResult() (*Result, error) {
	if !f.result.Exists() {
		return nil, nil
	}
	return f.result.Load()
}

// WritePostmortem saves captured session output next to the run files.
// Called by the daemon when it reclaims a stuck Shepherd.
func (f *RunFiles) WritePostmortem(output string) error {
	if err := os.MkdirAll(f.dir, 0755); err != nil {
		return fmt.Errorf("creating run directory: %w", err)
	}
	path := filepath.Join(f.dir, constants.FilePostmortem)
	if err := os.WriteFile(path, []byte(output), 0644); err != nil { //nolint:gosec // postmortems are operator-readable
		return fmt.Errorf("writing postmortem: %w", err)
	}
	return nil
}

// Remove deletes the whole run directory.
func (f *RunFiles) Remove() error {
	return os.RemoveAll(f.dir)
}

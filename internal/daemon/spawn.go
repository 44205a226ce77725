package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"

	"github.com/rjwalters/loom-sub010/internal/shepherd"
)

// spawnFunc launches a shepherd process for a slot and returns its PID.
// The daemon holds one as a field so tests can substitute a recorder.
type spawnFunc func(root string, slot int, shepherdID, itemID string) (int, error)

// spawnShepherd starts `shep shepherd run` detached in its own session, so
// a daemon restart does not take running shepherds down with it. Process
// output goes to shepherd.log inside the run directory; everything the
// daemon acts on comes from the run files, labels, and the tmux session.
func spawnShepherd(root string, slot int, shepherdID, itemID string) (int, error) {
	self, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("locating executable: %w", err)
	}

	files := shepherd.NewRunFiles(root, shepherdID)
	if err := os.MkdirAll(files.Dir(), 0755); err != nil {
		return 0, fmt.Errorf("creating run directory: %w", err)
	}
	logFile, err := os.OpenFile(files.LogPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return 0, fmt.Errorf("opening shepherd log: %w", err)
	}
	defer func() { _ = logFile.Close() }()

	cmd := exec.Command(self, "shepherd", "run",
		"--root", root,
		"--slot", strconv.Itoa(slot),
		"--id", shepherdID,
		"--item", itemID,
	)
	cmd.Dir = root
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("starting shepherd: %w", err)
	}

	pid := cmd.Process.Pid
	// The daemon never waits on the child; liveness comes from signal-0
	// probes and the run files.
	_ = cmd.Process.Release()
	return pid, nil
}

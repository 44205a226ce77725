package daemon

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rjwalters/loom-sub010/internal/constants"
)

// WritePID records the daemon's PID. The flock in Run is the authoritative
// singleton guard; the PID file exists for status checks and StopDaemon.
func WritePID(root string, pid int) error {
	if err := os.MkdirAll(constants.DaemonDir(root), 0755); err != nil {
		return err
	}
	return os.WriteFile(constants.DaemonPIDPath(root), []byte(strconv.Itoa(pid)), 0644)
}

// ReadPID returns the recorded daemon PID, or 0 when absent or malformed.
func ReadPID(root string) int {
	data, err := os.ReadFile(constants.DaemonPIDPath(root))
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}

// ClearPID removes the PID file.
func ClearPID(root string) {
	_ = os.Remove(constants.DaemonPIDPath(root))
}

// ProcessAlive reports whether pid is a live process. Signal 0 probes
// without delivering anything; EPERM still means the process exists.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	return err == syscall.EPERM
}

// IsRunning checks whether a daemon is running for the fleet root. A stale
// PID file left by a crashed daemon is removed on the way.
func IsRunning(root string) (bool, int) {
	pid := ReadPID(root)
	if pid == 0 {
		return false, 0
	}
	if !ProcessAlive(pid) {
		ClearPID(root)
		return false, 0
	}
	return true, pid
}

// StopDaemon signals the running daemon to shut down and waits up to wait
// for it to drain. A daemon that ignores SIGTERM past the wait gets
// SIGKILL; its shepherds are then recovered by the next daemon start.
func StopDaemon(root string, wait time.Duration) error {
	running, pid := IsRunning(root)
	if !running {
		return fmt.Errorf("daemon is not running")
	}

	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		return fmt.Errorf("sending SIGTERM: %w", err)
	}

	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		if !ProcessAlive(pid) {
			ClearPID(root)
			return nil
		}
		time.Sleep(constants.ShutdownNotifyDelay)
	}

	_ = syscall.Kill(pid, syscall.SIGKILL)
	ClearPID(root)
	return nil
}

// Package constants defines shared constant values used throughout the
// shepherd fleet. Centralizing these magic strings improves maintainability
// and consistency.
package constants

import (
	"path/filepath"
	"time"
)

// Timing defaults. Every duration here is a default only; the effective value
// comes from config.toml.
const (
	// DefaultPollInterval is the sleep between daemon iterations.
	DefaultPollInterval = 60 * time.Second

	// DefaultInitialHeartbeatGrace is the window a freshly spawned Shepherd
	// gets before heartbeat absence counts as stale. Covers cold-start cost
	// (worktree checkout, session creation, agent boot).
	DefaultInitialHeartbeatGrace = 120 * time.Second

	// DefaultSteadyHeartbeatGrace applies once at least one heartbeat has
	// been observed. Tighter than the initial window so mid-phase hangs are
	// reclaimed quickly.
	DefaultSteadyHeartbeatGrace = 60 * time.Second

	// DefaultProgressGrace is how long a spawned Shepherd may run without
	// writing its first progress marker before it is treated as silently
	// failed and reclaimed immediately.
	DefaultProgressGrace = 30 * time.Second

	// DefaultPhaseBudget bounds a single phase before the Shepherd exits
	// budget-exhausted.
	DefaultPhaseBudget = 30 * time.Minute

	// DefaultApprovalWait is how long a Shepherd waits in await-approval
	// before giving the slot back when auto-approve is off.
	DefaultApprovalWait = 2 * time.Minute

	// DefaultBackoffBase seeds the exponential retry backoff.
	DefaultBackoffBase = 60 * time.Second

	// DefaultBackoffCap caps the backoff exponent: backoff never exceeds
	// base * 2^cap.
	DefaultBackoffCap = 6

	// DefaultEscalationCap is the consecutive-failure count after which an
	// item is marked blocked and decomposition is requested instead of
	// another retry.
	DefaultEscalationCap = 3

	// DefaultReviewCycleCap bounds review/doctor round-trips per item.
	DefaultReviewCycleCap = 3

	// DefaultBreakerWindow is the rolling window for fleet-wide failure
	// counting.
	DefaultBreakerWindow = 10 * time.Minute

	// DefaultBreakerThreshold is the failure count within the window that
	// trips the circuit breaker.
	DefaultBreakerThreshold = 5

	// DefaultMergeGrace is how long a worktree is kept after its change
	// merges before removal is allowed.
	DefaultMergeGrace = 15 * time.Minute

	// DefaultShutdownGrace is how long the daemon waits for active
	// Shepherds to reach a terminal phase before force-cleanup.
	DefaultShutdownGrace = 60 * time.Second

	// DefaultRoleCooldown spaces out proposer role triggers.
	DefaultRoleCooldown = 30 * time.Minute

	// ShutdownNotifyDelay is the pause after SIGTERM before checking
	// whether the daemon needs a SIGKILL.
	ShutdownNotifyDelay = 500 * time.Millisecond

	// SessionPollInterval is the polling cadence for session output and
	// wait loops inside a Shepherd.
	SessionPollInterval = 2 * time.Second
)

// Pool sizing defaults.
const (
	// DefaultMaxShepherds caps the slot table.
	DefaultMaxShepherds = 4

	// DefaultItemsPerShepherd is the backlog-to-shepherd ratio used when
	// computing the target pool size.
	DefaultItemsPerShepherd = 2

	// DefaultBacklogLowWater is the ready-backlog size below which proposer
	// roles are triggered.
	DefaultBacklogLowWater = 3

	// DefaultProposalCap is the maximum number of open proposals (items
	// still labeled new) before proposer triggers are suppressed.
	DefaultProposalCap = 10
)

// Directory names under the fleet root.
const (
	// DirShepherd is the runtime state directory at the fleet root.
	DirShepherd = ".shepherd"

	// DirDaemon holds daemon pid/lock/log/state files.
	DirDaemon = "daemon"

	// DirRuns holds per-Shepherd runtime dirs keyed by shepherd id.
	DirRuns = "runs"

	// DirWorktrees holds per-item isolated working copies.
	DirWorktrees = "worktrees"
)

// File names for configuration and state.
const (
	// FileConfig is the fleet configuration file and workspace marker.
	FileConfig = "config.toml"

	// FileDaemonPID holds the running daemon's PID.
	FileDaemonPID = "daemon.pid"

	// FileDaemonLock is the flock file guarding daemon singleton-ness.
	FileDaemonLock = "daemon.lock"

	// FileDaemonLog is the daemon's append-only log.
	FileDaemonLog = "daemon.log"

	// FileDaemonState is the persisted DaemonState snapshot.
	FileDaemonState = "state.json"

	// FileFailures persists failure records and the breaker window.
	FileFailures = "failures.json"

	// FileWorktrees persists worktree metadata (owner, merge times).
	FileWorktrees = "worktrees.json"

	// FilePaused marks the fleet paused; written by `shep pause`.
	FilePaused = "paused.json"

	// FileAssigns queues force-assign requests for the daemon.
	FileAssigns = "assign.json"

	// FileBreakerReset requests an explicit breaker reset.
	FileBreakerReset = "breaker-reset"

	// FileEvents is the append-only audit event log.
	FileEvents = "events.jsonl"

	// FileHeartbeat is the per-run heartbeat file.
	FileHeartbeat = "heartbeat.json"

	// FileProgress is the per-run phase progress marker.
	FileProgress = "progress.json"

	// FileResult is the per-run terminal outcome file.
	FileResult = "result.json"

	// FilePostmortem captures session output from a reclaimed Shepherd.
	FilePostmortem = "postmortem.log"

	// FileShepherdLog is the per-run Shepherd process log.
	FileShepherdLog = "shepherd.log"
)

// Git branch names.
const (
	// BranchMain is the default base branch name.
	BranchMain = "main"

	// BranchPrefix is the prefix for per-item work branches.
	BranchPrefix = "shep/"
)

// Session naming.
const (
	// SessionPrefix is the prefix for all fleet tmux sessions.
	SessionPrefix = "shep-"

	// WorkerSessionPrefix marks Shepherd worker sessions: shep-w<slot>-<id>.
	WorkerSessionPrefix = "shep-w"

	// RoleSessionPrefix marks support/proposer role sessions: shep-role-<name>.
	RoleSessionPrefix = "shep-role-"
)

// Path helpers construct common paths under a fleet root.

// ShepherdDir returns the runtime state directory for a fleet root.
func ShepherdDir(root string) string {
	return filepath.Join(root, DirShepherd)
}

// ConfigPath returns the path to config.toml for a fleet root.
func ConfigPath(root string) string {
	return filepath.Join(root, DirShepherd, FileConfig)
}

// DaemonDir returns the daemon state directory for a fleet root.
func DaemonDir(root string) string {
	return filepath.Join(root, DirShepherd, DirDaemon)
}

// DaemonPIDPath returns the daemon PID file path.
func DaemonPIDPath(root string) string {
	return filepath.Join(DaemonDir(root), FileDaemonPID)
}

// DaemonLockPath returns the daemon lock file path.
func DaemonLockPath(root string) string {
	return filepath.Join(DaemonDir(root), FileDaemonLock)
}

// DaemonLogPath returns the daemon log file path.
func DaemonLogPath(root string) string {
	return filepath.Join(DaemonDir(root), FileDaemonLog)
}

// DaemonStatePath returns the persisted DaemonState path.
func DaemonStatePath(root string) string {
	return filepath.Join(DaemonDir(root), FileDaemonState)
}

// RunsDir returns the directory holding per-Shepherd runtime dirs.
func RunsDir(root string) string {
	return filepath.Join(root, DirShepherd, DirRuns)
}

// RunDir returns the runtime dir for one Shepherd id.
func RunDir(root, shepherdID string) string {
	return filepath.Join(RunsDir(root), shepherdID)
}

// WorktreesDir returns the directory holding per-item worktrees.
func WorktreesDir(root string) string {
	return filepath.Join(root, DirShepherd, DirWorktrees)
}

// WorktreePath returns the worktree path for one item.
func WorktreePath(root, itemID string) string {
	return filepath.Join(WorktreesDir(root), itemID)
}

// WorktreeMetaPath returns the worktree metadata file path.
func WorktreeMetaPath(root string) string {
	return filepath.Join(root, DirShepherd, FileWorktrees)
}

// FailuresPath returns the failure-tracker state path.
func FailuresPath(root string) string {
	return filepath.Join(root, DirShepherd, FileFailures)
}

// PausedPath returns the pause marker path.
func PausedPath(root string) string {
	return filepath.Join(root, DirShepherd, FilePaused)
}

// AssignsPath returns the force-assign queue path.
func AssignsPath(root string) string {
	return filepath.Join(root, DirShepherd, FileAssigns)
}

// BreakerResetPath returns the breaker reset request path.
func BreakerResetPath(root string) string {
	return filepath.Join(root, DirShepherd, FileBreakerReset)
}

// EventsPath returns the audit event log path.
func EventsPath(root string) string {
	return filepath.Join(root, DirShepherd, FileEvents)
}

// Package roles keeps the fleet's support and proposer role sessions alive.
//
// Support roles run their command inside a long-lived session the daemon
// checks every iteration. Proposer roles get a plain shell session and have
// their command typed in on each trigger, so every proposal round is visible
// in the transcript. Trigger cooldowns are the daemon's concern; this package
// only moves sessions.
package roles

import (
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"github.com/rjwalters/loom-sub010/internal/config"
	"github.com/rjwalters/loom-sub010/internal/constants"
	"github.com/rjwalters/loom-sub010/internal/session"
	"github.com/rjwalters/loom-sub010/internal/workspace"
)

// ErrAlreadyRunning means the role's session is alive and healthy.
var ErrAlreadyRunning = errors.New("role session already running")

// commandProber is implemented by session services that can report the
// foreground command of a session's pane. Without it zombie detection is
// skipped and Alive is trusted.
type commandProber interface {
	PaneCommand(name string) (string, error)
}

// Manager starts, probes, and triggers role sessions.
type Manager struct {
	root     string
	sessions session.Service
	log      *log.Logger
}

// NewManager returns a Manager for role sessions rooted at root.
func NewManager(root string, sessions session.Service, logger *log.Logger) *Manager {
	return &Manager{root: root, sessions: sessions, log: logger}
}

// EnsureRunning makes sure a support role's session is alive and running its
// command. A healthy running session reports ErrAlreadyRunning. A zombie
// session, alive but with the command exited back to a shell, is killed and
// recreated.
func (m *Manager) EnsureRunning(role config.Role) error {
	name := session.RoleSessionName(role.Name)

	alive, err := m.sessions.Alive(name)
	if err != nil {
		return fmt.Errorf("probing role session %s: %w", name, err)
	}
	if alive {
		if !m.zombie(name, role) {
			return ErrAlreadyRunning
		}
		m.log.Printf("role %s: session alive but command gone, recreating", role.Name)
		if err := m.sessions.Kill(name); err != nil {
			return fmt.Errorf("killing zombie session %s: %w", name, err)
		}
	}

	if err := m.sessions.Create(name, m.root, role.Command); err != nil {
		return fmt.Errorf("creating role session %s: %w", name, err)
	}
	m.exportEnv(name, role)
	nudge := session.StartupNudgeConfig{
		Recipient: "role:" + role.Name,
		Sender:    "daemon",
		Topic:     "cold-start",
	}
	if err := session.StartupNudge(m.sessions, name, nudge); err != nil {
		m.log.Printf("warning: startup nudge for role %s: %v", role.Name, err)
	}
	return nil
}

// Trigger runs a proposer role once: its shell session is created if missing
// and the role command is typed into it.
func (m *Manager) Trigger(role config.Role) error {
	name := session.RoleSessionName(role.Name)

	alive, err := m.sessions.Alive(name)
	if err != nil {
		return fmt.Errorf("probing role session %s: %w", name, err)
	}
	if !alive {
		if err := m.sessions.Create(name, m.root, ""); err != nil {
			return fmt.Errorf("creating role session %s: %w", name, err)
		}
		m.exportEnv(name, role)
	}
	if err := m.sessions.Send(name, role.Command); err != nil {
		return fmt.Errorf("triggering role %s: %w", role.Name, err)
	}
	return nil
}

// exportEnv marks a fresh role session with its identity so tooling run
// inside new panes can tell which role and fleet it belongs to.
func (m *Manager) exportEnv(name string, role config.Role) {
	session.ExportEnv(m.sessions, name, map[string]string{
		"SHEP_ROLE":       role.Name,
		workspace.EnvRoot: m.root,
	})
}

// Running returns the names of live role sessions.
func (m *Manager) Running() ([]string, error) {
	return m.sessions.List(constants.RoleSessionPrefix)
}

// Shutdown stops every role session, interrupting the agent first where the
// backend supports it. Failures are logged, not returned, so a stuck session
// cannot block daemon shutdown.
func (m *Manager) Shutdown() {
	names, err := m.Running()
	if err != nil {
		m.log.Printf("warning: listing role sessions: %v", err)
		return
	}
	for _, name := range names {
		if err := session.Stop(m.sessions, name); err != nil {
			m.log.Printf("warning: stopping role session %s: %v", name, err)
		}
	}
}

// zombie reports whether the session's command has exited back to a bare
// shell. Role commands that are themselves shells are never zombies.
func (m *Manager) zombie(name string, role config.Role) bool {
	prober, ok := m.sessions.(commandProber)
	if !ok {
		return false
	}
	cmd, err := prober.PaneCommand(name)
	if err != nil || cmd == "" {
		return false
	}
	return isShell(cmd) && !isShell(commandName(role.Command))
}

// commandName extracts the bare executable name from a command line.
func commandName(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}
	return filepath.Base(fields[0])
}

func isShell(cmd string) bool {
	switch cmd {
	case "sh", "bash", "zsh", "fish", "dash", "ksh":
		return true
	}
	return false
}

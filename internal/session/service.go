package session

import (
	"time"

	"github.com/rjwalters/loom-sub010/internal/tmux"
)

// Service abstracts the terminal-session backend. The daemon and shepherd
// runner depend on this interface; production wiring uses TmuxService and
// tests substitute fakes.
type Service interface {
	// Create starts a detached session running command in dir.
	Create(name, dir, command string) error

	// Send types input into the session followed by Enter.
	Send(name, input string) error

	// Capture returns the last lines of session output.
	Capture(name string, lines int) (string, error)

	// Alive reports whether the session exists.
	Alive(name string) (bool, error)

	// Kill terminates the session.
	Kill(name string) error

	// List returns session names starting with prefix.
	List(prefix string) ([]string, error)
}

// TmuxService implements Service over a tmux server.
type TmuxService struct {
	tmux *tmux.Tmux
}

// NewTmuxService returns a Service backed by the given tmux wrapper.
func NewTmuxService(t *tmux.Tmux) *TmuxService {
	return &TmuxService{tmux: t}
}

func (s *TmuxService) Create(name, dir, command string) error {
	if command == "" {
		return s.tmux.NewSession(name, dir)
	}
	return s.tmux.NewSessionWithCommand(name, dir, command)
}

func (s *TmuxService) Send(name, input string) error {
	return s.tmux.SendKeys(name, input)
}

func (s *TmuxService) Capture(name string, lines int) (string, error) {
	return s.tmux.CapturePane(name, lines)
}

func (s *TmuxService) Alive(name string) (bool, error) {
	return s.tmux.HasSession(name)
}

func (s *TmuxService) Kill(name string) error {
	return s.tmux.KillSession(name)
}

func (s *TmuxService) List(prefix string) ([]string, error) {
	return s.tmux.ListSessions(prefix)
}

// PaneCommand reports the foreground command in the session's pane. Not part
// of Service; callers that need it probe for the method.
func (s *TmuxService) PaneCommand(name string) (string, error) {
	return s.tmux.PaneCommand(name)
}

// SetEnv exports a session-scoped environment variable. Not part of Service;
// callers that need it probe for the method.
func (s *TmuxService) SetEnv(name, key, value string) error {
	return s.tmux.SetEnvironment(name, key, value)
}

// Interrupt sends Ctrl-C to the session's foreground process. Not part of
// Service; callers that need it probe for the method.
func (s *TmuxService) Interrupt(name string) error {
	return s.tmux.SendKeysRaw(name, "C-c")
}

// envSetter is implemented by session services that can export
// session-scoped environment variables.
type envSetter interface {
	SetEnv(name, key, value string) error
}

// ExportEnv sets session-scoped environment variables on services that
// support them. The variables reach new panes only, not the process already
// running, so the startup nudge stays the authoritative identity record.
func ExportEnv(svc Service, name string, vars map[string]string) {
	es, ok := svc.(envSetter)
	if !ok {
		return
	}
	for k, v := range vars {
		_ = es.SetEnv(name, k, v)
	}
}

// interrupter is implemented by session services that can interrupt a
// session's foreground process.
type interrupter interface {
	Interrupt(name string) error
}

// Stop ends a session, interrupting its foreground process first on services
// that support it so the agent gets a moment to exit on its own terms.
func Stop(svc Service, name string) error {
	if in, ok := svc.(interrupter); ok {
		_ = in.Interrupt(name)
		time.Sleep(100 * time.Millisecond)
	}
	return svc.Kill(name)
}

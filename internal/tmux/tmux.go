// Package tmux wraps the tmux binary for session management.
//
// Worker and role sessions run inside detached tmux sessions so operators
// can attach to a live agent at any time. Every method shells out to tmux;
// a missing server is reported as "no sessions", not an error.
package tmux

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Tmux executes tmux commands.
type Tmux struct {
	bin string
}

// NewTmux returns a Tmux that invokes the tmux binary found on PATH.
func NewTmux() *Tmux {
	return &Tmux{bin: "tmux"}
}

// IsAvailable reports whether the tmux binary can be found.
func (t *Tmux) IsAvailable() bool {
	_, err := exec.LookPath(t.bin)
	return err == nil
}

// HasSession reports whether a session with the given name exists.
// A stopped tmux server means no sessions exist.
func (t *Tmux) HasSession(name string) (bool, error) {
	cmd := exec.Command(t.bin, "has-session", "-t", name) //nolint:gosec // G204: session names are constructed internally
	if err := cmd.Run(); err != nil {
		if _, ok := err.(*exec.ExitError); ok {
			return false, nil
		}
		return false, fmt.Errorf("tmux has-session: %w", err)
	}
	return true, nil
}

// NewSession creates a detached session with the given name and working
// directory, running the user's default shell.
func (t *Tmux) NewSession(name, dir string) error {
	return t.run("new-session", "-d", "-s", name, "-c", dir)
}

// NewSessionWithCommand creates a detached session running command instead
// of a shell. The session exits when the command does.
func (t *Tmux) NewSessionWithCommand(name, dir, command string) error {
	return t.run("new-session", "-d", "-s", name, "-c", dir, command)
}

// KillSession terminates a session.
func (t *Tmux) KillSession(name string) error {
	return t.run("kill-session", "-t", name)
}

// SendKeys types text into a session followed by Enter. The text is sent
// literally so shell metacharacters arrive unmodified.
func (t *Tmux) SendKeys(name, text string) error {
	if err := t.run("send-keys", "-t", name, "-l", "--", text); err != nil {
		return err
	}
	return t.run("send-keys", "-t", name, "Enter")
}

// SendKeysRaw sends a key chord such as "C-c" without literal quoting.
func (t *Tmux) SendKeysRaw(name, keys string) error {
	return t.run("send-keys", "-t", name, keys)
}

// CapturePane returns the last lines of a session's visible pane plus
// scrollback. lines <= 0 captures the visible pane only. Wrapped lines are
// joined so a long echoed input reads back as the single line it was sent as.
func (t *Tmux) CapturePane(name string, lines int) (string, error) {
	args := []string{"capture-pane", "-p", "-J", "-t", name}
	if lines > 0 {
		args = append(args, "-S", "-"+strconv.Itoa(lines))
	}
	return t.output(args...)
}

// PaneCommand returns the foreground command of the session's active pane,
// e.g. "claude" while the agent runs or "bash" after it exited to a shell.
func (t *Tmux) PaneCommand(name string) (string, error) {
	out, err := t.output("display-message", "-p", "-t", name, "#{pane_current_command}")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// ListSessions returns the names of sessions starting with prefix.
// An empty prefix returns all sessions. A stopped server returns none.
func (t *Tmux) ListSessions(prefix string) ([]string, error) {
	out, err := t.output("list-sessions", "-F", "#{session_name}")
	if err != nil {
		if isNoServer(err) {
			return nil, nil
		}
		return nil, err
	}

	var sessions []string
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if prefix == "" || strings.HasPrefix(line, prefix) {
			sessions = append(sessions, line)
		}
	}
	return sessions, nil
}

// SetEnvironment sets a session-scoped environment variable. New panes in
// the session inherit it; the running process does not.
func (t *Tmux) SetEnvironment(name, key, value string) error {
	return t.run("set-environment", "-t", name, key, value)
}

// run executes a tmux command, folding stderr into the returned error.
func (t *Tmux) run(args ...string) error {
	cmd := exec.Command(t.bin, args...) //nolint:gosec // G204: arguments are constructed internally
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("tmux %s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	return nil
}

// output executes a tmux command and returns its stdout.
func (t *Tmux) output(args ...string) (string, error) {
	cmd := exec.Command(t.bin, args...) //nolint:gosec // G204: arguments are constructed internally
	var stderr strings.Builder
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("tmux %s: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return string(out), nil
}

// isNoServer matches the error tmux emits when no server is running.
func isNoServer(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no server running")
}

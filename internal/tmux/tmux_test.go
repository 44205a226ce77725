package tmux

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// fakeTmux installs a tmux script that logs its arguments to argsFile and
// runs the given body. Returns the path of the args log.
func fakeTmux(t *testing.T, body string) string {
	t.Helper()

	binDir := t.TempDir()
	argsFile := filepath.Join(binDir, "args.log")
	script := fmt.Sprintf(`#!/bin/sh
echo "$@" >> %q
%s
`, argsFile, body)
	if err := os.WriteFile(filepath.Join(binDir, "tmux"), []byte(script), 0755); err != nil {
		t.Fatalf("write fake tmux: %v", err)
	}
	t.Setenv("PATH", fmt.Sprintf("%s:%s", binDir, os.Getenv("PATH")))
	return argsFile
}

func loggedArgs(t *testing.T, argsFile string) []string {
	t.Helper()
	data, err := os.ReadFile(argsFile)
	if err != nil {
		t.Fatalf("read args log: %v", err)
	}
	var lines []string
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func TestHasSession(t *testing.T) {
	argsFile := fakeTmux(t, `case "$3" in *alive*) exit 0 ;; *) echo "can't find session" 1>&2; exit 1 ;; esac`)

	tm := NewTmux()

	ok, err := tm.HasSession("shep-w0-alive")
	if err != nil {
		t.Fatalf("HasSession() error: %v", err)
	}
	if !ok {
		t.Error("HasSession(alive) = false, want true")
	}

	ok, err = tm.HasSession("shep-w1-gone")
	if err != nil {
		t.Fatalf("HasSession() error: %v", err)
	}
	if ok {
		t.Error("HasSession(gone) = true, want false")
	}

	args := loggedArgs(t, argsFile)
	if len(args) != 2 || !strings.HasPrefix(args[0], "has-session -t ") {
		t.Errorf("unexpected tmux invocations: %v", args)
	}
}

func TestNewSessionWithCommand(t *testing.T) {
	argsFile := fakeTmux(t, "exit 0")

	tm := NewTmux()
	if err := tm.NewSessionWithCommand("shep-w0-abc", "/tmp/work", "worker --item wk-1"); err != nil {
		t.Fatalf("NewSessionWithCommand() error: %v", err)
	}

	args := loggedArgs(t, argsFile)
	want := "new-session -d -s shep-w0-abc -c /tmp/work worker --item wk-1"
	if len(args) != 1 || args[0] != want {
		t.Errorf("tmux args = %v, want [%q]", args, want)
	}
}

func TestSendKeysIsLiteralThenEnter(t *testing.T) {
	argsFile := fakeTmux(t, "exit 0")

	tm := NewTmux()
	if err := tm.SendKeys("shep-w0-abc", "status; echo $HOME"); err != nil {
		t.Fatalf("SendKeys() error: %v", err)
	}

	args := loggedArgs(t, argsFile)
	if len(args) != 2 {
		t.Fatalf("got %d tmux invocations, want 2: %v", len(args), args)
	}
	if !strings.Contains(args[0], "-l -- status; echo $HOME") {
		t.Errorf("first invocation not literal send: %q", args[0])
	}
	if !strings.HasSuffix(args[1], "Enter") {
		t.Errorf("second invocation should press Enter: %q", args[1])
	}
}

func TestSendKeysRawSendsChordUnquoted(t *testing.T) {
	argsFile := fakeTmux(t, "exit 0")

	tm := NewTmux()
	if err := tm.SendKeysRaw("shep-w0-abc", "C-c"); err != nil {
		t.Fatalf("SendKeysRaw() error: %v", err)
	}

	args := loggedArgs(t, argsFile)
	want := "send-keys -t shep-w0-abc C-c"
	if len(args) != 1 || args[0] != want {
		t.Errorf("tmux args = %v, want [%q]", args, want)
	}
}

func TestSetEnvironment(t *testing.T) {
	argsFile := fakeTmux(t, "exit 0")

	tm := NewTmux()
	if err := tm.SetEnvironment("shep-w0-abc", "SHEP_ITEM", "wk-7"); err != nil {
		t.Fatalf("SetEnvironment() error: %v", err)
	}

	args := loggedArgs(t, argsFile)
	want := "set-environment -t shep-w0-abc SHEP_ITEM wk-7"
	if len(args) != 1 || args[0] != want {
		t.Errorf("tmux args = %v, want [%q]", args, want)
	}
}

func TestCapturePane(t *testing.T) {
	argsFile := fakeTmux(t, `echo "PHASE COMPLETE"`)

	tm := NewTmux()
	out, err := tm.CapturePane("shep-w0-abc", 50)
	if err != nil {
		t.Fatalf("CapturePane() error: %v", err)
	}
	if !strings.Contains(out, "PHASE COMPLETE") {
		t.Errorf("CapturePane() = %q, want pane content", out)
	}

	args := loggedArgs(t, argsFile)
	if len(args) != 1 || !strings.Contains(args[0], "-S -50") {
		t.Errorf("capture should request 50 lines of scrollback: %v", args)
	}
	if !strings.Contains(args[0], "-J") {
		t.Errorf("capture should join wrapped lines: %v", args)
	}
}

func TestPaneCommand(t *testing.T) {
	argsFile := fakeTmux(t, `echo "claude"`)

	tm := NewTmux()
	cmd, err := tm.PaneCommand("shep-role-groomer")
	if err != nil {
		t.Fatalf("PaneCommand() error: %v", err)
	}
	if cmd != "claude" {
		t.Errorf("PaneCommand() = %q, want claude", cmd)
	}

	args := loggedArgs(t, argsFile)
	if len(args) != 1 || !strings.Contains(args[0], "display-message -p") {
		t.Errorf("unexpected tmux invocation: %v", args)
	}
}

func TestListSessionsFiltersPrefix(t *testing.T) {
	fakeTmux(t, `if [ "$1" = "list-sessions" ]; then
  printf 'shep-w0-abc\nshep-role-reviewer\nunrelated\n'
fi`)

	tm := NewTmux()

	all, err := tm.ListSessions("")
	if err != nil {
		t.Fatalf("ListSessions() error: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("ListSessions(\"\") = %v, want 3 sessions", all)
	}

	workers, err := tm.ListSessions("shep-w")
	if err != nil {
		t.Fatalf("ListSessions() error: %v", err)
	}
	if len(workers) != 1 || workers[0] != "shep-w0-abc" {
		t.Errorf("ListSessions(shep-w) = %v, want [shep-w0-abc]", workers)
	}
}

func TestListSessionsNoServer(t *testing.T) {
	fakeTmux(t, `echo "no server running on /tmp/tmux-0/default" 1>&2; exit 1`)

	tm := NewTmux()
	sessions, err := tm.ListSessions("shep-")
	if err != nil {
		t.Fatalf("ListSessions() with no server: %v", err)
	}
	if sessions != nil {
		t.Errorf("ListSessions() = %v, want none", sessions)
	}
}

func TestRunWrapsStderr(t *testing.T) {
	fakeTmux(t, `echo "session not found: shep-w9-zzz" 1>&2; exit 1`)

	tm := NewTmux()
	err := tm.KillSession("shep-w9-zzz")
	if err == nil {
		t.Fatal("KillSession() expected error")
	}
	if !strings.Contains(err.Error(), "session not found") {
		t.Errorf("error should carry tmux stderr, got: %v", err)
	}
}

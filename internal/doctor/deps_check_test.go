package doctor

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rjwalters/loom-sub010/internal/config"
)

// writeFakeBin drops an executable shell script named name into dir.
func writeFakeBin(t *testing.T, dir, name, script string) {
	t.Helper()
	path := filepath.Join(dir, name)
	//nolint:gosec // test fixture must be executable
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755); err != nil {
		t.Fatalf("writing fake %s: %v", name, err)
	}
}

// fakePath points PATH at a directory of fake binaries.
func fakePath(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("PATH", dir)
	return dir
}

func testCtx(t *testing.T) *CheckContext {
	t.Helper()
	return &CheckContext{Root: t.TempDir()}
}

func TestGitCheckOK(t *testing.T) {
	bin := fakePath(t)
	writeFakeBin(t, bin, "git", `echo "git version 2.43.0"`)

	result := NewGitCheck().Run(testCtx(t))

	if result.Status != StatusOK {
		t.Fatalf("status = %v (%s), want ok", result.Status, result.Message)
	}
	if result.Message != "git 2.43.0" {
		t.Errorf("message = %q, want %q", result.Message, "git 2.43.0")
	}
}

func TestGitCheckMissing(t *testing.T) {
	fakePath(t)

	result := NewGitCheck().Run(testCtx(t))

	if result.Status != StatusError {
		t.Fatalf("status = %v, want error", result.Status)
	}
	if result.Message != "git not found in PATH" {
		t.Errorf("message = %q", result.Message)
	}
	if result.FixHint == "" {
		t.Error("expected a fix hint")
	}
}

func TestGitCheckTooOld(t *testing.T) {
	bin := fakePath(t)
	writeFakeBin(t, bin, "git", `echo "git version 2.10.1"`)

	result := NewGitCheck().Run(testCtx(t))

	if result.Status != StatusError {
		t.Fatalf("status = %v (%s), want error", result.Status, result.Message)
	}
	if !strings.Contains(result.Message, "too old") {
		t.Errorf("message = %q, want a too-old report", result.Message)
	}
}

func TestGitCheckUnparseableVersion(t *testing.T) {
	bin := fakePath(t)
	writeFakeBin(t, bin, "git", `echo "git version mystery"`)

	result := NewGitCheck().Run(testCtx(t))

	if result.Status != StatusWarning {
		t.Fatalf("status = %v (%s), want warning", result.Status, result.Message)
	}
}

func TestTmuxCheckOK(t *testing.T) {
	bin := fakePath(t)
	writeFakeBin(t, bin, "tmux", `echo "tmux 3.4"`)

	result := NewTmuxCheck().Run(testCtx(t))

	if result.Status != StatusOK {
		t.Fatalf("status = %v (%s), want ok", result.Status, result.Message)
	}
	if result.Message != "tmux 3.4" {
		t.Errorf("message = %q, want %q", result.Message, "tmux 3.4")
	}
}

func TestTmuxCheckMissing(t *testing.T) {
	fakePath(t)

	result := NewTmuxCheck().Run(testCtx(t))

	if result.Status != StatusError {
		t.Fatalf("status = %v, want error", result.Status)
	}
}

func TestTrackerCheckOK(t *testing.T) {
	bin := fakePath(t)
	writeFakeBin(t, bin, "wk", `echo "wk version 0.12.0"`)

	result := NewTrackerCheck().Run(testCtx(t))

	if result.Status != StatusOK {
		t.Fatalf("status = %v (%s), want ok", result.Status, result.Message)
	}
	if result.Message != "wk 0.12.0" {
		t.Errorf("message = %q, want %q", result.Message, "wk 0.12.0")
	}
}

func TestTrackerCheckTooOld(t *testing.T) {
	bin := fakePath(t)
	writeFakeBin(t, bin, "wk", `echo "wk version 0.8.2"`)

	result := NewTrackerCheck().Run(testCtx(t))

	if result.Status != StatusError {
		t.Fatalf("status = %v (%s), want error", result.Status, result.Message)
	}
	if !strings.Contains(result.Message, "too old") {
		t.Errorf("message = %q, want a too-old report", result.Message)
	}
}

func TestTrackerCheckMissing(t *testing.T) {
	fakePath(t)

	result := NewTrackerCheck().Run(testCtx(t))

	if result.Status != StatusError {
		t.Fatalf("status = %v, want error", result.Status)
	}
	if !strings.Contains(result.Message, `"wk" not found`) {
		t.Errorf("message = %q should name the missing command", result.Message)
	}
}

func TestTrackerCheckHonorsConfiguredCommand(t *testing.T) {
	bin := fakePath(t)
	writeFakeBin(t, bin, "tracker2", `echo "tracker2 version 1.4.0"`)

	cfg := config.Default()
	cfg.Tracker.Command = "tracker2"
	ctx := &CheckContext{Root: t.TempDir(), Config: cfg}

	result := NewTrackerCheck().Run(ctx)

	if result.Status != StatusOK {
		t.Fatalf("status = %v (%s), want ok", result.Status, result.Message)
	}
	if result.Message != "tracker2 1.4.0" {
		t.Errorf("message = %q", result.Message)
	}
}

func TestTrackerCheckNoVersionFlag(t *testing.T) {
	bin := fakePath(t)
	writeFakeBin(t, bin, "wk", `exit 64`)

	result := NewTrackerCheck().Run(testCtx(t))

	if result.Status != StatusWarning {
		t.Fatalf("status = %v (%s), want warning", result.Status, result.Message)
	}
	if !strings.Contains(result.Message, "version unknown") {
		t.Errorf("message = %q", result.Message)
	}
}

package doctor

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rjwalters/loom-sub010/internal/constants"
)

func writeStateFile(t *testing.T, root string, content string) {
	t.Helper()
	path := constants.DaemonStatePath(root)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestStateFileCheckFresh(t *testing.T) {
	result := NewStateFileCheck().Run(testCtx(t))

	if result.Status != StatusOK {
		t.Fatalf("status = %v (%s), want ok", result.Status, result.Message)
	}
	if result.Message != "No daemon state yet" {
		t.Errorf("message = %q", result.Message)
	}
}

func TestStateFileCheckLoads(t *testing.T) {
	ctx := testCtx(t)
	writeStateFile(t, ctx.Root, `{
		"pid": 0,
		"slots": [
			{"index": 0},
			{"index": 1, "shepherd": {"id": "abc", "item_id": "wk-1", "pid": 42, "session_name": "shep-w1-deadbeef", "state": "active"}}
		]
	}`)

	result := NewStateFileCheck().Run(ctx)

	if result.Status != StatusOK {
		t.Fatalf("status = %v (%s), want ok", result.Status, result.Message)
	}
	if !strings.Contains(result.Message, "2 slot(s), 1 occupied") {
		t.Errorf("message = %q", result.Message)
	}
}

func TestStateFileCheckCorruptFixed(t *testing.T) {
	ctx := testCtx(t)
	writeStateFile(t, ctx.Root, "{not json at all")

	check := NewStateFileCheck()
	result := check.Run(ctx)

	if result.Status != StatusError {
		t.Fatalf("status = %v (%s), want error", result.Status, result.Message)
	}
	if !strings.Contains(result.Message, "corrupt") {
		t.Errorf("message = %q", result.Message)
	}

	if err := check.Fix(ctx); err != nil {
		t.Fatalf("Fix: %v", err)
	}

	path := constants.DaemonStatePath(ctx.Root)
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("corrupt state file should be moved aside")
	}
	if _, err := os.Stat(path + ".bak"); err != nil {
		t.Error("backup of the corrupt file should exist")
	}

	rerun := check.Run(ctx)
	if rerun.Status != StatusOK {
		t.Errorf("status after fix = %v (%s), want ok", rerun.Status, rerun.Message)
	}
}

func TestStateFileCheckFixLeavesHealthyState(t *testing.T) {
	ctx := testCtx(t)
	writeStateFile(t, ctx.Root, `{"slots": []}`)

	check := NewStateFileCheck()
	if err := check.Fix(ctx); err != nil {
		t.Fatalf("Fix: %v", err)
	}
	if _, err := os.Stat(constants.DaemonStatePath(ctx.Root)); err != nil {
		t.Error("healthy state file should survive a fix")
	}
}

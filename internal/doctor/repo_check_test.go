package doctor

import (
	"strings"
	"testing"
	"time"

	"github.com/rjwalters/loom-sub010/internal/worktree"
)

func TestRepoCheckNotARepo(t *testing.T) {
	bin := fakePath(t)
	writeFakeBin(t, bin, "git", `exit 128`)

	result := NewRepoCheck().Run(testCtx(t))

	if result.Status != StatusError {
		t.Fatalf("status = %v (%s), want error", result.Status, result.Message)
	}
	if result.Message != "Fleet root is not a git repository" {
		t.Errorf("message = %q", result.Message)
	}
}

func TestRepoCheckOnWorkBranch(t *testing.T) {
	bin := fakePath(t)
	writeFakeBin(t, bin, "git", `if [ "$2" = "--git-dir" ]; then echo .git; else echo shep/wk-9; fi`)

	result := NewRepoCheck().Run(testCtx(t))

	if result.Status != StatusWarning {
		t.Fatalf("status = %v (%s), want warning", result.Status, result.Message)
	}
	if !strings.Contains(result.Message, "shep/wk-9") {
		t.Errorf("message = %q should name the work branch", result.Message)
	}
}

func TestRepoCheckOK(t *testing.T) {
	bin := fakePath(t)
	writeFakeBin(t, bin, "git", `if [ "$2" = "--git-dir" ]; then echo .git; else echo main; fi`)

	result := NewRepoCheck().Run(testCtx(t))

	if result.Status != StatusOK {
		t.Fatalf("status = %v (%s), want ok", result.Status, result.Message)
	}
	if result.Message != "git repository on main" {
		t.Errorf("message = %q", result.Message)
	}
}

func TestRepoCheckFlagsDriftedBranches(t *testing.T) {
	bin := fakePath(t)
	writeFakeBin(t, bin, "git", `case "$1" in
rev-parse) if [ "$2" = "--git-dir" ]; then echo .git; else echo main; fi ;;
rev-list) echo 64 ;;
esac`)

	ctx := testCtx(t)
	mgr := worktree.NewManager(ctx.Root, "main", time.Minute)
	if err := mgr.Adopt("wk-1", ctx.Root+"/w", ""); err != nil {
		t.Fatal(err)
	}

	result := NewRepoCheck().Run(ctx)

	if result.Status != StatusWarning {
		t.Fatalf("status = %v (%s), want warning", result.Status, result.Message)
	}
	if !strings.Contains(result.Message, "far behind main") {
		t.Errorf("message = %q", result.Message)
	}
	found := false
	for _, d := range result.Details {
		if strings.Contains(d, "shep/wk-1 is 64 commits behind main") {
			found = true
		}
	}
	if !found {
		t.Errorf("details %v should report the drifted branch", result.Details)
	}
}

func TestRepoCheckIgnoresSmallDrift(t *testing.T) {
	bin := fakePath(t)
	writeFakeBin(t, bin, "git", `case "$1" in
rev-parse) if [ "$2" = "--git-dir" ]; then echo .git; else echo main; fi ;;
rev-list) echo 3 ;;
esac`)

	ctx := testCtx(t)
	mgr := worktree.NewManager(ctx.Root, "main", time.Minute)
	if err := mgr.Adopt("wk-2", ctx.Root+"/w", ""); err != nil {
		t.Fatal(err)
	}

	result := NewRepoCheck().Run(ctx)

	if result.Status != StatusOK {
		t.Fatalf("status = %v (%s), want ok", result.Status, result.Message)
	}
}

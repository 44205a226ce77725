package doctor

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rjwalters/loom-sub010/internal/config"
	"github.com/rjwalters/loom-sub010/internal/constants"
	"github.com/rjwalters/loom-sub010/internal/daemon"
)

// mockSessionService implements session.Service for tests.
type mockSessionService struct {
	sessions  []string
	killed    []string
	listCalls int
}

func (m *mockSessionService) Create(name, dir, command string) error { return nil }
func (m *mockSessionService) Send(name, input string) error          { return nil }
func (m *mockSessionService) Capture(name string, lines int) (string, error) {
	return "", nil
}
func (m *mockSessionService) Alive(name string) (bool, error) { return true, nil }

func (m *mockSessionService) Kill(name string) error {
	m.killed = append(m.killed, name)
	return nil
}

func (m *mockSessionService) List(prefix string) ([]string, error) {
	m.listCalls++
	var out []string
	for _, name := range m.sessions {
		if strings.HasPrefix(name, prefix) {
			out = append(out, name)
		}
	}
	return out, nil
}

// seedSlotState persists daemon state with one occupied slot owning session.
func seedSlotState(t *testing.T, root, sessionName string) {
	t.Helper()
	path := constants.DaemonStatePath(root)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	doc := `{"slots": [{"index": 0, "shepherd": {"id": "abc", "item_id": "wk-1", "pid": 42, "session_name": "` + sessionName + `", "state": "active"}}]}`
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestOrphanSessionCheckFlagsUnowned(t *testing.T) {
	ctx := testCtx(t)
	seedSlotState(t, ctx.Root, "shep-w0-aaaa1111")

	svc := &mockSessionService{sessions: []string{
		"shep-w0-aaaa1111",
		"shep-w3-dead0000",
		"shep-role-scout",
	}}
	check := NewOrphanSessionCheckWithSessions(svc)

	result := check.Run(ctx)

	if result.Status != StatusWarning {
		t.Fatalf("status = %v (%s), want warning", result.Status, result.Message)
	}
	if !strings.Contains(result.Message, "2 orphan session(s)") {
		t.Errorf("message = %q", result.Message)
	}
	joined := strings.Join(result.Details, "\n")
	if !strings.Contains(joined, "shep-w3-dead0000 (no slot references it)") {
		t.Errorf("details %v should flag the unowned worker session", result.Details)
	}
	if !strings.Contains(joined, "shep-role-scout (role not configured)") {
		t.Errorf("details %v should flag the unconfigured role session", result.Details)
	}

	if err := check.Fix(ctx); err != nil {
		t.Fatalf("Fix: %v", err)
	}
	if len(svc.killed) != 2 {
		t.Fatalf("killed %v, want exactly the two orphans", svc.killed)
	}
	for _, name := range svc.killed {
		if name == "shep-w0-aaaa1111" {
			t.Error("owned session must not be killed")
		}
	}
}

func TestOrphanSessionCheckAllOwned(t *testing.T) {
	cfg := config.Default()
	cfg.Roles = append(cfg.Roles, config.Role{
		Name:    "scout",
		Kind:    config.RoleSupport,
		Command: "scout --watch",
	})
	ctx := &CheckContext{Root: t.TempDir(), Config: cfg}
	seedSlotState(t, ctx.Root, "shep-w0-aaaa1111")

	svc := &mockSessionService{sessions: []string{
		"shep-w0-aaaa1111",
		"shep-role-scout",
	}}

	result := NewOrphanSessionCheckWithSessions(svc).Run(ctx)

	if result.Status != StatusOK {
		t.Fatalf("status = %v (%s), want ok", result.Status, result.Message)
	}
	if !strings.Contains(result.Message, "all accounted for") {
		t.Errorf("message = %q", result.Message)
	}
}

func TestOrphanSessionCheckSkipsWhileDaemonRuns(t *testing.T) {
	ctx := testCtx(t)
	if err := daemon.WritePID(ctx.Root, os.Getpid()); err != nil {
		t.Fatal(err)
	}

	svc := &mockSessionService{sessions: []string{"shep-w9-orphaned"}}
	result := NewOrphanSessionCheckWithSessions(svc).Run(ctx)

	if result.Status != StatusOK {
		t.Fatalf("status = %v (%s), want ok", result.Status, result.Message)
	}
	if svc.listCalls != 0 {
		t.Errorf("sessions listed %d times while daemon runs, want 0", svc.listCalls)
	}
}

func TestOrphanSessionCheckNoSessions(t *testing.T) {
	result := NewOrphanSessionCheckWithSessions(&mockSessionService{}).Run(testCtx(t))

	if result.Status != StatusOK {
		t.Fatalf("status = %v (%s), want ok", result.Status, result.Message)
	}
}

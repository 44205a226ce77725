package doctor

import (
	"fmt"
	"strings"

	"github.com/rjwalters/loom-sub010/internal/constants"
	"github.com/rjwalters/loom-sub010/internal/daemon"
	"github.com/rjwalters/loom-sub010/internal/session"
	"github.com/rjwalters/loom-sub010/internal/tmux"
)

// OrphanSessionCheck finds fleet tmux sessions that nothing owns: worker
// sessions no slot references and role sessions for roles no longer
// configured. It only acts while the daemon is down; a running daemon
// sweeps its own sessions.
type OrphanSessionCheck struct {
	FixableCheck

	// sessions is injected in tests. Nil means use the real tmux server.
	sessions session.Service

	// orphans found by Run, cached for Fix.
	orphans []string
}

// NewOrphanSessionCheck creates a new orphan session check.
func NewOrphanSessionCheck() *OrphanSessionCheck {
	return &OrphanSessionCheck{
		FixableCheck: FixableCheck{
			BaseCheck: BaseCheck{
				CheckName:        "sessions",
				CheckDescription: "Check for fleet tmux sessions nothing owns",
				CheckCategory:    CategoryCleanup,
			},
		},
	}
}

// NewOrphanSessionCheckWithSessions creates the check with an injected
// session backend, for tests.
func NewOrphanSessionCheckWithSessions(svc session.Service) *OrphanSessionCheck {
	c := NewOrphanSessionCheck()
	c.sessions = svc
	return c
}

func (c *OrphanSessionCheck) service() session.Service {
	if c.sessions != nil {
		return c.sessions
	}
	return session.NewTmuxService(tmux.NewTmux())
}

// ownedSessions returns every session name the fleet still accounts for.
func ownedSessions(ctx *CheckContext) map[string]bool {
	owned := make(map[string]bool)

	if st, err := daemon.LoadState(ctx.Root); err == nil {
		for _, slot := range st.Slots {
			if slot.Shepherd != nil && slot.Shepherd.SessionName != "" {
				owned[slot.Shepherd.SessionName] = true
			}
		}
	}

	for _, role := range ctx.Cfg().Roles {
		owned[constants.RoleSessionPrefix+role.Name] = true
	}

	return owned
}

// Run lists fleet sessions and flags the unowned ones.
func (c *OrphanSessionCheck) Run(ctx *CheckContext) *CheckResult {
	if running, pid := daemon.IsRunning(ctx.Root); running {
		return &CheckResult{
			Name:    c.Name(),
			Status:  StatusOK,
			Message: fmt.Sprintf("Daemon running (pid %d), sessions managed by the fleet", pid),
		}
	}

	names, err := c.service().List(constants.SessionPrefix)
	if err != nil {
		return &CheckResult{
			Name:    c.Name(),
			Status:  StatusWarning,
			Message: "Could not list tmux sessions",
			Details: []string{err.Error()},
		}
	}

	owned := ownedSessions(ctx)

	var orphans []string
	for _, name := range names {
		if owned[name] {
			continue
		}
		orphans = append(orphans, name)
	}
	c.orphans = orphans

	if len(orphans) == 0 {
		return &CheckResult{
			Name:    c.Name(),
			Status:  StatusOK,
			Message: fmt.Sprintf("%d fleet session(s), all accounted for", len(names)),
		}
	}

	var details []string
	for _, name := range orphans {
		switch {
		case strings.HasPrefix(name, constants.RoleSessionPrefix):
			details = append(details, name+" (role not configured)")
		case strings.HasPrefix(name, constants.WorkerSessionPrefix):
			details = append(details, name+" (no slot references it)")
		default:
			details = append(details, name)
		}
	}

	return &CheckResult{
		Name:    c.Name(),
		Status:  StatusWarning,
		Message: fmt.Sprintf("%d orphan session(s) found", len(orphans)),
		Details: details,
		FixHint: "Run 'shep doctor --fix' to kill them",
	}
}

// Fix kills the orphan sessions found by Run.
func (c *OrphanSessionCheck) Fix(ctx *CheckContext) error {
	svc := c.service()
	for _, name := range c.orphans {
		if err := svc.Kill(name); err != nil {
			return fmt.Errorf("killing session %s: %w", name, err)
		}
	}
	return nil
}

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/rjwalters/loom-sub010/internal/config"
	"github.com/rjwalters/loom-sub010/internal/constants"
	"github.com/rjwalters/loom-sub010/internal/daemon"
	"github.com/rjwalters/loom-sub010/internal/labels"
	"github.com/rjwalters/loom-sub010/internal/session"
	"github.com/rjwalters/loom-sub010/internal/style"
	"github.com/rjwalters/loom-sub010/internal/tmux"
	"github.com/rjwalters/loom-sub010/internal/tracker"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:     "status",
	Aliases: []string{"stat"},
	GroupID: GroupDiag,
	Short:   "Show fleet status",
	Long: `Display the daemon, slot, breaker, and backlog state of the fleet.

Backlog counts come from the tracker; everything else from the
daemon's persisted state, so status works while the daemon is down.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output as JSON")
	rootCmd.AddCommand(statusCmd)
}

// SlotStatus is one pool slot in the status report.
type SlotStatus struct {
	Index     int    `json:"index"`
	ItemID    string `json:"item_id,omitempty"`
	Phase     string `json:"phase,omitempty"`
	PID       int    `json:"pid,omitempty"`
	Uptime    string `json:"uptime,omitempty"`
	Heartbeat string `json:"heartbeat,omitempty"`
	State     string `json:"state,omitempty"`
}

// BreakerStatus is the circuit breaker in the status report.
type BreakerStatus struct {
	Tripped  bool   `json:"tripped"`
	Failures int    `json:"failures_in_window"`
	Window   string `json:"window"`
}

// BacklogStatus is the tracker view in the status report.
type BacklogStatus struct {
	Counts  map[string]int `json:"counts,omitempty"`
	Blocked int            `json:"blocked"`
	Ready   int            `json:"ready"`
	Error   string         `json:"error,omitempty"`
}

// RoleStatus is one role in the status report. Unconfigured roles with a
// live session are reported too; the daemon will not manage those.
type RoleStatus struct {
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	Running     bool   `json:"running"`
	LastTrigger string `json:"last_trigger,omitempty"`
}

// FleetStatus is the full status report.
type FleetStatus struct {
	Root           string         `json:"root"`
	Running        bool           `json:"running"`
	PID            int            `json:"pid,omitempty"`
	Uptime         string         `json:"uptime,omitempty"`
	Iterations     int            `json:"iterations"`
	Spawned        int            `json:"spawned"`
	Reclaimed      int            `json:"reclaimed"`
	Paused         bool           `json:"paused"`
	PauseReason    string         `json:"pause_reason,omitempty"`
	Breaker        BreakerStatus  `json:"breaker"`
	Slots          []SlotStatus   `json:"slots"`
	Roles          []RoleStatus   `json:"roles,omitempty"`
	Backlog        BacklogStatus  `json:"backlog"`
	PendingCleanup []string       `json:"pending_cleanup,omitempty"`
}

func gatherStatus(ctx context.Context, root string, cfg *config.Config) *FleetStatus {
	fs := &FleetStatus{Root: root}

	fs.Running, fs.PID = daemon.IsRunning(root)

	var lastTrigger map[string]time.Time
	if st, err := daemon.LoadState(root); err == nil {
		if fs.Running && !st.StartedAt.IsZero() {
			fs.Uptime = time.Since(st.StartedAt).Round(time.Second).String()
		}
		fs.Iterations = st.Iterations
		fs.Spawned = st.Spawned
		fs.Reclaimed = st.Reclaimed
		fs.PendingCleanup = st.PendingCleanup
		lastTrigger = st.LastTrigger

		now := time.Now()
		for _, slot := range st.Slots {
			ss := SlotStatus{Index: slot.Index}
			if sh := slot.Shepherd; sh != nil {
				ss.ItemID = sh.ItemID
				ss.Phase = sh.Phase
				ss.PID = sh.PID
				ss.State = string(sh.State)
				ss.Uptime = now.Sub(sh.StartedAt).Round(time.Second).String()
				if sh.HeartbeatSeen {
					ss.Heartbeat = now.Sub(sh.LastHeartbeat).Round(time.Second).String() + " ago"
				} else {
					ss.Heartbeat = "none yet"
				}
			}
			fs.Slots = append(fs.Slots, ss)
		}
	}

	if p, paused := daemon.ReadPause(root); paused {
		fs.Paused = true
		fs.PauseReason = p.Reason
	}

	breaker := failureTracker(root, cfg).Breaker()
	fs.Breaker = BreakerStatus{
		Tripped:  breaker.Tripped(),
		Failures: breaker.WindowCount(time.Now()),
		Window:   cfg.GetBreakerWindow().String(),
	}

	fs.Roles = gatherRoles(cfg, lastTrigger)
	fs.Backlog = gatherBacklog(ctx, root, cfg)
	return fs
}

// gatherRoles pairs the configured roles with their live sessions. Session
// listing is best effort; with no tmux reachable every role reads as down.
func gatherRoles(cfg *config.Config, lastTrigger map[string]time.Time) []RoleStatus {
	if len(cfg.Roles) == 0 {
		return nil
	}

	live := make(map[string]bool)
	var stray []string
	svc := session.NewTmuxService(tmux.NewTmux())
	if names, err := svc.List(constants.RoleSessionPrefix); err == nil {
		for _, name := range names {
			id, err := session.ParseSessionName(name)
			if err != nil {
				continue
			}
			live[id.Role] = true
			if cfg.RoleByName(id.Role) == nil {
				stray = append(stray, id.Role)
			}
		}
	}

	var out []RoleStatus
	for _, r := range cfg.Roles {
		rs := RoleStatus{Name: r.Name, Kind: string(r.Kind), Running: live[r.Name]}
		if at, ok := lastTrigger[r.Name]; ok {
			rs.LastTrigger = time.Since(at).Round(time.Second).String() + " ago"
		}
		out = append(out, rs)
	}
	for _, name := range stray {
		out = append(out, RoleStatus{Name: name, Kind: "unconfigured", Running: true})
	}
	return out
}

func gatherBacklog(ctx context.Context, root string, cfg *config.Config) BacklogStatus {
	bs := BacklogStatus{Counts: make(map[string]int)}

	tc := tracker.NewCLIClient(cfg.Tracker.Command, root)
	items, err := tc.List(ctx, tracker.ListFilter{})
	if err != nil {
		bs.Error = err.Error()
		return bs
	}

	for _, item := range items {
		st := labels.Classify(item.Labels)
		if st.Primary != "" {
			bs.Counts[string(st.Primary)]++
		}
		if st.Blocked {
			bs.Blocked++
		}
		if st.Claimable(cfg.Fleet.AutoApprove) {
			bs.Ready++
		}
	}
	return bs
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(fleetRoot)
	if err != nil {
		cfg = config.Default()
	}

	fs := gatherStatus(cmd.Context(), fleetRoot, cfg)

	if statusJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(fs)
	}

	printStatus(fs)
	return nil
}

func printStatus(fs *FleetStatus) {
	styled := term.IsTerminal(int(os.Stdout.Fd()))
	render := func(s interface{ Render(...string) string }, text string) string {
		if styled {
			return s.Render(text)
		}
		return text
	}

	fmt.Printf("Fleet: %s\n", fs.Root)

	switch {
	case fs.Running:
		fmt.Printf("Daemon: %s (pid %d, up %s, %d iterations)\n",
			render(style.Success, "running"), fs.PID, fs.Uptime, fs.Iterations)
	default:
		fmt.Printf("Daemon: %s\n", render(style.Dim, "stopped"))
	}

	if fs.Paused {
		reason := fs.PauseReason
		if reason == "" {
			reason = "no reason given"
		}
		fmt.Printf("Paused: %s (%s)\n", render(style.Warning, "yes"), reason)
	}

	if fs.Breaker.Tripped {
		fmt.Printf("Breaker: %s (%d failure(s) in %s)\n",
			render(style.Error, "TRIPPED"), fs.Breaker.Failures, fs.Breaker.Window)
	} else {
		fmt.Printf("Breaker: ok (%d failure(s) in %s)\n", fs.Breaker.Failures, fs.Breaker.Window)
	}

	fmt.Println()
	fmt.Println(render(style.Bold, "Slots:"))
	if len(fs.Slots) == 0 {
		fmt.Println("  none (fleet has not run yet)")
	}
	for _, slot := range fs.Slots {
		if slot.ItemID == "" {
			fmt.Printf("  %d  %s\n", slot.Index, render(style.Dim, "idle"))
			continue
		}
		phase := slot.Phase
		if phase == "" {
			phase = "starting"
		}
		fmt.Printf("  %d  %-10s %-10s pid %-7d up %-8s hb %s\n",
			slot.Index, slot.ItemID, titleCase(phase), slot.PID, slot.Uptime, slot.Heartbeat)
	}

	if len(fs.Roles) > 0 {
		fmt.Println()
		fmt.Println(render(style.Bold, "Roles:"))
		for _, r := range fs.Roles {
			state := render(style.Dim, "down")
			if r.Running {
				state = render(style.Success, "running")
			}
			line := fmt.Sprintf("  %-16s %-12s %s", r.Name, r.Kind, state)
			if r.LastTrigger != "" {
				line += "  last trigger " + r.LastTrigger
			}
			fmt.Println(line)
		}
	}

	fmt.Println()
	fmt.Println(render(style.Bold, "Backlog:"))
	if fs.Backlog.Error != "" {
		fmt.Printf("  unavailable: %s\n", fs.Backlog.Error)
	} else {
		fmt.Printf("  %s\n", backlogLine(fs.Backlog.Counts))
		fmt.Printf("  blocked: %d, ready to claim: %d\n", fs.Backlog.Blocked, fs.Backlog.Ready)
	}

	if len(fs.PendingCleanup) > 0 {
		fmt.Printf("\nCleanup queue: %s\n", strings.Join(fs.PendingCleanup, ", "))
	}

	fmt.Printf("\nTotals: spawned %d, reclaimed %d\n", fs.Spawned, fs.Reclaimed)
}

// backlogLine renders primary label counts in chain order.
func backlogLine(counts map[string]int) string {
	if len(counts) == 0 {
		return "empty"
	}

	var parts []string
	seen := make(map[string]bool)
	for _, label := range tracker.PrimaryChain {
		name := string(label)
		seen[name] = true
		if n := counts[name]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s %d", name, n))
		}
	}
	// Anything classify produced outside the chain, in stable order.
	var extra []string
	for name := range counts {
		if !seen[name] {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	for _, name := range extra {
		parts = append(parts, fmt.Sprintf("%s %d", name, counts[name]))
	}

	if len(parts) == 0 {
		return "empty"
	}
	return strings.Join(parts, " | ")
}

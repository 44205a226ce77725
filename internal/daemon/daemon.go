// Package daemon implements the fleet control loop. The daemon is the sole
// writer of DaemonState: it sizes the shepherd pool against the ready
// backlog, observes running shepherds from outside through run files and
// PID probes, reclaims the dead and the stuck, keeps role sessions alive,
// and consumes operator requests left as control files.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/rjwalters/loom-sub010/internal/config"
	"github.com/rjwalters/loom-sub010/internal/constants"
	"github.com/rjwalters/loom-sub010/internal/events"
	"github.com/rjwalters/loom-sub010/internal/failure"
	"github.com/rjwalters/loom-sub010/internal/labels"
	"github.com/rjwalters/loom-sub010/internal/pool"
	"github.com/rjwalters/loom-sub010/internal/roles"
	"github.com/rjwalters/loom-sub010/internal/session"
	"github.com/rjwalters/loom-sub010/internal/shepherd"
	"github.com/rjwalters/loom-sub010/internal/state"
	"github.com/rjwalters/loom-sub010/internal/tmux"
	"github.com/rjwalters/loom-sub010/internal/tracker"
	"github.com/rjwalters/loom-sub010/internal/worktree"
)

// postmortemLines is how much session output a reclamation captures.
const postmortemLines = 200

// Daemon is the fleet manager. One iteration runs to completion before the
// next begins; all state mutation happens inside the loop.
type Daemon struct {
	root   string
	cfg    *config.Config
	logger *log.Logger

	tracker  tracker.Client
	machine  *labels.Machine
	sessions session.Service
	trees    *worktree.Manager
	failures *failure.Tracker
	breaker  *failure.Breaker
	roleMgr  *roles.Manager
	events   *events.Logger
	store    *state.Manager[DaemonState]

	st *DaemonState

	// spawn launches shepherd processes; probe and kill act on PIDs.
	// Held as fields so tests can substitute fakes.
	spawn spawnFunc
	probe func(pid int) bool
	kill  func(pid int) error
	now   func() time.Time

	paused   bool
	stopping bool

	// recentFailed remembers which items fed the breaker lately, for the
	// mass-failure report when it trips.
	recentFailed []itemFailure
}

type itemFailure struct {
	itemID string
	at     time.Time
}

// New assembles a Daemon for the fleet root. The daemon log lives under
// .shepherd/daemon/ and is separate from the audit event log.
func New(root string, cfg *config.Config) (*Daemon, error) {
	if err := os.MkdirAll(constants.DaemonDir(root), 0755); err != nil {
		return nil, fmt.Errorf("creating daemon directory: %w", err)
	}
	logFile, err := os.OpenFile(constants.DaemonLogPath(root), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening daemon log: %w", err)
	}
	logger := log.New(logFile, "", log.LstdFlags)

	ev := events.New(root)
	if cfg.Events.NatsURL != "" {
		if err := ev.EnableMirror(cfg.Events.NatsURL, cfg.Events.NatsSubject); err != nil {
			logger.Printf("Warning: event mirror unavailable: %v", err)
		}
	}

	tc := tracker.NewCLIClient(cfg.Tracker.Command, root)
	svc := session.NewTmuxService(tmux.NewTmux())
	failures := failure.NewTracker(root, failure.Config{
		BackoffBase:      cfg.GetBackoffBase(),
		BackoffCap:       cfg.Backoff.Cap,
		EscalationCap:    cfg.Backoff.EscalationCap,
		BreakerWindow:    cfg.GetBreakerWindow(),
		BreakerThreshold: cfg.Breaker.Threshold,
	})

	return &Daemon{
		root:     root,
		cfg:      cfg,
		logger:   logger,
		tracker:  tc,
		machine:  labels.NewMachine(tc),
		sessions: svc,
		trees:    worktree.NewManager(root, cfg.Worktree.BaseBranch, cfg.GetMergeGrace()),
		failures: failures,
		breaker:  failures.Breaker(),
		roleMgr:  roles.NewManager(root, svc, logger),
		events:   ev,
		store:    stateStore(root),
		spawn:    spawnShepherd,
		probe:    ProcessAlive,
		kill:     func(pid int) error { return syscall.Kill(pid, syscall.SIGKILL) },
		now:      time.Now,
	}, nil
}

// Run starts the control loop and blocks until a signal or context
// cancellation shuts it down.
func (d *Daemon) Run(ctx context.Context) error {
	return d.run(ctx, 0)
}

// RunFor runs the loop for a bounded duration and then drains. Used by
// `shep run --for` to supervise a fleet without a long-lived daemon.
func (d *Daemon) RunFor(ctx context.Context, duration time.Duration) error {
	return d.run(ctx, duration)
}

func (d *Daemon) run(ctx context.Context, duration time.Duration) error {
	d.logger.Printf("Daemon starting (PID %d)", os.Getpid())

	// The lock decides singleton-ness. Checking IsRunning first would let
	// two concurrent starts both pass before either writes the PID file.
	lock := flock.New(constants.DaemonLockPath(d.root))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("daemon already running (lock held by another process)")
	}
	defer func() { _ = lock.Unlock() }()

	if err := WritePID(d.root, os.Getpid()); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer ClearPID(d.root)
	defer d.events.Close()

	_ = d.events.Log(events.TypeDaemonStart, "daemon", map[string]interface{}{"pid": os.Getpid()})

	d.recover(ctx)

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigc)

	var deadline time.Time
	if duration > 0 {
		deadline = d.now().Add(duration)
		d.logger.Printf("Bounded run, draining after %v", duration)
	}

	poll := d.cfg.GetPollInterval()
	d.logger.Printf("Daemon running, poll interval %v", poll)

	timer := time.NewTimer(poll)
	defer timer.Stop()

	d.iterate(ctx)
	d.persist()

	for {
		select {
		case <-ctx.Done():
			d.logger.Println("Context canceled, shutting down")
			return d.shutdown()
		case sig := <-sigc:
			d.logger.Printf("Received signal %v, shutting down", sig)
			return d.shutdown()
		case <-timer.C:
		}

		if !deadline.IsZero() && !d.now().Before(deadline) {
			d.logger.Println("Run deadline reached, shutting down")
			return d.shutdown()
		}

		d.iterate(ctx)
		d.persist()
		timer.Reset(poll)
	}
}

func (d *Daemon) persist() {
	if err := d.store.Save(d.st); err != nil {
		d.logger.Printf("Warning: failed to persist state: %v", err)
	}
}

// recover reconciles persisted state with reality after a restart. Slots
// are probed and either reattached or reclaimed, leftover worktrees and
// sessions are swept, and label contradictions are repaired. The snapshot
// is advisory; the tracker stays the source of truth throughout.
func (d *Daemon) recover(ctx context.Context) {
	st, err := d.store.Load()
	if err != nil {
		d.logger.Printf("Warning: daemon state unreadable, starting from an empty pool: %v", err)
	}
	if st.LastTrigger == nil {
		st.LastTrigger = make(map[string]time.Time)
	}
	st.PID = os.Getpid()
	st.StartedAt = d.now()
	st.Slots = pool.Resize(st.Slots, d.cfg.Fleet.MaxShepherds)
	d.st = st

	for i := range d.st.Slots {
		slot := &d.st.Slots[i]
		info := slot.Shepherd
		if info == nil {
			continue
		}
		if res, ok := d.readResult(info.ID); ok {
			d.logger.Printf("Slot %d: shepherd %s finished while the daemon was down", slot.Index, session.ShortID(info.ID))
			d.handleFinished(ctx, slot, res)
			continue
		}
		if !d.probe(info.PID) {
			d.reclaim(ctx, slot, "process died while the daemon was down")
			continue
		}
		d.logger.Printf("Slot %d: reattached to shepherd %s (pid %d, item %s)",
			slot.Index, session.ShortID(info.ID), info.PID, info.ItemID)
	}

	d.sweepWorktrees(ctx)
	d.sweepSessions()
	d.repairLabels(ctx)
	d.persist()
}

// iterate runs one pass of the control loop. The order is fixed:
// completions are swept before scaling and scaling runs before role
// checks, so the active count stays self-consistent within one pass.
func (d *Daemon) iterate(ctx context.Context) {
	d.st.Iterations++

	d.consumeControls()

	view, err := d.assessBacklog(ctx)
	if err != nil {
		d.logger.Printf("Warning: backlog scan failed: %v", err)
		view = nil
	}

	d.sweepSlots(ctx)

	if view != nil {
		d.triggerProposers(view)
		d.rescale(view)
	}

	d.ensureSupportRoles()
	d.processCleanups(ctx)
}

// consumeControls applies operator requests left as files: the pause
// marker and breaker reset requests. Force-assigns are consumed by the
// scaler so they stay queued while spawning is suppressed.
func (d *Daemon) consumeControls() {
	was := d.paused
	p, paused := ReadPause(d.root)
	d.paused = paused
	if paused && !was {
		by := p.By
		if by == "" {
			by = "operator"
		}
		d.logger.Printf("Fleet paused by %s: %s", by, p.Reason)
	} else if !paused && was {
		d.logger.Println("Fleet resumed")
	}

	if consumeBreakerReset(d.root) {
		if err := d.breaker.Reset(); err != nil {
			d.logger.Printf("Warning: breaker reset failed: %v", err)
		} else {
			d.logger.Println("Circuit breaker reset")
			_ = d.events.Log(events.TypeBreakerReset, "daemon", nil)
		}
	}
}

// backlogView is one classified scan of the tracker.
type backlogView struct {
	// ready holds claimable, unassigned, out-of-backoff items, urgent
	// first and then oldest first.
	ready []*tracker.Item

	// newCount is how many open items still carry the new label; the
	// proposal cap compares against it.
	newCount int
}

// assessBacklog lists open items, repairs label contradictions in passing,
// and collects what the scaler may dispatch this iteration.
func (d *Daemon) assessBacklog(ctx context.Context) (*backlogView, error) {
	items, err := d.tracker.List(ctx, tracker.ListFilter{})
	if err != nil {
		return nil, err
	}

	view := &backlogView{}
	now := d.now()
	for _, item := range items {
		st := labels.Classify(item.Labels)

		live := pool.Assigned(d.st.Slots, item.ID)
		if fixes := labels.Reconcile(st, live); len(fixes) > 0 {
			d.logger.Printf("Repairing labels on %s: observed %v", item.ID, item.Labels)
			if err := d.machine.Repair(ctx, item.ID, fixes); err != nil {
				d.logger.Printf("Warning: label repair on %s failed: %v", item.ID, err)
			}
			continue
		}

		if st.Primary == tracker.LabelNew {
			view.newCount++
		}
		if !st.Claimable(d.cfg.Fleet.AutoApprove) || live {
			continue
		}
		if in, _ := d.failures.InBackoff(item.ID, now); in {
			continue
		}
		view.ready = append(view.ready, item)
	}

	sort.SliceStable(view.ready, func(i, j int) bool {
		ui := view.ready[i].HasLabel(tracker.LabelUrgent)
		uj := view.ready[j].HasLabel(tracker.LabelUrgent)
		if ui != uj {
			return ui
		}
		return view.ready[i].CreatedAt.Before(view.ready[j].CreatedAt)
	})
	return view, nil
}

// sweepSlots observes every occupied slot from outside: result file first,
// then process liveness, then progress and heartbeat freshness.
func (d *Daemon) sweepSlots(ctx context.Context) {
	now := d.now()
	for i := range d.st.Slots {
		slot := &d.st.Slots[i]
		info := slot.Shepherd
		if info == nil {
			continue
		}

		if res, ok := d.readResult(info.ID); ok {
			d.handleFinished(ctx, slot, res)
			continue
		}

		if !d.probe(info.PID) {
			d.reclaim(ctx, slot, fmt.Sprintf("process %d died without writing a result", info.PID))
			continue
		}

		files := shepherd.NewRunFiles(d.root, info.ID)
		if hb, err := files.ReadHeartbeat(); err == nil && hb != nil && !hb.At.IsZero() {
			if !info.HeartbeatSeen || hb.At.After(info.LastHeartbeat) {
				info.HeartbeatSeen = true
				info.LastHeartbeat = hb.At
				info.Phase = string(hb.Phase)
			}
		}

		// A spawn that never wrote its first progress marker failed
		// silently; reclaim it faster than the heartbeat path would.
		if !info.HeartbeatSeen && !files.HasProgress() && now.Sub(info.StartedAt) > d.cfg.GetProgressGrace() {
			d.reclaim(ctx, slot, "no progress marker after spawn")
			continue
		}

		if pool.Stale(info, now, d.cfg.GetInitialHeartbeatGrace(), d.cfg.GetSteadyHeartbeatGrace()) {
			d.reclaim(ctx, slot, fmt.Sprintf("heartbeat stale in phase %q", info.Phase))
		}
	}
}

// readResult returns a shepherd's terminal result when one was written.
func (d *Daemon) readResult(shepherdID string) (*shepherd.Result, bool) {
	res, err := shepherd.NewRunFiles(d.root, shepherdID).ReadResult()
	if err != nil {
		d.logger.Printf("Warning: unreadable result for shepherd %s: %v", session.ShortID(shepherdID), err)
		return nil, false
	}
	if res == nil {
		return nil, false
	}
	return res, true
}

// handleFinished applies a shepherd's terminal result to fleet state. The
// shepherd already wrote its own labels and comments; the daemon owns
// failure bookkeeping, worktree cleanup, and the slot.
func (d *Daemon) handleFinished(ctx context.Context, slot *pool.Slot, res *shepherd.Result) {
	info := slot.Shepherd
	d.logger.Printf("Slot %d: shepherd %s finished %s: %s", slot.Index, session.ShortID(info.ID), res.Item, res.Outcome)

	// The shepherd kills its session on the way out; backstop it.
	if alive, _ := d.sessions.Alive(info.SessionName); alive {
		_ = d.sessions.Kill(info.SessionName)
	}

	attempt := d.failures.Attempts(res.Item) + 1
	_ = d.events.Log(events.TypeOutcome, "daemon", events.OutcomePayload(info.ID, res.Item, string(res.Outcome), attempt))

	switch res.Outcome {
	case shepherd.OutcomeSuccess:
		if err := d.failures.ClearItem(res.Item); err != nil {
			d.logger.Printf("Warning: clearing failure record for %s: %v", res.Item, err)
		}
		d.queueCleanup(res.Item)
		d.removeRunDir(info.ID)

	case shepherd.OutcomeNoop:
		d.removeRunDir(info.ID)

	case shepherd.OutcomeBlocked:
		// A human dependency, not a failure. The item sits out until
		// someone removes the blocked label. The run dir stays for the
		// blocked reason and session log.

	case shepherd.OutcomeBudgetExhausted:
		// The phase budget ran out, so the item is too big as cut.
		// Another attempt would spend another budget the same way; ask
		// for decomposition instead of retrying.
		d.revertOwnership(ctx, res.Item)
		d.recordFailure(res.Item, failure.ClassStructural)
		d.escalate(ctx, res.Item, "phase budget exhausted")

	case shepherd.OutcomeReviewExhausted:
		// The shepherd already escalated: urgent and blocked labels plus
		// a comment. Record the structural failure and the event.
		rec := d.recordFailure(res.Item, failure.ClassStructural)
		attempts := 0
		if rec != nil {
			attempts = rec.Attempts
		}
		_ = d.events.Log(events.TypeEscalated, "daemon", events.EscalationPayload(res.Item, attempts))

	case shepherd.OutcomeCrashed:
		d.revertOwnership(ctx, res.Item)
		d.recordFailure(res.Item, failure.ClassTransient)
		d.feedBreaker(res.Item)
		d.maybeEscalate(ctx, res.Item)
	}

	slot.Shepherd = nil
}

// reclaim tears a shepherd down and charges the failure. A shepherd that
// heartbeated and then stopped was stuck mid-phase; one that never beat
// is charged as transient, since it likely never got going.
func (d *Daemon) reclaim(ctx context.Context, slot *pool.Slot, reason string) {
	info := slot.Shepherd
	if info == nil {
		return
	}
	itemID := info.ItemID
	class := failure.ClassTransient
	if info.HeartbeatSeen {
		class = failure.ClassStuck
	}

	d.logger.Printf("Slot %d: reclaiming shepherd %s (item %s): %s", slot.Index, session.ShortID(info.ID), itemID, reason)
	d.teardown(ctx, slot, reason)
	d.recordFailure(itemID, class)
	d.feedBreaker(itemID)
	d.maybeEscalate(ctx, itemID)
	d.queueCleanup(itemID)
}

// teardown kills a shepherd's session and process and returns its item to
// the claimable pool. Failure accounting is the caller's concern: a
// shutdown teardown is not a failure.
func (d *Daemon) teardown(ctx context.Context, slot *pool.Slot, reason string) {
	info := slot.Shepherd
	info.State = pool.StateReclaiming

	files := shepherd.NewRunFiles(d.root, info.ID)
	if out, err := d.sessions.Capture(info.SessionName, postmortemLines); err == nil && strings.TrimSpace(out) != "" {
		if err := files.WritePostmortem(out); err != nil {
			d.logger.Printf("Warning: writing postmortem for %s: %v", session.ShortID(info.ID), err)
		}
	}
	if alive, _ := d.sessions.Alive(info.SessionName); alive {
		if err := session.Stop(d.sessions, info.SessionName); err != nil {
			d.logger.Printf("Warning: stopping session %s: %v", info.SessionName, err)
		}
	}
	if d.probe(info.PID) {
		if err := d.kill(info.PID); err != nil {
			d.logger.Printf("Warning: killing pid %d: %v", info.PID, err)
		}
	}

	d.revertOwnership(ctx, info.ItemID)

	_ = d.events.Log(events.TypeReclaimed, "daemon", events.ReclaimPayload(info.ID, info.ItemID, reason))
	d.st.Reclaimed++
	slot.Shepherd = nil
}

// revertOwnership returns an owner-labeled item to approved so it can be
// claimed again. Used when the owning shepherd is gone.
func (d *Daemon) revertOwnership(ctx context.Context, itemID string) {
	item, err := d.tracker.Get(ctx, itemID)
	if err != nil {
		if !errors.Is(err, tracker.ErrNotFound) {
			d.logger.Printf("Warning: reading %s for label revert: %v", itemID, err)
		}
		return
	}
	st := labels.Classify(item.Labels)
	if !st.Owned() {
		return
	}
	if err := d.machine.Transition(ctx, itemID, st.Primary, tracker.LabelApproved); err != nil {
		d.logger.Printf("Warning: reverting %s from %s: %v", itemID, st.Primary, err)
	}
}

// recordFailure advances an item's per-item backoff.
func (d *Daemon) recordFailure(itemID string, class failure.Class) *failure.Record {
	rec, err := d.failures.RecordFailure(itemID, class, d.now())
	if err != nil {
		d.logger.Printf("Warning: recording failure for %s: %v", itemID, err)
		return nil
	}
	d.logger.Printf("Item %s failed (%s, attempt %d), backoff until %s",
		itemID, class, rec.Attempts, rec.BackoffUntil.Format(time.RFC3339))
	return rec
}

// feedBreaker counts a fleet-level failure toward the breaker. Only
// infrastructure-shaped failures count here: crashes and reclamations.
// Items failing on their own merits stay out of the fleet-wide signal.
func (d *Daemon) feedBreaker(itemID string) {
	now := d.now()
	d.recentFailed = append(d.recentFailed, itemFailure{itemID: itemID, at: now})

	was := d.breaker.Tripped()
	if err := d.breaker.RecordFailure(now); err != nil {
		d.logger.Printf("Warning: breaker update failed: %v", err)
		return
	}
	if was || !d.breaker.Tripped() {
		return
	}

	window := d.cfg.GetBreakerWindow()
	count := d.breaker.WindowCount(now)
	items := d.takeRecentItems(now.Add(-window))
	d.logger.Printf("Circuit breaker tripped: %d failures in %v (items: %s); spawning suspended until reset",
		count, window, strings.Join(items, ", "))
	_ = d.events.Log(events.TypeBreakerTripped, "daemon", events.BreakerPayload(count, window.String()))
	_ = d.events.Log(events.TypeMassFailure, "daemon", events.MassFailurePayload(count, window.String(), items))
}

// takeRecentItems returns the distinct items behind breaker feeds since
// cutoff and prunes older entries.
func (d *Daemon) takeRecentItems(cutoff time.Time) []string {
	seen := make(map[string]bool)
	var items []string
	var kept []itemFailure
	for _, f := range d.recentFailed {
		if !f.at.After(cutoff) {
			continue
		}
		kept = append(kept, f)
		if !seen[f.itemID] {
			seen[f.itemID] = true
			items = append(items, f.itemID)
		}
	}
	d.recentFailed = kept
	return items
}

// escalate parks an item for humans: the blocked modifier plus a comment
// asking for decomposition.
func (d *Daemon) escalate(ctx context.Context, itemID, reason string) {
	attempts := d.failures.Attempts(itemID)
	d.logger.Printf("Escalating %s after %d attempt(s): %s", itemID, attempts, reason)
	if err := d.tracker.AddLabel(ctx, itemID, tracker.LabelBlocked); err != nil {
		d.logger.Printf("Warning: marking %s blocked: %v", itemID, err)
	}
	body := fmt.Sprintf("Escalated: %s after %d attempt(s). This item needs decomposition into smaller pieces before another run.",
		reason, attempts)
	if err := d.tracker.Comment(ctx, itemID, body); err != nil {
		d.logger.Printf("Warning: commenting on %s: %v", itemID, err)
	}
	_ = d.events.Log(events.TypeEscalated, "daemon", events.EscalationPayload(itemID, attempts))
}

// maybeEscalate escalates once an item's attempt count reaches the cap,
// regardless of remaining backoff.
func (d *Daemon) maybeEscalate(ctx context.Context, itemID string) {
	if !d.failures.ShouldEscalate(itemID) {
		return
	}
	d.escalate(ctx, itemID, fmt.Sprintf("%d consecutive failures", d.failures.Attempts(itemID)))
}

// triggerProposers nudges proposer roles when the ready backlog runs low,
// under per-role cooldowns and the open-proposal cap.
func (d *Daemon) triggerProposers(view *backlogView) {
	if d.paused || d.stopping {
		return
	}
	if len(view.ready) >= d.cfg.Fleet.BacklogLowWater {
		return
	}
	if view.newCount >= d.cfg.Fleet.ProposalCap {
		return
	}

	now := d.now()
	for _, role := range d.cfg.ProposerRoles() {
		if last, ok := d.st.LastTrigger[role.Name]; ok && now.Sub(last) < role.GetCooldown() {
			continue
		}
		if err := d.roleMgr.Trigger(role); err != nil {
			d.logger.Printf("Warning: triggering role %s: %v", role.Name, err)
			continue
		}
		d.st.LastTrigger[role.Name] = now
		d.logger.Printf("Triggered proposer role %s (ready backlog %d)", role.Name, len(view.ready))
		_ = d.events.Log(events.TypeRoleTriggered, "daemon", events.RolePayload(role.Name, session.RoleSessionName(role.Name)))
	}
}

// rescale sizes the pool to the ready backlog and spawns shepherds into
// idle slots. Operator force-assigns take slots first; they bypass pool
// arithmetic but not claim rules.
func (d *Daemon) rescale(view *backlogView) {
	if d.stopping || d.paused || d.breaker.Tripped() {
		return
	}

	d.st.Slots = pool.Resize(d.st.Slots, d.cfg.Fleet.MaxShepherds)

	for _, a := range takeAssignments(d.root) {
		if pool.Assigned(d.st.Slots, a.ItemID) {
			d.logger.Printf("Assignment %s is already running, dropping", a.ItemID)
			continue
		}
		idle := pool.IdleSlots(d.st.Slots)
		if len(idle) == 0 {
			d.logger.Printf("No idle slot for assignment %s, requeueing", a.ItemID)
			_ = QueueAssignment(d.root, a)
			continue
		}
		if d.spawnInto(&d.st.Slots[idle[0]], a.ItemID) {
			_ = d.events.Log(events.TypeAssigned, "daemon", events.AssignPayload(a.ItemID, a.RequestedBy))
		}
	}

	target := pool.TargetSize(len(view.ready), d.cfg.Fleet.ItemsPerShepherd, d.cfg.Fleet.MaxShepherds)
	next := 0
	for _, idx := range pool.IdleSlots(d.st.Slots) {
		if pool.ActiveCount(d.st.Slots) >= target {
			break
		}
		for next < len(view.ready) && pool.Assigned(d.st.Slots, view.ready[next].ID) {
			next++
		}
		if next >= len(view.ready) {
			break
		}
		d.spawnInto(&d.st.Slots[idx], view.ready[next].ID)
		next++
	}
}

// spawnInto launches a shepherd for an item in the given slot.
func (d *Daemon) spawnInto(slot *pool.Slot, itemID string) bool {
	shepherdID := uuid.NewString()
	pid, err := d.spawn(d.root, slot.Index, shepherdID, itemID)
	if err != nil {
		d.logger.Printf("Warning: spawning shepherd for %s: %v", itemID, err)
		return false
	}
	slot.Shepherd = &pool.ShepherdInfo{
		ID:          shepherdID,
		ItemID:      itemID,
		PID:         pid,
		SessionName: session.WorkerSessionName(slot.Index, session.ShortID(shepherdID)),
		StartedAt:   d.now(),
		State:       pool.StateActive,
	}
	d.st.Spawned++
	d.logger.Printf("Slot %d: spawned shepherd %s (pid %d) for %s", slot.Index, session.ShortID(shepherdID), pid, itemID)
	_ = d.events.Log(events.TypeSpawned, "daemon", events.SpawnPayload(shepherdID, slot.Index, itemID))
	return true
}

// ensureSupportRoles keeps long-lived support roles alive. Dead or zombie
// sessions are recreated on every pass.
func (d *Daemon) ensureSupportRoles() {
	if d.stopping {
		return
	}
	for _, role := range d.cfg.SupportRoles() {
		err := d.roleMgr.EnsureRunning(role)
		if err == nil || errors.Is(err, roles.ErrAlreadyRunning) {
			continue
		}
		d.logger.Printf("Warning: ensuring role %s: %v", role.Name, err)
	}
}

// queueCleanup schedules an item's worktree for removal once it is merged
// and the grace has elapsed.
func (d *Daemon) queueCleanup(itemID string) {
	for _, id := range d.st.PendingCleanup {
		if id == itemID {
			return
		}
	}
	d.st.PendingCleanup = append(d.st.PendingCleanup, itemID)
}

// processCleanups removes queued worktrees that pass the merge, grace, and
// clean checks. Gate refusals keep the item queued for a later pass; a
// reclaimed item's tree stays queued until some later attempt merges it.
func (d *Daemon) processCleanups(ctx context.Context) {
	if len(d.st.PendingCleanup) == 0 {
		return
	}

	var remaining []string
	for _, itemID := range d.st.PendingCleanup {
		if !d.trees.Exists(itemID) {
			continue
		}
		err := d.trees.Remove(ctx, itemID, worktree.RemoveOptions{})
		switch {
		case err == nil:
			d.logger.Printf("Removed worktree for %s", itemID)
			_ = d.events.Log(events.TypeSwept, "daemon", events.SweepPayload(itemID, constants.WorktreePath(d.root, itemID), "merged"))
		case errors.Is(err, worktree.ErrNotMerged),
			errors.Is(err, worktree.ErrGraceNotElapsed),
			errors.Is(err, worktree.ErrUncommitted):
			remaining = append(remaining, itemID)
		default:
			d.logger.Printf("Warning: removing worktree for %s: %v", itemID, err)
			remaining = append(remaining, itemID)
		}
	}
	d.st.PendingCleanup = remaining
}

// sweepWorktrees reconciles worktree metadata against disk and the
// tracker. Metadata without a directory is dropped, live trees for open
// items are adopted, and trees whose items closed are removed.
func (d *Daemon) sweepWorktrees(ctx context.Context) {
	isClosed := func(itemID string) (bool, error) {
		item, err := d.tracker.Get(ctx, itemID)
		if err != nil {
			if errors.Is(err, tracker.ErrNotFound) {
				return true, nil
			}
			return false, err
		}
		return item.IsClosed() || item.HasLabel(tracker.LabelDone), nil
	}

	orphans, err := d.trees.Orphans(ctx, isClosed)
	if err != nil {
		d.logger.Printf("Warning: worktree sweep failed: %v", err)
		return
	}

	for _, o := range orphans {
		switch o.Action {
		case worktree.OrphanDropMeta:
			if err := d.trees.Forget(o.ItemID); err != nil {
				d.logger.Printf("Warning: dropping metadata for %s: %v", o.ItemID, err)
				continue
			}
			d.logger.Printf("Dropped stale worktree metadata for %s", o.ItemID)

		case worktree.OrphanAdopt:
			if err := d.trees.Adopt(o.ItemID, o.Path, o.Branch); err != nil {
				d.logger.Printf("Warning: adopting worktree %s: %v", o.Path, err)
				continue
			}
			d.logger.Printf("Adopted worktree %s for open item %s", o.Path, o.ItemID)

		case worktree.OrphanRemove:
			err := d.trees.Remove(ctx, o.ItemID, worktree.RemoveOptions{Force: true})
			if errors.Is(err, worktree.ErrNotTracked) {
				// Found on disk without metadata; adopt so removal can
				// go through the manager.
				if aerr := d.trees.Adopt(o.ItemID, o.Path, o.Branch); aerr == nil {
					err = d.trees.Remove(ctx, o.ItemID, worktree.RemoveOptions{Force: true})
				}
			}
			if err != nil {
				d.logger.Printf("Warning: removing orphan worktree %s: %v", o.Path, err)
				continue
			}
			d.logger.Printf("Removed worktree %s, item %s is closed", o.Path, o.ItemID)
		}
		_ = d.events.Log(events.TypeOrphanCleaned, "daemon", events.OrphanPayload("worktree", o.Path))
	}
}

// sweepSessions kills worker sessions no slot accounts for.
func (d *Daemon) sweepSessions() {
	names, err := d.sessions.List(constants.WorkerSessionPrefix)
	if err != nil {
		d.logger.Printf("Warning: session sweep failed: %v", err)
		return
	}

	known := make(map[string]bool)
	for i := range d.st.Slots {
		if info := d.st.Slots[i].Shepherd; info != nil {
			known[info.SessionName] = true
		}
	}

	for _, name := range names {
		if known[name] {
			continue
		}
		d.logger.Printf("Stopping orphan session %s", name)
		if err := session.Stop(d.sessions, name); err != nil {
			d.logger.Printf("Warning: stopping %s: %v", name, err)
			continue
		}
		_ = d.events.Log(events.TypeOrphanCleaned, "daemon", events.OrphanPayload("session", name))
	}
}

// repairLabels scans every open item and repairs label contradictions,
// including owner labels left behind by shepherds that no longer exist.
func (d *Daemon) repairLabels(ctx context.Context) {
	items, err := d.tracker.List(ctx, tracker.ListFilter{})
	if err != nil {
		d.logger.Printf("Warning: label repair scan failed: %v", err)
		return
	}
	for _, item := range items {
		st := labels.Classify(item.Labels)
		fixes := labels.Reconcile(st, pool.Assigned(d.st.Slots, item.ID))
		if len(fixes) == 0 {
			continue
		}
		d.logger.Printf("Repairing labels on %s: observed %v", item.ID, item.Labels)
		if err := d.machine.Repair(ctx, item.ID, fixes); err != nil {
			d.logger.Printf("Warning: label repair on %s failed: %v", item.ID, err)
		}
	}
}

// shutdown drains active shepherds within the shutdown grace, then tears
// down whatever is left so no item stays owned by a dead process.
func (d *Daemon) shutdown() error {
	d.stopping = true
	d.logger.Println("Daemon shutting down")
	ctx := context.Background()

	deadline := d.now().Add(d.cfg.GetShutdownGrace())
	for d.now().Before(deadline) {
		d.drainFinished(ctx)
		if pool.ActiveCount(d.st.Slots) == 0 {
			break
		}
		time.Sleep(constants.ShutdownNotifyDelay)
	}

	for i := range d.st.Slots {
		slot := &d.st.Slots[i]
		if slot.Shepherd == nil {
			continue
		}
		d.logger.Printf("Slot %d: shepherd %s did not finish within the grace, tearing down", slot.Index, session.ShortID(slot.Shepherd.ID))
		d.teardown(ctx, slot, "daemon shutdown")
	}

	d.roleMgr.Shutdown()
	d.persist()
	_ = d.events.Log(events.TypeDaemonStop, "daemon", nil)
	d.logger.Println("Daemon stopped")
	return nil
}

// drainFinished applies results from shepherds finishing during the
// shutdown grace and reclaims any that die while draining.
func (d *Daemon) drainFinished(ctx context.Context) {
	for i := range d.st.Slots {
		slot := &d.st.Slots[i]
		info := slot.Shepherd
		if info == nil {
			continue
		}
		if res, ok := d.readResult(info.ID); ok {
			d.handleFinished(ctx, slot, res)
			continue
		}
		if !d.probe(info.PID) {
			d.reclaim(ctx, slot, "process died during shutdown")
		}
	}
}

func (d *Daemon) removeRunDir(shepherdID string) {
	if err := shepherd.NewRunFiles(d.root, shepherdID).Remove(); err != nil {
		d.logger.Printf("Warning: removing run directory for %s: %v", session.ShortID(shepherdID), err)
	}
}

// Package shepherd drives one work item through its production phases.
//
// A Shepherd runs as its own process, spawned by the daemon with a slot, an
// id, and an assigned item. It owns one worker session and, from the build
// phase on, one worktree. It reports liveness through heartbeat and progress
// files in its run directory and ends by writing a result file and exiting
// with the outcome's code; the daemon observes it only through those files,
// the tracker, and the session.
package shepherd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/rjwalters/loom-sub010/internal/constants"
	"github.com/rjwalters/loom-sub010/internal/labels"
	"github.com/rjwalters/loom-sub010/internal/session"
	"github.com/rjwalters/loom-sub010/internal/tracker"
	"github.com/rjwalters/loom-sub010/internal/workspace"
	"github.com/rjwalters/loom-sub010/internal/worktree"
)

// captureLines bounds how much session scrollback one poll reads.
const captureLines = 200

// Sentinel errors internal to the run loop.
var (
	// errBudget means the current phase ran past its budget.
	errBudget = errors.New("phase budget exhausted")

	// errInterrupted means the run context was canceled.
	errInterrupted = errors.New("interrupted")

	// errLostItem means the item's labels no longer match what this run
	// expects: another writer claimed or moved it. Not a failure.
	errLostItem = errors.New("lost item")
)

// Config parametrizes one Shepherd run.
type Config struct {
	// Root is the fleet root directory.
	Root string

	// Slot is the pool slot this run occupies.
	Slot int

	// ID is the Shepherd's unique id, assigned by the daemon.
	ID string

	// ItemID is the assigned work item.
	ItemID string

	// WorkerCommand launches the coding agent inside the worker session.
	WorkerCommand string

	// AutoApprove lets the Shepherd apply curated to approved itself.
	AutoApprove bool

	// PhaseBudget bounds one phase before the run exits budget-exhausted.
	PhaseBudget time.Duration

	// ApprovalWait bounds await-approval when AutoApprove is off.
	ApprovalWait time.Duration

	// ReviewCycleCap bounds review and doctor round-trips.
	ReviewCycleCap int

	// Poll is the session and tracker polling cadence.
	Poll time.Duration
}

// Shepherd drives one item. Create with New, run once with Run.
type Shepherd struct {
	cfg      Config
	tracker  tracker.Client
	machine  *labels.Machine
	sessions session.Service
	trees    *worktree.Manager
	files    *RunFiles
	log      *log.Logger

	sessionName string
	sessionDir  string
	phase       Phase
	reviewCycle int
}

// New builds a Shepherd. Zero config durations and counts fall back to the
// shared defaults so a partially wired caller cannot produce a spin loop.
func New(cfg Config, tc tracker.Client, sessions session.Service, trees *worktree.Manager, logger *log.Logger) *Shepherd {
	if cfg.PhaseBudget <= 0 {
		cfg.PhaseBudget = constants.DefaultPhaseBudget
	}
	if cfg.ApprovalWait <= 0 {
		cfg.ApprovalWait = constants.DefaultApprovalWait
	}
	if cfg.ReviewCycleCap <= 0 {
		cfg.ReviewCycleCap = constants.DefaultReviewCycleCap
	}
	if cfg.Poll <= 0 {
		cfg.Poll = constants.SessionPollInterval
	}
	return &Shepherd{
		cfg:         cfg,
		tracker:     tc,
		machine:     labels.NewMachine(tc),
		sessions:    sessions,
		trees:       trees,
		files:       NewRunFiles(cfg.Root, cfg.ID),
		log:         logger,
		sessionName: session.WorkerSessionName(cfg.Slot, session.ShortID(cfg.ID)),
	}
}

// SessionName returns the worker session this run owns.
func (s *Shepherd) SessionName() string {
	return s.sessionName
}

// Files returns the run-file accessor for this run.
func (s *Shepherd) Files() *RunFiles {
	return s.files
}

// stepResult is what one phase step produces: either the next phase, or a
// terminal result ending the run.
type stepResult struct {
	next Phase
	done *Result
}

// Run drives the item from its current label to a terminal outcome. It
// always writes the result file before returning.
func (s *Shepherd) Run(ctx context.Context) Outcome {
	s.log.Printf("shepherd %s starting: slot=%d item=%s", session.ShortID(s.cfg.ID), s.cfg.Slot, s.cfg.ItemID)

	item, err := s.tracker.Get(ctx, s.cfg.ItemID)
	if err != nil {
		s.phase = PhaseCurate
		return s.finish(OutcomeCrashed, fmt.Sprintf("loading item: %v", err))
	}
	st := labels.Classify(item.Labels)
	if item.IsClosed() || st.Primary == tracker.LabelDone {
		s.phase = PhaseDone
		return s.finish(OutcomeNoop, "item already done")
	}
	if st.Blocked {
		s.phase = PhaseBlocked
		return s.finish(OutcomeNoop, "item is blocked")
	}
	if len(st.Conflicting) > 0 {
		s.phase = PhaseBlocked
		return s.finish(OutcomeNoop, fmt.Sprintf("conflicting labels %v need reconciliation", st.Conflicting))
	}

	entry, err := PhaseForLabel(st.Primary)
	if err != nil {
		s.phase = PhaseBlocked
		return s.finish(OutcomeNoop, err.Error())
	}
	s.phase = entry
	s.log.Printf("entry phase %s (label %s)", entry, st.Primary)

	for !s.phase.Terminal() {
		res := s.step(ctx)
		if res.done != nil {
			return s.finish(res.done.Outcome, res.done.Detail)
		}
		s.log.Printf("phase %s -> %s", s.phase, res.next)
		s.phase = res.next
	}

	if s.phase == PhaseDone {
		return s.finish(OutcomeSuccess, "merged and closed")
	}
	return s.finish(OutcomeBlocked, "entered blocked phase")
}

// step executes the current phase once.
func (s *Shepherd) step(ctx context.Context) stepResult {
	switch s.phase {
	case PhaseCurate:
		return s.stepCurate(ctx)
	case PhaseAwaitApproval:
		return s.stepAwaitApproval(ctx)
	case PhaseBuild:
		return s.stepBuild(ctx)
	case PhaseReview:
		return s.stepReview(ctx)
	case PhaseDoctor:
		return s.stepDoctor(ctx)
	case PhaseMerge:
		return s.stepMerge(ctx)
	default:
		return terminal(OutcomeCrashed, fmt.Sprintf("no step for phase %q", s.phase))
	}
}

func terminal(out Outcome, detail string) stepResult {
	return stepResult{done: &Result{Outcome: out, Detail: detail}}
}

func (s *Shepherd) stepCurate(ctx context.Context) stepResult {
	sig, detail, err := s.runWorkerPhase(ctx, PhaseCurate, SignalComplete, SignalBlocked, SignalNoOp)
	if err != nil {
		return s.terminalForError(err)
	}
	switch sig {
	case SignalBlocked:
		return s.blockItem(ctx, detail)
	case SignalNoOp:
		return terminal(OutcomeNoop, "worker reported no work needed")
	default:
		return s.advance(ctx, tracker.LabelNew, tracker.LabelCurated)
	}
}

func (s *Shepherd) stepAwaitApproval(ctx context.Context) stepResult {
	s.enterFiles(PhaseAwaitApproval)

	if s.cfg.AutoApprove {
		return s.advance(ctx, tracker.LabelCurated, tracker.LabelApproved)
	}

	deadline := time.Now().Add(s.cfg.ApprovalWait)
	for time.Now().Before(deadline) {
		if err := sleepCtx(ctx, s.cfg.Poll); err != nil {
			return terminal(OutcomeCrashed, "interrupted")
		}
		s.beat()
		item, err := s.tracker.Get(ctx, s.cfg.ItemID)
		if err != nil {
			continue
		}
		st := labels.Classify(item.Labels)
		switch {
		case st.Blocked:
			return terminal(OutcomeNoop, "item blocked while awaiting approval")
		case st.Primary == tracker.LabelApproved:
			return stepResult{next: PhaseBuild}
		case st.Primary != tracker.LabelCurated:
			return terminal(OutcomeNoop, fmt.Sprintf("item moved to %q while awaiting approval", st.Primary))
		}
	}
	return terminal(OutcomeNoop, "approval wait expired")
}

func (s *Shepherd) stepBuild(ctx context.Context) stepResult {
	sig, detail, err := s.runWorkerPhase(ctx, PhaseBuild, SignalComplete, SignalBlocked, SignalNoOp)
	if err != nil {
		return s.terminalForError(err)
	}
	switch sig {
	case SignalBlocked:
		return s.blockItem(ctx, detail)
	case SignalNoOp:
		return terminal(OutcomeNoop, "worker reported work already satisfied")
	default:
		return s.advance(ctx, tracker.LabelBuilding, tracker.LabelReviewing)
	}
}

func (s *Shepherd) stepReview(ctx context.Context) stepResult {
	sig, detail, err := s.runWorkerPhase(ctx, PhaseReview, SignalReviewPass, SignalReviewFail, SignalBlocked)
	if err != nil {
		return s.terminalForError(err)
	}
	switch sig {
	case SignalBlocked:
		return s.blockItem(ctx, detail)
	case SignalReviewFail:
		s.reviewCycle++
		if s.reviewCycle > s.cfg.ReviewCycleCap {
			return s.escalateReview(ctx)
		}
		s.log.Printf("review failed, cycle %d of %d", s.reviewCycle, s.cfg.ReviewCycleCap)
		return stepResult{next: PhaseDoctor}
	default:
		return s.advance(ctx, tracker.LabelReviewing, tracker.LabelApprovedForMerge)
	}
}

func (s *Shepherd) stepDoctor(ctx context.Context) stepResult {
	sig, detail, err := s.runWorkerPhase(ctx, PhaseDoctor, SignalComplete, SignalBlocked)
	if err != nil {
		return s.terminalForError(err)
	}
	if sig == SignalBlocked {
		return s.blockItem(ctx, detail)
	}
	return stepResult{next: PhaseReview}
}

func (s *Shepherd) stepMerge(ctx context.Context) stepResult {
	if err := s.checkItem(ctx, PhaseMerge); err != nil {
		return s.terminalForError(err)
	}
	s.enterFiles(PhaseMerge)

	branch := s.trees.Branch(s.cfg.ItemID)
	if meta, ok := s.trees.Get(s.cfg.ItemID); ok {
		branch = meta.Branch
	}

	if err := s.tracker.Merge(ctx, s.cfg.ItemID, branch); err != nil {
		return terminal(OutcomeCrashed, fmt.Sprintf("merging branch %s: %v", branch, err))
	}
	res := s.advance(ctx, tracker.LabelApprovedForMerge, tracker.LabelDone)
	if res.done != nil {
		return res
	}
	if err := s.tracker.Close(ctx, s.cfg.ItemID); err != nil {
		return terminal(OutcomeCrashed, fmt.Sprintf("closing item: %v", err))
	}
	if err := s.trees.MarkMerged(s.cfg.ItemID, time.Now()); err != nil {
		// The worktree stays until the orphan sweep catches it.
		s.log.Printf("warning: marking worktree merged: %v", err)
	}
	return res
}

// runWorkerPhase enters a phase, sends its instruction into the worker
// session, and polls the session output for an accepted signal until the
// phase budget expires.
func (s *Shepherd) runWorkerPhase(ctx context.Context, phase Phase, accepted ...Signal) (Signal, string, error) {
	if err := s.checkItem(ctx, phase); err != nil {
		return SignalNone, "", err
	}
	if err := s.ensureWorkspace(ctx, phase); err != nil {
		return SignalNone, "", err
	}
	s.enterFiles(phase)

	instruction := instructionFor(phase, s.cfg.ItemID)
	if err := s.sessions.Send(s.sessionName, instruction); err != nil {
		return SignalNone, "", fmt.Errorf("sending %s instruction: %w", phase, err)
	}

	header := instructionHeader(phase, s.cfg.ItemID)
	deadline := time.Now().Add(s.cfg.PhaseBudget)
	for time.Now().Before(deadline) {
		if err := sleepCtx(ctx, s.cfg.Poll); err != nil {
			return SignalNone, "", errInterrupted
		}
		s.beat()

		out, err := s.sessions.Capture(s.sessionName, captureLines)
		if err != nil {
			if alive, aerr := s.sessions.Alive(s.sessionName); aerr == nil && !alive {
				return SignalNone, "", fmt.Errorf("worker session %s died", s.sessionName)
			}
			continue
		}
		sig, detail := ParseSignal(afterLastMarker(out, header))
		if sig != SignalNone && signalAccepted(sig, accepted) {
			return sig, detail, nil
		}
	}
	return SignalNone, "", errBudget
}

// checkItem reloads the item and verifies its labels still match what the
// phase expects. Build claims the item here: approved moves to building
// through the verify-then-write transition, so a racing Shepherd gets a
// conflict instead of a double claim.
func (s *Shepherd) checkItem(ctx context.Context, phase Phase) error {
	item, err := s.tracker.Get(ctx, s.cfg.ItemID)
	if err != nil {
		return fmt.Errorf("loading item: %w", err)
	}
	st := labels.Classify(item.Labels)
	if st.Blocked {
		return fmt.Errorf("%w: item became blocked", errLostItem)
	}
	if len(st.Conflicting) > 0 {
		return fmt.Errorf("%w: conflicting labels %v", errLostItem, st.Conflicting)
	}

	if phase == PhaseBuild {
		switch st.Primary {
		case tracker.LabelApproved:
			err := s.machine.Transition(ctx, s.cfg.ItemID, tracker.LabelApproved, tracker.LabelBuilding)
			if errors.Is(err, tracker.ErrConflict) {
				return fmt.Errorf("%w: claim lost: %v", errLostItem, err)
			}
			if err != nil {
				return fmt.Errorf("claiming item: %w", err)
			}
		case tracker.LabelBuilding:
			// Resumed run; the claim is already ours.
		default:
			return fmt.Errorf("%w: primary is %q", errLostItem, st.Primary)
		}
		return nil
	}

	if want, ok := expectedPrimary(phase); ok && st.Primary != want {
		return fmt.Errorf("%w: primary is %q, want %q", errLostItem, st.Primary, want)
	}
	return nil
}

// expectedPrimary returns the primary label a phase expects on entry. The
// pre-ownership phases expect the label that queued the item; owning phases
// expect their owner label. Build is handled separately because it performs
// the claim.
func expectedPrimary(phase Phase) (tracker.Label, bool) {
	switch phase {
	case PhaseCurate:
		return tracker.LabelNew, true
	case PhaseAwaitApproval:
		return tracker.LabelCurated, true
	}
	return OwnedLabel(phase)
}

// ensureWorkspace creates the worktree when the phase needs one and puts the
// worker session in the right directory, recreating it on a directory
// change. The worktree create is idempotent so resumed runs reuse theirs.
func (s *Shepherd) ensureWorkspace(ctx context.Context, phase Phase) error {
	dir := s.cfg.Root
	if phase.NeedsWorktree() {
		meta, err := s.trees.Create(ctx, s.cfg.ItemID)
		if err != nil {
			return fmt.Errorf("creating worktree: %w", err)
		}
		dir = meta.Path
	}

	alive, err := s.sessions.Alive(s.sessionName)
	if err != nil {
		return fmt.Errorf("probing session: %w", err)
	}
	if alive && s.sessionDir == dir {
		return nil
	}
	if alive {
		if err := session.Stop(s.sessions, s.sessionName); err != nil {
			return fmt.Errorf("stopping session for move: %w", err)
		}
	}
	if err := s.sessions.Create(s.sessionName, dir, s.cfg.WorkerCommand); err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	s.sessionDir = dir
	session.ExportEnv(s.sessions, s.sessionName, map[string]string{
		"SHEP_ITEM":       s.cfg.ItemID,
		"SHEP_SLOT":       strconv.Itoa(s.cfg.Slot),
		workspace.EnvRoot: s.cfg.Root,
	})

	// Orientation line for the worker; the phase instruction follows.
	nudge := session.StartupNudgeConfig{
		Recipient: "worker",
		Sender:    "shepherd",
		Topic:     string(phase),
		ItemID:    s.cfg.ItemID,
	}
	if err := session.StartupNudge(s.sessions, s.sessionName, nudge); err != nil {
		s.log.Printf("warning: startup nudge: %v", err)
	}
	return nil
}

// enterFiles writes the progress marker and a heartbeat for a phase entry.
func (s *Shepherd) enterFiles(phase Phase) {
	s.phase = phase
	if err := s.files.WriteProgress(Progress{Phase: phase, EnteredAt: time.Now().UTC()}); err != nil {
		s.log.Printf("warning: writing progress marker: %v", err)
	}
	s.beat()
}

// beat writes a heartbeat. Best effort: a failed write surfaces through
// staleness detection, not through the run.
func (s *Shepherd) beat() {
	_ = s.files.WriteHeartbeat(Heartbeat{
		ShepherdID: s.cfg.ID,
		ItemID:     s.cfg.ItemID,
		Phase:      s.phase,
		At:         time.Now().UTC(),
	})
}

// advance verifies the inter-phase preconditions, performs the label
// transition, and hands back the phase that follows the current one. A
// conflict means another writer moved the item; the run ends as a no-op
// rather than forcing the label.
func (s *Shepherd) advance(ctx context.Context, from, to tracker.Label) stepResult {
	next, err := Next(s.phase)
	if err != nil {
		return terminal(OutcomeCrashed, err.Error())
	}
	if err := s.preflight(); err != nil {
		return terminal(OutcomeCrashed, err.Error())
	}
	if err := s.machine.Transition(ctx, s.cfg.ItemID, from, to); err != nil {
		if errors.Is(err, tracker.ErrConflict) {
			return terminal(OutcomeNoop, fmt.Sprintf("lost label race %s to %s: %v", from, to, err))
		}
		return terminal(OutcomeCrashed, fmt.Sprintf("transition %s to %s: %v", from, to, err))
	}
	return stepResult{next: next}
}

// preflight checks the invariants every label move depends on: the phase
// wrote its progress marker and a heartbeat, and phases that build in a
// worktree still have it, on the branch recorded for the item.
func (s *Shepherd) preflight() error {
	if !s.files.HasProgress() {
		return errors.New("no progress marker written")
	}
	hb, err := s.files.ReadHeartbeat()
	if err != nil || hb == nil {
		return errors.New("no heartbeat written")
	}
	if s.phase.NeedsWorktree() {
		meta, ok := s.trees.Get(s.cfg.ItemID)
		if !ok {
			return errors.New("worktree not tracked")
		}
		if !s.trees.Exists(s.cfg.ItemID) {
			return fmt.Errorf("worktree missing at %s", meta.Path)
		}
		if want := s.trees.Branch(s.cfg.ItemID); meta.Branch != want {
			return fmt.Errorf("worktree on branch %q, want %q", meta.Branch, want)
		}
	}
	return nil
}

// blockItem records a worker-reported blockage: blocked modifier on, primary
// reverted so the item is visible but not claimable, reason as a comment.
func (s *Shepherd) blockItem(ctx context.Context, reason string) stepResult {
	if reason == "" {
		reason = "no reason given"
	}
	if err := s.tracker.AddLabel(ctx, s.cfg.ItemID, tracker.LabelBlocked); err != nil {
		s.log.Printf("warning: adding blocked label: %v", err)
	}
	s.revertOwnership(ctx)
	comment := fmt.Sprintf("Blocked in %s phase: %s", s.phase, reason)
	if err := s.tracker.Comment(ctx, s.cfg.ItemID, comment); err != nil {
		s.log.Printf("warning: posting blocked comment: %v", err)
	}
	return terminal(OutcomeBlocked, reason)
}

// escalateReview handles a review and doctor loop that will not converge:
// urgent and blocked modifiers, ownership released, and a decomposition
// request as a comment.
func (s *Shepherd) escalateReview(ctx context.Context) stepResult {
	detail := fmt.Sprintf("review and doctor cycled %d times without converging", s.reviewCycle)
	if err := s.tracker.AddLabel(ctx, s.cfg.ItemID, tracker.LabelUrgent); err != nil {
		s.log.Printf("warning: adding urgent label: %v", err)
	}
	if err := s.tracker.AddLabel(ctx, s.cfg.ItemID, tracker.LabelBlocked); err != nil {
		s.log.Printf("warning: adding blocked label: %v", err)
	}
	s.revertOwnership(ctx)
	comment := detail + "; needs decomposition or human review"
	if err := s.tracker.Comment(ctx, s.cfg.ItemID, comment); err != nil {
		s.log.Printf("warning: posting escalation comment: %v", err)
	}
	return terminal(OutcomeReviewExhausted, detail)
}

// revertOwnership moves an owned primary label back to approved so the item
// can be claimed again once unblocked. Items not yet owned keep their label.
func (s *Shepherd) revertOwnership(ctx context.Context) {
	item, err := s.tracker.Get(ctx, s.cfg.ItemID)
	if err != nil {
		s.log.Printf("warning: reloading item for revert: %v", err)
		return
	}
	st := labels.Classify(item.Labels)
	if !st.Owned() {
		return
	}
	if err := s.machine.Transition(ctx, s.cfg.ItemID, st.Primary, tracker.LabelApproved); err != nil {
		s.log.Printf("warning: reverting %s to approved: %v", st.Primary, err)
	}
}

// terminalForError maps run-loop errors to terminal results.
func (s *Shepherd) terminalForError(err error) stepResult {
	switch {
	case errors.Is(err, errBudget):
		return terminal(OutcomeBudgetExhausted, fmt.Sprintf("%s phase budget expired", s.phase))
	case errors.Is(err, errInterrupted):
		return terminal(OutcomeCrashed, "interrupted")
	case errors.Is(err, errLostItem):
		return terminal(OutcomeNoop, err.Error())
	default:
		return terminal(OutcomeCrashed, err.Error())
	}
}

// finish writes the result file, stops the worker session, and returns the
// outcome. The result write comes first so a session failure cannot lose it.
func (s *Shepherd) finish(out Outcome, detail string) Outcome {
	res := Result{
		Outcome:    out,
		Phase:      s.phase,
		Item:       s.cfg.ItemID,
		Detail:     detail,
		FinishedAt: time.Now().UTC(),
	}
	if err := s.files.WriteResult(res); err != nil {
		s.log.Printf("warning: writing result: %v", err)
	}
	if s.sessionDir != "" {
		if err := session.Stop(s.sessions, s.sessionName); err != nil {
			s.log.Printf("warning: stopping session %s: %v", s.sessionName, err)
		}
	}
	s.log.Printf("shepherd finished: outcome=%s phase=%s detail=%s", out, s.phase, detail)
	return out
}

func signalAccepted(sig Signal, accepted []Signal) bool {
	for _, a := range accepted {
		if sig == a {
			return true
		}
	}
	return false
}

// sleepCtx sleeps for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

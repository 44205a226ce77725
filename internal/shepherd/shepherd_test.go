package shepherd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rjwalters/loom-sub010/internal/session"
	"github.com/rjwalters/loom-sub010/internal/tracker"
	"github.com/rjwalters/loom-sub010/internal/worktree"
)

// writeFakeGit puts a git stand-in on PATH that materializes worktree
// directories on add and deletes them on remove, so the worktree manager
// behaves normally without a real repository.
func writeFakeGit(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	script := `#!/bin/sh
case "$1 $2" in
"worktree add")
    if [ "$3" = "-b" ]; then
        mkdir -p "$5"
    else
        mkdir -p "$3"
    fi
    ;;
"worktree remove")
    shift 2
    if [ "$1" = "--force" ]; then shift; fi
    rm -rf "$1"
    ;;
esac
exit 0
`
	path := filepath.Join(dir, "git")
	if err := os.WriteFile(path, []byte(script), 0755); err != nil { //nolint:gosec // test fixture must be executable
		t.Fatalf("writing fake git: %v", err)
	}
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
}

func item(id string, labels ...tracker.Label) *tracker.Item {
	return &tracker.Item{
		ID:     id,
		Title:  "test item " + id,
		Status: tracker.StatusOpen,
		Labels: labels,
	}
}

// fakeTracker is an in-memory tracker.Client with the CLI's compare-and-swap
// relabel semantics. onGet lets tests inject racing writers at an exact read.
type fakeTracker struct {
	mu       sync.Mutex
	items    map[string]*tracker.Item
	relabels []string
	comments []string
	merges   []string
	closes   []string
	gets     int
	onGet    func(f *fakeTracker, n int)
}

func newFakeTracker(items ...*tracker.Item) *fakeTracker {
	f := &fakeTracker{items: make(map[string]*tracker.Item)}
	for _, it := range items {
		f.items[it.ID] = it
	}
	return f
}

func copyItem(it *tracker.Item) *tracker.Item {
	dup := *it
	dup.Labels = append([]tracker.Label(nil), it.Labels...)
	return &dup
}

func (f *fakeTracker) List(_ context.Context, filter tracker.ListFilter) ([]*tracker.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*tracker.Item
	for _, it := range f.items {
		if !filter.IncludeClosed && it.IsClosed() {
			continue
		}
		if filter.Label != "" && !it.HasLabel(filter.Label) {
			continue
		}
		out = append(out, copyItem(it))
	}
	return out, nil
}

func (f *fakeTracker) Get(_ context.Context, id string) (*tracker.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.onGet != nil {
		f.onGet(f, f.gets)
	}
	it, ok := f.items[id]
	if !ok {
		return nil, tracker.ErrNotFound
	}
	return copyItem(it), nil
}

func (f *fakeTracker) Relabel(_ context.Context, id string, from, to tracker.Label) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	it, ok := f.items[id]
	if !ok {
		return tracker.ErrNotFound
	}
	if !it.HasLabel(from) {
		return tracker.ErrConflict
	}
	for i, l := range it.Labels {
		if l == from {
			it.Labels[i] = to
			break
		}
	}
	f.relabels = append(f.relabels, fmt.Sprintf("%s>%s", from, to))
	return nil
}

func (f *fakeTracker) AddLabel(_ context.Context, id string, label tracker.Label) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	it, ok := f.items[id]
	if !ok {
		return tracker.ErrNotFound
	}
	if !it.HasLabel(label) {
		it.Labels = append(it.Labels, label)
	}
	return nil
}

func (f *fakeTracker) RemoveLabel(_ context.Context, id string, label tracker.Label) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	it, ok := f.items[id]
	if !ok {
		return tracker.ErrNotFound
	}
	var keep []tracker.Label
	for _, l := range it.Labels {
		if l != label {
			keep = append(keep, l)
		}
	}
	it.Labels = keep
	return nil
}

func (f *fakeTracker) Comment(_ context.Context, id, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.comments = append(f.comments, id+": "+body)
	return nil
}

func (f *fakeTracker) Merge(_ context.Context, id, branch string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.merges = append(f.merges, id+"@"+branch)
	return nil
}

func (f *fakeTracker) Close(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if it, ok := f.items[id]; ok {
		it.Status = tracker.StatusClosed
	}
	f.closes = append(f.closes, id)
	return nil
}

func (f *fakeTracker) labelsOf(id string) []tracker.Label {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tracker.Label(nil), f.items[id].Labels...)
}

func (f *fakeTracker) hasLabel(id string, l tracker.Label) bool {
	for _, have := range f.labelsOf(id) {
		if have == l {
			return true
		}
	}
	return false
}

// swapLabel rewrites a label in place. For use inside onGet hooks, which run
// with the tracker lock held.
func (f *fakeTracker) swapLabel(id string, from, to tracker.Label) {
	it := f.items[id]
	for i, l := range it.Labels {
		if l == from {
			it.Labels[i] = to
			return
		}
	}
}

type sessionCreate struct {
	name, dir, command string
}

// fakeSession scripts worker behavior: each phase instruction consumes the
// next queued response for that phase, and Capture returns the instruction
// echo plus that response, like a pane capture would.
type fakeSession struct {
	mu        sync.Mutex
	created   []sessionCreate
	sent      []string
	killed    []string
	alive     map[string]bool
	responses map[Phase][]string
	current   string

	captures          int
	failAfterCaptures int
}

func newFakeSession(responses map[Phase][]string) *fakeSession {
	return &fakeSession{
		alive:     make(map[string]bool),
		responses: responses,
	}
}

func (f *fakeSession) Create(name, dir, command string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, sessionCreate{name, dir, command})
	f.alive[name] = true
	return nil
}

func (f *fakeSession) Send(name, input string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, input)
	if phase, ok := phaseFromInstruction(input); ok {
		resp := ""
		if queue := f.responses[phase]; len(queue) > 0 {
			resp, f.responses[phase] = queue[0], queue[1:]
		}
		f.current = input + "\n" + resp
	}
	return nil
}

func (f *fakeSession) Capture(string, int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.captures++
	if f.lostLocked() {
		return "", errors.New("no server running")
	}
	return f.current, nil
}

func (f *fakeSession) Alive(name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lostLocked() {
		return false, nil
	}
	return f.alive[name], nil
}

func (f *fakeSession) Kill(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killed = append(f.killed, name)
	f.alive[name] = false
	return nil
}

func (f *fakeSession) List(prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for name, up := range f.alive {
		if up && strings.HasPrefix(name, prefix) {
			out = append(out, name)
		}
	}
	return out, nil
}

func (f *fakeSession) lostLocked() bool {
	return f.failAfterCaptures > 0 && f.captures >= f.failAfterCaptures
}

func phaseFromInstruction(input string) (Phase, bool) {
	_, after, ok := strings.Cut(input, "[SHEP PHASE ")
	if !ok {
		return "", false
	}
	fields := strings.Fields(after)
	if len(fields) == 0 {
		return "", false
	}
	return Phase(fields[0]), true
}

func testConfig(root string) Config {
	return Config{
		Root:           root,
		Slot:           1,
		ID:             "4f9d2a17-33c8-4be0-9d02-6f1a75c0ffee",
		ItemID:         "wk-1",
		WorkerCommand:  "agent --work",
		AutoApprove:    true,
		PhaseBudget:    500 * time.Millisecond,
		ApprovalWait:   80 * time.Millisecond,
		ReviewCycleCap: 2,
		Poll:           5 * time.Millisecond,
	}
}

func newTestShepherd(t *testing.T, cfg Config, tc tracker.Client, svc session.Service) *Shepherd {
	t.Helper()
	writeFakeGit(t)
	trees := worktree.NewManager(cfg.Root, "main", time.Hour)
	return New(cfg, tc, svc, trees, log.New(io.Discard, "", 0))
}

func TestRunFullLifecycle(t *testing.T) {
	root := t.TempDir()
	tc := newFakeTracker(item("wk-1", tracker.LabelNew))
	svc := newFakeSession(map[Phase][]string{
		PhaseCurate: {"scoping done\nPHASE COMPLETE"},
		PhaseBuild:  {"committed\nPHASE COMPLETE"},
		PhaseReview: {"all criteria met\nREVIEW PASS"},
	})
	s := newTestShepherd(t, testConfig(root), tc, svc)

	out := s.Run(context.Background())

	if out != OutcomeSuccess {
		t.Fatalf("outcome = %q, want success", out)
	}
	wantRelabels := []string{
		"new>curated",
		"curated>approved",
		"approved>building",
		"building>reviewing",
		"reviewing>approved-for-merge",
		"approved-for-merge>done",
	}
	if got := strings.Join(tc.relabels, " "); got != strings.Join(wantRelabels, " ") {
		t.Errorf("relabels = %v, want %v", tc.relabels, wantRelabels)
	}
	if len(tc.merges) != 1 || tc.merges[0] != "wk-1@shep/wk-1" {
		t.Errorf("merges = %v, want [wk-1@shep/wk-1]", tc.merges)
	}
	if len(tc.closes) != 1 {
		t.Errorf("closes = %v, want [wk-1]", tc.closes)
	}
	if !tc.hasLabel("wk-1", tracker.LabelDone) {
		t.Errorf("final labels = %v, want done", tc.labelsOf("wk-1"))
	}

	// Curate runs at the root; build moves the session into the worktree.
	if len(svc.created) != 2 {
		t.Fatalf("created %d sessions, want 2: %v", len(svc.created), svc.created)
	}
	if svc.created[0].dir != root {
		t.Errorf("first session dir = %q, want root", svc.created[0].dir)
	}
	wantWorktree := filepath.Join(root, ".shepherd", "worktrees", "wk-1")
	if svc.created[1].dir != wantWorktree {
		t.Errorf("second session dir = %q, want %q", svc.created[1].dir, wantWorktree)
	}
	if svc.created[0].command != "agent --work" {
		t.Errorf("session command = %q", svc.created[0].command)
	}
	if len(svc.killed) != 2 {
		t.Errorf("killed = %v, want the dir move and the final cleanup", svc.killed)
	}

	res, err := s.Files().ReadResult()
	if err != nil || res == nil {
		t.Fatalf("ReadResult() = %v, %v", res, err)
	}
	if res.Outcome != OutcomeSuccess || res.Item != "wk-1" || res.Phase != PhaseDone {
		t.Errorf("result = %+v", res)
	}
	hb, err := s.Files().ReadHeartbeat()
	if err != nil || hb == nil {
		t.Fatalf("ReadHeartbeat() = %v, %v", hb, err)
	}
	prog, err := s.Files().ReadProgress()
	if err != nil || prog == nil || prog.Phase != PhaseMerge {
		t.Errorf("final progress = %+v, %v, want merge", prog, err)
	}

	meta, ok := s.trees.Get("wk-1")
	if !ok || meta.MergedAt == nil {
		t.Errorf("worktree meta = %+v, want merged timestamp", meta)
	}
}

func TestRunResumesFromReviewing(t *testing.T) {
	root := t.TempDir()
	tc := newFakeTracker(item("wk-1", tracker.LabelReviewing))
	svc := newFakeSession(map[Phase][]string{
		PhaseReview: {"REVIEW PASS"},
	})
	s := newTestShepherd(t, testConfig(root), tc, svc)

	out := s.Run(context.Background())

	if out != OutcomeSuccess {
		t.Fatalf("outcome = %q, want success", out)
	}
	want := []string{"reviewing>approved-for-merge", "approved-for-merge>done"}
	if strings.Join(tc.relabels, " ") != strings.Join(want, " ") {
		t.Errorf("relabels = %v, want %v", tc.relabels, want)
	}
	if len(tc.merges) != 1 {
		t.Errorf("merges = %v", tc.merges)
	}
}

func TestRunBlockedSignalRevertsAndComments(t *testing.T) {
	root := t.TempDir()
	tc := newFakeTracker(item("wk-1", tracker.LabelApproved))
	svc := newFakeSession(map[Phase][]string{
		PhaseBuild: {"PHASE BLOCKED: missing credentials"},
	})
	s := newTestShepherd(t, testConfig(root), tc, svc)

	out := s.Run(context.Background())

	if out != OutcomeBlocked {
		t.Fatalf("outcome = %q, want blocked", out)
	}
	if !tc.hasLabel("wk-1", tracker.LabelBlocked) {
		t.Error("blocked modifier missing")
	}
	if !tc.hasLabel("wk-1", tracker.LabelApproved) {
		t.Errorf("primary should revert to approved, labels = %v", tc.labelsOf("wk-1"))
	}
	if tc.hasLabel("wk-1", tracker.LabelBuilding) {
		t.Error("ownership label survived the blockage")
	}
	if len(tc.comments) != 1 || !strings.Contains(tc.comments[0], "missing credentials") {
		t.Errorf("comments = %v, want the blocked reason", tc.comments)
	}
	if !strings.Contains(tc.comments[0], "build phase") {
		t.Errorf("comment should name the phase: %v", tc.comments[0])
	}

	res, _ := s.Files().ReadResult()
	if res == nil || res.Outcome != OutcomeBlocked || res.Detail != "missing credentials" {
		t.Errorf("result = %+v", res)
	}
}

func TestRunReviewCycleCapEscalates(t *testing.T) {
	root := t.TempDir()
	tc := newFakeTracker(item("wk-1", tracker.LabelReviewing))
	svc := newFakeSession(map[Phase][]string{
		PhaseReview: {"REVIEW FAIL", "REVIEW FAIL"},
		PhaseDoctor: {"patched\nPHASE COMPLETE"},
	})
	cfg := testConfig(root)
	cfg.ReviewCycleCap = 1
	s := newTestShepherd(t, cfg, tc, svc)

	out := s.Run(context.Background())

	if out != OutcomeReviewExhausted {
		t.Fatalf("outcome = %q, want review-exhausted", out)
	}
	if !tc.hasLabel("wk-1", tracker.LabelUrgent) || !tc.hasLabel("wk-1", tracker.LabelBlocked) {
		t.Errorf("labels = %v, want urgent and blocked", tc.labelsOf("wk-1"))
	}
	if !tc.hasLabel("wk-1", tracker.LabelApproved) {
		t.Errorf("primary should revert to approved, labels = %v", tc.labelsOf("wk-1"))
	}
	if len(tc.comments) != 1 || !strings.Contains(tc.comments[0], "decomposition") {
		t.Errorf("comments = %v, want a decomposition request", tc.comments)
	}
}

func TestRunBudgetExhausted(t *testing.T) {
	root := t.TempDir()
	tc := newFakeTracker(item("wk-1", tracker.LabelApproved))
	svc := newFakeSession(map[Phase][]string{}) // worker never signals
	cfg := testConfig(root)
	cfg.PhaseBudget = 40 * time.Millisecond
	s := newTestShepherd(t, cfg, tc, svc)

	out := s.Run(context.Background())

	if out != OutcomeBudgetExhausted {
		t.Fatalf("outcome = %q, want budget-exhausted", out)
	}
	// The claim stands; the daemon decides what a budget exhaustion means.
	if !tc.hasLabel("wk-1", tracker.LabelBuilding) {
		t.Errorf("labels = %v, want building still held", tc.labelsOf("wk-1"))
	}
	res, _ := s.Files().ReadResult()
	if res == nil || res.Outcome != OutcomeBudgetExhausted {
		t.Errorf("result = %+v", res)
	}
}

func TestRunApprovalWaitExpires(t *testing.T) {
	root := t.TempDir()
	tc := newFakeTracker(item("wk-1", tracker.LabelCurated))
	svc := newFakeSession(nil)
	cfg := testConfig(root)
	cfg.AutoApprove = false
	cfg.ApprovalWait = 60 * time.Millisecond
	s := newTestShepherd(t, cfg, tc, svc)

	out := s.Run(context.Background())

	if out != OutcomeNoop {
		t.Fatalf("outcome = %q, want noop", out)
	}
	if !tc.hasLabel("wk-1", tracker.LabelCurated) {
		t.Errorf("labels = %v, want curated untouched", tc.labelsOf("wk-1"))
	}
	if len(tc.relabels) != 0 {
		t.Errorf("relabels = %v, want none", tc.relabels)
	}
	if len(svc.created) != 0 {
		t.Errorf("no worker session should start while waiting, got %v", svc.created)
	}
}

func TestRunApprovalArrivesThenBuilds(t *testing.T) {
	root := t.TempDir()
	tc := newFakeTracker(item("wk-1", tracker.LabelCurated))
	// An operator approves while the shepherd polls.
	tc.onGet = func(f *fakeTracker, n int) {
		if n >= 2 {
			f.swapLabel("wk-1", tracker.LabelCurated, tracker.LabelApproved)
		}
	}
	svc := newFakeSession(map[Phase][]string{
		PhaseBuild:  {"PHASE COMPLETE"},
		PhaseReview: {"REVIEW PASS"},
	})
	cfg := testConfig(root)
	cfg.AutoApprove = false
	s := newTestShepherd(t, cfg, tc, svc)

	out := s.Run(context.Background())

	if out != OutcomeSuccess {
		t.Fatalf("outcome = %q, want success", out)
	}
	if len(tc.merges) != 1 {
		t.Errorf("merges = %v", tc.merges)
	}
}

func TestRunClaimLostToRacer(t *testing.T) {
	root := t.TempDir()
	tc := newFakeTracker(item("wk-1", tracker.LabelApproved))
	// Get 1 is the entry read, 2 the build phase check, 3 the transition
	// verify. A racing writer moves the item just before the verify, so the
	// claim must observe the change and back off without writing.
	tc.onGet = func(f *fakeTracker, n int) {
		if n == 3 {
			f.swapLabel("wk-1", tracker.LabelApproved, tracker.LabelReviewing)
		}
	}
	svc := newFakeSession(nil)
	s := newTestShepherd(t, testConfig(root), tc, svc)

	out := s.Run(context.Background())

	if out != OutcomeNoop {
		t.Fatalf("outcome = %q, want noop", out)
	}
	if len(tc.relabels) != 0 {
		t.Errorf("relabels = %v, lost claim must not write", tc.relabels)
	}
	if len(svc.created) != 0 {
		t.Errorf("no session should start after a lost claim, got %v", svc.created)
	}
}

func TestRunItemAlreadyDone(t *testing.T) {
	root := t.TempDir()
	tc := newFakeTracker(item("wk-1", tracker.LabelDone))
	svc := newFakeSession(nil)
	s := newTestShepherd(t, testConfig(root), tc, svc)

	if out := s.Run(context.Background()); out != OutcomeNoop {
		t.Fatalf("outcome = %q, want noop", out)
	}
	if len(svc.created) != 0 {
		t.Errorf("sessions = %v, want none", svc.created)
	}
}

func TestRunBlockedItemIsNotTouched(t *testing.T) {
	root := t.TempDir()
	tc := newFakeTracker(item("wk-1", tracker.LabelApproved, tracker.LabelBlocked))
	svc := newFakeSession(nil)
	s := newTestShepherd(t, testConfig(root), tc, svc)

	if out := s.Run(context.Background()); out != OutcomeNoop {
		t.Fatalf("outcome = %q, want noop", out)
	}
	if len(tc.relabels) != 0 {
		t.Errorf("relabels = %v, want none", tc.relabels)
	}
}

func TestRunCurateNoOp(t *testing.T) {
	root := t.TempDir()
	tc := newFakeTracker(item("wk-1", tracker.LabelNew))
	svc := newFakeSession(map[Phase][]string{
		PhaseCurate: {"already covered by wk-7\nNO-OP"},
	})
	s := newTestShepherd(t, testConfig(root), tc, svc)

	if out := s.Run(context.Background()); out != OutcomeNoop {
		t.Fatalf("outcome = %q, want noop", out)
	}
	if !tc.hasLabel("wk-1", tracker.LabelNew) {
		t.Errorf("labels = %v, want new untouched", tc.labelsOf("wk-1"))
	}
}

func TestRunSessionDeathCrashes(t *testing.T) {
	root := t.TempDir()
	tc := newFakeTracker(item("wk-1", tracker.LabelApproved))
	svc := newFakeSession(map[Phase][]string{
		PhaseBuild: {"still working"},
	})
	svc.failAfterCaptures = 2
	s := newTestShepherd(t, testConfig(root), tc, svc)

	out := s.Run(context.Background())

	if out != OutcomeCrashed {
		t.Fatalf("outcome = %q, want crashed", out)
	}
	res, _ := s.Files().ReadResult()
	if res == nil || res.Outcome != OutcomeCrashed || !strings.Contains(res.Detail, "died") {
		t.Errorf("result = %+v", res)
	}
}

func TestRunSendsNudgeAndInstructions(t *testing.T) {
	root := t.TempDir()
	tc := newFakeTracker(item("wk-1", tracker.LabelApproved))
	svc := newFakeSession(map[Phase][]string{
		PhaseBuild:  {"PHASE COMPLETE"},
		PhaseReview: {"REVIEW PASS"},
	})
	s := newTestShepherd(t, testConfig(root), tc, svc)

	if out := s.Run(context.Background()); out != OutcomeSuccess {
		t.Fatalf("outcome = %q, want success", out)
	}

	var nudges, instructions []string
	for _, sent := range svc.sent {
		if strings.HasPrefix(sent, "[SHEP FLEET]") {
			nudges = append(nudges, sent)
		}
		if strings.Contains(sent, "[SHEP PHASE") {
			instructions = append(instructions, sent)
		}
	}
	if len(nudges) != 1 {
		t.Errorf("nudges = %v, want one per session create", nudges)
	}
	if len(instructions) != 2 {
		t.Fatalf("instructions = %d, want build and review", len(instructions))
	}
	if !strings.Contains(instructions[0], "[SHEP PHASE build wk-1]") {
		t.Errorf("first instruction = %q", instructions[0])
	}
	if !strings.Contains(instructions[1], "[SHEP PHASE review wk-1]") {
		t.Errorf("second instruction = %q", instructions[1])
	}
}

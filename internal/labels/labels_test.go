package labels

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/rjwalters/loom-sub010/internal/tracker"
)

// fakeClient is an in-memory tracker with an honest compare-and-swap.
type fakeClient struct {
	items      map[string]*tracker.Item
	relabels   int
	relabelErr error
}

func newFakeClient(items ...*tracker.Item) *fakeClient {
	c := &fakeClient{items: make(map[string]*tracker.Item)}
	for _, it := range items {
		c.items[it.ID] = it
	}
	return c
}

func (c *fakeClient) List(ctx context.Context, filter tracker.ListFilter) ([]*tracker.Item, error) {
	var items []*tracker.Item
	for _, it := range c.items {
		if filter.Label != "" && !it.HasLabel(filter.Label) {
			continue
		}
		items = append(items, it)
	}
	return items, nil
}

func (c *fakeClient) Get(ctx context.Context, id string) (*tracker.Item, error) {
	it, ok := c.items[id]
	if !ok {
		return nil, tracker.ErrNotFound
	}
	copied := *it
	copied.Labels = append([]tracker.Label(nil), it.Labels...)
	return &copied, nil
}

func (c *fakeClient) Relabel(ctx context.Context, id string, from, to tracker.Label) error {
	c.relabels++
	if c.relabelErr != nil {
		return c.relabelErr
	}
	it, ok := c.items[id]
	if !ok {
		return tracker.ErrNotFound
	}
	if !it.HasLabel(from) {
		return tracker.ErrConflict
	}
	for i, l := range it.Labels {
		if l == from {
			it.Labels[i] = to
			return nil
		}
	}
	return tracker.ErrConflict
}

func (c *fakeClient) AddLabel(ctx context.Context, id string, label tracker.Label) error {
	it, ok := c.items[id]
	if !ok {
		return tracker.ErrNotFound
	}
	if !it.HasLabel(label) {
		it.Labels = append(it.Labels, label)
	}
	return nil
}

func (c *fakeClient) RemoveLabel(ctx context.Context, id string, label tracker.Label) error {
	it, ok := c.items[id]
	if !ok {
		return tracker.ErrNotFound
	}
	var kept []tracker.Label
	for _, l := range it.Labels {
		if l != label {
			kept = append(kept, l)
		}
	}
	it.Labels = kept
	return nil
}

func (c *fakeClient) Comment(ctx context.Context, id, body string) error { return nil }
func (c *fakeClient) Merge(ctx context.Context, id, branch string) error { return nil }
func (c *fakeClient) Close(ctx context.Context, id string) error         { return nil }

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		labels []tracker.Label
		want   State
	}{
		{
			name:   "healthy",
			labels: []tracker.Label{tracker.LabelBuilding},
			want:   State{Primary: tracker.LabelBuilding},
		},
		{
			name:   "modifiers",
			labels: []tracker.Label{tracker.LabelApproved, tracker.LabelUrgent, tracker.LabelBlocked},
			want:   State{Primary: tracker.LabelApproved, Blocked: true, Urgent: true},
		},
		{
			name:   "no primary",
			labels: []tracker.Label{tracker.LabelBlocked},
			want:   State{Blocked: true},
		},
		{
			name:   "conflicting",
			labels: []tracker.Label{tracker.LabelBuilding, tracker.LabelReviewing},
			want:   State{Conflicting: []tracker.Label{tracker.LabelBuilding, tracker.LabelReviewing}},
		},
		{
			name:   "unknown labels ignored",
			labels: []tracker.Label{tracker.LabelDone, "team-alpha"},
			want:   State{Primary: tracker.LabelDone},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.labels)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Classify(%v) = %+v, want %+v", tt.labels, got, tt.want)
			}
		})
	}
}

func TestClaimable(t *testing.T) {
	tests := []struct {
		name        string
		state       State
		autoApprove bool
		want        bool
	}{
		{"new", State{Primary: tracker.LabelNew}, false, true},
		{"approved", State{Primary: tracker.LabelApproved}, false, true},
		{"curated needs auto-approve", State{Primary: tracker.LabelCurated}, false, false},
		{"curated with auto-approve", State{Primary: tracker.LabelCurated}, true, true},
		{"blocked never", State{Primary: tracker.LabelApproved, Blocked: true}, true, false},
		{"owned never", State{Primary: tracker.LabelBuilding}, true, false},
		{"done never", State{Primary: tracker.LabelDone}, true, false},
		{"conflicting never", State{Conflicting: []tracker.Label{tracker.LabelNew, tracker.LabelApproved}}, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.Claimable(tt.autoApprove); got != tt.want {
				t.Errorf("Claimable(%v) = %v, want %v", tt.autoApprove, got, tt.want)
			}
		})
	}
}

func TestTransitionHappyPath(t *testing.T) {
	client := newFakeClient(&tracker.Item{ID: "wk-1", Labels: []tracker.Label{tracker.LabelApproved}})
	m := NewMachine(client)

	err := m.Transition(context.Background(), "wk-1", tracker.LabelApproved, tracker.LabelBuilding)
	if err != nil {
		t.Fatalf("Transition() error: %v", err)
	}
	if !client.items["wk-1"].HasLabel(tracker.LabelBuilding) {
		t.Error("item should carry building after transition")
	}
	if client.items["wk-1"].HasLabel(tracker.LabelApproved) {
		t.Error("item should no longer carry approved")
	}
}

func TestTransitionSecondWriterConflicts(t *testing.T) {
	// Two writers race the same hop. The first wins; the second re-reads,
	// sees the label already moved, and must report a conflict without
	// issuing a second relabel.
	client := newFakeClient(&tracker.Item{ID: "wk-1", Labels: []tracker.Label{tracker.LabelApproved}})
	m := NewMachine(client)
	ctx := context.Background()

	if err := m.Transition(ctx, "wk-1", tracker.LabelApproved, tracker.LabelBuilding); err != nil {
		t.Fatalf("first Transition() error: %v", err)
	}
	relabelsAfterFirst := client.relabels

	err := m.Transition(ctx, "wk-1", tracker.LabelApproved, tracker.LabelReviewing)
	if !errors.Is(err, tracker.ErrConflict) {
		t.Fatalf("second Transition() error = %v, want ErrConflict", err)
	}
	if client.relabels != relabelsAfterFirst {
		t.Error("conflicting transition must not reach the tracker")
	}
}

func TestTransitionAlreadyAppliedIsNoOp(t *testing.T) {
	client := newFakeClient(&tracker.Item{ID: "wk-1", Labels: []tracker.Label{tracker.LabelBuilding}})
	m := NewMachine(client)

	err := m.Transition(context.Background(), "wk-1", tracker.LabelApproved, tracker.LabelBuilding)
	if err != nil {
		t.Fatalf("re-applied Transition() error = %v, want nil", err)
	}
	if client.relabels != 0 {
		t.Error("no-op transition must not write")
	}
}

func TestTransitionRejectsConflictingPrimaries(t *testing.T) {
	client := newFakeClient(&tracker.Item{
		ID:     "wk-1",
		Labels: []tracker.Label{tracker.LabelBuilding, tracker.LabelReviewing},
	})
	m := NewMachine(client)

	err := m.Transition(context.Background(), "wk-1", tracker.LabelBuilding, tracker.LabelReviewing)
	if !errors.Is(err, tracker.ErrConflict) {
		t.Errorf("Transition() on contradictory item = %v, want ErrConflict", err)
	}
	if client.relabels != 0 {
		t.Error("contradictory item must not be written")
	}
}

func TestTransitionTrackerLevelConflict(t *testing.T) {
	// Verification passes but the tracker's own compare-and-swap loses.
	client := newFakeClient(&tracker.Item{ID: "wk-1", Labels: []tracker.Label{tracker.LabelApproved}})
	client.relabelErr = fmt.Errorf("wrapped: %w", tracker.ErrConflict)
	m := NewMachine(client)

	err := m.Transition(context.Background(), "wk-1", tracker.LabelApproved, tracker.LabelBuilding)
	if !errors.Is(err, tracker.ErrConflict) {
		t.Errorf("Transition() error = %v, want ErrConflict", err)
	}
}

func TestReconcile(t *testing.T) {
	tests := []struct {
		name      string
		labels    []tracker.Label
		liveOwner bool
		want      []Fix
	}{
		{
			name:   "stripped primary restored",
			labels: []tracker.Label{tracker.LabelUrgent},
			want:   []Fix{{Op: OpAdd, Label: tracker.LabelApproved}},
		},
		{
			name:      "healthy owned with live owner",
			labels:    []tracker.Label{tracker.LabelReviewing},
			liveOwner: true,
			want:      nil,
		},
		{
			name:   "owned with no live owner reverts",
			labels: []tracker.Label{tracker.LabelReviewing},
			want: []Fix{
				{Op: OpAdd, Label: tracker.LabelApproved},
				{Op: OpRemove, Label: tracker.LabelReviewing},
			},
		},
		{
			name:   "unowned label needs no owner",
			labels: []tracker.Label{tracker.LabelCurated},
			want:   nil,
		},
		{
			name:      "two primaries keep most advanced",
			labels:    []tracker.Label{tracker.LabelApproved, tracker.LabelBuilding},
			liveOwner: true,
			want:      []Fix{{Op: OpRemove, Label: tracker.LabelApproved}},
		},
		{
			name:   "most advanced needs dead owner falls back",
			labels: []tracker.Label{tracker.LabelApproved, tracker.LabelBuilding},
			want:   []Fix{{Op: OpRemove, Label: tracker.LabelBuilding}},
		},
		{
			name:   "done beats owned even without owner",
			labels: []tracker.Label{tracker.LabelReviewing, tracker.LabelDone},
			want:   []Fix{{Op: OpRemove, Label: tracker.LabelReviewing}},
		},
		{
			name:   "all owned no owner reverts to approved",
			labels: []tracker.Label{tracker.LabelBuilding, tracker.LabelReviewing},
			want: []Fix{
				{Op: OpAdd, Label: tracker.LabelApproved},
				{Op: OpRemove, Label: tracker.LabelBuilding},
				{Op: OpRemove, Label: tracker.LabelReviewing},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Reconcile(Classify(tt.labels), tt.liveOwner)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Reconcile(%v, %v) = %v, want %v", tt.labels, tt.liveOwner, got, tt.want)
			}
		})
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	// Applying the fixes and reclassifying must yield no further fixes.
	client := newFakeClient(&tracker.Item{
		ID:     "wk-1",
		Labels: []tracker.Label{tracker.LabelBuilding, tracker.LabelApproved, tracker.LabelUrgent},
	})
	m := NewMachine(client)
	ctx := context.Background()

	item, _ := client.Get(ctx, "wk-1")
	fixes := Reconcile(Classify(item.Labels), false)
	if len(fixes) == 0 {
		t.Fatal("expected fixes for contradictory item")
	}
	if err := m.Repair(ctx, "wk-1", fixes); err != nil {
		t.Fatalf("Repair() error: %v", err)
	}

	item, _ = client.Get(ctx, "wk-1")
	state := Classify(item.Labels)
	if !state.Healthy() {
		t.Fatalf("item still unhealthy after repair: %+v", state)
	}
	if again := Reconcile(state, false); len(again) != 0 {
		t.Errorf("second Reconcile() = %v, want no fixes", again)
	}
	if !state.Urgent {
		t.Error("modifier labels must survive repair")
	}
}

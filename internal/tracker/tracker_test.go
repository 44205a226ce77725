package tracker

import (
	"testing"
)

func TestLabelIsPrimary(t *testing.T) {
	for _, l := range PrimaryChain {
		if !l.IsPrimary() {
			t.Errorf("IsPrimary(%s) = false, want true", l)
		}
	}
	for _, l := range []Label{LabelBlocked, LabelUrgent, "bogus"} {
		if l.IsPrimary() {
			t.Errorf("IsPrimary(%s) = true, want false", l)
		}
	}
}

func TestLabelIsModifier(t *testing.T) {
	if !LabelBlocked.IsModifier() || !LabelUrgent.IsModifier() {
		t.Error("blocked and urgent should be modifiers")
	}
	if LabelBuilding.IsModifier() {
		t.Error("building should not be a modifier")
	}
}

func TestChainIndexOrdersLifecycle(t *testing.T) {
	prev := -1
	for _, l := range PrimaryChain {
		idx := l.ChainIndex()
		if idx <= prev {
			t.Errorf("ChainIndex(%s) = %d, want > %d", l, idx, prev)
		}
		prev = idx
	}
	if LabelUrgent.ChainIndex() != -1 {
		t.Errorf("ChainIndex(urgent) = %d, want -1", LabelUrgent.ChainIndex())
	}
}

func TestItemHasLabel(t *testing.T) {
	item := &Item{ID: "wk-1", Labels: []Label{LabelApproved, LabelUrgent}}
	if !item.HasLabel(LabelApproved) {
		t.Error("HasLabel(approved) = false, want true")
	}
	if item.HasLabel(LabelDone) {
		t.Error("HasLabel(done) = true, want false")
	}
}

func TestItemPrimaryLabels(t *testing.T) {
	tests := []struct {
		name   string
		labels []Label
		want   int
	}{
		{"healthy", []Label{LabelBuilding, LabelUrgent}, 1},
		{"none", []Label{LabelBlocked}, 0},
		{"conflicting", []Label{LabelBuilding, LabelReviewing}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := &Item{ID: "wk-1", Labels: tt.labels}
			if got := item.PrimaryLabels(); len(got) != tt.want {
				t.Errorf("PrimaryLabels() = %v, want %d labels", got, tt.want)
			}
		})
	}
}

func TestItemIsClosed(t *testing.T) {
	open := &Item{ID: "wk-1", Status: StatusOpen}
	closed := &Item{ID: "wk-2", Status: StatusClosed}
	if open.IsClosed() {
		t.Error("open item reported closed")
	}
	if !closed.IsClosed() {
		t.Error("closed item reported open")
	}
}

package pool

import (
	"testing"
	"time"
)

func TestTargetSize(t *testing.T) {
	tests := []struct {
		name                   string
		ready, perShepherd, max int
		want                   int
	}{
		{"empty backlog", 0, 2, 8, 0},
		{"one item", 1, 2, 8, 1},
		{"exact division", 6, 2, 8, 3},
		{"rounds up", 7, 2, 8, 4},
		{"clamped by max", 7, 2, 3, 3},
		{"one item per shepherd", 5, 1, 8, 5},
		{"zero ratio treated as one", 5, 0, 8, 5},
		{"zero max", 7, 2, 0, 0},
		{"negative ready", -3, 2, 8, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TargetSize(tt.ready, tt.perShepherd, tt.max); got != tt.want {
				t.Errorf("TargetSize(%d, %d, %d) = %d, want %d",
					tt.ready, tt.perShepherd, tt.max, got, tt.want)
			}
		})
	}
}

func testSlots() []Slot {
	return []Slot{
		{Index: 0},
		{Index: 1, Shepherd: &ShepherdInfo{ID: "a", ItemID: "wk-1", State: StateActive}},
		{Index: 2, Shepherd: &ShepherdInfo{ID: "b", ItemID: "wk-2", State: StateReclaiming}},
		{Index: 3},
	}
}

func TestIdleSlotsSkipReclaiming(t *testing.T) {
	idle := IdleSlots(testSlots())
	if len(idle) != 2 || idle[0] != 0 || idle[1] != 3 {
		t.Errorf("IdleSlots() = %v, want [0 3]", idle)
	}
}

func TestActiveCount(t *testing.T) {
	if got := ActiveCount(testSlots()); got != 1 {
		t.Errorf("ActiveCount() = %d, want 1 (reclaiming is not active)", got)
	}
}

func TestAssigned(t *testing.T) {
	slots := testSlots()
	if !Assigned(slots, "wk-1") {
		t.Error("Assigned(wk-1) = false, want true")
	}
	if !Assigned(slots, "wk-2") {
		t.Error("Assigned(wk-2) = false, want true while reclaiming")
	}
	if Assigned(slots, "wk-9") {
		t.Error("Assigned(wk-9) = true, want false")
	}
}

func TestSlotState(t *testing.T) {
	slots := testSlots()
	if got := slots[0].State(); got != StateIdle {
		t.Errorf("empty slot state = %q, want idle", got)
	}
	if got := slots[1].State(); got != StateActive {
		t.Errorf("occupied slot state = %q, want active", got)
	}
	if got := slots[2].State(); got != StateReclaiming {
		t.Errorf("reclaiming slot state = %q, want reclaiming", got)
	}
}

func TestStaleTwoTier(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tInit := 120 * time.Second
	tSteady := 60 * time.Second

	tests := []struct {
		name string
		info *ShepherdInfo
		want bool
	}{
		{
			name: "booting inside init grace",
			info: &ShepherdInfo{StartedAt: now.Add(-90 * time.Second)},
			want: false,
		},
		{
			name: "booting at the init boundary",
			info: &ShepherdInfo{StartedAt: now.Add(-120 * time.Second)},
			want: false,
		},
		{
			name: "never heartbeated past init grace",
			info: &ShepherdInfo{StartedAt: now.Add(-121 * time.Second)},
			want: true,
		},
		{
			name: "steady heartbeat fresh",
			info: &ShepherdInfo{
				StartedAt:     now.Add(-1 * time.Hour),
				HeartbeatSeen: true,
				LastHeartbeat: now.Add(-30 * time.Second),
			},
			want: false,
		},
		{
			name: "steady heartbeat at the boundary",
			info: &ShepherdInfo{
				StartedAt:     now.Add(-1 * time.Hour),
				HeartbeatSeen: true,
				LastHeartbeat: now.Add(-60 * time.Second),
			},
			want: false,
		},
		{
			name: "steady heartbeat gone quiet",
			info: &ShepherdInfo{
				StartedAt:     now.Add(-1 * time.Hour),
				HeartbeatSeen: true,
				LastHeartbeat: now.Add(-61 * time.Second),
			},
			want: true,
		},
		{
			// The steady window governs once a heartbeat was seen, even if
			// the shepherd would still be inside the init grace.
			name: "seen heartbeat tightens the window",
			info: &ShepherdInfo{
				StartedAt:     now.Add(-100 * time.Second),
				HeartbeatSeen: true,
				LastHeartbeat: now.Add(-90 * time.Second),
			},
			want: true,
		},
		{
			name: "nil info",
			info: nil,
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Stale(tt.info, now, tInit, tSteady); got != tt.want {
				t.Errorf("Stale() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewSlots(t *testing.T) {
	slots := NewSlots(3)
	if len(slots) != 3 {
		t.Fatalf("NewSlots(3) made %d slots", len(slots))
	}
	for i, s := range slots {
		if s.Index != i || s.Shepherd != nil {
			t.Errorf("slot %d = %+v, want idle with matching index", i, s)
		}
	}
}

func TestResize(t *testing.T) {
	slots := Resize(NewSlots(2), 4)
	if len(slots) != 4 || slots[3].Index != 3 {
		t.Fatalf("grow: %+v", slots)
	}

	slots[2].Shepherd = &ShepherdInfo{ID: "a", State: StateActive}
	slots = Resize(slots, 1)
	if len(slots) != 3 {
		t.Fatalf("shrink stopped at %d slots, want 3: occupied slot must survive", len(slots))
	}
	if slots[2].Shepherd == nil {
		t.Error("shrink dropped an occupied slot")
	}

	slots[2].Shepherd = nil
	slots = Resize(slots, 1)
	if len(slots) != 1 {
		t.Errorf("shrink after free = %d slots, want 1", len(slots))
	}
}

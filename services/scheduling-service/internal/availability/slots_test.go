package availability

import (
	"testing"
	"time"
)

func day(t *testing.T) time.Time {
	t.Helper()
	return time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC)
}

func TestSlotGridCoversWindow(t *testing.T) {
	d := day(t)
	windows := []Interval{{Start: d.Add(9 * time.Hour), End: d.Add(17 * time.Hour)}}

	grid := SlotGrid(windows, 30*time.Minute, 0, 0)
	if len(grid) != 16 {
		t.Fatalf("expected 16 slots for 09:00-17:00 at 30m, got %d", len(grid))
	}
	for i, s := range grid {
		if s.End.Sub(s.Start).Truncate(time.Minute) != d.Add(30*time.Minute).Sub(d) {
			t.Fatalf("slot %d has wrong duration: %v", i, s.End.Sub(s.Start))
		}
		if i > 0 {
			prev := grid[i-1]
			if !prev.End.Equal(s.Start) {
				t.Fatalf("grid not contiguous at %d: %v != %v", i, prev.End, s.Start)
			}
		}
	}
	if !grid[0].Start.Equal(d.Add(9 * time.Hour)) {
		t.Fatalf("first slot should start 09:00, got %v", grid[0].Start)
	}
	if !grid[15].End.Equal(d.Add(17 * time.Hour)) {
		t.Fatalf("last slot should end 17:00, got %v", grid[15].End)
	}
}

func TestSlotGridDropsTrailingPartial(t *testing.T) {
	d := day(t)
	// 09:00-10:15 with 30m slots: 09:00 and 09:30 fit, the 10:00-10:15
	// remainder is dropped.
	windows := []Interval{{Start: d.Add(9 * time.Hour), End: d.Add(10*time.Hour + 15*time.Minute)}}
	grid := SlotGrid(windows, 30*time.Minute, 0, 0)
	if len(grid) != 2 {
		t.Fatalf("expected 2 slots, got %d", len(grid))
	}
	if !grid[1].End.Equal(d.Add(10 * time.Hour)) {
		t.Fatalf("last slot should end 10:00, got %v", grid[1].End)
	}
}

func TestSlotGridAlignment(t *testing.T) {
	d := day(t)
	// Window opens 09:10; with :00/:30 alignment the first candidate is 09:30.
	windows := []Interval{{Start: d.Add(9*time.Hour + 10*time.Minute), End: d.Add(11 * time.Hour)}}
	grid := SlotGrid(windows, 30*time.Minute, 0, 30*time.Minute)
	if len(grid) == 0 {
		t.Fatal("expected slots")
	}
	if !grid[0].Start.Equal(d.Add(9*time.Hour + 30*time.Minute)) {
		t.Fatalf("expected first slot 09:30, got %v", grid[0].Start)
	}
}

func TestSlotGridEmptyWindows(t *testing.T) {
	if got := SlotGrid(nil, 30*time.Minute, 0, 0); len(got) != 0 {
		t.Fatalf("holiday (no windows) must yield empty grid, got %d", len(got))
	}
	d := day(t)
	// Window shorter than duration yields nothing.
	windows := []Interval{{Start: d.Add(9 * time.Hour), End: d.Add(9*time.Hour + 20*time.Minute)}}
	if got := SlotGrid(windows, 30*time.Minute, 0, 0); len(got) != 0 {
		t.Fatalf("short window must yield empty grid, got %d", len(got))
	}
}

func TestFilterHalfOpenBoundary(t *testing.T) {
	d := day(t)
	grid := SlotGrid([]Interval{{Start: d.Add(9 * time.Hour), End: d.Add(11 * time.Hour)}}, 30*time.Minute, 0, 0)

	// Busy exactly [10:00,10:30): neighbors [09:30,10:00) and [10:30,11:00)
	// must survive, the booked slot must not.
	busy := []Interval{{Start: d.Add(10 * time.Hour), End: d.Add(10*time.Hour + 30*time.Minute)}}
	got := Filter(grid, busy, time.Time{})
	if len(got) != 3 {
		t.Fatalf("expected 3 free slots, got %d", len(got))
	}
	want := []time.Time{d.Add(9 * time.Hour), d.Add(9*time.Hour + 30*time.Minute), d.Add(10*time.Hour + 30*time.Minute)}
	for i, s := range got {
		if !s.Start.Equal(want[i]) {
			t.Fatalf("slot %d: expected start %v, got %v", i, want[i], s.Start)
		}
	}
}

func TestFilterLeadTimeCutoff(t *testing.T) {
	d := day(t)
	// Open 09:00-17:00, 30m slots, lead time 2h, queried "today" at 14:05:
	// cutoff is 16:05, so 16:00 is excluded and 16:30 is the only slot left.
	grid := SlotGrid([]Interval{{Start: d.Add(9 * time.Hour), End: d.Add(17 * time.Hour)}}, 30*time.Minute, 0, 0)
	cutoff := d.Add(14*time.Hour + 5*time.Minute).Add(2 * time.Hour)

	got := Filter(grid, nil, cutoff)
	if len(got) != 1 {
		t.Fatalf("expected exactly one slot after 16:05 cutoff, got %d", len(got))
	}
	if !got[0].Start.Equal(d.Add(16*time.Hour + 30*time.Minute)) {
		t.Fatalf("expected 16:30, got %v", got[0].Start)
	}
}

func TestFilterIsPureAndIdempotent(t *testing.T) {
	d := day(t)
	grid := SlotGrid([]Interval{{Start: d.Add(9 * time.Hour), End: d.Add(12 * time.Hour)}}, 30*time.Minute, 0, 0)
	busy := []Interval{{Start: d.Add(10 * time.Hour), End: d.Add(11 * time.Hour)}}

	first := Filter(grid, busy, time.Time{})
	second := Filter(grid, busy, time.Time{})
	if len(first) != len(second) {
		t.Fatalf("filter not idempotent: %d != %d", len(first), len(second))
	}
	for i := range first {
		if !first[i].Start.Equal(second[i].Start) || !first[i].End.Equal(second[i].End) {
			t.Fatalf("filter not idempotent at %d", i)
		}
	}
}

func TestOverlapsDeterminism(t *testing.T) {
	d := day(t)
	a1, a2 := d.Add(9*time.Hour), d.Add(10*time.Hour)
	// Touching endpoints do not overlap.
	if Overlaps(a1, a2, a2, a2.Add(time.Hour)) {
		t.Fatal("[9,10) must not overlap [10,11)")
	}
	if !Overlaps(a1, a2, a2.Add(-time.Minute), a2.Add(time.Hour)) {
		t.Fatal("[9,10) must overlap [9:59,11)")
	}
}

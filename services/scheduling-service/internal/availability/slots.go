package availability

import (
	"sort"
	"time"
)

// Interval is a half-open time interval [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether two half-open intervals intersect:
// [s,e) overlaps [bs,be) iff s < be && bs < e. A slot ending exactly when
// another begins does not overlap.
func Overlaps(s, e, bs, be time.Time) bool {
	return s.Before(be) && bs.Before(e)
}

// SlotGrid expands the open working windows of a single day into the full
// ordered grid of fixed-duration candidate slots.
//
// step defaults to duration when zero, producing adjacent non-overlapping
// slots whose union covers each window minus any trailing remainder shorter
// than duration (dropped, never truncated). When align > 0 the first slot of
// each window is pushed forward to the next wall-clock multiple of align
// (e.g. :00/:30 for align=30m). Windows are expected in the same location;
// empty input yields an empty grid.
func SlotGrid(windows []Interval, duration, step, align time.Duration) []Interval {
	if duration <= 0 {
		return nil
	}
	if step <= 0 {
		step = duration
	}

	var grid []Interval
	for _, win := range windows {
		if !win.End.After(win.Start) {
			continue
		}
		start := win.Start
		if align > 0 {
			start = alignUp(start, align)
		}
		for t := start; !t.Add(duration).After(win.End); t = t.Add(step) {
			grid = append(grid, Interval{Start: t, End: t.Add(duration)})
		}
	}
	sort.Slice(grid, func(i, j int) bool { return grid[i].Start.Before(grid[j].Start) })
	return grid
}

// Filter returns the subsequence of candidates that neither overlap any busy
// interval nor start before cutoff. Candidates are assumed ascending; the
// output preserves that order. Pure and safe for concurrent use.
func Filter(candidates, busy []Interval, cutoff time.Time) []Interval {
	out := make([]Interval, 0, len(candidates))
	for _, c := range candidates {
		if c.Start.Before(cutoff) {
			continue
		}
		if overlapsAny(c, busy) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func overlapsAny(c Interval, busy []Interval) bool {
	for _, b := range busy {
		if Overlaps(c.Start, c.End, b.Start, b.End) {
			return true
		}
	}
	return false
}

func alignUp(t time.Time, align time.Duration) time.Time {
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	offset := t.Sub(midnight)
	rem := offset % align
	if rem == 0 {
		return t
	}
	return t.Add(align - rem)
}

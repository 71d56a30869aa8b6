package rules

import (
	"testing"
	"time"
)

func mustLoc(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Fatalf("LoadLocation(%s): %v", name, err)
	}
	return loc
}

func weekdaySchedule(loc *time.Location) *Schedule {
	s := &Schedule{
		ResourceID: "barber-1",
		Location:   loc,
		Exceptions: map[string]DayRule{},
		Policy:     LeadTimePolicy{MinNotice: 2 * time.Hour, MaxAdvanceDays: 30},
		Active:     true,
	}
	for wd := time.Monday; wd <= time.Friday; wd++ {
		s.Weekly[wd] = Open(ClockSpan{StartMinute: 9 * 60, EndMinute: 17 * 60})
	}
	s.Weekly[time.Saturday] = Closed()
	s.Weekly[time.Sunday] = Closed()
	return s
}

func TestExceptionOverridesWeeklyRule(t *testing.T) {
	s := weekdaySchedule(time.UTC)
	// 2026-03-12 is a Thursday, normally open.
	day := time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC)
	if got := s.RuleFor(day); got.Kind != KindOpen {
		t.Fatal("expected weekday to be open")
	}

	s.Exceptions["2026-03-12"] = Closed()
	if got := s.RuleFor(day); got.Kind != KindClosed {
		t.Fatal("holiday exception must override the weekly rule")
	}
	if wins := s.Windows(day); len(wins) != 0 {
		t.Fatalf("closed exception must yield no windows, got %d", len(wins))
	}

	// One-off short day.
	s.Exceptions["2026-03-12"] = Open(ClockSpan{StartMinute: 10 * 60, EndMinute: 14 * 60})
	wins := s.Windows(day)
	if len(wins) != 1 {
		t.Fatalf("expected 1 window, got %d", len(wins))
	}
	if !wins[0].Start.Equal(day.Add(10 * time.Hour)) || !wins[0].End.Equal(day.Add(14 * time.Hour)) {
		t.Fatalf("unexpected exception window: %v - %v", wins[0].Start, wins[0].End)
	}
}

func TestWindowsInResourceTimezone(t *testing.T) {
	ny := mustLoc(t, "America/New_York")
	s := weekdaySchedule(ny)

	day := time.Date(2026, 3, 12, 0, 0, 0, 0, ny)
	wins := s.Windows(day)
	if len(wins) != 1 {
		t.Fatalf("expected 1 window, got %d", len(wins))
	}
	// 09:00 EDT == 13:00 UTC (2026-03-12 is after the US spring-forward).
	wantUTC := time.Date(2026, 3, 12, 13, 0, 0, 0, time.UTC)
	if !wins[0].Start.Equal(wantUTC) {
		t.Fatalf("expected window start %v, got %v", wantUTC, wins[0].Start.UTC())
	}
}

func TestWindowsOnDSTTransitionDay(t *testing.T) {
	ny := mustLoc(t, "America/New_York")
	s := weekdaySchedule(ny)

	// 2026-03-09 is the Monday after the 2026-03-08 spring-forward; the
	// wall-clock window must still be 09:00-17:00 local, eight hours long.
	day := time.Date(2026, 3, 9, 0, 0, 0, 0, ny)
	wins := s.Windows(day)
	if len(wins) != 1 {
		t.Fatalf("expected 1 window, got %d", len(wins))
	}
	if got := wins[0].End.Sub(wins[0].Start); got != 8*time.Hour {
		t.Fatalf("expected 8h window, got %v", got)
	}
}

func TestDayRuleValidate(t *testing.T) {
	valid := []DayRule{
		Closed(),
		Open(ClockSpan{540, 1020}),
		Open(ClockSpan{540, 720}, ClockSpan{780, 1020}),
	}
	for i, r := range valid {
		if err := r.Validate(); err != nil {
			t.Fatalf("rule %d should be valid: %v", i, err)
		}
	}

	invalid := []DayRule{
		Open(),                                     // open without spans
		Open(ClockSpan{600, 600}),                  // close == open
		Open(ClockSpan{600, 540}),                  // close before open
		Open(ClockSpan{-10, 540}),                  // before midnight
		Open(ClockSpan{540, 1500}),                 // past end of day
		Open(ClockSpan{540, 800}, ClockSpan{700, 900}), // overlap
	}
	for i, r := range invalid {
		if err := r.Validate(); err == nil {
			t.Fatalf("rule %d should be invalid", i)
		}
	}
}

func TestTodayUsesResourceLocalDate(t *testing.T) {
	tokyo := mustLoc(t, "Asia/Tokyo")
	s := weekdaySchedule(tokyo)

	// 2026-03-11 23:30 UTC is already 2026-03-12 in Tokyo.
	now := time.Date(2026, 3, 11, 23, 30, 0, 0, time.UTC)
	today := s.Today(now)
	if today.Day() != 12 {
		t.Fatalf("expected local date 12, got %d", today.Day())
	}
	if today.Hour() != 0 || today.Location() != tokyo {
		t.Fatalf("expected local midnight in Tokyo, got %v", today)
	}
}

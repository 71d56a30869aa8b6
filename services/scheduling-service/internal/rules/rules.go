package rules

import (
	"fmt"
	"time"

	"github.com/aline-moraes/chairbook/services/scheduling-service/internal/availability"
)

// Kind tags a day rule. A day is either open with explicit spans or closed;
// there is no implicit state probed at runtime.
type Kind int

const (
	KindClosed Kind = iota
	KindOpen
)

// ClockSpan is a wall-clock interval within a single day, expressed as
// minutes since local midnight. EndMinute is exclusive.
type ClockSpan struct {
	StartMinute int
	EndMinute   int
}

// DayRule is the tagged variant {Open(spans), Closed}. Date-keyed exceptions
// carry the same shape and override the weekly rule by explicit precedence.
type DayRule struct {
	Kind  Kind
	Spans []ClockSpan
}

func Closed() DayRule {
	return DayRule{Kind: KindClosed}
}

func Open(spans ...ClockSpan) DayRule {
	return DayRule{Kind: KindOpen, Spans: spans}
}

const minutesPerDay = 24 * 60

// Validate enforces the working-hours invariant: spans ordered, within the
// day, close strictly after open, and never overlapping.
func (r DayRule) Validate() error {
	if r.Kind == KindClosed {
		return nil
	}
	if len(r.Spans) == 0 {
		return fmt.Errorf("open rule requires at least one span")
	}
	prevEnd := 0
	for i, sp := range r.Spans {
		if sp.StartMinute < 0 || sp.EndMinute > minutesPerDay {
			return fmt.Errorf("span %d out of day bounds", i)
		}
		if sp.EndMinute <= sp.StartMinute {
			return fmt.Errorf("span %d: close must be after open", i)
		}
		if sp.StartMinute < prevEnd {
			return fmt.Errorf("span %d overlaps previous span", i)
		}
		prevEnd = sp.EndMinute
	}
	return nil
}

// LeadTimePolicy bounds how close to now and how far into the future a slot
// may be booked. A per-resource override row replaces the global policy
// whole; a partial override must write both fields.
type LeadTimePolicy struct {
	MinNotice      time.Duration
	MaxAdvanceDays int
}

const dateKey = "2006-01-02"

// Schedule is the fully resolved rule set for one resource: weekly working
// hours, date exceptions, timezone, and the effective lead-time policy.
// It is a read-only snapshot; all mutation goes through the repository.
type Schedule struct {
	ResourceID    string
	Location      *time.Location
	Weekly        [7]DayRule
	Exceptions    map[string]DayRule
	Policy        LeadTimePolicy
	RequirePrepay bool
	Active        bool
}

// RuleFor resolves the effective rule for a resource-local calendar date.
// An exception for the exact date wins over the weekly rule.
func (s *Schedule) RuleFor(localDate time.Time) DayRule {
	if r, ok := s.Exceptions[localDate.Format(dateKey)]; ok {
		return r
	}
	return s.Weekly[int(localDate.Weekday())]
}

// Windows expands the effective rule for a local date into concrete open
// intervals located in the resource's timezone. A closed day (weekly or by
// exception) yields no windows. Construction through time.Date in the
// resource location keeps DST transition days correct.
func (s *Schedule) Windows(localDate time.Time) []availability.Interval {
	rule := s.RuleFor(localDate)
	if rule.Kind != KindOpen {
		return nil
	}
	y, m, d := localDate.Date()
	out := make([]availability.Interval, 0, len(rule.Spans))
	for _, sp := range rule.Spans {
		start := time.Date(y, m, d, sp.StartMinute/60, sp.StartMinute%60, 0, 0, s.Location)
		end := time.Date(y, m, d, sp.EndMinute/60, sp.EndMinute%60, 0, 0, s.Location)
		if end.After(start) {
			out = append(out, availability.Interval{Start: start, End: end})
		}
	}
	return out
}

// Today returns local midnight of the resource-local day containing now.
// Lead-time and "today" boundaries are evaluated in resource-local time.
func (s *Schedule) Today(now time.Time) time.Time {
	local := now.In(s.Location)
	y, m, d := local.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, s.Location)
}

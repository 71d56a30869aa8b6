package engine

import "time"

// Clock abstracts "now" so lead-time and today-boundary behavior is
// deterministic under test. Production uses RealClock.
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now().UTC() }

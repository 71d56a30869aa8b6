package model

import "time"

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

// Occupies reports whether a reservation in this status blocks its time
// interval. Cancelled and completed rows never block availability.
func (s Status) Occupies() bool {
	return s == StatusPending || s == StatusConfirmed
}

// Terminal statuses admit no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

// CanTransition encodes the reservation state machine:
// pending -> confirmed -> completed, pending|confirmed -> cancelled.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusConfirmed || to == StatusCancelled
	case StatusConfirmed:
		return to == StatusCompleted || to == StatusCancelled
	default:
		return false
	}
}

// Reservation is a committed booking. Start/End are UTC instants forming a
// half-open interval [Start, End). Rows are never deleted; cancellation and
// completion are soft status transitions.
type Reservation struct {
	ID            string
	ResourceID    string
	Start         time.Time
	End           time.Time
	Status        Status
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
	CancelledAt   *time.Time
	CancelReason  string
	CreatedAt     time.Time
}

// Resource is a bookable entity: a staff member at a shop. Deactivated
// resources are excluded from search but keep their reservation history.
type Resource struct {
	ID            string
	ShopID        string
	Name          string
	Timezone      string
	Active        bool
	RequirePrepay bool
	CreatedAt     time.Time
}

// BookingRequest is the transient input to the commit protocol. It becomes
// a Reservation only on a successful commit.
type BookingRequest struct {
	ResourceID     string
	Start          time.Time
	End            time.Time
	CustomerName   string
	CustomerEmail  string
	CustomerPhone  string
	IdempotencyKey string
}

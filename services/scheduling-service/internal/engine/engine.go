package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aline-moraes/chairbook/services/scheduling-service/internal/availability"
	"github.com/aline-moraes/chairbook/services/scheduling-service/internal/model"
	"github.com/aline-moraes/chairbook/services/scheduling-service/internal/outbox"
	"github.com/aline-moraes/chairbook/services/scheduling-service/internal/rules"
)

// RulesStore provides read access to working hours, exceptions, and
// lead-time policy. Implemented by rules.Repository.
type RulesStore interface {
	Schedule(ctx context.Context, resourceID string) (*rules.Schedule, error)
	ActiveResourceIDs(ctx context.Context, shopID string) ([]string, error)
}

// Ledger is the commit surface of the reservation store. Commit and
// Transition are atomic with respect to the underlying storage.
type Ledger interface {
	BusyIntervals(ctx context.Context, resourceID string, from, to time.Time) ([]availability.Interval, error)
	Commit(ctx context.Context, r *model.Reservation, idemKey string, evt outbox.Event) (string, bool, error)
	Get(ctx context.Context, reservationID string) (*model.Reservation, error)
	Transition(ctx context.Context, reservationID string, to model.Status, reason string, evtFn func(*model.Reservation) outbox.Event) (*model.Reservation, error)
}

type Config struct {
	// SlotStep spaces candidate starts; zero means duration-sized steps
	// (adjacent, non-overlapping slots).
	SlotStep time.Duration
	// GridAlign snaps slot starts to wall-clock multiples (e.g. 30m for
	// :00/:30). Zero disables alignment.
	GridAlign time.Duration
	// MaxDuration rejects absurd requests before touching the ledger.
	MaxDuration time.Duration
	// DefaultHorizonDays bounds next-available scans when the caller
	// does not pass a horizon.
	DefaultHorizonDays int
	// MaxHorizonDays is the hard policy ceiling for any scan.
	MaxHorizonDays int
}

func (c Config) withDefaults() Config {
	if c.MaxDuration <= 0 {
		c.MaxDuration = 8 * time.Hour
	}
	if c.DefaultHorizonDays <= 0 {
		c.DefaultHorizonDays = 30
	}
	if c.MaxHorizonDays <= 0 {
		c.MaxHorizonDays = 90
	}
	return c
}

// Engine is the availability and slot resolution core. Slot queries are
// read-only and safe for arbitrary concurrent use; all writes go through
// the ledger's atomic operations.
type Engine struct {
	rules  RulesStore
	ledger Ledger
	clock  Clock
	logger *slog.Logger
	cfg    Config
}

func New(rulesStore RulesStore, ledger Ledger, clock Clock, logger *slog.Logger, cfg Config) *Engine {
	return &Engine{
		rules:  rulesStore,
		ledger: ledger,
		clock:  clock,
		logger: logger,
		cfg:    cfg.withDefaults(),
	}
}

const dateLayout = "2006-01-02"

// GetSlots returns the ordered bookable intervals for a resource on a
// resource-local calendar date. Holidays and fully booked days yield an
// empty list, not an error; past dates likewise.
func (e *Engine) GetSlots(ctx context.Context, resourceID, date string, duration time.Duration) ([]availability.Interval, error) {
	if err := e.validateDuration(duration); err != nil {
		return nil, err
	}
	if strings.TrimSpace(resourceID) == "" {
		return nil, fmt.Errorf("resource id required: %w", model.ErrInvalidInput)
	}
	if _, err := time.Parse(dateLayout, date); err != nil {
		return nil, fmt.Errorf("date %q: %w", date, model.ErrInvalidInput)
	}

	sched, err := e.rules.Schedule(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	if !sched.Active {
		return nil, fmt.Errorf("resource %s inactive: %w", resourceID, model.ErrNotFound)
	}

	localDate, err := time.ParseInLocation(dateLayout, date, sched.Location)
	if err != nil {
		return nil, fmt.Errorf("date %q: %w", date, model.ErrInvalidInput)
	}
	return e.slotsForDay(ctx, sched, localDate, duration)
}

// slotsForDay is the single per-day resolution path. GetSlots and
// NextSlot searches both go through here, so a per-date query and a
// multi-day scan can never disagree about what is bookable.
func (e *Engine) slotsForDay(ctx context.Context, sched *rules.Schedule, localDate time.Time, duration time.Duration) ([]availability.Interval, error) {
	now := e.clock.Now()
	today := sched.Today(now)

	if localDate.Before(today) {
		return nil, nil
	}
	if sched.Policy.MaxAdvanceDays > 0 && localDate.After(today.AddDate(0, 0, sched.Policy.MaxAdvanceDays)) {
		return nil, nil
	}

	windows := sched.Windows(localDate)
	if len(windows) == 0 {
		return nil, nil
	}

	busy, err := e.ledger.BusyIntervals(ctx, sched.ResourceID, windows[0].Start, windows[len(windows)-1].End)
	if err != nil {
		return nil, err
	}

	cutoff := now.Add(sched.Policy.MinNotice)
	grid := availability.SlotGrid(windows, duration, e.cfg.SlotStep, e.cfg.GridAlign)
	return availability.Filter(grid, busy, cutoff), nil
}

// NextSlot is the result of a next-available search.
type NextSlot struct {
	ResourceID string
	Date       string
	Slot       availability.Interval
}

// FindNextAvailable scans forward day by day and returns the earliest
// bookable slot across the given resources. An empty resourceIDs slice
// means all active resources. explicit marks ids the caller chose by
// hand: a missing or deactivated entry is then an error. Non-explicit
// sets (anonymous mode, or a list derived from a token scope) skip
// such entries instead, since scopes are expected to outlive resource
// deactivation. ok=false is the "no availability within horizon"
// sentinel. This is the only next-available computation in the system;
// every caller derives its answer from here.
func (e *Engine) FindNextAvailable(ctx context.Context, resourceIDs []string, explicit bool, duration time.Duration, horizonDays int) (NextSlot, bool, error) {
	if err := e.validateDuration(duration); err != nil {
		return NextSlot{}, false, err
	}
	if horizonDays <= 0 {
		horizonDays = e.cfg.DefaultHorizonDays
	}
	if horizonDays > e.cfg.MaxHorizonDays {
		horizonDays = e.cfg.MaxHorizonDays
	}

	if len(resourceIDs) == 0 {
		var err error
		resourceIDs, err = e.rules.ActiveResourceIDs(ctx, "")
		if err != nil {
			return NextSlot{}, false, err
		}
	}

	scheds := make([]*rules.Schedule, 0, len(resourceIDs))
	for _, id := range resourceIDs {
		sched, err := e.rules.Schedule(ctx, id)
		if err != nil {
			if !explicit && errors.Is(err, model.ErrNotFound) {
				continue
			}
			return NextSlot{}, false, err
		}
		if !sched.Active {
			if !explicit {
				continue
			}
			return NextSlot{}, false, fmt.Errorf("resource %s inactive: %w", id, model.ErrNotFound)
		}
		scheds = append(scheds, sched)
	}
	if len(scheds) == 0 {
		return NextSlot{}, false, nil
	}

	for offset := 0; offset < horizonDays; offset++ {
		var best NextSlot
		found := false
		for _, sched := range scheds {
			localDate := sched.Today(e.clock.Now()).AddDate(0, 0, offset)
			slots, err := e.slotsForDay(ctx, sched, localDate, duration)
			if err != nil {
				return NextSlot{}, false, err
			}
			if len(slots) == 0 {
				continue
			}
			if !found || slots[0].Start.Before(best.Slot.Start) {
				best = NextSlot{
					ResourceID: sched.ResourceID,
					Date:       localDate.Format(dateLayout),
					Slot:       slots[0],
				}
				found = true
			}
		}
		if found {
			return best, true, nil
		}
	}
	return NextSlot{}, false, nil
}

// CommitBooking runs the commit protocol: input validation, policy checks,
// then the ledger's atomic claim. A CONFLICT is a normal concurrent outcome
// and is never logged as an error.
func (e *Engine) CommitBooking(ctx context.Context, req model.BookingRequest) (string, error) {
	if err := e.validateBookingRequest(req); err != nil {
		return "", err
	}

	sched, err := e.rules.Schedule(ctx, req.ResourceID)
	if err != nil {
		return "", err
	}
	if !sched.Active {
		return "", fmt.Errorf("resource %s inactive: %w", req.ResourceID, model.ErrNotFound)
	}

	now := e.clock.Now()
	if req.Start.Before(now.Add(sched.Policy.MinNotice)) {
		return "", fmt.Errorf("start violates %s lead time: %w", sched.Policy.MinNotice, model.ErrOutOfPolicy)
	}
	if sched.Policy.MaxAdvanceDays > 0 {
		limit := sched.Today(now).AddDate(0, 0, sched.Policy.MaxAdvanceDays+1)
		if !req.Start.Before(limit) {
			return "", fmt.Errorf("start beyond %d-day booking window: %w", sched.Policy.MaxAdvanceDays, model.ErrOutOfPolicy)
		}
	}
	if !e.withinWorkingWindows(sched, req.Start, req.End) {
		return "", fmt.Errorf("interval outside working hours: %w", model.ErrOutOfPolicy)
	}

	status := model.StatusConfirmed
	if sched.RequirePrepay {
		status = model.StatusPending
	}

	r := &model.Reservation{
		ID:            uuid.NewString(),
		ResourceID:    req.ResourceID,
		Start:         req.Start.UTC(),
		End:           req.End.UTC(),
		Status:        status,
		CustomerName:  req.CustomerName,
		CustomerEmail: req.CustomerEmail,
		CustomerPhone: req.CustomerPhone,
	}

	evt, err := reservationEvent(outbox.EventReservationCreated, r)
	if err != nil {
		return "", err
	}

	id, replay, err := e.ledger.Commit(ctx, r, req.IdempotencyKey, evt)
	if err != nil {
		if errors.Is(err, model.ErrConflict) {
			e.logger.Info("booking conflict", "resource_id", req.ResourceID, "start", req.Start)
		}
		return "", err
	}
	if replay {
		e.logger.Info("booking replayed via idempotency key", "reservation_id", id)
		return id, nil
	}
	e.logger.Info("booking committed", "reservation_id", id, "resource_id", req.ResourceID, "status", status)
	return id, nil
}

// CancelBooking releases the interval back to availability immediately.
func (e *Engine) CancelBooking(ctx context.Context, reservationID, reason string) (*model.Reservation, error) {
	return e.ledger.Transition(ctx, reservationID, model.StatusCancelled, reason, func(r *model.Reservation) outbox.Event {
		evt, _ := reservationEvent(outbox.EventReservationCancelled, r)
		return evt
	})
}

// ConfirmBooking is the payment-authority hook: pending -> confirmed once
// payment succeeds upstream.
func (e *Engine) ConfirmBooking(ctx context.Context, reservationID string) (*model.Reservation, error) {
	return e.ledger.Transition(ctx, reservationID, model.StatusConfirmed, "", func(r *model.Reservation) outbox.Event {
		evt, _ := reservationEvent(outbox.EventReservationConfirmed, r)
		return evt
	})
}

// CompleteBooking marks a confirmed reservation as served.
func (e *Engine) CompleteBooking(ctx context.Context, reservationID string) (*model.Reservation, error) {
	return e.ledger.Transition(ctx, reservationID, model.StatusCompleted, "", func(r *model.Reservation) outbox.Event {
		evt, _ := reservationEvent(outbox.EventReservationCompleted, r)
		return evt
	})
}

func (e *Engine) GetBooking(ctx context.Context, reservationID string) (*model.Reservation, error) {
	return e.ledger.Get(ctx, reservationID)
}

func (e *Engine) validateDuration(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("duration must be positive: %w", model.ErrInvalidInput)
	}
	if d > e.cfg.MaxDuration {
		return fmt.Errorf("duration exceeds %s: %w", e.cfg.MaxDuration, model.ErrInvalidInput)
	}
	if d%time.Minute != 0 {
		return fmt.Errorf("duration must be whole minutes: %w", model.ErrInvalidInput)
	}
	return nil
}

func (e *Engine) validateBookingRequest(req model.BookingRequest) error {
	if strings.TrimSpace(req.ResourceID) == "" {
		return fmt.Errorf("resource id required: %w", model.ErrInvalidInput)
	}
	if strings.TrimSpace(req.CustomerName) == "" {
		return fmt.Errorf("customer name required: %w", model.ErrInvalidInput)
	}
	if !req.End.After(req.Start) {
		return fmt.Errorf("end must be after start: %w", model.ErrInvalidInput)
	}
	return e.validateDuration(req.End.Sub(req.Start))
}

func (e *Engine) withinWorkingWindows(sched *rules.Schedule, start, end time.Time) bool {
	localDate := sched.Today(start)
	for _, w := range sched.Windows(localDate) {
		if !start.Before(w.Start) && !end.After(w.End) {
			return true
		}
	}
	return false
}

func reservationEvent(eventType string, r *model.Reservation) (outbox.Event, error) {
	body := map[string]any{
		"reservation_id": r.ID,
		"resource_id":    r.ResourceID,
		"start_time":     r.Start.UTC().Format(time.RFC3339),
		"end_time":       r.End.UTC().Format(time.RFC3339),
		"status":         string(r.Status),
		"customer_name":  r.CustomerName,
		"customer_email": r.CustomerEmail,
		"customer_phone": r.CustomerPhone,
	}
	if r.CancelledAt != nil {
		body["cancelled_at"] = r.CancelledAt.UTC().Format(time.RFC3339)
		body["reason"] = r.CancelReason
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return outbox.Event{}, err
	}
	return outbox.Event{
		AggregateType: "reservation",
		AggregateID:   r.ID,
		EventType:     eventType,
		Payload:       payload,
	}, nil
}

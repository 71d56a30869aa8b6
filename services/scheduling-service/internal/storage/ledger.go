package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/aline-moraes/chairbook/libs/db"
	"github.com/aline-moraes/chairbook/services/scheduling-service/internal/availability"
	"github.com/aline-moraes/chairbook/services/scheduling-service/internal/model"
	"github.com/aline-moraes/chairbook/services/scheduling-service/internal/outbox"
)

// Ledger is the authoritative record of reservations. All writes funnel
// through Commit and Transition; both are single transactions so a failed
// operation leaves no partial state behind.
type Ledger struct {
	pool          *db.Pool
	outbox        *outbox.Repository
	commitTimeout time.Duration
}

func NewLedger(pool *db.Pool, outboxRepo *outbox.Repository, commitTimeout time.Duration) *Ledger {
	if commitTimeout <= 0 {
		commitTimeout = 5 * time.Second
	}
	return &Ledger{pool: pool, outbox: outboxRepo, commitTimeout: commitTimeout}
}

const reservationColumns = `
	id::text, resource_id::text, start_time, end_time, status,
	customer_name, customer_email, customer_phone,
	cancelled_at, COALESCE(cancel_reason, ''), created_at
`

// BusyIntervals returns the occupied intervals (pending and confirmed only)
// for a resource overlapping [from, to), ascending by start.
func (l *Ledger) BusyIntervals(ctx context.Context, resourceID string, from, to time.Time) ([]availability.Interval, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT start_time, end_time
		FROM reservations
		WHERE resource_id::text = $1
			AND status IN ('pending', 'confirmed')
			AND start_time < $3
			AND end_time > $2
		ORDER BY start_time ASC
	`, resourceID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var busy []availability.Interval
	for rows.Next() {
		var iv availability.Interval
		if err := rows.Scan(&iv.Start, &iv.End); err != nil {
			return nil, err
		}
		busy = append(busy, iv)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return busy, nil
}

// Commit atomically claims the reservation's interval. Inside one
// transaction it takes a per-resource advisory lock, re-checks for overlap,
// inserts the row, and writes the outbox event, so two concurrent commits
// for the same resource serialize and exactly one wins. The exclusion
// constraint on (resource_id, tstzrange) is the database-level backstop.
// Commits for different resources never contend.
//
// When idemKey is non-empty, a replayed request returns the original
// reservation id with replay=true instead of a conflict.
func (l *Ledger) Commit(ctx context.Context, r *model.Reservation, idemKey string, evt outbox.Event) (string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, l.commitTimeout)
	defer cancel()

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return "", false, retryableIfTimeout(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if idemKey != "" {
		existing, err := l.lockIdempotencyKey(ctx, tx, r.ResourceID, idemKey)
		if err != nil {
			return "", false, retryableIfTimeout(err)
		}
		if existing != "" {
			return existing, true, nil
		}
	}

	// Resource-scoped mutex; cross-resource commits stay independent.
	if _, err := tx.Exec(ctx, `
		SELECT pg_advisory_xact_lock(hashtextextended($1, 0))
	`, r.ResourceID); err != nil {
		return "", false, retryableIfTimeout(err)
	}

	var occupied bool
	err = tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM reservations
			WHERE resource_id = $1
				AND status IN ('pending', 'confirmed')
				AND start_time < $3
				AND end_time > $2
		)
	`, r.ResourceID, r.Start, r.End).Scan(&occupied)
	if err != nil {
		return "", false, retryableIfTimeout(err)
	}
	if occupied {
		return "", false, model.ErrConflict
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO reservations
			(id, resource_id, start_time, end_time, status, customer_name, customer_email, customer_phone)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, r.ID, r.ResourceID, r.Start, r.End, r.Status, r.CustomerName, r.CustomerEmail, r.CustomerPhone)
	if err != nil {
		if isExclusionViolation(err) {
			return "", false, model.ErrConflict
		}
		return "", false, retryableIfTimeout(err)
	}

	if err := l.outbox.Insert(ctx, tx, evt); err != nil {
		return "", false, retryableIfTimeout(err)
	}

	if idemKey != "" {
		if _, err := tx.Exec(ctx, `
			UPDATE booking_idempotency_keys
			SET reservation_id = $3, updated_at = now()
			WHERE resource_id = $1 AND idempotency_key = $2
		`, r.ResourceID, idemKey, r.ID); err != nil {
			return "", false, retryableIfTimeout(err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", false, retryableIfTimeout(err)
	}
	return r.ID, false, nil
}

func (l *Ledger) Get(ctx context.Context, reservationID string) (*model.Reservation, error) {
	// id::text so a malformed reservation id reads as not-found instead of
	// a uuid encode error.
	row := l.pool.QueryRow(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE id::text = $1
	`, reservationID)
	r, err := scanReservation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("reservation %s: %w", reservationID, model.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Transition moves a reservation through the state machine under FOR UPDATE
// and writes the outbox event built from the post-transition row in the same
// transaction. Terminal rows are rejected with ErrTerminalState.
func (l *Ledger) Transition(ctx context.Context, reservationID string, to model.Status, reason string, evtFn func(*model.Reservation) outbox.Event) (*model.Reservation, error) {
	ctx, cancel := context.WithTimeout(ctx, l.commitTimeout)
	defer cancel()

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, retryableIfTimeout(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE id::text = $1
		FOR UPDATE
	`, reservationID)
	r, err := scanReservation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("reservation %s: %w", reservationID, model.ErrNotFound)
	}
	if err != nil {
		return nil, retryableIfTimeout(err)
	}

	if r.Status.Terminal() {
		return nil, fmt.Errorf("reservation %s is %s: %w", r.ID, r.Status, model.ErrTerminalState)
	}
	if !model.CanTransition(r.Status, to) {
		return nil, fmt.Errorf("transition %s -> %s: %w", r.Status, to, model.ErrInvalidInput)
	}

	if to == model.StatusCancelled {
		var cancelledAt time.Time
		err = tx.QueryRow(ctx, `
			UPDATE reservations
			SET status = 'cancelled', cancelled_at = now(), cancel_reason = $2
			WHERE id = $1
			RETURNING cancelled_at
		`, r.ID, reason).Scan(&cancelledAt)
		if err != nil {
			return nil, retryableIfTimeout(err)
		}
		r.CancelledAt = &cancelledAt
		r.CancelReason = reason
	} else {
		if _, err := tx.Exec(ctx, `
			UPDATE reservations SET status = $2 WHERE id = $1
		`, r.ID, to); err != nil {
			return nil, retryableIfTimeout(err)
		}
	}
	r.Status = to

	if evtFn != nil {
		if err := l.outbox.Insert(ctx, tx, evtFn(r)); err != nil {
			return nil, retryableIfTimeout(err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, retryableIfTimeout(err)
	}
	return r, nil
}

// ListByResource returns reservations for a resource overlapping [from, to),
// newest first, regardless of status. Used by the admin view.
func (l *Ledger) ListByResource(ctx context.Context, resourceID string, from, to time.Time, limit int) ([]model.Reservation, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := l.pool.Query(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE resource_id::text = $1
			AND start_time < $3
			AND end_time > $2
		ORDER BY start_time DESC
		LIMIT $4
	`, resourceID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (l *Ledger) lockIdempotencyKey(ctx context.Context, tx pgx.Tx, resourceID, key string) (string, error) {
	_, err := tx.Exec(ctx, `
		INSERT INTO booking_idempotency_keys (resource_id, idempotency_key)
		VALUES ($1, $2)
		ON CONFLICT (resource_id, idempotency_key) DO NOTHING
	`, resourceID, key)
	if err != nil {
		return "", err
	}

	var reservationID *string
	err = tx.QueryRow(ctx, `
		SELECT reservation_id::text
		FROM booking_idempotency_keys
		WHERE resource_id = $1 AND idempotency_key = $2
		FOR UPDATE
	`, resourceID, key).Scan(&reservationID)
	if err != nil {
		return "", err
	}
	if reservationID == nil {
		return "", nil
	}
	return *reservationID, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReservation(row rowScanner) (*model.Reservation, error) {
	var r model.Reservation
	var cancelledAt *time.Time
	err := row.Scan(
		&r.ID,
		&r.ResourceID,
		&r.Start,
		&r.End,
		&r.Status,
		&r.CustomerName,
		&r.CustomerEmail,
		&r.CustomerPhone,
		&cancelledAt,
		&r.CancelReason,
		&r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.CancelledAt = cancelledAt
	return &r, nil
}

func isExclusionViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23P01"
}

// retryableIfTimeout marks deadline overruns so handlers surface them as
// retryable instead of plain internal errors.
var ErrRetryable = errors.New("retryable storage failure")

func retryableIfTimeout(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", ErrRetryable, err)
	}
	return err
}

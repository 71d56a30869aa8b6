package rules

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/aline-moraes/chairbook/libs/db"
	"github.com/aline-moraes/chairbook/services/scheduling-service/internal/model"
)

// Repository is the Business Rules Store: the only mutation path for
// resources, working hours, exceptions, and lead-time policy.
type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) GetResource(ctx context.Context, resourceID string) (model.Resource, error) {
	var res model.Resource
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, shop_id::text, name, timezone, active, require_prepay, created_at
		FROM resources
		WHERE id::text = $1
	`, resourceID).Scan(&res.ID, &res.ShopID, &res.Name, &res.Timezone, &res.Active, &res.RequirePrepay, &res.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Resource{}, fmt.Errorf("resource %s: %w", resourceID, model.ErrNotFound)
	}
	if err != nil {
		return model.Resource{}, err
	}
	return res, nil
}

func (r *Repository) ActiveResourceIDs(ctx context.Context, shopID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id::text
		FROM resources
		WHERE active
			AND ($1 = '' OR shop_id::text = $1)
		ORDER BY created_at ASC
	`, shopID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return ids, nil
}

// CreateResource inserts a resource and seeds a default Mon-Fri 09:00-17:00
// week so new staff are bookable before anyone edits their hours.
func (r *Repository) CreateResource(ctx context.Context, shopID, name, timezone string, requirePrepay bool) (string, error) {
	if _, err := time.LoadLocation(timezone); err != nil {
		return "", fmt.Errorf("timezone %q: %w", timezone, model.ErrInvalidInput)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	id := uuid.NewString()
	_, err = tx.Exec(ctx, `
		INSERT INTO resources (id, shop_id, name, timezone, active, require_prepay)
		VALUES ($1, $2, $3, $4, TRUE, $5)
	`, id, shopID, name, timezone, requirePrepay)
	if err != nil {
		return "", err
	}

	for wd := 1; wd <= 5; wd++ {
		if _, err := tx.Exec(ctx, `
			INSERT INTO resource_hours (resource_id, weekday, start_minute, end_minute)
			VALUES ($1, $2, 540, 1020)
		`, id, wd); err != nil {
			return "", err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", err
	}
	return id, nil
}

// DeactivateResource soft-deletes: the resource disappears from search but
// its reservation history stays intact.
func (r *Repository) DeactivateResource(ctx context.Context, resourceID string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE resources SET active = FALSE WHERE id::text = $1
	`, resourceID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("resource %s: %w", resourceID, model.ErrNotFound)
	}
	return nil
}

// UpsertHours replaces the weekly rule for one weekday. An empty span list
// marks the day closed.
func (r *Repository) UpsertHours(ctx context.Context, resourceID string, weekday time.Weekday, spans []ClockSpan) error {
	rule := Closed()
	if len(spans) > 0 {
		rule = Open(spans...)
	}
	if err := rule.Validate(); err != nil {
		return fmt.Errorf("%s: %w", err, model.ErrInvalidInput)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := requireResource(ctx, tx, resourceID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		DELETE FROM resource_hours WHERE resource_id = $1 AND weekday = $2
	`, resourceID, int(weekday)); err != nil {
		return err
	}
	for _, sp := range spans {
		if _, err := tx.Exec(ctx, `
			INSERT INTO resource_hours (resource_id, weekday, start_minute, end_minute)
			VALUES ($1, $2, $3, $4)
		`, resourceID, int(weekday), sp.StartMinute, sp.EndMinute); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// SetException records a one-off closure or altered hours for a local date.
// It replaces any previous exception for the same date.
func (r *Repository) SetException(ctx context.Context, resourceID string, localDate string, rule DayRule) error {
	if _, err := time.Parse(dateKey, localDate); err != nil {
		return fmt.Errorf("date %q: %w", localDate, model.ErrInvalidInput)
	}
	if err := rule.Validate(); err != nil {
		return fmt.Errorf("%s: %w", err, model.ErrInvalidInput)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := requireResource(ctx, tx, resourceID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		DELETE FROM resource_exceptions WHERE resource_id = $1 AND on_date = $2
	`, resourceID, localDate); err != nil {
		return err
	}
	if rule.Kind == KindClosed {
		if _, err := tx.Exec(ctx, `
			INSERT INTO resource_exceptions (id, resource_id, on_date, closed, start_minute, end_minute)
			VALUES ($1, $2, $3, TRUE, 0, 0)
		`, uuid.NewString(), resourceID, localDate); err != nil {
			return err
		}
	} else {
		for _, sp := range rule.Spans {
			if _, err := tx.Exec(ctx, `
				INSERT INTO resource_exceptions (id, resource_id, on_date, closed, start_minute, end_minute)
				VALUES ($1, $2, $3, FALSE, $4, $5)
			`, uuid.NewString(), resourceID, localDate, sp.StartMinute, sp.EndMinute); err != nil {
				return err
			}
		}
	}
	return tx.Commit(ctx)
}

func (r *Repository) DeleteException(ctx context.Context, resourceID, localDate string) error {
	if _, err := time.Parse(dateKey, localDate); err != nil {
		return fmt.Errorf("date %q: %w", localDate, model.ErrInvalidInput)
	}
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM resource_exceptions WHERE resource_id::text = $1 AND on_date = $2
	`, resourceID, localDate)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("exception %s/%s: %w", resourceID, localDate, model.ErrNotFound)
	}
	return nil
}

// UpsertPolicy sets the lead-time policy. resourceID "" targets the global
// default row; a non-empty id writes a per-resource override.
func (r *Repository) UpsertPolicy(ctx context.Context, resourceID string, policy LeadTimePolicy) error {
	if policy.MinNotice < 0 || policy.MaxAdvanceDays < 0 {
		return fmt.Errorf("negative policy bounds: %w", model.ErrInvalidInput)
	}
	var resID *string
	if resourceID != "" {
		// Written straight into a uuid column; a malformed id is a caller
		// bug, not a database error.
		if _, err := uuid.Parse(resourceID); err != nil {
			return fmt.Errorf("resource id %q: %w", resourceID, model.ErrInvalidInput)
		}
		resID = &resourceID
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO lead_time_policies (resource_id, min_notice_minutes, max_advance_days)
		VALUES ($1, $2, $3)
		ON CONFLICT (COALESCE(resource_id::text, 'global')) DO UPDATE
		SET min_notice_minutes = EXCLUDED.min_notice_minutes,
			max_advance_days = EXCLUDED.max_advance_days,
			updated_at = now()
	`, resID, int(policy.MinNotice.Minutes()), policy.MaxAdvanceDays)
	return err
}

// Schedule loads the full resolved snapshot for one resource: weekly hours,
// exceptions from today onward, and the effective policy (per-resource
// override first, then global, then compiled defaults).
func (r *Repository) Schedule(ctx context.Context, resourceID string) (*Schedule, error) {
	res, err := r.GetResource(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	loc, err := time.LoadLocation(res.Timezone)
	if err != nil {
		return nil, fmt.Errorf("resource %s has invalid timezone %q", resourceID, res.Timezone)
	}

	s := &Schedule{
		ResourceID:    res.ID,
		Location:      loc,
		Exceptions:    map[string]DayRule{},
		RequirePrepay: res.RequirePrepay,
		Active:        res.Active,
	}
	for wd := 0; wd < 7; wd++ {
		s.Weekly[wd] = Closed()
	}

	rows, err := r.pool.Query(ctx, `
		SELECT weekday, start_minute, end_minute
		FROM resource_hours
		WHERE resource_id = $1
		ORDER BY weekday, start_minute
	`, resourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var wd, startMin, endMin int
		if err := rows.Scan(&wd, &startMin, &endMin); err != nil {
			return nil, err
		}
		if wd < 0 || wd > 6 {
			continue
		}
		day := s.Weekly[wd]
		day.Kind = KindOpen
		day.Spans = append(day.Spans, ClockSpan{StartMinute: startMin, EndMinute: endMin})
		s.Weekly[wd] = day
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}

	exRows, err := r.pool.Query(ctx, `
		SELECT on_date::text, closed, start_minute, end_minute
		FROM resource_exceptions
		WHERE resource_id = $1 AND on_date >= (now() AT TIME ZONE $2)::date
		ORDER BY on_date, start_minute
	`, resourceID, res.Timezone)
	if err != nil {
		return nil, err
	}
	defer exRows.Close()
	for exRows.Next() {
		var date string
		var closed bool
		var startMin, endMin int
		if err := exRows.Scan(&date, &closed, &startMin, &endMin); err != nil {
			return nil, err
		}
		if closed {
			s.Exceptions[date] = Closed()
			continue
		}
		ex := s.Exceptions[date]
		ex.Kind = KindOpen
		ex.Spans = append(ex.Spans, ClockSpan{StartMinute: startMin, EndMinute: endMin})
		s.Exceptions[date] = ex
	}
	if exRows.Err() != nil {
		return nil, exRows.Err()
	}

	s.Policy, err = r.effectivePolicy(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	return s, nil
}

const (
	defaultMinNotice      = 2 * time.Hour
	defaultMaxAdvanceDays = 60
)

func (r *Repository) effectivePolicy(ctx context.Context, resourceID string) (LeadTimePolicy, error) {
	var minNoticeMins, maxAdvanceDays int
	err := r.pool.QueryRow(ctx, `
		SELECT min_notice_minutes, max_advance_days
		FROM lead_time_policies
		WHERE resource_id::text = $1 OR resource_id IS NULL
		ORDER BY resource_id NULLS LAST
		LIMIT 1
	`, resourceID).Scan(&minNoticeMins, &maxAdvanceDays)
	if errors.Is(err, pgx.ErrNoRows) {
		return LeadTimePolicy{MinNotice: defaultMinNotice, MaxAdvanceDays: defaultMaxAdvanceDays}, nil
	}
	if err != nil {
		return LeadTimePolicy{}, err
	}
	return LeadTimePolicy{
		MinNotice:      time.Duration(minNoticeMins) * time.Minute,
		MaxAdvanceDays: maxAdvanceDays,
	}, nil
}

func requireResource(ctx context.Context, tx pgx.Tx, resourceID string) error {
	var exists bool
	if err := tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM resources WHERE id::text = $1)
	`, resourceID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("resource %s: %w", resourceID, model.ErrNotFound)
	}
	return nil
}

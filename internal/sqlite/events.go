package sqlite

import (
	"context"
	"time"

	"github.com/guilherme-santos/smartcal"
)

const eventColumns = `id, owner_id, calendar_id, external_id, title, description, location,
	start_at, start_ts, end_at, end_ts, all_day, timezone, category, recurrence_rule, labels,
	original_input, confidence, parsed_elements, status, idempotency_key, external_payload,
	created_at, updated_at, confirmed_at, last_synced_at`

func (s Storage) CreateEvent(ctx context.Context, ev *smartcal.Event) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO events (`+eventColumns+`)
		VALUES (:id, :owner_id, :calendar_id, :external_id, :title, :description, :location,
			:start_at, :start_ts, :end_at, :end_ts, :all_day, :timezone, :category, :recurrence_rule, :labels,
			:original_input, :confidence, :parsed_elements, :status, :idempotency_key, :external_payload,
			:created_at, :updated_at, :confirmed_at, :last_synced_at)
	`, newEvent(ev))
	return mapError(err)
}

// UpdateEvent stores every mutable field. Moving an event onto an idempotency
// key another live event already holds fails with ErrDuplicate.
func (s Storage) UpdateEvent(ctx context.Context, ev *smartcal.Event) error {
	res, err := s.db.NamedExecContext(ctx, `
		UPDATE events SET
			calendar_id = :calendar_id,
			external_id = :external_id,
			title = :title,
			description = :description,
			location = :location,
			start_at = :start_at,
			start_ts = :start_ts,
			end_at = :end_at,
			end_ts = :end_ts,
			all_day = :all_day,
			timezone = :timezone,
			category = :category,
			recurrence_rule = :recurrence_rule,
			labels = :labels,
			confidence = :confidence,
			parsed_elements = :parsed_elements,
			status = :status,
			idempotency_key = :idempotency_key,
			external_payload = :external_payload,
			updated_at = :updated_at,
			confirmed_at = :confirmed_at,
			last_synced_at = :last_synced_at
		WHERE id = :id
	`, newEvent(ev))
	if err != nil {
		return mapError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return smartcal.ErrNotFound
	}
	return nil
}

func (s Storage) Event(ctx context.Context, id string) (*smartcal.Event, error) {
	var ev Event
	err := s.db.GetContext(ctx, &ev, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id)
	if err != nil {
		return nil, mapError(err)
	}
	return ev.Convert(), nil
}

// EventByIdempotencyKey only considers events that weren't cancelled.
func (s Storage) EventByIdempotencyKey(ctx context.Context, ownerID, key string) (*smartcal.Event, error) {
	var ev Event
	err := s.db.GetContext(ctx, &ev, `
		SELECT `+eventColumns+`
		FROM events
		WHERE owner_id = ? AND idempotency_key = ? AND status != 'cancelled'
	`, ownerID, key)
	if err != nil {
		return nil, mapError(err)
	}
	return ev.Convert(), nil
}

func (s Storage) Events(ctx context.Context, ownerID string, status smartcal.Status) ([]*smartcal.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE owner_id = ?`
	args := []any{ownerID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	return s.selectEvents(ctx, query+` ORDER BY start_ts`, args...)
}

// OverlappingEvents returns the confirmed or synced, non recurring, events of
// the calendar intersecting [start, end). Events without an end are treated
// as ending when they start.
func (s Storage) OverlappingEvents(ctx context.Context, ownerID, calendarID string, start, end time.Time) ([]*smartcal.Event, error) {
	return s.selectEvents(ctx, `
		SELECT `+eventColumns+`
		FROM events
		WHERE owner_id = ?
			AND calendar_id = ?
			AND status IN ('confirmed', 'synced')
			AND recurrence_rule = ''
			AND start_ts < ?
			AND COALESCE(end_ts, start_ts) > ?
		ORDER BY start_ts
	`, ownerID, calendarID, end.Unix(), start.Unix())
}

// RecurringEvents returns the calendar's recurring series that began before until.
func (s Storage) RecurringEvents(ctx context.Context, ownerID, calendarID string, until time.Time) ([]*smartcal.Event, error) {
	return s.selectEvents(ctx, `
		SELECT `+eventColumns+`
		FROM events
		WHERE owner_id = ?
			AND calendar_id = ?
			AND status IN ('confirmed', 'synced')
			AND recurrence_rule != ''
			AND start_ts < ?
		ORDER BY start_ts
	`, ownerID, calendarID, until.Unix())
}

func (s Storage) selectEvents(ctx context.Context, query string, args ...any) ([]*smartcal.Event, error) {
	var evs []Event
	if err := s.db.SelectContext(ctx, &evs, query, args...); err != nil {
		return nil, err
	}
	res := make([]*smartcal.Event, len(evs))
	for i, ev := range evs {
		res[i] = ev.Convert()
	}
	return res, nil
}

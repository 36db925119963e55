package sqlite

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/guilherme-santos/smartcal"
)

// SaveCalendar inserts the calendar or refreshes the one already imported
// from the same backend. cal.ID is set to the stored id.
func (s Storage) SaveCalendar(ctx context.Context, cal *smartcal.Calendar) error {
	if cal.ID == "" {
		cal.ID = uuid.NewString()
	}
	c := newCalendar(cal)

	var id string
	err := s.db.GetContext(ctx, &id, `
		INSERT INTO calendars (id, owner_id, platform, external_id, name, permission, is_default)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(owner_id, platform, external_id) DO UPDATE
			SET name = excluded.name,
				permission = excluded.permission,
				is_default = excluded.is_default
		RETURNING id;
	`, c.ID, c.OwnerID, c.Platform, c.ExternalID, c.Name, c.Permission, c.IsDefault)
	if err != nil {
		return mapError(err)
	}
	cal.ID = id
	return nil
}

func (s Storage) Calendar(ctx context.Context, id string) (*smartcal.Calendar, error) {
	var c Calendar
	err := s.db.GetContext(ctx, &c, `
		SELECT id, owner_id, platform, external_id, name, permission, is_default, last_synced_at
		FROM calendars
		WHERE id = ?
	`, id)
	if err != nil {
		return nil, mapError(err)
	}
	return c.Convert(), nil
}

func (s Storage) Calendars(ctx context.Context, ownerID string) ([]*smartcal.Calendar, error) {
	var cals []Calendar

	err := s.db.SelectContext(ctx, &cals, `
		SELECT id, owner_id, platform, external_id, name, permission, is_default, last_synced_at
		FROM calendars
		WHERE owner_id = ?
		ORDER BY is_default DESC, name
	`, ownerID)
	if err != nil {
		return nil, err
	}

	res := make([]*smartcal.Calendar, len(cals))
	for i, c := range cals {
		res[i] = c.Convert()
	}
	return res, nil
}

func (s Storage) SaveCalendarSynced(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE calendars SET last_synced_at = ? WHERE id = ?
	`, at.Format(timeLayout), id)
	return err
}

// Package lifecycle moves events through draft, confirmed, synced and
// cancelled, talking to the external calendar on sync and cancel.
package lifecycle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/guilherme-santos/smartcal"
	"github.com/guilherme-santos/smartcal/internal"
)

type Storage interface {
	Calendar(_ context.Context, id string) (*smartcal.Calendar, error)
	SaveCalendarSynced(_ context.Context, id string, at time.Time) error

	CreateEvent(context.Context, *smartcal.Event) error
	UpdateEvent(context.Context, *smartcal.Event) error
	EventByIdempotencyKey(_ context.Context, ownerID, key string) (*smartcal.Event, error)
	OverlappingEvents(_ context.Context, ownerID, calendarID string, start, end time.Time) ([]*smartcal.Event, error)
	RecurringEvents(_ context.Context, ownerID, calendarID string, until time.Time) ([]*smartcal.Event, error)
}

// Backends resolves the calendar API of a platform.
type Backends interface {
	Get(platform string) (smartcal.CalendarAPI, error)
}

// Tokens hands out access tokens that are valid right now.
type Tokens interface {
	Token(_ context.Context, ownerID, platform string) (*oauth2.Token, error)
}

type Lifecycle struct {
	storage  Storage
	backends Backends
	tokens   Tokens
	logger   logr.Logger

	Clock internal.Clock
}

func New(storage Storage, backends Backends, tokens Tokens, logger logr.Logger) *Lifecycle {
	return &Lifecycle{
		storage:  storage,
		backends: backends,
		tokens:   tokens,
		logger:   logger.WithName("lifecycle"),
	}
}

// Propose builds a draft out of a parse result. Nothing is stored.
func (l *Lifecycle) Propose(parsed *smartcal.ParsedEvent, ownerID, calendarID string) *smartcal.Event {
	now := l.Clock.Now()
	ev := &smartcal.Event{
		ID:             uuid.NewString(),
		OwnerID:        ownerID,
		CalendarID:     calendarID,
		Title:          parsed.Title,
		Description:    parsed.Description,
		Location:       parsed.Location,
		StartAt:        parsed.StartAt,
		AllDay:         parsed.AllDay,
		Timezone:       parsed.StartTimezone,
		Category:       parsed.Category,
		RecurrenceRule: parsed.RecurrenceRule,
		Labels:         []string{},
		Status:         smartcal.StatusDraft,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if !parsed.EndAt.IsZero() {
		end := parsed.EndAt
		ev.EndAt = &end
	}
	if ev.Timezone == "" {
		ev.Timezone = smartcal.DefaultTimezone
	}
	confidence := parsed.Confidence
	ev.Confidence = &confidence
	if b, err := json.Marshal(parsed.ExtractedEntities); err == nil {
		ev.ParsedElements = b
	}
	return ev
}

// IdempotencyKey identifies an event by owner, calendar, title and start.
func IdempotencyKey(ownerID, calendarID, title string, start time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%s:%s", ownerID, calendarID, title, start.UTC().Format(time.RFC3339))))
	return hex.EncodeToString(sum[:])
}

// Confirm stores a draft as confirmed. Confirming the same event again, or
// one with the same owner, calendar, title and start, returns the event that
// is already stored. Conflicts are advisory and never block the transition.
func (l *Lifecycle) Confirm(ctx context.Context, ev *smartcal.Event) (*smartcal.Event, []Conflict, error) {
	cal, err := l.writableCalendar(ctx, ev)
	if err != nil {
		return nil, nil, err
	}
	logger := internal.WithCalendar(l.logger, cal).WithValues("event", ev.ID)

	key := IdempotencyKey(ev.OwnerID, ev.CalendarID, ev.Title, ev.StartAt)
	existing, err := l.storage.EventByIdempotencyKey(ctx, ev.OwnerID, key)
	if err == nil {
		logger.V(1).Info("event already confirmed", "existing", existing.ID)
		return existing, nil, nil
	}
	if !errors.Is(err, smartcal.ErrNotFound) {
		return nil, nil, err
	}

	if ev.Status != smartcal.StatusDraft {
		return nil, nil, transitionError(ev.Status, smartcal.StatusConfirmed)
	}

	conflicts, err := l.Conflicts(ctx, ev)
	if err != nil {
		return nil, nil, fmt.Errorf("detecting conflicts: %w", err)
	}

	now := l.Clock.Now()
	confirmed := *ev
	confirmed.Status = smartcal.StatusConfirmed
	confirmed.IdempotencyKey = key
	confirmed.ConfirmedAt = &now
	confirmed.UpdatedAt = now

	err = l.storage.CreateEvent(ctx, &confirmed)
	if errors.Is(err, smartcal.ErrDuplicate) {
		// Either a concurrent confirm won the key, or the draft was stored before.
		if existing, err := l.storage.EventByIdempotencyKey(ctx, ev.OwnerID, key); err == nil {
			return existing, nil, nil
		}
		err = l.storage.UpdateEvent(ctx, &confirmed)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("saving event: %w", err)
	}

	logger.Info("event confirmed", "conflicts", len(conflicts))
	return &confirmed, conflicts, nil
}

func (l *Lifecycle) writableCalendar(ctx context.Context, ev *smartcal.Event) (*smartcal.Calendar, error) {
	if ev.CalendarID == "" {
		return nil, smartcal.NewError(smartcal.KindValidation, "event %s has no calendar", ev.ID)
	}
	cal, err := l.storage.Calendar(ctx, ev.CalendarID)
	if err != nil {
		return nil, fmt.Errorf("getting calendar: %w", err)
	}
	if cal.OwnerID != ev.OwnerID || !cal.CanWrite() {
		return nil, smartcal.NewError(smartcal.KindPermissionDenied, "no write access to calendar %s", cal)
	}
	return cal, nil
}

// Sync writes the event to its external calendar. An event that was synced
// before is updated in place. On failure the stored event is left untouched.
func (l *Lifecycle) Sync(ctx context.Context, ev *smartcal.Event) (*smartcal.Event, error) {
	if ev.Status != smartcal.StatusConfirmed && ev.Status != smartcal.StatusSynced {
		return nil, transitionError(ev.Status, smartcal.StatusSynced)
	}
	cal, err := l.writableCalendar(ctx, ev)
	if err != nil {
		return nil, err
	}
	logger := internal.WithCalendar(l.logger, cal).WithValues("event", ev.ID)

	backend, tok, err := l.backend(ctx, ev.OwnerID, cal)
	if err != nil {
		return nil, err
	}

	var ext *smartcal.ExternalEvent
	if ev.ExternalID != "" {
		ext, err = backend.UpdateEvent(ctx, tok, cal, ev)
	} else {
		ext, err = backend.CreateEvent(ctx, tok, cal, ev)
	}
	if err != nil {
		logger.Error(err, "syncing event")
		return nil, calendarError(err, "syncing event %s", ev.ID)
	}

	now := l.Clock.Now()
	synced := *ev
	synced.Status = smartcal.StatusSynced
	synced.ExternalID = ext.ID
	synced.ExternalPayload = ext.Raw
	synced.LastSyncedAt = &now
	synced.UpdatedAt = now

	if err := l.storage.UpdateEvent(ctx, &synced); err != nil {
		return nil, fmt.Errorf("saving event: %w", err)
	}
	if err := l.storage.SaveCalendarSynced(ctx, cal.ID, now); err != nil {
		logger.Error(err, "updating calendar sync time")
	}

	logger.Info("event synced", "external_id", ext.ID)
	return &synced, nil
}

// Cancel cancels an event from any live state. A synced event is deleted from
// the external calendar first and stays synced if that fails.
func (l *Lifecycle) Cancel(ctx context.Context, ev *smartcal.Event) (*smartcal.Event, error) {
	if ev.Status == smartcal.StatusCancelled {
		return nil, transitionError(ev.Status, smartcal.StatusCancelled)
	}
	logger := l.logger.WithValues("event", ev.ID)

	if ev.Status == smartcal.StatusSynced && ev.ExternalID != "" {
		cal, err := l.storage.Calendar(ctx, ev.CalendarID)
		if err != nil {
			return nil, fmt.Errorf("getting calendar: %w", err)
		}
		backend, tok, err := l.backend(ctx, ev.OwnerID, cal)
		if err != nil {
			return nil, err
		}
		if err := backend.DeleteEvent(ctx, tok, cal, ev.ExternalID); err != nil {
			logger.Error(err, "deleting external event")
			return nil, calendarError(err, "deleting event %s", ev.ID)
		}
	}

	cancelled := *ev
	cancelled.Status = smartcal.StatusCancelled
	cancelled.UpdatedAt = l.Clock.Now()

	err := l.storage.UpdateEvent(ctx, &cancelled)
	if err != nil && !(ev.Status == smartcal.StatusDraft && errors.Is(err, smartcal.ErrNotFound)) {
		return nil, fmt.Errorf("saving event: %w", err)
	}

	logger.Info("event cancelled", "from", ev.Status)
	return &cancelled, nil
}

func (l *Lifecycle) backend(ctx context.Context, ownerID string, cal *smartcal.Calendar) (smartcal.CalendarAPI, *oauth2.Token, error) {
	backend, err := l.backends.Get(cal.Platform)
	if err != nil {
		return nil, nil, smartcal.WrapError(smartcal.KindCalendarAPI, err, "calendar %s", cal)
	}
	if _, ok := backend.(smartcal.Authenticator); !ok {
		return backend, nil, nil
	}
	tok, err := l.tokens.Token(ctx, ownerID, cal.Platform)
	if err != nil {
		return nil, nil, err
	}
	return backend, tok, nil
}

func transitionError(from, to smartcal.Status) error {
	return smartcal.NewError(smartcal.KindInvalidTransition, "can't move event from %s to %s", from, to)
}

// calendarError keeps errors that already carry a kind, so a rate limit hint
// or an expired credential reaches the caller unchanged.
func calendarError(err error, format string, a ...any) error {
	if smartcal.KindOf(err) != "" {
		return fmt.Errorf(format+": %w", append(a, err)...)
	}
	return smartcal.WrapError(smartcal.KindCalendarAPI, err, format, a...)
}

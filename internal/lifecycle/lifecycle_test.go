package lifecycle

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/oauth2"

	"github.com/guilherme-santos/smartcal"
	"github.com/guilherme-santos/smartcal/calendar"
	"github.com/guilherme-santos/smartcal/internal"
	"github.com/guilherme-santos/smartcal/internal/sqlite"
)

var (
	seoul, _ = time.LoadLocation("Asia/Seoul")
	testNow  = time.Date(2024, 1, 15, 9, 0, 0, 0, seoul)
)

type fakeBackend struct {
	mu      sync.Mutex
	created []*smartcal.Event
	updated []*smartcal.Event
	deleted []string
	tokens  []*oauth2.Token
	err     error
}

func (b *fakeBackend) Calendars(context.Context, *oauth2.Token) ([]*smartcal.Calendar, error) {
	return nil, nil
}

func (b *fakeBackend) CreateEvent(_ context.Context, tok *oauth2.Token, _ *smartcal.Calendar, ev *smartcal.Event) (*smartcal.ExternalEvent, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.tokens = append(b.tokens, tok)
	if b.err != nil {
		return nil, b.err
	}
	b.created = append(b.created, ev)
	return &smartcal.ExternalEvent{ID: "ext-1", Raw: []byte(`{"id":"ext-1"}`)}, nil
}

func (b *fakeBackend) UpdateEvent(_ context.Context, tok *oauth2.Token, _ *smartcal.Calendar, ev *smartcal.Event) (*smartcal.ExternalEvent, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.tokens = append(b.tokens, tok)
	if b.err != nil {
		return nil, b.err
	}
	b.updated = append(b.updated, ev)
	return &smartcal.ExternalEvent{ID: ev.ExternalID, Raw: []byte(`{"id":"` + ev.ExternalID + `"}`)}, nil
}

func (b *fakeBackend) DeleteEvent(_ context.Context, tok *oauth2.Token, _ *smartcal.Calendar, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.err != nil {
		return b.err
	}
	b.deleted = append(b.deleted, id)
	return nil
}

// oauthBackend makes the lifecycle ask for a token.
type oauthBackend struct {
	*fakeBackend
}

func (oauthBackend) AuthCodeURL(string) string { return "" }

func (oauthBackend) Exchange(context.Context, string) (*smartcal.Grant, error) { return nil, nil }

func (oauthBackend) Refresh(context.Context, string) (*smartcal.Grant, error) { return nil, nil }

type tokensFunc func(ctx context.Context, ownerID, platform string) (*oauth2.Token, error)

func (f tokensFunc) Token(ctx context.Context, ownerID, platform string) (*oauth2.Token, error) {
	return f(ctx, ownerID, platform)
}

type fixture struct {
	lc      *Lifecycle
	storage *sqlite.Storage
	backend *fakeBackend
	cal     *smartcal.Calendar
}

func newFixture(t *testing.T, perm smartcal.Permission) *fixture {
	t.Helper()
	ctx := context.Background()

	storage, err := sqlite.Open(filepath.Join(t.TempDir(), "smartcal.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { storage.Close() })

	if err := storage.AddUser(ctx, "user-1", "user@example.com", "Asia/Seoul"); err != nil {
		t.Fatal(err)
	}
	cal := &smartcal.Calendar{
		OwnerID:    "user-1",
		Platform:   "timetree",
		ExternalID: "tt-1",
		Name:       "가족",
		Permission: perm,
	}
	if err := storage.SaveCalendar(ctx, cal); err != nil {
		t.Fatal(err)
	}

	backend := &fakeBackend{}
	mux := calendar.NewMux()
	mux.Register("timetree", oauthBackend{backend})

	tokens := tokensFunc(func(_ context.Context, ownerID, platform string) (*oauth2.Token, error) {
		return &oauth2.Token{AccessToken: ownerID + "@" + platform}, nil
	})

	lc := New(storage, mux, tokens, logr.Discard())
	lc.Clock = internal.FixedClock(testNow)
	return &fixture{lc: lc, storage: storage, backend: backend, cal: cal}
}

func (f *fixture) draft(title string, start time.Time, d time.Duration) *smartcal.Event {
	return f.lc.Propose(&smartcal.ParsedEvent{
		Title:         title,
		StartAt:       start,
		EndAt:         start.Add(d),
		StartTimezone: "Asia/Seoul",
		EndTimezone:   "Asia/Seoul",
		Category:      smartcal.CategoryWork,
		Confidence:    0.9,
	}, "user-1", f.cal.ID)
}

func (f *fixture) confirm(t *testing.T, ev *smartcal.Event) (*smartcal.Event, []Conflict) {
	t.Helper()

	confirmed, conflicts, err := f.lc.Confirm(context.Background(), ev)
	if err != nil {
		t.Fatal(err)
	}
	return confirmed, conflicts
}

func TestPropose(t *testing.T) {
	f := newFixture(t, smartcal.PermissionReadWrite)

	start := time.Date(2024, 1, 16, 14, 0, 0, 0, seoul)
	ev := f.draft("팀 회의", start, time.Hour)

	if ev.ID == "" || ev.Status != smartcal.StatusDraft || ev.OwnerID != "user-1" || ev.CalendarID != f.cal.ID {
		t.Errorf("unexpected draft %+v", ev)
	}
	if ev.EndAt == nil || !ev.EndAt.Equal(start.Add(time.Hour)) {
		t.Errorf("unexpected end %v", ev.EndAt)
	}
	if ev.Confidence == nil || *ev.Confidence != 0.9 {
		t.Errorf("unexpected confidence %v", ev.Confidence)
	}
	if !ev.CreatedAt.Equal(testNow) {
		t.Errorf("unexpected created at %v", ev.CreatedAt)
	}
	if _, err := f.storage.Event(context.Background(), ev.ID); !errors.Is(err, smartcal.ErrNotFound) {
		t.Errorf("propose must not store anything, got %v", err)
	}
}

func TestIdempotencyKey(t *testing.T) {
	start := time.Date(2024, 1, 16, 14, 0, 0, 0, seoul)

	k := IdempotencyKey("user-1", "cal-1", "회의", start)
	if k != IdempotencyKey("user-1", "cal-1", "회의", start.UTC()) {
		t.Error("key must not depend on the time zone of start")
	}
	for _, other := range []string{
		IdempotencyKey("user-2", "cal-1", "회의", start),
		IdempotencyKey("user-1", "cal-2", "회의", start),
		IdempotencyKey("user-1", "cal-1", "점심", start),
		IdempotencyKey("user-1", "cal-1", "회의", start.Add(time.Minute)),
	} {
		if other == k {
			t.Error("keys of different events must differ")
		}
	}
}

func TestConfirm(t *testing.T) {
	f := newFixture(t, smartcal.PermissionReadWrite)
	start := time.Date(2024, 1, 16, 14, 0, 0, 0, seoul)

	confirmed, conflicts := f.confirm(t, f.draft("팀 회의", start, time.Hour))
	if confirmed.Status != smartcal.StatusConfirmed || confirmed.ConfirmedAt == nil || confirmed.IdempotencyKey == "" {
		t.Errorf("unexpected confirmed event %+v", confirmed)
	}
	if len(conflicts) != 0 {
		t.Errorf("expected no conflicts, got %d", len(conflicts))
	}

	stored, err := f.storage.Event(context.Background(), confirmed.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != smartcal.StatusConfirmed {
		t.Errorf("unexpected stored status %s", stored.Status)
	}
}

func TestConfirmIsIdempotent(t *testing.T) {
	f := newFixture(t, smartcal.PermissionReadWrite)
	start := time.Date(2024, 1, 16, 14, 0, 0, 0, seoul)

	first, _ := f.confirm(t, f.draft("팀 회의", start, time.Hour))

	// Confirming the stored event again is a no-op.
	again, _ := f.confirm(t, first)
	if again.ID != first.ID {
		t.Errorf("expected %s, got %s", first.ID, again.ID)
	}

	// So is confirming a new draft of the same event.
	dup, conflicts := f.confirm(t, f.draft("팀 회의", start, time.Hour))
	if dup.ID != first.ID {
		t.Errorf("expected %s, got %s", first.ID, dup.ID)
	}
	if len(conflicts) != 0 {
		t.Error("an idempotent confirm reports no conflicts")
	}

	evs, err := f.storage.Events(context.Background(), "user-1", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(evs) != 1 {
		t.Errorf("expected a single stored event, got %d", len(evs))
	}
}

func TestConfirmConcurrent(t *testing.T) {
	f := newFixture(t, smartcal.PermissionReadWrite)
	start := time.Date(2024, 1, 16, 14, 0, 0, 0, seoul)
	draft := f.draft("팀 회의", start, time.Hour)

	const n = 8
	var (
		wg    sync.WaitGroup
		ready = make(chan struct{})
		ids   = make([]string, n)
		errs  = make([]error, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-ready
			ev, _, err := f.lc.Confirm(context.Background(), draft)
			errs[i] = err
			if err == nil {
				ids[i] = ev.ID
			}
		}(i)
	}
	close(ready)
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("confirm %d: %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Errorf("confirm %d returned %s, expected %s", i, ids[i], ids[0])
		}
	}

	evs, err := f.storage.Events(context.Background(), "user-1", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(evs) != 1 {
		t.Errorf("expected a single stored event, got %d", len(evs))
	}
}

func TestConfirmAfterCancelCreatesNewEvent(t *testing.T) {
	f := newFixture(t, smartcal.PermissionReadWrite)
	start := time.Date(2024, 1, 16, 14, 0, 0, 0, seoul)

	first, _ := f.confirm(t, f.draft("팀 회의", start, time.Hour))
	if _, err := f.lc.Cancel(context.Background(), first); err != nil {
		t.Fatal(err)
	}

	second, _ := f.confirm(t, f.draft("팀 회의", start, time.Hour))
	if second.ID == first.ID {
		t.Error("a cancelled event must not absorb a new confirm")
	}
}

func TestConfirmPermissionDenied(t *testing.T) {
	f := newFixture(t, smartcal.PermissionReadOnly)

	_, _, err := f.lc.Confirm(context.Background(), f.draft("회의", testNow, time.Hour))
	if !errors.Is(err, smartcal.ErrPermissionDenied) {
		t.Errorf("expected permission denied, got %v", err)
	}

	other := f.draft("회의", testNow, time.Hour)
	other.OwnerID = "user-2"
	f2 := newFixture(t, smartcal.PermissionAdmin)
	other.CalendarID = f2.cal.ID
	_, _, err = f2.lc.Confirm(context.Background(), other)
	if !errors.Is(err, smartcal.ErrPermissionDenied) {
		t.Errorf("expected permission denied for another owner's calendar, got %v", err)
	}
}

func TestConflicts(t *testing.T) {
	f := newFixture(t, smartcal.PermissionReadWrite)
	day := time.Date(2024, 1, 16, 0, 0, 0, 0, seoul)

	// A 10:00-11:00
	a, conflicts := f.confirm(t, f.draft("A", day.Add(10*time.Hour), time.Hour))
	if len(conflicts) != 0 {
		t.Fatalf("A: expected no conflicts, got %d", len(conflicts))
	}

	// B 10:30-11:30 intersects A.
	_, conflicts = f.confirm(t, f.draft("B", day.Add(10*time.Hour+30*time.Minute), time.Hour))
	if len(conflicts) != 1 || conflicts[0].Event.ID != a.ID {
		t.Fatalf("B: expected a conflict with A, got %+v", conflicts)
	}

	// C 11:30-12:30 only touches B, which ends when C starts.
	_, conflicts = f.confirm(t, f.draft("C", day.Add(11*time.Hour+30*time.Minute), time.Hour))
	if len(conflicts) != 0 {
		t.Fatalf("C: adjacent events don't conflict, got %+v", conflicts)
	}
}

func TestConflictsIgnoreDraftsAndCancelled(t *testing.T) {
	f := newFixture(t, smartcal.PermissionReadWrite)
	start := time.Date(2024, 1, 16, 10, 0, 0, 0, seoul)

	cancelled, _ := f.confirm(t, f.draft("취소된 회의", start, time.Hour))
	if _, err := f.lc.Cancel(context.Background(), cancelled); err != nil {
		t.Fatal(err)
	}

	conflicts, err := f.lc.Conflicts(context.Background(), f.draft("새 회의", start, time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(conflicts) != 0 {
		t.Errorf("cancelled events don't conflict, got %+v", conflicts)
	}
}

func TestConflictsWithRecurringEvent(t *testing.T) {
	f := newFixture(t, smartcal.PermissionReadWrite)

	// Every Tuesday 10:00-11:00 starting 2024-01-02.
	weekly := f.draft("주간 회의", time.Date(2024, 1, 2, 10, 0, 0, 0, seoul), time.Hour)
	weekly.RecurrenceRule = "FREQ=WEEKLY;BYDAY=TU"
	f.confirm(t, weekly)

	tests := []struct {
		name  string
		start time.Time
		want  int
	}{
		{"tuesday overlap", time.Date(2024, 1, 23, 10, 30, 0, 0, seoul), 1},
		{"tuesday after", time.Date(2024, 1, 23, 11, 0, 0, 0, seoul), 0},
		{"wednesday", time.Date(2024, 1, 24, 10, 30, 0, 0, seoul), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conflicts, err := f.lc.Conflicts(context.Background(), f.draft("점심", tt.start, time.Hour))
			if err != nil {
				t.Fatal(err)
			}
			if len(conflicts) != tt.want {
				t.Fatalf("expected %d conflicts, got %+v", tt.want, conflicts)
			}
			if tt.want == 1 && !conflicts[0].Start.Equal(time.Date(2024, 1, 23, 10, 0, 0, 0, seoul)) {
				t.Errorf("unexpected occurrence %v", conflicts[0].Start)
			}
		})
	}
}

func TestOverlaps(t *testing.T) {
	at := func(h int) time.Time { return time.Date(2024, 1, 16, h, 0, 0, 0, seoul) }

	tests := []struct {
		name                       string
		aStart, aEnd, bStart, bEnd time.Time
		want                       bool
	}{
		{"intersecting", at(10), at(12), at(11), at(13), true},
		{"contained", at(10), at(14), at(11), at(12), true},
		{"adjacent", at(10), at(11), at(11), at(12), false},
		{"disjoint", at(10), at(11), at(12), at(13), false},
		{"instant inside", at(11), at(11), at(10), at(12), true},
		{"instant at start", at(10), at(10), at(10), at(12), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Overlaps(tt.aStart, tt.aEnd, tt.bStart, tt.bEnd); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
			if got := Overlaps(tt.bStart, tt.bEnd, tt.aStart, tt.aEnd); got != tt.want {
				t.Errorf("overlap must be symmetric")
			}
		})
	}
}

func TestSync(t *testing.T) {
	f := newFixture(t, smartcal.PermissionReadWrite)
	ctx := context.Background()

	confirmed, _ := f.confirm(t, f.draft("팀 회의", time.Date(2024, 1, 16, 14, 0, 0, 0, seoul), time.Hour))

	synced, err := f.lc.Sync(ctx, confirmed)
	if err != nil {
		t.Fatal(err)
	}
	if synced.Status != smartcal.StatusSynced || synced.ExternalID != "ext-1" || synced.LastSyncedAt == nil {
		t.Errorf("unexpected synced event %+v", synced)
	}
	if string(synced.ExternalPayload) != `{"id":"ext-1"}` {
		t.Errorf("unexpected payload %s", synced.ExternalPayload)
	}
	if len(f.backend.tokens) != 1 || f.backend.tokens[0].AccessToken != "user-1@timetree" {
		t.Errorf("expected the owner's token, got %+v", f.backend.tokens)
	}

	stored, err := f.storage.Event(ctx, confirmed.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != smartcal.StatusSynced || stored.ExternalID != "ext-1" {
		t.Errorf("unexpected stored event %+v", stored)
	}
	cal, _ := f.storage.Calendar(ctx, f.cal.ID)
	if cal.LastSyncedAt == nil {
		t.Error("expected calendar sync time")
	}

	// Syncing again updates the external event.
	if _, err := f.lc.Sync(ctx, synced); err != nil {
		t.Fatal(err)
	}
	if len(f.backend.created) != 1 || len(f.backend.updated) != 1 {
		t.Errorf("expected one create and one update, got %d/%d", len(f.backend.created), len(f.backend.updated))
	}
}

func TestSyncFailureKeepsEventConfirmed(t *testing.T) {
	f := newFixture(t, smartcal.PermissionReadWrite)
	ctx := context.Background()

	confirmed, _ := f.confirm(t, f.draft("팀 회의", time.Date(2024, 1, 16, 14, 0, 0, 0, seoul), time.Hour))

	f.backend.err = &smartcal.Error{Kind: smartcal.KindCalendarAPI, Message: "rate limited", RetryAfter: time.Minute}
	_, err := f.lc.Sync(ctx, confirmed)
	if !errors.Is(err, smartcal.ErrCalendarAPI) {
		t.Fatalf("expected calendar api error, got %v", err)
	}
	if smartcal.RetryAfterOf(err) != time.Minute {
		t.Errorf("retry hint must reach the caller, got %v", smartcal.RetryAfterOf(err))
	}

	f.backend.err = errors.New("connection reset")
	_, err = f.lc.Sync(ctx, confirmed)
	if !errors.Is(err, smartcal.ErrCalendarAPI) {
		t.Fatalf("expected calendar api error, got %v", err)
	}

	stored, err := f.storage.Event(ctx, confirmed.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != smartcal.StatusConfirmed || stored.ExternalID != "" {
		t.Errorf("failed sync must leave the event confirmed, got %+v", stored)
	}
}

func TestSyncCredentialExpired(t *testing.T) {
	f := newFixture(t, smartcal.PermissionReadWrite)
	f.lc.tokens = tokensFunc(func(context.Context, string, string) (*oauth2.Token, error) {
		return nil, smartcal.NewError(smartcal.KindCredentialExpired, "refresh failed")
	})

	confirmed, _ := f.confirm(t, f.draft("팀 회의", time.Date(2024, 1, 16, 14, 0, 0, 0, seoul), time.Hour))
	_, err := f.lc.Sync(context.Background(), confirmed)
	if !errors.Is(err, smartcal.ErrCredentialExpired) {
		t.Fatalf("expected credential expired, got %v", err)
	}
	if len(f.backend.tokens) != 0 {
		t.Error("the backend must not be called without a valid token")
	}
}

func TestSyncRequiresConfirmed(t *testing.T) {
	f := newFixture(t, smartcal.PermissionReadWrite)

	_, err := f.lc.Sync(context.Background(), f.draft("회의", testNow, time.Hour))
	if !errors.Is(err, smartcal.ErrInvalidTransition) {
		t.Errorf("expected invalid transition, got %v", err)
	}
}

func TestCancel(t *testing.T) {
	f := newFixture(t, smartcal.PermissionReadWrite)
	ctx := context.Background()

	draft := f.draft("회의", testNow, time.Hour)
	cancelled, err := f.lc.Cancel(ctx, draft)
	if err != nil {
		t.Fatal(err)
	}
	if cancelled.Status != smartcal.StatusCancelled {
		t.Errorf("unexpected status %s", cancelled.Status)
	}
	if _, err := f.lc.Cancel(ctx, cancelled); !errors.Is(err, smartcal.ErrInvalidTransition) {
		t.Errorf("expected invalid transition, got %v", err)
	}
}

func TestCancelSyncedDeletesExternalEvent(t *testing.T) {
	f := newFixture(t, smartcal.PermissionReadWrite)
	ctx := context.Background()

	confirmed, _ := f.confirm(t, f.draft("팀 회의", time.Date(2024, 1, 16, 14, 0, 0, 0, seoul), time.Hour))
	synced, err := f.lc.Sync(ctx, confirmed)
	if err != nil {
		t.Fatal(err)
	}

	f.backend.err = errors.New("unavailable")
	if _, err := f.lc.Cancel(ctx, synced); !errors.Is(err, smartcal.ErrCalendarAPI) {
		t.Fatalf("expected calendar api error, got %v", err)
	}
	stored, _ := f.storage.Event(ctx, synced.ID)
	if stored.Status != smartcal.StatusSynced {
		t.Errorf("failed delete must leave the event synced, got %s", stored.Status)
	}

	f.backend.err = nil
	cancelled, err := f.lc.Cancel(ctx, synced)
	if err != nil {
		t.Fatal(err)
	}
	if cancelled.Status != smartcal.StatusCancelled {
		t.Errorf("unexpected status %s", cancelled.Status)
	}
	if len(f.backend.deleted) != 1 || f.backend.deleted[0] != "ext-1" {
		t.Errorf("expected external delete, got %v", f.backend.deleted)
	}
}

package lifecycle

import (
	"context"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/guilherme-santos/smartcal"
)

// Conflict is an existing event, or one occurrence of a recurring event,
// that intersects the candidate.
type Conflict struct {
	Event *smartcal.Event `json:"event"`
	Start time.Time       `json:"start"`
	End   time.Time       `json:"end"`
}

// Overlaps reports whether [aStart, aEnd) and [bStart, bEnd) intersect.
// Callers substitute the start for a missing end.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && aEnd.After(bStart)
}

// Conflicts lists the confirmed or synced events of the candidate's calendar
// that intersect it. Recurring events are expanded over the candidate's range.
func (l *Lifecycle) Conflicts(ctx context.Context, ev *smartcal.Event) ([]Conflict, error) {
	start, end := ev.StartAt, ev.End()

	single, err := l.storage.OverlappingEvents(ctx, ev.OwnerID, ev.CalendarID, start, end)
	if err != nil {
		return nil, err
	}
	var conflicts []Conflict
	for _, other := range single {
		if other.ID == ev.ID {
			continue
		}
		conflicts = append(conflicts, Conflict{Event: other, Start: other.StartAt, End: other.End()})
	}

	series, err := l.storage.RecurringEvents(ctx, ev.OwnerID, ev.CalendarID, end)
	if err != nil {
		return nil, err
	}
	for _, other := range series {
		if other.ID == ev.ID {
			continue
		}
		for _, occ := range occurrences(other, start, end) {
			conflicts = append(conflicts, Conflict{Event: other, Start: occ, End: occ.Add(other.Duration())})
		}
	}
	return conflicts, nil
}

// occurrences returns the starts of the series occurrences intersecting
// [start, end). A rule that doesn't parse yields nothing.
func occurrences(series *smartcal.Event, start, end time.Time) []time.Time {
	opt, err := rrule.StrToROption(series.RecurrenceRule)
	if err != nil {
		return nil
	}
	// BYDAY and friends are relative to the series' own timezone.
	dtstart := series.StartAt
	if loc, err := time.LoadLocation(series.Timezone); err == nil && series.Timezone != "" {
		dtstart = dtstart.In(loc)
	}
	opt.Dtstart = dtstart

	rule, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil
	}

	d := series.Duration()
	var res []time.Time
	for _, occ := range rule.Between(start.Add(-d), end, true) {
		if Overlaps(occ, occ.Add(d), start, end) {
			res = append(res, occ)
		}
	}
	return res
}

package google

import (
	"encoding/json"
	"time"

	"google.golang.org/api/calendar/v3"

	"github.com/guilherme-santos/smartcal"
)

func newExternalEvent(event *calendar.Event) (*smartcal.ExternalEvent, error) {
	raw, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	return &smartcal.ExternalEvent{ID: event.Id, Raw: raw}, nil
}

func newGoogleEvent(event *smartcal.Event) *calendar.Event {
	gevent := &calendar.Event{
		Summary:     event.Title,
		Description: event.Description,
		Location:    event.Location,
		Reminders: &calendar.EventReminders{
			UseDefault: true,
		},
	}
	if event.RecurrenceRule != "" {
		gevent.Recurrence = []string{"RRULE:" + event.RecurrenceRule}
	}

	tz := event.Timezone
	if tz == "" {
		tz = smartcal.DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc = time.UTC
	}
	start := event.StartAt.In(loc)
	end := event.End().In(loc)

	if event.AllDay {
		// Google's all day end date is exclusive.
		endDate := smartcal.NewDateFromTime(end).AddDate(0, 0, 1)
		gevent.Start = &calendar.EventDateTime{Date: smartcal.NewDateFromTime(start).String()}
		gevent.End = &calendar.EventDateTime{Date: endDate.String()}
		return gevent
	}

	gevent.Start = &calendar.EventDateTime{
		DateTime: start.Format(time.RFC3339),
		TimeZone: tz,
	}
	gevent.End = &calendar.EventDateTime{
		DateTime: end.Format(time.RFC3339),
		TimeZone: tz,
	}
	return gevent
}

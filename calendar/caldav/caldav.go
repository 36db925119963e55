// Package caldav stores events on any CalDAV server. Every configured server
// is registered as its own platform.
package caldav

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"
	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/guilherme-santos/smartcal"
	"github.com/guilherme-santos/smartcal/internal"
)

const productID = "-//smartcal//smartcal//EN"

type Config struct {
	URL      string
	Username string
	Password string
	// HomeSet skips principal discovery when set.
	HomeSet string

	HTTPClient *http.Client
}

type Client struct {
	name    string
	client  *caldav.Client
	homeSet string
	logger  logr.Logger

	Clock internal.Clock
}

func NewClient(name string, cfg Config, logger logr.Logger) (*Client, error) {
	baseURL, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("caldav: invalid server URL: %w", err)
	}

	var httpClient webdav.HTTPClient = http.DefaultClient
	if cfg.HTTPClient != nil {
		httpClient = cfg.HTTPClient
	}
	if cfg.Username != "" && cfg.Password != "" {
		httpClient = webdav.HTTPClientWithBasicAuth(httpClient, cfg.Username, cfg.Password)
	}

	c, err := caldav.NewClient(httpClient, baseURL.String())
	if err != nil {
		return nil, fmt.Errorf("caldav: creating client: %w", err)
	}
	return &Client{
		name:    name,
		client:  c,
		homeSet: cfg.HomeSet,
		logger:  logger.WithName(name),
	}, nil
}

// Calendars lists the calendars of the home set. CalDAV has no notion of a
// default calendar, so the first one found is used.
func (c *Client) Calendars(ctx context.Context, _ *oauth2.Token) ([]*smartcal.Calendar, error) {
	homeSet, err := c.findHomeSet(ctx)
	if err != nil {
		return nil, err
	}
	found, err := c.client.FindCalendars(ctx, homeSet)
	if err != nil {
		return nil, smartcal.WrapError(smartcal.KindCalendarAPI, err, "caldav: finding calendars")
	}

	cals := make([]*smartcal.Calendar, 0, len(found))
	for i, cal := range found {
		name := cal.Name
		if name == "" {
			name = cal.Path
		}
		cals = append(cals, &smartcal.Calendar{
			Platform:   c.name,
			ExternalID: cal.Path,
			Name:       name,
			Permission: smartcal.PermissionReadWrite,
			IsDefault:  i == 0,
		})
	}
	return cals, nil
}

func (c *Client) findHomeSet(ctx context.Context) (string, error) {
	if c.homeSet != "" {
		return c.homeSet, nil
	}
	principal, err := c.client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return "", smartcal.WrapError(smartcal.KindCalendarAPI, err, "caldav: finding principal")
	}
	homeSet, err := c.client.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return "", smartcal.WrapError(smartcal.KindCalendarAPI, err, "caldav: finding calendar home set")
	}
	c.homeSet = homeSet
	return homeSet, nil
}

func (c *Client) CreateEvent(ctx context.Context, _ *oauth2.Token, cal *smartcal.Calendar, ev *smartcal.Event) (*smartcal.ExternalEvent, error) {
	uid := uuid.NewString()
	ext, err := c.put(ctx, cal, uid, ev)
	if err != nil {
		return nil, err
	}
	internal.WithCalendar(c.logger, cal).Info("event created", "event_id", uid)
	return ext, nil
}

func (c *Client) UpdateEvent(ctx context.Context, _ *oauth2.Token, cal *smartcal.Calendar, ev *smartcal.Event) (*smartcal.ExternalEvent, error) {
	if ev.ExternalID == "" {
		return nil, smartcal.NewError(smartcal.KindCalendarAPI, "caldav: event %s was never synced", ev.ID)
	}
	ext, err := c.put(ctx, cal, ev.ExternalID, ev)
	if err != nil {
		return nil, err
	}
	internal.WithCalendar(c.logger, cal).Info("event updated", "event_id", ev.ExternalID)
	return ext, nil
}

func (c *Client) put(ctx context.Context, cal *smartcal.Calendar, uid string, ev *smartcal.Event) (*smartcal.ExternalEvent, error) {
	obj, err := c.client.PutCalendarObject(ctx, objectPath(cal, uid), newICalendar(uid, ev, c.Clock.Now()))
	if err != nil {
		return nil, smartcal.WrapError(smartcal.KindCalendarAPI, err, "caldav: writing event")
	}
	raw, _ := json.Marshal(map[string]string{
		"path": obj.Path,
		"etag": obj.ETag,
	})
	return &smartcal.ExternalEvent{ID: uid, Raw: raw}, nil
}

func (c *Client) DeleteEvent(ctx context.Context, _ *oauth2.Token, cal *smartcal.Calendar, uid string) error {
	err := c.client.RemoveAll(ctx, objectPath(cal, uid))
	if err != nil && !alreadyDeleted(err) {
		return smartcal.WrapError(smartcal.KindCalendarAPI, err, "caldav: deleting event")
	}
	internal.WithCalendar(c.logger, cal).Info("event deleted", "event_id", uid)
	return nil
}

// go-webdav keeps its HTTP error type internal; its message starts with the status code.
func alreadyDeleted(err error) bool {
	return strings.Contains(err.Error(), "404")
}

func objectPath(cal *smartcal.Calendar, uid string) string {
	return strings.TrimRight(cal.ExternalID, "/") + "/" + uid + ".ics"
}

func newICalendar(uid string, ev *smartcal.Event, now time.Time) *ical.Calendar {
	event := ical.NewEvent()
	props := event.Props
	props.SetText(ical.PropUID, uid)
	props.SetDateTime(ical.PropDateTimeStamp, now.UTC())
	props.SetText(ical.PropSummary, ev.Title)
	if ev.Description != "" {
		props.SetText(ical.PropDescription, ev.Description)
	}
	if ev.Location != "" {
		props.SetText(ical.PropLocation, ev.Location)
	}
	props.SetText(ical.PropCategories, strings.ToUpper(ev.Category.String()))
	props.SetText(ical.PropStatus, "CONFIRMED")

	if ev.AllDay {
		start := smartcal.NewDateFromTime(localTime(ev.StartAt, ev.Timezone))
		end := smartcal.NewDateFromTime(localTime(ev.End(), ev.Timezone)).AddDate(0, 0, 1)
		props.SetDate(ical.PropDateTimeStart, start.Time)
		props.SetDate(ical.PropDateTimeEnd, end.Time)
	} else {
		props.SetDateTime(ical.PropDateTimeStart, ev.StartAt.UTC())
		if ev.EndAt != nil {
			props.SetDateTime(ical.PropDateTimeEnd, ev.EndAt.UTC())
		}
	}

	if ev.RecurrenceRule != "" {
		// SetText would escape the separators of the rule.
		rule := ical.NewProp(ical.PropRecurrenceRule)
		rule.Value = ev.RecurrenceRule
		props.Set(rule)
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)
	cal.Children = append(cal.Children, event.Component)
	return cal
}

func localTime(t time.Time, tz string) time.Time {
	if tz == "" {
		tz = smartcal.DefaultTimezone
	}
	if loc, err := time.LoadLocation(tz); err == nil {
		return t.In(loc)
	}
	return t
}

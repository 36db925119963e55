package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/guilherme-santos/smartcal"
	"github.com/guilherme-santos/smartcal/internal"
)

const Platform = "google"

// defaultRetryAfter is the hint attached to rateLimitExceeded failures.
const defaultRetryAfter = 5 * time.Second

type Config struct {
	// CredentialsJSON is the OAuth client file downloaded from the Google console.
	CredentialsJSON []byte
	// Endpoint overrides the Calendar API base path.
	Endpoint   string
	HTTPClient *http.Client
}

type Client struct {
	oauthCfg   *oauth2.Config
	endpoint   string
	httpClient *http.Client
	logger     logr.Logger

	Clock internal.Clock
}

func NewClient(cfg Config, logger logr.Logger) (*Client, error) {
	oauthCfg, err := google.ConfigFromJSON(cfg.CredentialsJSON, calendar.CalendarScope)
	if err != nil {
		return nil, fmt.Errorf("google: parsing credentials file: %v", err)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		oauthCfg:   oauthCfg,
		endpoint:   cfg.Endpoint,
		httpClient: httpClient,
		logger:     logger.WithName(Platform),
	}, nil
}

func (c *Client) AuthCodeURL(state string) string {
	return c.oauthCfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

func (c *Client) Exchange(ctx context.Context, code string) (*smartcal.Grant, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	tok, err := c.oauthCfg.Exchange(ctx, code)
	if err != nil {
		return nil, smartcal.WrapError(smartcal.KindCalendarAPI, err, "google: exchanging authorization code")
	}
	g := smartcal.NewGrant(tok, c.Clock.Now())
	return &g, nil
}

func (c *Client) Refresh(ctx context.Context, refreshToken string) (*smartcal.Grant, error) {
	if refreshToken == "" {
		return nil, smartcal.NewError(smartcal.KindCredentialExpired, "google: no refresh token")
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	tok, err := c.oauthCfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, smartcal.WrapError(smartcal.KindCredentialExpired, err, "google: refreshing access token")
	}
	g := smartcal.NewGrant(tok, c.Clock.Now())
	return &g, nil
}

func (c *Client) Calendars(ctx context.Context, tok *oauth2.Token) ([]*smartcal.Calendar, error) {
	svc, err := c.calendarSvc(ctx, tok)
	if err != nil {
		return nil, err
	}

	var cals []*smartcal.Calendar
	err = svc.CalendarList.List().Context(ctx).Pages(ctx, func(list *calendar.CalendarList) error {
		for _, item := range list.Items {
			cals = append(cals, &smartcal.Calendar{
				Platform:   Platform,
				ExternalID: item.Id,
				Name:       item.Summary,
				Permission: permission(item.AccessRole),
				IsDefault:  item.Primary,
			})
		}
		return nil
	})
	if err != nil {
		return nil, mapError(err, "listing calendars")
	}
	c.logger.V(1).Info("calendars listed", "count", len(cals))
	return cals, nil
}

func permission(accessRole string) smartcal.Permission {
	switch accessRole {
	case "owner":
		return smartcal.PermissionAdmin
	case "writer":
		return smartcal.PermissionReadWrite
	}
	return smartcal.PermissionReadOnly
}

func (c *Client) CreateEvent(ctx context.Context, tok *oauth2.Token, cal *smartcal.Calendar, ev *smartcal.Event) (*smartcal.ExternalEvent, error) {
	logger := internal.WithCalendar(c.logger, cal).WithValues("title", ev.Title, "start", ev.StartAt)

	svc, err := c.calendarSvc(ctx, tok)
	if err != nil {
		return nil, err
	}
	gevent, err := svc.Events.Insert(cal.ExternalID, newGoogleEvent(ev)).Context(ctx).Do()
	if err != nil {
		logger.Error(err, "creating event")
		return nil, mapError(err, "creating event")
	}
	logger.Info("event created", "event_id", gevent.Id)
	return newExternalEvent(gevent)
}

func (c *Client) UpdateEvent(ctx context.Context, tok *oauth2.Token, cal *smartcal.Calendar, ev *smartcal.Event) (*smartcal.ExternalEvent, error) {
	if ev.ExternalID == "" {
		return nil, smartcal.NewError(smartcal.KindCalendarAPI, "google: event %s was never synced", ev.ID)
	}
	logger := internal.WithCalendar(c.logger, cal).WithValues("title", ev.Title, "start", ev.StartAt)

	svc, err := c.calendarSvc(ctx, tok)
	if err != nil {
		return nil, err
	}
	gevent, err := svc.Events.Update(cal.ExternalID, ev.ExternalID, newGoogleEvent(ev)).Context(ctx).Do()
	if err != nil {
		logger.Error(err, "updating event")
		return nil, mapError(err, "updating event")
	}
	logger.Info("event updated", "event_id", gevent.Id)
	return newExternalEvent(gevent)
}

func (c *Client) DeleteEvent(ctx context.Context, tok *oauth2.Token, cal *smartcal.Calendar, id string) error {
	logger := internal.WithCalendar(c.logger, cal).WithValues("event_id", id)

	svc, err := c.calendarSvc(ctx, tok)
	if err != nil {
		return err
	}
	err = svc.Events.Delete(cal.ExternalID, id).Context(ctx).Do()
	if err != nil && !alreadyDeleted(err) {
		logger.Error(err, "deleting event")
		return mapError(err, "deleting event")
	}
	logger.Info("event deleted")
	return nil
}

func (c *Client) calendarSvc(ctx context.Context, tok *oauth2.Token) (*calendar.Service, error) {
	if tok == nil || tok.AccessToken == "" {
		return nil, smartcal.NewError(smartcal.KindCredentialExpired, "google: access token is required")
	}
	// The vault refreshes tokens, so the transport only has to attach them.
	hc := oauth2.NewClient(context.WithValue(ctx, oauth2.HTTPClient, c.httpClient), oauth2.StaticTokenSource(tok))
	opts := []option.ClientOption{option.WithHTTPClient(hc)}
	if c.endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.endpoint))
	}
	return calendar.NewService(ctx, opts...)
}

func mapError(err error, op string) error {
	e := smartcal.WrapError(smartcal.KindCalendarAPI, err, "google: %s", op)
	if shouldRetry(err) {
		e.RetryAfter = defaultRetryAfter
	}
	return e
}

func shouldRetry(err error) bool {
	return errIsReason(err, "rateLimitExceeded")
}

func alreadyDeleted(err error) bool {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) && (gErr.Code == http.StatusNotFound || gErr.Code == http.StatusGone) {
		return true
	}
	return errIsReason(err, "deleted")
}

func errIsReason(err error, reason string) bool {
	var gErr *googleapi.Error
	if !errors.As(err, &gErr) {
		return false
	}

	for _, err := range gErr.Errors {
		switch err.Reason {
		case reason:
			return true
		}
	}
	return false
}

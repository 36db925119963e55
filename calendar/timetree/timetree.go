// Package timetree talks to the TimeTree REST API and its OAuth endpoints.
package timetree

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/oauth2"

	"github.com/guilherme-santos/smartcal"
	"github.com/guilherme-santos/smartcal/internal"
)

const (
	Platform = "timetree"

	DefaultBaseURL  = "https://timetreeapi.com/api/v1"
	DefaultAuthURL  = "https://timetreeapp.com/oauth/authorize"
	DefaultTokenURL = "https://timetreeapp.com/oauth/token"

	// DefaultRetryAfter is used when a 429 comes without a usable Retry-After.
	DefaultRetryAfter = 60 * time.Second
	DefaultTimeout    = 10 * time.Second

	// TimeTree only accepts "schedule" and "keep", so our categories can't be
	// mapped onto it. Everything we create is a schedule.
	categorySchedule = "schedule"
)

type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	BaseURL  string
	AuthURL  string
	TokenURL string
	Timeout  time.Duration

	HTTPClient *http.Client
}

type Client struct {
	oauthCfg   *oauth2.Config
	baseURL    string
	httpClient *http.Client
	logger     logr.Logger

	Clock internal.Clock
}

func NewClient(cfg Config, logger logr.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.AuthURL == "" {
		cfg.AuthURL = DefaultAuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		oauthCfg: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{"read", "write"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
		logger:     logger.WithName(Platform),
	}
}

func (c *Client) AuthCodeURL(state string) string {
	return c.oauthCfg.AuthCodeURL(state)
}

func (c *Client) Exchange(ctx context.Context, code string) (*smartcal.Grant, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	tok, err := c.oauthCfg.Exchange(ctx, code)
	if err != nil {
		return nil, smartcal.WrapError(smartcal.KindCalendarAPI, err, "timetree: exchanging authorization code")
	}
	g := smartcal.NewGrant(tok, c.Clock.Now())
	c.logger.Info("authorization code exchanged", "expires_in", g.ExpiresIn)
	return &g, nil
}

func (c *Client) Refresh(ctx context.Context, refreshToken string) (*smartcal.Grant, error) {
	if refreshToken == "" {
		return nil, smartcal.NewError(smartcal.KindCredentialExpired, "timetree: no refresh token")
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	// An empty access token forces the token source to hit the token endpoint.
	tok, err := c.oauthCfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, smartcal.WrapError(smartcal.KindCredentialExpired, err, "timetree: refreshing access token")
	}
	g := smartcal.NewGrant(tok, c.Clock.Now())
	c.logger.Info("access token refreshed", "expires_in", g.ExpiresIn)
	return &g, nil
}

type resource struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Attributes json.RawMessage `json:"attributes"`
}

type calendarAttributes struct {
	Name       string `json:"name"`
	Order      int    `json:"order"`
	Permission string `json:"permission"`
}

func (c *Client) Calendars(ctx context.Context, tok *oauth2.Token) ([]*smartcal.Calendar, error) {
	var resp struct {
		Data []resource `json:"data"`
	}
	if err := c.do(ctx, tok, http.MethodGet, "/calendars", nil, &resp); err != nil {
		return nil, err
	}

	cals := make([]*smartcal.Calendar, 0, len(resp.Data))
	for _, r := range resp.Data {
		var attrs calendarAttributes
		if err := json.Unmarshal(r.Attributes, &attrs); err != nil {
			return nil, smartcal.WrapError(smartcal.KindCalendarAPI, err, "timetree: decoding calendar %s", r.ID)
		}
		cals = append(cals, &smartcal.Calendar{
			Platform:   Platform,
			ExternalID: r.ID,
			Name:       attrs.Name,
			Permission: permission(attrs.Permission),
			IsDefault:  attrs.Order == 0,
		})
	}
	c.logger.V(1).Info("calendars listed", "count", len(cals))
	return cals, nil
}

func permission(s string) smartcal.Permission {
	switch p := smartcal.Permission(s); p {
	case smartcal.PermissionReadOnly, smartcal.PermissionReadWrite, smartcal.PermissionAdmin:
		return p
	}
	// Calendars listed for the token owner are writable unless told otherwise.
	return smartcal.PermissionReadWrite
}

type eventAttributes struct {
	Title         string `json:"title"`
	Category      string `json:"category"`
	AllDay        bool   `json:"all_day"`
	StartAt       string `json:"start_at"`
	StartTimezone string `json:"start_timezone"`
	EndAt         string `json:"end_at,omitempty"`
	EndTimezone   string `json:"end_timezone,omitempty"`
	Description   string `json:"description,omitempty"`
	Location      string `json:"location,omitempty"`
}

type eventPayload struct {
	Data struct {
		Attributes eventAttributes `json:"attributes"`
	} `json:"data"`
}

func newEventPayload(ev *smartcal.Event) eventPayload {
	tz := ev.Timezone
	if tz == "" {
		tz = smartcal.DefaultTimezone
	}

	attrs := eventAttributes{
		Title:         ev.Title,
		Category:      categorySchedule,
		AllDay:        ev.AllDay,
		StartTimezone: tz,
		Description:   ev.Description,
		Location:      ev.Location,
	}
	if ev.AllDay {
		// All day events are midnight UTC of the local date.
		attrs.StartAt = allDay(ev.StartAt, tz)
		attrs.StartTimezone = "UTC"
	} else {
		attrs.StartAt = ev.StartAt.Format(time.RFC3339)
		if ev.EndAt != nil {
			attrs.EndAt = ev.EndAt.Format(time.RFC3339)
			attrs.EndTimezone = tz
		}
	}

	var p eventPayload
	p.Data.Attributes = attrs
	return p
}

func allDay(t time.Time, tz string) string {
	if loc, err := time.LoadLocation(tz); err == nil {
		t = t.In(loc)
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).Format(time.RFC3339)
}

func (c *Client) CreateEvent(ctx context.Context, tok *oauth2.Token, cal *smartcal.Calendar, ev *smartcal.Event) (*smartcal.ExternalEvent, error) {
	path := fmt.Sprintf("/calendars/%s/events", cal.ExternalID)
	ext, err := c.writeEvent(ctx, tok, http.MethodPost, path, ev)
	if err != nil {
		return nil, err
	}
	internal.WithCalendar(c.logger, cal).Info("event created", "event_id", ext.ID)
	return ext, nil
}

func (c *Client) UpdateEvent(ctx context.Context, tok *oauth2.Token, cal *smartcal.Calendar, ev *smartcal.Event) (*smartcal.ExternalEvent, error) {
	if ev.ExternalID == "" {
		return nil, smartcal.NewError(smartcal.KindCalendarAPI, "timetree: event %s was never synced", ev.ID)
	}
	path := fmt.Sprintf("/calendars/%s/events/%s", cal.ExternalID, ev.ExternalID)
	ext, err := c.writeEvent(ctx, tok, http.MethodPut, path, ev)
	if err != nil {
		return nil, err
	}
	internal.WithCalendar(c.logger, cal).Info("event updated", "event_id", ext.ID)
	return ext, nil
}

func (c *Client) writeEvent(ctx context.Context, tok *oauth2.Token, method, path string, ev *smartcal.Event) (*smartcal.ExternalEvent, error) {
	var resp struct {
		Data json.RawMessage `json:"data"`
	}
	if err := c.do(ctx, tok, method, path, newEventPayload(ev), &resp); err != nil {
		return nil, err
	}
	var r resource
	if err := json.Unmarshal(resp.Data, &r); err != nil || r.ID == "" {
		return nil, smartcal.NewError(smartcal.KindCalendarAPI, "timetree: response carries no event id")
	}
	return &smartcal.ExternalEvent{ID: r.ID, Raw: resp.Data}, nil
}

// DeleteEvent treats an event that is already gone as deleted.
func (c *Client) DeleteEvent(ctx context.Context, tok *oauth2.Token, cal *smartcal.Calendar, externalID string) error {
	path := fmt.Sprintf("/calendars/%s/events/%s", cal.ExternalID, externalID)
	err := c.do(ctx, tok, http.MethodDelete, path, nil, nil)
	if err != nil && !alreadyDeleted(err) {
		return err
	}
	internal.WithCalendar(c.logger, cal).Info("event deleted", "event_id", externalID)
	return nil
}

type statusError struct {
	Code int
}

func (e *statusError) Error() string {
	return "http status " + strconv.Itoa(e.Code)
}

func alreadyDeleted(err error) bool {
	var se *statusError
	return errors.As(err, &se) && se.Code == http.StatusNotFound
}

type errorBody struct {
	Message string `json:"message"`
	Title   string `json:"title"`
}

func (c *Client) do(ctx context.Context, tok *oauth2.Token, method, path string, body, out any) error {
	if tok == nil || tok.AccessToken == "" {
		return smartcal.NewError(smartcal.KindCredentialExpired, "timetree: access token is required")
	}

	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("timetree: encoding request: %w", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return fmt.Errorf("timetree: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	tok.SetAuthHeader(req)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return smartcal.WrapError(smartcal.KindCalendarAPI, err, "timetree: %s %s", method, path)
	}
	defer resp.Body.Close()

	c.logger.V(1).Info("request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"latency", time.Since(start),
		"rate_limit_remaining", resp.Header.Get("X-RateLimit-Remaining"),
	)

	if resp.StatusCode == http.StatusTooManyRequests {
		retry := internal.ParseRetryAfter(resp.Header.Get("Retry-After"))
		if retry <= 0 {
			retry = DefaultRetryAfter
		}
		return &smartcal.Error{
			Kind:       smartcal.KindCalendarAPI,
			Message:    "timetree: rate limited",
			RetryAfter: retry,
			Err:        &statusError{Code: resp.StatusCode},
		}
	}
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		var eb errorBody
		_ = json.Unmarshal(b, &eb)
		msg := eb.Message
		if msg == "" {
			msg = eb.Title
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return smartcal.WrapError(smartcal.KindCalendarAPI, &statusError{Code: resp.StatusCode}, "timetree: %s %s: %s", method, path, msg)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return smartcal.WrapError(smartcal.KindCalendarAPI, err, "timetree: decoding response")
	}
	return nil
}

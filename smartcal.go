package smartcal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	_ "time/tzdata"

	"golang.org/x/oauth2"
)

// DefaultTimezone is used whenever a request or a provider response omits one.
const DefaultTimezone = "Asia/Seoul"

// ParseRequest is built once per parse call and never mutated.
type ParseRequest struct {
	Text              string
	Timezone          string
	DefaultCalendarID string
	Preferences       map[string]string
	Now               time.Time
}

// Location resolves the request timezone, falling back to DefaultTimezone.
func (r ParseRequest) Location() (*time.Location, error) {
	tz := r.Timezone
	if tz == "" {
		tz = DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", tz, err)
	}
	return loc, nil
}

// ContextFields returns the request context that takes part in cache keys.
// Preferences are prefixed with "pref." so they can't shadow fixed fields.
func (r ParseRequest) ContextFields() map[string]string {
	fields := map[string]string{
		"timezone": r.Timezone,
	}
	if r.DefaultCalendarID != "" {
		fields["default_calendar_id"] = r.DefaultCalendarID
	}
	if !r.Now.IsZero() {
		now := r.Now
		if loc, err := r.Location(); err == nil {
			now = now.In(loc)
		}
		fields["date"] = NewDateFromTime(now).String()
	}
	for k, v := range r.Preferences {
		fields["pref."+k] = v
	}
	return fields
}

// Prompt is what a provider receives: a fixed system instruction and the user message.
type Prompt struct {
	System string
	User   string
}

// Completion is the raw provider answer before any JSON handling.
type Completion struct {
	Text             string
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// Provider is a single AI parsing backend. Each variant performs exactly one
// request per Complete call; retries and fallback belong to the caller.
type Provider interface {
	Name() string
	Model() string
	Complete(context.Context, Prompt) (*Completion, error)
}

// Cache maps a derived key to a previously validated parse.
// Get returns ErrCacheMiss when nothing usable is stored.
type Cache interface {
	Get(_ context.Context, key string) (*ParsedEvent, error)
	Set(_ context.Context, key string, _ *ParsedEvent, ttl time.Duration) error
}

type Permission string

func (p Permission) String() string {
	return string(p)
}

const (
	PermissionReadOnly  Permission = "read_only"
	PermissionReadWrite Permission = "read_write"
	PermissionAdmin     Permission = "admin"
)

type Calendar struct {
	ID           string     `json:"id"`
	OwnerID      string     `json:"owner_id"`
	Platform     string     `json:"platform"`
	ExternalID   string     `json:"external_id"`
	Name         string     `json:"name"`
	Permission   Permission `json:"permission"`
	IsDefault    bool       `json:"is_default"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
}

func (c Calendar) String() string {
	return fmt.Sprintf("%s/%s", c.Platform, c.ExternalID)
}

func (c Calendar) CanWrite() bool {
	return c.Permission == PermissionReadWrite || c.Permission == PermissionAdmin
}

func (c Calendar) CanAdmin() bool {
	return c.Permission == PermissionAdmin
}

// Grant is an OAuth token endpoint response. ExpiresIn is in seconds;
// zero means the endpoint did not report an expiry.
type Grant struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
}

// NewGrant converts an oauth2 token, measuring the remaining lifetime against now.
func NewGrant(tok *oauth2.Token, now time.Time) Grant {
	g := Grant{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		g.Scope = scope
	}
	if !tok.Expiry.IsZero() {
		g.ExpiresIn = int64(tok.Expiry.Sub(now).Seconds())
		if g.ExpiresIn == 0 {
			// zero is reserved for "no expiry"
			g.ExpiresIn = -1
		}
	}
	return g
}

// Credential is a stored OAuth grant. Both tokens are ciphertext; only the
// vault is able to read them.
type Credential struct {
	ID                    string
	OwnerID               string
	Platform              string
	EncryptedAccessToken  string
	EncryptedRefreshToken string
	TokenType             string
	Scope                 string
	ExpiresAt             *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

func (c Credential) Expired(now time.Time) bool {
	if c.ExpiresAt == nil {
		return false
	}
	return !now.Before(*c.ExpiresAt)
}

func (c Credential) ExpiringSoon(now time.Time, window time.Duration) bool {
	if c.ExpiresAt == nil {
		return false
	}
	return !c.ExpiresAt.After(now.Add(window))
}

// ExternalEvent is what a calendar backend returns after a write.
type ExternalEvent struct {
	ID  string
	Raw json.RawMessage
}

// CalendarAPI is one external calendar backend. tok is nil for backends that
// don't authenticate with OAuth.
type CalendarAPI interface {
	Calendars(_ context.Context, tok *oauth2.Token) ([]*Calendar, error)
	CreateEvent(_ context.Context, tok *oauth2.Token, _ *Calendar, _ *Event) (*ExternalEvent, error)
	UpdateEvent(_ context.Context, tok *oauth2.Token, _ *Calendar, _ *Event) (*ExternalEvent, error)
	DeleteEvent(_ context.Context, tok *oauth2.Token, _ *Calendar, externalID string) error
}

// Authenticator is implemented by backends that use OAuth.
type Authenticator interface {
	AuthCodeURL(state string) string
	Exchange(_ context.Context, code string) (*Grant, error)
	Refresh(_ context.Context, refreshToken string) (*Grant, error)
}

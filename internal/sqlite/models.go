package sqlite

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/guilherme-santos/smartcal"
)

const timeLayout = time.RFC3339Nano

type Calendar struct {
	ID           string
	OwnerID      string `db:"owner_id"`
	Platform     string
	ExternalID   string `db:"external_id"`
	Name         string
	Permission   string
	IsDefault    bool           `db:"is_default"`
	LastSyncedAt sql.NullString `db:"last_synced_at"`
}

func newCalendar(c *smartcal.Calendar) Calendar {
	return Calendar{
		ID:           c.ID,
		OwnerID:      c.OwnerID,
		Platform:     c.Platform,
		ExternalID:   c.ExternalID,
		Name:         c.Name,
		Permission:   string(c.Permission),
		IsDefault:    c.IsDefault,
		LastSyncedAt: nullTime(c.LastSyncedAt),
	}
}

func (c Calendar) Convert() *smartcal.Calendar {
	return &smartcal.Calendar{
		ID:           c.ID,
		OwnerID:      c.OwnerID,
		Platform:     c.Platform,
		ExternalID:   c.ExternalID,
		Name:         c.Name,
		Permission:   smartcal.Permission(c.Permission),
		IsDefault:    c.IsDefault,
		LastSyncedAt: timePtr(c.LastSyncedAt),
	}
}

type Event struct {
	ID              string
	OwnerID         string         `db:"owner_id"`
	CalendarID      sql.NullString `db:"calendar_id"`
	ExternalID      string         `db:"external_id"`
	Title           string
	Description     string
	Location        string
	StartAt         string         `db:"start_at"`
	StartTS         int64          `db:"start_ts"`
	EndAt           sql.NullString `db:"end_at"`
	EndTS           sql.NullInt64  `db:"end_ts"`
	AllDay          bool           `db:"all_day"`
	Timezone        string
	Category        string
	RecurrenceRule  string `db:"recurrence_rule"`
	Labels          string
	OriginalInput   string          `db:"original_input"`
	Confidence      sql.NullFloat64 `db:"confidence"`
	ParsedElements  sql.NullString  `db:"parsed_elements"`
	Status          string
	IdempotencyKey  string         `db:"idempotency_key"`
	ExternalPayload sql.NullString `db:"external_payload"`
	CreatedAt       string         `db:"created_at"`
	UpdatedAt       string         `db:"updated_at"`
	ConfirmedAt     sql.NullString `db:"confirmed_at"`
	LastSyncedAt    sql.NullString `db:"last_synced_at"`
}

func newEvent(e *smartcal.Event) Event {
	labels := e.Labels
	if labels == nil {
		labels = []string{}
	}
	labelsJSON, _ := json.Marshal(labels)

	ev := Event{
		ID:              e.ID,
		OwnerID:         e.OwnerID,
		CalendarID:      nullString(e.CalendarID),
		ExternalID:      e.ExternalID,
		Title:           e.Title,
		Description:     e.Description,
		Location:        e.Location,
		StartAt:         e.StartAt.Format(timeLayout),
		StartTS:         e.StartAt.Unix(),
		EndAt:           nullTime(e.EndAt),
		AllDay:          e.AllDay,
		Timezone:        e.Timezone,
		Category:        string(e.Category),
		RecurrenceRule:  e.RecurrenceRule,
		Labels:          string(labelsJSON),
		OriginalInput:   e.OriginalInput,
		ParsedElements:  nullString(string(e.ParsedElements)),
		Status:          string(e.Status),
		IdempotencyKey:  e.IdempotencyKey,
		ExternalPayload: nullString(string(e.ExternalPayload)),
		CreatedAt:       e.CreatedAt.Format(timeLayout),
		UpdatedAt:       e.UpdatedAt.Format(timeLayout),
		ConfirmedAt:     nullTime(e.ConfirmedAt),
		LastSyncedAt:    nullTime(e.LastSyncedAt),
	}
	if e.EndAt != nil {
		ev.EndTS = sql.NullInt64{Int64: e.EndAt.Unix(), Valid: true}
	}
	if e.Confidence != nil {
		ev.Confidence = sql.NullFloat64{Float64: *e.Confidence, Valid: true}
	}
	return ev
}

func (e Event) Convert() *smartcal.Event {
	ev := &smartcal.Event{
		ID:             e.ID,
		OwnerID:        e.OwnerID,
		CalendarID:     e.CalendarID.String,
		ExternalID:     e.ExternalID,
		Title:          e.Title,
		Description:    e.Description,
		Location:       e.Location,
		StartAt:        parseTime(e.StartAt),
		EndAt:          timePtr(e.EndAt),
		AllDay:         e.AllDay,
		Timezone:       e.Timezone,
		Category:       smartcal.ParseCategory(e.Category),
		RecurrenceRule: e.RecurrenceRule,
		OriginalInput:  e.OriginalInput,
		Status:         smartcal.Status(e.Status),
		IdempotencyKey: e.IdempotencyKey,
		CreatedAt:      parseTime(e.CreatedAt),
		UpdatedAt:      parseTime(e.UpdatedAt),
		ConfirmedAt:    timePtr(e.ConfirmedAt),
		LastSyncedAt:   timePtr(e.LastSyncedAt),
	}
	_ = json.Unmarshal([]byte(e.Labels), &ev.Labels)
	if e.Confidence.Valid {
		c := e.Confidence.Float64
		ev.Confidence = &c
	}
	if e.ParsedElements.Valid {
		ev.ParsedElements = json.RawMessage(e.ParsedElements.String)
	}
	if e.ExternalPayload.Valid {
		ev.ExternalPayload = json.RawMessage(e.ExternalPayload.String)
	}
	return ev
}

type Credential struct {
	ID           string
	OwnerID      string `db:"owner_id"`
	Platform     string
	AccessToken  string `db:"access_token"`
	RefreshToken string `db:"refresh_token"`
	TokenType    string `db:"token_type"`
	Scope        string
	ExpiresAt    sql.NullString `db:"expires_at"`
	CreatedAt    string         `db:"created_at"`
	UpdatedAt    string         `db:"updated_at"`
}

func newCredential(c *smartcal.Credential) Credential {
	return Credential{
		ID:           c.ID,
		OwnerID:      c.OwnerID,
		Platform:     c.Platform,
		AccessToken:  c.EncryptedAccessToken,
		RefreshToken: c.EncryptedRefreshToken,
		TokenType:    c.TokenType,
		Scope:        c.Scope,
		ExpiresAt:    nullTime(c.ExpiresAt),
		CreatedAt:    c.CreatedAt.Format(timeLayout),
		UpdatedAt:    c.UpdatedAt.Format(timeLayout),
	}
}

func (c Credential) Convert() *smartcal.Credential {
	return &smartcal.Credential{
		ID:                    c.ID,
		OwnerID:               c.OwnerID,
		Platform:              c.Platform,
		EncryptedAccessToken:  c.AccessToken,
		EncryptedRefreshToken: c.RefreshToken,
		TokenType:             c.TokenType,
		Scope:                 c.Scope,
		ExpiresAt:             timePtr(c.ExpiresAt),
		CreatedAt:             parseTime(c.CreatedAt),
		UpdatedAt:             parseTime(c.UpdatedAt),
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(timeLayout), Valid: true}
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func timePtr(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

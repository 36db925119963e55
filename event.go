package smartcal

import (
	"encoding/json"
	"time"
)

type Category string

func (c Category) String() string {
	return string(c)
}

const (
	CategoryWork      Category = "work"
	CategoryPersonal  Category = "personal"
	CategoryHealth    Category = "health"
	CategoryFamily    Category = "family"
	CategorySocial    Category = "social"
	CategoryTravel    Category = "travel"
	CategoryEducation Category = "education"
	CategoryOther     Category = "other"
)

var categories = map[Category]bool{
	CategoryWork:      true,
	CategoryPersonal:  true,
	CategoryHealth:    true,
	CategoryFamily:    true,
	CategorySocial:    true,
	CategoryTravel:    true,
	CategoryEducation: true,
	CategoryOther:     true,
}

// ParseCategory maps anything outside the closed set to CategoryOther.
func ParseCategory(s string) Category {
	c := Category(s)
	if categories[c] {
		return c
	}
	return CategoryOther
}

type Entities struct {
	Datetime     *string  `json:"datetime"`
	Location     *string  `json:"location"`
	Duration     *string  `json:"duration"`
	Participants []string `json:"participants"`
}

// Count returns how many entities were extracted.
func (e Entities) Count() int {
	n := 0
	for _, s := range []*string{e.Datetime, e.Location, e.Duration} {
		if s != nil && *s != "" {
			n++
		}
	}
	if len(e.Participants) > 0 {
		n++
	}
	return n
}

// ParsedEvent is a validated and normalized provider result. Title and StartAt
// are always set and EndAt is never before StartAt.
type ParsedEvent struct {
	Title             string    `json:"title"`
	Description       string    `json:"description,omitempty"`
	StartAt           time.Time `json:"start_at"`
	EndAt             time.Time `json:"end_at"`
	AllDay            bool      `json:"all_day"`
	StartTimezone     string    `json:"start_timezone"`
	EndTimezone       string    `json:"end_timezone"`
	Location          string    `json:"location,omitempty"`
	RecurrenceRule    string    `json:"recurrence_rule,omitempty"`
	Category          Category  `json:"category"`
	Confidence        float64   `json:"confidence"`
	QualityScore      float64   `json:"quality_score"`
	ExtractedEntities Entities  `json:"extracted_entities"`
	Suggestions       []string  `json:"suggestions"`
	AIProvider        string    `json:"ai_provider,omitempty"`
	Model             string    `json:"model,omitempty"`
}

type Status string

func (s Status) String() string {
	return string(s)
}

const (
	StatusDraft     Status = "draft"
	StatusConfirmed Status = "confirmed"
	StatusSynced    Status = "synced"
	StatusCancelled Status = "cancelled"
)

type Event struct {
	ID              string          `json:"id"`
	OwnerID         string          `json:"owner_id"`
	CalendarID      string          `json:"calendar_id,omitempty"`
	ExternalID      string          `json:"external_id,omitempty"`
	Title           string          `json:"title"`
	Description     string          `json:"description,omitempty"`
	Location        string          `json:"location,omitempty"`
	StartAt         time.Time       `json:"start_at"`
	EndAt           *time.Time      `json:"end_at,omitempty"`
	AllDay          bool            `json:"all_day"`
	Timezone        string          `json:"timezone"`
	Category        Category        `json:"category"`
	RecurrenceRule  string          `json:"recurrence_rule,omitempty"`
	Labels          []string        `json:"labels"`
	OriginalInput   string          `json:"original_input,omitempty"`
	Confidence      *float64        `json:"confidence,omitempty"`
	ParsedElements  json.RawMessage `json:"parsed_elements,omitempty"`
	Status          Status          `json:"status"`
	IdempotencyKey  string          `json:"idempotency_key,omitempty"`
	ExternalPayload json.RawMessage `json:"external_payload,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	ConfirmedAt     *time.Time      `json:"confirmed_at,omitempty"`
	LastSyncedAt    *time.Time      `json:"last_synced_at,omitempty"`
}

// End returns EndAt, or StartAt for events without an end.
func (e Event) End() time.Time {
	if e.EndAt != nil {
		return *e.EndAt
	}
	return e.StartAt
}

// Duration is zero when the event has no end.
func (e Event) Duration() time.Duration {
	if e.EndAt == nil {
		return 0
	}
	return e.EndAt.Sub(e.StartAt)
}

// ConflictsWith reports whether [start, end) intersects the event.
func (e Event) ConflictsWith(start, end time.Time) bool {
	return e.StartAt.Before(end) && e.End().After(start)
}

func (e Event) IsPast(now time.Time) bool {
	return e.End().Before(now)
}

func (e Event) IsUpcoming(now time.Time, within time.Duration) bool {
	return !e.StartAt.After(now.Add(within)) && !e.IsPast(now)
}

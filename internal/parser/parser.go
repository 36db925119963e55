// Package parser turns free text into a validated, scored ParsedEvent using
// a chain of AI providers.
package parser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-logr/logr"
	"github.com/teambition/rrule-go"

	"github.com/guilherme-santos/smartcal"
	"github.com/guilherme-santos/smartcal/ai"
	"github.com/guilherme-santos/smartcal/ai/prompt"
	"github.com/guilherme-santos/smartcal/internal"
	"github.com/guilherme-santos/smartcal/internal/cache"
)

const (
	DefaultMaxInputLength = 1000
	DefaultMaxRetries     = 2
	DefaultMinConfidence  = 0.3

	neutralConfidence = 0.5
)

// Quality score weights, in points out of 100.
const (
	weightTitle       = 20
	weightStart       = 20
	weightLocation    = 10
	weightDescription = 10
	weightEnd         = 10
	weightCategory    = 15
	weightEntity      = 3.75
	maxEntityWeight   = 15
)

// Options zero values select the defaults. A negative MaxRetries disables
// retries on malformed output.
type Options struct {
	MaxInputLength int
	MaxRetries     int
	MinConfidence  float64
	CacheTTL       time.Duration
}

func (o *Options) normalize() {
	if o.MaxInputLength <= 0 {
		o.MaxInputLength = DefaultMaxInputLength
	}
	switch {
	case o.MaxRetries == 0:
		o.MaxRetries = DefaultMaxRetries
	case o.MaxRetries < 0:
		o.MaxRetries = 0
	}
	if o.MinConfidence <= 0 {
		o.MinConfidence = DefaultMinConfidence
	}
	if o.CacheTTL <= 0 {
		o.CacheTTL = cache.DefaultTTL
	}
}

type Parser struct {
	composer  *prompt.Composer
	gateway   *ai.Gateway
	providers []smartcal.Provider
	cache     smartcal.Cache
	opts      Options
	logger    logr.Logger

	Clock internal.Clock
}

// New builds a parser trying providers in order. cache may be nil.
func New(composer *prompt.Composer, gateway *ai.Gateway, providers []smartcal.Provider, c smartcal.Cache, opts Options, logger logr.Logger) *Parser {
	opts.normalize()
	return &Parser{
		composer:  composer,
		gateway:   gateway,
		providers: providers,
		cache:     c,
		opts:      opts,
		logger:    logger.WithName("parser"),
	}
}

// Parse runs cache lookup, provider calls with fallback and bounded retries,
// validation, normalization and scoring, in that order.
func (p *Parser) Parse(ctx context.Context, req smartcal.ParseRequest) (*smartcal.ParsedEvent, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, smartcal.ErrEmptyInput
	}
	if n := utf8.RuneCountInString(text); n > p.opts.MaxInputLength {
		return nil, smartcal.NewError(smartcal.KindInputTooLong, "input text has %d characters, maximum is %d", n, p.opts.MaxInputLength)
	}
	req.Text = text
	if req.Now.IsZero() {
		req.Now = p.Clock.Now()
	}
	if req.Timezone == "" {
		req.Timezone = smartcal.DefaultTimezone
	}

	logger := p.logger.WithValues("text", internal.Truncate(text, 50))
	key := cache.Key(text, req.ContextFields())

	if p.cache != nil {
		ev, err := p.cache.Get(ctx, key)
		if err == nil {
			logger.V(1).Info("cache hit")
			return ev, nil
		}
		if !errors.Is(err, smartcal.ErrCacheMiss) {
			logger.Error(err, "reading parse cache")
		}
	}

	var (
		ev      *smartcal.ParsedEvent
		lastErr error
	)
	for i, provider := range p.providers {
		var err error
		ev, err = p.parseWith(ctx, logger, req, provider)
		if err == nil {
			break
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if !smartcal.IsProviderFailure(err) {
			return nil, err
		}
		lastErr = err
		if i+1 < len(p.providers) {
			logger.Info("falling back to next provider", "failed", provider.Name(), "next", p.providers[i+1].Name(), "error", err.Error())
		}
	}
	if ev == nil {
		if lastErr == nil {
			lastErr = errors.New("no provider configured")
		}
		return nil, &smartcal.Error{
			Kind:       smartcal.KindAIUnavailable,
			Message:    "ai service unavailable",
			Guidance:   []string{"잠시 후 다시 시도해주세요"},
			RetryAfter: smartcal.RetryAfterOf(lastErr),
			Err:        lastErr,
		}
	}

	// A cancelled request must not leave anything behind.
	if p.cache != nil && ctx.Err() == nil {
		if err := p.cache.Set(ctx, key, ev, p.opts.CacheTTL); err != nil {
			logger.Error(err, "writing parse cache")
		}
	}
	logger.Info("parsed", "provider", ev.AIProvider, "confidence", ev.Confidence, "quality", ev.QualityScore)
	return ev, nil
}

// errMalformed marks provider output that can't be read as an event object.
type errMalformed struct {
	err error
}

func (e errMalformed) Error() string { return e.err.Error() }
func (e errMalformed) Unwrap() error { return e.err }

func (p *Parser) parseWith(ctx context.Context, logger logr.Logger, req smartcal.ParseRequest, provider smartcal.Provider) (*smartcal.ParsedEvent, error) {
	logger = logger.WithValues("provider", provider.Name())

	var feedback string
	var lastErr error
	for attempt := 0; attempt <= p.opts.MaxRetries; attempt++ {
		pr, err := p.composer.Compose(req, provider.Name(), feedback)
		if err != nil {
			return nil, smartcal.WrapError(smartcal.KindValidation, err, "invalid request context")
		}

		res, err := p.gateway.Call(ctx, provider, pr)
		if err != nil {
			return nil, err
		}

		ev, err := p.decode(logger, req, res.Text)
		var malformed errMalformed
		if errors.As(err, &malformed) {
			lastErr = err
			// Only the last error is fed back, the prompt doesn't grow.
			feedback = err.Error()
			logger.Info("malformed response", "attempt", attempt+1, "error", feedback)
			continue
		}
		if err != nil {
			return nil, err
		}

		ev.AIProvider = provider.Name()
		ev.Model = res.Model
		return ev, nil
	}

	return nil, &smartcal.Error{
		Kind:     smartcal.KindParseMalformed,
		Message:  fmt.Sprintf("%s returned malformed output %d times", provider.Name(), p.opts.MaxRetries+1),
		Guidance: TipsFor(req.Text).Guidance(),
		Err:      lastErr,
	}
}

type rawEntities struct {
	Datetime     *string         `json:"datetime"`
	Location     *string         `json:"location"`
	Duration     *string         `json:"duration"`
	Participants json.RawMessage `json:"participants"`
}

type rawEvent struct {
	Title             string          `json:"title"`
	Description       string          `json:"description"`
	StartAt           string          `json:"start_at"`
	EndAt             string          `json:"end_at"`
	AllDay            bool            `json:"all_day"`
	StartTimezone     string          `json:"start_timezone"`
	EndTimezone       string          `json:"end_timezone"`
	Location          string          `json:"location"`
	RecurrenceRule    string          `json:"recurrence_rule"`
	Category          string          `json:"category"`
	Confidence        json.RawMessage `json:"confidence"`
	Suggestions       []string        `json:"suggestions"`
	ExtractedEntities rawEntities     `json:"extracted_entities"`
}

func (p *Parser) decode(logger logr.Logger, req smartcal.ParseRequest, text string) (*smartcal.ParsedEvent, error) {
	obj, ok := ai.ExtractJSON(text)
	if !ok {
		return nil, errMalformed{errors.New("response is not a JSON object")}
	}
	var raw rawEvent
	if err := json.Unmarshal([]byte(obj), &raw); err != nil {
		return nil, errMalformed{err}
	}

	raw.Title = strings.TrimSpace(raw.Title)
	raw.StartAt = strings.TrimSpace(raw.StartAt)
	var missing []string
	if raw.Title == "" {
		missing = append(missing, "title")
	}
	if raw.StartAt == "" {
		missing = append(missing, "start_at")
	}
	if len(missing) > 0 {
		return nil, &smartcal.Error{
			Kind:     smartcal.KindValidation,
			Message:  "missing required fields: " + strings.Join(missing, ", "),
			Guidance: TipsFor(req.Text).Guidance(),
		}
	}

	var suggestions []string
	loc, err := timezone(raw.StartTimezone, req)
	if err != nil {
		logger.Info("unknown start_timezone, using request timezone", "start_timezone", raw.StartTimezone)
		loc, err = req.Location()
		if err != nil {
			return nil, smartcal.WrapError(smartcal.KindValidation, err, "invalid timezone")
		}
		suggestions = append(suggestions, fmt.Sprintf("시간대 %q를 알 수 없어 %s 기준으로 설정했습니다", raw.StartTimezone, loc))
	}
	start, dateOnly, err := parseTime(raw.StartAt, loc)
	if err != nil {
		return nil, &smartcal.Error{
			Kind:     smartcal.KindValidation,
			Message:  fmt.Sprintf("invalid start_at %q", raw.StartAt),
			Guidance: TipsFor(req.Text).Guidance(),
			Err:      err,
		}
	}

	confidence, ok := parseConfidence(raw.Confidence)
	if !ok {
		logger.Info("confidence out of range, using neutral default", "confidence", string(raw.Confidence))
		confidence = neutralConfidence
	}
	if confidence < p.opts.MinConfidence {
		return nil, &smartcal.Error{
			Kind:     smartcal.KindLowConfidence,
			Message:  fmt.Sprintf("parse confidence %.2f is below %.2f", confidence, p.opts.MinConfidence),
			Guidance: append([]string{"날짜, 시간, 장소, 참석자를 더 구체적으로 적어주세요 (예: '내일 오후 3시에 강남역에서 김과장과 회의')"}, TipsFor(req.Text).Guidance()...),
		}
	}

	ev := &smartcal.ParsedEvent{
		Title:         raw.Title,
		Description:   strings.TrimSpace(raw.Description),
		StartAt:       start,
		AllDay:        raw.AllDay || dateOnly,
		StartTimezone: loc.String(),
		Location:      strings.TrimSpace(raw.Location),
		Category:      smartcal.ParseCategory(strings.ToLower(strings.TrimSpace(raw.Category))),
		Confidence:    confidence,
		ExtractedEntities: smartcal.Entities{
			Datetime:     nonEmpty(raw.ExtractedEntities.Datetime),
			Location:     nonEmpty(raw.ExtractedEntities.Location),
			Duration:     nonEmpty(raw.ExtractedEntities.Duration),
			Participants: participants(raw.ExtractedEntities.Participants),
		},
		Suggestions: append(raw.Suggestions, suggestions...),
	}
	if ev.Suggestions == nil {
		ev.Suggestions = []string{}
	}
	hasEnd := p.normalize(ev, raw)
	ev.QualityScore = qualityScore(ev, hasEnd)
	return ev, nil
}

// normalize fills the defaults and reports whether the provider gave a usable end.
func (p *Parser) normalize(ev *smartcal.ParsedEvent, raw rawEvent) (hasEnd bool) {
	ev.EndTimezone = ev.StartTimezone
	endLoc := ev.StartAt.Location()
	if raw.EndTimezone != "" {
		if l, err := time.LoadLocation(raw.EndTimezone); err == nil {
			ev.EndTimezone = l.String()
			endLoc = l
		}
	}

	switch end := strings.TrimSpace(raw.EndAt); {
	case end == "":
		ev.EndAt = ev.StartAt.Add(time.Hour)
	default:
		t, _, err := parseTime(end, endLoc)
		if err != nil {
			ev.EndAt = ev.StartAt
		} else if t.Before(ev.StartAt) {
			ev.EndAt = ev.StartAt
			ev.Suggestions = append(ev.Suggestions, "종료 시간이 시작 시간보다 빨라 시작 시간으로 맞췄습니다")
		} else {
			ev.EndAt = t
			hasEnd = true
		}
	}

	if rule := normalizeRRule(raw.RecurrenceRule); rule != "" {
		if _, err := rrule.StrToRRule(rule); err != nil {
			ev.Suggestions = append(ev.Suggestions, "반복 규칙을 이해하지 못해 제외했습니다. 반복 주기를 다시 적어주세요 (예: '매주 화요일')")
		} else {
			ev.RecurrenceRule = rule
		}
	}
	return hasEnd
}

func qualityScore(ev *smartcal.ParsedEvent, hasEnd bool) float64 {
	var score float64
	if ev.Title != "" {
		score += weightTitle
	}
	if !ev.StartAt.IsZero() {
		score += weightStart
	}
	if ev.Location != "" {
		score += weightLocation
	}
	if ev.Description != "" {
		score += weightDescription
	}
	if hasEnd {
		score += weightEnd
	}
	if ev.Category != smartcal.CategoryOther {
		score += weightCategory
	}
	score += math.Min(float64(ev.ExtractedEntities.Count())*weightEntity, maxEntityWeight)
	return math.Max(0, math.Min(score/100, 1))
}

func timezone(name string, req smartcal.ParseRequest) (*time.Location, error) {
	if name = strings.TrimSpace(name); name != "" {
		return time.LoadLocation(name)
	}
	return req.Location()
}

var layouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// parseTime accepts ISO-8601 with or without an offset. Times without one
// are read in loc. A bare date reports dateOnly.
func parseTime(s string, loc *time.Location) (t time.Time, dateOnly bool, err error) {
	for _, layout := range layouts {
		if t, err = time.ParseInLocation(layout, s, loc); err == nil {
			return t, false, nil
		}
	}
	if t, err = time.ParseInLocation(time.DateOnly, s, loc); err == nil {
		return t, true, nil
	}
	return time.Time{}, false, err
}

func parseConfidence(raw json.RawMessage) (float64, bool) {
	var c float64
	if len(raw) == 0 || string(raw) == "null" || json.Unmarshal(raw, &c) != nil {
		return 0, false
	}
	if math.IsNaN(c) || c < 0 || c > 1 {
		return 0, false
	}
	return c, true
}

func nonEmpty(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}

// participants accepts a list of names or a single comma separated string.
func participants(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		var s string
		if json.Unmarshal(raw, &s) != nil {
			return nil
		}
		list = strings.Split(s, ",")
	}
	var res []string
	for _, p := range list {
		if p = strings.TrimSpace(p); p != "" {
			res = append(res, p)
		}
	}
	return res
}

func normalizeRRule(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.ToUpper(s), "RRULE:")
	return s
}

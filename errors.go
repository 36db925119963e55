package smartcal

import (
	"errors"
	"fmt"
	"time"
)

// Kind is the stable, machine readable category of an Error.
type Kind string

func (k Kind) String() string {
	return string(k)
}

const (
	KindEmptyInput        Kind = "empty_input"
	KindInputTooLong      Kind = "input_too_long"
	KindProviderTimeout   Kind = "provider_timeout"
	KindProviderRateLimit Kind = "provider_rate_limited"
	KindProviderAPI       Kind = "provider_api_error"
	KindProviderAuth      Kind = "provider_auth_error"
	KindAIUnavailable     Kind = "ai_unavailable"
	KindParseMalformed    Kind = "parse_malformed"
	KindValidation        Kind = "validation_error"
	KindLowConfidence     Kind = "low_confidence"
	KindCredentialExpired Kind = "credential_expired"
	KindCalendarAPI       Kind = "calendar_api_error"
	KindPermissionDenied  Kind = "permission_denied"
	KindInvalidTransition Kind = "invalid_transition"
	KindNotFound          Kind = "not_found"
	KindDuplicate         Kind = "duplicate"
)

// Error carries a Kind plus whatever a caller needs to act on it: user facing
// guidance and, for rate limits, how long to wait.
type Error struct {
	Kind       Kind
	Message    string
	Guidance   []string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on Kind, so errors.Is(err, ErrProviderAPI) holds for any
// provider API failure. A low confidence result is also a validation error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind == e.Kind {
		return true
	}
	return t.Kind == KindValidation && e.Kind == KindLowConfidence
}

func NewError(kind Kind, format string, a ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, a...)}
}

func WrapError(kind Kind, err error, format string, a ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, a...), Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// RetryAfterOf returns the first retry hint found in err's chain.
func RetryAfterOf(err error) time.Duration {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return 0
		}
		if e.RetryAfter > 0 {
			return e.RetryAfter
		}
		err = e.Err
	}
	return 0
}

var (
	ErrEmptyInput          = &Error{Kind: KindEmptyInput, Message: "input text is empty"}
	ErrInputTooLong        = &Error{Kind: KindInputTooLong, Message: "input text is too long"}
	ErrProviderTimeout     = &Error{Kind: KindProviderTimeout, Message: "ai provider timed out"}
	ErrProviderRateLimited = &Error{Kind: KindProviderRateLimit, Message: "ai provider rate limited"}
	ErrProviderAPI         = &Error{Kind: KindProviderAPI, Message: "ai provider request failed"}
	ErrProviderAuth        = &Error{Kind: KindProviderAuth, Message: "ai provider rejected credentials"}
	ErrAIUnavailable       = &Error{Kind: KindAIUnavailable, Message: "ai service unavailable"}
	ErrParseMalformed      = &Error{Kind: KindParseMalformed, Message: "ai response is malformed"}
	ErrValidation          = &Error{Kind: KindValidation, Message: "parsed event is invalid"}
	ErrLowConfidence       = &Error{Kind: KindLowConfidence, Message: "parse confidence is too low"}
	ErrCredentialExpired   = &Error{Kind: KindCredentialExpired, Message: "calendar credential expired"}
	ErrCalendarAPI         = &Error{Kind: KindCalendarAPI, Message: "calendar api request failed"}
	ErrPermissionDenied    = &Error{Kind: KindPermissionDenied, Message: "permission denied"}
	ErrInvalidTransition   = &Error{Kind: KindInvalidTransition, Message: "invalid event state transition"}
	ErrNotFound            = &Error{Kind: KindNotFound, Message: "not found"}
	ErrDuplicate           = &Error{Kind: KindDuplicate, Message: "already exists"}

	ErrCacheMiss = errors.New("cache miss")
)

// IsProviderFailure reports whether err is a transient provider level failure,
// the kind that moves orchestration on to the next provider.
func IsProviderFailure(err error) bool {
	switch KindOf(err) {
	case KindProviderTimeout, KindProviderRateLimit, KindProviderAPI, KindProviderAuth:
		return true
	}
	return false
}

package internal

import (
	"net/http"
	"strconv"
	"time"
)

// ParseRetryAfter accepts both forms of the Retry-After header, seconds or an
// HTTP date. It returns 0 when the header is missing or invalid.
func ParseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d.Round(time.Second)
		}
	}
	return 0
}

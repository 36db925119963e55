package internal

import (
	"io"
	stdlog "log"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"

	"github.com/guilherme-santos/smartcal"
)

// NewLogger writes key/value records to w. Verbose enables V(1) records.
func NewLogger(w io.Writer, prefix string, verbose bool) logr.Logger {
	if w == nil {
		w = os.Stderr
	}
	if verbose {
		stdr.SetVerbosity(1)
	}
	return stdr.New(stdlog.New(w, prefix, stdlog.LstdFlags))
}

// WithCalendar tags every record with the calendar under work.
func WithCalendar(logger logr.Logger, cal *smartcal.Calendar) logr.Logger {
	if cal == nil {
		return logger
	}
	return logger.WithValues("calendar", cal.String())
}

// Truncate shortens user text before it goes to a log record.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

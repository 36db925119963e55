package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/guilherme-santos/smartcal"
	"github.com/guilherme-santos/smartcal/internal/lifecycle"
)

var ParseCommand = Command{
	Name:        "parse",
	Description: "Parse a sentence into an event without saving it",
	Run:         runParse,
}

var ConfirmCommand = Command{
	Name:        "confirm",
	Description: "Parse a sentence and save it as a confirmed event",
	Run:         runConfirm,
}

type parseFlags struct {
	userID     string
	calendarID string
	timezone   string
	date       smartcal.Date
	prefs      Strings
}

func (f *parseFlags) register(fs *flag.FlagSet, defaultTZ string) {
	fs.StringVar(&f.userID, "user", "", "user id")
	fs.StringVar(&f.calendarID, "calendar", "", "calendar id, the user default calendar when empty")
	fs.StringVar(&f.timezone, "tz", defaultTZ, "timezone used to resolve relative dates")
	fs.Var(&f.date, "date", "resolve relative dates as if today were YYYY-MM-DD")
	fs.Var(&f.prefs, "pref", "parsing preference as key=value, can be repeated")
}

func runParse(ctx context.Context, a *app, args []string) error {
	var f parseFlags
	fs := newFlagSet("parse")
	f.register(fs, a.cfg.Parser.Timezone)
	if err := fs.Parse(args); err != nil {
		return err
	}

	parsed, err := a.parse(ctx, f, fs.Args())
	if err != nil {
		return err
	}
	return printJSON(a.out, parsed)
}

func runConfirm(ctx context.Context, a *app, args []string) error {
	var (
		f    parseFlags
		sync bool
	)
	fs := newFlagSet("confirm")
	f.register(fs, a.cfg.Parser.Timezone)
	fs.BoolVar(&sync, "sync", false, "send the event to the calendar right away")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if f.userID == "" {
		fs.Usage()
		return errors.New("-user is required")
	}
	if err := a.requireVault(); err != nil {
		return err
	}

	if f.calendarID == "" {
		cal, err := a.defaultCalendar(ctx, f.userID)
		if err != nil {
			return err
		}
		f.calendarID = cal.ID
	}

	parsed, err := a.parse(ctx, f, fs.Args())
	if err != nil {
		return err
	}

	draft := a.lifecycle.Propose(parsed, f.userID, f.calendarID)
	draft.OriginalInput = strings.Join(fs.Args(), " ")

	ev, conflicts, err := a.lifecycle.Confirm(ctx, draft)
	if err != nil {
		return err
	}
	printConflicts(a.out, conflicts)

	if sync {
		ev, err = a.lifecycle.Sync(ctx, ev)
		if err != nil {
			return err
		}
	}
	return printJSON(a.out, ev)
}

func (a *app) parse(ctx context.Context, f parseFlags, args []string) (*smartcal.ParsedEvent, error) {
	text := strings.Join(args, " ")
	if text == "" {
		b, err := io.ReadAll(a.in)
		if err != nil {
			return nil, err
		}
		text = string(b)
	}

	prefs, err := f.prefs.Preferences()
	if err != nil {
		return nil, err
	}

	req := smartcal.ParseRequest{
		Text:              text,
		Timezone:          f.timezone,
		DefaultCalendarID: f.calendarID,
		Preferences:       prefs,
		Now:               time.Now(),
	}
	if !f.date.IsZero() {
		loc, err := req.Location()
		if err != nil {
			return nil, err
		}
		req.Now = f.date.At(req.Now.In(loc))
	}

	p, err := a.parser()
	if err != nil {
		return nil, err
	}
	return p.Parse(ctx, req)
}

func (a *app) defaultCalendar(ctx context.Context, userID string) (*smartcal.Calendar, error) {
	cals, err := a.storage.Calendars(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, cal := range cals {
		if cal.IsDefault && cal.CanWrite() {
			return cal, nil
		}
	}
	for _, cal := range cals {
		if cal.CanWrite() {
			return cal, nil
		}
	}
	return nil, smartcal.NewError(smartcal.KindValidation, "user %q has no writable calendar, run configure first", userID)
}

func printConflicts(w io.Writer, conflicts []lifecycle.Conflict) {
	for _, c := range conflicts {
		fmt.Fprintf(w, "Warning: overlaps with %q (%s - %s)\n",
			c.Event.Title, c.Start.Format(time.RFC3339), c.End.Format(time.RFC3339))
	}
}

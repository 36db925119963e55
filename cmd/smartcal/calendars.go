package main

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"

	"golang.org/x/oauth2"

	"github.com/guilherme-santos/smartcal"
)

var CalendarsCommand = Command{
	Name:        "calendars",
	Description: "List the user calendars, importing them again with -refresh",
	Run:         runCalendars,
}

func runCalendars(ctx context.Context, a *app, args []string) error {
	var (
		userID   string
		platform string
		refresh  bool
	)
	fs := newFlagSet("calendars")
	fs.StringVar(&userID, "user", "", "user id")
	fs.StringVar(&platform, "platform", "", "platform to import from, all configured ones when empty")
	fs.BoolVar(&refresh, "refresh", false, "import calendars from the platform before listing")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if userID == "" {
		fs.Usage()
		return errors.New("-user is required")
	}

	if refresh {
		platforms := a.calendars.Platforms()
		if platform != "" {
			platforms = []string{platform}
		}
		for _, p := range platforms {
			if _, err := a.importCalendars(ctx, userID, p); err != nil {
				if platform == "" && errors.Is(err, smartcal.ErrNotFound) {
					// user never configured this platform
					continue
				}
				return err
			}
		}
	}

	cals, err := a.storage.Calendars(ctx, userID)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPLATFORM\tNAME\tPERMISSION\tDEFAULT")
	for _, cal := range cals {
		if platform != "" && cal.Platform != platform {
			continue
		}
		def := ""
		if cal.IsDefault {
			def = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", cal.ID, cal.Platform, cal.Name, cal.Permission, def)
	}
	return w.Flush()
}

// importCalendars fetches the user calendars from platform and stores them.
func (a *app) importCalendars(ctx context.Context, userID, platform string) ([]*smartcal.Calendar, error) {
	backend, err := a.calendars.Get(platform)
	if err != nil {
		return nil, err
	}

	var tok *oauth2.Token
	if _, ok := backend.(smartcal.Authenticator); ok {
		if err := a.requireVault(); err != nil {
			return nil, err
		}
		tok, err = a.vault.Token(ctx, userID, platform)
		if err != nil {
			return nil, err
		}
	}

	cals, err := backend.Calendars(ctx, tok)
	if err != nil {
		return nil, fmt.Errorf("%s: listing calendars: %w", platform, err)
	}
	for _, cal := range cals {
		cal.OwnerID = userID
		cal.Platform = platform
		if err := a.storage.SaveCalendar(ctx, cal); err != nil {
			return nil, fmt.Errorf("saving calendar %s: %w", cal, err)
		}
	}
	a.logger.V(1).Info("calendars imported", "user", userID, "platform", platform, "count", len(cals))
	return cals, nil
}

package main

import (
	"context"
	"errors"

	"github.com/guilherme-santos/smartcal"
)

var SyncCommand = Command{
	Name:        "sync",
	Description: "Send a confirmed event to its calendar",
	Run:         runSync,
}

var CancelCommand = Command{
	Name:        "cancel",
	Description: "Cancel an event, removing it from its calendar if synced",
	Run:         runCancel,
}

func runSync(ctx context.Context, a *app, args []string) error {
	return a.withEvent(ctx, "sync", args, func(ev *smartcal.Event) (*smartcal.Event, error) {
		return a.lifecycle.Sync(ctx, ev)
	})
}

func runCancel(ctx context.Context, a *app, args []string) error {
	return a.withEvent(ctx, "cancel", args, func(ev *smartcal.Event) (*smartcal.Event, error) {
		return a.lifecycle.Cancel(ctx, ev)
	})
}

// withEvent loads the event named by -event and prints whatever fn returns.
func (a *app) withEvent(ctx context.Context, name string, args []string, fn func(*smartcal.Event) (*smartcal.Event, error)) error {
	var eventID string
	fs := newFlagSet(name)
	fs.StringVar(&eventID, "event", "", "event id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if eventID == "" {
		fs.Usage()
		return errors.New("-event is required")
	}
	if err := a.requireVault(); err != nil {
		return err
	}

	ev, err := a.storage.Event(ctx, eventID)
	if err != nil {
		return err
	}
	ev, err = fn(ev)
	if err != nil {
		return err
	}
	return printJSON(a.out, ev)
}

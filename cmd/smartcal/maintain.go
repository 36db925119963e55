package main

import (
	"context"

	"github.com/guilherme-santos/smartcal/internal/maintenance"
)

var MaintainCommand = Command{
	Name:        "maintain",
	Description: "Run the cache purge and credential refresh jobs until interrupted",
	Run:         runMaintain,
}

func runMaintain(ctx context.Context, a *app, args []string) error {
	var once bool
	fs := newFlagSet("maintain")
	fs.BoolVar(&once, "once", false, "run both jobs a single time and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := a.requireVault(); err != nil {
		return err
	}

	sched := maintenance.New(a.storage.ParseCache(), a.storage, a.vault, a.cfg.Vault.RefreshWindow.Duration, a.logger)
	if once {
		if _, err := sched.PurgeCache(ctx); err != nil {
			return err
		}
		_, err := sched.RefreshCredentials(ctx)
		return err
	}

	err := sched.Start(ctx, a.cfg.Maintenance.PurgeCache, a.cfg.Maintenance.RefreshCredentials)
	if err != nil {
		return err
	}
	<-ctx.Done()
	sched.Stop()
	return nil
}

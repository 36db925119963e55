// Package maintenance runs the periodic housekeeping jobs.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/robfig/cron/v3"

	"github.com/guilherme-santos/smartcal"
	"github.com/guilherme-santos/smartcal/internal"
)

type Purger interface {
	Purge(context.Context) (int64, error)
}

type Storage interface {
	ExpiringCredentials(_ context.Context, before time.Time) ([]*smartcal.Credential, error)
}

type Refresher interface {
	Refresh(_ context.Context, ownerID, platform string) (*smartcal.Credential, error)
}

type Scheduler struct {
	cron      *cron.Cron
	cache     Purger
	storage   Storage
	refresher Refresher
	logger    logr.Logger

	// Window is how far ahead credentials are refreshed.
	Window time.Duration
	Clock  internal.Clock
}

func New(cache Purger, storage Storage, refresher Refresher, window time.Duration, logger logr.Logger) *Scheduler {
	logger = logger.WithName("maintenance")
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(logger),
			cron.WithChain(cron.SkipIfStillRunning(logger)),
		),
		cache:     cache,
		storage:   storage,
		refresher: refresher,
		logger:    logger,
		Window:    window,
	}
}

// Start schedules both jobs. Specs use cron syntax with a seconds field.
func (s *Scheduler) Start(ctx context.Context, purgeSpec, refreshSpec string) error {
	if _, err := s.cron.AddFunc(purgeSpec, func() {
		if _, err := s.PurgeCache(ctx); err != nil {
			s.logger.Error(err, "purging parse cache")
		}
	}); err != nil {
		return fmt.Errorf("maintenance: purge schedule %q: %w", purgeSpec, err)
	}
	if _, err := s.cron.AddFunc(refreshSpec, func() {
		if _, err := s.RefreshCredentials(ctx); err != nil {
			s.logger.Error(err, "refreshing credentials")
		}
	}); err != nil {
		return fmt.Errorf("maintenance: refresh schedule %q: %w", refreshSpec, err)
	}

	s.cron.Start()
	s.logger.Info("scheduler started", "purge_cache", purgeSpec, "refresh_credentials", refreshSpec)
	return nil
}

// Stop waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) PurgeCache(ctx context.Context) (int64, error) {
	n, err := s.cache.Purge(ctx)
	if err != nil {
		return 0, err
	}
	s.logger.V(1).Info("parse cache purged", "removed", n)
	return n, nil
}

// RefreshCredentials refreshes every credential expiring within Window. One
// failing credential doesn't stop the others.
func (s *Scheduler) RefreshCredentials(ctx context.Context) (int, error) {
	creds, err := s.storage.ExpiringCredentials(ctx, s.Clock.Now().Add(s.Window))
	if err != nil {
		return 0, err
	}

	var (
		refreshed int
		errs      []error
	)
	for _, cred := range creds {
		if err := ctx.Err(); err != nil {
			return refreshed, err
		}
		if _, err := s.refresher.Refresh(ctx, cred.OwnerID, cred.Platform); err != nil {
			errs = append(errs, fmt.Errorf("%s/%s: %w", cred.OwnerID, cred.Platform, err))
			continue
		}
		refreshed++
	}
	if refreshed > 0 {
		s.logger.Info("credentials refreshed", "count", refreshed, "failed", len(errs))
	}
	return refreshed, errors.Join(errs...)
}

package main

import (
	"context"
	"fmt"
	"time"

	"RouteLane/internal/biz"
	"RouteLane/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/robfig/cron/v3"
)

// syncTimeout bounds one provider sync run.
const syncTimeout = 30 * time.Second

// Scheduler runs the periodic provider sync and metrics refresh jobs. It
// implements the Kratos transport.Server interface so its lifecycle is
// managed by the application.
type Scheduler struct {
	cron     *cron.Cron
	provider *biz.ProviderUsecase
	router   *biz.RouterUseCase
	interval time.Duration
	helper   *log.Helper
}

// NewScheduler creates the background job scheduler.
func NewScheduler(c *conf.Router, provider *biz.ProviderUsecase, router *biz.RouterUseCase, logger log.Logger) *Scheduler {
	interval := 30 * time.Second
	if c != nil && c.SyncInterval != nil && c.SyncInterval.AsDuration() > 0 {
		interval = c.SyncInterval.AsDuration()
	}
	return &Scheduler{
		cron:     cron.New(cron.WithSeconds()),
		provider: provider,
		router:   router,
		interval: interval,
		helper:   log.NewHelper(logger),
	}
}

// Start performs the initial provider sync and registers the periodic jobs.
// A failed initial sync does not abort startup: the periodic job retries
// and the router serves an empty snapshot until it succeeds.
func (s *Scheduler) Start(ctx context.Context) error {
	syncCtx, cancel := context.WithTimeout(ctx, syncTimeout)
	err := s.provider.Sync(syncCtx)
	cancel()
	if err != nil {
		s.helper.Errorw("initial provider sync failed, continuing with empty snapshot",
			"error", err)
	}

	spec := fmt.Sprintf("@every %s", s.interval)
	if _, err := s.cron.AddFunc(spec, s.runSync); err != nil {
		return fmt.Errorf("failed to register provider sync job: %w", err)
	}

	// Metrics refresh keeps gauges current even when no traffic flows.
	if _, err := s.cron.AddFunc("@every 15s", s.router.PublishMetrics); err != nil {
		return fmt.Errorf("failed to register metrics refresh job: %w", err)
	}

	s.cron.Start()
	s.helper.Infow("msg", "scheduler started",
		"sync_interval", s.interval.String())
	return nil
}

// Stop halts the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
	s.helper.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) runSync() {
	ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
	defer cancel()

	if err := s.provider.Sync(ctx); err != nil {
		s.helper.Errorw("periodic provider sync failed", "error", err)
	}
}

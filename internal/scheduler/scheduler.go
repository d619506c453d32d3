// Package scheduler runs the periodic lifecycle job that closes, resolves and
// settles markets. The job is driven by a cron spec with a seconds field.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/evetabi/pointsmarket/internal/config"
	"github.com/evetabi/pointsmarket/internal/service"
	"github.com/robfig/cron/v3"
)

// Ticker is the part of the lifecycle service the scheduler drives.
// Implemented by service.LifecycleService.
type Ticker interface {
	TickDue(ctx context.Context, now time.Time) (*service.TickSummary, error)
}

// ──────────────────────────────────────────────────────────────────────────────
// Scheduler
// ──────────────────────────────────────────────────────────────────────────────

// Scheduler runs Ticker.TickDue on Lifecycle.TickSpec. A run that is still in
// progress when the next one is due causes that next run to be skipped.
type Scheduler struct {
	cron      *cron.Cron
	lifecycle Ticker
	cfg       *config.Config
	logger    *slog.Logger
	now       func() time.Time
}

// NewScheduler creates a Scheduler.
func NewScheduler(lifecycle Ticker, cfg *config.Config, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		lifecycle: lifecycle,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Start registers the lifecycle job and starts the cron runner. It returns
// immediately; jobs run until Stop is called. ctx is passed to every run.
func (s *Scheduler) Start(ctx context.Context) error {
	spec := s.cfg.Lifecycle.TickSpec
	if _, err := s.cron.AddFunc(spec, func() { s.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("scheduler: invalid tick spec %q: %w", spec, err)
	}
	s.cron.Start()
	s.logger.Info("scheduler started", "spec", spec, "concurrency", s.cfg.Lifecycle.Concurrency)
	return nil
}

// Stop halts the cron runner and waits for a running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// RunOnce performs a single lifecycle pass. A panic inside the pass is logged
// and swallowed so the next run still happens.
func (s *Scheduler) RunOnce(ctx context.Context) {
	defer s.recoverAndLog("lifecycle")

	if ctx.Err() != nil {
		return
	}
	if _, err := s.lifecycle.TickDue(ctx, s.now().UTC()); err != nil {
		s.logger.Error("lifecycle pass failed", "err", err)
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Panic recovery
// ──────────────────────────────────────────────────────────────────────────────

// recoverAndLog is deferred inside each job to catch unexpected panics,
// log them, and allow the scheduler to continue running.
func (s *Scheduler) recoverAndLog(job string) {
	if r := recover(); r != nil {
		s.logger.Error("PANIC recovered in scheduler job",
			"job", job, "panic", r)
	}
}

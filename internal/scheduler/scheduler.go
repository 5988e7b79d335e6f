// Package scheduler triggers the daily run at a fixed wall-clock time in the
// gazette's time zone.
package scheduler

import (
	"context"
	"time"

	"cloud.google.com/go/civil"
	"go.uber.org/zap"

	"github.com/JakeFAU/gazette-watch/internal/gazette"
)

// Runner runs the pipeline for a date.
type Runner interface {
	RunForDate(ctx context.Context, date civil.Date) (gazette.RunSummary, error)
	Today() civil.Date
}

// Config sets the daily slot.
type Config struct {
	Hour     int
	Minute   int
	Location *time.Location
	// RunTimeout bounds each run. Zero means no limit beyond shutdown.
	RunTimeout time.Duration
}

// Scheduler fires one run per day.
type Scheduler struct {
	runner Runner
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
	after  func(time.Duration) <-chan time.Time
}

// New returns a Scheduler over runner.
func New(runner Runner, cfg Config, logger *zap.Logger) *Scheduler {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		runner: runner,
		cfg:    cfg,
		logger: logger.Named("scheduler"),
		now:    time.Now,
		after:  time.After,
	}
}

// Next is the first slot strictly after from.
func (s *Scheduler) Next(from time.Time) time.Time {
	local := from.In(s.cfg.Location)
	slot := time.Date(local.Year(), local.Month(), local.Day(), s.cfg.Hour, s.cfg.Minute, 0, 0, s.cfg.Location)
	if !slot.After(local) {
		slot = time.Date(local.Year(), local.Month(), local.Day()+1, s.cfg.Hour, s.cfg.Minute, 0, 0, s.cfg.Location)
	}
	return slot
}

// Run blocks until ctx is done, running the pipeline for the current date at
// every slot. Run failures are logged and never stop the loop.
func (s *Scheduler) Run(ctx context.Context) {
	for ctx.Err() == nil {
		next := s.Next(s.now())
		s.logger.Info("next scheduled run", zap.Time("at", next))
		select {
		case <-ctx.Done():
		case <-s.after(next.Sub(s.now())):
			s.runOnce(ctx)
		}
	}
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if s.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RunTimeout)
		defer cancel()
	}
	date := s.runner.Today()
	summary, err := s.runner.RunForDate(ctx, date)
	if err != nil {
		s.logger.Warn("scheduled run failed", zap.String("date", date.String()), zap.Error(err))
		return
	}
	s.logger.Info("scheduled run finished",
		zap.String("date", date.String()),
		zap.String("run_id", summary.RunID),
		zap.String("status", string(summary.Status)),
	)
}

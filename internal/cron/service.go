package cron

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/tradeloop-backend/pkg/logger"
	"github.com/angelmondragon/tradeloop-backend/pkg/metrics"
)

const (
	defaultInterval   = time.Minute
	defaultJobTimeout = 5 * time.Minute
)

// Cadenced jobs run at most once per Every(); jobs without it run every cycle.
type Cadenced interface {
	Every() time.Duration
}

type ServiceParams struct {
	Logger     *logger.Logger
	Registry   *Registry
	Lock       Lock
	Metrics    *metrics.CronJobMetrics
	Interval   time.Duration
	JobTimeout time.Duration
}

// Service drives the registered sweeps. A cycle only does work while the
// distributed lock is held, so several cron workers can run side by side.
type Service struct {
	logg       *logger.Logger
	registry   *Registry
	lock       Lock
	metrics    *metrics.CronJobMetrics
	interval   time.Duration
	jobTimeout time.Duration

	now     func() time.Time
	lastRun map[string]time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	case params.Lock == nil:
		return nil, fmt.Errorf("lock required")
	}
	svc := &Service{
		logg:       params.Logger,
		registry:   params.Registry,
		lock:       params.Lock,
		metrics:    params.Metrics,
		interval:   params.Interval,
		jobTimeout: params.JobTimeout,
		now:        time.Now,
		lastRun:    map[string]time.Time{},
	}
	if svc.registry == nil {
		svc.registry, _ = NewRegistry()
	}
	if svc.interval <= 0 {
		svc.interval = defaultInterval
	}
	if svc.jobTimeout <= 0 {
		svc.jobTimeout = defaultJobTimeout
	}
	return svc, nil
}

// Run loops until ctx is cancelled. The first cycle starts immediately and
// the next one is scheduled only after the previous cycle returns.
func (s *Service) Run(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron service stopping")
			return ctx.Err()
		case <-timer.C:
		}
		started := s.now()
		if err := s.RunOnce(ctx); err != nil {
			s.logg.Error(ctx, "cron cycle finished with errors", err)
		}
		timer.Reset(max(s.interval-time.Since(started), 0))
	}
}

// RunOnce runs one cycle. Every due job runs even when an earlier one fails;
// the failures come back joined.
func (s *Service) RunOnce(ctx context.Context) (errs error) {
	locked, err := s.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("lock acquire: %w", err)
	}
	if !locked {
		s.logg.Debug(ctx, "cron lock held elsewhere, skipping cycle")
		return nil
	}
	defer func() {
		errs = multierr.Append(errs, s.lock.Release(context.WithoutCancel(ctx)))
	}()

	now := s.now()
	for _, job := range s.registry.Jobs() {
		if !s.due(job, now) {
			continue
		}
		if err := s.runJob(ctx, job); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", job.Name(), err))
		}
		s.lastRun[job.Name()] = now
	}
	return errs
}

func (s *Service) due(job Job, now time.Time) bool {
	c, ok := job.(Cadenced)
	if !ok || c.Every() <= 0 {
		return true
	}
	last, seen := s.lastRun[job.Name()]
	return !seen || now.Sub(last) >= c.Every()
}

func (s *Service) runJob(ctx context.Context, job Job) (err error) {
	name := job.Name()
	jobCtx, cancel := context.WithTimeout(s.logg.WithFields(ctx, map[string]any{"job": name, "event": "cron.job"}), s.jobTimeout)
	defer cancel()

	start := time.Now()
	var affected int
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
		elapsed := time.Since(start)
		s.metrics.ObserveDuration(name, elapsed)
		s.metrics.AddAffected(name, affected)
		logCtx := s.logg.WithFields(jobCtx, map[string]any{"duration_ms": elapsed.Milliseconds(), "affected": affected})
		switch {
		case err != nil:
			s.metrics.IncFailure(name)
			s.logg.Error(logCtx, "job failed", err)
		case affected > 0:
			s.metrics.IncSuccess(name)
			s.logg.Info(logCtx, "job completed")
		default:
			s.metrics.IncSuccess(name)
		}
	}()

	affected, err = job.Run(jobCtx)
	return err
}

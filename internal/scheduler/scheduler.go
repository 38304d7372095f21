// Package scheduler fires a job on a fixed cadence, never overlapping runs.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// DefaultInterval is the cadence used when none is configured.
const DefaultInterval = 24 * time.Hour

// Job is the work fired on each tick.
type Job func(ctx context.Context) error

// Scheduler runs a Job every interval. A tick that lands while the previous
// run is still going is skipped. Ticks missed while the process was down
// are not made up.
type Scheduler struct {
	name       string
	interval   time.Duration
	job        Job
	runOnStart bool
	running    atomic.Bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithRunOnStart fires the job once immediately when Start is called.
func WithRunOnStart(v bool) Option {
	return func(s *Scheduler) {
		s.runOnStart = v
	}
}

// New creates a Scheduler. A non-positive interval uses DefaultInterval.
func New(name string, interval time.Duration, job Job, opts ...Option) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	s := &Scheduler{name: name, interval: interval, job: job}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start fires the job on every tick until ctx is done. It returns once every
// job it fired has returned.
func (s *Scheduler) Start(ctx context.Context) {
	log := zap.L().With(zap.String("schedule", s.name))
	log.Info("scheduler started", zap.Duration("interval", s.interval))

	if s.runOnStart {
		s.Trigger(ctx)
	}

	var inflight sync.WaitGroup
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if s.Running() {
				log.Info("waiting for in-flight run")
			}
			inflight.Wait()
			log.Info("scheduler stopped")
			return
		case <-ticker.C:
			// Run in the background so a long job cannot delay the
			// next tick's skip decision.
			inflight.Add(1)
			go func() {
				defer inflight.Done()
				s.Trigger(ctx)
			}()
		}
	}
}

// Trigger runs the job unless a run is already in progress. It reports
// whether the job fired.
func (s *Scheduler) Trigger(ctx context.Context) bool {
	if !s.running.CompareAndSwap(false, true) {
		zap.L().Info("previous run still in progress; skipping", zap.String("schedule", s.name))
		return false
	}
	defer s.running.Store(false)

	start := time.Now()
	if err := s.job(ctx); err != nil {
		zap.L().Error("scheduled job failed",
			zap.String("schedule", s.name),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return true
	}
	zap.L().Info("scheduled job complete",
		zap.String("schedule", s.name),
		zap.Duration("elapsed", time.Since(start)),
	)
	return true
}

// Running reports whether the job is currently executing.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// Package cron runs housekeeping jobs, such as journal retention, on
// cron schedules.
package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// cronParser accepts standard 5-field expressions and @descriptors.
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// Job is one scheduled unit of work.
type Job struct {
	Name string
	Expr string
	Run  func(ctx context.Context, now time.Time) error
}

// Pruner deletes rows older than cutoff.
type Pruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// RetentionJob prunes everything older than keep on each firing.
func RetentionJob(name, expr string, p Pruner, keep time.Duration, logger *slog.Logger) Job {
	if logger == nil {
		logger = slog.Default()
	}
	return Job{
		Name: name,
		Expr: expr,
		Run: func(ctx context.Context, now time.Time) error {
			n, err := p.Prune(ctx, now.Add(-keep))
			if err != nil {
				return err
			}
			logger.Info("cron: retention pruned rows", "job", name, "rows", n)
			return nil
		},
	}
}

// Config holds the dependencies for the cron scheduler.
type Config struct {
	Jobs     []Job
	Logger   *slog.Logger
	Interval time.Duration // tick interval; defaults to 1 minute if zero
	Now      func() time.Time
}

type entry struct {
	job   Job
	sched cronlib.Schedule
	next  time.Time
}

// Scheduler checks its jobs on every tick and runs the ones that are due.
type Scheduler struct {
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time

	mu      sync.Mutex
	entries []*entry

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler parses every job expression up front.
func NewScheduler(cfg Config) (*Scheduler, error) {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 1 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	s := &Scheduler{
		logger:   logger.With("component", "cron"),
		interval: interval,
		now:      now,
	}
	start := now()
	for _, job := range cfg.Jobs {
		sched, err := cronParser.Parse(job.Expr)
		if err != nil {
			return nil, fmt.Errorf("cron: job %q: %w", job.Name, err)
		}
		s.entries = append(s.entries, &entry{job: job, sched: sched, next: sched.Next(start)})
	}
	return s, nil
}

// Start begins the scheduler loop in a background goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("cron scheduler started", "interval", s.interval, "jobs", len(s.entries))
}

// Stop cancels the scheduler loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("cron scheduler stopped")
}

// NextRun returns the next firing time of the named job.
func (s *Scheduler) NextRun(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.job.Name == name {
			return e.next, true
		}
	}
	return time.Time{}, false
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs every due job once and reschedules it from now.
func (s *Scheduler) tick(ctx context.Context) {
	now := s.now()
	s.mu.Lock()
	var due []*entry
	for _, e := range s.entries {
		if !now.Before(e.next) {
			due = append(due, e)
			e.next = e.sched.Next(now)
		}
	}
	s.mu.Unlock()

	for _, e := range due {
		if err := e.job.Run(ctx, now); err != nil {
			s.logger.Error("cron: job failed", "job", e.job.Name, "error", err)
			continue
		}
		s.logger.Debug("cron: job ran", "job", e.job.Name)
	}
}

// NextRunTime parses the cron expression and returns the next run time after the given time.
func NextRunTime(cronExpr string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after), nil
}

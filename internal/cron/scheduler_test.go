package cron

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakePruner struct {
	mu      sync.Mutex
	cutoffs []time.Time
	err     error
}

func (p *fakePruner) Prune(_ context.Context, cutoff time.Time) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cutoffs = append(p.cutoffs, cutoff)
	return 3, p.err
}

func (p *fakePruner) calls() []time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]time.Time(nil), p.cutoffs...)
}

func TestScheduler_RunsDueJobs(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	p := &fakePruner{}

	s, err := NewScheduler(Config{
		Jobs: []Job{RetentionJob("journal", "0 * * * *", p, 24*time.Hour, nil)},
		Now:  clock,
	})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	next, ok := s.NextRun("journal")
	if !ok || !next.Equal(time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)) {
		t.Fatalf("NextRun = %v, %v", next, ok)
	}

	s.tick(context.Background())
	if len(p.calls()) != 0 {
		t.Fatal("job ran before it was due")
	}

	now = now.Add(31 * time.Minute)
	s.tick(context.Background())
	calls := p.calls()
	if len(calls) != 1 {
		t.Fatalf("expected one prune, got %d", len(calls))
	}
	if want := now.Add(-24 * time.Hour); !calls[0].Equal(want) {
		t.Fatalf("cutoff = %v, want %v", calls[0], want)
	}

	// Same instant again: already rescheduled.
	s.tick(context.Background())
	if len(p.calls()) != 1 {
		t.Fatal("job ran twice for one slot")
	}
	next, _ = s.NextRun("journal")
	if !next.Equal(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("NextRun after fire = %v", next)
	}
}

func TestScheduler_JobErrorDoesNotStopOthers(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	var ran atomic.Int32
	s, err := NewScheduler(Config{
		Jobs: []Job{
			{Name: "bad", Expr: "@hourly", Run: func(context.Context, time.Time) error { return errors.New("boom") }},
			{Name: "good", Expr: "@hourly", Run: func(context.Context, time.Time) error { ran.Add(1); return nil }},
		},
		Now: func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	now = now.Add(time.Hour)
	s.tick(context.Background())
	if ran.Load() != 1 {
		t.Fatalf("good job ran %d times", ran.Load())
	}
}

func TestNewScheduler_InvalidExpr(t *testing.T) {
	_, err := NewScheduler(Config{Jobs: []Job{{Name: "x", Expr: "not a cron", Run: func(context.Context, time.Time) error { return nil }}}})
	if err == nil {
		t.Fatal("expected parse error")
	}
}

func TestScheduler_StartStop(t *testing.T) {
	var ran atomic.Int32
	s, err := NewScheduler(Config{
		Jobs:     []Job{{Name: "tick", Expr: "@every 1s", Run: func(context.Context, time.Time) error { ran.Add(1); return nil }}},
		Interval: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	s.Start(context.Background())
	deadline := time.Now().Add(3 * time.Second)
	for ran.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	s.Stop()
	if ran.Load() == 0 {
		t.Fatal("job never ran")
	}
}

func TestNextRunTime(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	next, err := NextRunTime("@daily", base)
	if err != nil {
		t.Fatalf("NextRunTime: %v", err)
	}
	if !next.Equal(base.Add(24 * time.Hour)) {
		t.Fatalf("next = %v", next)
	}
	if _, err := NextRunTime("bogus", base); err == nil {
		t.Fatal("expected error")
	}
}

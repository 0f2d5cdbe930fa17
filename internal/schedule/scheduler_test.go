package schedule

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type testLogger struct{}

func (l *testLogger) Debug(msg string, args ...any) {}
func (l *testLogger) Info(msg string, args ...any)  {}
func (l *testLogger) Warn(msg string, args ...any)  {}
func (l *testLogger) Error(msg string, args ...any) {}

func waitFor(t *testing.T, deadline time.Duration, cond func() bool) {
	t.Helper()
	stop := time.Now().Add(deadline)
	for time.Now().Before(stop) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

// waitForTickers blocks until the task loops have registered their tickers,
// so an Advance cannot race ahead of ticker creation.
func waitForTickers(t *testing.T, clock *ManualClock, n int) {
	t.Helper()
	waitFor(t, time.Second, func() bool {
		clock.mu.Lock()
		defer clock.mu.Unlock()
		return len(clock.tickers) >= n
	})
}

func TestSchedulerFiresOnVirtualTime(t *testing.T) {
	clock := NewManualClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	s := NewScheduler(clock, &testLogger{})
	defer s.Stop()

	var runs atomic.Int64
	s.Register("counter", time.Minute, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})
	s.Start()
	waitForTickers(t, clock, 1)

	if got := runs.Load(); got != 0 {
		t.Fatalf("task ran %d times before any tick", got)
	}

	clock.Advance(time.Minute)
	waitFor(t, time.Second, func() bool { return runs.Load() == 1 })

	// under a minute accumulates no tick
	clock.Advance(30 * time.Second)
	time.Sleep(10 * time.Millisecond)
	if got := runs.Load(); got != 1 {
		t.Fatalf("task ran %d times after a partial interval", got)
	}

	clock.Advance(30 * time.Second)
	waitFor(t, time.Second, func() bool { return runs.Load() == 2 })
}

func TestSchedulerRegisterAfterStart(t *testing.T) {
	clock := NewManualClock(time.Unix(0, 0))
	s := NewScheduler(clock, &testLogger{})
	defer s.Stop()

	s.Start()

	var runs atomic.Int64
	s.Register("late", time.Second, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})
	waitForTickers(t, clock, 1)

	clock.Advance(time.Second)
	waitFor(t, time.Second, func() bool { return runs.Load() == 1 })
}

func TestSchedulerSurvivesFailingAndPanickingTasks(t *testing.T) {
	clock := NewManualClock(time.Unix(0, 0))
	s := NewScheduler(clock, &testLogger{})
	defer s.Stop()

	var failures, panics atomic.Int64
	s.Register("failing", time.Second, func(ctx context.Context) error {
		failures.Add(1)
		return errors.New("storage offline")
	})
	s.Register("panicking", time.Second, func(ctx context.Context) error {
		panics.Add(1)
		panic("boom")
	})
	s.Start()
	waitForTickers(t, clock, 2)

	clock.Advance(time.Second)
	waitFor(t, time.Second, func() bool {
		return failures.Load() == 1 && panics.Load() == 1
	})

	// both loops keep ticking after the failure and the panic
	clock.Advance(time.Second)
	waitFor(t, time.Second, func() bool {
		return failures.Load() == 2 && panics.Load() == 2
	})
}

func TestSchedulerStopHaltsLoops(t *testing.T) {
	clock := NewManualClock(time.Unix(0, 0))
	s := NewScheduler(clock, &testLogger{})

	var runs atomic.Int64
	s.Register("stopped", time.Second, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})
	s.Start()
	waitForTickers(t, clock, 1)

	clock.Advance(time.Second)
	waitFor(t, time.Second, func() bool { return runs.Load() == 1 })

	s.Stop()
	before := runs.Load()

	clock.Advance(10 * time.Second)
	time.Sleep(10 * time.Millisecond)
	if got := runs.Load(); got != before {
		t.Fatalf("task ran after Stop: %d -> %d", before, got)
	}
}

func TestSchedulerIgnoresNonPositiveInterval(t *testing.T) {
	clock := NewManualClock(time.Unix(0, 0))
	s := NewScheduler(clock, &testLogger{})
	defer s.Stop()

	s.Register("noop", 0, func(ctx context.Context) error { return nil })
	s.Start()

	s.mu.Lock()
	count := len(s.tasks)
	s.mu.Unlock()
	if count != 0 {
		t.Fatalf("registered %d tasks, want 0", count)
	}
}

func TestManualTickerCoalescesTicks(t *testing.T) {
	clock := NewManualClock(time.Unix(0, 0))
	ticker := clock.NewTicker(time.Second)
	defer ticker.Stop()

	// three elapsed intervals with no consumer deliver a single tick
	clock.Advance(3 * time.Second)

	select {
	case <-ticker.C():
	default:
		t.Fatal("no tick delivered")
	}
	select {
	case <-ticker.C():
		t.Fatal("ticks were not coalesced")
	default:
	}
}

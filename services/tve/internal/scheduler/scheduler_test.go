package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func TestJobsRunOnInterval(t *testing.T) {
	s := New(zap.NewNop())
	var count atomic.Int32
	s.Register("counter", 20*time.Millisecond, func(ctx context.Context) error {
		count.Add(1)
		return nil
	})

	s.Start(context.Background())
	defer s.Stop()

	waitFor(t, time.Second, func() bool { return count.Load() >= 2 })
}

func TestStopDrainsLoops(t *testing.T) {
	s := New(zap.NewNop())
	s.Register("ticker", 20*time.Millisecond, func(ctx context.Context) error {
		return nil
	})
	s.Start(context.Background())

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Stop did not return")
	}
}

func TestFailingJobKeepsTicking(t *testing.T) {
	s := New(zap.NewNop())
	var count atomic.Int32
	s.Register("flaky", 20*time.Millisecond, func(ctx context.Context) error {
		count.Add(1)
		return errors.New("transient")
	})

	s.Start(context.Background())
	defer s.Stop()

	waitFor(t, time.Second, func() bool { return count.Load() >= 2 })
}

func TestPanickingJobDoesNotKillScheduler(t *testing.T) {
	s := New(zap.NewNop())
	var panics atomic.Int32
	var healthy atomic.Int32
	s.Register("panicky", 20*time.Millisecond, func(ctx context.Context) error {
		panics.Add(1)
		panic("boom")
	})
	s.Register("healthy", 20*time.Millisecond, func(ctx context.Context) error {
		healthy.Add(1)
		return nil
	})

	s.Start(context.Background())
	defer s.Stop()

	waitFor(t, time.Second, func() bool { return panics.Load() >= 2 && healthy.Load() >= 2 })
}

func TestStopCancelsInFlightJob(t *testing.T) {
	s := New(zap.NewNop())
	entered := make(chan struct{}, 1)
	s.Register("blocker", 10*time.Millisecond, func(ctx context.Context) error {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return ctx.Err()
	})

	s.Start(context.Background())
	<-entered

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Stop did not cancel the in-flight job")
	}
}

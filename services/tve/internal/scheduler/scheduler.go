package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Job is a background task executed on a fixed interval.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler drives registered jobs on their own ticker loops. A job that
// returns an error or panics is logged and retried on the next tick; one
// bad job never takes down its neighbours or the process.
type Scheduler struct {
	log    *zap.Logger
	jobs   []Job
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(log *zap.Logger) *Scheduler {
	return &Scheduler{log: log}
}

func (s *Scheduler) Register(name string, interval time.Duration, run func(ctx context.Context) error) {
	s.jobs = append(s.jobs, Job{Name: name, Interval: interval, Run: run})
}

// Start launches one goroutine per registered job. Jobs inherit a context
// that Stop cancels.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	for _, job := range s.jobs {
		s.wg.Add(1)
		go s.loop(ctx, job)
	}
	s.log.Info("scheduler started", zap.Int("jobs", len(s.jobs)))
}

// Stop cancels all job contexts and waits for the loops to drain.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	defer s.wg.Done()

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("job stopped", zap.String("job", job.Name))
			return
		case <-ticker.C:
			s.runOnce(ctx, job)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, job Job) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("job panicked",
				zap.String("job", job.Name),
				zap.String("panic", fmt.Sprintf("%v", r)))
		}
	}()

	if err := job.Run(ctx); err != nil {
		s.log.Error("job failed",
			zap.String("job", job.Name),
			zap.Error(err))
	}
}

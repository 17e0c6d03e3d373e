// Package scheduler runs the periodic engines on a minute ticker. A job never
// overlaps itself; a slow job is skipped on later ticks until it finishes.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"retail-integration/internal/errsink"
)

const DefaultTick = time.Minute

type Job struct {
	Name string
	// Every is the minimum spacing between runs. Zero runs on every tick.
	Every time.Duration
	Run   func(ctx context.Context, now time.Time) error

	mu   sync.Mutex
	next time.Time
}

type Scheduler struct {
	jobs   []*Job
	tick   time.Duration
	sink   errsink.Sink
	now    func() time.Time
	wg     sync.WaitGroup
	logger *slog.Logger
}

func New(tick time.Duration, sink errsink.Sink, logger *slog.Logger, jobs ...*Job) *Scheduler {
	if tick <= 0 {
		tick = DefaultTick
	}
	return &Scheduler{
		jobs:   jobs,
		tick:   tick,
		sink:   sink,
		now:    time.Now,
		logger: logger,
	}
}

// Run fires due jobs immediately and then on every tick. It returns after ctx
// is done and every running job has returned.
func (s *Scheduler) Run(ctx context.Context) error {
	names := make([]string, len(s.jobs))
	for i, j := range s.jobs {
		names[i] = j.Name
	}
	s.logger.Info("scheduler started", "tick", s.tick, "jobs", names)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	s.fire(ctx, s.now())
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			s.logger.Info("scheduler stopped")
			return nil
		case <-ticker.C:
			s.fire(ctx, s.now())
		}
	}
}

func (s *Scheduler) fire(ctx context.Context, now time.Time) {
	for _, j := range s.jobs {
		if !j.mu.TryLock() {
			s.logger.Debug("job still running, skipped", "job", j.Name)
			continue
		}
		if now.Before(j.next) {
			j.mu.Unlock()
			continue
		}
		if j.Every > 0 {
			j.next = now.Add(j.Every)
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer j.mu.Unlock()
			s.run(ctx, j, now)
		}()
	}
}

func (s *Scheduler) run(ctx context.Context, j *Job, now time.Time) {
	origin := "schedule." + j.Name
	defer func() {
		if r := recover(); r != nil {
			s.sink.RecordPanic(ctx, origin, r)
		}
	}()

	started := time.Now()
	if err := j.Run(ctx, now); err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return
		}
		s.sink.Record(ctx, origin, err)
		return
	}
	s.logger.Debug("job finished", "job", j.Name, "took", time.Since(started))
}

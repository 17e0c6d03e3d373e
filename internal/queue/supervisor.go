package queue

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Supervisor runs one consumer per topic and restarts any that stop while
// the process is alive.
type Supervisor struct {
	consumers []*Consumer
	delay     time.Duration
	max       time.Duration
	logger    *slog.Logger
}

func NewSupervisor(delay, max time.Duration, logger *slog.Logger, consumers ...*Consumer) *Supervisor {
	if delay <= 0 {
		delay = 5 * time.Second
	}
	if max < delay {
		max = delay
	}
	return &Supervisor{
		consumers: consumers,
		delay:     delay,
		max:       max,
		logger:    logger,
	}
}

// Run blocks until ctx is done and every consumer has returned.
func (s *Supervisor) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, c := range s.consumers {
		g.Go(func() error {
			s.keep(ctx, c)
			return nil
		})
	}
	return g.Wait()
}

func (s *Supervisor) keep(ctx context.Context, c *Consumer) {
	backoff := s.delay
	for {
		err := c.Run(ctx)
		if ctx.Err() != nil {
			return
		}

		s.logger.Warn("consumer stopped, restarting", "topic", c.Topic(), "err", err, "backoff", backoff)
		if sleepOrDone(ctx, backoff) != nil {
			return
		}
		backoff = nextBackoff(backoff, s.max)
	}
}

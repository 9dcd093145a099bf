package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// RoundFunc is invoked on every aligned interval with the round's start.
type RoundFunc func(ctx context.Context, round time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Interval     time.Duration
	AlignToStart bool
	StartupDelay time.Duration
	RunAtStart   bool
}

// Scheduler drives aligned execution of keeper rounds.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
	now    func() time.Time
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Scheduler{
		opts:   opts,
		logger: logger.With().Str("component", "scheduler").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Run blocks, invoking round at each aligned interval until ctx is cancelled.
// A failed round is logged and does not stop the loop.
func (s *Scheduler) Run(ctx context.Context, round RoundFunc) error {
	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	if s.opts.RunAtStart {
		s.execute(ctx, round, s.now())
	}

	next := s.nextRound(s.now())
	for {
		delay := next.Sub(s.now())
		if delay < 0 {
			next = s.nextRound(s.now())
			delay = next.Sub(s.now())
		}

		timer := time.NewTimer(delay)
		s.logger.Debug().Time("next_round", next).Msg("waiting for next round")

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			timer.Stop()
		}

		s.execute(ctx, round, s.roundStart(next))
		next = next.Add(s.opts.Interval)
	}
}

func (s *Scheduler) execute(ctx context.Context, round RoundFunc, start time.Time) {
	s.logger.Info().Time("round", start).Msg("executing keeper round")
	if err := round(ctx, start); err != nil {
		s.logger.Error().Err(err).Time("round", start).Msg("keeper round failed")
	}
}

func (s *Scheduler) nextRound(now time.Time) time.Time {
	if !s.opts.AlignToStart {
		return now.Add(s.opts.Interval)
	}
	next := now.Truncate(s.opts.Interval)
	if !next.After(now) {
		next = next.Add(s.opts.Interval)
	}
	return next
}

func (s *Scheduler) roundStart(t time.Time) time.Time {
	if !s.opts.AlignToStart {
		return t
	}
	return t.Truncate(s.opts.Interval)
}

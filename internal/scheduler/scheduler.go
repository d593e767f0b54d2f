// Package scheduler drives the periodic check of every enabled user.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/keshon/therapy-bot/internal/settings"
	"github.com/keshon/therapy-bot/pkg/jobmgr"
)

// JobName is the jobmgr name the loop runs under.
const JobName = "scheduler"

// Ticker runs one check iteration.
type Ticker interface {
	OnTick(ctx context.Context) error
}

type Scheduler struct {
	ticker   Ticker
	settings *settings.Holder
	log      zerolog.Logger

	// after is time.After, replaced in tests.
	after func(time.Duration) <-chan time.Time
}

func New(t Ticker, h *settings.Holder, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		ticker:   t,
		settings: h,
		log:      log,
		after:    time.After,
	}
}

// Start launches the loop as a background job.
func (s *Scheduler) Start(jm *jobmgr.Manager) error {
	return jm.StartAsync(JobName, s.Run)
}

// Run ticks immediately and then every background delay until ctx is done.
// The delay is re-read before each wait so a settings reload takes effect
// on the next iteration. Tick errors are logged and never stop the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info().Msg("scheduler started")
	for {
		if err := s.ticker.OnTick(ctx); err != nil {
			switch {
			case ctx.Err() != nil:
			case errors.Is(err, context.Canceled):
			default:
				s.log.Error().Err(err).Msg("tick failed")
			}
		}

		delay := s.settings.Get().BackgroundDelay()
		select {
		case <-ctx.Done():
			s.log.Info().Msg("scheduler stopped")
			return ctx.Err()
		case <-s.after(delay):
		}
	}
}

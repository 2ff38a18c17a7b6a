package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Scheduler fires the orchestrator once per day at a fixed local time.
// A failed run does not change the next fire time.
type Scheduler struct {
	hour   int
	minute int
	log    zerolog.Logger
}

// NewScheduler builds a daily schedule at hour:minute.
func NewScheduler(hour, minute int, log zerolog.Logger) *Scheduler {
	return &Scheduler{hour: hour, minute: minute, log: log}
}

// NextRun returns the next hour:minute occurrence strictly after now.
func (s *Scheduler) NextRun(now time.Time) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), s.hour, s.minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// Loop blocks, invoking run at every scheduled time until ctx is done.
func (s *Scheduler) Loop(ctx context.Context, run func(ctx context.Context)) {
	for {
		next := s.NextRun(time.Now())
		s.log.Info().Time("next_run", next).Msg("scheduler: waiting for next run")

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		run(ctx)
	}
}

package digest

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// PreviousPeriod returns the start of the last complete period before now,
// with periods aligned to multiples of interval since the zero time.
func PreviousPeriod(now time.Time, interval time.Duration) time.Time {
	return NormalizePeriod(now.UTC().Truncate(interval).Add(-interval))
}

// Trigger runs a digest cycle at every period boundary.
type Trigger struct {
	Scheduler *Scheduler
	Interval  time.Duration

	now func() time.Time
}

// NewTrigger returns a Trigger firing every interval.
func NewTrigger(s *Scheduler, interval time.Duration) *Trigger {
	return &Trigger{Scheduler: s, Interval: interval, now: time.Now}
}

// Run fires once immediately, which catches up on a boundary missed while
// the process was down, and then at each following boundary until ctx is
// done. Cycle errors are logged; only ctx ends the loop.
func (t *Trigger) Run(ctx context.Context) error {
	for {
		now := t.now()
		if _, err := t.Scheduler.RunDigestCycle(ctx, PreviousPeriod(now, t.Interval)); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("digest cycle")
		}

		next := now.UTC().Truncate(t.Interval).Add(t.Interval)
		timer := time.NewTimer(next.Sub(t.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

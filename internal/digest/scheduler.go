// Package digest produces the periodic email summaries of board activity.
//
// A cycle enqueues one task per subscribed user for a period start. The
// (user, period) pair is unique in storage, so running a cycle twice for the
// same period, or on several replicas, enqueues each user once. Workers then
// claim pending tasks, compose the user's digest from the events since their
// cursor and send it with bounded retries.
package digest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-feature-board/internal/domain"
	"github.com/tbourn/go-feature-board/internal/repo"
	"github.com/tbourn/go-feature-board/internal/utils"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// CycleReport summarizes one RunDigestCycle call.
type CycleReport struct {
	PeriodStart time.Time `json:"period_start"`
	Users       int       `json:"users"`
	Enqueued    int       `json:"enqueued"`
	Skipped     int       `json:"skipped"`
	Failed      int       `json:"failed"`
}

// Scheduler enqueues digest tasks.
type Scheduler struct {
	DB *gorm.DB

	// EnqueueAttempts bounds retries of a single user's enqueue.
	EnqueueAttempts uint
	EnqueueDelay    time.Duration
}

// NewScheduler returns a Scheduler with default retry settings.
func NewScheduler(db *gorm.DB) *Scheduler {
	return &Scheduler{DB: db, EnqueueAttempts: 3, EnqueueDelay: 100 * time.Millisecond}
}

// NormalizePeriod maps t to the canonical period key: UTC, whole seconds.
func NormalizePeriod(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

// RunDigestCycle enqueues a digest task for every subscribed user for
// periodStart. Users that already have a task for the period are skipped.
// A failure to enumerate users fails the whole cycle; per-user failures are
// counted and returned joined after the remaining users were tried.
func (s *Scheduler) RunDigestCycle(ctx context.Context, periodStart time.Time) (CycleReport, error) {
	periodStart = NormalizePeriod(periodStart)
	rep := CycleReport{PeriodStart: periodStart}

	tr := otel.Tracer("digest/Scheduler")
	ctx, span := tr.Start(ctx, "RunDigestCycle",
		trace.WithAttributes(attribute.String("period_start", periodStart.Format(time.RFC3339))),
	)
	defer span.End()

	users, err := repo.ListSubscribedUserIDs(ctx, s.DB)
	if err != nil {
		span.RecordError(err)
		return rep, fmt.Errorf("enumerate subscribers: %w", err)
	}
	rep.Users = len(users)

	var errs []error
	for _, u := range users {
		inserted, err := s.enqueue(ctx, u, periodStart)
		switch {
		case err != nil:
			rep.Failed++
			errs = append(errs, fmt.Errorf("user %s: %w", u, err))
		case inserted:
			rep.Enqueued++
		default:
			rep.Skipped++
		}
	}

	log.Info().
		Time("period_start", periodStart).
		Int("users", rep.Users).
		Int("enqueued", rep.Enqueued).
		Int("skipped", rep.Skipped).
		Int("failed", rep.Failed).
		Msg("digest cycle")

	return rep, errors.Join(errs...)
}

func (s *Scheduler) enqueue(ctx context.Context, userID string, periodStart time.Time) (bool, error) {
	attempts := s.EnqueueAttempts
	if attempts == 0 {
		attempts = 1
	}
	var inserted bool
	err := retry.Do(
		func() error {
			var err error
			inserted, err = repo.EnqueueDigestTask(ctx, s.DB, userID, periodStart)
			return err
		},
		retry.Attempts(attempts),
		retry.Delay(s.EnqueueDelay),
		retry.MaxDelay(4*s.EnqueueDelay+time.Millisecond),
		retry.MaxJitter(jitter(s.EnqueueDelay)),
		retry.Context(ctx),
	)
	return inserted, err
}

// jitter keeps the random delay component positive.
func jitter(d time.Duration) time.Duration {
	if d/2 < time.Millisecond {
		return time.Millisecond
	}
	return d / 2
}

// Failed returns a page of tasks that used up their attempts, most recent
// first.
func (s *Scheduler) Failed(ctx context.Context, page, pageSize int) ([]domain.DigestTask, error) {
	page, pageSize = utils.Clamp(page, pageSize)
	return repo.ListFailedDigestTasks(ctx, s.DB, utils.Offset(page, pageSize), pageSize)
}

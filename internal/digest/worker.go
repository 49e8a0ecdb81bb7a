package digest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/tbourn/go-feature-board/internal/config"
	"github.com/tbourn/go-feature-board/internal/domain"
	"github.com/tbourn/go-feature-board/internal/mail"
	"github.com/tbourn/go-feature-board/internal/observability"
	"github.com/tbourn/go-feature-board/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Outcome is how processing a task ended.
type Outcome string

const (
	OutcomeSent     Outcome = "done"
	OutcomeEmpty    Outcome = "empty"
	OutcomeFailed   Outcome = "failed"
	OutcomeReleased Outcome = "released"
)

// errNoAddress marks users without a stored mail address.
var errNoAddress = fmt.Errorf("%w: user has no mail address", domain.ErrPermanent)

// finishFunc records a task as done and moves the user's cursor.
type finishFunc func(ctx context.Context, db *gorm.DB, task *domain.DigestTask, attempts int, lastEventID uint64) error

// Worker drains the digest task queue with a fixed pool of goroutines.
type Worker struct {
	DB       *gorm.DB
	Composer *Composer
	Mailer   mail.Sender

	Workers        int
	MaxAttempts    int
	AttemptTimeout time.Duration
	RetryDelay     time.Duration
	PollInterval   time.Duration
	StaleAfter     time.Duration

	finish finishFunc
}

// NewWorker builds a Worker from cfg.
func NewWorker(db *gorm.DB, events EventSource, mailer mail.Sender, cfg config.DigestConfig) *Worker {
	return &Worker{
		DB:             db,
		Composer:       NewComposer(events, cfg.MaxEvents),
		Mailer:         mailer,
		Workers:        cfg.Workers,
		MaxAttempts:    cfg.MaxAttempts,
		AttemptTimeout: cfg.AttemptTimeout,
		RetryDelay:     cfg.RetryDelay,
		PollInterval:   cfg.PollInterval,
		StaleAfter:     cfg.StaleAfter,
	}
}

// Run polls for pending tasks and processes them until ctx is done. One
// goroutine claims tasks and hands them to Workers processing goroutines.
func (w *Worker) Run(ctx context.Context) error {
	n := w.Workers
	if n < 1 {
		n = 1
	}
	tasks := make(chan domain.DigestTask)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(tasks)
		for {
			claimed, err := w.poll(gctx, tasks, n)
			if err != nil && gctx.Err() == nil {
				log.Warn().Err(err).Msg("digest poll")
			}
			if claimed > 0 {
				continue
			}
			t := time.NewTimer(w.PollInterval)
			select {
			case <-gctx.Done():
				t.Stop()
				return nil
			case <-t.C:
			}
		}
	})

	for i := 0; i < n; i++ {
		g.Go(func() error {
			for task := range tasks {
				w.Process(gctx, task)
			}
			return nil
		})
	}

	return g.Wait()
}

// poll requeues stale tasks, then claims up to limit pending tasks and sends
// them on out. It returns how many it claimed.
func (w *Worker) poll(ctx context.Context, out chan<- domain.DigestTask, limit int) (int, error) {
	if w.StaleAfter > 0 {
		n, err := repo.ResetStaleDigestTasks(ctx, w.DB, time.Now().UTC().Add(-w.StaleAfter))
		if err != nil {
			return 0, fmt.Errorf("reset stale: %w", err)
		}
		if n > 0 {
			log.Warn().Int64("tasks", n).Msg("requeued stale digest tasks")
		}
	}

	pending, err := repo.ListPendingDigestTasks(ctx, w.DB, limit)
	if err != nil {
		return 0, fmt.Errorf("list pending: %w", err)
	}

	claimed := 0
	for _, task := range pending {
		ok, err := repo.ClaimDigestTask(ctx, w.DB, task.ID)
		if err != nil {
			return claimed, fmt.Errorf("claim %s: %w", task.ID, err)
		}
		if !ok {
			continue
		}
		claimed++
		select {
		case out <- task:
		case <-ctx.Done():
			w.release(task)
			return claimed, ctx.Err()
		}
	}
	return claimed, nil
}

// Drain claims and processes pending tasks on the calling goroutine until
// none are left, and returns how many ended in each outcome.
func (w *Worker) Drain(ctx context.Context) (map[Outcome]int, error) {
	out := make(map[Outcome]int)
	for {
		pending, err := repo.ListPendingDigestTasks(ctx, w.DB, 16)
		if err != nil {
			return out, err
		}
		if len(pending) == 0 {
			return out, nil
		}
		for _, task := range pending {
			ok, err := repo.ClaimDigestTask(ctx, w.DB, task.ID)
			if err != nil {
				return out, err
			}
			if ok {
				out[w.Process(ctx, task)]++
			}
		}
	}
}

// Process sends the digest of a claimed task, retrying transient failures
// with backoff up to MaxAttempts, and records the final status. A task left
// unfinished because ctx ended is returned to pending.
func (w *Worker) Process(ctx context.Context, task domain.DigestTask) Outcome {
	out, _ := w.process(ctx, task)
	return out
}

// progress carries what earlier tries on the same task achieved. Once the
// mail went out, later tries only record it.
type progress struct {
	empty  bool
	sent   bool
	cursor uint64
}

func (w *Worker) process(ctx context.Context, task domain.DigestTask) (Outcome, error) {
	tr := otel.Tracer("digest/Worker")
	ctx, span := tr.Start(ctx, "Process",
		trace.WithAttributes(
			attribute.String("user.id", task.UserID),
			attribute.String("task.id", task.ID),
		),
	)
	defer span.End()

	logger := log.With().Str("task_id", task.ID).Str("user_id", task.UserID).Logger()

	// task.Attempts is the count before the claim that handed it to us
	attempts := task.Attempts
	var p progress
	var err error
	if w.MaxAttempts > 0 && task.Attempts >= w.MaxAttempts {
		attempts++
		err = fmt.Errorf("%w: attempts exhausted before this claim", domain.ErrPermanent)
	} else {
		err = retry.Do(
			func() error {
				attempts++
				actx, cancel := context.WithTimeout(ctx, w.AttemptTimeout)
				defer cancel()
				return classify(w.attempt(actx, task, attempts, &p))
			},
			retry.Attempts(w.attemptsLeft(task)),
			retry.Delay(w.delay()),
			retry.MaxDelay(8*w.delay()),
			retry.MaxJitter(jitter(w.delay())),
			retry.Context(ctx),
			retry.LastErrorOnly(true),
			retry.OnRetry(func(n uint, err error) {
				observability.DigestTasks.WithLabelValues("retried").Inc()
				logger.Warn().Err(err).Uint("attempt", n+1).Msg("digest attempt failed, retrying")
			}),
			retry.RetryIf(func(err error) bool {
				return errors.Is(err, domain.ErrTransient) && !errors.Is(err, domain.ErrPermanent)
			}),
		)
	}

	switch {
	case err == nil && p.empty:
		observability.DigestTasks.WithLabelValues(string(OutcomeEmpty)).Inc()
		logger.Debug().Msg("digest empty")
		return OutcomeEmpty, nil
	case err == nil:
		observability.DigestTasks.WithLabelValues(string(OutcomeSent)).Inc()
		logger.Info().Int("attempts", attempts).Msg("digest sent")
		return OutcomeSent, nil
	case ctx.Err() != nil:
		if p.sent {
			if ferr := w.finishTask(context.WithoutCancel(ctx), &task, attempts, p.cursor); ferr == nil {
				observability.DigestTasks.WithLabelValues(string(OutcomeSent)).Inc()
				return OutcomeSent, nil
			}
		}
		w.release(task)
		return OutcomeReleased, ctx.Err()
	}

	if !errors.Is(err, domain.ErrPermanent) {
		err = fmt.Errorf("%w: gave up after %d attempts: %w", domain.ErrPermanent, attempts, err)
	}
	span.RecordError(err)
	if ferr := repo.FailDigestTask(context.WithoutCancel(ctx), w.DB, task.ID, attempts, err.Error()); ferr != nil {
		logger.Error().Err(ferr).Msg("record digest failure")
	}
	observability.DigestTasks.WithLabelValues(string(OutcomeFailed)).Inc()
	if p.sent {
		logger.Warn().Uint64("cursor", p.cursor).Msg("digest was delivered but not recorded; its events will be sent again")
	}
	logger.Error().Err(err).Int("attempts", attempts).Msg("digest failed")
	return OutcomeFailed, err
}

// classify marks errors that carry no failure class as transient.
func classify(err error) error {
	if err == nil || errors.Is(err, domain.ErrPermanent) || errors.Is(err, domain.ErrTransient) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrTransient, err)
}

// attempt composes and sends one digest, or only records it when an earlier
// try already sent it. An empty digest finishes the task without moving the
// cursor.
func (w *Worker) attempt(ctx context.Context, task domain.DigestTask, attempts int, p *progress) error {
	if !p.sent {
		user, err := repo.GetUser(ctx, w.DB, task.UserID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return errNoAddress
			}
			return err
		}

		cursor, err := repo.GetDigestCursor(ctx, w.DB, task.UserID)
		if err != nil {
			return err
		}
		since := task.PeriodStart
		if cursor.LastEventID > 0 {
			since = cursor.LastDigestAt
		}

		d, err := w.Composer.Compose(ctx, w.DB, *user, since, cursor.LastEventID)
		if err != nil {
			return err
		}
		if d.Empty() {
			p.empty = true
			return w.finishTask(ctx, &task, attempts, 0)
		}
		p.empty = false

		subject, body := Render(d)
		if err := w.Mailer.Send(ctx, user.Email, subject, body); err != nil {
			return err
		}
		p.sent, p.cursor = true, d.Cursor
	}
	if err := w.finishTask(ctx, &task, attempts, p.cursor); err != nil {
		return fmt.Errorf("finish task: %w", err)
	}
	return nil
}

func (w *Worker) finishTask(ctx context.Context, task *domain.DigestTask, attempts int, lastEventID uint64) error {
	if w.finish != nil {
		return w.finish(ctx, w.DB, task, attempts, lastEventID)
	}
	return repo.FinishDigestTask(ctx, w.DB, task, attempts, lastEventID)
}

func (w *Worker) attemptsLeft(task domain.DigestTask) uint {
	left := w.MaxAttempts - task.Attempts
	if left < 1 {
		left = 1
	}
	return uint(left)
}

func (w *Worker) delay() time.Duration {
	if w.RetryDelay < time.Millisecond {
		return time.Millisecond
	}
	return w.RetryDelay
}

func (w *Worker) release(task domain.DigestTask) {
	if err := repo.ReleaseDigestTask(context.Background(), w.DB, task.ID); err != nil {
		log.Error().Err(err).Str("task_id", task.ID).Msg("release digest task")
	}
}

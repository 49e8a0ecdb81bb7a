// Package services – Fanout
//
// Fanout turns one event into one notification row per recipient and then
// tells each affected recipient's live sessions their new unread count.
// Rows are the durable source of truth; the push is best effort and its
// failures never reach the caller.
//
// Pushes run off the caller's goroutine. Each user hashes to one of
// pushStripes lanes, and a lane works its queue in FIFO order on a single
// goroutine, so a user's counts are read and pushed in order. A user already
// waiting in a lane is not queued twice: the count is read when the push
// runs, so the one queued push carries every change committed before it.
package services

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-feature-board/internal/domain"
	"github.com/tbourn/go-feature-board/internal/observability"
	"github.com/tbourn/go-feature-board/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// UnreadPayload is the live push message. It is an absolute value, so a
// client that missed earlier pushes is corrected by the next one.
type UnreadPayload struct {
	UnreadCount int64 `json:"unread_count"`
}

// Pusher delivers a payload to every live session of a user.
type Pusher interface {
	Push(userID string, payload any) error
}

const pushStripes = 64

// Fanout records notifications and pushes unread counts.
type Fanout struct {
	DB     *gorm.DB
	Pusher Pusher

	lanes [pushStripes]pushLane

	mu       sync.Mutex
	inflight int
	idle     chan struct{} // closed when inflight drops to zero
}

type pushJob struct {
	ctx    context.Context
	userID string
}

type pushLane struct {
	mu      sync.Mutex
	queue   []pushJob
	pending map[string]struct{}
	running bool
}

// NewFanout constructs a Fanout. p may be nil, in which case pushes are
// skipped.
func NewFanout(db *gorm.DB, p Pusher) *Fanout {
	return &Fanout{DB: db, Pusher: p}
}

// Notify records notifications for ev in its own transaction and queues
// pushes of the new unread counts after commit.
func (f *Fanout) Notify(ctx context.Context, ev *domain.Event, recipients []string) ([]domain.Notification, error) {
	var out []domain.Notification
	err := f.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		n, err := f.Record(ctx, tx, ev, recipients)
		out = n
		return err
	})
	if err != nil {
		return nil, err
	}
	f.PushUnread(ctx, RecipientsOf(out))
	return out, nil
}

// Record inserts, inside tx, one notification per recipient other than the
// event's actor. Blank and repeated recipients are ignored. A recipient that
// already has a notification for ev gets the existing row back.
func (f *Fanout) Record(ctx context.Context, tx *gorm.DB, ev *domain.Event, recipients []string) ([]domain.Notification, error) {
	tr := otel.Tracer("services/Fanout")
	ctx, span := tr.Start(ctx, "Record",
		trace.WithAttributes(
			attribute.Int64("event.id", int64(ev.ID)),
			attribute.Int("recipients", len(recipients)),
		),
	)
	defer span.End()

	seen := make(map[string]struct{}, len(recipients))
	out := make([]domain.Notification, 0, len(recipients))
	for _, r := range recipients {
		r = strings.TrimSpace(r)
		if r == "" || r == ev.ActorUserID {
			continue
		}
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}

		n, inserted, err := repo.InsertNotification(ctx, tx, ev.ID, r)
		if err != nil {
			return nil, err
		}
		if inserted {
			observability.NotificationsCreated.Inc()
		}
		out = append(out, *n)
	}
	return out, nil
}

// PushUnread queues a push of each user's current unread count and returns
// without waiting for it. Failures are logged and swallowed.
func (f *Fanout) PushUnread(ctx context.Context, userIDs []string) {
	if f.Pusher == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, u := range userIDs {
		f.enqueue(ctx, u)
	}
}

// Flush waits until no push is queued or running, or ctx ends.
func (f *Fanout) Flush(ctx context.Context) error {
	f.mu.Lock()
	idle := f.idle
	f.mu.Unlock()
	if idle == nil {
		return nil
	}
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Fanout) enqueue(ctx context.Context, userID string) {
	l := &f.lanes[stripe(userID)]
	l.mu.Lock()
	if _, queued := l.pending[userID]; queued {
		l.mu.Unlock()
		return
	}
	if l.pending == nil {
		l.pending = make(map[string]struct{})
	}
	l.pending[userID] = struct{}{}
	l.queue = append(l.queue, pushJob{ctx: ctx, userID: userID})
	f.track(1)
	start := !l.running
	l.running = true
	l.mu.Unlock()

	if start {
		go f.drain(l)
	}
}

// drain works l's queue until it is empty.
func (f *Fanout) drain(l *pushLane) {
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.running = false
			l.mu.Unlock()
			return
		}
		job := l.queue[0]
		l.queue[0] = pushJob{}
		l.queue = l.queue[1:]
		// removed before counting so a change committed from here on queues
		// another push
		delete(l.pending, job.userID)
		l.mu.Unlock()

		f.pushOne(job.ctx, job.userID)
		f.track(-1)
	}
}

func (f *Fanout) track(delta int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inflight == 0 && delta > 0 {
		f.idle = make(chan struct{})
	}
	f.inflight += delta
	if f.inflight == 0 && f.idle != nil {
		close(f.idle)
		f.idle = nil
	}
}

func (f *Fanout) pushOne(ctx context.Context, userID string) {
	n, err := repo.CountUnread(ctx, f.DB, userID)
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("count unread for push")
		return
	}
	if err := f.Pusher.Push(userID, UnreadPayload{UnreadCount: n}); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("push unread count")
	}
}

// RecipientsOf returns the distinct recipients of ns in order of first
// appearance.
func RecipientsOf(ns []domain.Notification) []string {
	seen := make(map[string]struct{}, len(ns))
	out := make([]string, 0, len(ns))
	for _, n := range ns {
		if _, ok := seen[n.RecipientUserID]; ok {
			continue
		}
		seen[n.RecipientUserID] = struct{}{}
		out = append(out, n.RecipientUserID)
	}
	return out
}

func stripe(userID string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return h.Sum32() % pushStripes
}

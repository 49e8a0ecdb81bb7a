package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-feature-board/internal/domain"
	"github.com/tbourn/go-feature-board/internal/repo"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:boardsvc_%s?mode=memory&cache=shared", uuid.NewString())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB(): %v", err)
	}
	// One connection serializes writers, avoiding shared-cache table locks.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// recordingPusher captures pushes per user in issue order.
type recordingPusher struct {
	mu     sync.Mutex
	pushes map[string][]int64
	err    error
}

func newRecordingPusher() *recordingPusher {
	return &recordingPusher{pushes: map[string][]int64{}}
}

func (p *recordingPusher) Push(userID string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if up, ok := payload.(UnreadPayload); ok {
		p.pushes[userID] = append(p.pushes[userID], up.UnreadCount)
	}
	return p.err
}

func (p *recordingPusher) last(userID string) (int64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	xs := p.pushes[userID]
	if len(xs) == 0 {
		return 0, false
	}
	return xs[len(xs)-1], true
}

func (p *recordingPusher) count(userID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pushes[userID])
}

// recordingInvalidator counts invalidations per project.
type recordingInvalidator struct {
	mu    sync.Mutex
	calls map[string]int
}

func (r *recordingInvalidator) Invalidate(_ context.Context, projectID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.calls == nil {
		r.calls = map[string]int{}
	}
	r.calls[projectID]++
	return nil
}

func (r *recordingInvalidator) n(projectID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[projectID]
}

type fixture struct {
	db     *gorm.DB
	events *EventStore
	fanout *Fanout
	pusher *recordingPusher
	stats  *recordingInvalidator
	board  *BoardService
	notes  *NotificationService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := newTestDB(t)
	p := newRecordingPusher()
	inv := &recordingInvalidator{}
	events := NewEventStore(db)
	fan := NewFanout(db, p)
	return &fixture{
		db:     db,
		events: events,
		fanout: fan,
		pusher: p,
		stats:  inv,
		board:  NewBoardService(db, events, fan, inv),
		notes:  &NotificationService{DB: db, Fanout: fan},
	}
}

func (f *fixture) project(t *testing.T, subscribers ...string) *domain.Project {
	t.Helper()
	p, err := f.board.CreateProject(context.Background(), "Board")
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	for _, u := range subscribers {
		if err := f.board.Subscribe(context.Background(), u, p.ID); err != nil {
			t.Fatalf("Subscribe(%s): %v", u, err)
		}
	}
	return p
}

// feature inserts a feature directly so no event or notification is produced.
func (f *fixture) feature(t *testing.T, projectID, author string) *domain.Feature {
	t.Helper()
	ft, err := repo.CreateFeature(context.Background(), f.db, projectID, author, "Dark mode")
	if err != nil {
		t.Fatalf("CreateFeature: %v", err)
	}
	return ft
}

// settle waits for queued unread pushes to be delivered.
func (f *fixture) settle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.fanout.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
}

func (f *fixture) unread(t *testing.T, userID string) int64 {
	t.Helper()
	n, err := repo.CountUnread(context.Background(), f.db, userID)
	if err != nil {
		t.Fatalf("CountUnread: %v", err)
	}
	return n
}

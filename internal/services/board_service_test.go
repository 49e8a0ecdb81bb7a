package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/tbourn/go-feature-board/internal/cache"
	"github.com/tbourn/go-feature-board/internal/domain"
	"github.com/tbourn/go-feature-board/internal/repo"
)

func TestAddComment_ActorExcludedSubscriberNotified(t *testing.T) {
	f := newFixture(t)
	p := f.project(t, "B")
	ft := f.feature(t, p.ID, "B")

	c, res, err := f.board.AddComment(context.Background(), "A", ft.ID, "  looks good  ")
	if err != nil {
		t.Fatalf("AddComment: %v", err)
	}
	if c.Body != "looks good" {
		t.Fatalf("body not trimmed: %q", c.Body)
	}
	if res.Event.Kind != domain.EventCommentAdded || res.Event.ActorUserID != "A" || res.Event.Ref.CommentID != c.ID {
		t.Fatalf("unexpected event: %+v", res.Event)
	}
	got := RecipientsOf(res.Notifications)
	if len(got) != 1 || got[0] != "B" {
		t.Fatalf("notified %v; want [B]", got)
	}
	if f.unread(t, "B") != 1 || f.unread(t, "A") != 0 {
		t.Fatalf("unread B=%d A=%d", f.unread(t, "B"), f.unread(t, "A"))
	}
	f.settle(t)
	if n, ok := f.pusher.last("B"); !ok || n != 1 {
		t.Fatalf("push to B = %d (ok=%v); want 1", n, ok)
	}
	if f.pusher.count("A") != 0 {
		t.Fatalf("actor must not be pushed")
	}
	if f.stats.n(p.ID) != 0 {
		t.Fatalf("comments must not invalidate stats")
	}
}

func TestAddComment_Validation(t *testing.T) {
	f := newFixture(t)
	p := f.project(t)
	ft := f.feature(t, p.ID, "B")
	ctx := context.Background()

	if _, _, err := f.board.AddComment(ctx, "A", ft.ID, "   "); !errors.Is(err, ErrEmptyBody) {
		t.Fatalf("blank body: %v", err)
	}
	if _, _, err := f.board.AddComment(ctx, "A", ft.ID, strings.Repeat("x", 4001)); !errors.Is(err, ErrTooLong) {
		t.Fatalf("long body: %v", err)
	}
	if _, _, err := f.board.AddComment(ctx, "A", "missing", "hi"); !errors.Is(err, ErrFeatureNotFound) {
		t.Fatalf("missing feature: %v", err)
	}
	if _, _, err := f.board.AddComment(ctx, "", ft.ID, "hi"); !errors.Is(err, ErrValidation) {
		t.Fatalf("blank actor: %v", err)
	}
	var n int64
	f.db.Model(&domain.Comment{}).Count(&n)
	if n != 0 {
		t.Fatalf("failed action left %d comments behind", n)
	}
}

func TestChangeStatus_InvalidatesStatsCache(t *testing.T) {
	db := newTestDB(t)
	events := NewEventStore(db)
	fan := NewFanout(db, newRecordingPusher())
	stats := cache.NewMemory(cache.FromDB(db), cache.DefaultTTL)
	board := NewBoardService(db, events, fan, stats)
	ctx := context.Background()

	p, _ := board.CreateProject(ctx, "P")
	f1, _, err := board.CreateFeature(ctx, "author", p.ID, "one")
	if err != nil {
		t.Fatalf("CreateFeature: %v", err)
	}
	if _, _, err := board.CreateFeature(ctx, "author", p.ID, "two"); err != nil {
		t.Fatalf("CreateFeature: %v", err)
	}

	got, err := stats.Get(ctx, p.ID)
	if err != nil || got[domain.StatusProposed] != 2 {
		t.Fatalf("stats = %v, %v; want proposed:2", got, err)
	}

	if _, _, err := board.ChangeStatus(ctx, "pm", f1.ID, domain.StatusPlanned); err != nil {
		t.Fatalf("ChangeStatus: %v", err)
	}
	got, err = stats.Get(ctx, p.ID)
	if err != nil || got[domain.StatusProposed] != 1 || got[domain.StatusPlanned] != 1 {
		t.Fatalf("stats after change = %v, %v; want proposed:1 planned:1", got, err)
	}
}

func TestChangeStatus_Rules(t *testing.T) {
	f := newFixture(t)
	p := f.project(t, "S")
	ft := f.feature(t, p.ID, "author")
	ctx := context.Background()

	if _, _, err := f.board.ChangeStatus(ctx, "pm", ft.ID, "shipped"); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("invalid status: %v", err)
	}
	same, res, err := f.board.ChangeStatus(ctx, "pm", ft.ID, domain.StatusProposed)
	if err != nil || res != nil || same.Status != domain.StatusProposed {
		t.Fatalf("no-op change = %+v, %+v, %v", same, res, err)
	}

	upd, res, err := f.board.ChangeStatus(ctx, "pm", ft.ID, domain.StatusInProgress)
	if err != nil {
		t.Fatalf("ChangeStatus: %v", err)
	}
	if upd.Status != domain.StatusInProgress || res.Event.Kind != domain.EventStatusChanged {
		t.Fatalf("unexpected result: %+v %+v", upd, res.Event)
	}
	if len(RecipientsOf(res.Notifications)) != 2 {
		t.Fatalf("expected author and subscriber notified, got %v", RecipientsOf(res.Notifications))
	}
	if f.stats.n(p.ID) != 1 {
		t.Fatalf("invalidations = %d; want 1", f.stats.n(p.ID))
	}
}

func TestCastVote_OncePerUser(t *testing.T) {
	f := newFixture(t)
	p := f.project(t)
	ft := f.feature(t, p.ID, "author")
	ctx := context.Background()

	res, err := f.board.CastVote(ctx, "voter", ft.ID)
	if err != nil {
		t.Fatalf("CastVote: %v", err)
	}
	if res.Event.Kind != domain.EventVoteCast || f.unread(t, "author") != 1 {
		t.Fatalf("vote not fanned out to author")
	}
	if _, err := f.board.CastVote(ctx, "voter", ft.ID); !errors.Is(err, ErrAlreadyVoted) || !errors.Is(err, ErrConflict) {
		t.Fatalf("second vote: %v", err)
	}
	var n int64
	f.db.Model(&domain.Event{}).Where("kind = ?", domain.EventVoteCast).Count(&n)
	if n != 1 {
		t.Fatalf("vote events = %d; want 1", n)
	}
	if f.stats.n(p.ID) != 0 {
		t.Fatalf("votes must not invalidate stats")
	}
}

func TestCreateAndDeleteFeature(t *testing.T) {
	f := newFixture(t)
	p := f.project(t, "S")
	ctx := context.Background()

	if _, _, err := f.board.CreateFeature(ctx, "author", "ghost", "x"); !errors.Is(err, ErrProjectNotFound) {
		t.Fatalf("missing project: %v", err)
	}
	if _, _, err := f.board.CreateFeature(ctx, "author", p.ID, " "); !errors.Is(err, ErrEmptyTitle) {
		t.Fatalf("blank title: %v", err)
	}

	ft, res, err := f.board.CreateFeature(ctx, "author", p.ID, "Export CSV")
	if err != nil {
		t.Fatalf("CreateFeature: %v", err)
	}
	if ft.Status != domain.StatusProposed || res.Event.Kind != domain.EventFeatureCreated {
		t.Fatalf("unexpected create result: %+v %+v", ft, res.Event)
	}
	if f.unread(t, "S") != 1 {
		t.Fatalf("subscriber should hear about the new feature")
	}

	del, err := f.board.DeleteFeature(ctx, "S", ft.ID)
	if err != nil {
		t.Fatalf("DeleteFeature: %v", err)
	}
	if del.Event.Kind != domain.EventFeatureDeleted {
		t.Fatalf("unexpected delete event: %+v", del.Event)
	}
	if got := RecipientsOf(del.Notifications); len(got) != 1 || got[0] != "author" {
		t.Fatalf("delete recipients = %v; want [author]", got)
	}
	if _, err := repo.GetFeature(ctx, f.db, ft.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("feature still visible after delete: %v", err)
	}
	if _, err := f.board.DeleteFeature(ctx, "S", ft.ID); !errors.Is(err, ErrFeatureNotFound) {
		t.Fatalf("second delete: %v", err)
	}
	if f.stats.n(p.ID) != 2 {
		t.Fatalf("invalidations = %d; want 2", f.stats.n(p.ID))
	}
}

func TestSubscribeAndRegisterUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.board.Subscribe(ctx, "u1", "ghost"); !errors.Is(err, ErrProjectNotFound) {
		t.Fatalf("subscribe to missing project: %v", err)
	}
	if _, err := f.board.RegisterUser(ctx, "u1", "not-an-address", ""); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("bad address: %v", err)
	}
	u, err := f.board.RegisterUser(ctx, "u1", "Ada <ada@example.com>", " Ada ")
	if err != nil || u.Email != "ada@example.com" || u.Name != "Ada" {
		t.Fatalf("RegisterUser = %+v, %v", u, err)
	}
}

func TestMarkAllReadThenNewEvent_UnreadIsOne(t *testing.T) {
	f := newFixture(t)
	p := f.project(t, "B")
	ft := f.feature(t, p.ID, "author")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, _, err := f.board.AddComment(ctx, "A", ft.ID, "ping"); err != nil {
			t.Fatalf("AddComment: %v", err)
		}
	}
	if _, err := f.notes.MarkAllRead(ctx, "B"); err != nil {
		t.Fatalf("MarkAllRead: %v", err)
	}
	f.settle(t)
	if n, _ := f.pusher.last("B"); n != 0 {
		t.Fatalf("push after MarkAllRead = %d; want 0", n)
	}

	if _, err := f.board.CastVote(ctx, "A", ft.ID); err != nil {
		t.Fatalf("CastVote: %v", err)
	}
	n, err := f.notes.UnreadCount(ctx, "B")
	if err != nil || n != 1 {
		t.Fatalf("unread = %d, %v; want 1", n, err)
	}
	f.settle(t)
	if last, _ := f.pusher.last("B"); last != 1 {
		t.Fatalf("last push = %d; want 1", last)
	}
}

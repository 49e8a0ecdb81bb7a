package domain

import (
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newDomainDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	return db
}

func TestTableNames(t *testing.T) {
	cases := map[string]string{
		(User{}).TableName():         "users",
		(Project{}).TableName():      "projects",
		(Feature{}).TableName():      "features",
		(Comment{}).TableName():      "comments",
		(Vote{}).TableName():         "votes",
		(Event{}).TableName():        "events",
		(Notification{}).TableName(): "notifications",
		(Subscription{}).TableName(): "subscriptions",
		(DigestTask{}).TableName():   "digest_tasks",
		(DigestCursor{}).TableName(): "digest_cursors",
		(Idempotency{}).TableName():  "idempotency",
	}
	for got, want := range cases {
		if got != want {
			t.Fatalf("TableName() = %q; want %q", got, want)
		}
	}
}

func TestFeatureStatus_Valid(t *testing.T) {
	for _, s := range Statuses {
		if !s.Valid() {
			t.Fatalf("%q should be valid", s)
		}
	}
	if FeatureStatus("shipped").Valid() {
		t.Fatalf("unknown status reported valid")
	}
}

func TestEventKind_AffectsStats(t *testing.T) {
	affects := map[EventKind]bool{
		EventCommentAdded:   false,
		EventVoteCast:       false,
		EventStatusChanged:  true,
		EventFeatureCreated: true,
		EventFeatureDeleted: true,
	}
	for k, want := range affects {
		if got := k.AffectsStats(); got != want {
			t.Fatalf("%s.AffectsStats() = %v; want %v", k, got, want)
		}
	}
}

func TestMigrations_Indexes(t *testing.T) {
	db := newDomainDB(t)
	if err := db.AutoMigrate(&Feature{}, &Event{}, &Notification{}, &Subscription{}, &DigestTask{}, &Vote{}, &Idempotency{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	m := db.Migrator()
	idx := []struct {
		model any
		name  string
	}{
		{&Feature{}, "idx_features_project_status"},
		{&Event{}, "idx_events_project"},
		{&Notification{}, "ux_notifications_event_recipient"},
		{&Notification{}, "idx_notifications_recipient_read"},
		{&Subscription{}, "ux_subscriptions_project_user"},
		{&DigestTask{}, "ux_digest_tasks_user_period"},
		{&Vote{}, "ux_votes_feature_user"},
		{&Idempotency{}, "ux_user_scope_key"},
	}
	for _, tc := range idx {
		if !m.HasIndex(tc.model, tc.name) {
			t.Fatalf("expected index %s on %T", tc.name, tc.model)
		}
	}
	if !m.HasColumn(&Event{}, "ref_kind") || !m.HasColumn(&Event{}, "project_id") {
		t.Fatalf("expected embedded entity ref columns on events")
	}
}

func TestNotification_UniquePerEventRecipient(t *testing.T) {
	db := newDomainDB(t)
	if err := db.AutoMigrate(&Notification{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	n1 := Notification{ID: "n1", EventID: 7, RecipientUserID: "bob", CreatedAt: time.Now().UTC()}
	if err := db.Create(&n1).Error; err != nil {
		t.Fatalf("first insert: %v", err)
	}
	n2 := Notification{ID: "n2", EventID: 7, RecipientUserID: "bob", CreatedAt: time.Now().UTC()}
	if err := db.Create(&n2).Error; err == nil {
		t.Fatalf("expected unique violation for duplicate (event, recipient)")
	}
	n3 := Notification{ID: "n3", EventID: 7, RecipientUserID: "carol", CreatedAt: time.Now().UTC()}
	if err := db.Create(&n3).Error; err != nil {
		t.Fatalf("other recipient insert: %v", err)
	}
}

func TestEvent_AutoIncrementIsMonotonic(t *testing.T) {
	db := newDomainDB(t)
	if err := db.AutoMigrate(&Event{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	var last uint64
	for i := 0; i < 3; i++ {
		ev := Event{
			Kind:        EventVoteCast,
			Ref:         FeatureRef("p1", "f1"),
			ActorUserID: "alice",
			CreatedAt:   time.Now().UTC(),
		}
		if err := db.Create(&ev).Error; err != nil {
			t.Fatalf("insert: %v", err)
		}
		if ev.ID <= last {
			t.Fatalf("event id %d not greater than previous %d", ev.ID, last)
		}
		last = ev.ID
	}
}

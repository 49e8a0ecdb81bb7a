// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the append-only event log.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-feature-board/internal/domain"
)

// InsertEvent appends ev and fills in its storage-assigned ID.
//
// CreatedAt is assigned here, inside the caller's transaction, and clamped to
// the latest created_at already recorded for the same project so it never
// decreases per project even if the application clock steps backwards.
func InsertEvent(ctx context.Context, tx *gorm.DB, ev *domain.Event) error {
	now := time.Now().UTC()

	var last struct {
		CreatedAt time.Time
	}
	err := tx.WithContext(ctx).
		Model(&domain.Event{}).
		Select("created_at").
		Where("project_id = ?", ev.Ref.ProjectID).
		Order("id DESC").
		Limit(1).
		Scan(&last).Error
	if err != nil {
		return err
	}
	if last.CreatedAt.After(now) {
		now = last.CreatedAt.UTC()
	}
	ev.ID = 0
	ev.CreatedAt = now
	return tx.WithContext(ctx).Create(ev).Error
}

// GetEvent fetches an event by id.
func GetEvent(ctx context.Context, db *gorm.DB, id uint64) (*domain.Event, error) {
	var ev domain.Event
	if err := db.WithContext(ctx).Where("id = ?", id).First(&ev).Error; err != nil {
		return nil, err
	}
	return &ev, nil
}

// ListEventsSince returns the events of a project created at or after since,
// in append order (id ASC). A limit <= 0 means no limit.
func ListEventsSince(ctx context.Context, db *gorm.DB, projectID string, since time.Time, limit int) ([]domain.Event, error) {
	var out []domain.Event
	q := db.WithContext(ctx).
		Where("project_id = ? AND created_at >= ?", projectID, since.UTC()).
		Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// ListEventsAfter returns the events of a project whose id is greater than
// afterID, in append order. A limit <= 0 means no limit.
func ListEventsAfter(ctx context.Context, db *gorm.DB, projectID string, afterID uint64, limit int) ([]domain.Event, error) {
	var out []domain.Event
	q := db.WithContext(ctx).
		Where("project_id = ? AND id > ?", projectID, afterID).
		Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// GetEventsByIDs loads the given events keyed by id.
func GetEventsByIDs(ctx context.Context, db *gorm.DB, ids []uint64) (map[uint64]domain.Event, error) {
	out := make(map[uint64]domain.Event, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []domain.Event
	if err := db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, ev := range rows {
		out[ev.ID] = ev
	}
	return out, nil
}

// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// Notification model.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-feature-board/internal/domain"
)

// InsertNotification creates the notification for (eventID, recipient) unless
// one already exists. The unique index decides: the insert uses
// ON CONFLICT DO NOTHING, so concurrent callers cannot produce duplicates.
//
// It returns the stored row (new or pre-existing) and whether this call
// inserted it.
func InsertNotification(ctx context.Context, tx *gorm.DB, eventID uint64, recipient string) (*domain.Notification, bool, error) {
	n := &domain.Notification{
		ID:              uuid.NewString(),
		EventID:         eventID,
		RecipientUserID: recipient,
		CreatedAt:       time.Now().UTC(),
	}
	res := tx.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(n)
	if res.Error != nil {
		if !isUniqueViolation(res.Error) {
			return nil, false, res.Error
		}
	} else if res.RowsAffected == 1 {
		return n, true, nil
	}

	existing, err := GetNotificationFor(ctx, tx, eventID, recipient)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// GetNotificationFor fetches the notification of recipient for eventID.
func GetNotificationFor(ctx context.Context, db *gorm.DB, eventID uint64, recipient string) (*domain.Notification, error) {
	var n domain.Notification
	err := db.WithContext(ctx).
		Where("event_id = ? AND recipient_user_id = ?", eventID, recipient).
		First(&n).Error
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// CountUnread returns the number of notifications of userID with a NULL
// read_at, as of the moment of the query.
func CountUnread(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Notification{}).
		Where("recipient_user_id = ? AND read_at IS NULL", userID).
		Count(&total).Error
	return total, err
}

// CountNotifications returns the total number of notifications of userID.
func CountNotifications(ctx context.Context, db *gorm.DB, userID string, unreadOnly bool) (int64, error) {
	var total int64
	q := db.WithContext(ctx).Model(&domain.Notification{}).Where("recipient_user_id = ?", userID)
	if unreadOnly {
		q = q.Where("read_at IS NULL")
	}
	err := q.Count(&total).Error
	return total, err
}

// ListNotificationsPage returns a page of userID's notifications, newest first.
func ListNotificationsPage(ctx context.Context, db *gorm.DB, userID string, unreadOnly bool, offset, limit int) ([]domain.Notification, error) {
	var out []domain.Notification
	q := db.WithContext(ctx).Where("recipient_user_id = ?", userID)
	if unreadOnly {
		q = q.Where("read_at IS NULL")
	}
	err := q.Order("created_at DESC, event_id DESC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// MarkNotificationRead sets read_at on one of userID's notifications. Marking
// an already-read notification is a no-op. It returns ErrNotFound when the
// notification does not exist or belongs to someone else.
func MarkNotificationRead(ctx context.Context, db *gorm.DB, id, userID string, at time.Time) error {
	var n domain.Notification
	err := db.WithContext(ctx).
		Where("id = ? AND recipient_user_id = ?", id, userID).
		First(&n).Error
	if err != nil {
		return err
	}
	if n.ReadAt != nil {
		return nil
	}
	return db.WithContext(ctx).
		Model(&domain.Notification{}).
		Where("id = ? AND read_at IS NULL", id).
		Update("read_at", at.UTC()).Error
}

// MarkAllNotificationsRead marks every unread notification of userID read and
// returns how many rows changed.
func MarkAllNotificationsRead(ctx context.Context, db *gorm.DB, userID string, at time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.Notification{}).
		Where("recipient_user_id = ? AND read_at IS NULL", userID).
		Update("read_at", at.UTC())
	return res.RowsAffected, res.Error
}

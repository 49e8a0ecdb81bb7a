// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate/statistics queries: the
// per-status feature counts behind the project stats cache, and the
// count/latest-timestamp pair used for ETag generation on notification lists.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-feature-board/internal/domain"
)

// ProjectStatusCounts returns the number of live features per status for a
// project. Every known status is present in the result, with zero when no
// feature is in it. It is a read-only, deterministic query and may safely run
// concurrently with itself.
func ProjectStatusCounts(ctx context.Context, db *gorm.DB, projectID string) (domain.ProjectStats, error) {
	var rows []struct {
		Status domain.FeatureStatus
		N      int64
	}
	err := db.WithContext(ctx).
		Model(&domain.Feature{}).
		Select("status, COUNT(*) AS n").
		Where("project_id = ? AND deleted_at IS NULL", projectID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make(domain.ProjectStats, len(domain.Statuses))
	for _, s := range domain.Statuses {
		out[s] = 0
	}
	for _, r := range rows {
		out[r.Status] = r.N
	}
	return out, nil
}

// NotificationsStats returns aggregate metadata for a user's notifications:
// the total number of rows, the unread count and the greatest CreatedAt.
//
// When the user has no notifications, the returned counts are 0 and
// maxCreatedAt is nil.
func NotificationsStats(ctx context.Context, db *gorm.DB, userID string) (count, unread int64, maxCreatedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.Notification{}).Where("recipient_user_id = ?", userID)

	if err = q.Count(&count).Error; err != nil {
		return 0, 0, nil, err
	}
	if count == 0 {
		return 0, 0, nil, nil
	}
	if unread, err = CountUnread(ctx, db, userID); err != nil {
		return 0, 0, nil, err
	}

	// Get latest created_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		CreatedAt time.Time
	}
	err = db.WithContext(ctx).
		Model(&domain.Notification{}).
		Select("created_at").
		Where("recipient_user_id = ?", userID).
		Order("created_at DESC").
		Limit(1).
		Scan(&row).Error
	if err != nil {
		return 0, 0, nil, err
	}
	return count, unread, &row.CreatedAt, nil
}

// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the digest task queue and the per-user
// digest cursor.
//
// The queue is a table, not a broker: a task row is the idempotency record
// for (user_id, period_start), and workers move it through
// pending -> running -> done|failed with conditional updates so two workers
// can never both own the same task.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-feature-board/internal/domain"
)

// EnqueueDigestTask inserts a pending task for (userID, periodStart) unless a
// task for that key already exists in any status. It reports whether a new
// row was created.
func EnqueueDigestTask(ctx context.Context, db *gorm.DB, userID string, periodStart time.Time) (bool, error) {
	now := time.Now().UTC()
	task := &domain.DigestTask{
		ID:          uuid.NewString(),
		UserID:      userID,
		PeriodStart: periodStart.UTC(),
		Status:      domain.DigestPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(task)
	if res.Error != nil {
		if isUniqueViolation(res.Error) {
			return false, nil
		}
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// CountDigestTasks returns how many tasks exist for periodStart.
func CountDigestTasks(ctx context.Context, db *gorm.DB, periodStart time.Time) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.DigestTask{}).
		Where("period_start = ?", periodStart.UTC()).
		Count(&total).Error
	return total, err
}

// ListPendingDigestTasks returns up to limit pending tasks, oldest first.
func ListPendingDigestTasks(ctx context.Context, db *gorm.DB, limit int) ([]domain.DigestTask, error) {
	var out []domain.DigestTask
	err := db.WithContext(ctx).
		Where("status = ?", domain.DigestPending).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// ClaimDigestTask moves a task from pending to running and counts the claim
// as an attempt, so tasks that keep being released or reset as stale still
// run out of attempts. It reports false when another worker claimed it first.
func ClaimDigestTask(ctx context.Context, db *gorm.DB, id string) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.DigestTask{}).
		Where("id = ? AND status = ?", id, domain.DigestPending).
		Updates(map[string]any{
			"status":     domain.DigestRunning,
			"attempts":   gorm.Expr("attempts + 1"),
			"updated_at": time.Now().UTC(),
		})
	return res.RowsAffected == 1, res.Error
}

// CompleteDigestTask marks a running task done.
func CompleteDigestTask(ctx context.Context, db *gorm.DB, id string, attempts int) error {
	return db.WithContext(ctx).
		Model(&domain.DigestTask{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     domain.DigestDone,
			"attempts":   attempts,
			"last_error": "",
			"updated_at": time.Now().UTC(),
		}).Error
}

// FailDigestTask marks a task permanently failed and records why.
func FailDigestTask(ctx context.Context, db *gorm.DB, id string, attempts int, reason string) error {
	return db.WithContext(ctx).
		Model(&domain.DigestTask{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     domain.DigestFailed,
			"attempts":   attempts,
			"last_error": reason,
			"updated_at": time.Now().UTC(),
		}).Error
}

// ResetStaleDigestTasks returns running tasks not touched since before to
// pending, so work orphaned by a crashed process is picked up again.
func ResetStaleDigestTasks(ctx context.Context, db *gorm.DB, before time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.DigestTask{}).
		Where("status = ? AND updated_at < ?", domain.DigestRunning, before.UTC()).
		Updates(map[string]any{"status": domain.DigestPending, "updated_at": time.Now().UTC()})
	return res.RowsAffected, res.Error
}

// ListFailedDigestTasks returns a page of failed tasks, most recent first.
func ListFailedDigestTasks(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.DigestTask, error) {
	var out []domain.DigestTask
	err := db.WithContext(ctx).
		Where("status = ?", domain.DigestFailed).
		Order("updated_at DESC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// GetDigestCursor returns userID's digest cursor. A user who never received
// a digest gets the zero cursor.
func GetDigestCursor(ctx context.Context, db *gorm.DB, userID string) (domain.DigestCursor, error) {
	var cur domain.DigestCursor
	err := db.WithContext(ctx).Where("user_id = ?", userID).Limit(1).Find(&cur).Error
	if err != nil {
		return domain.DigestCursor{}, err
	}
	cur.UserID = userID
	return cur, nil
}

// AdvanceDigestCursor records that userID's digests now cover every event up
// to and including lastEventID.
func AdvanceDigestCursor(ctx context.Context, db *gorm.DB, userID string, lastEventID uint64) error {
	cur := &domain.DigestCursor{UserID: userID, LastEventID: lastEventID, LastDigestAt: time.Now().UTC()}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_event_id", "last_digest_at"}),
	}).Create(cur).Error
}

// ReleaseDigestTask returns a running task to pending, for work abandoned
// during shutdown.
func ReleaseDigestTask(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).
		Model(&domain.DigestTask{}).
		Where("id = ? AND status = ?", id, domain.DigestRunning).
		Updates(map[string]any{"status": domain.DigestPending, "updated_at": time.Now().UTC()}).Error
}

// FinishDigestTask marks a task done and, when lastEventID is non-zero, moves
// the user's digest cursor to it, in one transaction.
func FinishDigestTask(ctx context.Context, db *gorm.DB, task *domain.DigestTask, attempts int, lastEventID uint64) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := CompleteDigestTask(ctx, tx, task.ID, attempts); err != nil {
			return err
		}
		if lastEventID == 0 {
			return nil
		}
		return AdvanceDigestCursor(ctx, tx, task.UserID, lastEventID)
	})
}

package domain

import "time"

// DigestStatus tracks a digest task through the worker pool.
type DigestStatus string

const (
	DigestPending DigestStatus = "pending"
	DigestRunning DigestStatus = "running"
	DigestDone    DigestStatus = "done"
	DigestFailed  DigestStatus = "failed"
)

// DigestTask is the idempotency record of one user's digest for one period.
// The unique (user_id, period_start) index makes repeated enqueues for the
// same period no-ops regardless of the task's current status.
type DigestTask struct {
	ID          string       `json:"id"           gorm:"type:char(36);primaryKey"`
	UserID      string       `json:"user_id"      gorm:"type:varchar(64);not null;uniqueIndex:ux_digest_tasks_user_period,priority:1"`
	PeriodStart time.Time    `json:"period_start" gorm:"not null;uniqueIndex:ux_digest_tasks_user_period,priority:2"`
	Status      DigestStatus `json:"status"       gorm:"type:varchar(16);not null;default:'pending';index"`
	Attempts    int          `json:"attempts"     gorm:"not null;default:0"`
	LastError   string       `json:"last_error,omitempty" gorm:"type:text"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// TableName returns the database table name for DigestTask.
func (DigestTask) TableName() string { return "digest_tasks" }

// DigestCursor remembers the newest event a user's last digest covered.
// Event ids grow in commit order across every project, so LastEventID is the
// position to resume from; LastDigestAt is only shown to the reader.
type DigestCursor struct {
	UserID       string    `gorm:"type:varchar(64);primaryKey"`
	LastEventID  uint64    `gorm:"not null;default:0"`
	LastDigestAt time.Time `gorm:"not null"`
}

// TableName returns the database table name for DigestCursor.
func (DigestCursor) TableName() string { return "digest_cursors" }

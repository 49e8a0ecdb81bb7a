package domain

import "time"

// Notification is one recipient's copy of an event. At most one row exists per
// (event_id, recipient_user_id); the unique index is the guard, not an
// application-level check. ReadAt is nil while unread and is the only column
// mutated after insert.
type Notification struct {
	ID              string     `json:"id"                gorm:"type:char(36);primaryKey"`
	EventID         uint64     `json:"event_id"          gorm:"not null;uniqueIndex:ux_notifications_event_recipient,priority:1"`
	RecipientUserID string     `json:"recipient_user_id" gorm:"type:varchar(64);not null;uniqueIndex:ux_notifications_event_recipient,priority:2;index:idx_notifications_recipient_read,priority:1"`
	ReadAt          *time.Time `json:"read_at,omitempty" gorm:"index:idx_notifications_recipient_read,priority:2"`
	CreatedAt       time.Time  `json:"created_at"`
}

// TableName returns the database table name for Notification.
func (Notification) TableName() string { return "notifications" }

// Subscription marks a user's interest in every event of a project.
type Subscription struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	ProjectID string    `json:"project_id" gorm:"type:char(36);not null;uniqueIndex:ux_subscriptions_project_user,priority:1"`
	UserID    string    `json:"user_id"    gorm:"type:varchar(64);not null;uniqueIndex:ux_subscriptions_project_user,priority:2;index"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for Subscription.
func (Subscription) TableName() string { return "subscriptions" }

// Package domain defines the persistence models for projects, features,
// comments, votes and the users they belong to. These types are mapped with
// GORM and form the core data layer of the feature board.
package domain

import (
	"time"

	"gorm.io/gorm"
)

// FeatureStatus is the lifecycle label of a feature request.
type FeatureStatus string

const (
	StatusProposed   FeatureStatus = "proposed"
	StatusPlanned    FeatureStatus = "planned"
	StatusInProgress FeatureStatus = "in_progress"
	StatusCompleted  FeatureStatus = "completed"
	StatusDeclined   FeatureStatus = "declined"
)

// Statuses lists every known status in board order.
var Statuses = []FeatureStatus{
	StatusProposed,
	StatusPlanned,
	StatusInProgress,
	StatusCompleted,
	StatusDeclined,
}

// Valid reports whether s is one of Statuses.
func (s FeatureStatus) Valid() bool {
	for _, v := range Statuses {
		if s == v {
			return true
		}
	}
	return false
}

// ProjectStats maps a status label to the number of live features in it.
type ProjectStats map[FeatureStatus]int64

// User is the minimal projection of an account the pipeline needs: an id to
// address notifications to and an email address for digests. Accounts are
// managed elsewhere.
type User struct {
	ID        string    `json:"id"         gorm:"type:varchar(64);primaryKey"`
	Email     string    `json:"email"      gorm:"type:varchar(255);not null"`
	Name      string    `json:"name"       gorm:"type:varchar(255)"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// Project groups feature requests and is the unit users subscribe to.
type Project struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	Name      string    `json:"name"       gorm:"type:varchar(255);not null"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for Project.
func (Project) TableName() string { return "projects" }

// Feature is a single request on a project board.
//
// Fields:
//   - ProjectID: owning project (indexed together with Status for stats).
//   - AuthorID: user who proposed the feature; always a recipient of its events.
//   - Status: one of Statuses (enforced by DB constraint).
//   - DeletedAt: soft deletion marker; deleted features drop out of stats.
type Feature struct {
	ID        string         `json:"id"         gorm:"type:char(36);primaryKey"`
	ProjectID string         `json:"project_id" gorm:"type:char(36);not null;index:idx_features_project_status,priority:1"`
	AuthorID  string         `json:"author_id"  gorm:"type:varchar(64);not null"`
	Title     string         `json:"title"      gorm:"type:varchar(255);not null"`
	Status    FeatureStatus  `json:"status"     gorm:"type:varchar(16);not null;default:'proposed';index:idx_features_project_status,priority:2;check:status IN ('proposed','planned','in_progress','completed','declined')"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-"          gorm:"index"`
}

// TableName returns the database table name for Feature.
func (Feature) TableName() string { return "features" }

// Comment is a user remark on a feature.
type Comment struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	FeatureID string    `json:"feature_id" gorm:"type:char(36);not null;index"`
	AuthorID  string    `json:"author_id"  gorm:"type:varchar(64);not null"`
	Body      string    `json:"body"       gorm:"type:text;not null"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for Comment.
func (Comment) TableName() string { return "comments" }

// Vote records a single user's support for a feature. A user votes at most
// once per feature (enforced by unique index).
type Vote struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	FeatureID string    `json:"feature_id" gorm:"type:char(36);not null;uniqueIndex:ux_votes_feature_user,priority:1"`
	UserID    string    `json:"user_id"    gorm:"type:varchar(64);not null;uniqueIndex:ux_votes_feature_user,priority:2"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for Vote.
func (Vote) TableName() string { return "votes" }

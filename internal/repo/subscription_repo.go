// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for project
// subscriptions, which define who hears about a project's events.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-feature-board/internal/domain"
)

// Subscribe records userID's interest in projectID. Subscribing twice is a
// no-op.
func Subscribe(ctx context.Context, db *gorm.DB, projectID, userID string) error {
	s := &domain.Subscription{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(s).Error
}

// Unsubscribe removes userID's subscription to projectID, if any.
func Unsubscribe(ctx context.Context, db *gorm.DB, projectID, userID string) error {
	return db.WithContext(ctx).
		Where("project_id = ? AND user_id = ?", projectID, userID).
		Delete(&domain.Subscription{}).Error
}

// ListProjectSubscribers returns the user ids subscribed to projectID.
func ListProjectSubscribers(ctx context.Context, db *gorm.DB, projectID string) ([]string, error) {
	var out []string
	err := db.WithContext(ctx).
		Model(&domain.Subscription{}).
		Where("project_id = ?", projectID).
		Order("user_id ASC").
		Pluck("user_id", &out).Error
	return out, err
}

// ListSubscribedUserIDs returns every distinct user with at least one
// subscription, ordered by id.
func ListSubscribedUserIDs(ctx context.Context, db *gorm.DB) ([]string, error) {
	var out []string
	err := db.WithContext(ctx).
		Model(&domain.Subscription{}).
		Distinct().
		Order("user_id ASC").
		Pluck("user_id", &out).Error
	return out, err
}

// ListUserProjectIDs returns the projects userID is subscribed to.
func ListUserProjectIDs(ctx context.Context, db *gorm.DB, userID string) ([]string, error) {
	var out []string
	err := db.WithContext(ctx).
		Model(&domain.Subscription{}).
		Where("user_id = ?", userID).
		Order("project_id ASC").
		Pluck("project_id", &out).Error
	return out, err
}

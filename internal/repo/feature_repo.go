// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the board
// entities (users, projects, features, comments, votes).
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only
// persistence and query composition.
//
// Error semantics:
//   - When a row is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - Unique violations surface as ErrDuplicate.
//   - Any other DB error is propagated unchanged.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-feature-board/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// UpsertUser inserts a user or refreshes its email and name.
func UpsertUser(ctx context.Context, db *gorm.DB, u *domain.User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "name"}),
	}).Create(u).Error
}

// GetUser fetches a user by id.
func GetUser(ctx context.Context, db *gorm.DB, id string) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateProject inserts a new project with a generated UUID.
func CreateProject(ctx context.Context, db *gorm.DB, name string) (*domain.Project, error) {
	now := time.Now().UTC()
	p := &domain.Project{ID: uuid.NewString(), Name: name, CreatedAt: now, UpdatedAt: now}
	if err := db.WithContext(ctx).Create(p).Error; err != nil {
		return nil, err
	}
	return p, nil
}

// GetProject fetches a project by id.
func GetProject(ctx context.Context, db *gorm.DB, id string) (*domain.Project, error) {
	var p domain.Project
	if err := db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateFeature inserts a new feature in the proposed state.
func CreateFeature(ctx context.Context, db *gorm.DB, projectID, authorID, title string) (*domain.Feature, error) {
	now := time.Now().UTC()
	f := &domain.Feature{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		AuthorID:  authorID,
		Title:     title,
		Status:    domain.StatusProposed,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.WithContext(ctx).Create(f).Error; err != nil {
		return nil, err
	}
	return f, nil
}

// GetFeature fetches a live (not soft-deleted) feature by id.
func GetFeature(ctx context.Context, db *gorm.DB, id string) (*domain.Feature, error) {
	var f domain.Feature
	if err := db.WithContext(ctx).Where("id = ?", id).First(&f).Error; err != nil {
		return nil, err
	}
	return &f, nil
}

// UpdateFeatureStatus sets the status of a live feature. It returns
// ErrNotFound when no row was affected.
func UpdateFeatureStatus(ctx context.Context, db *gorm.DB, id string, status domain.FeatureStatus) error {
	res := db.WithContext(ctx).
		Model(&domain.Feature{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": status, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteFeature soft-deletes a feature. It returns ErrNotFound when the
// feature does not exist or is already deleted.
func DeleteFeature(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Feature{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// CreateComment inserts a comment on a feature.
func CreateComment(ctx context.Context, db *gorm.DB, featureID, authorID, body string) (*domain.Comment, error) {
	c := &domain.Comment{
		ID:        uuid.NewString(),
		FeatureID: featureID,
		AuthorID:  authorID,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(c).Error; err != nil {
		return nil, err
	}
	return c, nil
}

// GetComment fetches a comment by id.
func GetComment(ctx context.Context, db *gorm.DB, id string) (*domain.Comment, error) {
	var c domain.Comment
	if err := db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// ListCommenterIDs returns the distinct authors of comments on a feature.
func ListCommenterIDs(ctx context.Context, db *gorm.DB, featureID string) ([]string, error) {
	var out []string
	err := db.WithContext(ctx).
		Model(&domain.Comment{}).
		Where("feature_id = ?", featureID).
		Distinct().
		Pluck("author_id", &out).Error
	return out, err
}

// CreateVote records userID's vote on a feature. A second vote by the same
// user returns ErrDuplicate.
func CreateVote(ctx context.Context, db *gorm.DB, featureID, userID string) (*domain.Vote, error) {
	v := &domain.Vote{
		ID:        uuid.NewString(),
		FeatureID: featureID,
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(v).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return v, nil
}

// GetFeaturesByIDs returns the features with the given ids keyed by id,
// including soft-deleted ones.
func GetFeaturesByIDs(ctx context.Context, db *gorm.DB, ids []string) (map[string]domain.Feature, error) {
	out := make(map[string]domain.Feature, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []domain.Feature
	if err := db.WithContext(ctx).Unscoped().Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, f := range rows {
		out[f.ID] = f
	}
	return out, nil
}

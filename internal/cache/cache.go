// Package cache holds the per-project status-count cache.
//
// Entries are invalidated, never updated in place: a writer that changes a
// project's counts drops the entry after commit and the next reader
// recomputes it. Recomputation is a read-only query, so concurrent readers
// may recompute redundantly without coordination. Each backend keeps a
// per-project generation so a recompute that started before an invalidation
// cannot store its (possibly stale) result afterwards.
package cache

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-feature-board/internal/domain"
	"github.com/tbourn/go-feature-board/internal/repo"
)

// DefaultTTL bounds how long a computed entry is served.
const DefaultTTL = 10 * time.Minute

// Loader computes a project's stats from the source of truth.
type Loader func(ctx context.Context, projectID string) (domain.ProjectStats, error)

// FromDB returns a Loader that counts feature rows in db.
func FromDB(db *gorm.DB) Loader {
	return func(ctx context.Context, projectID string) (domain.ProjectStats, error) {
		return repo.ProjectStatusCounts(ctx, db, projectID)
	}
}

// Stats is a project stats cache.
type Stats interface {
	Get(ctx context.Context, projectID string) (domain.ProjectStats, error)
	Invalidate(ctx context.Context, projectID string) error
}

func clone(s domain.ProjectStats) domain.ProjectStats {
	out := make(domain.ProjectStats, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Package services – Idempotency
//
// Idempotency remembers which event a keyed request produced so a retried
// request can be answered with the original result instead of acting twice.
package services

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-feature-board/internal/repo"
)

// DefaultIdempotencyTTL is how long a key is honored.
const DefaultIdempotencyTTL = 24 * time.Hour

// Idempotency stores request keys per (user, scope).
type Idempotency struct {
	DB  *gorm.DB
	TTL time.Duration
}

// NewIdempotency returns an Idempotency with DefaultIdempotencyTTL.
func NewIdempotency(db *gorm.DB) *Idempotency {
	return &Idempotency{DB: db, TTL: DefaultIdempotencyTTL}
}

// Lookup returns the event recorded for key, if any and not expired.
func (s *Idempotency) Lookup(ctx context.Context, userID, scope, key string, now time.Time) (uint64, bool, error) {
	rec, err := repo.GetIdempotency(ctx, s.DB, userID, scope, key, now)
	if errors.Is(err, repo.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return rec.EventID, true, nil
}

// Remember records that key produced eventID. A key that is already recorded
// keeps its first event.
func (s *Idempotency) Remember(ctx context.Context, userID, scope, key string, eventID uint64, status int) error {
	ttl := s.TTL
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	_, err := repo.CreateIdempotency(ctx, s.DB, userID, scope, key, eventID, status, ttl)
	if errors.Is(err, repo.ErrDuplicate) {
		return nil
	}
	return err
}

// Package services – EventStore
//
// EventStore owns the append-only event log. Append runs inside the caller's
// transaction so the state change that caused an event and the event row
// commit together. The source entity of an event is a tagged reference
// (domain.EntityRef) resolved through a lookup table of resolvers keyed by
// reference kind.
package services

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-feature-board/internal/domain"
	"github.com/tbourn/go-feature-board/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RefResolver reports whether ref points at an existing entity. It returns
// repo.ErrNotFound (or any error wrapping it) when the entity is missing.
type RefResolver func(ctx context.Context, tx *gorm.DB, ref domain.EntityRef) error

// EventStore appends and reads events.
type EventStore struct {
	DB *gorm.DB

	mu        sync.RWMutex
	kinds     map[domain.EventKind]struct{}
	resolvers map[domain.RefKind]RefResolver
}

// NewEventStore returns a store with the built-in event kinds and reference
// resolvers registered.
func NewEventStore(db *gorm.DB) *EventStore {
	s := &EventStore{
		DB:        db,
		kinds:     make(map[domain.EventKind]struct{}),
		resolvers: make(map[domain.RefKind]RefResolver),
	}
	for _, k := range []domain.EventKind{
		domain.EventCommentAdded,
		domain.EventStatusChanged,
		domain.EventVoteCast,
		domain.EventFeatureCreated,
		domain.EventFeatureDeleted,
	} {
		s.RegisterKind(k)
	}
	s.RegisterResolver(domain.RefProject, resolveProject)
	s.RegisterResolver(domain.RefFeature, resolveFeature)
	s.RegisterResolver(domain.RefComment, resolveComment)
	return s
}

// RegisterKind makes k acceptable to Append.
func (s *EventStore) RegisterKind(k domain.EventKind) {
	s.mu.Lock()
	s.kinds[k] = struct{}{}
	s.mu.Unlock()
}

// RegisterResolver installs (or replaces) the resolver for a reference kind.
func (s *EventStore) RegisterResolver(k domain.RefKind, r RefResolver) {
	s.mu.Lock()
	s.resolvers[k] = r
	s.mu.Unlock()
}

// Append validates and persists an event inside tx. The returned event
// carries its storage-assigned ID and CreatedAt.
//
// It fails with an error wrapping ErrValidation when the kind is not
// registered, the actor is blank, or ref does not resolve.
func (s *EventStore) Append(ctx context.Context, tx *gorm.DB, kind domain.EventKind, ref domain.EntityRef, actorUserID string) (*domain.Event, error) {
	tr := otel.Tracer("services/EventStore")
	ctx, span := tr.Start(ctx, "Append",
		trace.WithAttributes(
			attribute.String("event.kind", string(kind)),
			attribute.String("project.id", ref.ProjectID),
			attribute.String("user.id", actorUserID),
		),
	)
	defer span.End()

	actorUserID = strings.TrimSpace(actorUserID)
	if actorUserID == "" {
		return nil, ErrMissingActor
	}

	s.mu.RLock()
	_, known := s.kinds[kind]
	resolve := s.resolvers[ref.Kind]
	s.mu.RUnlock()

	if !known {
		return nil, ErrUnknownKind
	}
	if resolve == nil || ref.ProjectID == "" {
		return nil, ErrUnresolvedRef
	}
	if err := resolve(ctx, tx, ref); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrUnresolvedRef
		}
		return nil, err
	}

	ev := &domain.Event{Kind: kind, Ref: ref, ActorUserID: actorUserID}
	if err := repo.InsertEvent(ctx, tx, ev); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int64("event.id", int64(ev.ID)))
	return ev, nil
}

// Recent returns the events of projectID created at or after since, in
// append order.
func (s *EventStore) Recent(ctx context.Context, projectID string, since time.Time) ([]domain.Event, error) {
	tr := otel.Tracer("services/EventStore")
	ctx, span := tr.Start(ctx, "Recent",
		trace.WithAttributes(attribute.String("project.id", projectID)),
	)
	defer span.End()

	return repo.ListEventsSince(ctx, s.DB, projectID, since, 0)
}

// After returns the events of projectID appended after the event with id
// afterID, in append order.
func (s *EventStore) After(ctx context.Context, projectID string, afterID uint64) ([]domain.Event, error) {
	tr := otel.Tracer("services/EventStore")
	ctx, span := tr.Start(ctx, "After",
		trace.WithAttributes(
			attribute.String("project.id", projectID),
			attribute.Int64("event.after_id", int64(afterID)),
		),
	)
	defer span.End()

	return repo.ListEventsAfter(ctx, s.DB, projectID, afterID, 0)
}

// Recipients resolves who should hear about ev: the subscribers of its
// project and the author of its feature, plus earlier commenters when a
// comment was added. The actor is not removed here; Fanout skips it.
// The result is sorted and free of duplicates.
func (s *EventStore) Recipients(ctx context.Context, tx *gorm.DB, ev *domain.Event) ([]string, error) {
	set := make(map[string]struct{})

	subs, err := repo.ListProjectSubscribers(ctx, tx, ev.Ref.ProjectID)
	if err != nil {
		return nil, err
	}
	for _, u := range subs {
		set[u] = struct{}{}
	}

	if ev.Ref.FeatureID != "" {
		var f domain.Feature
		err := tx.WithContext(ctx).Unscoped().Where("id = ?", ev.Ref.FeatureID).First(&f).Error
		switch {
		case err == nil:
			set[f.AuthorID] = struct{}{}
		case !errors.Is(err, repo.ErrNotFound):
			return nil, err
		}

		if ev.Kind == domain.EventCommentAdded {
			commenters, err := repo.ListCommenterIDs(ctx, tx, ev.Ref.FeatureID)
			if err != nil {
				return nil, err
			}
			for _, u := range commenters {
				set[u] = struct{}{}
			}
		}
	}

	out := make([]string, 0, len(set))
	for u := range set {
		out = append(out, u)
	}
	sort.Strings(out)
	return out, nil
}

func resolveProject(ctx context.Context, tx *gorm.DB, ref domain.EntityRef) error {
	_, err := repo.GetProject(ctx, tx, ref.ProjectID)
	return err
}

func resolveFeature(ctx context.Context, tx *gorm.DB, ref domain.EntityRef) error {
	f, err := repo.GetFeature(ctx, tx, ref.FeatureID)
	if err != nil {
		return err
	}
	if f.ProjectID != ref.ProjectID {
		return repo.ErrNotFound
	}
	return nil
}

func resolveComment(ctx context.Context, tx *gorm.DB, ref domain.EntityRef) error {
	if err := resolveFeature(ctx, tx, ref); err != nil {
		return err
	}
	c, err := repo.GetComment(ctx, tx, ref.CommentID)
	if err != nil {
		return err
	}
	if c.FeatureID != ref.FeatureID {
		return repo.ErrNotFound
	}
	return nil
}

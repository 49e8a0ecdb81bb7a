// Package services – BoardService
//
// BoardService implements the board actions that produce events: creating
// and deleting features, commenting, changing status and voting. Each action
// runs one transaction holding the state change, the event and its
// notification rows. After commit it pushes unread counts and, for events
// that change per-status counts, invalidates the project's stats entry.
package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-feature-board/internal/domain"
	"github.com/tbourn/go-feature-board/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// StatsInvalidator drops a project's cached stats.
type StatsInvalidator interface {
	Invalidate(ctx context.Context, projectID string) error
}

// ActionResult is what a board action produced.
type ActionResult struct {
	Event         *domain.Event
	Notifications []domain.Notification
}

// BoardService coordinates board actions with the event pipeline.
type BoardService struct {
	DB     *gorm.DB
	Events *EventStore
	Fanout *Fanout
	Stats  StatsInvalidator

	// Optional guards
	MaxTitleRunes   int
	MaxCommentRunes int
}

// NewBoardService wires a BoardService with default limits.
func NewBoardService(db *gorm.DB, events *EventStore, fanout *Fanout, stats StatsInvalidator) *BoardService {
	return &BoardService{
		DB:              db,
		Events:          events,
		Fanout:          fanout,
		Stats:           stats,
		MaxTitleRunes:   200,
		MaxCommentRunes: 4000,
	}
}

// CreateProject adds a project. Projects produce no event.
func (s *BoardService) CreateProject(ctx context.Context, name string) (*domain.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrEmptyTitle
	}
	if s.MaxTitleRunes > 0 && utf8.RuneCountInString(name) > s.MaxTitleRunes {
		return nil, ErrTooLong
	}
	return repo.CreateProject(ctx, s.DB, name)
}

// RegisterUser stores the user's mail address used for digests.
func (s *BoardService) RegisterUser(ctx context.Context, userID, email, name string) (*domain.User, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil {
		return nil, ErrInvalidAddress
	}
	u := &domain.User{ID: userID, Email: addr.Address, Name: strings.TrimSpace(name)}
	if err := repo.UpsertUser(ctx, s.DB, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Subscribe makes userID a recipient of projectID's events.
func (s *BoardService) Subscribe(ctx context.Context, userID, projectID string) error {
	if _, err := repo.GetProject(ctx, s.DB, projectID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrProjectNotFound
		}
		return err
	}
	return repo.Subscribe(ctx, s.DB, projectID, userID)
}

// Unsubscribe removes userID's subscription to projectID. Missing
// subscriptions are ignored.
func (s *BoardService) Unsubscribe(ctx context.Context, userID, projectID string) error {
	return repo.Unsubscribe(ctx, s.DB, projectID, userID)
}

// CreateFeature proposes a feature in projectID on behalf of actor.
func (s *BoardService) CreateFeature(ctx context.Context, actor, projectID, title string) (*domain.Feature, *ActionResult, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, nil, ErrEmptyTitle
	}
	if s.MaxTitleRunes > 0 && utf8.RuneCountInString(title) > s.MaxTitleRunes {
		return nil, nil, ErrTooLong
	}

	var f *domain.Feature
	res, err := s.act(ctx, "CreateFeature", projectID, func(tx *gorm.DB) (*domain.Event, error) {
		if _, err := repo.GetProject(ctx, tx, projectID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return nil, ErrProjectNotFound
			}
			return nil, err
		}
		var err error
		if f, err = repo.CreateFeature(ctx, tx, projectID, actor, title); err != nil {
			return nil, err
		}
		return s.Events.Append(ctx, tx, domain.EventFeatureCreated, domain.FeatureRef(projectID, f.ID), actor)
	})
	if err != nil {
		return nil, nil, err
	}
	return f, res, nil
}

// AddComment posts a comment on featureID.
func (s *BoardService) AddComment(ctx context.Context, actor, featureID, body string) (*domain.Comment, *ActionResult, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, nil, ErrEmptyBody
	}
	if s.MaxCommentRunes > 0 && utf8.RuneCountInString(body) > s.MaxCommentRunes {
		return nil, nil, ErrTooLong
	}

	feature, err := s.feature(ctx, featureID)
	if err != nil {
		return nil, nil, err
	}

	var c *domain.Comment
	res, err := s.act(ctx, "AddComment", feature.ProjectID, func(tx *gorm.DB) (*domain.Event, error) {
		var err error
		if c, err = repo.CreateComment(ctx, tx, featureID, actor, body); err != nil {
			return nil, err
		}
		return s.Events.Append(ctx, tx, domain.EventCommentAdded, domain.CommentRef(feature.ProjectID, featureID, c.ID), actor)
	})
	if err != nil {
		return nil, nil, err
	}
	return c, res, nil
}

// ChangeStatus moves featureID to status. Setting the current status again
// changes nothing and returns a nil result.
func (s *BoardService) ChangeStatus(ctx context.Context, actor, featureID string, status domain.FeatureStatus) (*domain.Feature, *ActionResult, error) {
	if !status.Valid() {
		return nil, nil, ErrInvalidStatus
	}
	feature, err := s.feature(ctx, featureID)
	if err != nil {
		return nil, nil, err
	}
	if feature.Status == status {
		return feature, nil, nil
	}

	res, err := s.act(ctx, "ChangeStatus", feature.ProjectID, func(tx *gorm.DB) (*domain.Event, error) {
		if err := repo.UpdateFeatureStatus(ctx, tx, featureID, status); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return nil, ErrFeatureNotFound
			}
			return nil, err
		}
		return s.Events.Append(ctx, tx, domain.EventStatusChanged, domain.FeatureRef(feature.ProjectID, featureID), actor)
	})
	if err != nil {
		return nil, nil, err
	}
	feature.Status = status
	return feature, res, nil
}

// CastVote records actor's vote on featureID. A second vote returns
// ErrAlreadyVoted.
func (s *BoardService) CastVote(ctx context.Context, actor, featureID string) (*ActionResult, error) {
	feature, err := s.feature(ctx, featureID)
	if err != nil {
		return nil, err
	}
	return s.act(ctx, "CastVote", feature.ProjectID, func(tx *gorm.DB) (*domain.Event, error) {
		if _, err := repo.CreateVote(ctx, tx, featureID, actor); err != nil {
			if errors.Is(err, repo.ErrDuplicate) {
				return nil, ErrAlreadyVoted
			}
			return nil, err
		}
		return s.Events.Append(ctx, tx, domain.EventVoteCast, domain.FeatureRef(feature.ProjectID, featureID), actor)
	})
}

// DeleteFeature soft-deletes featureID. The event is appended before the
// row is hidden so its reference still resolves.
func (s *BoardService) DeleteFeature(ctx context.Context, actor, featureID string) (*ActionResult, error) {
	feature, err := s.feature(ctx, featureID)
	if err != nil {
		return nil, err
	}
	var ev *domain.Event
	return s.act(ctx, "DeleteFeature", feature.ProjectID, func(tx *gorm.DB) (*domain.Event, error) {
		var err error
		if ev, err = s.Events.Append(ctx, tx, domain.EventFeatureDeleted, domain.FeatureRef(feature.ProjectID, featureID), actor); err != nil {
			return nil, err
		}
		if err := repo.DeleteFeature(ctx, tx, featureID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return nil, ErrFeatureNotFound
			}
			return nil, err
		}
		return ev, nil
	})
}

func (s *BoardService) feature(ctx context.Context, id string) (*domain.Feature, error) {
	f, err := repo.GetFeature(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrFeatureNotFound
		}
		return nil, err
	}
	return f, nil
}

// act runs change in a transaction together with recipient resolution and
// notification rows, then performs the post-commit steps.
func (s *BoardService) act(ctx context.Context, name, projectID string, change func(tx *gorm.DB) (*domain.Event, error)) (*ActionResult, error) {
	tr := otel.Tracer("services/BoardService")
	ctx, span := tr.Start(ctx, name,
		trace.WithAttributes(attribute.String("project.id", projectID)),
	)
	defer span.End()

	res := &ActionResult{}
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ev, err := change(tx)
		if err != nil {
			return err
		}
		recipients, err := s.Events.Recipients(ctx, tx, ev)
		if err != nil {
			return err
		}
		ns, err := s.Fanout.Record(ctx, tx, ev, recipients)
		if err != nil {
			return err
		}
		res.Event, res.Notifications = ev, ns
		return nil
	})
	if err != nil {
		span.RecordError(err)
		if repo.IsBusy(err) {
			err = fmt.Errorf("%w: %s: %w", ErrTransient, name, err)
		}
		return nil, err
	}

	s.Fanout.PushUnread(ctx, RecipientsOf(res.Notifications))
	if res.Event.Kind.AffectsStats() && s.Stats != nil {
		if err := s.Stats.Invalidate(ctx, projectID); err != nil {
			log.Warn().Err(err).Str("project_id", projectID).Msg("invalidate project stats")
		}
	}
	return res, nil
}

// CommentForEvent returns the comment a comment_added event refers to. It
// backs replies to replayed comment requests.
func (s *BoardService) CommentForEvent(ctx context.Context, eventID uint64) (*domain.Comment, error) {
	ev, err := repo.GetEvent(ctx, s.DB, eventID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrUnresolvedRef
		}
		return nil, err
	}
	if ev.Kind != domain.EventCommentAdded || ev.Ref.CommentID == "" {
		return nil, ErrUnresolvedRef
	}
	c, err := repo.GetComment(ctx, s.DB, ev.Ref.CommentID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrUnresolvedRef
	}
	return c, err
}

// Package services – NotificationService
//
// NotificationService is the pull side of the pipeline: listing, unread
// counts and read marking. Unread counts are always computed from the rows
// at the moment of the call; there is no running counter to drift. Read
// marking pushes the new count so other open sessions follow along.
package services

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-feature-board/internal/domain"
	"github.com/tbourn/go-feature-board/internal/repo"
	"github.com/tbourn/go-feature-board/internal/utils"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// NotificationItem is a notification as exposed to the listing UI.
type NotificationItem struct {
	ID              string           `json:"id"`
	Kind            domain.EventKind `json:"kind"`
	SourceEntityRef domain.EntityRef `json:"source_entity_ref"`
	CreatedAt       time.Time        `json:"created_at"`
	Read            bool             `json:"read"`
}

// NotificationService serves a user's notifications.
type NotificationService struct {
	DB     *gorm.DB
	Fanout *Fanout
}

// ListPage returns a page of userID's notifications, newest first, with the
// total matching count.
func (s *NotificationService) ListPage(ctx context.Context, userID string, unreadOnly bool, page, pageSize int) ([]NotificationItem, int64, error) {
	tr := otel.Tracer("services/NotificationService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	page, pageSize = utils.Clamp(page, pageSize)
	offset := utils.Offset(page, pageSize)

	total, err := repo.CountNotifications(ctx, s.DB, userID, unreadOnly)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []NotificationItem{}, 0, nil
	}

	rows, err := repo.ListNotificationsPage(ctx, s.DB, userID, unreadOnly, offset, pageSize)
	if err != nil {
		return nil, 0, err
	}
	ids := make([]uint64, 0, len(rows))
	for _, n := range rows {
		ids = append(ids, n.EventID)
	}
	events, err := repo.GetEventsByIDs(ctx, s.DB, ids)
	if err != nil {
		return nil, 0, err
	}

	items := make([]NotificationItem, 0, len(rows))
	for _, n := range rows {
		ev := events[n.EventID]
		items = append(items, NotificationItem{
			ID:              n.ID,
			Kind:            ev.Kind,
			SourceEntityRef: ev.Ref,
			CreatedAt:       n.CreatedAt,
			Read:            n.ReadAt != nil,
		})
	}
	return items, total, nil
}

// Stats returns the count, unread count and newest CreatedAt of userID's
// notifications, for cache validators.
func (s *NotificationService) Stats(ctx context.Context, userID string) (count, unread int64, maxCreatedAt *time.Time, err error) {
	return repo.NotificationsStats(ctx, s.DB, userID)
}

// UnreadCount returns COUNT(*) of userID's unread notifications.
func (s *NotificationService) UnreadCount(ctx context.Context, userID string) (int64, error) {
	return repo.CountUnread(ctx, s.DB, userID)
}

// MarkRead marks one notification read. Marking it again is a no-op.
func (s *NotificationService) MarkRead(ctx context.Context, userID, id string) error {
	tr := otel.Tracer("services/NotificationService")
	ctx, span := tr.Start(ctx, "MarkRead",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	if err := repo.MarkNotificationRead(ctx, s.DB, id, userID, time.Now().UTC()); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrNotificationNotFound
		}
		return err
	}
	s.push(ctx, userID)
	return nil
}

// MarkAllRead marks every unread notification of userID read and returns
// how many changed.
func (s *NotificationService) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	tr := otel.Tracer("services/NotificationService")
	ctx, span := tr.Start(ctx, "MarkAllRead",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	n, err := repo.MarkAllNotificationsRead(ctx, s.DB, userID, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	s.push(ctx, userID)
	return n, nil
}

func (s *NotificationService) push(ctx context.Context, userID string) {
	if s.Fanout != nil {
		s.Fanout.PushUnread(ctx, []string{userID})
	}
}

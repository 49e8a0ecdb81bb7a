// Package handlers exposes the feature board over HTTP.
//
// Handlers are transport-thin: they bind and validate input, call the
// services, and translate results and errors into JSON responses.
package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-feature-board/internal/digest"
	"github.com/tbourn/go-feature-board/internal/domain"
	"github.com/tbourn/go-feature-board/internal/http/middleware"
	"github.com/tbourn/go-feature-board/internal/live"
	"github.com/tbourn/go-feature-board/internal/services"
	"github.com/tbourn/go-feature-board/internal/utils"
)

//
// Service contracts
//

// BoardService is the set of board actions the API exposes.
type BoardService interface {
	CreateProject(ctx context.Context, name string) (*domain.Project, error)
	RegisterUser(ctx context.Context, userID, email, name string) (*domain.User, error)
	Subscribe(ctx context.Context, userID, projectID string) error
	Unsubscribe(ctx context.Context, userID, projectID string) error
	CreateFeature(ctx context.Context, actor, projectID, title string) (*domain.Feature, *services.ActionResult, error)
	AddComment(ctx context.Context, actor, featureID, body string) (*domain.Comment, *services.ActionResult, error)
	ChangeStatus(ctx context.Context, actor, featureID string, status domain.FeatureStatus) (*domain.Feature, *services.ActionResult, error)
	CastVote(ctx context.Context, actor, featureID string) (*services.ActionResult, error)
	DeleteFeature(ctx context.Context, actor, featureID string) (*services.ActionResult, error)
	CommentForEvent(ctx context.Context, eventID uint64) (*domain.Comment, error)
}

// NotificationService serves a user's notifications.
type NotificationService interface {
	ListPage(ctx context.Context, userID string, unreadOnly bool, page, pageSize int) ([]services.NotificationItem, int64, error)
	Stats(ctx context.Context, userID string) (count, unread int64, maxCreatedAt *time.Time, err error)
	UnreadCount(ctx context.Context, userID string) (int64, error)
	MarkRead(ctx context.Context, userID, id string) error
	MarkAllRead(ctx context.Context, userID string) (int64, error)
}

// StatsReader reads per-project status counts.
type StatsReader interface {
	Get(ctx context.Context, projectID string) (domain.ProjectStats, error)
}

// IdempotencyStore remembers which event a keyed request produced.
type IdempotencyStore interface {
	Remember(ctx context.Context, userID, scope, key string, eventID uint64, status int) error
}

// LiveChannel hands out live push handles.
type LiveChannel interface {
	Subscribe(userID string) (*live.Handle, error)
	Unsubscribe(h *live.Handle)
}

// DigestAdmin runs digest cycles on demand and reports failed tasks.
type DigestAdmin interface {
	RunDigestCycle(ctx context.Context, periodStart time.Time) (digest.CycleReport, error)
	Failed(ctx context.Context, page, pageSize int) ([]domain.DigestTask, error)
}

//
// Handler wiring
//

// Deps are the services the handlers call. Digest may be nil when the
// digest pipeline is disabled.
type Deps struct {
	Board         BoardService
	Notifications NotificationService
	Stats         StatsReader
	Idempotency   IdempotencyStore
	Live          LiveChannel
	Digest        DigestAdmin
}

// Options tunes handler behavior.
type Options struct {
	// KeepAlive is the interval between comment frames on the live stream.
	KeepAlive time.Duration
	// DigestInterval is the period length used when an admin triggers a
	// cycle without a period start.
	DigestInterval time.Duration
}

// Handlers groups the HTTP endpoints.
type Handlers struct {
	board  BoardService
	notes  NotificationService
	stats  StatsReader
	idem   IdempotencyStore
	live   LiveChannel
	digest DigestAdmin

	keepAlive      time.Duration
	digestInterval time.Duration
	now            func() time.Time
}

// New constructs Handlers bound to d.
func New(d Deps, opts Options) *Handlers {
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = 25 * time.Second
	}
	if opts.DigestInterval <= 0 {
		opts.DigestInterval = 24 * time.Hour
	}
	return &Handlers{
		board:          d.Board,
		notes:          d.Notifications,
		stats:          d.Stats,
		idem:           d.Idempotency,
		live:           d.Live,
		digest:         d.Digest,
		keepAlive:      opts.KeepAlive,
		digestInterval: opts.DigestInterval,
		now:            time.Now,
	}
}

func userID(c *gin.Context) string { return middleware.UserID(c) }

// Pagination describes the page a list response holds.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

func newPagination(page, pageSize int, total int64) Pagination {
	totalPages := utils.TotalPages(total, pageSize)
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

func clampPagination(c *gin.Context) (page, pageSize int) {
	return utils.ParsePage(c.Query("page"), c.Query("page_size"))
}

// Route paths relative to the API base path that middleware needs to know.
const (
	StreamPath   = "/notifications/stream"
	CommentsPath = "/features/:id/comments"
)

// Mount registers the user endpoints on api and, when admin is non-nil, the
// operator endpoints on admin.
func (h *Handlers) Mount(api, admin gin.IRoutes) {
	api.PUT("/me", h.RegisterUser)

	api.POST("/projects", h.CreateProject)
	api.GET("/projects/:id/stats", h.ProjectStats)
	api.PUT("/projects/:id/subscription", h.Subscribe)
	api.DELETE("/projects/:id/subscription", h.Unsubscribe)
	api.POST("/projects/:id/features", h.CreateFeature)

	api.DELETE("/features/:id", h.DeleteFeature)
	api.POST(CommentsPath, h.AddComment)
	api.PUT("/features/:id/status", h.ChangeStatus)
	api.POST("/features/:id/votes", h.CastVote)

	api.GET("/notifications", h.ListNotifications)
	api.GET("/notifications/unread-count", h.UnreadCount)
	api.POST("/notifications/read-all", h.MarkAllRead)
	api.POST("/notifications/:id/read", h.MarkRead)
	api.GET(StreamPath, h.StreamNotifications)

	if admin != nil {
		admin.POST("/digest-cycles", h.RunDigestCycle)
		admin.GET("/digest-failures", h.DigestFailures)
	}
}

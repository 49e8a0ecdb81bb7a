// Board HTTP handlers.
//
// This file exposes the actions that change the board and emit events:
//   - PUT    /me                            (register digest address)
//   - POST   /projects
//   - GET    /projects/{id}/stats
//   - PUT    /projects/{id}/subscription
//   - DELETE /projects/{id}/subscription
//   - POST   /projects/{id}/features
//   - DELETE /features/{id}
//   - POST   /features/{id}/comments        (idempotent with Idempotency-Key)
//   - PUT    /features/{id}/status
//   - POST   /features/{id}/votes
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-feature-board/internal/domain"
	"github.com/tbourn/go-feature-board/internal/http/middleware"
	"github.com/tbourn/go-feature-board/internal/services"
)

//
// DTOs
//

// RegisterUserRequest sets the caller's digest address.
type RegisterUserRequest struct {
	Email string `json:"email" binding:"required" example:"ada@example.com"`
	Name  string `json:"name" example:"Ada"`
}

// CreateProjectRequest names a new project.
type CreateProjectRequest struct {
	Name string `json:"name" binding:"required" example:"Mobile app"`
}

// CreateFeatureRequest proposes a feature.
type CreateFeatureRequest struct {
	Title string `json:"title" binding:"required" example:"Dark mode"`
}

// AddCommentRequest posts a comment.
type AddCommentRequest struct {
	Body string `json:"body" binding:"required" example:"Would love this on tablets too."`
}

// ChangeStatusRequest moves a feature to a new status.
type ChangeStatusRequest struct {
	Status domain.FeatureStatus `json:"status" binding:"required" example:"in_progress"`
}

// FeatureResponse is a feature with the event the action emitted, if any.
type FeatureResponse struct {
	Feature *domain.Feature `json:"feature"`
	EventID uint64          `json:"event_id,omitempty" example:"42"`
}

// CommentResponse is a created (or replayed) comment.
type CommentResponse struct {
	Comment *domain.Comment `json:"comment"`
	EventID uint64          `json:"event_id,omitempty" example:"43"`
}

// EventResponse reports the event an action emitted.
type EventResponse struct {
	EventID  uint64 `json:"event_id" example:"44"`
	Notified int    `json:"notified" example:"3"`
}

// StatsResponse holds per-status feature counts of a project.
type StatsResponse struct {
	ProjectID string              `json:"project_id"`
	Counts    domain.ProjectStats `json:"counts"`
}

func eventResponse(res *services.ActionResult) EventResponse {
	return EventResponse{EventID: res.Event.ID, Notified: len(res.Notifications)}
}

//
// Handlers
//

// RegisterUser godoc
// @ID          registerUser
// @Summary     Set the caller's digest address
// @Tags        Users
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body  handlers.RegisterUserRequest  true  "Address"
// @Success     200  {object} domain.User
// @Failure     400  {object} handlers.ErrorResponse "Invalid address"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /me [put]
func (h *Handlers) RegisterUser(c *gin.Context) {
	var req RegisterUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "email required")
		return
	}
	u, err := h.board.RegisterUser(c.Request.Context(), userID(c), req.Email, req.Name)
	if err != nil {
		failErr(c, err, "register user")
		return
	}
	ok(c, http.StatusOK, u)
}

// CreateProject godoc
// @ID          createProject
// @Summary     Create a project
// @Tags        Projects
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body  handlers.CreateProjectRequest  true  "Project"
// @Success     201  {object} domain.Project
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /projects [post]
func (h *Handlers) CreateProject(c *gin.Context) {
	var req CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "name required")
		return
	}
	p, err := h.board.CreateProject(c.Request.Context(), req.Name)
	if err != nil {
		failErr(c, err, "create project")
		return
	}
	ok(c, http.StatusCreated, p)
}

// ProjectStats godoc
// @ID          projectStats
// @Summary     Feature counts per status
// @Description Served from the stats cache; refreshed on status changes, creations and deletions.
// @Tags        Projects
// @Produce     json
// @Security    BearerAuth
// @Param       id  path  string  true  "Project ID"
// @Success     200  {object} handlers.StatsResponse
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /projects/{id}/stats [get]
func (h *Handlers) ProjectStats(c *gin.Context) {
	id := c.Param("id")
	counts, err := h.stats.Get(c.Request.Context(), id)
	if err != nil {
		failErr(c, err, "project stats")
		return
	}
	ok(c, http.StatusOK, StatsResponse{ProjectID: id, Counts: counts})
}

// Subscribe godoc
// @ID          subscribeProject
// @Summary     Subscribe to a project
// @Tags        Projects
// @Security    BearerAuth
// @Param       id  path  string  true  "Project ID"
// @Success     204  "Subscribed"
// @Failure     404  {object} handlers.ErrorResponse "Project not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /projects/{id}/subscription [put]
func (h *Handlers) Subscribe(c *gin.Context) {
	if err := h.board.Subscribe(c.Request.Context(), userID(c), c.Param("id")); err != nil {
		failErr(c, err, "subscribe")
		return
	}
	noContent(c)
}

// Unsubscribe godoc
// @ID          unsubscribeProject
// @Summary     Unsubscribe from a project
// @Tags        Projects
// @Security    BearerAuth
// @Param       id  path  string  true  "Project ID"
// @Success     204  "Unsubscribed"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /projects/{id}/subscription [delete]
func (h *Handlers) Unsubscribe(c *gin.Context) {
	if err := h.board.Unsubscribe(c.Request.Context(), userID(c), c.Param("id")); err != nil {
		failErr(c, err, "unsubscribe")
		return
	}
	noContent(c)
}

// CreateFeature godoc
// @ID          createFeature
// @Summary     Propose a feature
// @Tags        Features
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id    path  string                          true  "Project ID"
// @Param       body  body  handlers.CreateFeatureRequest   true  "Feature"
// @Success     201  {object} handlers.FeatureResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Project not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /projects/{id}/features [post]
func (h *Handlers) CreateFeature(c *gin.Context) {
	var req CreateFeatureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "title required")
		return
	}
	f, res, err := h.board.CreateFeature(c.Request.Context(), userID(c), c.Param("id"), req.Title)
	if err != nil {
		failErr(c, err, "create feature")
		return
	}
	ok(c, http.StatusCreated, FeatureResponse{Feature: f, EventID: res.Event.ID})
}

// DeleteFeature godoc
// @ID          deleteFeature
// @Summary     Delete a feature
// @Tags        Features
// @Produce     json
// @Security    BearerAuth
// @Param       id  path  string  true  "Feature ID"
// @Success     200  {object} handlers.EventResponse
// @Failure     404  {object} handlers.ErrorResponse "Feature not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /features/{id} [delete]
func (h *Handlers) DeleteFeature(c *gin.Context) {
	res, err := h.board.DeleteFeature(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		failErr(c, err, "delete feature")
		return
	}
	ok(c, http.StatusOK, eventResponse(res))
}

// AddComment godoc
// @ID          addComment
// @Summary     Comment on a feature
// @Description Supports idempotency via the Idempotency-Key header: a retry with the same key returns
// @Description the original comment with `Idempotency-Replayed: true` and emits nothing.
// @Tags        Features
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       Idempotency-Key  header  string                       false "Key for safe retries"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       id               path    string                       true  "Feature ID"
// @Param       body             body    handlers.AddCommentRequest   true  "Comment"
// @Success     201  {object} handlers.CommentResponse "Created"
// @Success     200  {object} handlers.CommentResponse "Replayed"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Feature not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /features/{id}/comments [post]
func (h *Handlers) AddComment(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)
	featureID := c.Param("id")

	if evID, replay := middleware.ReplayedEvent(c); replay {
		if prev, err := h.board.CommentForEvent(ctx, evID); err == nil {
			c.Header(middleware.HeaderIdempotencyReplayed, "true")
			ok(c, http.StatusOK, CommentResponse{Comment: prev, EventID: evID})
			return
		}
	}

	var req AddCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "body required")
		return
	}
	cm, res, err := h.board.AddComment(ctx, uid, featureID, req.Body)
	if err != nil {
		failErr(c, err, "add comment")
		return
	}

	if key, has := middleware.GetIdempotencyKey(c); has && h.idem != nil {
		if err := h.idem.Remember(ctx, uid, featureID, key, res.Event.ID, http.StatusCreated); err != nil {
			middleware.LoggerFrom(c).Warn().Err(err).Msg("remember idempotency key")
		}
	}
	ok(c, http.StatusCreated, CommentResponse{Comment: cm, EventID: res.Event.ID})
}

// ChangeStatus godoc
// @ID          changeFeatureStatus
// @Summary     Change a feature's status
// @Description Setting the current status again succeeds without emitting an event.
// @Tags        Features
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id    path  string                         true  "Feature ID"
// @Param       body  body  handlers.ChangeStatusRequest   true  "Status"
// @Success     200  {object} handlers.FeatureResponse
// @Failure     400  {object} handlers.ErrorResponse "Unknown status"
// @Failure     404  {object} handlers.ErrorResponse "Feature not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /features/{id}/status [put]
func (h *Handlers) ChangeStatus(c *gin.Context) {
	var req ChangeStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "status required")
		return
	}
	f, res, err := h.board.ChangeStatus(c.Request.Context(), userID(c), c.Param("id"), req.Status)
	if err != nil {
		failErr(c, err, "change status")
		return
	}
	resp := FeatureResponse{Feature: f}
	if res != nil {
		resp.EventID = res.Event.ID
	}
	ok(c, http.StatusOK, resp)
}

// CastVote godoc
// @ID          castVote
// @Summary     Vote for a feature
// @Tags        Features
// @Produce     json
// @Security    BearerAuth
// @Param       id  path  string  true  "Feature ID"
// @Success     201  {object} handlers.EventResponse
// @Failure     404  {object} handlers.ErrorResponse "Feature not found"
// @Failure     409  {object} handlers.ErrorResponse "Already voted"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /features/{id}/votes [post]
func (h *Handlers) CastVote(c *gin.Context) {
	res, err := h.board.CastVote(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		failErr(c, err, "cast vote")
		return
	}
	ok(c, http.StatusCreated, eventResponse(res))
}

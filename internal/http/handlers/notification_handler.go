// Notification HTTP handlers.
//
// This file exposes the pull and push sides of a user's notifications:
//   - GET  /notifications               (list, paginated, ETag support)
//   - GET  /notifications/unread-count
//   - POST /notifications/{id}/read
//   - POST /notifications/read-all
//   - GET  /notifications/stream        (Server-Sent Events)
package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-feature-board/internal/live"
	"github.com/tbourn/go-feature-board/internal/services"
)

// ListNotificationsResponse is a page of notifications.
type ListNotificationsResponse struct {
	Notifications []services.NotificationItem `json:"notifications"`
	Pagination    Pagination                  `json:"pagination"`
}

// UnreadCountResponse carries the current unread count. It has the same
// shape as the live push payload.
type UnreadCountResponse = services.UnreadPayload

// MarkAllReadResponse reports how many notifications changed.
type MarkAllReadResponse struct {
	Marked int64 `json:"marked" example:"3"`
}

// streamEvent is the SSE event name for unread count frames.
const streamEvent = "unread"

// ListNotifications godoc
// @ID          listNotifications
// @Summary     List notifications
// @Description Returns the caller's notifications, newest first. Supports conditional GET via ETag.
// @Tags        Notifications
// @Produce     json
// @Security    BearerAuth
// @Param       unread     query  bool  false "Only unread notifications"
// @Param       page       query  int   false "Page number"     minimum(1) default(1)
// @Param       page_size  query  int   false "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object} handlers.ListNotificationsResponse
// @Success     304  "Not modified"
// @Failure     401  {object} handlers.ErrorResponse "Unauthorized"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /notifications [get]
func (h *Handlers) ListNotifications(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)
	unreadOnly, _ := strconv.ParseBool(c.Query("unread"))

	// Any insert or read marking changes count, unread or the newest time,
	// so the tag moves whenever the listing could.
	if count, unread, maxTS, err := h.notes.Stats(ctx, uid); err == nil {
		var ts int64
		if maxTS != nil {
			ts = maxTS.UnixNano()
		}
		etag := fmt.Sprintf(`W/"notifications:%s:%d:%d:%d"`, uid, count, unread, ts)
		c.Header("ETag", etag)
		c.Header("Cache-Control", "private, no-cache")
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	page, pageSize := clampPagination(c)
	items, total, err := h.notes.ListPage(ctx, uid, unreadOnly, page, pageSize)
	if err != nil {
		failErr(c, err, "list notifications")
		return
	}
	ok(c, http.StatusOK, ListNotificationsResponse{
		Notifications: items,
		Pagination:    newPagination(page, pageSize, total),
	})
}

// UnreadCount godoc
// @ID          unreadCount
// @Summary     Unread notification count
// @Tags        Notifications
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object} handlers.UnreadCountResponse
// @Failure     401  {object} handlers.ErrorResponse "Unauthorized"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /notifications/unread-count [get]
func (h *Handlers) UnreadCount(c *gin.Context) {
	n, err := h.notes.UnreadCount(c.Request.Context(), userID(c))
	if err != nil {
		failErr(c, err, "count unread")
		return
	}
	ok(c, http.StatusOK, UnreadCountResponse{UnreadCount: n})
}

// MarkRead godoc
// @ID          markNotificationRead
// @Summary     Mark a notification read
// @Description Marking an already read notification again is a no-op.
// @Tags        Notifications
// @Security    BearerAuth
// @Param       id  path  string  true  "Notification ID"
// @Success     204  "Marked"
// @Failure     401  {object} handlers.ErrorResponse "Unauthorized"
// @Failure     404  {object} handlers.ErrorResponse "Notification not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /notifications/{id}/read [post]
func (h *Handlers) MarkRead(c *gin.Context) {
	if err := h.notes.MarkRead(c.Request.Context(), userID(c), c.Param("id")); err != nil {
		failErr(c, err, "mark read")
		return
	}
	noContent(c)
}

// MarkAllRead godoc
// @ID          markAllNotificationsRead
// @Summary     Mark every notification read
// @Tags        Notifications
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object} handlers.MarkAllReadResponse
// @Failure     401  {object} handlers.ErrorResponse "Unauthorized"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /notifications/read-all [post]
func (h *Handlers) MarkAllRead(c *gin.Context) {
	n, err := h.notes.MarkAllRead(c.Request.Context(), userID(c))
	if err != nil {
		failErr(c, err, "mark all read")
		return
	}
	ok(c, http.StatusOK, MarkAllReadResponse{Marked: n})
}

// StreamNotifications godoc
// @ID          streamNotifications
// @Summary     Live unread count stream
// @Description Server-Sent Events. The first "unread" event carries the current count; each later
// @Description one carries the new absolute count after a change. Comment frames keep the connection alive.
// @Tags        Notifications
// @Produce     text/event-stream
// @Security    BearerAuth
// @Success     200  {object} handlers.UnreadCountResponse "event: unread"
// @Failure     401  {object} handlers.ErrorResponse "Unauthorized"
// @Failure     503  {object} handlers.ErrorResponse "Shutting down"
// @Router      /notifications/stream [get]
func (h *Handlers) StreamNotifications(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)

	// Subscribe before reading the count so no change falls in between.
	hd, err := h.live.Subscribe(uid)
	if err != nil {
		if errors.Is(err, live.ErrClosed) {
			fail(c, http.StatusServiceUnavailable, ErrCodeUnavailable, "server is shutting down")
			return
		}
		failErr(c, err, "open stream")
		return
	}
	defer h.live.Unsubscribe(hd)

	n, err := h.notes.UnreadCount(ctx, uid)
	if err != nil {
		failErr(c, err, "count unread")
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	c.SSEvent(streamEvent, services.UnreadPayload{UnreadCount: n})
	c.Writer.Flush()

	keepAlive := time.NewTicker(h.keepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case p, open := <-hd.C():
			if !open {
				return
			}
			c.SSEvent(streamEvent, p)
		case <-keepAlive.C:
			if _, err := io.WriteString(c.Writer, ": keepalive\n\n"); err != nil {
				return
			}
		}
		c.Writer.Flush()
	}
}

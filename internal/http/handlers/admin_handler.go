// Admin HTTP handlers, mounted behind middleware.AdminOnly:
//   - POST /admin/digest-cycles
//   - GET  /admin/digest-failures
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-feature-board/internal/digest"
	"github.com/tbourn/go-feature-board/internal/domain"
)

// RunDigestCycleRequest optionally pins the period start. Without it the
// previous complete period is used.
type RunDigestCycleRequest struct {
	PeriodStart *time.Time `json:"period_start,omitempty" example:"2025-01-01T00:00:00Z"`
}

// DigestFailuresResponse is a page of failed digest tasks.
type DigestFailuresResponse struct {
	Tasks    []domain.DigestTask `json:"tasks"`
	Page     int                 `json:"page"`
	PageSize int                 `json:"page_size"`
}

// RunDigestCycle godoc
// @ID          runDigestCycle
// @Summary     Enqueue digest tasks for a period
// @Description Enqueues one task per subscribed user. Running it again for the same period enqueues nobody twice.
// @Tags        Admin
// @Accept      json
// @Produce     json
// @Param       X-Admin-Token  header  string                           true   "Admin token"
// @Param       body           body    handlers.RunDigestCycleRequest   false  "Period"
// @Success     200  {object} digest.CycleReport
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     403  {object} handlers.ErrorResponse "Forbidden"
// @Failure     503  {object} handlers.ErrorResponse "Digest disabled"
// @Failure     500  {object} handlers.ErrorResponse "Cycle failed"
// @Router      /admin/digest-cycles [post]
func (h *Handlers) RunDigestCycle(c *gin.Context) {
	if h.digest == nil {
		fail(c, http.StatusServiceUnavailable, ErrCodeUnavailable, "digest pipeline disabled")
		return
	}
	var req RunDigestCycleRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "period_start must be RFC 3339")
			return
		}
	}
	period := digest.PreviousPeriod(h.now(), h.digestInterval)
	if req.PeriodStart != nil {
		period = *req.PeriodStart
	}

	rep, err := h.digest.RunDigestCycle(c.Request.Context(), period)
	if err != nil && rep.Users == 0 {
		failErr(c, err, "digest cycle")
		return
	}
	// partial failures are reported in the counts
	ok(c, http.StatusOK, rep)
}

// DigestFailures godoc
// @ID          digestFailures
// @Summary     List failed digest tasks
// @Tags        Admin
// @Produce     json
// @Param       X-Admin-Token  header  string  true   "Admin token"
// @Param       page           query   int     false  "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false  "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object} handlers.DigestFailuresResponse
// @Failure     403  {object} handlers.ErrorResponse "Forbidden"
// @Failure     503  {object} handlers.ErrorResponse "Digest disabled"
// @Router      /admin/digest-failures [get]
func (h *Handlers) DigestFailures(c *gin.Context) {
	if h.digest == nil {
		fail(c, http.StatusServiceUnavailable, ErrCodeUnavailable, "digest pipeline disabled")
		return
	}
	page, pageSize := clampPagination(c)
	tasks, err := h.digest.Failed(c.Request.Context(), page, pageSize)
	if err != nil {
		failErr(c, err, "list digest failures")
		return
	}
	if tasks == nil {
		tasks = []domain.DigestTask{}
	}
	ok(c, http.StatusOK, DigestFailuresResponse{Tasks: tasks, Page: page, PageSize: pageSize})
}

// Package handlers provides HTTP handler implementations for the public API.
//
// This file holds the response helpers. Every error leaves through fail, so
// all error bodies share one envelope and every 5xx is logged with the
// request-scoped logger.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-feature-board/internal/http/middleware"
	"github.com/tbourn/go-feature-board/internal/services"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
type ErrorResponse struct {
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code" example:"not_found"`
	// Human-readable message (safe to show to users)
	Message string `json:"message" example:"feature not found"`
}

func fail(c *gin.Context, status int, code, msg string) {
	resp := ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	}
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}
	c.AbortWithStatusJSON(status, resp)
}

// Fail is the exported variant of fail for the router's NoRoute handlers.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// failErr maps a service error onto the envelope: validation errors are 400,
// missing entities 404, conflicts 409, retryable failures 503 and anything
// else 500. The text of
// unexpected errors is logged, never returned.
func failErr(c *gin.Context, err error, op string) {
	switch {
	case errors.Is(err, services.ErrAlreadyVoted):
		fail(c, http.StatusConflict, ErrCodeAlreadyVoted, err.Error())
	case errors.Is(err, services.ErrValidation):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, services.ErrProjectNotFound),
		errors.Is(err, services.ErrFeatureNotFound),
		errors.Is(err, services.ErrNotificationNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, services.ErrConflict):
		fail(c, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, services.ErrTransient):
		middleware.LoggerFrom(c).Warn().Err(err).Str("op", op).Msg("request refused, retryable")
		c.Header("Retry-After", "1")
		fail(c, http.StatusServiceUnavailable, ErrCodeUnavailable, op+" temporarily unavailable")
	default:
		middleware.LoggerFrom(c).Error().Err(err).Str("op", op).Msg("request failed")
		fail(c, http.StatusInternalServerError, ErrCodeInternal, op+" failed")
	}
}

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

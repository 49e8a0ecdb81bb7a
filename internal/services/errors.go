// Package services defines the business logic of the feature board: board
// actions that produce events, the event store, notification fan-out and
// notification reads. This file centralizes service-level error values so
// that they can be consistently returned by service methods and checked by
// callers with errors.Is.
//
// The four category errors form the taxonomy; specific errors wrap exactly
// one of them (or none, for plain not-found cases). Translation into HTTP
// status codes is performed at the handler layer.
package services

import (
	"errors"
	"fmt"

	"github.com/tbourn/go-feature-board/internal/domain"
)

// Categories.
var (
	// ErrValidation marks bad input. It is reported to the caller and never
	// retried.
	ErrValidation = errors.New("validation failed")

	// ErrConflict marks a uniqueness violation. On notification insert it
	// means the row already exists and is treated as success.
	ErrConflict = errors.New("conflict")

	// ErrTransient marks an action refused by a busy database; the caller
	// may retry it. ErrPermanent is its counterpart for failures that stay.
	ErrTransient = domain.ErrTransient
	ErrPermanent = domain.ErrPermanent
)

// Validation errors.
var (
	ErrUnknownKind    = fmt.Errorf("%w: unknown event kind", ErrValidation)
	ErrUnresolvedRef  = fmt.Errorf("%w: source entity does not exist", ErrValidation)
	ErrMissingActor   = fmt.Errorf("%w: actor is required", ErrValidation)
	ErrInvalidStatus  = fmt.Errorf("%w: unknown feature status", ErrValidation)
	ErrEmptyBody      = fmt.Errorf("%w: comment body is empty", ErrValidation)
	ErrTooLong        = fmt.Errorf("%w: text too long", ErrValidation)
	ErrEmptyTitle     = fmt.Errorf("%w: title is empty", ErrValidation)
	ErrInvalidAddress = fmt.Errorf("%w: email address is invalid", ErrValidation)
)

// Not-found errors.
var (
	// ErrProjectNotFound indicates that the requested project does not exist.
	ErrProjectNotFound = errors.New("project not found")

	// ErrFeatureNotFound indicates that the requested feature does not exist
	// or was deleted.
	ErrFeatureNotFound = errors.New("feature not found")

	// ErrNotificationNotFound indicates that the notification does not exist
	// or belongs to another user.
	ErrNotificationNotFound = errors.New("notification not found")
)

// ErrAlreadyVoted is returned when a user votes twice on the same feature.
var ErrAlreadyVoted = fmt.Errorf("%w: already voted", ErrConflict)

// Package errors holds the sentinel errors shared by every layer of dm-lab.
// Specific errors wrap one of the category errors so callers can branch on the
// category with errors.Is while logs keep the precise cause.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Categories.
var (
	ErrAuth       = fmt.Errorf("unauthorized")
	ErrValidation = fmt.Errorf("validation failed")
	ErrNotFound   = fmt.Errorf("not found")
	ErrStorage    = fmt.Errorf("storage unavailable")
	ErrDelivery   = fmt.Errorf("delivery failed")
)

var (
	ErrMissingToken       = fmt.Errorf("%w: authorization token is missing", ErrAuth)
	ErrInvalidToken       = fmt.Errorf("%w: invalid or expired token", ErrAuth)
	ErrInvalidCredentials = fmt.Errorf("%w: invalid credentials", ErrAuth)
	ErrNotParticipant     = fmt.Errorf("%w: user is not a participant of the conversation", ErrAuth)
	ErrForeignChannel     = fmt.Errorf("%w: channel belongs to another user", ErrAuth)

	ErrEmptyContent          = fmt.Errorf("%w: content is required", ErrValidation)
	ErrContentTooLong        = fmt.Errorf("%w: content is too long", ErrValidation)
	ErrInvalidConversationID = fmt.Errorf("%w: conversationId is missing or malformed", ErrValidation)
	ErrInvalidUserID         = fmt.Errorf("%w: userId is missing or malformed", ErrValidation)
	ErrSelfConversation      = fmt.Errorf("%w: a conversation needs two distinct participants", ErrValidation)
	ErrInvalidPassword       = fmt.Errorf("%w: password does not meet complexity rules", ErrValidation)
	ErrInvalidChannel        = fmt.Errorf("%w: unknown channel", ErrValidation)

	ErrConversationNotFound = fmt.Errorf("%w: conversation", ErrNotFound)
	ErrUserNotFound         = fmt.Errorf("%w: user", ErrNotFound)
	ErrMessageNotFound      = fmt.Errorf("%w: message", ErrNotFound)

	ErrUserAlreadyExists = fmt.Errorf("user already exists")
	ErrTokenGeneration   = fmt.Errorf("token generation failed")
	ErrTooManyConflicts  = fmt.Errorf("%w: too many transaction conflicts", ErrStorage)
	ErrBusClosed         = fmt.Errorf("%w: bus closed", ErrDelivery)
	ErrSubscriptionSlow  = fmt.Errorf("%w: subscriber too slow", ErrDelivery)

	ErrWorkerPanic = fmt.Errorf("worker panic")
	ErrEmptyWords  = fmt.Errorf("no words have been found")
)

// Storage marks err as a persistence failure, keeping the original cause.
// Errors that already carry a category are returned unchanged.
func Storage(err error) error {
	switch {
	case err == nil,
		errors.Is(err, ErrStorage),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrValidation),
		errors.Is(err, ErrAuth),
		errors.Is(err, ErrUserAlreadyExists):
		return err
	}
	return fmt.Errorf("%w: %w", ErrStorage, err)
}

// HTTPStatus maps an error to the status code returned by the HTTP API.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotParticipant), errors.Is(err, ErrForeignChannel):
		return http.StatusForbidden
	case errors.Is(err, ErrAuth):
		return http.StatusUnauthorized
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUserAlreadyExists):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Is and As forward to the standard library so callers only import this package.
func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target any) bool { return errors.As(err, target) }

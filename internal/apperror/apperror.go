// Package apperror defines the error kinds shared by every layer of the app.
//
// Services return *AppError values that wrap one of the sentinel kinds below.
// Handlers translate the kind into an HTTP status in one place (handler/response.go),
// so nothing below the HTTP layer knows about status codes.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("Validation Error")
	ErrConflict     = errors.New("conflict")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")

	// ErrResourceLost marks state the user has to recreate by hand, e.g. a
	// PDF whose bytes did not survive a reload. It is recoverable, never fatal.
	ErrResourceLost = errors.New("resource lost")
)

type AppError struct {
	Err     error  // actual error
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
	Detail  any    // Optional: structured payload returned to the client
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// Unauthorized means the caller has no valid session. HTTP handlers map it to 401.
func Unauthorized(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: message,
	}
}

// ResourceLost reports state that must be recreated by the user. The detail
// value is sent back so the client can tell the user what to reselect.
func ResourceLost(message string, detail any) *AppError {
	return &AppError{
		Err:     ErrResourceLost,
		Message: message,
		Detail:  detail,
	}
}

// IsNotFound is shorthand for errors.Is(err, ErrNotFound). Profile existence
// checks use it as plain control flow.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

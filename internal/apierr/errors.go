// Package apierr provides the single stable error representation shared by
// the REST surface and the streaming fabric, so both external interfaces
// render the same failure the same way.
package apierr

import (
	"fmt"
	"net/http"
)

// Kind is a stable, wire-level discriminator for a failure class.
type Kind string

const (
	Unauthenticated  Kind = "Unauthenticated"
	Forbidden        Kind = "Forbidden"
	NotFound         Kind = "NotFound"
	Conflict         Kind = "Conflict"
	Validation       Kind = "Validation"
	EngineUnavailable Kind = "EngineUnavailable"
	EngineRejected   Kind = "EngineRejected"
	Timeout          Kind = "Timeout"
	RateLimited      Kind = "RateLimited"
	Internal         Kind = "Internal"
)

var httpStatus = map[Kind]int{
	Unauthenticated:   http.StatusUnauthorized,
	Forbidden:         http.StatusForbidden,
	NotFound:          http.StatusNotFound,
	Conflict:          http.StatusConflict,
	Validation:        http.StatusBadRequest,
	EngineUnavailable: http.StatusServiceUnavailable,
	EngineRejected:    http.StatusUnprocessableEntity,
	Timeout:           http.StatusGatewayTimeout,
	RateLimited:       http.StatusTooManyRequests,
	Internal:          http.StatusInternalServerError,
}

// Error is the structured error carried across both the REST API and the
// streaming channel's Error{} envelope.
type Error struct {
	Kind     Kind
	Message  string
	Details  map[string]any
	Cause    error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// HTTPStatus maps the Kind to a status code for the REST surface.
func (e *Error) HTTPStatus() int {
	if s, ok := httpStatus[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// WithDetail attaches a key/value pair of diagnostic context, never a secret.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// As extracts an *Error from err, wrapping non-apierr errors as Internal.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		return e
	}
	return Wrap(Internal, "unexpected error", err)
}

func NotFoundf(format string, args ...any) *Error {
	return New(NotFound, fmt.Sprintf(format, args...))
}

func Conflictf(format string, args ...any) *Error {
	return New(Conflict, fmt.Sprintf(format, args...))
}

func Validationf(format string, args ...any) *Error {
	return New(Validation, fmt.Sprintf(format, args...))
}

func EngineRejectedExit(exitCode int, message string) *Error {
	return New(EngineRejected, message).WithDetail("exit_code", exitCode)
}

// Package apperr defines the classified errors surfaced by querydeck.
//
// Every failure that leaves a package boundary carries one of a small set of
// kinds so the HTTP and CLI layers can map it to a user-visible signal
// without inspecting message text.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind is a machine-readable error category.
type Kind string

const (
	// Validation indicates malformed input: SQL syntax, unsafe statements, bad names or URLs.
	Validation Kind = "validation"
	// NotFound indicates an unknown connection name.
	NotFound Kind = "not_found"
	// Connection indicates a target database could not be reached in time.
	Connection Kind = "connection"
	// Database indicates the bookkeeping store or a target rejected a well-formed operation.
	Database Kind = "database"
	// Internal indicates a translation-service failure or malformed external response.
	Internal Kind = "internal"
)

// Error wraps an underlying error with its kind and a human-friendly message.
type Error struct {
	Kind    Kind
	Message string
	// Elapsed is set on connection errors.
	Elapsed time.Duration
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Kind == Connection && e.Elapsed > 0 {
		msg = fmt.Sprintf("%s after %s", msg, e.Elapsed.Round(time.Millisecond))
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an error of the given kind.
func New(kind Kind, msg string) *Error { return &Error{Kind: kind, Message: msg} }

// Wrap creates an error of the given kind around err.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// Validationf creates a validation error.
func Validationf(format string, args ...any) *Error {
	return New(Validation, fmt.Sprintf(format, args...))
}

// NotFoundf creates a not-found error.
func NotFoundf(format string, args ...any) *Error {
	return New(NotFound, fmt.Sprintf(format, args...))
}

// DatabaseErr wraps a store or target failure.
func DatabaseErr(msg string, err error) *Error { return Wrap(Database, msg, err) }

// InternalErr wraps a translation or unexpected failure.
func InternalErr(msg string, err error) *Error { return Wrap(Internal, msg, err) }

// ConnectionErr wraps a failure to reach a target database.
func ConnectionErr(msg string, elapsed time.Duration, err error) *Error {
	return &Error{Kind: Connection, Message: msg, Elapsed: elapsed, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
// Unclassified errors are reported as Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// HTTPStatus maps a kind to its response status.
func HTTPStatus(kind Kind) int {
	switch kind {
	case Validation, Connection:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Code maps a kind to the error code sent to API clients.
func Code(kind Kind) string {
	switch kind {
	case Validation:
		return "VALIDATION_ERROR"
	case NotFound:
		return "NOT_FOUND"
	case Connection:
		return "CONNECTION_ERROR"
	case Database:
		return "DATABASE_ERROR"
	default:
		return "INTERNAL_ERROR"
	}
}

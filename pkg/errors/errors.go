// Package errors defines the error kinds surfaced by the index engine and its
// service layers. Every failing operation returns one of the sentinel kinds
// below, usually wrapped in an AppError that carries a human-readable cause
// and the HTTP status the service layer should answer with.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrWrite               = errors.New("write failed")
	ErrSnapshotUnavailable = errors.New("snapshot unavailable")
	ErrMalformedQuery      = errors.New("malformed query")
	ErrAnalysis            = errors.New("analysis failed")
	ErrIndexClosed         = errors.New("index closed")
	ErrDocumentNotFound    = errors.New("document not found")
	ErrInvalidInput        = errors.New("invalid input")
	ErrInternal            = errors.New("internal error")
	ErrTimeout             = errors.New("operation timed out")
)

// AppError pairs an error kind with a cause and a status code.
type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New builds an AppError for the given kind.
func New(kind error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        kind,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Newf is New with a formatted message.
func Newf(kind error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        kind,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// Malformed reports a structurally invalid query.
func Malformed(format string, args ...any) *AppError {
	return Newf(ErrMalformedQuery, http.StatusBadRequest, format, args...)
}

// Write wraps a storage batch failure.
func Write(cause error) *AppError {
	return &AppError{
		Err:        ErrWrite,
		Message:    cause.Error(),
		StatusCode: http.StatusInternalServerError,
	}
}

// Snapshot wraps a failure to open a consistent view.
func Snapshot(cause error) *AppError {
	return &AppError{
		Err:        ErrSnapshotUnavailable,
		Message:    cause.Error(),
		StatusCode: http.StatusServiceUnavailable,
	}
}

// Invalid reports a request or document the service cannot accept.
func Invalid(format string, args ...any) *AppError {
	return Newf(ErrInvalidInput, http.StatusBadRequest, format, args...)
}

// NotFound reports a missing document.
func NotFound(id string) *AppError {
	return Newf(ErrDocumentNotFound, http.StatusNotFound, "document %q", id)
}

// Analysis wraps an analyzer failure for the named document field.
func Analysis(docID, field string, cause error) *AppError {
	return Newf(ErrAnalysis, http.StatusUnprocessableEntity, "document %q field %q: %v", docID, field, cause)
}

// Kind returns the sentinel kind of err, or ErrInternal when none matches.
func Kind(err error) error {
	for _, kind := range []error{
		ErrWrite, ErrSnapshotUnavailable, ErrMalformedQuery, ErrAnalysis,
		ErrIndexClosed, ErrDocumentNotFound, ErrInvalidInput, ErrTimeout,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrTimeout
	}
	return ErrInternal
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch Kind(err) {
	case ErrDocumentNotFound:
		return http.StatusNotFound
	case ErrMalformedQuery, ErrInvalidInput:
		return http.StatusBadRequest
	case ErrAnalysis:
		return http.StatusUnprocessableEntity
	case ErrSnapshotUnavailable, ErrIndexClosed:
		return http.StatusServiceUnavailable
	case ErrTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Package errors defines the sentinel errors shared by the index build
// pipeline and the query service, plus an AppError wrapper that carries an
// HTTP status for the API layer.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrSchema marks a required column or field missing at ingestion. Build-fatal.
	ErrSchema = errors.New("schema error")
	// ErrStorage marks a read or write failure on an index artifact. Build-fatal.
	ErrStorage = errors.New("storage error")
	// ErrConfiguration marks an engine that cannot initialise.
	ErrConfiguration = errors.New("configuration error")
	// ErrInvalidQuery marks malformed query input at the API boundary.
	ErrInvalidQuery = errors.New("invalid query")

	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrInternal     = errors.New("internal error")
	ErrTimeout      = errors.New("operation timed out")
)

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

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// Schema wraps a message as a build-fatal schema error.
func Schema(format string, args ...any) *AppError {
	return Newf(ErrSchema, http.StatusInternalServerError, format, args...)
}

// Storage wraps cause as a storage error, keeping it reachable via errors.Is.
func Storage(cause error, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %w", ErrStorage, fmt.Sprintf(format, args...), cause)
}

// Configuration wraps cause as a configuration error.
func Configuration(cause error, format string, args ...any) error {
	if cause == nil {
		return Newf(ErrConfiguration, http.StatusInternalServerError, format, args...)
	}
	return fmt.Errorf("%w: %s: %w", ErrConfiguration, fmt.Sprintf(format, args...), cause)
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrInvalidQuery):
		return http.StatusBadRequest
	case errors.Is(err, ErrTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

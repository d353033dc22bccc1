package app

import (
	"errors"
	"fmt"
)

// Domain error sentinels for the server application layer.
// Handlers map them to HTTP statuses via errors.Is().

var (
	// ErrNotFound indicates the requested task or project does not exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation indicates an invalid run request.
	ErrValidation = errors.New("validation error")

	// ErrUnavailable indicates a required dependency is not configured or ready.
	ErrUnavailable = errors.New("service unavailable")

	// ErrConflict indicates a state conflict (e.g., a run while a cancellation is still cleaning up).
	ErrConflict = errors.New("conflict")
)

// NotFoundError wraps ErrNotFound with a descriptive message.
func NotFoundError(msg string) error {
	return fmt.Errorf("%s: %w", msg, ErrNotFound)
}

// ValidationError wraps ErrValidation with a descriptive message.
func ValidationError(msg string) error {
	return fmt.Errorf("%s: %w", msg, ErrValidation)
}

// UnavailableError wraps ErrUnavailable with a descriptive message.
func UnavailableError(msg string) error {
	return fmt.Errorf("%s: %w", msg, ErrUnavailable)
}

// ConflictError wraps ErrConflict with a descriptive message.
func ConflictError(msg string) error {
	return fmt.Errorf("%s: %w", msg, ErrConflict)
}

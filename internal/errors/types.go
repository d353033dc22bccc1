package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrorType represents the classification of orchestration errors.
type ErrorType int

const (
	// ErrorTypeTransient - the operation may succeed if repeated
	ErrorTypeTransient ErrorType = iota
	// ErrorTypePermanent - repeating the operation will not help
	ErrorTypePermanent
	// ErrorTypeDegraded - resolved locally with fallback content
	ErrorTypeDegraded
)

// PreconditionError is returned when a request lacks the context required to start a task.
type PreconditionError struct {
	Field   string
	Message string
}

func (e *PreconditionError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("precondition failed: %s is required", e.Field)
}

// TransportError wraps a network or protocol failure of a single gateway operation.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: unexpected status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// RemoteFailure reports a task that reached the failed terminal state.
type RemoteFailure struct {
	TaskID  string
	Message string
}

func (e *RemoteFailure) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("task %s failed", e.TaskID)
	}
	return fmt.Sprintf("task %s failed: %s", e.TaskID, e.Message)
}

// ProtocolAnomaly describes a streaming exchange that ended without a usable field.
// It is resolved locally with fallback text and only ever logged.
type ProtocolAnomaly struct {
	Reason   string
	Fallback string
}

func (e *ProtocolAnomaly) Error() string {
	return fmt.Sprintf("protocol anomaly: %s", e.Reason)
}

// NewTransportError wraps err for op, returning nil when err is nil.
func NewTransportError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransportError{Op: op, Err: err}
}

// IsTransient checks if an error may clear up on its own.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		// 4xx responses will not change by asking again
		return transportErr.StatusCode == 0 || transportErr.StatusCode >= 500 || transportErr.StatusCode == 429
	}

	var precondition *PreconditionError
	if errors.As(err, &precondition) {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	lower := strings.ToLower(err.Error())
	for _, pattern := range []string{"connection refused", "connection reset", "broken pipe", "eof"} {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

// IsPermanent checks if an error will not resolve by repeating the operation.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}

	var precondition *PreconditionError
	if errors.As(err, &precondition) {
		return true
	}

	var remote *RemoteFailure
	if errors.As(err, &remote) {
		return true
	}

	return !IsTransient(err) && !IsDegraded(err)
}

// IsDegraded checks if an error was already resolved with fallback content.
func IsDegraded(err error) bool {
	var anomaly *ProtocolAnomaly
	return errors.As(err, &anomaly)
}

// GetErrorType classifies an error
func GetErrorType(err error) ErrorType {
	if err == nil {
		return ErrorTypePermanent
	}
	if IsDegraded(err) {
		return ErrorTypeDegraded
	}
	if IsTransient(err) {
		return ErrorTypeTransient
	}
	return ErrorTypePermanent
}

// OperationOf returns the failing operation name carried by a TransportError.
func OperationOf(err error) string {
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return transportErr.Op
	}
	return ""
}

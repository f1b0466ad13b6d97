package service

import (
	"errors"
	"fmt"

	"github.com/phrazzld/melody-api/internal/store"
	"github.com/phrazzld/melody-api/internal/task"
)

// Common service errors - sentinel errors used across service implementations.
// Callers use errors.Is to check for them; the API layer maps them to HTTP
// status codes.
var (
	// ErrResultPending indicates the generation has not finished yet.
	// API layer should map this to HTTP 202 Accepted.
	ErrResultPending = errors.New("generation still in progress")

	// ErrGenerationFailed indicates the generation ended in failure and has
	// no result. API layer should map this to HTTP 404 Not Found.
	ErrGenerationFailed = errors.New("generation failed")
)

// GenerationServiceError wraps unexpected errors from the generation service
// with the operation that failed.
type GenerationServiceError struct {
	// Operation is the operation that failed (e.g., "submit", "delete")
	Operation string
	// Message is a human-readable description of the error
	Message string
	// Err is the underlying error that caused the failure
	Err error
}

// Error implements the error interface.
func (e *GenerationServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("generation service %s failed: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("generation service %s failed: %s", e.Operation, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *GenerationServiceError) Unwrap() error {
	return e.Err
}

// NewGenerationServiceError wraps err with operation context. Sentinels the
// API layer maps directly are returned unwrapped.
func NewGenerationServiceError(operation, message string, err error) error {
	if err == nil {
		return nil
	}

	for _, sentinel := range []error{
		ErrResultPending,
		ErrGenerationFailed,
		task.ErrTaskNotFound,
		task.ErrQueueFull,
		task.ErrRunnerStopped,
		store.ErrResultNotFound,
	} {
		if errors.Is(err, sentinel) {
			return sentinel
		}
	}

	return &GenerationServiceError{
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}

package store

import (
	"errors"
	"fmt"
)

// Common store errors used across all store implementations.
var (
	// ErrNotFound is returned when a requested entity does not exist in the store.
	ErrNotFound = errors.New("entity not found")

	// ErrInvalidEntity is returned when an entity fails validation before
	// being stored. Check the wrapped error for specific validation details.
	ErrInvalidEntity = errors.New("invalid entity")

	// ErrResultNotFound indicates that no payload is stored for the task.
	ErrResultNotFound = fmt.Errorf("%w: result", ErrNotFound)

	// ErrRecordNotFound indicates that the task journal has no such record.
	ErrRecordNotFound = fmt.Errorf("%w: task record", ErrNotFound)
)

// IsNotFoundError checks if the error is any kind of "not found" error.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

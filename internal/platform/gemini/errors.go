package gemini

import "errors"

// Error definitions for the gemini package.
var (
	// ErrInvalidConfig is returned when the producer configuration is unusable.
	ErrInvalidConfig = errors.New("invalid gemini configuration")

	// ErrInvalidResponse is returned when the model answer cannot be turned
	// into a composition. It is never retried.
	ErrInvalidResponse = errors.New("invalid response from gemini")

	// ErrContentBlocked is returned when the answer was withheld by safety
	// filters. It is never retried.
	ErrContentBlocked = errors.New("content blocked by gemini safety filters")

	// ErrTransientFailure is returned when every attempt failed with a
	// retryable error.
	ErrTransientFailure = errors.New("transient gemini failure")
)

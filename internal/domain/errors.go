package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrInvalidRequest is returned when generation parameters fail validation.
	// It is usually wrapped with the underlying validator message.
	ErrInvalidRequest = errors.New("invalid generation request")

	// ErrEmptyComposition is returned when a composition contains no notes.
	ErrEmptyComposition = errors.New("composition contains no notes")

	// ErrInvalidNote is returned when a note is outside the MIDI range or has
	// a non-positive duration.
	ErrInvalidNote = errors.New("invalid note")
)

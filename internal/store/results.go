package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/phrazzld/melody-api/internal/domain"
)

// Locator tells clients and operators where a stored payload lives. Its
// format is implementation defined (a file path, a table key, a Redis key).
type Locator string

// ResultStore persists generated compositions keyed by task id.
// Implementations must be safe for concurrent use by many tasks.
type ResultStore interface {
	// Put stores the payload for the task, replacing any previous payload.
	Put(ctx context.Context, id uuid.UUID, payload *domain.Composition) (Locator, error)

	// Get retrieves the payload for the task.
	// Returns ErrResultNotFound if nothing is stored under id.
	Get(ctx context.Context, id uuid.UUID) (*domain.Composition, error)

	// Delete removes the payload. Deleting a missing payload is not an error.
	Delete(ctx context.Context, id uuid.UUID) error
}

package producer

import (
	"context"
	"errors"

	"github.com/phrazzld/melody-api/internal/domain"
)

// ErrModelUnavailable is returned by Failing when no reason is given.
var ErrModelUnavailable = errors.New("generation model unavailable")

// Failing is a producer whose every call fails with Err.
type Failing struct {
	Err error
}

// Produce implements task.Producer.
func (f Failing) Produce(ctx context.Context, req domain.GenerationRequest) (*domain.Composition, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	return nil, ErrModelUnavailable
}

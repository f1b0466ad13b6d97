package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
	"github.com/sourcegraph/conc/panics"
)

// InMemoryEventEmitter calls its handlers synchronously, in registration
// order, on the goroutine that emits. The registry emits while holding a
// record lock, so handlers must not call back into the registry.
type InMemoryEventEmitter struct {
	// handlers is replaced, never modified, so EmitEvent reads it lock free.
	handlers atomic.Pointer[[]EventHandler]
	register sync.Mutex
	logger   *slog.Logger
}

// NewInMemoryEventEmitter creates an emitter with no handlers.
func NewInMemoryEventEmitter(logger *slog.Logger) *InMemoryEventEmitter {
	e := &InMemoryEventEmitter{logger: logger.With("component", "event_emitter")}
	e.handlers.Store(&[]EventHandler{})
	return e
}

// RegisterHandler appends handler. Events emitted concurrently may or may not
// reach it.
func (e *InMemoryEventEmitter) RegisterHandler(handler EventHandler) {
	e.register.Lock()
	defer e.register.Unlock()

	current := *e.handlers.Load()
	next := make([]EventHandler, len(current), len(current)+1)
	copy(next, current)
	next = append(next, handler)
	e.handlers.Store(&next)

	e.logger.Debug("registered event handler", "handler_count", len(next))
}

// EmitEvent delivers event to every handler. A failing or panicking handler
// does not stop delivery to the others; all failures are returned together.
func (e *InMemoryEventEmitter) EmitEvent(ctx context.Context, event *TaskEvent) error {
	var result *multierror.Error
	for i, handler := range *e.handlers.Load() {
		if err := e.dispatch(ctx, handler, event); err != nil {
			e.logger.Error("event handler failed",
				"error", err,
				"handler_index", i,
				"event_kind", event.Kind,
				"task_id", event.TaskID)
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (e *InMemoryEventEmitter) dispatch(ctx context.Context, handler EventHandler, event *TaskEvent) (err error) {
	var pc panics.Catcher
	pc.Try(func() { err = handler.HandleEvent(ctx, event) })
	if recovered := pc.Recovered(); recovered != nil {
		return fmt.Errorf("event handler panicked: %w", recovered.AsError())
	}
	return err
}

var _ EventEmitter = (*InMemoryEventEmitter)(nil)

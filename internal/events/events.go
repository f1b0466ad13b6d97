package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Kind identifies what happened to a task record.
type Kind string

// Event kinds emitted by the task registry
const (
	KindCreated Kind = "created"
	KindUpdated Kind = "updated"
	KindDeleted Kind = "deleted"
)

// TaskEvent describes one committed change to a task record. The record
// snapshot travels as JSON so this package does not depend on the task package.
type TaskEvent struct {
	// ID is a unique identifier for this event
	ID uuid.UUID `json:"id"`

	// Kind is the type of change
	Kind Kind `json:"kind"`

	// TaskID identifies the task the change applies to
	TaskID uuid.UUID `json:"task_id"`

	// State is the task state after the change; empty for deletions
	State string `json:"state,omitempty"`

	// Record is the serialized task record after the change; nil for deletions
	Record json.RawMessage `json:"record,omitempty"`

	// OccurredAt is when the change was committed
	OccurredAt time.Time `json:"occurred_at"`
}

// NewTaskEvent creates a TaskEvent, serializing the record snapshot if one is given.
func NewTaskEvent(kind Kind, taskID uuid.UUID, state string, record interface{}) (*TaskEvent, error) {
	event := &TaskEvent{
		ID:         uuid.New(),
		Kind:       kind,
		TaskID:     taskID,
		State:      state,
		OccurredAt: time.Now().UTC(),
	}

	if record != nil {
		data, err := json.Marshal(record)
		if err != nil {
			return nil, err
		}
		event.Record = data
	}

	return event, nil
}

// UnmarshalRecord decodes the record snapshot into the provided structure.
func (e *TaskEvent) UnmarshalRecord(v interface{}) error {
	return json.Unmarshal(e.Record, v)
}

// EventHandler defines an interface for components that can handle events.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	// Returns an error if the event cannot be handled successfully.
	HandleEvent(ctx context.Context, event *TaskEvent) error
}

// EventHandlerFunc adapts a plain function to the EventHandler interface.
type EventHandlerFunc func(ctx context.Context, event *TaskEvent) error

// HandleEvent calls f(ctx, event).
func (f EventHandlerFunc) HandleEvent(ctx context.Context, event *TaskEvent) error {
	return f(ctx, event)
}

// EventEmitter defines an interface for components that can emit events.
type EventEmitter interface {
	// EmitEvent publishes the given event to all registered handlers.
	EmitEvent(ctx context.Context, event *TaskEvent) error
}

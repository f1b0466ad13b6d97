package task

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/melody-api/internal/events"
)

// Store persists task records so that a restarted process can learn which
// tasks were interrupted.
type Store interface {
	// SaveRecord inserts or replaces the persisted copy of the record.
	SaveRecord(ctx context.Context, rec Record) error

	// DeleteRecord removes the persisted copy. Deleting a missing record is
	// not an error.
	DeleteRecord(ctx context.Context, id uuid.UUID) error

	// LoadRecords returns every persisted record.
	LoadRecords(ctx context.Context) ([]Record, error)
}

// JournalHandler implements events.EventHandler by mirroring registry changes
// into a Store.
type JournalHandler struct {
	store  Store
	logger *slog.Logger
}

// NewJournalHandler creates a handler that writes registry events to store.
func NewJournalHandler(store Store, logger *slog.Logger) *JournalHandler {
	return &JournalHandler{
		store:  store,
		logger: logger.With("component", "task_journal"),
	}
}

// HandleEvent persists the record snapshot carried by the event, or removes
// the persisted record for deletions.
func (h *JournalHandler) HandleEvent(ctx context.Context, event *events.TaskEvent) error {
	switch event.Kind {
	case events.KindCreated, events.KindUpdated:
		var rec Record
		if err := event.UnmarshalRecord(&rec); err != nil {
			return fmt.Errorf("failed to decode task record: %w", err)
		}
		if err := h.store.SaveRecord(ctx, rec); err != nil {
			return fmt.Errorf("failed to journal task %s: %w", event.TaskID, err)
		}
		h.logger.Debug("journaled task record",
			"task_id", event.TaskID,
			"state", event.State)

	case events.KindDeleted:
		if err := h.store.DeleteRecord(ctx, event.TaskID); err != nil {
			return fmt.Errorf("failed to remove journaled task %s: %w", event.TaskID, err)
		}
		h.logger.Debug("removed journaled task", "task_id", event.TaskID)

	default:
		h.logger.Debug("ignoring event with unsupported kind",
			"event_kind", event.Kind,
			"event_id", event.ID)
	}
	return nil
}

// Ensure JournalHandler implements events.EventHandler
var _ events.EventHandler = (*JournalHandler)(nil)

package task

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/melody-api/internal/domain"
	"github.com/phrazzld/melody-api/internal/events"
)

// entry holds one record together with the lock that serializes its updates.
type entry struct {
	mu      sync.Mutex
	record  Record
	deleted bool
}

// Registry is the authoritative in-memory collection of task records.
//
// The map lock is only held to look up, insert or remove entries. Mutations
// of a record happen under that record's own lock, so updates to different
// tasks never wait on each other while updates to the same task are applied
// one at a time. Every committed change is emitted as an events.TaskEvent
// while the record lock is still held, which gives observers the per-task
// commit order.
type Registry struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*entry

	emitter events.EventEmitter
	logger  *slog.Logger
	now     func() time.Time
}

// NewRegistry creates an empty registry. emitter may be nil when no observer
// needs to see record changes.
func NewRegistry(emitter events.EventEmitter, logger *slog.Logger) *Registry {
	return &Registry{
		entries: make(map[uuid.UUID]*entry),
		emitter: emitter,
		logger:  logger.With("component", "task_registry"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Create registers a new queued record for the request and returns a copy of it.
func (r *Registry) Create(ctx context.Context, req domain.GenerationRequest) (Record, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Record{}, fmt.Errorf("failed to generate task id: %w", err)
	}

	now := r.now()
	e := &entry{record: Record{
		ID:        id,
		State:     StateQueued,
		Progress:  0,
		Message:   MessageQueued,
		Request:   req.Clone(),
		CreatedAt: now,
		UpdatedAt: now,
	}}

	// Lock the entry before publishing it so no update can overtake the
	// creation event.
	e.mu.Lock()
	defer e.mu.Unlock()

	r.mu.Lock()
	r.entries[id] = e
	r.mu.Unlock()

	r.emit(ctx, events.KindCreated, e.record)
	r.logger.Debug("task created", "task_id", id, "genre", req.Genre)

	return e.record.clone(), nil
}

// Get returns a copy of the record with the given id.
func (r *Registry) Get(id uuid.UUID) (Record, error) {
	e := r.lookup(id)
	if e == nil {
		return Record{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return Record{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return e.record.clone(), nil
}

// Update applies mutate to a copy of the record and commits the copy if the
// resulting transition is allowed. It returns the committed record.
//
// ErrTaskNotFound is returned for unknown or deleted ids. ErrInvalidTransition
// is returned, and the stored record left unchanged, when the record is
// already terminal or the mutation would break a record invariant.
func (r *Registry) Update(ctx context.Context, id uuid.UUID, mutate Mutation) (Record, error) {
	e := r.lookup(id)
	if e == nil {
		return Record{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return Record{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}

	next := e.record.clone()
	mutate(&next)

	if err := checkTransition(e.record, next); err != nil {
		r.logger.Warn("rejected task update",
			"task_id", id,
			"from_state", e.record.State,
			"to_state", next.State,
			"error", err)
		return Record{}, err
	}

	next.UpdatedAt = r.now()
	e.record = next
	r.emit(ctx, events.KindUpdated, e.record)

	return e.record.clone(), nil
}

// Delete removes the record. Deleting an absent id is a no-op.
func (r *Registry) Delete(ctx context.Context, id uuid.UUID) {
	r.mu.Lock()
	e, ok := r.entries[id]
	delete(r.entries, id)
	r.mu.Unlock()

	if !ok {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.deleted = true
	r.emit(ctx, events.KindDeleted, Record{ID: id})
	r.logger.Debug("task deleted", "task_id", id)
}

// List returns a summary of every record, newest first.
func (r *Registry) List() []Summary {
	records := r.snapshot(func(Record) bool { return true })
	summaries := make([]Summary, 0, len(records))
	for _, rec := range records {
		summaries = append(summaries, rec.Summary())
	}
	return summaries
}

// ListByState returns copies of the records currently in the given state,
// newest first.
func (r *Registry) ListByState(state State) []Record {
	return r.snapshot(func(rec Record) bool { return rec.State == state })
}

// Len reports the number of records.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Restore inserts previously persisted records without emitting events.
// Records whose id is already present, or whose state is unknown, are skipped.
// It returns the number of records restored.
func (r *Registry) Restore(records []Record) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	restored := 0
	for _, rec := range records {
		if rec.ID == uuid.Nil || !rec.State.IsValid() {
			r.logger.Warn("skipping invalid persisted task", "task_id", rec.ID, "state", rec.State)
			continue
		}
		if _, exists := r.entries[rec.ID]; exists {
			continue
		}
		r.entries[rec.ID] = &entry{record: rec.clone()}
		restored++
	}
	return restored
}

func (r *Registry) lookup(id uuid.UUID) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[id]
}

// snapshot copies the matching records. The map lock is released before any
// record lock is taken.
func (r *Registry) snapshot(keep func(Record) bool) []Record {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	records := make([]Record, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if !e.deleted && keep(e.record) {
			records = append(records, e.record.clone())
		}
		e.mu.Unlock()
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].ID.String() > records[j].ID.String()
		}
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records
}

// emit publishes a change. Observer failures are logged and never undo the
// committed change. The caller must hold the entry lock.
func (r *Registry) emit(ctx context.Context, kind events.Kind, rec Record) {
	if r.emitter == nil {
		return
	}

	var snapshot interface{}
	if kind != events.KindDeleted {
		snapshot = rec
	}
	event, err := events.NewTaskEvent(kind, rec.ID, string(rec.State), snapshot)
	if err != nil {
		r.logger.Error("failed to build task event", "task_id", rec.ID, "error", err)
		return
	}

	// Observers must see terminal transitions of cancelled tasks too.
	if err := r.emitter.EmitEvent(context.WithoutCancel(ctx), event); err != nil {
		r.logger.Warn("task event observer failed",
			"task_id", rec.ID,
			"event_kind", kind,
			"error", err)
	}
}

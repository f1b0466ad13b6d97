package task

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/melody-api/internal/events"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// eventRecorder collects every event emitted by a registry.
type eventRecorder struct {
	mu     sync.Mutex
	events []*events.TaskEvent
}

func (r *eventRecorder) HandleEvent(ctx context.Context, event *events.TaskEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// recordsFor decodes the snapshots emitted for one task, in emission order.
func (r *eventRecorder) recordsFor(t *testing.T, id uuid.UUID) []Record {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Record
	for _, e := range r.events {
		if e.TaskID != id || e.Kind == events.KindDeleted {
			continue
		}
		var rec Record
		require.NoError(t, e.UnmarshalRecord(&rec))
		out = append(out, rec)
	}
	return out
}

func (r *eventRecorder) kindsFor(id uuid.UUID) []events.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []events.Kind
	for _, e := range r.events {
		if e.TaskID == id {
			out = append(out, e.Kind)
		}
	}
	return out
}

func newRecordingRegistry() (*Registry, *eventRecorder) {
	recorder := &eventRecorder{}
	emitter := events.NewInMemoryEventEmitter(testLogger())
	emitter.RegisterHandler(recorder)
	return NewRegistry(emitter, testLogger()), recorder
}

// memoryJournal is an in-memory Store.
type memoryJournal struct {
	mu      sync.Mutex
	records map[uuid.UUID]Record
	loadErr error
}

func newMemoryJournal(records ...Record) *memoryJournal {
	j := &memoryJournal{records: make(map[uuid.UUID]Record)}
	for _, rec := range records {
		j.records[rec.ID] = rec
	}
	return j
}

func (j *memoryJournal) SaveRecord(ctx context.Context, rec Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records[rec.ID] = rec
	return nil
}

func (j *memoryJournal) DeleteRecord(ctx context.Context, id uuid.UUID) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.records, id)
	return nil
}

func (j *memoryJournal) LoadRecords(ctx context.Context) ([]Record, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.loadErr != nil {
		return nil, j.loadErr
	}
	out := make([]Record, 0, len(j.records))
	for _, rec := range j.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out, nil
}

func (j *memoryJournal) get(id uuid.UUID) (Record, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	rec, ok := j.records[id]
	return rec, ok
}

// waitFor polls cond until it holds or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, timeout, 5*time.Millisecond)
}

// eventsEmitterFor returns an emitter that mirrors registry changes into journal.
func eventsEmitterFor(journal Store) events.EventEmitter {
	emitter := events.NewInMemoryEventEmitter(testLogger())
	emitter.RegisterHandler(NewJournalHandler(journal, testLogger()))
	return emitter
}

package task

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/melody-api/internal/domain"
	"github.com/phrazzld/melody-api/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Create(t *testing.T) {
	t.Parallel()

	registry, recorder := newRecordingRegistry()
	req := domain.NewGenerationRequest()
	req.Genre = domain.GenreJazz

	rec, err := registry.Create(context.Background(), req)
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, rec.ID)
	assert.Equal(t, uuid.Version(7), rec.ID.Version(), "ids should be time ordered")
	assert.Equal(t, StateQueued, rec.State)
	assert.Equal(t, 0, rec.Progress)
	assert.Equal(t, MessageQueued, rec.Message)
	assert.Equal(t, domain.GenreJazz, rec.Request.Genre)
	assert.False(t, rec.CreatedAt.IsZero())
	assert.Nil(t, rec.Result)
	assert.Empty(t, rec.Error)

	assert.Equal(t, []events.Kind{events.KindCreated}, recorder.kindsFor(rec.ID))
}

func TestRegistry_GetUnknown(t *testing.T) {
	t.Parallel()

	registry := NewRegistry(nil, testLogger())

	_, err := registry.Get(uuid.New())
	assert.True(t, errors.Is(err, ErrTaskNotFound))

	_, err = registry.Update(context.Background(), uuid.New(), Advance(10, "x"))
	assert.True(t, errors.Is(err, ErrTaskNotFound))
}

func TestRegistry_GetReturnsCopy(t *testing.T) {
	t.Parallel()

	registry := NewRegistry(nil, testLogger())
	req := domain.NewGenerationRequest()
	req.Prompt = []int{60, 62}

	rec, err := registry.Create(context.Background(), req)
	require.NoError(t, err)

	rec.Message = "tampered"
	rec.Request.Prompt[0] = 0

	stored, err := registry.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, MessageQueued, stored.Message)
	assert.Equal(t, 60, stored.Request.Prompt[0])
}

func TestRegistry_Update(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("full lifecycle", func(t *testing.T) {
		t.Parallel()
		registry, recorder := newRecordingRegistry()
		rec, err := registry.Create(ctx, domain.NewGenerationRequest())
		require.NoError(t, err)

		_, err = registry.Update(ctx, rec.ID, Advance(10, MessageInitialize))
		require.NoError(t, err)
		_, err = registry.Update(ctx, rec.ID, Advance(50, "halfway"))
		require.NoError(t, err)
		done, err := registry.Update(ctx, rec.ID, Complete(Result{Locator: "mem://x", NoteCount: 4}))
		require.NoError(t, err)

		assert.Equal(t, StateCompleted, done.State)
		assert.Equal(t, 100, done.Progress)
		assert.Equal(t, MessageCompleted, done.Message)
		require.NotNil(t, done.Result)
		assert.Equal(t, 4, done.Result.NoteCount)
		assert.False(t, done.UpdatedAt.Before(done.CreatedAt))

		history := recorder.recordsFor(t, rec.ID)
		require.Len(t, history, 4)
		assert.Equal(t, StateQueued, history[0].State)
		assert.Equal(t, StateCompleted, history[3].State)
	})

	testCases := []struct {
		name   string
		setup  []Mutation
		mutate Mutation
	}{
		{name: "queued to completed", mutate: Complete(Result{Locator: "x"})},
		{name: "progress decreases", setup: []Mutation{Advance(60, "a")}, mutate: Advance(30, "b")},
		{name: "progress above range", setup: []Mutation{Advance(10, "a")}, mutate: Advance(101, "b")},
		{name: "processing at 100", setup: []Mutation{Advance(10, "a")}, mutate: Advance(100, "b")},
		{
			name:   "completed without result",
			setup:  []Mutation{Advance(10, "a")},
			mutate: func(r *Record) { r.State = StateCompleted; r.Progress = 100 },
		},
		{
			name:   "failed without diagnostic",
			setup:  []Mutation{Advance(10, "a")},
			mutate: func(r *Record) { r.State = StateFailed; r.Progress = 0 },
		},
		{
			name:   "processing carrying error",
			setup:  []Mutation{Advance(10, "a")},
			mutate: func(r *Record) { r.Progress = 20; r.Error = "boom" },
		},
		{
			name:   "id changed",
			setup:  []Mutation{Advance(10, "a")},
			mutate: func(r *Record) { r.ID = uuid.New(); r.Progress = 20 },
		},
		{
			name:   "request genre changed",
			mutate: func(r *Record) { r.State = StateProcessing; r.Progress = 10; r.Request.Genre = domain.GenreRock },
		},
		{
			name:   "request prompt changed",
			setup:  []Mutation{Advance(10, "a")},
			mutate: func(r *Record) { r.Progress = 20; r.Request.Prompt = append(r.Request.Prompt, 64) },
		},
		{
			name:   "completed is terminal",
			setup:  []Mutation{Advance(10, "a"), Complete(Result{Locator: "x"})},
			mutate: Fail("late failure"),
		},
		{name: "failed is terminal", setup: []Mutation{Fail("boom")}, mutate: Advance(10, "again")},
	}

	for _, tc := range testCases {
		t.Run("rejects "+tc.name, func(t *testing.T) {
			t.Parallel()
			registry := NewRegistry(nil, testLogger())
			rec, err := registry.Create(ctx, domain.NewGenerationRequest())
			require.NoError(t, err)
			for _, m := range tc.setup {
				_, err := registry.Update(ctx, rec.ID, m)
				require.NoError(t, err)
			}
			before, err := registry.Get(rec.ID)
			require.NoError(t, err)

			_, err = registry.Update(ctx, rec.ID, tc.mutate)
			assert.True(t, errors.Is(err, ErrInvalidTransition), "got %v", err)

			after, err := registry.Get(rec.ID)
			require.NoError(t, err)
			assert.Equal(t, before, after, "rejected update must leave the record untouched")
		})
	}

	t.Run("failure resets progress", func(t *testing.T) {
		t.Parallel()
		registry := NewRegistry(nil, testLogger())
		rec, err := registry.Create(ctx, domain.NewGenerationRequest())
		require.NoError(t, err)
		_, err = registry.Update(ctx, rec.ID, Advance(60, "a"))
		require.NoError(t, err)

		failed, err := registry.Update(ctx, rec.ID, Fail("model offline"))
		require.NoError(t, err)
		assert.Equal(t, StateFailed, failed.State)
		assert.Equal(t, 0, failed.Progress)
		assert.Equal(t, "Generation failed: model offline", failed.Message)
		assert.Equal(t, "model offline", failed.Error)
		assert.Nil(t, failed.Result)
	})
}

func TestRegistry_Delete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	registry, recorder := newRecordingRegistry()
	rec, err := registry.Create(ctx, domain.NewGenerationRequest())
	require.NoError(t, err)

	registry.Delete(ctx, rec.ID)
	registry.Delete(ctx, rec.ID)
	registry.Delete(ctx, uuid.New())

	_, err = registry.Get(rec.ID)
	assert.True(t, errors.Is(err, ErrTaskNotFound))
	_, err = registry.Update(ctx, rec.ID, Advance(10, "x"))
	assert.True(t, errors.Is(err, ErrTaskNotFound))

	assert.Equal(t, 0, registry.Len())
	assert.Empty(t, registry.List())
	assert.Equal(t, []events.Kind{events.KindCreated, events.KindDeleted}, recorder.kindsFor(rec.ID))
}

func TestRegistry_ListNewestFirst(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	registry := NewRegistry(nil, testLogger())
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	registry.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		rec, err := registry.Create(ctx, domain.NewGenerationRequest())
		require.NoError(t, err)
		ids = append(ids, rec.ID)
	}
	_, err := registry.Update(ctx, ids[1], Advance(10, "running"))
	require.NoError(t, err)

	summaries := registry.List()
	require.Len(t, summaries, 3)
	assert.Equal(t, ids[2], summaries[0].ID)
	assert.Equal(t, ids[1], summaries[1].ID)
	assert.Equal(t, ids[0], summaries[2].ID)
	assert.Equal(t, domain.DefaultGenre, summaries[0].Genre)

	processing := registry.ListByState(StateProcessing)
	require.Len(t, processing, 1)
	assert.Equal(t, ids[1], processing[0].ID)
}

func TestRegistry_ConcurrentUpdates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	registry := NewRegistry(nil, testLogger())
	const tasks = 20

	ids := make([]uuid.UUID, tasks)
	for i := range ids {
		rec, err := registry.Create(ctx, domain.NewGenerationRequest())
		require.NoError(t, err)
		ids[i] = rec.ID
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		for step := 1; step <= 9; step++ {
			wg.Add(1)
			go func(id uuid.UUID, progress int) {
				defer wg.Done()
				// Some of these lose the race against a higher progress and
				// are rejected; the stored progress may never go backwards.
				_, _ = registry.Update(ctx, id, Advance(progress, "step"))
			}(id, step*10)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = registry.List()
		}()
	}
	wg.Wait()

	for _, id := range ids {
		rec, err := registry.Get(id)
		require.NoError(t, err)
		assert.Equal(t, StateProcessing, rec.State)
		assert.Equal(t, 90, rec.Progress)
	}
}

func TestRegistry_Restore(t *testing.T) {
	t.Parallel()

	registry, recorder := newRecordingRegistry()
	existing, err := registry.Create(context.Background(), domain.NewGenerationRequest())
	require.NoError(t, err)

	persisted := []Record{
		{ID: uuid.New(), State: StateCompleted, Progress: 100, Result: &Result{Locator: "x"}},
		{ID: uuid.New(), State: StateProcessing, Progress: 30},
		{ID: existing.ID, State: StateFailed, Error: "stale"},
		{ID: uuid.New(), State: "paused"},
	}

	restored := registry.Restore(persisted)
	assert.Equal(t, 2, restored)
	assert.Equal(t, 3, registry.Len())

	current, err := registry.Get(existing.ID)
	require.NoError(t, err)
	assert.Equal(t, StateQueued, current.State, "restore must not overwrite live records")

	assert.Empty(t, recorder.kindsFor(persisted[0].ID), "restore emits no events")
}

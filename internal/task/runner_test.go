package task

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/melody-api/internal/domain"
	"github.com/phrazzld/melody-api/internal/mocks"
	"github.com/phrazzld/melody-api/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRunnerConfig() RunnerConfig {
	config := DefaultRunnerConfig()
	config.WorkerCount = 2
	config.QueueSize = 10
	config.CheckpointDelay = 0
	return config
}

func startRunner(t *testing.T, registry *Registry, producer Producer, results *mocks.MockResultStore, config RunnerConfig) *Runner {
	t.Helper()
	runner := NewRunner(registry, producer, results, config, testLogger())
	require.NoError(t, runner.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = runner.Stop(ctx)
	})
	return runner
}

func waitDone(t *testing.T, runner *Runner, id uuid.UUID) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, runner.Wait(ctx, id))
}

func TestRunner_JazzScenario(t *testing.T) {
	t.Parallel()

	registry, recorder := newRecordingRegistry()
	results := mocks.NewMockResultStore()
	producer := &mocks.MockProducer{}
	runner := startRunner(t, registry, producer, results, testRunnerConfig())

	req := domain.NewGenerationRequest()
	req.Genre = domain.GenreJazz
	req.Length = 8

	rec, err := runner.Submit(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StateQueued, rec.State)
	assert.Equal(t, 0, rec.Progress)

	waitDone(t, runner, rec.ID)

	final, err := registry.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, final.State)
	assert.Equal(t, 100, final.Progress)
	assert.Equal(t, MessageCompleted, final.Message)
	require.NotNil(t, final.Result)
	assert.Equal(t, 8, final.Result.NoteCount)
	assert.InDelta(t, 4.0, final.Result.DurationSeconds, 1e-9)
	assert.Empty(t, final.Error)

	payload, err := results.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Len(t, payload.Notes, 8)

	requests := producer.Requests()
	require.Len(t, requests, 1)
	assert.Equal(t, domain.GenreJazz, requests[0].Genre)

	history := recorder.recordsFor(t, rec.ID)
	var progress []int
	var messages []string
	for _, h := range history {
		progress = append(progress, h.Progress)
		messages = append(messages, h.Message)
	}
	assert.Equal(t, []int{0, 10, 30, 60, 90, 100}, progress)
	assert.Equal(t, []string{
		MessageQueued,
		MessageInitialize,
		"Generating musical structure...",
		"Applying style constraints...",
		MessageFinalize,
		MessageCompleted,
	}, messages)
	assert.Empty(t, runner.InFlight())
}

func TestRunner_FailingProducer(t *testing.T) {
	t.Parallel()

	registry, recorder := newRecordingRegistry()
	results := mocks.NewMockResultStore()
	runner := startRunner(t, registry, mocks.NewMockProducerWithError(errors.New("model offline")), results, testRunnerConfig())

	rec, err := runner.Submit(context.Background(), domain.NewGenerationRequest())
	require.NoError(t, err)
	waitDone(t, runner, rec.ID)

	final, err := registry.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, final.State)
	assert.Equal(t, 0, final.Progress)
	assert.True(t, strings.HasPrefix(final.Message, "Generation failed: "), final.Message)
	assert.Contains(t, final.Error, "model offline")
	assert.Nil(t, final.Result)
	assert.False(t, results.Has(rec.ID))

	history := recorder.recordsFor(t, rec.ID)
	var states []State
	for _, h := range history {
		states = append(states, h.State)
	}
	assert.Equal(t, []State{
		StateQueued, StateProcessing, StateProcessing, StateProcessing, StateFailed,
	}, states)
}

func TestRunner_ProducerPanic(t *testing.T) {
	t.Parallel()

	registry := NewRegistry(nil, testLogger())
	producer := &mocks.MockProducer{
		ProduceFn: func(ctx context.Context, req domain.GenerationRequest) (*domain.Composition, error) {
			panic("tensor shape mismatch")
		},
	}
	runner := startRunner(t, registry, producer, mocks.NewMockResultStore(), testRunnerConfig())

	rec, err := runner.Submit(context.Background(), domain.NewGenerationRequest())
	require.NoError(t, err)
	waitDone(t, runner, rec.ID)

	final, err := registry.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, final.State)
	assert.Contains(t, final.Error, ErrProducerFailure.Error())
	assert.Contains(t, final.Error, "tensor shape mismatch")
}

func TestRunner_InvalidPayload(t *testing.T) {
	t.Parallel()

	registry := NewRegistry(nil, testLogger())
	producer := &mocks.MockProducer{Composition: &domain.Composition{}}
	runner := startRunner(t, registry, producer, mocks.NewMockResultStore(), testRunnerConfig())

	rec, err := runner.Submit(context.Background(), domain.NewGenerationRequest())
	require.NoError(t, err)
	waitDone(t, runner, rec.ID)

	final, err := registry.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, final.State)
	assert.Contains(t, final.Error, domain.ErrEmptyComposition.Error())
}

func TestRunner_ResultStoreFailure(t *testing.T) {
	t.Parallel()

	registry := NewRegistry(nil, testLogger())
	results := mocks.NewMockResultStore()
	results.PutFn = func(ctx context.Context, id uuid.UUID, payload *domain.Composition) (store.Locator, error) {
		return "", errors.New("disk full")
	}
	runner := startRunner(t, registry, &mocks.MockProducer{}, results, testRunnerConfig())

	rec, err := runner.Submit(context.Background(), domain.NewGenerationRequest())
	require.NoError(t, err)
	waitDone(t, runner, rec.ID)

	final, err := registry.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, final.State)
	assert.Contains(t, final.Error, "disk full")
}

func TestRunner_ConcurrentSubmissions(t *testing.T) {
	t.Parallel()

	const n = 25
	registry := NewRegistry(nil, testLogger())
	config := testRunnerConfig()
	config.WorkerCount = 4
	config.QueueSize = n
	runner := startRunner(t, registry, &mocks.MockProducer{}, mocks.NewMockResultStore(), config)

	var (
		mu  sync.Mutex
		ids = make(map[uuid.UUID]struct{}, n)
		wg  sync.WaitGroup
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(length int) {
			defer wg.Done()
			req := domain.NewGenerationRequest()
			req.Length = length
			rec, err := runner.Submit(context.Background(), req)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			ids[rec.ID] = struct{}{}
			mu.Unlock()
		}(i + 1)
	}
	wg.Wait()

	require.Len(t, ids, n, "every submission gets a distinct id")
	for id := range ids {
		waitDone(t, runner, id)
		rec, err := registry.Get(id)
		require.NoError(t, err)
		assert.True(t, rec.State.IsTerminal())
		assert.Equal(t, StateCompleted, rec.State)
	}
	assert.Equal(t, n, registry.Len())
}

func TestRunner_Submit(t *testing.T) {
	t.Parallel()

	t.Run("queue full removes the record", func(t *testing.T) {
		t.Parallel()
		registry := NewRegistry(nil, testLogger())
		config := testRunnerConfig()
		config.QueueSize = 1
		// Not started, so nothing drains the queue.
		runner := NewRunner(registry, &mocks.MockProducer{}, mocks.NewMockResultStore(), config, testLogger())

		_, err := runner.Submit(context.Background(), domain.NewGenerationRequest())
		require.NoError(t, err)

		_, err = runner.Submit(context.Background(), domain.NewGenerationRequest())
		assert.True(t, errors.Is(err, ErrQueueFull))
		assert.Equal(t, 1, registry.Len())
		assert.Len(t, runner.InFlight(), 1)
	})

	t.Run("invalid request", func(t *testing.T) {
		t.Parallel()
		registry := NewRegistry(nil, testLogger())
		runner := NewRunner(registry, &mocks.MockProducer{}, mocks.NewMockResultStore(), testRunnerConfig(), testLogger())

		req := domain.NewGenerationRequest()
		req.Tempo = 5
		_, err := runner.Submit(context.Background(), req)
		assert.True(t, errors.Is(err, domain.ErrInvalidRequest))
		assert.Equal(t, 0, registry.Len())
	})

	t.Run("after stop", func(t *testing.T) {
		t.Parallel()
		registry := NewRegistry(nil, testLogger())
		runner := NewRunner(registry, &mocks.MockProducer{}, mocks.NewMockResultStore(), testRunnerConfig(), testLogger())
		require.NoError(t, runner.Stop(context.Background()))

		_, err := runner.Submit(context.Background(), domain.NewGenerationRequest())
		assert.True(t, errors.Is(err, ErrRunnerStopped))
		assert.Error(t, runner.Start(context.Background()))
	})
}

// blockingProducer blocks every call until release is closed.
type blockingProducer struct {
	started chan uuid.UUID
	release chan struct{}
}

func newBlockingProducer() *blockingProducer {
	return &blockingProducer{
		started: make(chan uuid.UUID, 16),
		release: make(chan struct{}),
	}
}

func (p *blockingProducer) Produce(ctx context.Context, req domain.GenerationRequest) (*domain.Composition, error) {
	p.started <- uuid.Nil
	select {
	case <-p.release:
		return mocks.SampleComposition(req.Length), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestRunner_Cancel(t *testing.T) {
	t.Parallel()

	registry := NewRegistry(nil, testLogger())
	producer := newBlockingProducer()
	runner := startRunner(t, registry, producer, mocks.NewMockResultStore(), testRunnerConfig())

	rec, err := runner.Submit(context.Background(), domain.NewGenerationRequest())
	require.NoError(t, err)
	<-producer.started

	assert.Contains(t, runner.InFlight(), rec.ID)
	assert.True(t, runner.Cancel(rec.ID))
	waitDone(t, runner, rec.ID)

	final, err := registry.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, final.State)
	assert.Equal(t, ErrCancelled.Error(), final.Error)
	assert.Equal(t, "Generation failed: generation cancelled", final.Message)

	assert.False(t, runner.Cancel(rec.ID), "finished tasks are no longer scheduled")
	assert.False(t, runner.Cancel(uuid.New()))
}

func TestRunner_DeleteWhileProcessing(t *testing.T) {
	t.Parallel()

	registry := NewRegistry(nil, testLogger())
	results := mocks.NewMockResultStore()
	producer := newBlockingProducer()
	runner := startRunner(t, registry, producer, results, testRunnerConfig())

	rec, err := runner.Submit(context.Background(), domain.NewGenerationRequest())
	require.NoError(t, err)
	<-producer.started

	registry.Delete(context.Background(), rec.ID)
	close(producer.release)
	waitDone(t, runner, rec.ID)

	_, err = registry.Get(rec.ID)
	assert.True(t, errors.Is(err, ErrTaskNotFound), "a deleted task must not reappear")
	assert.False(t, results.Has(rec.ID))
}

func TestRunner_StopFailsPendingTasks(t *testing.T) {
	t.Parallel()

	registry := NewRegistry(nil, testLogger())
	producer := newBlockingProducer()
	config := testRunnerConfig()
	config.WorkerCount = 1
	runner := NewRunner(registry, producer, mocks.NewMockResultStore(), config, testLogger())
	require.NoError(t, runner.Start(context.Background()))

	running, err := runner.Submit(context.Background(), domain.NewGenerationRequest())
	require.NoError(t, err)
	<-producer.started

	queued, err := runner.Submit(context.Background(), domain.NewGenerationRequest())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, runner.Stop(ctx))
	require.NoError(t, runner.Stop(ctx), "stop is idempotent")

	for _, id := range []uuid.UUID{running.ID, queued.ID} {
		rec, err := registry.Get(id)
		require.NoError(t, err)
		assert.Equal(t, StateFailed, rec.State)
		assert.Equal(t, ErrInterruptedByShutdown.Error(), rec.Error)
	}
	assert.Empty(t, runner.InFlight())
}

// stubbornProducer ignores cancellation and returns only when release is closed.
type stubbornProducer struct {
	started chan struct{}
	release chan struct{}
}

func (p *stubbornProducer) Produce(ctx context.Context, req domain.GenerationRequest) (*domain.Composition, error) {
	p.started <- struct{}{}
	<-p.release
	return mocks.SampleComposition(req.Length), nil
}

func TestRunner_StopTimeoutStillFailsTasks(t *testing.T) {
	t.Parallel()

	registry := NewRegistry(nil, testLogger())
	results := mocks.NewMockResultStore()
	producer := &stubbornProducer{started: make(chan struct{}, 1), release: make(chan struct{})}
	config := testRunnerConfig()
	config.WorkerCount = 1
	runner := NewRunner(registry, producer, results, config, testLogger())
	require.NoError(t, runner.Start(context.Background()))

	running, err := runner.Submit(context.Background(), domain.NewGenerationRequest())
	require.NoError(t, err)
	<-producer.started

	queued, err := runner.Submit(context.Background(), domain.NewGenerationRequest())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = runner.Stop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	for _, id := range []uuid.UUID{running.ID, queued.ID} {
		rec, err := registry.Get(id)
		require.NoError(t, err)
		assert.Equal(t, StateFailed, rec.State)
		assert.Equal(t, ErrInterruptedByShutdown.Error(), rec.Error)
	}
	assert.Equal(t, []uuid.UUID{running.ID}, runner.InFlight(), "only the stuck worker's task remains scheduled")

	close(producer.release)
	waitDone(t, runner, running.ID)

	rec, err := registry.Get(running.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, rec.State, "a late result must not revive a failed task")
	assert.False(t, results.Has(running.ID), "the late payload is discarded")
	assert.Empty(t, runner.InFlight())
}

func TestNewRunner_Checkpoints(t *testing.T) {
	t.Parallel()

	custom := []Checkpoint{{Progress: 20, Message: "a"}, {Progress: 80, Message: "b"}}

	testCases := []struct {
		name        string
		checkpoints []Checkpoint
		want        []Checkpoint
	}{
		{name: "nil uses defaults", checkpoints: nil, want: DefaultCheckpoints},
		{name: "empty is allowed", checkpoints: []Checkpoint{}, want: []Checkpoint{}},
		{name: "valid kept", checkpoints: custom, want: custom},
		{name: "decreasing", checkpoints: []Checkpoint{{Progress: 60}, {Progress: 30}}, want: DefaultCheckpoints},
		{name: "duplicate", checkpoints: []Checkpoint{{Progress: 40}, {Progress: 40}}, want: DefaultCheckpoints},
		{name: "at initialize", checkpoints: []Checkpoint{{Progress: 10}}, want: DefaultCheckpoints},
		{name: "at finalize", checkpoints: []Checkpoint{{Progress: 90}}, want: DefaultCheckpoints},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			config := testRunnerConfig()
			config.Checkpoints = tc.checkpoints
			runner := NewRunner(NewRegistry(nil, testLogger()), &mocks.MockProducer{}, mocks.NewMockResultStore(), config, testLogger())
			assert.Equal(t, tc.want, runner.config.Checkpoints)
		})
	}

	t.Run("decreasing checkpoints still complete", func(t *testing.T) {
		t.Parallel()
		registry := NewRegistry(nil, testLogger())
		config := testRunnerConfig()
		config.Checkpoints = []Checkpoint{{Progress: 60, Message: "a"}, {Progress: 30, Message: "b"}}
		runner := startRunner(t, registry, &mocks.MockProducer{}, mocks.NewMockResultStore(), config)

		rec, err := runner.Submit(context.Background(), domain.NewGenerationRequest())
		require.NoError(t, err)
		waitDone(t, runner, rec.ID)

		final, err := registry.Get(rec.ID)
		require.NoError(t, err)
		assert.Equal(t, StateCompleted, final.State)
	})
}

func TestRunner_CheckpointDelayHonoursCancellation(t *testing.T) {
	t.Parallel()

	registry := NewRegistry(nil, testLogger())
	producer := &mocks.MockProducer{}
	config := testRunnerConfig()
	config.CheckpointDelay = time.Hour
	runner := startRunner(t, registry, producer, mocks.NewMockResultStore(), config)

	rec, err := runner.Submit(context.Background(), domain.NewGenerationRequest())
	require.NoError(t, err)

	waitFor(t, 2*time.Second, func() bool {
		r, err := registry.Get(rec.ID)
		return err == nil && r.State == StateProcessing
	})
	require.True(t, runner.Cancel(rec.ID))
	waitDone(t, runner, rec.ID)

	final, err := registry.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, final.State)
	assert.Equal(t, 0, producer.Calls(), "the producer is never reached")
}

func TestRunner_Recover(t *testing.T) {
	t.Parallel()

	created := time.Now().UTC().Add(-time.Minute)
	queued := Record{ID: uuid.New(), State: StateQueued, Message: MessageQueued, CreatedAt: created, UpdatedAt: created}
	processing := Record{ID: uuid.New(), State: StateProcessing, Progress: 60, CreatedAt: created, UpdatedAt: created}
	completed := Record{
		ID: uuid.New(), State: StateCompleted, Progress: 100, Message: MessageCompleted,
		CreatedAt: created, UpdatedAt: created, Result: &Result{Locator: "mem://done", NoteCount: 3},
	}
	journal := newMemoryJournal(queued, processing, completed)

	emitter := eventsEmitterFor(journal)
	registry := NewRegistry(emitter, testLogger())
	runner := NewRunner(registry, &mocks.MockProducer{}, mocks.NewMockResultStore(), testRunnerConfig(), testLogger())
	runner.SetJournal(journal)
	require.NoError(t, runner.Start(context.Background()))
	defer func() { _ = runner.Stop(context.Background()) }()

	for _, id := range []uuid.UUID{queued.ID, processing.ID} {
		rec, err := registry.Get(id)
		require.NoError(t, err)
		assert.Equal(t, StateFailed, rec.State)
		assert.Equal(t, ErrInterruptedByRestart.Error(), rec.Error)

		persisted, ok := journal.get(id)
		require.True(t, ok)
		assert.Equal(t, StateFailed, persisted.State, "the journal sees the recovery transition")
	}

	rec, err := registry.Get(completed.ID)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, rec.State)
	assert.Equal(t, 3, rec.Result.NoteCount)
}

func TestRunner_RecoverLoadError(t *testing.T) {
	t.Parallel()

	journal := newMemoryJournal()
	journal.loadErr = errors.New("database unavailable")

	runner := NewRunner(NewRegistry(nil, testLogger()), &mocks.MockProducer{}, mocks.NewMockResultStore(), testRunnerConfig(), testLogger())
	runner.SetJournal(journal)

	err := runner.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to recover tasks")
}

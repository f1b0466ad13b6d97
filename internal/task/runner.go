package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/melody-api/internal/domain"
	"github.com/phrazzld/melody-api/internal/store"
	"github.com/sourcegraph/conc/panics"
)

// Producer generates the notes for a request. Implementations must be safe
// for concurrent use and should return promptly once ctx is cancelled.
type Producer interface {
	Produce(ctx context.Context, req domain.GenerationRequest) (*domain.Composition, error)
}

// Checkpoint is an intermediate progress report written before production.
type Checkpoint struct {
	Progress int
	Message  string
}

// DefaultCheckpoints are reported, one CheckpointDelay apart, between picking
// a task up and invoking the producer.
var DefaultCheckpoints = []Checkpoint{
	{Progress: 30, Message: "Generating musical structure..."},
	{Progress: 60, Message: "Applying style constraints..."},
}

// Progress values written outside the configurable checkpoints
const (
	progressInitialize = 10
	progressFinalize   = 90
)

// RunnerConfig holds configuration for the task runner
type RunnerConfig struct {
	// WorkerCount determines how many tasks execute concurrently
	WorkerCount int

	// QueueSize determines how many accepted tasks may wait for a worker
	QueueSize int

	// CheckpointDelay is the pause before each checkpoint. Zero disables it.
	CheckpointDelay time.Duration

	// Checkpoints are the progress reports written before production. Their
	// progress must increase strictly and lie between 10 and 90, exclusive;
	// otherwise DefaultCheckpoints are used.
	Checkpoints []Checkpoint
}

// DefaultRunnerConfig returns a RunnerConfig with reasonable defaults
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		WorkerCount:     4,
		QueueSize:       100,
		CheckpointDelay: time.Second,
		Checkpoints:     DefaultCheckpoints,
	}
}

// validateCheckpoints requires strictly increasing progress values between
// progressInitialize and progressFinalize, exclusive.
func validateCheckpoints(checkpoints []Checkpoint) error {
	prev := progressInitialize
	for _, cp := range checkpoints {
		if cp.Progress <= prev || cp.Progress >= progressFinalize {
			return fmt.Errorf("checkpoint progress %d must be above %d and below %d",
				cp.Progress, prev, progressFinalize)
		}
		prev = cp.Progress
	}
	return nil
}

// handle represents one scheduled execution. It is retained by the runner
// from submission until the task reaches a terminal state.
type handle struct {
	id     uuid.UUID
	ctx    context.Context
	cancel context.CancelCauseFunc
	done   chan struct{}
}

// Runner executes generation tasks on a bounded pool of workers.
type Runner struct {
	registry *Registry
	producer Producer
	results  store.ResultStore
	journal  Store
	config   RunnerConfig
	logger   *slog.Logger

	queue      chan *handle
	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup

	mu      sync.Mutex
	handles map[uuid.UUID]*handle
	started bool
	stopped bool
}

// NewRunner creates a Runner. Call Start before expecting any task to progress.
func NewRunner(
	registry *Registry,
	producer Producer,
	results store.ResultStore,
	config RunnerConfig,
	logger *slog.Logger,
) *Runner {
	if config.WorkerCount <= 0 {
		logger.Warn("invalid worker count specified, using default",
			"specified_count", config.WorkerCount,
			"default_count", 1)
		config.WorkerCount = 1
	}
	if config.QueueSize < 0 {
		config.QueueSize = 0
	}
	if config.Checkpoints == nil {
		config.Checkpoints = DefaultCheckpoints
	} else if err := validateCheckpoints(config.Checkpoints); err != nil {
		logger.Warn("invalid checkpoints specified, using defaults", "error", err)
		config.Checkpoints = DefaultCheckpoints
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Runner{
		registry:   registry,
		producer:   producer,
		results:    results,
		config:     config,
		logger:     logger.With("component", "task_runner"),
		queue:      make(chan *handle, config.QueueSize),
		ctx:        ctx,
		cancelFunc: cancel,
		handles:    make(map[uuid.UUID]*handle),
	}
}

// SetJournal sets the store consulted by Recover. It must be called before Start.
func (r *Runner) SetJournal(journal Store) {
	r.journal = journal
}

// Submit validates the request, creates its record and schedules it.
// When the queue is full the record is removed again and ErrQueueFull is
// returned.
func (r *Runner) Submit(ctx context.Context, req domain.GenerationRequest) (Record, error) {
	if err := req.Validate(); err != nil {
		return Record{}, err
	}

	if r.isStopped() {
		return Record{}, ErrRunnerStopped
	}

	rec, err := r.registry.Create(ctx, req)
	if err != nil {
		return Record{}, fmt.Errorf("failed to create task: %w", err)
	}

	hctx, cancel := context.WithCancelCause(context.Background())
	h := &handle{id: rec.ID, ctx: hctx, cancel: cancel, done: make(chan struct{})}

	if err := r.enqueue(h); err != nil {
		cancel(err)
		r.registry.Delete(ctx, rec.ID)
		return Record{}, err
	}

	r.logger.Info("task submitted",
		"task_id", rec.ID,
		"genre", req.Genre,
		"length", req.Length,
		"queue_len", len(r.queue))

	return rec, nil
}

// enqueue registers the handle and places it on the queue without blocking.
func (r *Runner) enqueue(h *handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return ErrRunnerStopped
	}

	select {
	case r.queue <- h:
		r.handles[h.id] = h
		return nil
	default:
		return fmt.Errorf("%w: capacity %d reached", ErrQueueFull, cap(r.queue))
	}
}

func (r *Runner) isStopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}

// Start recovers journaled tasks and starts the worker pool.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started || r.stopped {
		r.mu.Unlock()
		return errors.New("task runner already started")
	}
	r.started = true
	r.mu.Unlock()

	if err := r.Recover(ctx); err != nil {
		return fmt.Errorf("failed to recover tasks: %w", err)
	}

	for i := 0; i < r.config.WorkerCount; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}

	r.logger.Info("task runner started",
		"worker_count", r.config.WorkerCount,
		"queue_size", cap(r.queue))
	return nil
}

// Recover restores journaled records into the registry. Tasks that were
// queued or processing when the previous process exited cannot be resumed
// and are marked failed.
func (r *Runner) Recover(ctx context.Context) error {
	if r.journal == nil {
		return nil
	}

	records, err := r.journal.LoadRecords(ctx)
	if err != nil {
		return fmt.Errorf("failed to load journaled tasks: %w", err)
	}

	restored := r.registry.Restore(records)

	interrupted := 0
	for _, rec := range records {
		if rec.State.IsTerminal() {
			continue
		}
		if _, err := r.registry.Update(ctx, rec.ID, Fail(ErrInterruptedByRestart.Error())); err != nil {
			r.logger.Error("failed to mark interrupted task",
				"task_id", rec.ID,
				"error", err)
			continue
		}
		interrupted++
	}

	r.logger.Info("recovered journaled tasks",
		"restored_count", restored,
		"interrupted_count", interrupted)
	return nil
}

// Stop cancels every scheduled task, fails the tasks still waiting in the
// queue and waits for the workers to exit. If ctx is done first, the tasks
// still running are marked failed and ctx.Err() is returned; their workers
// finish in the background.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	for _, h := range r.handles {
		h.cancel(ErrInterruptedByShutdown)
	}
	r.mu.Unlock()

	r.cancelFunc()
	drained := r.drain()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("task runner stopped", "drained_count", drained)
		return nil
	case <-ctx.Done():
		r.mu.Lock()
		running := make([]*handle, 0, len(r.handles))
		for _, h := range r.handles {
			running = append(running, h)
		}
		r.mu.Unlock()

		for _, h := range running {
			r.fail(h, ErrInterruptedByShutdown)
		}
		r.logger.Warn("task runner stop timed out",
			"drained_count", drained,
			"abandoned_count", len(running),
			"error", ctx.Err())
		return ctx.Err()
	}
}

// drain fails every task still waiting in the queue. Enqueueing is refused
// once the runner is stopped, so the queue only shrinks.
func (r *Runner) drain() int {
	drained := 0
	for {
		select {
		case h := <-r.queue:
			r.fail(h, ErrInterruptedByShutdown)
			r.finish(h)
			drained++
		default:
			return drained
		}
	}
}

// Cancel requests cancellation of a scheduled task. It reports whether the
// task was still scheduled.
func (r *Runner) Cancel(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.handles[id]
	if ok {
		h.cancel(ErrCancelled)
	}
	return ok
}

// Wait blocks until the task identified by id is no longer scheduled or ctx
// is done. It returns immediately for tasks that are not scheduled.
func (r *Runner) Wait(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	h, ok := r.handles[id]
	r.mu.Unlock()

	if !ok {
		return nil
	}

	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InFlight returns the ids of every scheduled task that has not reached a
// terminal state yet.
func (r *Runner) InFlight() []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]uuid.UUID, 0, len(r.handles))
	for id := range r.handles {
		ids = append(ids, id)
	}
	return ids
}

// worker executes tasks from the queue until the runner stops
func (r *Runner) worker(id int) {
	defer r.wg.Done()

	r.logger.Debug("starting worker", "worker_id", id)

	for {
		select {
		case <-r.ctx.Done():
			r.logger.Debug("stopping worker", "worker_id", id)
			return

		case h := <-r.queue:
			r.execute(h, id)
		}
	}
}

// execute drives one task to a terminal state.
func (r *Runner) execute(h *handle, workerID int) {
	defer r.finish(h)

	logger := r.logger.With("task_id", h.id, "worker_id", workerID)

	if h.ctx.Err() != nil {
		r.fail(h, cancellationCause(h.ctx))
		return
	}

	rec, err := r.registry.Update(h.ctx, h.id, Advance(progressInitialize, MessageInitialize))
	if err != nil {
		logger.Debug("task no longer runnable", "error", err)
		return
	}

	logger.Info("processing task")
	started := time.Now()

	var (
		result *Result
		runErr error
		pc     panics.Catcher
	)
	pc.Try(func() { result, runErr = r.run(h.ctx, rec) })
	if recovered := pc.Recovered(); recovered != nil {
		logger.Error("panic during task execution", "panic", recovered.Value)
		runErr = fmt.Errorf("%w: %w", ErrProducerFailure, recovered.AsError())
	}

	if runErr != nil {
		logger.Warn("task execution failed", "error", runErr)
		r.fail(h, runErr)
		return
	}

	if _, err := r.registry.Update(h.ctx, h.id, Complete(*result)); err != nil {
		logger.Warn("failed to complete task", "error", err)
		if errors.Is(err, ErrTaskNotFound) || errors.Is(err, ErrInvalidTransition) {
			// The task was deleted, or failed by a timed out Stop, while
			// running; drop its orphaned payload.
			if delErr := r.results.Delete(context.WithoutCancel(h.ctx), h.id); delErr != nil {
				logger.Error("failed to delete orphaned result", "error", delErr)
			}
		}
		return
	}

	logger.Info("task completed successfully",
		"note_count", result.NoteCount,
		"elapsed", time.Since(started))
}

// run walks the checkpoints, invokes the producer and stores the payload.
func (r *Runner) run(ctx context.Context, rec Record) (*Result, error) {
	for _, cp := range r.config.Checkpoints {
		if err := r.pause(ctx); err != nil {
			return nil, err
		}
		if _, err := r.registry.Update(ctx, rec.ID, Advance(cp.Progress, cp.Message)); err != nil {
			return nil, err
		}
	}

	payload, err := r.producer.Produce(ctx, rec.Request)
	if ctx.Err() != nil {
		return nil, cancellationCause(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProducerFailure, err)
	}
	if err := payload.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProducerFailure, err)
	}

	if _, err := r.registry.Update(ctx, rec.ID, Advance(progressFinalize, MessageFinalize)); err != nil {
		return nil, err
	}

	locator, err := r.results.Put(ctx, rec.ID, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to store result: %w", err)
	}

	return &Result{
		Locator:         locator,
		DurationSeconds: payload.DurationSeconds(),
		NoteCount:       len(payload.Notes),
	}, nil
}

// pause waits CheckpointDelay and reports cancellation.
func (r *Runner) pause(ctx context.Context) error {
	if r.config.CheckpointDelay <= 0 {
		if ctx.Err() != nil {
			return cancellationCause(ctx)
		}
		return nil
	}

	timer := time.NewTimer(r.config.CheckpointDelay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return cancellationCause(ctx)
	}
}

// fail records a terminal failure for the task. Failures to record it are
// logged, since the task may have been deleted in the meantime.
func (r *Runner) fail(h *handle, cause error) {
	_, err := r.registry.Update(context.WithoutCancel(h.ctx), h.id, Fail(cause.Error()))
	switch {
	case err == nil:
	case errors.Is(err, ErrTaskNotFound):
		r.logger.Debug("failed task was already deleted", "task_id", h.id)
	default:
		r.logger.Warn("failed to record task failure", "task_id", h.id, "error", err)
	}
}

// finish releases the handle of a task that reached a terminal state.
func (r *Runner) finish(h *handle) {
	r.mu.Lock()
	delete(r.handles, h.id)
	r.mu.Unlock()

	h.cancel(nil)
	close(h.done)
}

// cancellationCause maps a done context to the diagnostic recorded for the task.
func cancellationCause(ctx context.Context) error {
	cause := context.Cause(ctx)
	if errors.Is(cause, ErrInterruptedByShutdown) || errors.Is(cause, ErrCancelled) {
		return cause
	}
	return ErrCancelled
}

package service

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/phrazzld/melody-api/internal/domain"
	"github.com/phrazzld/melody-api/internal/preview"
	"github.com/phrazzld/melody-api/internal/store"
	"github.com/phrazzld/melody-api/internal/task"
)

// TaskRunner defines the scheduling operations the service needs.
type TaskRunner interface {
	// Submit creates a record for the request and schedules it
	Submit(ctx context.Context, req domain.GenerationRequest) (task.Record, error)

	// Cancel requests cancellation of a scheduled task
	Cancel(id uuid.UUID) bool

	// InFlight lists the ids of scheduled tasks
	InFlight() []uuid.UUID
}

// TaskRegistry defines the record lookups the service needs.
type TaskRegistry interface {
	Get(id uuid.UUID) (task.Record, error)
	List() []task.Summary
	Delete(ctx context.Context, id uuid.UUID)
	Len() int
}

// Generation is a task record together with its composition, which is only
// present once the task completed.
type Generation struct {
	Record      task.Record
	Composition *domain.Composition
}

// Health summarizes the service state for the health endpoint.
type Health struct {
	ProducerReady bool
	Producer      string
	InFlight      int
	Tasks         int
}

// GenerationService provides generation-related operations
type GenerationService interface {
	// Submit validates the request and schedules a new generation
	Submit(ctx context.Context, req domain.GenerationRequest) (task.Record, error)

	// Status returns the current record of a generation
	Status(ctx context.Context, id uuid.UUID) (task.Record, error)

	// Result returns a completed generation with its composition.
	// Returns ErrResultPending while the task runs and ErrGenerationFailed
	// once it failed.
	Result(ctx context.Context, id uuid.UUID) (*Generation, error)

	// List returns every known generation, newest first. Completed ones carry
	// their composition.
	List(ctx context.Context) ([]Generation, error)

	// Delete cancels the generation if it is still running and removes its
	// record and result. Deleting an unknown generation succeeds.
	Delete(ctx context.Context, id uuid.UUID) error

	// Preview renders the piano roll of a completed generation as PNG
	Preview(ctx context.Context, id uuid.UUID, width int) ([]byte, error)

	// Health reports producer readiness and task counts
	Health() Health

	// MarkReady records that the producer can serve requests
	MarkReady(ready bool)
}

// GenerationServiceConfig tunes the service.
type GenerationServiceConfig struct {
	// Producer names the configured producer for the health report
	Producer string
	// PreviewTTL is how long rendered previews stay cached
	PreviewTTL time.Duration
}

type generationServiceImpl struct {
	runner   TaskRunner
	registry TaskRegistry
	results  store.ResultStore
	producer string
	previews *cache.Cache
	ready    atomic.Bool
	logger   *slog.Logger
}

// NewGenerationService creates a new GenerationService.
// It returns an error if any of the required dependencies are nil.
func NewGenerationService(
	runner TaskRunner,
	registry TaskRegistry,
	results store.ResultStore,
	config GenerationServiceConfig,
	logger *slog.Logger,
) (GenerationService, error) {
	if runner == nil {
		return nil, &GenerationServiceError{Operation: "create_service", Message: "runner cannot be nil"}
	}
	if registry == nil {
		return nil, &GenerationServiceError{Operation: "create_service", Message: "registry cannot be nil"}
	}
	if results == nil {
		return nil, &GenerationServiceError{Operation: "create_service", Message: "results cannot be nil"}
	}
	if logger == nil {
		logger = slog.Default()
	}

	ttl := config.PreviewTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}

	return &generationServiceImpl{
		runner:   runner,
		registry: registry,
		results:  results,
		producer: config.Producer,
		previews: cache.New(ttl, 2*ttl),
		logger:   logger.With("component", "generation_service"),
	}, nil
}

// Submit validates the request and schedules a new generation.
func (s *generationServiceImpl) Submit(ctx context.Context, req domain.GenerationRequest) (task.Record, error) {
	rec, err := s.runner.Submit(ctx, req.Clone())
	if err != nil {
		return task.Record{}, NewGenerationServiceError("submit", "failed to schedule generation", err)
	}
	return rec, nil
}

// Status returns the current record of a generation.
func (s *generationServiceImpl) Status(ctx context.Context, id uuid.UUID) (task.Record, error) {
	rec, err := s.registry.Get(id)
	if err != nil {
		return task.Record{}, NewGenerationServiceError("status", "failed to load generation", err)
	}
	return rec, nil
}

// Result returns a completed generation with its composition.
func (s *generationServiceImpl) Result(ctx context.Context, id uuid.UUID) (*Generation, error) {
	rec, err := s.registry.Get(id)
	if err != nil {
		return nil, NewGenerationServiceError("result", "failed to load generation", err)
	}

	switch rec.State {
	case task.StateQueued, task.StateProcessing:
		return nil, ErrResultPending
	case task.StateFailed:
		return nil, ErrGenerationFailed
	}

	payload, err := s.results.Get(ctx, id)
	if err != nil {
		s.logger.Error("completed generation has no readable result",
			"task_id", id,
			"error", err)
		return nil, NewGenerationServiceError("result", "failed to load composition", err)
	}
	return &Generation{Record: rec, Composition: payload}, nil
}

// List returns every known generation, newest first.
func (s *generationServiceImpl) List(ctx context.Context) ([]Generation, error) {
	summaries := s.registry.List()
	generations := make([]Generation, 0, len(summaries))

	for _, summary := range summaries {
		rec, err := s.registry.Get(summary.ID)
		if err != nil {
			// Deleted after the snapshot was taken.
			continue
		}

		gen := Generation{Record: rec}
		if rec.State == task.StateCompleted {
			payload, err := s.results.Get(ctx, rec.ID)
			if err != nil {
				s.logger.Warn("listing completed generation without result",
					"task_id", rec.ID,
					"error", err)
			} else {
				gen.Composition = payload
			}
		}
		generations = append(generations, gen)
	}
	return generations, nil
}

// Delete cancels, then removes the record and the stored result.
func (s *generationServiceImpl) Delete(ctx context.Context, id uuid.UUID) error {
	cancelled := s.runner.Cancel(id)
	s.registry.Delete(ctx, id)
	s.evictPreviews(id)

	if err := s.results.Delete(ctx, id); err != nil {
		return NewGenerationServiceError("delete", "failed to delete result", err)
	}

	s.logger.Info("generation deleted",
		"task_id", id,
		"cancelled", cancelled)
	return nil
}

// Preview renders the piano roll of a completed generation as PNG.
func (s *generationServiceImpl) Preview(ctx context.Context, id uuid.UUID, width int) ([]byte, error) {
	key := previewKey(id, width)
	if cached, ok := s.previews.Get(key); ok {
		return cached.([]byte), nil
	}

	gen, err := s.Result(ctx, id)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := preview.RenderPNG(&buf, gen.Composition, width); err != nil {
		return nil, NewGenerationServiceError("preview", "failed to render preview", err)
	}

	img := buf.Bytes()
	s.previews.SetDefault(key, img)
	return img, nil
}

// Health reports producer readiness and task counts.
func (s *generationServiceImpl) Health() Health {
	return Health{
		ProducerReady: s.ready.Load(),
		Producer:      s.producer,
		InFlight:      len(s.runner.InFlight()),
		Tasks:         s.registry.Len(),
	}
}

// MarkReady records that the producer can serve requests.
func (s *generationServiceImpl) MarkReady(ready bool) {
	s.ready.Store(ready)
}

func (s *generationServiceImpl) evictPreviews(id uuid.UUID) {
	prefix := id.String() + ":"
	for key := range s.previews.Items() {
		if strings.HasPrefix(key, prefix) {
			s.previews.Delete(key)
		}
	}
}

func previewKey(id uuid.UUID, width int) string {
	return fmt.Sprintf("%s:%d", id, width)
}

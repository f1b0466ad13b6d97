package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/phrazzld/melody-api/internal/domain"
	"github.com/phrazzld/melody-api/internal/mocks"
	"github.com/phrazzld/melody-api/internal/service"
	"github.com/phrazzld/melody-api/internal/task"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockGenerationService implements service.GenerationService for testing
type mockGenerationService struct {
	SubmitFn  func(ctx context.Context, req domain.GenerationRequest) (task.Record, error)
	StatusFn  func(ctx context.Context, id uuid.UUID) (task.Record, error)
	ResultFn  func(ctx context.Context, id uuid.UUID) (*service.Generation, error)
	ListFn    func(ctx context.Context) ([]service.Generation, error)
	DeleteFn  func(ctx context.Context, id uuid.UUID) error
	PreviewFn func(ctx context.Context, id uuid.UUID, width int) ([]byte, error)
	HealthFn  func() service.Health
	ready     bool
}

func (m *mockGenerationService) Submit(ctx context.Context, req domain.GenerationRequest) (task.Record, error) {
	if m.SubmitFn != nil {
		return m.SubmitFn(ctx, req)
	}
	return task.Record{ID: uuid.New(), State: task.StateQueued, Request: req, CreatedAt: time.Now()}, nil
}

func (m *mockGenerationService) Status(ctx context.Context, id uuid.UUID) (task.Record, error) {
	if m.StatusFn != nil {
		return m.StatusFn(ctx, id)
	}
	return task.Record{}, task.ErrTaskNotFound
}

func (m *mockGenerationService) Result(ctx context.Context, id uuid.UUID) (*service.Generation, error) {
	if m.ResultFn != nil {
		return m.ResultFn(ctx, id)
	}
	return nil, task.ErrTaskNotFound
}

func (m *mockGenerationService) List(ctx context.Context) ([]service.Generation, error) {
	if m.ListFn != nil {
		return m.ListFn(ctx)
	}
	return nil, nil
}

func (m *mockGenerationService) Delete(ctx context.Context, id uuid.UUID) error {
	if m.DeleteFn != nil {
		return m.DeleteFn(ctx, id)
	}
	return nil
}

func (m *mockGenerationService) Preview(ctx context.Context, id uuid.UUID, width int) ([]byte, error) {
	if m.PreviewFn != nil {
		return m.PreviewFn(ctx, id, width)
	}
	return nil, task.ErrTaskNotFound
}

func (m *mockGenerationService) Health() service.Health {
	if m.HealthFn != nil {
		return m.HealthFn()
	}
	return service.Health{ProducerReady: m.ready, Producer: "mock"}
}

func (m *mockGenerationService) MarkReady(ready bool) {
	m.ready = ready
}

// newTestRouter mounts the REST handlers for svc on a bare chi router.
func newTestRouter(svc service.GenerationService) http.Handler {
	r := chi.NewRouter()
	NewGenerationHandler(svc, testLogger()).Register(r)
	NewSystemHandler(svc, "1.0.0").Register(r)
	return r
}

// liveFixture wires the real registry, runner and broadcaster behind the
// HTTP handlers.
type liveFixture struct {
	registry    *task.Registry
	runner      *task.Runner
	broadcaster *task.Broadcaster
	producer    *mocks.MockProducer
	results     *mocks.MockResultStore
	svc         service.GenerationService
	server      *httptest.Server
	stopCast    context.CancelFunc
}

func newLiveFixture(t *testing.T, producer *mocks.MockProducer) *liveFixture {
	t.Helper()

	registry := task.NewRegistry(nil, testLogger())
	results := mocks.NewMockResultStore()
	runner := task.NewRunner(registry, producer, results, task.RunnerConfig{
		WorkerCount:     2,
		QueueSize:       32,
		CheckpointDelay: 20 * time.Millisecond,
	}, testLogger())
	require.NoError(t, runner.Start(context.Background()))

	svc, err := service.NewGenerationService(runner, registry, results,
		service.GenerationServiceConfig{Producer: "mock"}, testLogger())
	require.NoError(t, err)
	svc.MarkReady(true)

	broadcaster := task.NewBroadcaster(registry, task.BroadcasterConfig{
		Interval:   20 * time.Millisecond,
		BufferSize: 64,
	}, testLogger())
	castCtx, stopCast := context.WithCancel(context.Background())
	go func() { _ = broadcaster.Run(castCtx) }()

	r := chi.NewRouter()
	NewGenerationHandler(svc, testLogger()).Register(r)
	NewSystemHandler(svc, "1.0.0").Register(r)
	NewWebSocketHandler(broadcaster, WebSocketConfig{}, testLogger()).Register(r)
	server := httptest.NewServer(r)

	f := &liveFixture{
		registry:    registry,
		runner:      runner,
		broadcaster: broadcaster,
		producer:    producer,
		results:     results,
		svc:         svc,
		server:      server,
		stopCast:    stopCast,
	}
	t.Cleanup(func() {
		stopCast()
		server.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = runner.Stop(ctx)
	})
	return f
}

// do performs a request against the fixture server and decodes the JSON
// body into out when out is non-nil.
func (f *liveFixture) do(t *testing.T, method, path, body string, out interface{}) int {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.server.URL+path, reader)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

// waitTerminal blocks until the task leaves the runner.
func (f *liveFixture) waitTerminal(t *testing.T, id uuid.UUID) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, f.runner.Wait(ctx, id))
}

// serve runs one request through handler and returns the recorder.
func serve(handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

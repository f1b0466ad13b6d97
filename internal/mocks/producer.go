package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/phrazzld/melody-api/internal/domain"
)

// MockProducer implements task.Producer for testing
type MockProducer struct {
	// ProduceFn allows test cases to mock the Produce behavior
	ProduceFn func(ctx context.Context, req domain.GenerationRequest) (*domain.Composition, error)

	// Delay is slept (honouring ctx) before the default response is returned
	Delay time.Duration

	// Default response values
	Composition *domain.Composition
	Err         error

	mu       sync.Mutex
	calls    int
	requests []domain.GenerationRequest
}

// Produce implements the task.Producer interface
func (m *MockProducer) Produce(ctx context.Context, req domain.GenerationRequest) (*domain.Composition, error) {
	m.mu.Lock()
	m.calls++
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.ProduceFn != nil {
		return m.ProduceFn(ctx, req)
	}

	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if m.Err != nil {
		return nil, m.Err
	}
	if m.Composition != nil {
		return m.Composition.Clone(), nil
	}
	return SampleComposition(req.Length), nil
}

// Calls reports how many times Produce was invoked.
func (m *MockProducer) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Requests returns a copy of every request passed to Produce.
func (m *MockProducer) Requests() []domain.GenerationRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.GenerationRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// NewMockProducerWithError creates a MockProducer that always fails with err
func NewMockProducerWithError(err error) *MockProducer {
	return &MockProducer{Err: err}
}

// SampleComposition builds a simple ascending scale of n quarter notes.
func SampleComposition(n int) *domain.Composition {
	if n <= 0 {
		n = 1
	}
	notes := make([]domain.Note, 0, n)
	for i := 0; i < n; i++ {
		notes = append(notes, domain.Note{
			Type:     domain.NoteOn,
			Note:     60 + i%12,
			Time:     float64(i) * 0.5,
			Velocity: 90,
			Duration: 0.5,
		})
	}
	return &domain.Composition{Notes: notes}
}

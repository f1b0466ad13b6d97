package mocks

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/phrazzld/melody-api/internal/domain"
	"github.com/phrazzld/melody-api/internal/store"
)

// MockResultStore implements store.ResultStore with an in-memory map by
// default. Set the Fn fields to inject failures.
type MockResultStore struct {
	PutFn    func(ctx context.Context, id uuid.UUID, payload *domain.Composition) (store.Locator, error)
	GetFn    func(ctx context.Context, id uuid.UUID) (*domain.Composition, error)
	DeleteFn func(ctx context.Context, id uuid.UUID) error

	mu          sync.Mutex
	payloads    map[uuid.UUID]*domain.Composition
	getCalls    int
	deleteCalls int
}

// NewMockResultStore creates an empty MockResultStore.
func NewMockResultStore() *MockResultStore {
	return &MockResultStore{payloads: make(map[uuid.UUID]*domain.Composition)}
}

// Put implements store.ResultStore
func (m *MockResultStore) Put(ctx context.Context, id uuid.UUID, payload *domain.Composition) (store.Locator, error) {
	if m.PutFn != nil {
		return m.PutFn(ctx, id, payload)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.payloads == nil {
		m.payloads = make(map[uuid.UUID]*domain.Composition)
	}
	m.payloads[id] = payload.Clone()
	return store.Locator(fmt.Sprintf("mem://%s", id)), nil
}

// Get implements store.ResultStore
func (m *MockResultStore) Get(ctx context.Context, id uuid.UUID) (*domain.Composition, error) {
	m.mu.Lock()
	m.getCalls++
	m.mu.Unlock()

	if m.GetFn != nil {
		return m.GetFn(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	payload, ok := m.payloads[id]
	if !ok {
		return nil, store.ErrResultNotFound
	}
	return payload.Clone(), nil
}

// Delete implements store.ResultStore
func (m *MockResultStore) Delete(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	m.deleteCalls++
	m.mu.Unlock()

	if m.DeleteFn != nil {
		return m.DeleteFn(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.payloads, id)
	return nil
}

// Has reports whether a payload is stored for id.
func (m *MockResultStore) Has(id uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.payloads[id]
	return ok
}

// GetCalls reports how many times Get was invoked.
func (m *MockResultStore) GetCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getCalls
}

// DeleteCalls reports how many times Delete was invoked.
func (m *MockResultStore) DeleteCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteCalls
}

var _ store.ResultStore = (*MockResultStore)(nil)

package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/phrazzld/melody-api/internal/domain"
)

// DefaultCacheSize is used when a non-positive cache size is configured.
const DefaultCacheSize = 128

// CachedResultStore is a read-through LRU cache in front of another
// ResultStore. Completed payloads never change, so entries are only evicted by
// size or removed on Delete.
type CachedResultStore struct {
	next  ResultStore
	cache *lru.Cache[uuid.UUID, *domain.Composition]

	// deletes counts Delete calls; a miss is only cached if none happened
	// while it was being served.
	mu      sync.Mutex
	deletes uint64
}

// NewCachedResultStore wraps next with an LRU cache holding up to size payloads.
func NewCachedResultStore(next ResultStore, size int) (*CachedResultStore, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[uuid.UUID, *domain.Composition](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create result cache: %w", err)
	}
	return &CachedResultStore{next: next, cache: cache}, nil
}

// Put writes through to the wrapped store and caches the payload.
func (s *CachedResultStore) Put(ctx context.Context, id uuid.UUID, payload *domain.Composition) (Locator, error) {
	locator, err := s.next.Put(ctx, id, payload)
	if err != nil {
		return "", err
	}
	s.cache.Add(id, payload.Clone())
	return locator, nil
}

// Get serves from the cache, falling back to the wrapped store on a miss.
// Callers receive a copy they may modify freely.
func (s *CachedResultStore) Get(ctx context.Context, id uuid.UUID) (*domain.Composition, error) {
	if payload, ok := s.cache.Get(id); ok {
		return payload.Clone(), nil
	}

	s.mu.Lock()
	seen := s.deletes
	s.mu.Unlock()

	payload, err := s.next.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.deletes == seen {
		s.cache.Add(id, payload.Clone())
	}
	s.mu.Unlock()
	return payload, nil
}

// Delete evicts the cache entry before deleting from the wrapped store.
func (s *CachedResultStore) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	s.deletes++
	s.cache.Remove(id)
	s.mu.Unlock()
	return s.next.Delete(ctx, id)
}

// Len reports the number of cached payloads.
func (s *CachedResultStore) Len() int {
	return s.cache.Len()
}

var _ ResultStore = (*CachedResultStore)(nil)

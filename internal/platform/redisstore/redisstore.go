// Package redisstore keeps generated compositions in Redis, one JSON string
// per task under the key melody:result:<task id>.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/melody-api/internal/domain"
	"github.com/phrazzld/melody-api/internal/platform/logger"
	"github.com/phrazzld/melody-api/internal/store"
	"github.com/redis/go-redis/v9"
)

// KeyPrefix namespaces every key written by the store.
const KeyPrefix = "melody:result:"

// Config contains the connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
	// TTL expires stored payloads; zero keeps them until deleted.
	TTL time.Duration
}

// Store implements store.ResultStore on Redis.
type Store struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	return &Store{
		client: client,
		ttl:    cfg.TTL,
		logger: logger.With("component", "redis_result_store"),
	}, nil
}

// Key returns the Redis key holding the payload of the task.
func Key(id uuid.UUID) string {
	return KeyPrefix + id.String()
}

// Put stores the payload, replacing any previous one.
func (s *Store) Put(ctx context.Context, id uuid.UUID, payload *domain.Composition) (store.Locator, error) {
	if err := payload.Validate(); err != nil {
		return "", fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode composition: %w", err)
	}

	key := Key(id)
	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to store result",
			"task_id", id,
			"error", err)
		return "", fmt.Errorf("failed to store result: %w", err)
	}
	return store.Locator("redis://" + key), nil
}

// Get loads the payload of the task.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*domain.Composition, error) {
	data, err := s.client.Get(ctx, Key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, store.ErrResultNotFound
		}
		return nil, fmt.Errorf("failed to load result: %w", err)
	}

	var payload domain.Composition
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode stored composition: %w", err)
	}
	return &payload, nil
}

// Delete removes the payload. Missing keys are not an error.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.client.Del(ctx, Key(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete result: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

var _ store.ResultStore = (*Store)(nil)

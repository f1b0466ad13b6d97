package sqlstore

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
)

// ResultStore implements store.ResultStore on the results table.
type ResultStore struct {
	db     *DB
	logger *slog.Logger
	now    func() time.Time
}

// NewResultStore creates a ResultStore. The schema must already be migrated.
func NewResultStore(db *DB, logger *slog.Logger) *ResultStore {
	return &ResultStore{
		db:     db,
		logger: logger.With("component", "sql_result_store"),
		now:    time.Now,
	}
}

// Put stores the payload, replacing any previous one for the task.
func (s *ResultStore) Put(ctx context.Context, id uuid.UUID, payload *domain.Composition) (store.Locator, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := payload.Validate(); err != nil {
		return "", fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode composition: %w", err)
	}

	query := s.db.Rebind(`
		INSERT INTO results (task_id, payload, note_count, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (task_id) DO UPDATE
		SET payload = excluded.payload, note_count = excluded.note_count, created_at = excluded.created_at
	`)
	if _, err := s.db.ExecContext(ctx, query,
		id.String(), string(data), len(payload.Notes), s.now().UTC().UnixMilli(),
	); err != nil {
		log.Error("failed to store result",
			"task_id", id,
			"error", err)
		return "", fmt.Errorf("failed to store result: %w", MapError(err))
	}

	return locatorFor(id), nil
}

// Get loads the payload for the task.
func (s *ResultStore) Get(ctx context.Context, id uuid.UUID) (*domain.Composition, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		s.db.Rebind(`SELECT payload FROM results WHERE task_id = ?`),
		id.String(),
	).Scan(&data)
	if err != nil {
		if errors.Is(MapError(err), store.ErrNotFound) {
			return nil, store.ErrResultNotFound
		}
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to load result",
			"task_id", id,
			"error", err)
		return nil, fmt.Errorf("failed to load result: %w", err)
	}

	var payload domain.Composition
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return nil, fmt.Errorf("failed to decode stored composition: %w", err)
	}
	return &payload, nil
}

// Delete removes the payload. Missing rows are not an error.
func (s *ResultStore) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx,
		s.db.Rebind(`DELETE FROM results WHERE task_id = ?`),
		id.String(),
	); err != nil {
		return fmt.Errorf("failed to delete result: %w", MapError(err))
	}
	return nil
}

func locatorFor(id uuid.UUID) store.Locator {
	return store.Locator("sql://results/" + id.String())
}

var _ store.ResultStore = (*ResultStore)(nil)

package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/melody-api/internal/platform/logger"
	"github.com/phrazzld/melody-api/internal/task"
)

// TaskStore implements task.Store on the tasks table. The full record is kept
// as JSON; state and timestamps are duplicated into columns for querying.
type TaskStore struct {
	db     *DB
	logger *slog.Logger
}

// NewTaskStore creates a TaskStore. The schema must already be migrated.
func NewTaskStore(db *DB, logger *slog.Logger) *TaskStore {
	return &TaskStore{
		db:     db,
		logger: logger.With("component", "sql_task_store"),
	}
}

// SaveRecord inserts or replaces the persisted record.
func (s *TaskStore) SaveRecord(ctx context.Context, rec task.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode task record: %w", err)
	}

	query := s.db.Rebind(`
		INSERT INTO tasks (id, state, record, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE
		SET state = excluded.state, record = excluded.record, updated_at = excluded.updated_at
	`)
	if _, err := s.db.ExecContext(ctx, query,
		rec.ID.String(),
		string(rec.State),
		string(data),
		rec.CreatedAt.UTC().UnixMilli(),
		rec.UpdatedAt.UTC().UnixMilli(),
	); err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to save task record",
			"task_id", rec.ID,
			"state", rec.State,
			"error", err)
		return fmt.Errorf("failed to save task record: %w", MapError(err))
	}
	return nil
}

// DeleteRecord removes the persisted record. Missing rows are not an error.
func (s *TaskStore) DeleteRecord(ctx context.Context, id uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx,
		s.db.Rebind(`DELETE FROM tasks WHERE id = ?`),
		id.String(),
	); err != nil {
		return fmt.Errorf("failed to delete task record: %w", MapError(err))
	}
	return nil
}

// LoadRecords returns every persisted record, oldest first. Rows that cannot
// be decoded are skipped and logged.
func (s *TaskStore) LoadRecords(ctx context.Context) ([]task.Record, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	rows, err := s.db.QueryContext(ctx, `SELECT id, record FROM tasks ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query task records: %w", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var records []task.Record
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("failed to scan task record: %w", err)
		}
		var rec task.Record
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			log.Warn("skipping undecodable task record",
				"task_id", id,
				"error", err)
			continue
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate task records: %w", err)
	}

	log.Debug("loaded task records", "count", len(records))
	return records, nil
}

var _ task.Store = (*TaskStore)(nil)

// Package filestore keeps each generated composition as a JSON file named
// music_<task id>.json inside a single directory.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/phrazzld/melody-api/internal/domain"
	"github.com/phrazzld/melody-api/internal/platform/logger"
	"github.com/phrazzld/melody-api/internal/store"
)

// Store implements store.ResultStore on the local filesystem.
type Store struct {
	dir    string
	logger *slog.Logger
}

// New creates the directory if needed and returns a Store rooted at it.
func New(dir string, logger *slog.Logger) (*Store, error) {
	if dir == "" {
		return nil, errors.New("result directory must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create result directory: %w", err)
	}
	return &Store{
		dir:    dir,
		logger: logger.With("component", "file_result_store", "dir", dir),
	}, nil
}

// Path returns the file that holds the payload of the task.
func (s *Store) Path(id uuid.UUID) string {
	return filepath.Join(s.dir, fmt.Sprintf("music_%s.json", id))
}

// Put writes the payload to a temporary file and renames it into place so
// readers never observe a partial document.
func (s *Store) Put(ctx context.Context, id uuid.UUID, payload *domain.Composition) (store.Locator, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := payload.Validate(); err != nil {
		return "", fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode composition: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".music_*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temporary result file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("failed to write result file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close result file: %w", err)
	}

	path := s.Path(id)
	if err := os.Rename(tmpName, path); err != nil {
		return "", fmt.Errorf("failed to move result file into place: %w", err)
	}

	logger.FromContextOrDefault(ctx, s.logger).Debug("stored result",
		"task_id", id,
		"size", humanize.Bytes(uint64(len(data))))
	return store.Locator(path), nil
}

// Get reads the payload of the task.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*domain.Composition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.Path(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, store.ErrResultNotFound
		}
		return nil, fmt.Errorf("failed to read result file: %w", err)
	}

	var payload domain.Composition
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode result file: %w", err)
	}
	return &payload, nil
}

// Delete removes the payload file. A missing file is not an error.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	if err := os.Remove(s.Path(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete result file: %w", err)
	}
	return nil
}

var _ store.ResultStore = (*Store)(nil)

package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/phrazzld/melody-api/internal/platform/sqlstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func executeRoot(t *testing.T, args ...string) error {
	t.Helper()
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	return cmd.ExecuteContext(context.Background())
}

func TestMigrateCmd_Args(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "missing command", args: []string{"migrate"}},
		{name: "unknown command", args: []string{"migrate", "sideways"}},
		{name: "too many args", args: []string{"migrate", "up", "down"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, executeRoot(t, tc.args...))
		})
	}
}

func TestMigrateCmd_RequiresDatabase(t *testing.T) {
	t.Setenv("MELODY_DATABASE_DRIVER", "none")
	t.Setenv("MELODY_SERVER_LOG_LEVEL", "error")

	err := executeRoot(t, "migrate", "up")
	assert.ErrorContains(t, err, "no database configured")
}

func TestMigrateCmd_SQLite(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "melody.db")
	t.Setenv("MELODY_DATABASE_DRIVER", "sqlite")
	t.Setenv("MELODY_DATABASE_URL", "file:"+dbPath)
	t.Setenv("MELODY_SERVER_LOG_LEVEL", "error")

	require.NoError(t, executeRoot(t, "migrate", "up"))
	require.NoError(t, executeRoot(t, "migrate", "version"))

	db, err := sqlstore.Open(context.Background(), "sqlite", "file:"+dbPath)
	require.NoError(t, err)
	defer db.Close()

	version, err := sqlstore.SchemaVersion(context.Background(), db)
	require.NoError(t, err)
	assert.Positive(t, version)
}

func TestRootCmd_RejectsBadConfigFile(t *testing.T) {
	err := executeRoot(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "serve")
	assert.ErrorContains(t, err, "failed to load configuration")
}

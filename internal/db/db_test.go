package db

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peterje/obsidianki-mcp/internal/models"
)

func openTestDB(t *testing.T) *History {
	t.Helper()
	database, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	migration, err := os.ReadFile("../../migrations/001_initial.sql")
	require.NoError(t, err)
	require.NoError(t, Migrate(database, string(migration)))
	return NewHistory(database)
}

func TestRecordStartAndExit(t *testing.T) {
	h := openTestDB(t)

	require.NoError(t, h.RecordStart(models.Run{
		ID: "abc123", PID: 42, Command: "obsidianki",
		Args: "--cards 3", Mode: models.ModeInteractive, StartedAt: time.Now(),
	}))
	require.NoError(t, h.RecordExit("abc123", "exited", 0))

	runs, err := h.List(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "abc123", runs[0].ID)
	assert.Equal(t, "exited", runs[0].Status)
	require.NotNil(t, runs[0].ExitCode)
	assert.Equal(t, 0, *runs[0].ExitCode)
	assert.NotNil(t, runs[0].EndedAt)
}

func TestMarkStale(t *testing.T) {
	h := openTestDB(t)

	require.NoError(t, h.RecordStart(models.Run{
		ID: "stale1", Command: "obsidianki", StartedAt: time.Now(),
	}))
	require.NoError(t, h.RecordStart(models.Run{
		ID: "done1", Command: "obsidianki", StartedAt: time.Now(),
	}))
	require.NoError(t, h.RecordExit("done1", "exited", 1))

	n, err := h.MarkStale()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	runs, err := h.List(10)
	require.NoError(t, err)
	for _, run := range runs {
		assert.NotEqual(t, "running", run.Status)
	}
}

func TestListOrderAndLimit(t *testing.T) {
	h := openTestDB(t)

	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"first", "second", "third"} {
		require.NoError(t, h.RecordStart(models.Run{
			ID: id, Command: "obsidianki", StartedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	runs, err := h.List(2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "third", runs[0].ID)
	assert.Equal(t, "second", runs[1].ID)
}

// Package db persists run history in sqlite. Output is never stored.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/peterje/obsidianki-mcp/internal/models"
)

// DataDir returns ~/.obsidianki-mcp, creating it if needed.
func DataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".obsidianki-mcp")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	return dir, nil
}

// Open opens (creating if needed) the sqlite database at path.
func Open(path string) (*sql.DB, error) {
	database, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := database.Ping(); err != nil {
		database.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return database, nil
}

// Migrate applies a migration script.
func Migrate(database *sql.DB, migrationSQL string) error {
	if _, err := database.Exec(migrationSQL); err != nil {
		return fmt.Errorf("run migration: %w", err)
	}
	return nil
}

// History records run metadata.
type History struct {
	db *sql.DB
}

func NewHistory(database *sql.DB) *History {
	return &History{db: database}
}

func (h *History) RecordStart(run models.Run) error {
	_, err := h.db.Exec(`INSERT INTO runs (id, pid, command, args, mode, status, started_at)
		VALUES (?, ?, ?, ?, ?, 'running', ?)`,
		run.ID, run.PID, run.Command, run.Args, run.Mode, run.StartedAt)
	if err != nil {
		return fmt.Errorf("record start: %w", err)
	}
	return nil
}

func (h *History) RecordExit(id, status string, exitCode int) error {
	_, err := h.db.Exec(`UPDATE runs SET status = ?, exit_code = ?, ended_at = ? WHERE id = ?`,
		status, exitCode, time.Now(), id)
	if err != nil {
		return fmt.Errorf("record exit: %w", err)
	}
	return nil
}

// MarkStale flips leftover 'running' rows to 'stopped'. Called on boot:
// any run still marked running belongs to a dead supervisor.
func (h *History) MarkStale() (int64, error) {
	result, err := h.db.Exec(`UPDATE runs SET status = 'stopped' WHERE status = 'running'`)
	if err != nil {
		return 0, fmt.Errorf("mark stale runs: %w", err)
	}
	return result.RowsAffected()
}

// List returns the most recent runs, newest first.
func (h *History) List(limit int) ([]models.Run, error) {
	rows, err := h.db.Query(`SELECT id, pid, command, args, mode, status, exit_code, started_at, ended_at
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []models.Run{}
	for rows.Next() {
		var run models.Run
		if err := rows.Scan(&run.ID, &run.PID, &run.Command, &run.Args, &run.Mode,
			&run.Status, &run.ExitCode, &run.StartedAt, &run.EndedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

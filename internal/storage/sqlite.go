package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// History records one row per run so progress can be compared across days
type History struct {
	db *sql.DB
}

// NewHistory opens/creates the history DB and initializes schema
func NewHistory(dbPath string) (*History, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	history := &History{db: db}

	// Initialize schema
	if err := history.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return history, nil
}

// initSchema creates tables and indices if they don't exist
func (h *History) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id INTEGER PRIMARY KEY AUTOINCREMENT,
		command TEXT NOT NULL,
		start_time TIMESTAMP NOT NULL,
		end_time TIMESTAMP NOT NULL,
		records_saved INTEGER DEFAULT 0,
		records_skipped INTEGER DEFAULT 0,
		pages_failed INTEGER DEFAULT 0,
		termination_reason TEXT,
		metrics TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_command ON runs(command);
	CREATE INDEX IF NOT EXISTS idx_runs_start ON runs(start_time);
	`

	_, err := h.db.Exec(schema)
	return err
}

// RecordRun stores a finished run and returns its id
func (h *History) RecordRun(m Metrics) (int, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal metrics: %w", err)
	}

	res, err := h.db.Exec(`
		INSERT INTO runs (command, start_time, end_time, records_saved, records_skipped, pages_failed, termination_reason, metrics)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, m.Command, m.StartTime.UTC(), m.EndTime.UTC(), m.RecordsSaved, m.RecordsSkipped, m.PagesFailed, m.TerminationReason, string(raw))
	if err != nil {
		return 0, fmt.Errorf("failed to insert run: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to retrieve run_id: %w", err)
	}
	return int(id), nil
}

// RecentRuns returns up to limit runs, newest first
func (h *History) RecentRuns(limit int) ([]Run, error) {
	rows, err := h.db.Query(`
		SELECT run_id, command, start_time, end_time, metrics
		FROM runs
		ORDER BY start_time DESC, run_id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		if err := rows.Scan(&run.RunID, &run.Command, &run.StartTime, &run.EndTime, &run.MetricsRaw); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// Metrics decodes the stored metrics snapshot of a run
func (r Run) Metrics() (Metrics, error) {
	var m Metrics
	if err := json.Unmarshal([]byte(r.MetricsRaw), &m); err != nil {
		return m, fmt.Errorf("failed to decode metrics for run %d: %w", r.RunID, err)
	}
	return m, nil
}

// Duration returns how long the run took
func (r Run) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// Close closes the database connection
func (h *History) Close() error {
	return h.db.Close()
}

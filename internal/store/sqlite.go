package store

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
)

type DB struct {
	*sql.DB
}

// Open creates the telemetry database and its schema. Timestamps are stored as
// unix milliseconds. Primary keys are ULIDs assigned by the caller, so replayed inserts are idempotent via OR IGNORE.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS runs(
		run_id TEXT PRIMARY KEY,
		started_at INTEGER NOT NULL,
		finished_at INTEGER,
		model_id TEXT NOT NULL,
		host TEXT NOT NULL,
		notes TEXT
	)`); err != nil {
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS samples(
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL REFERENCES runs(run_id),
		ts INTEGER NOT NULL,
		window_sec INTEGER NOT NULL,
		concurrency INTEGER NOT NULL,
		queue_depth INTEGER NOT NULL,
		throughput_rps REAL NOT NULL,
		p50_ms INTEGER NOT NULL,
		p95_ms INTEGER NOT NULL,
		error_rate REAL NOT NULL,
		tokens_in INTEGER NOT NULL,
		tokens_out INTEGER NOT NULL
	)`); err != nil {
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS jobs(
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL REFERENCES runs(run_id),
		started_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL,
		latency_ms INTEGER NOT NULL,
		model_id TEXT NOT NULL,
		prompt_tokens INTEGER NOT NULL,
		completion_tokens INTEGER NOT NULL,
		http_status INTEGER,
		error_text TEXT
	)`); err != nil {
		db.Close()
		return nil, err
	}

	return &DB{db}, nil
}

package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:flowguard.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &sqliteStore{baseStore{db: db, placeholder: func(int) string { return "?" }}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.exec(ctx, []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			ranks INTEGER NOT NULL,
			total_verdicts INTEGER NOT NULL,
			max_latency_sec REAL NOT NULL,
			comm_overhead_sec REAL NOT NULL,
			throughput REAL NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS run_workers (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL REFERENCES runs(run_id),
			rank INTEGER NOT NULL,
			verdicts INTEGER NOT NULL,
			skipped INTEGER NOT NULL,
			latency_sec REAL NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_run_workers_run ON run_workers(run_id)`,
	})
}

package storage

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/flowguard?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db, placeholder: func(n int) string { return "$" + strconv.Itoa(n) }}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.exec(ctx, []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			started_at TIMESTAMPTZ NOT NULL,
			ranks INTEGER NOT NULL,
			total_verdicts BIGINT NOT NULL,
			max_latency_sec DOUBLE PRECISION NOT NULL,
			comm_overhead_sec DOUBLE PRECISION NOT NULL,
			throughput DOUBLE PRECISION NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS run_workers (
			id BIGSERIAL PRIMARY KEY,
			run_id TEXT NOT NULL REFERENCES runs(run_id),
			rank INTEGER NOT NULL,
			verdicts BIGINT NOT NULL,
			skipped BIGINT NOT NULL,
			latency_sec DOUBLE PRECISION NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_run_workers_run ON run_workers(run_id)`,
	})
}

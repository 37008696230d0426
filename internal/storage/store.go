package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"flowguard/internal/config"
	"flowguard/internal/model"
)

// Store keeps a history of detection runs.
type Store interface {
	Init(ctx context.Context) error
	Close() error
	SaveRun(ctx context.Context, run model.RunMetrics, workers []model.WorkerStats) error
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, errors.New("unsupported storage driver")
	}
}

type baseStore struct {
	db *sql.DB
	// placeholder renders the n-th (1-based) bind parameter.
	placeholder func(n int) string
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func (b *baseStore) exec(ctx context.Context, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (b *baseStore) SaveRun(ctx context.Context, run model.RunMetrics, workers []model.WorkerStats) error {
	if b.db == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	started := run.StartedAt
	if started.IsZero() {
		started = nowUTC()
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	p := b.placeholder
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, started_at, ranks, total_verdicts, max_latency_sec, comm_overhead_sec, throughput)
		VALUES (`+p(1)+`, `+p(2)+`, `+p(3)+`, `+p(4)+`, `+p(5)+`, `+p(6)+`, `+p(7)+`)`,
		run.RunID,
		started.UTC(),
		run.Ranks,
		run.TotalVerdicts,
		run.MaxLatency,
		run.CommOverhead,
		run.Throughput,
	); err != nil {
		_ = tx.Rollback()
		return err
	}
	if len(workers) > 0 {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO run_workers (run_id, rank, verdicts, skipped, latency_sec)
			VALUES (`+p(1)+`, `+p(2)+`, `+p(3)+`, `+p(4)+`, `+p(5)+`)`)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		defer stmt.Close()
		for _, w := range workers {
			if _, err := stmt.ExecContext(ctx, run.RunID, w.Rank, w.Verdicts, w.Skipped, w.Latency.Seconds()); err != nil {
				_ = tx.Rollback()
				return err
			}
		}
	}
	return tx.Commit()
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

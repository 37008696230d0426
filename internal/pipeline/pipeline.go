// Package pipeline holds the per-rank programs for each phase of a run:
// preprocess, detect, block and report. Every worker runs the same program;
// its rank decides which share of the work it owns.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"flowguard/internal/blocking"
	"flowguard/internal/clean"
	"flowguard/internal/cluster"
	"flowguard/internal/config"
	"flowguard/internal/detect"
	"flowguard/internal/logging"
	"flowguard/internal/metrics"
	"flowguard/internal/model"
	"flowguard/internal/partition"
	"flowguard/internal/report"
	"flowguard/internal/storage"
)

type Pipeline struct {
	cfg     *config.Config
	logger  *slog.Logger
	console io.Writer
	store   storage.Store
}

// New builds a pipeline. store may be nil when run history is disabled and
// console may be nil to suppress the human-readable summaries.
func New(cfg *config.Config, logger *slog.Logger, console io.Writer, store storage.Store) *Pipeline {
	if console == nil {
		console = io.Discard
	}
	return &Pipeline{cfg: cfg, logger: logger, console: console, store: store}
}

// Run executes every phase in order and stops at the first failure.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.Preprocess(ctx); err != nil {
		return fmt.Errorf("preprocess: %w", err)
	}
	if _, err := p.Detect(ctx); err != nil {
		return fmt.Errorf("detect: %w", err)
	}
	if err := p.Block(ctx); err != nil {
		return fmt.Errorf("block: %w", err)
	}
	if _, err := p.Report(ctx); err != nil {
		return fmt.Errorf("report: %w", err)
	}
	return nil
}

// Preprocess cleans the raw dataset in contiguous ranges and merges the
// slices into the cleaned dataset.
func (p *Pipeline) Preprocess(ctx context.Context) error {
	return cluster.Run(ctx, p.cfg.Workers, func(ctx context.Context, c *cluster.Comm) error {
		logger := logging.ForRank(p.logger, c.Rank())
		paths := p.cfg.Paths
		cleaner := clean.NewCleaner(p.cfg.Cleaning.MaxValue, logger)

		var idx model.PartitionIndex
		if c.IsRoot() {
			var err error
			if idx, err = p.indexRawInput(c.Size()); err != nil {
				return err
			}
		}
		idx, err := cluster.Broadcast(ctx, c, cluster.Root, idx)
		if err != nil {
			return err
		}

		if _, err := cleaner.CleanRange(ctx, paths.RawInput, idx, c.Rank(), c.Size(), paths.ScratchDir); err != nil {
			return err
		}
		if err := c.Barrier(ctx); err != nil {
			return err
		}
		if !c.IsRoot() {
			return nil
		}
		if err := clean.Merge(idx.Header, paths.ScratchDir, c.Size(), paths.CleanedFile); err != nil {
			return err
		}
		if logger != nil {
			logger.Info("Preprocessing complete", "rows", idx.TotalRows, "workers", c.Size(), "output", paths.CleanedFile)
		}
		return nil
	})
}

func (p *Pipeline) indexRawInput(workers int) (model.PartitionIndex, error) {
	paths := p.cfg.Paths
	for _, dir := range []string{filepath.Dir(paths.CleanedFile), paths.ScratchDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return model.PartitionIndex{}, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return partition.IndexFile(paths.RawInput, workers)
}

// Detect scores the interleaved share of the cleaned dataset on every rank,
// reduces the stats at the root and reports the run metrics.
func (p *Pipeline) Detect(ctx context.Context) (model.RunMetrics, error) {
	startedAt := time.Now()
	var summary model.RunMetrics
	err := cluster.Run(ctx, p.cfg.Workers, func(ctx context.Context, c *cluster.Comm) error {
		logger := logging.ForRank(p.logger, c.Rank())
		resultsDir := p.cfg.Paths.ResultsDir
		if c.IsRoot() {
			if err := os.MkdirAll(resultsDir, 0o755); err != nil {
				return fmt.Errorf("create %s: %w", resultsDir, err)
			}
		}
		if err := c.Barrier(ctx); err != nil {
			return err
		}

		start := time.Now()
		stats, err := p.detectShare(ctx, c.Rank(), c.Size(), logger)
		if err != nil {
			return err
		}
		stats.Latency = time.Since(start)
		if logger != nil {
			logger.Info("detection finished",
				"verdicts", stats.Verdicts,
				"skipped", stats.Skipped,
				"latency_sec", stats.Latency.Seconds(),
			)
		}

		m, ok, err := metrics.Reduce(ctx, c, stats)
		if err != nil {
			return err
		}
		workers, err := cluster.Gather(ctx, c, cluster.Root, stats)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		m.RunID = uuid.NewString()
		m.StartedAt = startedAt
		if err := metrics.Print(p.console, m); err != nil {
			return err
		}
		if err := metrics.WriteFile(metrics.Path(resultsDir), m); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
		p.saveRun(ctx, m, workers, logger)
		summary = m
		return nil
	})
	return summary, err
}

func (p *Pipeline) detectShare(ctx context.Context, rank, workers int, logger *slog.Logger) (model.WorkerStats, error) {
	in, err := os.Open(p.cfg.Paths.CleanedFile)
	if err != nil {
		return model.WorkerStats{Rank: rank}, fmt.Errorf("open cleaned dataset: %w", err)
	}
	defer in.Close()

	out, err := detect.CreateResultFile(detect.ResultPath(p.cfg.Paths.ResultsDir, rank))
	if err != nil {
		return model.WorkerStats{Rank: rank}, err
	}
	d := detect.NewDetector(detect.Options{
		WindowSize: p.cfg.Detection.WindowSize,
		DriftRatio: p.cfg.Detection.CUSUMDriftRatio,
	}, out, logger)
	stats, err := d.Scan(ctx, in, rank, workers)
	if cerr := out.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close results: %w", cerr)
	}
	return stats, err
}

// saveRun records the run in the history store. The artifacts are already on
// disk, so a failure here is only logged.
func (p *Pipeline) saveRun(ctx context.Context, m model.RunMetrics, workers []model.WorkerStats, logger *slog.Logger) {
	if p.store == nil {
		return
	}
	if err := p.store.SaveRun(ctx, m, workers); err != nil {
		if logger != nil {
			logger.Warn("store run failed", "run_id", m.RunID, "error", err)
		}
		return
	}
	if logger != nil {
		logger.Debug("run stored", "run_id", m.RunID)
	}
}

// Block writes simulated blocking rules for every rank's detection results.
func (p *Pipeline) Block(ctx context.Context) error {
	return cluster.Run(ctx, p.cfg.Workers, func(ctx context.Context, c *cluster.Comm) error {
		logger := logging.ForRank(p.logger, c.Rank())
		paths := p.cfg.Paths
		if c.IsRoot() {
			if err := os.MkdirAll(paths.BlockingDir, 0o755); err != nil {
				return fmt.Errorf("create %s: %w", paths.BlockingDir, err)
			}
		}
		if err := c.Barrier(ctx); err != nil {
			return err
		}
		ips := blocking.NewIPSet()
		if err := blocking.LoadDetected(detect.ResultPath(paths.ResultsDir, c.Rank()), ips); err != nil {
			return fmt.Errorf("load detection results: %w", err)
		}
		if err := blocking.WriteRules(paths.BlockingDir, c.Rank(), ips.List()); err != nil {
			return err
		}
		if logger != nil {
			logger.Info("blocking rules written", "unique_ips", ips.Len())
		}
		return nil
	})
}

// Report evaluates the blocking rules against the detections and writes the
// final report. It runs on the calling goroutine only.
func (p *Pipeline) Report(ctx context.Context) (report.Summary, error) {
	if err := ctx.Err(); err != nil {
		return report.Summary{}, err
	}
	paths := p.cfg.Paths
	s, err := report.Write(report.Sources{
		ResultsDir:      paths.ResultsDir,
		BlockingDir:     paths.BlockingDir,
		MetricsFile:     metrics.Path(paths.ResultsDir),
		ModelEvaluation: paths.ModelEvaluation,
		Output:          paths.FinalReport,
	}, p.console)
	if err != nil {
		return report.Summary{}, err
	}
	if p.logger != nil {
		p.logger.Info("final evaluation written",
			"detected", s.Detected,
			"blocked", s.Blocked,
			"effectiveness_pct", s.Effectiveness,
			"output", paths.FinalReport,
		)
	}
	return s, nil
}

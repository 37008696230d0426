// Package cli wires the pipeline phases to the flowguard command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"flowguard/internal/config"
	"flowguard/internal/logging"
	"flowguard/internal/pipeline"
	"flowguard/internal/storage"
)

type app struct {
	configPath string
	workers    int
	logLevel   string

	stdout io.Writer
	stderr io.Writer
}

func NewRootCommand() *cobra.Command {
	return NewRootCommandWithIO(os.Stdout, os.Stderr)
}

// NewRootCommandWithIO sends console summaries to out and structured logs to
// errOut.
func NewRootCommandWithIO(out, errOut io.Writer) *cobra.Command {
	a := &app{stdout: out, stderr: errOut}
	cmd := &cobra.Command{
		Use:           "flowguard",
		Short:         "Partition, clean and scan flow records for anomalies",
		Long:          "flowguard cleans a flow-record dataset across a group of workers, scans it with a windowed CUSUM detector and derives simulated blocking rules from the detections.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&a.configPath, "config", "", "path to a YAML or JSON config file")
	cmd.PersistentFlags().IntVar(&a.workers, "workers", 0, "number of workers (overrides config)")
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "debug, info, warn or error (overrides config)")

	cmd.AddCommand(
		a.phaseCmd("preprocess", "Clean the raw dataset into the cleaned dataset", func(ctx context.Context, p *pipeline.Pipeline) error {
			return p.Preprocess(ctx)
		}),
		a.phaseCmd("detect", "Scan the cleaned dataset and report detection metrics", func(ctx context.Context, p *pipeline.Pipeline) error {
			_, err := p.Detect(ctx)
			return err
		}),
		a.phaseCmd("block", "Write blocking rules from the detection results", func(ctx context.Context, p *pipeline.Pipeline) error {
			return p.Block(ctx)
		}),
		a.phaseCmd("report", "Write the final evaluation", func(ctx context.Context, p *pipeline.Pipeline) error {
			_, err := p.Report(ctx)
			return err
		}),
		a.phaseCmd("run", "Run every phase in order", func(ctx context.Context, p *pipeline.Pipeline) error {
			return p.Run(ctx)
		}),
	)
	return cmd
}

func (a *app) phaseCmd(use, short string, phase func(context.Context, *pipeline.Pipeline) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			logger := logging.NewLoggerTo(a.stderr, cfg.LogLevel)
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			store, err := openStore(ctx, cfg.Storage, logger)
			if err != nil {
				return err
			}
			if store != nil {
				defer store.Close()
			}
			p := pipeline.New(cfg, logger, a.stdout, store)
			if err := phase(ctx, p); err != nil {
				logger.Error("phase failed", "phase", use, "error", err)
				return err
			}
			return nil
		},
	}
}

func (a *app) loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOrDefault(a.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if a.workers > 0 {
		cfg.Workers = a.workers
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	return cfg, nil
}

// openStore returns nil when run history is disabled.
func openStore(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (storage.Store, error) {
	store, err := storage.NewStore(cfg)
	if err != nil || store == nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("init %s store: %w", cfg.Driver, err)
	}
	logger.Debug("run history enabled", "driver", cfg.Driver)
	return store, nil
}

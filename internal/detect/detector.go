package detect

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"

	"flowguard/internal/model"
	"flowguard/internal/partition"
)

const (
	DefaultWindowSize = 1000
	DefaultDriftRatio = 0.1
)

type Options struct {
	WindowSize int
	DriftRatio float64
}

type VerdictWriter interface {
	WriteVerdict(v model.Verdict) error
}

// Detector turns one worker's share of flows into per-window verdicts. One
// Detector is built per worker and lives for the whole scan so that CUSUM
// state carries across windows.
type Detector struct {
	window   *Window
	cusum    *CUSUM
	out      VerdictWriter
	verdicts int
	logger   *slog.Logger
}

func NewDetector(opts Options, out VerdictWriter, logger *slog.Logger) *Detector {
	return &Detector{
		window: NewWindow(opts.WindowSize),
		cusum:  NewCUSUM(opts.DriftRatio),
		out:    out,
		logger: logger,
	}
}

// Push feeds one flow into the current window and flushes it once full.
func (d *Detector) Push(rec model.FlowRecord) error {
	d.window.Add(float64(rec.SrcPort+rec.DstPort), rec)
	if d.window.Full() {
		return d.flush()
	}
	return nil
}

// Close flushes a partially filled window, even one holding a single sample.
func (d *Detector) Close() error {
	if d.window.Len() == 0 {
		return nil
	}
	return d.flush()
}

func (d *Detector) Verdicts() int {
	return d.verdicts
}

func (d *Detector) flush() error {
	v := d.evaluate()
	if d.out != nil {
		if err := d.out.WriteVerdict(v); err != nil {
			return fmt.Errorf("write verdict: %w", err)
		}
	}
	d.verdicts++
	if d.logger != nil && v.CUSUMFlag {
		d.logger.Debug("cusum drift", "src_ip", v.SrcIP, "dst_ip", v.DstIP, "window", d.verdicts)
	}
	d.window.Reset()
	return nil
}

func (d *Detector) evaluate() model.Verdict {
	mean := d.window.Mean()
	drift := false
	for _, sample := range d.window.Samples() {
		if d.cusum.Step(sample, mean) {
			drift = true
		}
	}
	return model.Verdict{
		SrcIP:           d.window.srcIP,
		DstIP:           d.window.dstIP,
		StatisticalFlag: statisticalFlag(drift),
		CUSUMFlag:       drift,
	}
}

// statisticalFlag has no test of its own behind it: it starts raised and is
// forced back on when CUSUM is quiet, so every verdict carries it.
func statisticalFlag(drift bool) bool {
	flag := true
	if !flag && !drift {
		flag = true
	}
	return flag
}

// Scan reads a cleaned dataset, skipping its header, and pushes every row the
// interleave policy assigns to rank. Rows that do not parse are counted in
// Skipped and otherwise ignored. The trailing partial window is flushed.
func (d *Detector) Scan(ctx context.Context, r io.Reader, rank, workers int) (model.WorkerStats, error) {
	stats := model.WorkerStats{Rank: rank}
	plan := partition.Plan{Policy: partition.Interleave, Workers: workers}
	br := bufio.NewReader(r)
	if _, err := br.ReadString('\n'); err != nil && err != io.EOF {
		return stats, fmt.Errorf("read header: %w", err)
	}
	var row int64
	for {
		line, err := br.ReadString('\n')
		if line == "" && err != nil {
			if err == io.EOF {
				break
			}
			return stats, fmt.Errorf("read row %d: %w", row, err)
		}
		if row%ctxCheckEvery == 0 {
			if cerr := ctx.Err(); cerr != nil {
				return stats, cerr
			}
		}
		owned := plan.Owns(row, rank)
		row++
		if !owned {
			continue
		}
		rec, ok := ParseFlow(partition.TrimEOL(line))
		if !ok {
			stats.Skipped++
			continue
		}
		if err := d.Push(rec); err != nil {
			return stats, err
		}
	}
	if err := d.Close(); err != nil {
		return stats, err
	}
	stats.Verdicts = d.verdicts
	return stats, nil
}

const ctxCheckEvery = 4096

package metrics

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"flowguard/internal/cluster"
	"flowguard/internal/model"
)

const FileName = "detection_metrics.txt"

func Path(resultsDir string) string {
	return filepath.Join(resultsDir, FileName)
}

// Throughput is verdicts per second of the slowest worker. A run whose
// latency is zero or not finite has no meaningful rate and reports 0.
func Throughput(total int, maxLatency float64) float64 {
	if maxLatency <= 0 || math.IsNaN(maxLatency) || math.IsInf(maxLatency, 0) {
		return 0
	}
	return float64(total) / maxLatency
}

func Summarize(ranks, total int, maxLatency, commOverhead float64) model.RunMetrics {
	return model.RunMetrics{
		Ranks:         ranks,
		TotalVerdicts: total,
		MaxLatency:    maxLatency,
		CommOverhead:  commOverhead,
		Throughput:    Throughput(total, maxLatency),
	}
}

// Reduce combines every worker's stats at the root: verdict counts are
// summed and latencies reduced by max. The time spent in the count reduction
// is reported as communication overhead. ok is true only on the root.
func Reduce(ctx context.Context, c *cluster.Comm, stats model.WorkerStats) (m model.RunMetrics, ok bool, err error) {
	commStart := time.Now()
	total, err := c.ReduceSumInt(ctx, cluster.Root, stats.Verdicts)
	if err != nil {
		return model.RunMetrics{}, false, fmt.Errorf("reduce verdict counts: %w", err)
	}
	comm := time.Since(commStart).Seconds()

	maxLatency, err := c.ReduceMaxFloat(ctx, cluster.Root, stats.Latency.Seconds())
	if err != nil {
		return model.RunMetrics{}, false, fmt.Errorf("reduce latencies: %w", err)
	}
	if !c.IsRoot() {
		return model.RunMetrics{}, false, nil
	}
	return Summarize(c.Size(), total, maxLatency, comm), true, nil
}

// Lines renders the labeled metric lines shared by the console and the
// metrics file.
func Lines(m model.RunMetrics) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Total MPI Ranks: %d\n", m.Ranks)
	fmt.Fprintf(&b, "Total Flows: %d\n", m.TotalVerdicts)
	fmt.Fprintf(&b, "Max Detection Latency (sec): %.4f\n", m.MaxLatency)
	fmt.Fprintf(&b, "MPI Communication Overhead (sec): %.6f\n", m.CommOverhead)
	fmt.Fprintf(&b, "Estimated Throughput (flows/sec): %.2f\n", m.Throughput)
	return b.String()
}

func Print(w io.Writer, m model.RunMetrics) error {
	_, err := fmt.Fprintf(w, "\n=== Detection Metrics ===\n%s", Lines(m))
	return err
}

func WriteFile(path string, m model.RunMetrics) error {
	return os.WriteFile(path, []byte(Lines(m)), 0o644)
}

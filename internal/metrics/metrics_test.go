package metrics

import (
	"bytes"
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"flowguard/internal/cluster"
	"flowguard/internal/model"
)

func TestThroughputGuard(t *testing.T) {
	cases := []struct {
		total   int
		latency float64
		want    float64
	}{
		{100, 2, 50},
		{100, 0, 0},
		{0, 0, 0},
		{5, -1, 0},
		{5, math.NaN(), 0},
		{5, math.Inf(1), 0},
	}
	for _, tc := range cases {
		got := Throughput(tc.total, tc.latency)
		if got != tc.want {
			t.Fatalf("Throughput(%d, %v) = %v want %v", tc.total, tc.latency, got, tc.want)
		}
	}
}

func TestReduceSumsCountsAndTakesMaxLatency(t *testing.T) {
	var got model.RunMetrics
	var roots int
	err := cluster.Run(context.Background(), 4, func(ctx context.Context, c *cluster.Comm) error {
		stats := model.WorkerStats{
			Rank:     c.Rank(),
			Verdicts: 10 * (c.Rank() + 1),
			Latency:  time.Duration(c.Rank()+1) * time.Second,
		}
		m, ok, err := Reduce(ctx, c, stats)
		if err != nil {
			return err
		}
		if ok {
			got = m
			roots++
		}
		return nil
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if roots != 1 {
		t.Fatalf("expected exactly one root result, got %d", roots)
	}
	if got.Ranks != 4 || got.TotalVerdicts != 100 || got.MaxLatency != 4 {
		t.Fatalf("unexpected metrics: %+v", got)
	}
	if got.Throughput != 25 {
		t.Fatalf("throughput: %v", got.Throughput)
	}
	if got.CommOverhead < 0 {
		t.Fatalf("comm overhead: %v", got.CommOverhead)
	}
}

func TestReduceZeroLatency(t *testing.T) {
	err := cluster.Run(context.Background(), 2, func(ctx context.Context, c *cluster.Comm) error {
		m, ok, err := Reduce(ctx, c, model.WorkerStats{Rank: c.Rank()})
		if err != nil {
			return err
		}
		if ok && (m.Throughput != 0 || m.TotalVerdicts != 0) {
			t.Errorf("degenerate run: %+v", m)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestPrintAndWriteFile(t *testing.T) {
	m := Summarize(2, 3, 1.5, 0.000123)
	var buf bytes.Buffer
	if err := Print(&buf, m); err != nil {
		t.Fatalf("print: %v", err)
	}
	want := "Total MPI Ranks: 2\n" +
		"Total Flows: 3\n" +
		"Max Detection Latency (sec): 1.5000\n" +
		"MPI Communication Overhead (sec): 0.000123\n" +
		"Estimated Throughput (flows/sec): 2.00\n"
	if !strings.HasPrefix(buf.String(), "\n=== Detection Metrics ===\n") || !strings.HasSuffix(buf.String(), want) {
		t.Fatalf("console output: %q", buf.String())
	}
	path := Path(t.TempDir())
	if filepath.Base(path) != FileName {
		t.Fatalf("path: %s", path)
	}
	if err := WriteFile(path, m); err != nil {
		t.Fatalf("write: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != want {
		t.Fatalf("file: %q", data)
	}
}

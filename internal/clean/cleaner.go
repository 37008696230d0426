package clean

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"flowguard/internal/model"
	"flowguard/internal/partition"
)

const ctxCheckEvery = 4096

func IntermediatePath(dir string, rank int) string {
	return filepath.Join(dir, fmt.Sprintf("processed_chunk_%d.csv", rank))
}

type Cleaner struct {
	sanitizer Sanitizer
	logger    *slog.Logger
}

func NewCleaner(maxValue float64, logger *slog.Logger) *Cleaner {
	return &Cleaner{sanitizer: NewSanitizer(maxValue), logger: logger}
}

// CleanRange sanitizes the rows of rank's contiguous range and writes them to
// the rank's intermediate file in scratchDir. It seeks straight to the range
// using the index offsets. Every rank except 0 starts its intermediate with
// the header line, which Merge drops again.
func (c *Cleaner) CleanRange(ctx context.Context, input string, idx model.PartitionIndex, rank, workers int, scratchDir string) (int64, error) {
	if rank < 0 || rank >= len(idx.Offsets) {
		return 0, fmt.Errorf("rank %d has no index offset", rank)
	}
	rng, err := partition.RangeFor(idx.TotalRows, workers, rank)
	if err != nil {
		return 0, err
	}

	in, err := os.Open(input)
	if err != nil {
		return 0, fmt.Errorf("open input: %w", err)
	}
	defer in.Close()
	if _, err := in.Seek(idx.Offsets[rank], io.SeekStart); err != nil {
		return 0, fmt.Errorf("seek to row %d: %w", rng.Start, err)
	}

	path := IntermediatePath(scratchDir, rank)
	out, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create intermediate %s: %w", path, err)
	}
	defer out.Close()
	w := bufio.NewWriter(out)
	if rank != 0 {
		if _, err := w.WriteString(idx.Header + "\n"); err != nil {
			return 0, err
		}
	}

	r := bufio.NewReader(in)
	var processed int64
	for processed < rng.Len() {
		if processed%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return processed, err
			}
		}
		line, readErr := r.ReadString('\n')
		if line == "" && readErr != nil {
			if readErr == io.EOF {
				break
			}
			return processed, fmt.Errorf("read row %d: %w", rng.Start+processed, readErr)
		}
		if _, err := w.WriteString(c.sanitizer.Line(partition.TrimEOL(line)) + "\n"); err != nil {
			return processed, fmt.Errorf("write intermediate: %w", err)
		}
		processed++
	}
	if err := w.Flush(); err != nil {
		return processed, fmt.Errorf("flush intermediate: %w", err)
	}
	if err := out.Close(); err != nil {
		return processed, fmt.Errorf("close intermediate: %w", err)
	}
	if c.logger != nil {
		c.logger.Debug("range cleaned", "start", rng.Start, "end", rng.End, "rows", processed, "path", path)
	}
	return processed, nil
}

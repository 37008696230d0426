// Package partition decides which rows of a dataset belong to which worker.
//
// Two policies are in use and they are deliberately not interchangeable:
// cleaning hands every worker one contiguous block of rows so the merged
// output keeps input order, while detection interleaves rows across workers so
// each worker's windows sample the whole file.
package partition

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"flowguard/internal/model"
)

type Policy int

const (
	Contiguous Policy = iota
	Interleave
)

func (p Policy) String() string {
	switch p {
	case Contiguous:
		return "contiguous"
	case Interleave:
		return "interleave"
	}
	return fmt.Sprintf("policy(%d)", int(p))
}

// Plan binds a policy to a worker count. Total is only consulted by the
// contiguous policy.
type Plan struct {
	Policy  Policy
	Workers int
	Total   int64
}

func (p Plan) Owns(row int64, rank int) bool {
	if p.Workers <= 0 || rank < 0 || rank >= p.Workers || row < 0 {
		return false
	}
	switch p.Policy {
	case Interleave:
		return row%int64(p.Workers) == int64(rank)
	case Contiguous:
		r, err := RangeFor(p.Total, p.Workers, rank)
		if err != nil {
			return false
		}
		return row >= r.Start && row < r.End
	}
	return false
}

// Ranges splits [0,total) into one contiguous range per worker. Every worker
// gets total/workers rows and the last one also takes the remainder.
func Ranges(total int64, workers int) ([]model.PartitionRange, error) {
	if workers <= 0 {
		return nil, fmt.Errorf("worker count must be > 0, got %d", workers)
	}
	if total < 0 {
		return nil, fmt.Errorf("total rows must be >= 0, got %d", total)
	}
	per := total / int64(workers)
	out := make([]model.PartitionRange, workers)
	for rank := 0; rank < workers; rank++ {
		start := int64(rank) * per
		end := start + per
		if rank == workers-1 {
			end = total
		}
		out[rank] = model.PartitionRange{Rank: rank, Start: start, End: end}
	}
	return out, nil
}

func RangeFor(total int64, workers, rank int) (model.PartitionRange, error) {
	if rank < 0 || rank >= workers {
		return model.PartitionRange{}, fmt.Errorf("rank %d out of range [0,%d)", rank, workers)
	}
	ranges, err := Ranges(total, workers)
	if err != nil {
		return model.PartitionRange{}, err
	}
	return ranges[rank], nil
}

var ErrNoHeader = errors.New("input has no header line")

// BuildIndex reads the header, counts data rows and records the byte offset
// of the first row of every worker's contiguous range. The reader is left at
// an unspecified position.
func BuildIndex(r io.ReadSeeker, workers int) (model.PartitionIndex, error) {
	if workers <= 0 {
		return model.PartitionIndex{}, fmt.Errorf("worker count must be > 0, got %d", workers)
	}
	br := bufio.NewReader(r)
	header, err := br.ReadString('\n')
	if header == "" {
		if err != nil && err != io.EOF {
			return model.PartitionIndex{}, fmt.Errorf("read header: %w", err)
		}
		return model.PartitionIndex{}, ErrNoHeader
	}
	var total int64
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			total++
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return model.PartitionIndex{}, fmt.Errorf("count rows: %w", err)
		}
	}

	ranges, err := Ranges(total, workers)
	if err != nil {
		return model.PartitionIndex{}, err
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return model.PartitionIndex{}, fmt.Errorf("rewind input: %w", err)
	}
	br.Reset(r)
	if _, err := br.ReadString('\n'); err != nil && err != io.EOF {
		return model.PartitionIndex{}, fmt.Errorf("reread header: %w", err)
	}

	offsets := make([]int64, workers)
	pos := int64(len(header))
	next := 0
	for row := int64(0); row < total && next < workers; row++ {
		for next < workers && ranges[next].Start == row {
			offsets[next] = pos
			next++
		}
		line, err := br.ReadString('\n')
		if err != nil && err != io.EOF {
			return model.PartitionIndex{}, fmt.Errorf("index rows: %w", err)
		}
		pos += int64(len(line))
	}
	// Ranges starting at total are empty and point past the last row.
	for ; next < workers; next++ {
		offsets[next] = pos
	}

	return model.PartitionIndex{
		Header:    TrimEOL(header),
		TotalRows: total,
		Offsets:   offsets,
	}, nil
}

func IndexFile(path string, workers int) (model.PartitionIndex, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.PartitionIndex{}, fmt.Errorf("open input: %w", err)
	}
	defer f.Close()
	return BuildIndex(f, workers)
}

// TrimEOL strips a trailing "\n" or "\r\n".
func TrimEOL(line string) string {
	line = strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(line, "\r")
}

package detect

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"flowguard/internal/model"
)

const ResultHeader = "source_ip,dest_ip,entropy_flag,cusum_flag"

// ResultGlob matches every per-rank result file in a results directory.
const ResultGlob = "det_rank*.csv"

func ResultPath(dir string, rank int) string {
	return filepath.Join(dir, fmt.Sprintf("det_rank%d.csv", rank))
}

// ResultFile writes verdicts as CSV rows with 0/1 flags.
type ResultFile struct {
	f *os.File
	w *bufio.Writer
}

func CreateResultFile(path string) (*ResultFile, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create result file: %w", err)
	}
	w := bufio.NewWriter(f)
	if _, err := w.WriteString(ResultHeader + "\n"); err != nil {
		f.Close()
		return nil, err
	}
	return &ResultFile{f: f, w: w}, nil
}

func (r *ResultFile) WriteVerdict(v model.Verdict) error {
	_, err := fmt.Fprintf(r.w, "%s,%s,%d,%d\n", v.SrcIP, v.DstIP, flagBit(v.StatisticalFlag), flagBit(v.CUSUMFlag))
	return err
}

func (r *ResultFile) Close() error {
	if err := r.w.Flush(); err != nil {
		r.f.Close()
		return err
	}
	return r.f.Close()
}

func flagBit(b bool) int {
	if b {
		return 1
	}
	return 0
}

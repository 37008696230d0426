package clean

import (
	"bufio"
	"fmt"
	"io"
	"os"
)

// Merge writes header once and then the intermediates of ranks 0..workers-1
// in rank order, dropping the leading header line of every rank but 0.
// Intermediates are removed once copied. It must only run after every rank
// has finished writing.
func Merge(header, scratchDir string, workers int, output string) error {
	final, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("create cleaned output: %w", err)
	}
	defer final.Close()
	w := bufio.NewWriter(final)
	if _, err := w.WriteString(header + "\n"); err != nil {
		return err
	}
	for rank := 0; rank < workers; rank++ {
		if err := appendChunk(w, IntermediatePath(scratchDir, rank), rank != 0); err != nil {
			return fmt.Errorf("merge rank %d: %w", rank, err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush cleaned output: %w", err)
	}
	return final.Close()
}

func appendChunk(w *bufio.Writer, path string, skipHeader bool) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	r := bufio.NewReader(f)
	if skipHeader {
		if _, err := r.ReadString('\n'); err != nil && err != io.EOF {
			f.Close()
			return err
		}
	}
	if _, err := io.Copy(w, r); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Remove(path)
}

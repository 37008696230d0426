// Package report produces the final evaluation that compares the addresses
// flagged by detection against the addresses covered by blocking rules.
package report

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"flowguard/internal/blocking"
	"flowguard/internal/detect"
)

const Banner = "=== FINAL EVALUATION ==="

// Sources names the inputs and output of one evaluation.
type Sources struct {
	ResultsDir      string
	BlockingDir     string
	MetricsFile     string
	ModelEvaluation string
	Output          string
}

type Summary struct {
	Detected      int     `json:"detected"`
	Blocked       int     `json:"blocked"`
	Effective     int     `json:"effective"`
	Effectiveness float64 `json:"effectiveness_pct"`
	Collateral    float64 `json:"collateral_pct"`
}

// Evaluate loads detected and blocked addresses and scores the rules.
func Evaluate(resultsDir, blockingDir string) (Summary, error) {
	detected, err := loadDetected(resultsDir)
	if err != nil {
		return Summary{}, err
	}
	blocked, err := loadBlocked(blockingDir)
	if err != nil {
		return Summary{}, err
	}
	s := Summary{Detected: detected.Len(), Blocked: blocked.Len()}
	for _, ip := range blocked.List() {
		if detected.Contains(ip) {
			s.Effective++
		}
	}
	if s.Blocked > 0 {
		s.Effectiveness = float64(s.Effective) / float64(s.Blocked) * 100
		s.Collateral = float64(s.Blocked-s.Effective) / float64(s.Blocked) * 100
	}
	return s, nil
}

func loadDetected(dir string) (*blocking.IPSet, error) {
	set := blocking.NewIPSet()
	paths, err := filepath.Glob(filepath.Join(dir, detect.ResultGlob))
	if err != nil {
		return nil, err
	}
	for _, path := range paths {
		if err := blocking.LoadDetected(path, set); err != nil {
			return nil, fmt.Errorf("load detections: %w", err)
		}
	}
	return set, nil
}

func loadBlocked(dir string) (*blocking.IPSet, error) {
	set := blocking.NewIPSet()
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return set, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read blocking dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !blocking.IsRuleFile(entry.Name()) {
			continue
		}
		if err := blocking.LoadBlocked(filepath.Join(dir, entry.Name()), set); err != nil {
			return nil, fmt.Errorf("load rules: %w", err)
		}
	}
	return set, nil
}

// Render formats the summary followed by the detection metrics and the model
// evaluation. Missing attachments are noted inline instead of failing.
func Render(s Summary, metricsFile, modelEvaluation string) []byte {
	var b bytes.Buffer
	fmt.Fprintln(&b, Banner)
	fmt.Fprintf(&b, "Detected Attack IPs: %d\n", s.Detected)
	fmt.Fprintf(&b, "Blocked IPs: %d\n", s.Blocked)
	fmt.Fprintf(&b, "Blocking Effectiveness: %.2f%%\n", s.Effectiveness)
	fmt.Fprintf(&b, "Collateral Damage: %.2f%%\n\n", s.Collateral)
	b.WriteString("--- Detection Evaluation ---\n")
	attach(&b, metricsFile)
	b.WriteString("\n--- ML Model Evaluation ---\n")
	attach(&b, modelEvaluation)
	return b.Bytes()
}

func attach(b *bytes.Buffer, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(b, "File not found: %s\n", path)
		return
	}
	b.Write(data)
}

// Write evaluates src, writes the report to src.Output and echoes it to console.
func Write(src Sources, console io.Writer) (Summary, error) {
	s, err := Evaluate(src.ResultsDir, src.BlockingDir)
	if err != nil {
		return Summary{}, err
	}
	out := Render(s, src.MetricsFile, src.ModelEvaluation)
	if err := os.WriteFile(src.Output, out, 0o644); err != nil {
		return Summary{}, fmt.Errorf("write %s: %w", src.Output, err)
	}
	if console != nil {
		if _, err := console.Write(out); err != nil {
			return Summary{}, err
		}
		fmt.Fprintln(console)
	}
	return s, nil
}

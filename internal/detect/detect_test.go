package detect

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"flowguard/internal/model"
)

type collector struct {
	verdicts []model.Verdict
}

func (c *collector) WriteVerdict(v model.Verdict) error {
	c.verdicts = append(c.verdicts, v)
	return nil
}

func flow(i, src, dst int) model.FlowRecord {
	return model.FlowRecord{
		FlowID:  fmt.Sprintf("f%d", i),
		SrcIP:   fmt.Sprintf("10.0.0.%d", i%256),
		SrcPort: src,
		DstIP:   "192.168.1.1",
		DstPort: dst,
	}
}

func cleanedDataset(rows int) string {
	var b strings.Builder
	b.WriteString("Flow ID,Src IP,Src Port,Dst IP,Dst Port,Protocol,Timestamp,F1,Label\n")
	for i := 0; i < rows; i++ {
		fmt.Fprintf(&b, "f%d,10.0.%d.%d,%d,192.168.1.1,443,6,ts,1.000000,BENIGN\n", i, i/256, i%256, 1024+i%97)
	}
	return b.String()
}

func TestParseFlow(t *testing.T) {
	rec, ok := ParseFlow("f1, 10.0.0.1, 443,10.0.0.2,  80,6,2017-07-07 10:00,1.000000,BENIGN")
	if !ok {
		t.Fatalf("expected row to parse")
	}
	if rec.SrcIP != "10.0.0.1" || rec.SrcPort != 443 || rec.DstPort != 80 || rec.Protocol != 6 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.Timestamp != "2017-07-07 10:00" {
		t.Fatalf("timestamp: %q", rec.Timestamp)
	}

	rejects := []string{
		"",
		"f1,10.0.0.1,443,10.0.0.2,80,6",
		"f1,10.0.0.1,443,10.0.0.2,80,6,",
		"f1,,443,10.0.0.2,80,6,ts",
		"f1,10.0.0.1,http,10.0.0.2,80,6,ts",
		"f1,10.0.0.1,443.5,10.0.0.2,80,6,ts",
		",10.0.0.1,443,10.0.0.2,80,6,ts",
		"f1,10.0.0.1,443,10.0.0.2,80,-,ts",
	}
	for _, line := range rejects {
		if _, ok := ParseFlow(line); ok {
			t.Fatalf("expected %q to be rejected", line)
		}
	}
}

func TestProperty_WindowFlushCadence(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("size*k + r samples yield k + (r>0) verdicts", prop.ForAll(
		func(size, k, r int) bool {
			r = r % size
			out := &collector{}
			d := NewDetector(Options{WindowSize: size}, out, nil)
			n := size*k + r
			for i := 0; i < n; i++ {
				if err := d.Push(flow(i, 1000+i%13, 80)); err != nil {
					return false
				}
			}
			if err := d.Close(); err != nil {
				return false
			}
			want := k
			if r > 0 {
				want++
			}
			return d.Verdicts() == want && len(out.verdicts) == want
		},
		gen.IntRange(1, 50),
		gen.IntRange(0, 6),
		gen.IntRange(0, 49),
	))

	properties.Property("statistical flag is set on every verdict", prop.ForAll(
		func(ports []int) bool {
			out := &collector{}
			d := NewDetector(Options{WindowSize: 7}, out, nil)
			for i, p := range ports {
				if err := d.Push(flow(i, p, 0)); err != nil {
					return false
				}
			}
			if err := d.Close(); err != nil {
				return false
			}
			for _, v := range out.verdicts {
				if !v.StatisticalFlag {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 65535)),
	))

	properties.TestingRun(t)
}

func TestVerdictAttributedToLastRecord(t *testing.T) {
	out := &collector{}
	d := NewDetector(Options{WindowSize: 3}, out, nil)
	for i := 1; i <= 4; i++ {
		if err := d.Push(flow(i, 100, 100)); err != nil {
			t.Fatalf("push: %v", err)
		}
	}
	if err := d.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if len(out.verdicts) != 2 {
		t.Fatalf("verdicts: %d", len(out.verdicts))
	}
	if out.verdicts[0].SrcIP != "10.0.0.3" || out.verdicts[1].SrcIP != "10.0.0.4" {
		t.Fatalf("attribution: %+v", out.verdicts)
	}
}

func TestSingleSampleWindowIsFlushed(t *testing.T) {
	out := &collector{}
	d := NewDetector(Options{WindowSize: 1000}, out, nil)
	if err := d.Push(flow(1, 50, 50)); err != nil {
		t.Fatalf("push: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if len(out.verdicts) != 1 {
		t.Fatalf("verdicts: %d", len(out.verdicts))
	}
	// A lone sample equals its own mean, so CUSUM stays quiet.
	if out.verdicts[0].CUSUMFlag || !out.verdicts[0].StatisticalFlag {
		t.Fatalf("flags: %+v", out.verdicts[0])
	}
}

func TestCUSUMCarriesAcrossWindows(t *testing.T) {
	out := &collector{}
	d := NewDetector(Options{WindowSize: 3, DriftRatio: 0.1}, out, nil)
	// First window trips twice and leaves a residual sum of 4.
	for i, s := range []int{40, 60, 56, 10, 10, 10} {
		if err := d.Push(flow(i, s, 0)); err != nil {
			t.Fatalf("push: %v", err)
		}
	}
	if len(out.verdicts) != 2 {
		t.Fatalf("verdicts: %d", len(out.verdicts))
	}
	if !out.verdicts[0].CUSUMFlag {
		t.Fatalf("first window should drift")
	}
	if !out.verdicts[1].CUSUMFlag {
		t.Fatalf("second window should drift from the carried sum")
	}

	fresh := &collector{}
	d2 := NewDetector(Options{WindowSize: 3, DriftRatio: 0.1}, fresh, nil)
	for i := 0; i < 3; i++ {
		if err := d2.Push(flow(i, 10, 0)); err != nil {
			t.Fatalf("push: %v", err)
		}
	}
	if fresh.verdicts[0].CUSUMFlag {
		t.Fatalf("a constant window on a fresh detector must not drift")
	}
}

func TestCUSUMStep(t *testing.T) {
	c := NewCUSUM(0.1)
	if c.Step(10, 10) {
		t.Fatalf("no deviation must not trip")
	}
	if !c.Step(20, 10) {
		t.Fatalf("deviation 10 over threshold 1 must trip")
	}
	if c.Sum() != 0 {
		t.Fatalf("sum must reset after tripping, got %v", c.Sum())
	}
	if c.Step(10.5, 10) || c.Sum() != 0.5 {
		t.Fatalf("small deviation accumulates, sum=%v", c.Sum())
	}
}

func TestScanFifteenHundredRowsOneWorker(t *testing.T) {
	out := &collector{}
	d := NewDetector(Options{WindowSize: 1000}, out, nil)
	stats, err := d.Scan(context.Background(), strings.NewReader(cleanedDataset(1500)), 0, 1)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if stats.Verdicts != 2 || len(out.verdicts) != 2 {
		t.Fatalf("verdicts: %d", stats.Verdicts)
	}
	if out.verdicts[1].SrcIP != "10.0.5.219" {
		t.Fatalf("partial window attribution: %s", out.verdicts[1].SrcIP)
	}
}

func TestScanInterleavesRows(t *testing.T) {
	data := cleanedDataset(10)
	total := 0
	for rank := 0; rank < 3; rank++ {
		out := &collector{}
		d := NewDetector(Options{WindowSize: 2}, out, nil)
		stats, err := d.Scan(context.Background(), strings.NewReader(data), rank, 3)
		if err != nil {
			t.Fatalf("scan rank %d: %v", rank, err)
		}
		if stats.Verdicts != 2 {
			t.Fatalf("rank %d verdicts: %d", rank, stats.Verdicts)
		}
		total += stats.Verdicts
		if rank == 0 && out.verdicts[1].SrcIP != "10.0.0.9" {
			t.Fatalf("rank 0 last window should end on row 9, got %s", out.verdicts[1].SrcIP)
		}
	}
	if total != 6 {
		t.Fatalf("total verdicts: %d", total)
	}
}

func TestScanSkipsMalformedRows(t *testing.T) {
	data := "h\n" +
		"f0,10.0.0.1,80,10.0.0.2,443,6,ts\n" +
		"broken,row\n" +
		"f2,10.0.0.3,http,10.0.0.2,443,6,ts\n" +
		"f3,10.0.0.4,81,10.0.0.2,443,6,ts\n"
	out := &collector{}
	d := NewDetector(Options{WindowSize: 10}, out, nil)
	stats, err := d.Scan(context.Background(), strings.NewReader(data), 0, 1)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if stats.Skipped != 2 || stats.Verdicts != 1 {
		t.Fatalf("stats: %+v", stats)
	}
	if out.verdicts[0].SrcIP != "10.0.0.4" {
		t.Fatalf("attribution: %+v", out.verdicts[0])
	}
}

func TestScanEmptyDataset(t *testing.T) {
	d := NewDetector(Options{}, &collector{}, nil)
	stats, err := d.Scan(context.Background(), strings.NewReader("h\n"), 0, 2)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if stats.Verdicts != 0 {
		t.Fatalf("verdicts: %d", stats.Verdicts)
	}
}

func TestResultFileFormat(t *testing.T) {
	path := ResultPath(t.TempDir(), 3)
	if filepath.Base(path) != "det_rank3.csv" {
		t.Fatalf("path: %s", path)
	}
	rf, err := CreateResultFile(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := rf.WriteVerdict(model.Verdict{SrcIP: "1.1.1.1", DstIP: "2.2.2.2", StatisticalFlag: true}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := rf.WriteVerdict(model.Verdict{SrcIP: "3.3.3.3", DstIP: "4.4.4.4", StatisticalFlag: true, CUSUMFlag: true}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := rf.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want := "source_ip,dest_ip,entropy_flag,cusum_flag\n1.1.1.1,2.2.2.2,1,0\n3.3.3.3,4.4.4.4,1,1\n"
	if string(data) != want {
		t.Fatalf("got %q want %q", data, want)
	}
}

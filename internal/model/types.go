package model

import "time"

// LeadingColumns is the number of identifier columns ahead of the numeric
// features: flow id, source ip, source port, destination ip, destination port,
// protocol and timestamp.
const LeadingColumns = 7

type FlowRecord struct {
	FlowID    string
	SrcIP     string
	SrcPort   int
	DstIP     string
	DstPort   int
	Protocol  int
	Timestamp string
}

type PartitionRange struct {
	Rank  int   `json:"rank"`
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

func (r PartitionRange) Len() int64 {
	return r.End - r.Start
}

type PartitionIndex struct {
	Header    string  `json:"header"`
	TotalRows int64   `json:"total_rows"`
	Offsets   []int64 `json:"offsets"`
}

type Verdict struct {
	SrcIP           string `json:"src_ip"`
	DstIP           string `json:"dst_ip"`
	StatisticalFlag bool   `json:"statistical_flag"`
	CUSUMFlag       bool   `json:"cusum_flag"`
}

type WorkerStats struct {
	Rank     int           `json:"rank"`
	Verdicts int           `json:"verdicts"`
	Skipped  int           `json:"skipped"`
	Latency  time.Duration `json:"latency"`
}

type RunMetrics struct {
	RunID         string    `json:"run_id"`
	StartedAt     time.Time `json:"started_at"`
	Ranks         int       `json:"ranks"`
	TotalVerdicts int       `json:"total_verdicts"`
	MaxLatency    float64   `json:"max_latency_sec"`
	CommOverhead  float64   `json:"comm_overhead_sec"`
	Throughput    float64   `json:"throughput"`
}

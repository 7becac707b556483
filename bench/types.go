// Package bench holds the measurement core of the harness: the operation
// invoker boundary, the timed sampler, the concurrent batch runner and the
// reducers that turn raw outcomes into per-kind statistics and a run report.
package bench

import (
	"time"
)

// Kind identifies one operation kind driven against the storage endpoint.
type Kind string

const (
	KindPut    Kind = "PUT"
	KindGet    Kind = "GET"
	KindList   Kind = "LIST"
	KindDelete Kind = "DELETE"
	KindBatch  Kind = "BATCH"
)

// ExecutionOrder is the fixed order in which kinds are exercised. Later
// stages read state written by earlier ones (GET reads what PUT wrote).
var ExecutionOrder = []Kind{KindPut, KindGet, KindBatch, KindList, KindDelete}

// MiB is the unit used for payload sizes and batch throughput.
const MiB = 1024 * 1024

// Outcome is the record of a single operation attempt.
type Outcome struct {
	Kind      Kind          `json:"kind"`
	Iteration int           `json:"iteration"`
	StartedAt time.Time     `json:"started_at"`
	Success   bool          `json:"success"`
	Elapsed   time.Duration `json:"elapsed"`
	Bytes     int64         `json:"bytes"`
	Err       error         `json:"-"`
}

// Reason returns the failure reason, or an empty string for successes.
func (o Outcome) Reason() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// Stats is the reduction of one kind's outcomes. Average and throughput are
// zero whenever no attempt succeeded.
type Stats struct {
	Kind                Kind          `json:"kind"`
	Successful          int           `json:"successful"`
	Attempted           int           `json:"attempted"`
	AverageDuration     time.Duration `json:"average_duration"`
	ThroughputOpsPerSec float64       `json:"throughput_ops_per_sec"`
	SuccessRatePct      float64       `json:"success_rate_pct"`
	Bytes               int64         `json:"bytes"`
}

// OverallStatus classifies a run by its combined success rate.
type OverallStatus string

const (
	StatusExcellent OverallStatus = "Excellent"
	StatusGood      OverallStatus = "Good"
	StatusPoor      OverallStatus = "Poor"
)

// Thresholds are the combined success rates (in percent) a run must reach to
// be classified Excellent or Good.
type Thresholds struct {
	ExcellentPct float64 `json:"excellent_pct"`
	GoodPct      float64 `json:"good_pct"`
}

// DefaultThresholds are 80% for Excellent and 60% for Good.
var DefaultThresholds = Thresholds{ExcellentPct: 80, GoodPct: 60}

// BatchResult describes one concurrent batch.
type BatchResult struct {
	Concurrency int           `json:"concurrency"`
	PayloadSize int64         `json:"payload_size"`
	Elapsed     time.Duration `json:"elapsed"`
	Successful  int           `json:"successful"`
	Outcomes    []Outcome     `json:"-"`
}

// ThroughputMBps is concurrency * payload size (MiB) / elapsed seconds.
func (b BatchResult) ThroughputMBps() float64 {
	if b.Elapsed <= 0 {
		return 0
	}
	return float64(b.Concurrency) * (float64(b.PayloadSize) / MiB) / b.Elapsed.Seconds()
}

// HostUsage summarises host resource samples taken while the server ran.
type HostUsage struct {
	Samples       int     `json:"samples"`
	AvgCPUPct     float64 `json:"avg_cpu_pct"`
	PeakMemoryPct float64 `json:"peak_memory_pct"`
	// Bytes moved over all interfaces, loopback included, between the
	// first and last sample.
	NetworkRxBytes int64 `json:"network_rx_bytes"`
	NetworkTxBytes int64 `json:"network_tx_bytes"`
}

// Artifacts lists the files a run leaves on disk.
type Artifacts struct {
	ServerLog    string `json:"server_log,omitempty"`
	BenchmarkLog string `json:"benchmark_log,omitempty"`
	BuildLog     string `json:"build_log,omitempty"`
	Summary      string `json:"summary,omitempty"`
	Outcomes     string `json:"outcomes,omitempty"`
	Traces       string `json:"traces,omitempty"`
}

// RunReport is the immutable result of a complete run.
type RunReport struct {
	RunID                  string        `json:"run_id"`
	StartedAt              time.Time     `json:"started_at"`
	FinishedAt             time.Time     `json:"finished_at"`
	Stats                  []Stats       `json:"stats"`
	Batch                  BatchResult   `json:"batch"`
	BatchThroughputMBps    float64       `json:"batch_throughput_mbps"`
	CombinedSuccessRatePct float64       `json:"combined_success_rate_pct"`
	Status                 OverallStatus `json:"status"`
	Thresholds             Thresholds    `json:"thresholds"`
	Host                   HostUsage     `json:"host"`
	Artifacts              Artifacts     `json:"artifacts"`
}

// StatsFor returns the stats recorded for kind.
func (r RunReport) StatsFor(kind Kind) (Stats, bool) {
	for _, s := range r.Stats {
		if s.Kind == kind {
			return s, true
		}
	}
	return Stats{}, false
}

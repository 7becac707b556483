package report

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rustfs-bench/bench"
)

func sampleReport() bench.RunReport {
	started := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	batch := bench.BatchResult{Concurrency: 4, PayloadSize: bench.MiB, Elapsed: 2 * time.Second, Successful: 3}

	return bench.RunReport{
		RunID:      "run-1",
		StartedAt:  started,
		FinishedAt: started.Add(90 * time.Second),
		Stats: []bench.Stats{
			{Kind: bench.KindPut, Successful: 10, Attempted: 10, AverageDuration: 200 * time.Millisecond, ThroughputOpsPerSec: 5, SuccessRatePct: 100, Bytes: 10 * bench.MiB},
			{Kind: bench.KindGet, Successful: 0, Attempted: 10, SuccessRatePct: 0},
		},
		Batch:                  batch,
		BatchThroughputMBps:    batch.ThroughputMBps(),
		CombinedSuccessRatePct: 50,
		Status:                 bench.StatusPoor,
		Thresholds:             bench.DefaultThresholds,
		Host:                   bench.HostUsage{Samples: 3, AvgCPUPct: 12.5, PeakMemoryPct: 40, NetworkRxBytes: 3 * bench.MiB, NetworkTxBytes: bench.MiB / 2},
		Artifacts: bench.Artifacts{
			ServerLog: "/out/server.log",
			Summary:   "/out/summary.json",
			Traces:    "/out/traces.jsonl",
		},
	}
}

func TestRender(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewRenderer(false).Render(&buf, sampleReport()))
	out := buf.String()

	assert.Contains(t, out, "run run-1")
	assert.Contains(t, out, "took 1m30s")
	assert.Contains(t, out, "PUT")
	assert.Contains(t, out, "10/10")
	assert.Contains(t, out, "200ms")
	assert.Contains(t, out, "0/10")
	assert.Contains(t, out, "Concurrent batch: 4 x 1.00 MiB in 2s, 3/4 succeeded, 2.00 MB/s")
	assert.Contains(t, out, "avg CPU 12.5%, peak memory 40.0%, network rx 3.00 MiB tx 0.50 MiB (3 samples)")
	assert.Contains(t, out, "Combined success rate: 50.0%")
	assert.Contains(t, out, "Overall status: Poor\n")
	assert.Contains(t, out, "/out/server.log")
	assert.Contains(t, out, "traces:")
	assert.NotContains(t, out, "build log")
}

func TestRenderOrderFollowsStats(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewRenderer(false).Render(&buf, sampleReport()))
	out := buf.String()

	assert.Less(t, bytes.Index(buf.Bytes(), []byte("PUT")), bytes.Index(buf.Bytes(), []byte("GET")), out)
}

func TestRenderColoredStatus(t *testing.T) {
	report := sampleReport()
	report.Status = bench.StatusExcellent

	var buf bytes.Buffer
	require.NoError(t, NewRenderer(true).Render(&buf, report))
	assert.Contains(t, buf.String(), "\x1b[")
	assert.Contains(t, buf.String(), "Excellent")
}

func TestRenderEmptyReport(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewRenderer(false).Render(&buf, bench.RunReport{RunID: "empty", Status: bench.StatusPoor}))
	assert.Contains(t, buf.String(), "Combined success rate: 0.0%")
	assert.NotContains(t, buf.String(), "Concurrent batch")
	assert.NotContains(t, buf.String(), "Artifacts")
}

func TestWriteJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "summary.json")
	require.NoError(t, WriteJSON(path, sampleReport()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "run-1", decoded["run_id"])
	assert.Equal(t, "Poor", decoded["status"])
	assert.Equal(t, 50.0, decoded["combined_success_rate_pct"])
	assert.Len(t, decoded["stats"], 2)
}

package bench

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func outcomesOf(kind Kind, success bool, durations ...time.Duration) []Outcome {
	out := make([]Outcome, 0, len(durations))
	for i, d := range durations {
		o := Outcome{Kind: kind, Iteration: i + 1, Success: success, Elapsed: d}
		if !success {
			o.Err = errors.New("connection refused")
		}
		out = append(out, o)
	}
	return out
}

func TestReduce(t *testing.T) {
	t.Run("all puts succeed", func(t *testing.T) {
		stats := Reduce(KindPut, outcomesOf(KindPut, true,
			100*time.Millisecond, 200*time.Millisecond, 150*time.Millisecond))

		assert.Equal(t, KindPut, stats.Kind)
		assert.Equal(t, 3, stats.Successful)
		assert.Equal(t, 3, stats.Attempted)
		assert.Equal(t, 150*time.Millisecond, stats.AverageDuration)
		assert.InDelta(t, 6.67, stats.ThroughputOpsPerSec, 0.01)
		assert.Equal(t, 100.0, stats.SuccessRatePct)
	})

	t.Run("all gets fail", func(t *testing.T) {
		stats := Reduce(KindGet, outcomesOf(KindGet, false,
			time.Second, time.Second, time.Second))

		assert.Equal(t, 0, stats.Successful)
		assert.Equal(t, 3, stats.Attempted)
		assert.Equal(t, 0.0, stats.SuccessRatePct)
		assert.Equal(t, time.Duration(0), stats.AverageDuration)
		assert.Equal(t, 0.0, stats.ThroughputOpsPerSec)
		assert.False(t, math.IsNaN(stats.ThroughputOpsPerSec))
	})

	t.Run("failures do not count towards durations", func(t *testing.T) {
		outcomes := append(
			outcomesOf(KindList, true, 300*time.Millisecond),
			outcomesOf(KindList, false, 5*time.Second)...,
		)
		stats := Reduce(KindList, outcomes)

		assert.Equal(t, 1, stats.Successful)
		assert.Equal(t, 2, stats.Attempted)
		assert.Equal(t, 300*time.Millisecond, stats.AverageDuration)
		assert.Equal(t, 50.0, stats.SuccessRatePct)
	})

	t.Run("bytes only from successes", func(t *testing.T) {
		outcomes := []Outcome{
			{Kind: KindGet, Success: true, Elapsed: time.Millisecond, Bytes: 10},
			{Kind: KindGet, Success: false, Elapsed: time.Millisecond, Bytes: 99},
		}
		assert.Equal(t, int64(10), Reduce(KindGet, outcomes).Bytes)
	})

	t.Run("empty input", func(t *testing.T) {
		stats := Reduce(KindDelete, nil)
		assert.Equal(t, Stats{Kind: KindDelete}, stats)
	})
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		successful int
		attempted  int
		want       OverallStatus
	}{
		{"all succeed", 10, 10, StatusExcellent},
		{"exactly excellent", 8, 10, StatusExcellent},
		{"three quarters", 3, 4, StatusGood},
		{"exactly good", 6, 10, StatusGood},
		{"below good", 59, 100, StatusPoor},
		{"nothing succeeded", 0, 5, StatusPoor},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stats := []Stats{{Kind: KindPut, Successful: tt.successful, Attempted: tt.attempted}}
			assert.Equal(t, tt.want, Classify(stats, DefaultThresholds))
		})
	}
}

func TestClassifyCombinesKinds(t *testing.T) {
	// 9 of 12 attempts succeed across three kinds.
	stats := []Stats{
		{Kind: KindPut, Successful: 4, Attempted: 4},
		{Kind: KindGet, Successful: 2, Attempted: 4},
		{Kind: KindList, Successful: 3, Attempted: 4},
	}

	assert.InDelta(t, 75.0, CombinedSuccessRate(stats), 1e-9)
	assert.Equal(t, StatusGood, Classify(stats, DefaultThresholds))
}

func TestClassifyCustomThresholds(t *testing.T) {
	stats := []Stats{{Kind: KindPut, Successful: 9, Attempted: 10}}
	assert.Equal(t, StatusGood, Classify(stats, Thresholds{ExcellentPct: 95, GoodPct: 90}))
	assert.Equal(t, StatusPoor, Classify(stats, Thresholds{ExcellentPct: 99, GoodPct: 95}))
}

func TestNewRunReport(t *testing.T) {
	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	finished := started.Add(time.Minute)

	outcomes := map[Kind][]Outcome{
		KindDelete: outcomesOf(KindDelete, true, time.Millisecond),
		KindPut:    outcomesOf(KindPut, true, time.Millisecond, time.Millisecond),
		KindGet:    outcomesOf(KindGet, false, time.Millisecond, time.Millisecond),
		KindList:   outcomesOf(KindList, true, time.Millisecond),
	}
	batch := BatchResult{
		Concurrency: 2,
		PayloadSize: MiB,
		Elapsed:     500 * time.Millisecond,
		Successful:  2,
		Outcomes:    outcomesOf(KindBatch, true, 400*time.Millisecond, 450*time.Millisecond),
	}

	report := NewRunReport("run-1", started, finished, outcomes, batch, DefaultThresholds)

	require.Len(t, report.Stats, 5)
	kinds := make([]Kind, 0, len(report.Stats))
	for _, s := range report.Stats {
		kinds = append(kinds, s.Kind)
	}
	assert.Equal(t, ExecutionOrder, kinds)

	// 2 + 0 + 2 + 1 + 1 successes over 8 attempts.
	assert.InDelta(t, 75.0, report.CombinedSuccessRatePct, 1e-9)
	assert.Equal(t, StatusGood, report.Status)
	assert.InDelta(t, 4.0, report.BatchThroughputMBps, 1e-9)
	assert.Equal(t, "run-1", report.RunID)
	assert.Equal(t, DefaultThresholds, report.Thresholds)

	get, ok := report.StatsFor(KindGet)
	require.True(t, ok)
	assert.Equal(t, 0, get.Successful)
}

func TestNewRunReportSkipsMissingKinds(t *testing.T) {
	report := NewRunReport("run-2", time.Now(), time.Now(), map[Kind][]Outcome{
		KindPut: outcomesOf(KindPut, true, time.Millisecond),
	}, BatchResult{}, DefaultThresholds)

	require.Len(t, report.Stats, 1)
	_, ok := report.StatsFor(KindBatch)
	assert.False(t, ok)
	assert.Equal(t, StatusExcellent, report.Status)
}

package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"

	"rustfs-bench/bench"
)

func readRecords(t *testing.T, path string) []OutcomeRecord {
	t.Helper()
	file, err := local.NewLocalFileReader(path)
	require.NoError(t, err)
	defer file.Close()

	pr, err := reader.NewParquetReader(file, new(OutcomeRecord), 1)
	require.NoError(t, err)
	defer pr.ReadStop()

	records := make([]OutcomeRecord, pr.GetNumRows())
	require.NoError(t, pr.Read(&records))
	return records
}

func TestNewOutcomeRecord(t *testing.T) {
	started := time.UnixMilli(1700000000123)
	rec := NewOutcomeRecord("run-1", bench.Outcome{
		Kind:      bench.KindDelete,
		Iteration: 3,
		StartedAt: started,
		Success:   false,
		Elapsed:   1500 * time.Microsecond,
		Err:       errors.New("access denied"),
	})

	assert.Equal(t, OutcomeRecord{
		RunID:     "run-1",
		Kind:      "DELETE",
		Iteration: 3,
		Timestamp: 1700000000123,
		LatencyMs: 1.5,
		ErrMsg:    "access denied",
	}, rec)
}

func TestParquetWriterRoundTrip(t *testing.T) {
	dir := t.TempDir()
	pw, err := NewParquetWriter(dir, "run-1", 2)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "bench-run-1.parquet"), pw.FilePath())

	now := time.Now()
	for i := 1; i <= 5; i++ {
		pw.Observe(bench.Outcome{
			Kind:      bench.KindPut,
			Iteration: i,
			StartedAt: now,
			Success:   i != 3,
			Elapsed:   time.Duration(i) * time.Millisecond,
			Bytes:     1024,
		})
	}
	require.NoError(t, pw.Close())
	require.NoError(t, pw.Close())

	// Outcomes after Close are dropped.
	pw.Observe(bench.Outcome{Kind: bench.KindGet, Iteration: 1})

	records := readRecords(t, pw.FilePath())
	require.Len(t, records, 5)
	assert.Equal(t, "PUT", records[0].Kind)
	assert.Equal(t, int32(1), records[0].Iteration)
	assert.False(t, records[2].Success)
	assert.Equal(t, int64(1024), records[4].Bytes)
	assert.InDelta(t, 5.0, records[4].LatencyMs, 0.001)
}

func TestParquetWriterCreatesNothingWithoutOutcomes(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	pw, err := NewParquetWriter(dir, "run-2", 10)
	require.NoError(t, err)

	require.NoError(t, pw.Close())
	assert.NoFileExists(t, pw.FilePath())
	assert.NoDirExists(t, dir)
}

func TestParquetWriterOpenFailureReportedOnClose(t *testing.T) {
	base := t.TempDir()
	blocker := filepath.Join(base, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

	pw, err := NewParquetWriter(filepath.Join(blocker, "out"), "run-3", 10)
	require.NoError(t, err)

	pw.Observe(bench.Outcome{Kind: bench.KindPut, Iteration: 1})
	assert.Error(t, pw.Close())
}

package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	"rustfs-bench/bench"
)

// OutcomeRecord is one operation attempt as stored in the outcomes file.
type OutcomeRecord struct {
	RunID     string  `parquet:"name=run_id, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Kind      string  `parquet:"name=kind, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Iteration int32   `parquet:"name=iteration, type=INT32"`
	Timestamp int64   `parquet:"name=ts, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	Success   bool    `parquet:"name=success, type=BOOLEAN"`
	LatencyMs float64 `parquet:"name=latency_ms, type=DOUBLE"`
	Bytes     int64   `parquet:"name=bytes, type=INT64"`
	ErrMsg    string  `parquet:"name=err_msg, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// NewOutcomeRecord converts an outcome into its stored form.
func NewOutcomeRecord(runID string, o bench.Outcome) OutcomeRecord {
	return OutcomeRecord{
		RunID:     runID,
		Kind:      string(o.Kind),
		Iteration: int32(o.Iteration),
		Timestamp: o.StartedAt.UnixMilli(),
		Success:   o.Success,
		LatencyMs: float64(o.Elapsed.Microseconds()) / 1000,
		Bytes:     o.Bytes,
		ErrMsg:    o.Reason(),
	}
}

// ParquetWriter writes every observed outcome to a Parquet file. The file
// is created with the first outcome, so a run that never samples leaves
// nothing behind.
type ParquetWriter struct {
	writer    *writer.ParquetWriter
	file      source.ParquetFile
	mutex     sync.Mutex
	outputDir string
	filePath  string
	runID     string
	batchSize int
	records   []OutcomeRecord
	err       error
	closed    bool
}

// NewParquetWriter prepares a writer for <outputDir>/bench-<runID>.parquet.
func NewParquetWriter(outputDir, runID string, batchSize int) (*ParquetWriter, error) {
	if runID == "" {
		return nil, fmt.Errorf("run id is required")
	}
	if batchSize <= 0 {
		batchSize = 100
	}

	return &ParquetWriter{
		outputDir: outputDir,
		filePath:  filepath.Join(outputDir, fmt.Sprintf("bench-%s.parquet", runID)),
		runID:     runID,
		batchSize: batchSize,
		records:   make([]OutcomeRecord, 0, batchSize),
	}, nil
}

// open creates the file and the parquet writer on first use.
func (pw *ParquetWriter) open() error {
	if pw.writer != nil {
		return nil
	}
	if err := os.MkdirAll(pw.outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	file, err := local.NewLocalFileWriter(pw.filePath)
	if err != nil {
		return fmt.Errorf("failed to create parquet file: %w", err)
	}

	w, err := writer.NewParquetWriter(file, new(OutcomeRecord), 4)
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to create parquet writer: %w", err)
	}

	pw.file = file
	pw.writer = w
	return nil
}

// Observe buffers the outcome and flushes once a batch is full. A write
// error is kept and reported by Close.
func (pw *ParquetWriter) Observe(o bench.Outcome) {
	pw.mutex.Lock()
	defer pw.mutex.Unlock()

	if pw.closed || pw.err != nil {
		return
	}
	if err := pw.open(); err != nil {
		pw.err = err
		return
	}

	pw.records = append(pw.records, NewOutcomeRecord(pw.runID, o))
	if len(pw.records) >= pw.batchSize {
		pw.err = pw.flush()
	}
}

// flush writes the buffered records.
func (pw *ParquetWriter) flush() error {
	if len(pw.records) == 0 {
		return nil
	}

	for _, record := range pw.records {
		if err := pw.writer.Write(record); err != nil {
			return fmt.Errorf("failed to write record: %w", err)
		}
	}

	pw.records = pw.records[:0]
	return nil
}

// Close flushes any remaining records and closes the file. Calling Close
// more than once is a no-op.
func (pw *ParquetWriter) Close() error {
	pw.mutex.Lock()
	defer pw.mutex.Unlock()

	if pw.closed {
		return nil
	}
	pw.closed = true

	if pw.writer == nil {
		return pw.err
	}

	err := pw.err
	if err == nil {
		err = pw.flush()
	}

	if stopErr := pw.writer.WriteStop(); stopErr != nil && err == nil {
		err = fmt.Errorf("failed to stop parquet writer: %w", stopErr)
	}

	if closeErr := pw.file.Close(); closeErr != nil && err == nil {
		err = fmt.Errorf("failed to close parquet file: %w", closeErr)
	}

	return err
}

// FilePath returns the path of the outcomes file. The file exists only
// once an outcome has been observed.
func (pw *ParquetWriter) FilePath() string {
	return pw.filePath
}

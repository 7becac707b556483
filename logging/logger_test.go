package logging

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		valid  bool
	}{
		{
			name:   "valid json config",
			config: Config{Level: "info", Format: "json"},
			valid:  true,
		},
		{
			name:   "valid console config",
			config: Config{Level: "debug", Format: "console"},
			valid:  true,
		},
		{
			name:   "invalid level",
			config: Config{Level: "invalid", Format: "json"},
			valid:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.config)
			if tt.valid {
				require.NoError(t, err)
				assert.NotNil(t, logger)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestLoggerWritesBenchmarkLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "benchmark.log")

	logger, err := NewLogger(Config{Level: "info", Format: "console", FilePath: path})
	require.NoError(t, err)

	logger.Info(context.Background(), "server ready", zap.String("address", "127.0.0.1:9000"))
	logger.Debug(context.Background(), "filtered out")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "server ready")
	assert.Contains(t, string(data), "127.0.0.1:9000")
	assert.NotContains(t, string(data), "filtered out")
}

func TestLoggerWith(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	logger := FromZap(zap.New(core)).With(zap.String("run_id", "abc"))

	logger.Warn(context.Background(), "stage failed", zap.String("stage", "build"))

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "stage failed", entries[0].Message)
	fields := entries[0].ContextMap()
	assert.Equal(t, "abc", fields["run_id"])
	assert.Equal(t, "build", fields["stage"])
}

func TestNopLogger(t *testing.T) {
	logger := NewNop()
	logger.Error(context.Background(), "ignored")
	assert.NoError(t, logger.Sync())
}

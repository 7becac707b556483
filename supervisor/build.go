package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"rustfs-bench/logging"
)

// Builder compiles the server from source.
type Builder struct {
	// SourceDir is the working directory of the build command.
	SourceDir string
	// Command is the build argv, e.g. cargo build --release --bin rustfs.
	Command []string
	// BinaryPath is where the build is expected to leave the server binary.
	BinaryPath string
	// SkipBuild reuses an existing binary at BinaryPath.
	SkipBuild bool
	// LogPath receives the combined build output.
	LogPath string

	Logger logging.Logger
}

// Build runs the build command and returns the path of the server binary.
func (b *Builder) Build(ctx context.Context) (string, error) {
	logger := b.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	if b.SkipBuild {
		if err := checkExecutable(b.BinaryPath); err != nil {
			return "", fmt.Errorf("%w: build skipped but %v", ErrBuild, err)
		}
		logger.Info(ctx, "Build skipped, using existing binary", zap.String("binary", b.BinaryPath))
		return b.BinaryPath, nil
	}

	if len(b.Command) == 0 {
		return "", fmt.Errorf("%w: no build command configured", ErrBuild)
	}

	if err := os.MkdirAll(filepath.Dir(b.LogPath), 0755); err != nil {
		return "", fmt.Errorf("%w: failed to create log directory: %v", ErrBuild, err)
	}
	logFile, err := os.OpenFile(b.LogPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return "", fmt.Errorf("%w: failed to open build log: %v", ErrBuild, err)
	}
	defer logFile.Close()

	logger.Info(ctx, "Building server",
		zap.Strings("command", b.Command),
		zap.String("source_dir", b.SourceDir),
		zap.String("log", b.LogPath))

	start := time.Now()
	cmd := exec.CommandContext(ctx, b.Command[0], b.Command[1:]...)
	cmd.Dir = b.SourceDir
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%w: %s: %v (see %s)", ErrBuild, strings.Join(b.Command, " "), err, b.LogPath)
	}

	if err := checkExecutable(b.BinaryPath); err != nil {
		return "", fmt.Errorf("%w: build finished but %v", ErrBuild, err)
	}

	logger.Info(ctx, "Server built",
		zap.String("binary", b.BinaryPath),
		zap.Duration("duration", time.Since(start)))
	return b.BinaryPath, nil
}

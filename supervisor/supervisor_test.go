//go:build unix

package supervisor

import (
	"context"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rustfs-bench/logging"
)

const helperModeEnv = "SUPERVISOR_HELPER_MODE"

// TestMain lets the test binary double as a fake server when re-executed
// with helperModeEnv set.
func TestMain(m *testing.M) {
	if mode := os.Getenv(helperModeEnv); mode != "" {
		runHelper(mode)
		return
	}
	os.Exit(m.Run())
}

func runHelper(mode string) {
	var address string
	for i, arg := range os.Args {
		if arg == "--address" && i+1 < len(os.Args) {
			address = os.Args[i+1]
		}
	}

	switch mode {
	case "exit":
		os.Exit(3)
	case "silent":
		time.Sleep(time.Hour)
	case "listen", "ignore-term":
		if mode == "ignore-term" {
			signal.Ignore(syscall.SIGTERM)
		}
		ln, err := net.Listen("tcp", address)
		if err != nil {
			os.Exit(4)
		}
		for {
			conn, err := ln.Accept()
			if err != nil {
				os.Exit(5)
			}
			conn.Close()
		}
	default:
		os.Exit(2)
	}
}

func freeAddress(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func helperSpec(t *testing.T, mode string) LaunchSpec {
	t.Helper()
	dir := t.TempDir()
	return LaunchSpec{
		Binary:  os.Args[0],
		Address: freeAddress(t),
		Volumes: []string{filepath.Join(dir, "vol1"), filepath.Join(dir, "vol2")},
		LogPath: filepath.Join(dir, "server.log"),
		Env:     []string{helperModeEnv + "=" + mode},
	}
}

func fastConfig() Config {
	return Config{
		PollInterval:     50 * time.Millisecond,
		DialTimeout:      100 * time.Millisecond,
		GracePeriod:      10 * time.Millisecond,
		StopAttempts:     4,
		StopPollInterval: 50 * time.Millisecond,
	}
}

func TestLaunchSpecArgs(t *testing.T) {
	spec := LaunchSpec{Address: "127.0.0.1:9000", Volumes: []string{"/v1", "/v2"}}
	assert.Equal(t, []string{"--address", "127.0.0.1:9000", "/v1", "/v2"}, spec.Args())
}

func TestProbeAddress(t *testing.T) {
	tests := []struct {
		endpoint string
		want     string
		wantErr  bool
	}{
		{"http://127.0.0.1:9000", "127.0.0.1:9000", false},
		{"http://localhost", "localhost:80", false},
		{"https://storage.local", "storage.local:443", false},
		{"127.0.0.1:9000", "127.0.0.1:9000", false},
		{"no-port", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			got, err := ProbeAddress(tt.endpoint)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStartMissingBinary(t *testing.T) {
	sup := New(fastConfig(), logging.NewNop())
	spec := helperSpec(t, "listen")
	spec.Binary = filepath.Join(t.TempDir(), "rustfs")

	_, err := sup.Start(context.Background(), spec)
	assert.ErrorIs(t, err, ErrLaunch)
	assert.Equal(t, StateNotStarted, sup.State())
}

func TestStartReadyStop(t *testing.T) {
	ctx := context.Background()
	sup := New(fastConfig(), logging.NewNop())
	spec := helperSpec(t, "listen")

	proc, err := sup.Start(ctx, spec)
	require.NoError(t, err)
	assert.Equal(t, StateStarting, proc.State())
	assert.Greater(t, proc.PID, 0)

	_, err = sup.Start(ctx, spec)
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	require.NoError(t, sup.AwaitReady(ctx, proc, "http://"+spec.Address, 5*time.Second))
	assert.Equal(t, StateReady, proc.State())

	require.NoError(t, sup.Stop(ctx))
	assert.Equal(t, StateStopped, proc.State())
	assert.True(t, proc.Exited())

	// Stopping twice is a no-op.
	require.NoError(t, sup.Stop(ctx))
	assert.Equal(t, StateStopped, sup.State())

	_, err = os.Stat(spec.LogPath)
	assert.NoError(t, err)
}

func TestAwaitReadyProcessDied(t *testing.T) {
	ctx := context.Background()
	sup := New(fastConfig(), logging.NewNop())

	proc, err := sup.Start(ctx, helperSpec(t, "exit"))
	require.NoError(t, err)

	start := time.Now()
	err = sup.AwaitReady(ctx, proc, "http://"+proc.Address, 10*time.Second)
	assert.ErrorIs(t, err, ErrProcessDied)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, StateFailed, proc.State())

	require.NoError(t, sup.Stop(ctx))
	assert.Equal(t, StateStopped, proc.State())
}

func TestAwaitReadyTimeout(t *testing.T) {
	ctx := context.Background()
	sup := New(fastConfig(), logging.NewNop())

	proc, err := sup.Start(ctx, helperSpec(t, "silent"))
	require.NoError(t, err)

	err = sup.AwaitReady(ctx, proc, "http://"+proc.Address, 300*time.Millisecond)
	assert.ErrorIs(t, err, ErrStartupTimeout)
	assert.Equal(t, StateFailed, proc.State())

	// Ready can never follow Failed.
	assert.False(t, proc.transition(StateReady))

	require.NoError(t, sup.Stop(ctx))
	assert.Equal(t, StateStopped, proc.State())
	assert.True(t, proc.Exited())
}

func TestAwaitReadyCancelled(t *testing.T) {
	sup := New(fastConfig(), logging.NewNop())

	proc, err := sup.Start(context.Background(), helperSpec(t, "silent"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sup.Stop(context.Background()) })

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	err = sup.AwaitReady(ctx, proc, "http://"+proc.Address, 10*time.Second)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStopEscalatesToKill(t *testing.T) {
	ctx := context.Background()
	sup := New(fastConfig(), logging.NewNop())
	spec := helperSpec(t, "ignore-term")

	proc, err := sup.Start(ctx, spec)
	require.NoError(t, err)
	require.NoError(t, sup.AwaitReady(ctx, proc, spec.Address, 5*time.Second))

	start := time.Now()
	require.NoError(t, sup.Stop(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
	assert.True(t, proc.Exited())
	assert.Equal(t, StateStopped, proc.State())
}

func TestStopWithoutStart(t *testing.T) {
	sup := New(fastConfig(), logging.NewNop())
	assert.NoError(t, sup.Stop(context.Background()))
	assert.Equal(t, StateNotStarted, sup.State())
	assert.Nil(t, sup.Process())
}

func TestStateTransitionsAreMonotonic(t *testing.T) {
	p := &ServerProcess{exited: make(chan struct{})}

	assert.True(t, p.transition(StateStarting))
	assert.False(t, p.transition(StateNotStarted))
	assert.True(t, p.transition(StateReady))
	assert.False(t, p.transition(StateFailed))
	assert.False(t, p.transition(StateStarting))
	assert.True(t, p.transition(StateStopped))
	assert.False(t, p.transition(StateReady))
	assert.Equal(t, StateStopped, p.State())
	assert.Equal(t, "stopped", p.State().String())
}

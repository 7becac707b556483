package supervisor

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"rustfs-bench/logging"
)

// Config tunes readiness polling and termination.
type Config struct {
	// PollInterval is the pause between readiness probes.
	PollInterval time.Duration
	// DialTimeout bounds a single readiness probe.
	DialTimeout time.Duration
	// GracePeriod is waited after the first accepted connection so the
	// server can finish initialising its storage subsystems.
	GracePeriod time.Duration
	// StopAttempts x StopPollInterval is how long a graceful stop may take
	// before the process group is killed.
	StopAttempts     int
	StopPollInterval time.Duration
}

// DefaultConfig returns the default supervision timings.
func DefaultConfig() Config {
	return Config{
		PollInterval:     2 * time.Second,
		DialTimeout:      time.Second,
		GracePeriod:      5 * time.Second,
		StopAttempts:     10,
		StopPollInterval: 500 * time.Millisecond,
	}
}

// LaunchSpec describes how to start the server.
type LaunchSpec struct {
	Binary  string
	Address string
	Volumes []string
	LogPath string
	// Env is appended to the harness's own environment.
	Env []string
}

// Args returns the server command line: --address <addr> <volume>...
func (ls LaunchSpec) Args() []string {
	args := []string{"--address", ls.Address}
	return append(args, ls.Volumes...)
}

// Supervisor launches and stops at most one server at a time.
type Supervisor struct {
	config Config
	logger logging.Logger

	mu   sync.Mutex
	proc *ServerProcess
}

// New creates a new supervisor.
func New(config Config, logger logging.Logger) *Supervisor {
	defaults := DefaultConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = defaults.DialTimeout
	}
	if config.GracePeriod < 0 {
		config.GracePeriod = 0
	}
	if config.StopAttempts <= 0 {
		config.StopAttempts = defaults.StopAttempts
	}
	if config.StopPollInterval <= 0 {
		config.StopPollInterval = defaults.StopPollInterval
	}
	return &Supervisor{
		config: config,
		logger: logger,
	}
}

// State returns the state of the current server, or StateNotStarted if none
// was launched.
func (s *Supervisor) State() State {
	s.mu.Lock()
	proc := s.proc
	s.mu.Unlock()
	if proc == nil {
		return StateNotStarted
	}
	return proc.State()
}

// Process returns the current server, if any.
func (s *Supervisor) Process() *ServerProcess {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc
}

// Start launches the server with its output redirected to spec.LogPath.
func (s *Supervisor) Start(ctx context.Context, spec LaunchSpec) (*ServerProcess, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.proc != nil && !s.proc.Exited() {
		return nil, fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, s.proc.PID)
	}

	if err := checkExecutable(spec.Binary); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLaunch, err)
	}

	if err := os.MkdirAll(filepath.Dir(spec.LogPath), 0755); err != nil {
		return nil, fmt.Errorf("%w: failed to create log directory: %v", ErrLaunch, err)
	}
	logFile, err := os.OpenFile(spec.LogPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open server log: %v", ErrLaunch, err)
	}

	cmd := exec.Command(spec.Binary, spec.Args()...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Env = append(os.Environ(), spec.Env...)
	detach(cmd)

	proc := &ServerProcess{
		Address: spec.Address,
		LogPath: spec.LogPath,
		state:   StateNotStarted,
		cmd:     cmd,
		logFile: logFile,
		exited:  make(chan struct{}),
	}
	proc.transition(StateStarting)

	if err := cmd.Start(); err != nil {
		logFile.Close()
		proc.transition(StateFailed)
		return nil, fmt.Errorf("%w: %v", ErrLaunch, err)
	}

	proc.PID = cmd.Process.Pid
	proc.StartedAt = time.Now()
	go proc.wait()

	s.proc = proc

	s.logger.Info(ctx, "Server process started",
		zap.Int("pid", proc.PID),
		zap.String("binary", spec.Binary),
		zap.String("address", spec.Address),
		zap.Int("volumes", len(spec.Volumes)),
		zap.String("log", spec.LogPath))

	return proc, nil
}

// AwaitReady polls endpoint until it accepts a TCP connection or timeout
// elapses. A process that exits while being polled fails the wait at once.
// After the first accepted connection the grace period is observed before
// the server is declared ready.
func (s *Supervisor) AwaitReady(ctx context.Context, proc *ServerProcess, endpoint string, timeout time.Duration) error {
	addr, err := ProbeAddress(endpoint)
	if err != nil {
		proc.transition(StateFailed)
		return err
	}

	deadline := time.Now().Add(timeout)
	dialer := &net.Dialer{Timeout: s.config.DialTimeout}
	attempt := 0

	for {
		attempt++
		if proc.Exited() {
			proc.transition(StateFailed)
			return fmt.Errorf("%w after %d probes: %v (see %s)", ErrProcessDied, attempt-1, proc.ExitErr(), proc.LogPath)
		}

		conn, dialErr := dialer.DialContext(ctx, "tcp", addr)
		if dialErr == nil {
			conn.Close()
			break
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			proc.transition(StateFailed)
			return fmt.Errorf("%w: %s not reachable after %v (see %s)", ErrStartupTimeout, addr, timeout, proc.LogPath)
		}

		s.logger.Debug(ctx, "Server not ready yet",
			zap.Int("attempt", attempt),
			zap.String("address", addr),
			zap.Duration("remaining", remaining),
			zap.Error(dialErr))

		wait := s.config.PollInterval
		if wait > remaining {
			wait = remaining
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-proc.Done():
			timer.Stop()
		case <-timer.C:
		}
	}

	s.logger.Info(ctx, "Server accepting connections, waiting for initialization",
		zap.String("address", addr),
		zap.Duration("grace_period", s.config.GracePeriod))

	if s.config.GracePeriod > 0 {
		timer := time.NewTimer(s.config.GracePeriod)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-proc.Done():
			proc.transition(StateFailed)
			return fmt.Errorf("%w during initialization: %v (see %s)", ErrProcessDied, proc.ExitErr(), proc.LogPath)
		case <-timer.C:
		}
	}

	proc.transition(StateReady)
	s.logger.Info(ctx, "Server ready", zap.Int("pid", proc.PID), zap.String("address", addr))
	return nil
}

// Stop terminates the current server: SIGTERM first, SIGKILL if it has not
// exited after the configured number of polls. Stop is a no-op when no
// server was started or it is already stopped.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	proc := s.proc
	s.mu.Unlock()

	if proc == nil || proc.State() == StateStopped {
		return nil
	}

	if !proc.Exited() {
		s.logger.Info(ctx, "Stopping server", zap.Int("pid", proc.PID))
		if err := terminate(proc); err != nil {
			s.logger.Warn(ctx, "Failed to signal server", zap.Int("pid", proc.PID), zap.Error(err))
		}

		if !s.waitExit(proc) {
			s.logger.Warn(ctx, "Server did not exit gracefully, killing",
				zap.Int("pid", proc.PID),
				zap.Duration("waited", time.Duration(s.config.StopAttempts)*s.config.StopPollInterval))
			if err := kill(proc); err != nil {
				return fmt.Errorf("failed to kill server pid %d: %w", proc.PID, err)
			}
			<-proc.Done()
		}
	}

	proc.transition(StateStopped)
	s.logger.Info(ctx, "Server stopped", zap.Int("pid", proc.PID))
	return nil
}

// waitExit polls for exit up to StopAttempts times.
func (s *Supervisor) waitExit(proc *ServerProcess) bool {
	ticker := time.NewTicker(s.config.StopPollInterval)
	defer ticker.Stop()

	for i := 0; i < s.config.StopAttempts; i++ {
		select {
		case <-proc.Done():
			return true
		case <-ticker.C:
		}
	}
	return proc.Exited()
}

// ProbeAddress turns an endpoint URL or host:port into a dialable address.
func ProbeAddress(endpoint string) (string, error) {
	if !strings.Contains(endpoint, "://") {
		if _, _, err := net.SplitHostPort(endpoint); err != nil {
			return "", fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
		}
		return endpoint, nil
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	if u.Port() != "" {
		return u.Host, nil
	}
	switch u.Scheme {
	case "https":
		return net.JoinHostPort(u.Hostname(), "443"), nil
	default:
		return net.JoinHostPort(u.Hostname(), "80"), nil
	}
}

func checkExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("binary %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("binary %s is a directory", path)
	}
	if info.Mode().Perm()&0111 == 0 {
		return fmt.Errorf("binary %s is not executable", path)
	}
	return nil
}

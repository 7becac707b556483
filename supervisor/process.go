// Package supervisor owns the lifecycle of the storage server under test:
// building it, launching it, waiting for it to accept connections and
// terminating it.
package supervisor

import (
	"errors"
	"os"
	"os/exec"
	"sync"
	"time"
)

var (
	// ErrLaunch is returned when the server binary cannot be started.
	ErrLaunch = errors.New("server launch failed")
	// ErrProcessDied is returned when the server exits before becoming ready.
	ErrProcessDied = errors.New("server process died")
	// ErrStartupTimeout is returned when the server does not accept
	// connections within the startup timeout.
	ErrStartupTimeout = errors.New("server startup timed out")
	// ErrAlreadyRunning is returned when Start is called while a server
	// launched by the same supervisor is still alive.
	ErrAlreadyRunning = errors.New("server already running")
	// ErrBuild is returned when the build command fails or produces no binary.
	ErrBuild = errors.New("server build failed")
)

// State is the lifecycle state of a supervised server.
type State int

const (
	StateNotStarted State = iota
	StateStarting
	StateReady
	StateFailed
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// rank orders states so transitions only move forward. Ready and Failed
// share a rank: neither can follow the other.
func (s State) rank() int {
	switch s {
	case StateNotStarted:
		return 0
	case StateStarting:
		return 1
	case StateReady, StateFailed:
		return 2
	default:
		return 3
	}
}

// ServerProcess is a launched server.
type ServerProcess struct {
	PID       int
	Address   string
	LogPath   string
	StartedAt time.Time

	mu      sync.Mutex
	state   State
	cmd     *exec.Cmd
	logFile *os.File
	exited  chan struct{}
	waitErr error
}

// State returns the current lifecycle state.
func (p *ServerProcess) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Exited reports whether the OS process has terminated.
func (p *ServerProcess) Exited() bool {
	select {
	case <-p.exited:
		return true
	default:
		return false
	}
}

// Done is closed once the OS process has terminated.
func (p *ServerProcess) Done() <-chan struct{} {
	return p.exited
}

// ExitErr returns the error reported by wait, valid once Done is closed.
func (p *ServerProcess) ExitErr() error {
	<-p.exited
	return p.waitErr
}

// transition moves to the target state if that is a forward move and
// reports whether it happened.
func (p *ServerProcess) transition(to State) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if to.rank() <= p.state.rank() {
		return false
	}
	p.state = to
	return true
}

func (p *ServerProcess) wait() {
	p.waitErr = p.cmd.Wait()
	if p.logFile != nil {
		p.logFile.Close()
	}
	close(p.exited)
}

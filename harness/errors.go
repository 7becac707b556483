package harness

import (
	"errors"
	"fmt"
)

// FatalKind classifies why a run could not complete.
type FatalKind string

const (
	KindPrerequisiteMissing FatalKind = "PREREQUISITE_MISSING"
	KindBuildFailure        FatalKind = "BUILD_FAILURE"
	KindSetupFailure        FatalKind = "SETUP_FAILURE"
	KindLaunchFailure       FatalKind = "LAUNCH_FAILURE"
	KindProcessDied         FatalKind = "PROCESS_DIED"
	KindStartupTimeout      FatalKind = "STARTUP_TIMEOUT"
	KindInterrupted         FatalKind = "INTERRUPTED"
)

// Sentinels for errors.Is; they match any FatalError of the same kind.
var (
	ErrPrerequisiteMissing = &FatalError{Kind: KindPrerequisiteMissing}
	ErrBuildFailure        = &FatalError{Kind: KindBuildFailure}
	ErrSetupFailure        = &FatalError{Kind: KindSetupFailure}
	ErrLaunchFailure       = &FatalError{Kind: KindLaunchFailure}
	ErrProcessDied         = &FatalError{Kind: KindProcessDied}
	ErrStartupTimeout      = &FatalError{Kind: KindStartupTimeout}
	ErrInterrupted         = &FatalError{Kind: KindInterrupted}
)

// FatalError aborts a run. Teardown still runs after it.
type FatalError struct {
	Kind  FatalKind
	Stage string
	// LogPath points at the log most likely to explain the failure.
	LogPath string
	Err     error
}

// Error returns a formatted error string.
func (e *FatalError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Kind, e.Stage)
	if e.Kind == KindInterrupted {
		msg = fmt.Sprintf("[%s] interrupted during %s", e.Kind, e.Stage)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.LogPath != "" {
		msg += " (see " + e.LogPath + ")"
	}
	return msg
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *FatalError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a FatalError of the same kind.
func (e *FatalError) Is(target error) bool {
	var t *FatalError
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

func fatal(kind FatalKind, stage, logPath string, err error) *FatalError {
	return &FatalError{Kind: kind, Stage: stage, LogPath: logPath, Err: err}
}

// KindOf extracts the fatal kind from an error chain. It returns an empty
// kind for errors that are not fatal run errors.
func KindOf(err error) FatalKind {
	var fe *FatalError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

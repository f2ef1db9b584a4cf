package session

import (
	"errors"
	"fmt"
)

var (
	// ErrNotRunning is returned by operations on a session that is not in
	// the Running state or whose engine has exited.
	ErrNotRunning = errors.New("session not running")

	// ErrStartTimeout means the engine did not answer the readiness probe
	// within the start timeout.
	ErrStartTimeout = errors.New("engine not ready within start timeout")

	// ErrExitedBeforeReady means the engine process ended during startup.
	ErrExitedBeforeReady = errors.New("engine exited before becoming ready")

	// ErrShutdownTimeout means the engine ignored the graceful shutdown
	// request and had to be terminated.
	ErrShutdownTimeout = errors.New("engine did not exit within shutdown timeout")

	// ErrUnexpectedExit means the engine exited before shutdown was
	// requested.
	ErrUnexpectedExit = errors.New("engine exited unexpectedly")
)

// StartupError reports that an engine could not be launched or did not
// become ready. Resources have already been released when it is returned.
type StartupError struct {
	Name   string
	Reason string
	Err    error
}

func (e *StartupError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("startup %q: %s: %v", e.Name, e.Reason, e.Err)
	}
	return fmt.Sprintf("startup %q: %s", e.Name, e.Reason)
}

func (e *StartupError) Unwrap() error {
	return e.Err
}

// ShutdownError reports a shutdown that did not complete gracefully. The
// session is Terminated and its sink closed regardless.
type ShutdownError struct {
	Name string

	// Forced is true when the engine had to be signalled.
	Forced bool

	Err error
}

func (e *ShutdownError) Error() string {
	if e.Forced {
		return fmt.Sprintf("shutdown %q (forced): %v", e.Name, e.Err)
	}
	return fmt.Sprintf("shutdown %q: %v", e.Name, e.Err)
}

func (e *ShutdownError) Unwrap() error {
	return e.Err
}

// IsStartupError reports whether err is or wraps a *StartupError.
func IsStartupError(err error) bool {
	var se *StartupError
	return errors.As(err, &se)
}

// IsShutdownError reports whether err is or wraps a *ShutdownError.
func IsShutdownError(err error) bool {
	var se *ShutdownError
	return errors.As(err, &se)
}

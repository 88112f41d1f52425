package daemonctl

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDaemonSpawnFailed indicates the daemon could not be launched or exited before it was ready.
	ErrDaemonSpawnFailed = errors.New("daemon failed to start")
	// ErrReadinessTimeout indicates the daemon launched but never accepted connections in time.
	ErrReadinessTimeout = errors.New("daemon did not become ready")
	// ErrNotRunning indicates no live daemon holds the session.
	ErrNotRunning = errors.New("daemon not running")
)

// SpawnError carries the reason a freshly launched daemon was abandoned.
// It matches ErrDaemonSpawnFailed and, for timeouts, ErrReadinessTimeout.
type SpawnError struct {
	Session string
	PID     int
	Reason  string
	LogPath string
	LogTail string
	Err     error
}

func (e *SpawnError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "session %q: %v: %s", e.Session, ErrDaemonSpawnFailed, e.Reason)
	if tail := strings.TrimSpace(e.LogTail); tail != "" {
		fmt.Fprintf(&b, "\ndaemon log (%s):\n%s", e.LogPath, tail)
	}
	return b.String()
}

func (e *SpawnError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrDaemonSpawnFailed}
	}
	return []error{ErrDaemonSpawnFailed, e.Err}
}

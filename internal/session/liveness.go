package session

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"agentbrowser/internal/procstate"
)

// ReadPID returns the pid stored in markerPath. An empty marker yields 0 and
// no error; content that is not a positive integer is an error.
func ReadPID(markerPath string) (int, error) {
	data, err := os.ReadFile(markerPath)
	if err != nil {
		return 0, err
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return 0, nil
	}
	pid, err := strconv.Atoi(text)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("marker %s: invalid pid %q", markerPath, text)
	}
	return pid, nil
}

// IsAlive reports whether markerPath names a running process. Missing,
// empty, or malformed markers and dead pids are all reported as not alive.
func IsAlive(markerPath string) bool {
	pid, err := ReadPID(markerPath)
	if err != nil || pid == 0 {
		return false
	}
	return procstate.Alive(pid)
}

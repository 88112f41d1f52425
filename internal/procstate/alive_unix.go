//go:build unix

package procstate

import (
	"errors"

	"golang.org/x/sys/unix"
)

// Alive reports whether pid refers to a running process. A process owned by
// another user still counts as alive.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	if err == nil {
		return true
	}
	return errors.Is(err, unix.EPERM)
}

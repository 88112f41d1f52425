//go:build unix

package daemonctl

import "syscall"

// detachedProcAttr starts the daemon in its own session so it survives the
// invoking terminal and does not receive its signals.
func detachedProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}

package daemonctl

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"agentbrowser/internal/ipc"
	"agentbrowser/internal/logging"
	"agentbrowser/internal/procstate"
	"agentbrowser/internal/session"
)

// StopResult captures how a session daemon was stopped.
type StopResult struct {
	PID int
	// Acknowledged is true when the daemon answered the close command.
	Acknowledged bool
	// ForcedKill is true when the daemon outlived the stop timeout.
	ForcedKill bool
}

// Stop asks the daemon for name to close, waits up to StopTimeout for it to
// exit, kills it if it does not, and removes the leftover marker and socket.
// The advisory lock file is kept so concurrent lockers always share one
// inode. A daemon that another invocation is still launching is waited for
// first. It returns ErrNotRunning when no live daemon holds the session;
// stale files are still cleaned up in that case.
func (s *Supervisor) Stop(ctx context.Context, name string) (StopResult, error) {
	if err := session.ValidateName(name); err != nil {
		return StopResult{}, err
	}
	paths := session.Resolve(s.Dir, name)
	logger := s.logger().With(logging.String(logging.FieldSession, paths.Name))

	snap := inspectMarker(paths.MarkerPath, s.claimTTL())
	if snap.state == markerStarting {
		logger.Debug("daemon is starting; waiting before stop")
		if _, err := s.waitForPeer(ctx, paths.MarkerPath); err != nil {
			return StopResult{}, err
		}
		snap = inspectMarker(paths.MarkerPath, s.claimTTL())
	}
	if snap.state != markerAlive {
		if snap.state != markerStarting {
			s.cleanup(paths)
		}
		return StopResult{}, ErrNotRunning
	}

	result := StopResult{PID: snap.pid}
	client := ipc.NewClient(
		ipc.WithTimeouts(s.ConnectTimeout, s.StopTimeout, 0),
		ipc.WithLogger(logger),
	)
	resp, err := client.Send(ctx, paths.Endpoint, ipc.NewCommand("close", nil))
	switch {
	case err == nil:
		result.Acknowledged = resp.Success
	case ctx.Err() != nil:
		return result, ctx.Err()
	default:
		logger.Debug("close command failed", logging.Error(err))
	}

	if !s.waitExit(ctx, snap.pid) {
		if err := kill(snap.pid); err != nil {
			return result, fmt.Errorf("stop daemon %d: %w", snap.pid, err)
		}
		result.ForcedKill = true
		logging.WarnWithContext(logger, "daemon did not exit; killed", "daemon_force_killed",
			logging.Int(logging.FieldPID, snap.pid),
			logging.Duration("stop_timeout", s.StopTimeout),
			logging.String(logging.FieldImpact, "browser state was not saved"),
			logging.String(logging.FieldErrorHint, "inspect the daemon log for a hung action"),
		)
		s.waitExit(ctx, snap.pid)
	}

	s.cleanup(paths)
	return result, nil
}

func (s *Supervisor) waitExit(ctx context.Context, pid int) bool {
	deadline := time.Now().Add(s.StopTimeout)
	for {
		if !procstate.Alive(pid) {
			return true
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			return false
		}
		time.Sleep(s.PollInterval)
	}
}

// cleanup removes the session's leftover files. A marker is only removed
// when it is stale so a daemon started concurrently keeps its claim.
func (s *Supervisor) cleanup(paths session.Paths) {
	snap := inspectMarker(paths.MarkerPath, s.claimTTL())
	if snap.state == markerStale {
		if _, err := reclaimStale(context.Background(), paths.MarkerPath, snap, s.claimTTL()); err != nil {
			s.logger().Debug("stale marker cleanup failed", logging.Error(err))
		}
	}
	if snap.state == markerStale || snap.state == markerMissing {
		path := session.SocketPath(s.Dir, paths.Name)
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.logger().Debug("leftover socket cleanup failed", logging.String("path", path), logging.Error(err))
		}
	}
}

func kill(pid int) error {
	if pid == os.Getpid() {
		return fmt.Errorf("refusing to kill current process (pid %d)", pid)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("locate process: %w", err)
	}
	if err := proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

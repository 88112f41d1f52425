package daemonctl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"agentbrowser/internal/config"
	"agentbrowser/internal/ipc"
	"agentbrowser/internal/logging"
	"agentbrowser/internal/session"
)

// logTailBytes bounds how much of the daemon log a SpawnError carries.
const logTailBytes = 2048

// Args returns the command line a daemon for paths is launched with.
func (s *Supervisor) Args(paths session.Paths) []string {
	args := []string{"daemon", "--session", paths.Name, "--runtime-dir", s.Dir}
	if cfg := strings.TrimSpace(s.ConfigPath); cfg != "" {
		args = append(args, "--config", cfg)
	}
	return args
}

// environ is the inherited environment plus s.Env plus every startup key.
// exec.Cmd keeps the last value of a duplicated key, so startup wins.
func (s *Supervisor) environ(startup config.Startup) []string {
	env := os.Environ()
	env = append(env, s.Env...)
	env = append(env, startup.Env()...)
	env = append(env,
		config.EnvDaemon+"=1",
		config.EnvSocketDir+"="+s.Dir,
	)
	return env
}

// spawn launches the daemon for an already claimed marker and waits for it
// to become ready. On failure the claim is released and the child killed.
func (s *Supervisor) spawn(ctx context.Context, paths session.Paths, startup config.Startup, logger *slog.Logger) (Result, error) {
	fail := func(pid int, reason string, cause error, logPath string, offset int64) (Result, error) {
		if err := releaseClaim(context.WithoutCancel(ctx), paths.MarkerPath, pid); err != nil {
			logging.WarnWithContext(logger, "failed to release session marker", "marker_release_failed",
				logging.Error(err),
				logging.String("marker", paths.MarkerPath),
				logging.String(logging.FieldImpact, "next invocation reclaims the marker once it is stale"),
			)
		}
		spawnErr := &SpawnError{
			Session: paths.Name,
			PID:     pid,
			Reason:  reason,
			LogPath: logPath,
			LogTail: readTail(logPath, offset, logTailBytes),
			Err:     cause,
		}
		logging.ErrorWithContext(logger, "daemon launch failed", "daemon_spawn_failed",
			logging.String("reason", reason),
			logging.String("log_path", logPath),
			logging.String(logging.FieldErrorHint, "inspect the daemon log"),
		)
		return Result{}, spawnErr
	}

	if strings.TrimSpace(s.Executable) == "" {
		return fail(0, "executable path is empty", nil, "", 0)
	}
	logPath := s.LogPath(paths.Name)
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return fail(0, fmt.Sprintf("create log dir: %v", err), err, "", 0)
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fail(0, fmt.Sprintf("open daemon log: %v", err), err, "", 0)
	}
	var offset int64
	if info, statErr := logFile.Stat(); statErr == nil {
		offset = info.Size()
	}

	cmd := exec.Command(s.Executable, s.Args(paths)...)
	cmd.Env = s.environ(startup)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = detachedProcAttr()

	if err := cmd.Start(); err != nil {
		_ = logFile.Close()
		return fail(0, fmt.Sprintf("launch: %v", err), err, logPath, offset)
	}
	_ = logFile.Close()
	pid := cmd.Process.Pid
	logger.Debug("daemon launched",
		logging.Int(logging.FieldPID, pid),
		logging.String("executable", s.Executable),
		logging.String("log_path", logPath),
	)

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	if reason, cause := s.waitReady(ctx, paths, pid, exited); cause != nil {
		stopChild(cmd.Process, exited)
		return fail(pid, reason, cause, logPath, offset)
	}

	logger.Info("daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.Int(logging.FieldPID, pid),
	)
	return Result{PID: pid}, nil
}

// waitReady polls until the endpoint accepts a connection and the marker
// records pid. It returns a reason and cause when the daemon exits first,
// the readiness bound elapses, or ctx is canceled.
func (s *Supervisor) waitReady(ctx context.Context, paths session.Paths, pid int, exited <-chan error) (string, error) {
	deadline := time.NewTimer(s.ReadinessTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(s.PollInterval)
	defer ticker.Stop()

	lastProbe := "endpoint never probed"
	for {
		select {
		case err := <-exited:
			status := "exited"
			if err != nil {
				status = err.Error()
			}
			return fmt.Sprintf("daemon process %d %s before becoming ready", pid, status), errors.New(status)
		case <-deadline.C:
			return fmt.Sprintf("not ready after %s (%s)", s.ReadinessTimeout, lastProbe), ErrReadinessTimeout
		case <-ctx.Done():
			return "launch canceled", ctx.Err()
		case <-ticker.C:
		}

		probeTimeout := s.ConnectTimeout
		if probeTimeout <= 0 || probeTimeout > s.PollInterval*5 {
			probeTimeout = s.PollInterval * 5
		}
		if err := ipc.Probe(ctx, paths.Endpoint, probeTimeout); err != nil {
			lastProbe = err.Error()
			continue
		}
		recorded, err := session.ReadPID(paths.MarkerPath)
		if err != nil || recorded != pid {
			lastProbe = "endpoint bound but marker not yet written"
			continue
		}
		return "", nil
	}
}

func stopChild(proc *os.Process, exited <-chan error) {
	select {
	case <-exited:
		return
	default:
	}
	_ = proc.Kill()
	select {
	case <-exited:
	case <-time.After(2 * time.Second):
	}
}

// readTail returns up to limit bytes written to path after offset.
func readTail(path string, offset int64, limit int64) string {
	if path == "" {
		return ""
	}
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil || info.Size() <= offset {
		return ""
	}
	start := offset
	if info.Size()-start > limit {
		start = info.Size() - limit
	}
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return ""
	}
	data, err := io.ReadAll(io.LimitReader(f, limit))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

package daemonctl

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"agentbrowser/internal/config"
	"agentbrowser/internal/logging"
	"agentbrowser/internal/session"
)

const maxClaimAttempts = 5

// Supervisor launches and stops session daemons sharing one runtime directory.
type Supervisor struct {
	// Dir is the shared runtime directory holding markers and sockets.
	Dir string
	// LogDir receives one daemon-<session>.log per session.
	LogDir string
	// Executable is the binary re-executed with the "daemon" subcommand.
	Executable string
	// ConfigPath is forwarded to the daemon with --config when set.
	ConfigPath string
	// Env is appended to the inherited environment of spawned daemons.
	Env []string

	ConnectTimeout   time.Duration
	ReadinessTimeout time.Duration
	PollInterval     time.Duration
	StopTimeout      time.Duration

	Logger *slog.Logger
}

// Result reports how EnsureDaemon satisfied the request.
type Result struct {
	AlreadyRunning bool
	PID            int
	// Ignored lists startup settings that could not be applied because the
	// daemon was already running.
	Ignored []config.Setting
}

// New builds a supervisor from configuration. executable is normally
// os.Executable().
func New(cfg *config.Config, executable, configPath string, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Supervisor{
		Dir:              cfg.Paths.RuntimeDir,
		LogDir:           cfg.Paths.LogDir,
		Executable:       executable,
		ConfigPath:       configPath,
		ConnectTimeout:   cfg.ConnectTimeout(),
		ReadinessTimeout: cfg.ReadinessTimeout(),
		PollInterval:     cfg.PollInterval(),
		StopTimeout:      cfg.StopTimeout(),
		Logger:           logging.NewComponentLogger(logger, "daemonctl"),
	}
}

func (s *Supervisor) logger() *slog.Logger {
	if s.Logger == nil {
		return logging.NewNop()
	}
	return s.Logger
}

// claimTTL is how long an empty marker is treated as another invocation's
// launch in progress. It covers that invocation's full readiness wait.
func (s *Supervisor) claimTTL() time.Duration {
	return s.ReadinessTimeout + s.ConnectTimeout + time.Second
}

// LogPath returns the daemon log file for name.
func (s *Supervisor) LogPath(name string) string {
	return filepath.Join(s.LogDir, fmt.Sprintf("daemon-%s.log", session.Canonical(name)))
}

// EnsureDaemon returns once a daemon for name is running and accepting
// connections. Exactly one of any number of concurrent callers spawns it;
// the rest report AlreadyRunning. startup only takes effect when this call
// spawns the daemon.
func (s *Supervisor) EnsureDaemon(ctx context.Context, name string, startup config.Startup) (Result, error) {
	if err := session.ValidateName(name); err != nil {
		return Result{}, err
	}
	paths := session.Resolve(s.Dir, name)
	logger := s.logger().With(logging.String(logging.FieldSession, paths.Name))

	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return Result{}, fmt.Errorf("create runtime dir: %w", err)
	}

	for attempt := 1; attempt <= maxClaimAttempts; attempt++ {
		snap := inspectMarker(paths.MarkerPath, s.claimTTL())
		if snap.state == markerAlive {
			return s.alreadyRunning(logger, snap.pid, startup), nil
		}

		err := claimMarker(paths.MarkerPath)
		if err == nil {
			return s.spawn(ctx, paths, startup, logger)
		}
		if !errors.Is(err, fs.ErrExist) {
			return Result{}, fmt.Errorf("claim session marker: %w", err)
		}

		snap = inspectMarker(paths.MarkerPath, s.claimTTL())
		logger.Debug("session marker held",
			logging.String("state", snap.state.String()),
			logging.Int("attempt", attempt),
		)
		switch snap.state {
		case markerAlive:
			return s.alreadyRunning(logger, snap.pid, startup), nil
		case markerStarting:
			pid, err := s.waitForPeer(ctx, paths.MarkerPath)
			if err != nil {
				return Result{}, err
			}
			if pid > 0 {
				return s.alreadyRunning(logger, pid, startup), nil
			}
		case markerStale:
			removed, err := reclaimStale(ctx, paths.MarkerPath, snap, s.claimTTL())
			if err != nil {
				return Result{}, err
			}
			if removed {
				logger.Info("stale session marker reclaimed",
					logging.String(logging.FieldEventType, "stale_marker_reclaimed"),
					logging.Int("stale_pid", snap.pid),
				)
			}
		}
	}
	return Result{}, &SpawnError{
		Session: paths.Name,
		Reason:  fmt.Sprintf("could not claim marker %s after %d attempts", paths.MarkerPath, maxClaimAttempts),
	}
}

func (s *Supervisor) alreadyRunning(logger *slog.Logger, pid int, startup config.Startup) Result {
	ignored := startup.NonDefault()
	if len(ignored) > 0 {
		fields := make([]string, 0, len(ignored))
		for _, setting := range ignored {
			fields = append(fields, setting.Field)
		}
		logger.Debug("startup settings ignored",
			logging.Int(logging.FieldPID, pid),
			logging.String("fields", strings.Join(fields, ",")),
		)
	}
	return Result{AlreadyRunning: true, PID: pid, Ignored: ignored}
}

// waitForPeer waits for another invocation's launch to finish. It returns
// the daemon pid once the marker is alive, or 0 when the claim disappeared
// or went stale and the caller should try to claim again.
func (s *Supervisor) waitForPeer(ctx context.Context, markerPath string) (int, error) {
	deadline := time.NewTimer(s.claimTTL())
	defer deadline.Stop()
	ticker := time.NewTicker(s.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-deadline.C:
			return 0, nil
		case <-ticker.C:
		}
		snap := inspectMarker(markerPath, s.claimTTL())
		switch snap.state {
		case markerAlive:
			return snap.pid, nil
		case markerStarting:
			continue
		default:
			return 0, nil
		}
	}
}

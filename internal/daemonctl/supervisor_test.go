package daemonctl_test

import (
	"context"
	"errors"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"agentbrowser/internal/config"
	"agentbrowser/internal/daemonctl"
	"agentbrowser/internal/ipc"
	"agentbrowser/internal/procstate"
	"agentbrowser/internal/session"
	"agentbrowser/internal/testsupport"
)

func newSupervisor(t *testing.T, mode string, opts ...testsupport.ConfigOption) (*daemonctl.Supervisor, *config.Config) {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	exe, err := os.Executable()
	if err != nil {
		t.Fatalf("executable: %v", err)
	}
	sup := daemonctl.New(cfg, exe, "", nil)
	sup.Env = []string{
		helperModeEnv + "=" + mode,
		helperBaseEnv + "=" + testsupport.BaseDir(cfg),
	}
	return sup, cfg
}

func stopOnCleanup(t *testing.T, sup *daemonctl.Supervisor, name string) {
	t.Cleanup(func() {
		_, _ = sup.Stop(context.Background(), name)
	})
}

func TestEnsureDaemonSpawnsOnceUnderConcurrency(t *testing.T) {
	sup, cfg := newSupervisor(t, "ok")
	stopOnCleanup(t, sup, "shared")

	const callers = 8
	results := make([]daemonctl.Result, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			results[i], errs[i] = sup.EnsureDaemon(context.Background(), "shared", config.Startup{})
		}()
	}
	close(start)
	wg.Wait()

	spawned := 0
	for i := range callers {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if !results[i].AlreadyRunning {
			spawned++
		}
	}
	if spawned != 1 {
		t.Fatalf("%d callers spawned a daemon, want exactly 1", spawned)
	}

	marker := session.Resolve(cfg.Paths.RuntimeDir, "shared").MarkerPath
	pid, err := session.ReadPID(marker)
	if err != nil || pid <= 0 {
		t.Fatalf("marker pid = %d, %v", pid, err)
	}
	for i, res := range results {
		if res.PID != pid {
			t.Fatalf("caller %d saw pid %d, marker holds %d", i, res.PID, pid)
		}
	}
	entries, err := session.NewRegistry(cfg.Paths.RuntimeDir).List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 || !entries[0].Alive || entries[0].Name != "shared" {
		t.Fatalf("registry = %+v", entries)
	}
}

func TestEnsureDaemonEndToEnd(t *testing.T) {
	sup, cfg := newSupervisor(t, "ok")
	stopOnCleanup(t, sup, "e2e")

	res, err := sup.EnsureDaemon(context.Background(), "e2e", config.Startup{})
	if err != nil {
		t.Fatalf("EnsureDaemon: %v", err)
	}
	if res.AlreadyRunning || res.PID <= 0 {
		t.Fatalf("unexpected result %+v", res)
	}

	resp, err := ipc.SendCommand(context.Background(), cfg.Paths.RuntimeDir, "e2e", ipc.NewCommand("url", nil))
	if err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
	var data struct {
		URL string `json:"url"`
	}
	if err := resp.DecodeData(&data); err != nil {
		t.Fatalf("DecodeData: %v", err)
	}
	if !resp.Success || data.URL != "about:blank" {
		t.Fatalf("url response = %+v (%q)", resp, data.URL)
	}
}

func TestEnsureDaemonReportsIgnoredSettings(t *testing.T) {
	sup, _ := newSupervisor(t, "ok")
	stopOnCleanup(t, sup, "ignored")

	if _, err := sup.EnsureDaemon(context.Background(), "ignored", config.Startup{}); err != nil {
		t.Fatalf("EnsureDaemon: %v", err)
	}
	res, err := sup.EnsureDaemon(context.Background(), "ignored", config.Startup{Headed: true, UserAgent: "bot"})
	if err != nil {
		t.Fatalf("EnsureDaemon again: %v", err)
	}
	if !res.AlreadyRunning {
		t.Fatal("second call should find the running daemon")
	}
	var flags []string
	for _, setting := range res.Ignored {
		flags = append(flags, setting.Flag)
	}
	if strings.Join(flags, ",") != "--headed,--user-agent" {
		t.Fatalf("ignored flags = %v", flags)
	}
}

func TestEnsureDaemonRecoversStaleMarker(t *testing.T) {
	sup, cfg := newSupervisor(t, "ok")
	stopOnCleanup(t, sup, "stale")
	marker := session.Resolve(cfg.Paths.RuntimeDir, "stale").MarkerPath
	dead := testsupport.DeadPID(t)
	testsupport.WriteFile(t, marker, strconv.Itoa(dead))

	res, err := sup.EnsureDaemon(context.Background(), "stale", config.Startup{})
	if err != nil {
		t.Fatalf("EnsureDaemon: %v", err)
	}
	if res.AlreadyRunning {
		t.Fatal("a dead pid must not count as running")
	}
	if pid, _ := session.ReadPID(marker); pid != res.PID || pid == dead {
		t.Fatalf("marker pid = %d, result pid = %d, dead pid = %d", pid, res.PID, dead)
	}
}

func TestEnsureDaemonReclaimsAbandonedClaim(t *testing.T) {
	sup, cfg := newSupervisor(t, "ok")
	stopOnCleanup(t, sup, "abandoned")
	marker := session.Resolve(cfg.Paths.RuntimeDir, "abandoned").MarkerPath
	testsupport.WriteFile(t, marker, "")
	testsupport.Age(t, marker, time.Hour)

	res, err := sup.EnsureDaemon(context.Background(), "abandoned", config.Startup{})
	if err != nil {
		t.Fatalf("EnsureDaemon: %v", err)
	}
	if res.AlreadyRunning || !session.IsAlive(marker) {
		t.Fatalf("expected a fresh daemon, got %+v", res)
	}
}

func TestEnsureDaemonReadinessTimeout(t *testing.T) {
	sup, cfg := newSupervisor(t, "hang", testsupport.WithReadiness(time.Second, 50*time.Millisecond))
	marker := session.Resolve(cfg.Paths.RuntimeDir, "hang").MarkerPath

	started := time.Now()
	_, err := sup.EnsureDaemon(context.Background(), "hang", config.Startup{})
	elapsed := time.Since(started)
	if !errors.Is(err, daemonctl.ErrReadinessTimeout) || !errors.Is(err, daemonctl.ErrDaemonSpawnFailed) {
		t.Fatalf("expected readiness timeout, got %v", err)
	}
	if elapsed > sup.ReadinessTimeout+3*time.Second {
		t.Fatalf("EnsureDaemon took %s, bound is %s", elapsed, sup.ReadinessTimeout)
	}
	var spawnErr *daemonctl.SpawnError
	if !errors.As(err, &spawnErr) || spawnErr.PID <= 0 {
		t.Fatalf("expected SpawnError with pid, got %#v", err)
	}
	if _, statErr := os.Stat(marker); !errors.Is(statErr, os.ErrNotExist) {
		t.Fatalf("marker left behind after timeout: %v", statErr)
	}
	testsupport.Eventually(t, 3*time.Second, func() bool {
		return !session.IsAlive(marker) && !procstate.Alive(spawnErr.PID)
	}, "hung daemon was not killed")
}

func TestEnsureDaemonEarlyExitCarriesLogTail(t *testing.T) {
	sup, cfg := newSupervisor(t, "exit")
	marker := session.Resolve(cfg.Paths.RuntimeDir, "crash").MarkerPath

	_, err := sup.EnsureDaemon(context.Background(), "crash", config.Startup{})
	if !errors.Is(err, daemonctl.ErrDaemonSpawnFailed) {
		t.Fatalf("expected spawn failure, got %v", err)
	}
	if errors.Is(err, daemonctl.ErrReadinessTimeout) {
		t.Fatalf("early exit must not be reported as a timeout: %v", err)
	}
	var spawnErr *daemonctl.SpawnError
	if !errors.As(err, &spawnErr) {
		t.Fatalf("expected SpawnError, got %T", err)
	}
	if !strings.Contains(spawnErr.LogTail, "boom: browser executable not found") {
		t.Fatalf("log tail = %q", spawnErr.LogTail)
	}
	if spawnErr.LogPath != sup.LogPath("crash") {
		t.Fatalf("log path = %q", spawnErr.LogPath)
	}
	if _, statErr := os.Stat(marker); !errors.Is(statErr, os.ErrNotExist) {
		t.Fatalf("marker left behind after early exit: %v", statErr)
	}
}

func TestEnsureDaemonRejectsInvalidName(t *testing.T) {
	sup, _ := newSupervisor(t, "ok")
	if _, err := sup.EnsureDaemon(context.Background(), "a/b", config.Startup{}); !errors.Is(err, session.ErrInvalidName) {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}
}

func TestStop(t *testing.T) {
	sup, cfg := newSupervisor(t, "ok")
	stopOnCleanup(t, sup, "stopme")
	paths := session.Resolve(cfg.Paths.RuntimeDir, "stopme")

	res, err := sup.EnsureDaemon(context.Background(), "stopme", config.Startup{})
	if err != nil {
		t.Fatalf("EnsureDaemon: %v", err)
	}
	stopped, err := sup.Stop(context.Background(), "stopme")
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !stopped.Acknowledged || stopped.ForcedKill || stopped.PID != res.PID {
		t.Fatalf("unexpected stop result %+v", stopped)
	}
	if procstate.Alive(res.PID) {
		t.Fatalf("daemon %d still running", res.PID)
	}
	if _, err := os.Stat(paths.MarkerPath); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("marker left behind: %v", err)
	}
	if _, err := sup.Stop(context.Background(), "stopme"); !errors.Is(err, daemonctl.ErrNotRunning) {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestStopWaitsForDaemonThatIsStarting(t *testing.T) {
	sup, cfg := newSupervisor(t, "ok")
	stopOnCleanup(t, sup, "booting")
	marker := session.Resolve(cfg.Paths.RuntimeDir, "booting").MarkerPath

	res, err := sup.EnsureDaemon(context.Background(), "booting", config.Startup{})
	if err != nil {
		t.Fatalf("EnsureDaemon: %v", err)
	}
	// Put the marker back into its claimed-but-not-ready state, then let the
	// launching side finish shortly after Stop begins.
	if err := os.WriteFile(marker, nil, 0o644); err != nil {
		t.Fatalf("reset marker: %v", err)
	}
	finished := make(chan error, 1)
	go func() {
		time.Sleep(300 * time.Millisecond)
		finished <- os.WriteFile(marker, []byte(strconv.Itoa(res.PID)), 0o644)
	}()

	stopped, err := sup.Stop(context.Background(), "booting")
	if werr := <-finished; werr != nil {
		t.Fatalf("write pid: %v", werr)
	}
	if err != nil {
		t.Fatalf("Stop during startup: %v", err)
	}
	if stopped.PID != res.PID || !stopped.Acknowledged {
		t.Fatalf("unexpected stop result %+v", stopped)
	}
	testsupport.Eventually(t, 3*time.Second, func() bool {
		return !procstate.Alive(res.PID)
	}, "daemon kept running after stop")
}

func TestStopCleansStaleFiles(t *testing.T) {
	sup, cfg := newSupervisor(t, "ok")
	paths := session.Resolve(cfg.Paths.RuntimeDir, "leftover")
	testsupport.WriteFile(t, paths.MarkerPath, strconv.Itoa(testsupport.DeadPID(t)))
	socket := session.SocketPath(cfg.Paths.RuntimeDir, "leftover")
	testsupport.WriteFile(t, socket, "")

	if _, err := sup.Stop(context.Background(), "leftover"); !errors.Is(err, daemonctl.ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
	for _, path := range []string{paths.MarkerPath, socket} {
		if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("%s not removed: %v", path, err)
		}
	}
}

func TestDaemonArgs(t *testing.T) {
	sup, cfg := newSupervisor(t, "ok")
	sup.ConfigPath = "/etc/agent-browser.toml"
	got := strings.Join(sup.Args(session.Resolve(cfg.Paths.RuntimeDir, "x")), " ")
	want := "daemon --session x --runtime-dir " + cfg.Paths.RuntimeDir + " --config /etc/agent-browser.toml"
	if got != want {
		t.Fatalf("args = %q, want %q", got, want)
	}
}

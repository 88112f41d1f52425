package daemonrun_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"agentbrowser/internal/config"
	"agentbrowser/internal/daemonrun"
	"agentbrowser/internal/ipc"
	"agentbrowser/internal/session"
	"agentbrowser/internal/testsupport"
)

func startRun(t *testing.T, cfg *config.Config, name string) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() {
		done <- daemonrun.Run(context.Background(), cfg, daemonrun.Options{
			Session: name,
			Startup: &config.Startup{},
		})
	}()
	return done
}

func TestRunServesUntilClose(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	paths := session.Resolve(cfg.Paths.RuntimeDir, "e2e")
	done := startRun(t, cfg, "e2e")

	testsupport.Eventually(t, 5*time.Second, func() bool {
		return session.IsAlive(paths.MarkerPath)
	}, "daemon marker never became alive")
	if pid, err := session.ReadPID(paths.MarkerPath); err != nil || pid != os.Getpid() {
		t.Fatalf("marker pid = %d, %v; want %d", pid, err, os.Getpid())
	}

	ctx := context.Background()
	resp, err := ipc.SendCommand(ctx, cfg.Paths.RuntimeDir, "e2e", ipc.NewCommand("url", nil))
	if err != nil {
		t.Fatalf("SendCommand url: %v", err)
	}
	var data struct {
		URL string `json:"url"`
	}
	if err := resp.DecodeData(&data); err != nil || data.URL != "about:blank" {
		t.Fatalf("url data = %+v, %v", data, err)
	}

	resp, err = ipc.SendCommand(ctx, cfg.Paths.RuntimeDir, "e2e", ipc.NewCommand("close", nil))
	if err != nil {
		t.Fatalf("SendCommand close: %v", err)
	}
	if !resp.Success {
		t.Fatalf("close failed: %s", resp.Error)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after close")
	}
	if _, err := os.Stat(paths.MarkerPath); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("marker left behind: %v", err)
	}
	if paths.Endpoint.Network == "unix" {
		if _, err := os.Stat(paths.Endpoint.Address); !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("socket left behind: %v", err)
		}
	}
	if _, err := ipc.SendCommand(ctx, cfg.Paths.RuntimeDir, "e2e", ipc.NewCommand("url", nil)); !errors.Is(err, ipc.ErrTransportUnreachable) {
		t.Fatalf("expected unreachable after close, got %v", err)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	paths := session.Resolve(cfg.Paths.RuntimeDir, "cancel")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- daemonrun.Run(ctx, cfg, daemonrun.Options{Session: "cancel", Startup: &config.Startup{}})
	}()
	testsupport.Eventually(t, 5*time.Second, func() bool {
		return session.IsAlive(paths.MarkerPath)
	}, "daemon marker never became alive")

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if _, err := os.Stat(paths.MarkerPath); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("marker left behind: %v", err)
	}
}

func TestRunRefusesLiveOwner(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	paths := session.Resolve(cfg.Paths.RuntimeDir, "owned")
	owner := os.Getppid()
	testsupport.WriteFile(t, paths.MarkerPath, strconv.Itoa(owner))

	err := daemonrun.Run(context.Background(), cfg, daemonrun.Options{Session: "owned", Startup: &config.Startup{}})
	if !errors.Is(err, daemonrun.ErrSessionRunning) {
		t.Fatalf("expected ErrSessionRunning, got %v", err)
	}
	if pid, _ := session.ReadPID(paths.MarkerPath); pid != owner {
		t.Fatalf("marker overwritten: %d", pid)
	}
}

func TestRunRejectsInvalidSession(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	err := daemonrun.Run(context.Background(), cfg, daemonrun.Options{Session: "../escape"})
	if !errors.Is(err, session.ErrInvalidName) {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}
	if entries, _ := os.ReadDir(filepath.Dir(session.Resolve(cfg.Paths.RuntimeDir, "x").MarkerPath)); len(entries) != 0 {
		t.Fatalf("runtime dir not empty: %v", entries)
	}
}

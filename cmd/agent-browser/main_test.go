package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"agentbrowser/internal/config"
)

const helperEnv = "AGENT_BROWSER_CLI_TEST_DAEMON"

// TestMain lets the test binary stand in for agent-browser when the
// supervisor re-executes it as a daemon.
func TestMain(m *testing.M) {
	if os.Getenv(helperEnv) == "1" && len(os.Args) > 1 && os.Args[1] == "daemon" {
		os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
	}
	os.Exit(m.Run())
}

type cliEnv struct {
	t          *testing.T
	configPath string
	runtimeDir string
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	base := t.TempDir()
	t.Setenv("HOME", base)
	t.Setenv(helperEnv, "1")
	t.Setenv(config.EnvSession, "")
	t.Setenv(config.EnvSocketDir, "")
	for _, kv := range (config.Startup{}).Env() {
		key, _, _ := strings.Cut(kv, "=")
		t.Setenv(key, "")
	}

	runtimeDir := filepath.Join(base, "run")
	configPath := filepath.Join(base, "config.toml")
	content := fmt.Sprintf(`[paths]
runtime_dir = %q
log_dir = %q
state_dir = %q

[timeouts]
readiness_seconds = 10

[logging]
level = "debug"

[browser]
backend = "memory"
`, runtimeDir, filepath.Join(base, "logs"), filepath.Join(base, "state"))
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return &cliEnv{t: t, configPath: configPath, runtimeDir: runtimeDir}
}

// run executes the CLI against the env's config and session.
func (e *cliEnv) run(sessionName string, args ...string) (int, string, string) {
	e.t.Helper()
	var stdout, stderr bytes.Buffer
	full := append([]string{"--config", e.configPath, "--session", sessionName}, args...)
	code := run(context.Background(), full, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func (e *cliEnv) closeOnCleanup(sessionName string) {
	e.t.Cleanup(func() {
		var out bytes.Buffer
		run(context.Background(), []string{"--config", e.configPath, "--session", sessionName, "close"}, &out, &out)
	})
}

func TestCLIEndToEnd(t *testing.T) {
	env := newCLIEnv(t)
	env.closeOnCleanup("e2e")

	code, stdout, stderr := env.run("e2e", "url")
	if code != 0 {
		t.Fatalf("url exit %d, stderr %q", code, stderr)
	}
	if strings.TrimSpace(stdout) != "about:blank" {
		t.Fatalf("url = %q, want about:blank", stdout)
	}

	page := "data:text/html,<title>Greeting</title><p class=msg>hello there</p>"
	code, stdout, stderr = env.run("e2e", "open", page)
	if code != 0 {
		t.Fatalf("open exit %d, stderr %q", code, stderr)
	}
	if !strings.Contains(stdout, "Greeting") {
		t.Fatalf("open output %q missing title", stdout)
	}

	code, stdout, stderr = env.run("e2e", "exec", "gettext", "selector=.msg")
	if code != 0 {
		t.Fatalf("gettext exit %d, stderr %q", code, stderr)
	}
	if strings.TrimSpace(stdout) != "hello there" {
		t.Fatalf("gettext = %q", stdout)
	}

	code, stdout, _ = env.run("e2e", "--json", "title")
	if code != 0 {
		t.Fatalf("title exit %d", code)
	}
	var resp struct {
		ID      string            `json:"id"`
		Success bool              `json:"success"`
		Data    map[string]string `json:"data"`
	}
	if err := json.Unmarshal([]byte(stdout), &resp); err != nil {
		t.Fatalf("decode %q: %v", stdout, err)
	}
	if !resp.Success || resp.Data["title"] != "Greeting" || resp.ID == "" {
		t.Fatalf("unexpected json response %+v", resp)
	}

	code, stdout, _ = env.run("e2e", "session", "list")
	if code != 0 || !strings.Contains(stdout, "e2e") || !strings.Contains(stdout, "→") {
		t.Fatalf("session list exit %d output %q", code, stdout)
	}

	code, stdout, _ = env.run("e2e", "logs", "--lines", "200")
	if code != 0 || !strings.Contains(stdout, "daemon ready") {
		t.Fatalf("logs exit %d output %q", code, stdout)
	}

	code, stdout, _ = env.run("e2e", "close")
	if code != 0 || !strings.Contains(stdout, "Browser closed") {
		t.Fatalf("close exit %d output %q", code, stdout)
	}
	if _, err := os.Stat(filepath.Join(env.runtimeDir, "agent-browser-e2e.pid")); !os.IsNotExist(err) {
		t.Fatalf("marker still present after close: %v", err)
	}

	code, stdout, _ = env.run("e2e", "close")
	if code != 0 || !strings.Contains(stdout, "not running") {
		t.Fatalf("second close exit %d output %q", code, stdout)
	}
}

func TestCLIWarnsAboutIgnoredSettings(t *testing.T) {
	env := newCLIEnv(t)
	env.closeOnCleanup("warn")

	if code, _, stderr := env.run("warn", "url"); code != 0 {
		t.Fatalf("first url exit %d: %s", code, stderr)
	}
	code, _, stderr := env.run("warn", "--user-agent", "probe/1.0", "url")
	if code != 0 {
		t.Fatalf("second url exit %d: %s", code, stderr)
	}
	want := "--user-agent ignored: daemon already running. Use 'agent-browser close' first to restart with user agent."
	if !strings.Contains(stderr, want) {
		t.Fatalf("stderr %q missing warning", stderr)
	}

	_, _, stderr = env.run("warn", "--json", "--user-agent", "probe/1.0", "url")
	if strings.Contains(stderr, "ignored") {
		t.Fatalf("json mode printed warning: %q", stderr)
	}
}

func TestCLIBrowserSettingFlags(t *testing.T) {
	env := newCLIEnv(t)
	env.closeOnCleanup("flags")

	code, stdout, stderr := env.run("flags", "--session-name", "checkout",
		"--headers", `{"Authorization": "Bearer t0k"}`, "open", "api.example.test/v1")
	if code != 0 {
		t.Fatalf("open with headers exit %d, stderr %q", code, stderr)
	}
	if !strings.Contains(stdout, "https://api.example.test/v1") {
		t.Fatalf("open output %q", stdout)
	}

	if code, _, stderr := env.run("flags", "headers", `{"X-Custom": "value"}`); code != 0 {
		t.Fatalf("headers exit %d, stderr %q", code, stderr)
	}
	if code, _, stderr := env.run("flags", "headers", "X-Custom: value"); code != 1 || !strings.Contains(stderr, "invalid headers JSON") {
		t.Fatalf("bad headers exit %d, stderr %q", code, stderr)
	}

	if code, _, _ := env.run("flags", "close"); code != 0 {
		t.Fatalf("close exit %d", code)
	}
	named := filepath.Join(filepath.Dir(env.configPath), "state", "named", "checkout.json")
	if _, err := os.Stat(named); err != nil {
		t.Fatalf("named state not saved on close: %v", err)
	}
}

func TestCLIRejectsInvalidCDPEndpointBeforeSpawning(t *testing.T) {
	env := newCLIEnv(t)
	env.closeOnCleanup("cdp")

	for _, args := range [][]string{{"--cdp", "0", "url"}, {"--cdp", "70000", "url"}, {"connect", "nope"}} {
		code, _, stderr := env.run("cdp", args...)
		if code != 1 || !strings.Contains(stderr, "CDP") {
			t.Fatalf("%v: exit %d stderr %q", args, code, stderr)
		}
	}
	if _, err := os.Stat(filepath.Join(env.runtimeDir, "agent-browser-cdp.pid")); !os.IsNotExist(err) {
		t.Fatalf("daemon spawned for an invalid endpoint: %v", err)
	}
}

func TestCLIFailures(t *testing.T) {
	env := newCLIEnv(t)
	env.closeOnCleanup("fail")

	code, stdout, stderr := env.run("fail", "exec", "bogus")
	if code != 1 {
		t.Fatalf("exit = %d, want 1", code)
	}
	if stdout != "" || !strings.Contains(stderr, "✗ Unknown action: bogus") {
		t.Fatalf("stdout %q stderr %q", stdout, stderr)
	}

	code, stdout, _ = env.run("bad/name", "--json", "url")
	if code != 1 {
		t.Fatalf("exit = %d, want 1", code)
	}
	var resp map[string]any
	if err := json.Unmarshal([]byte(stdout), &resp); err != nil {
		t.Fatalf("decode %q: %v", stdout, err)
	}
	if resp["success"] != false || !strings.Contains(fmt.Sprint(resp["error"]), "invalid session name") {
		t.Fatalf("unexpected failure payload %v", resp)
	}

	code, _, stderr = env.run("fail", "exec", "click", "noequals")
	if code != 1 || !strings.Contains(stderr, "invalid field") {
		t.Fatalf("exit %d stderr %q", code, stderr)
	}
}

func TestConfigInitWritesLoadableSample(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	target := filepath.Join(t.TempDir(), "nested", "agent-browser.toml")
	var stdout, stderr bytes.Buffer

	if code := run(context.Background(), []string{"config", "init", "--path", target}, &stdout, &stderr); code != 0 {
		t.Fatalf("config init exit %d: %s", code, stderr.String())
	}
	if _, _, exists, err := config.Load(target); err != nil || !exists {
		t.Fatalf("load sample: exists=%v err=%v", exists, err)
	}

	stderr.Reset()
	if code := run(context.Background(), []string{"config", "init", "--path", target}, &stdout, &stderr); code != 1 {
		t.Fatalf("second init exit %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "already exists") {
		t.Fatalf("stderr %q", stderr.String())
	}
}

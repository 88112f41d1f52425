package daemon_test

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"agentbrowser/internal/browser"
	"agentbrowser/internal/config"
	"agentbrowser/internal/daemon"
	"agentbrowser/internal/ipc"
	"agentbrowser/internal/testsupport"
)

type recordingLauncher struct {
	mu         sync.Mutex
	opts       []browser.LaunchOptions
	closed     int
	navHeaders []map[string]string
	setHeaders []map[string]string
}

type trackedEngine struct {
	browser.Engine
	owner *recordingLauncher
}

func (e *trackedEngine) Close() error {
	e.owner.mu.Lock()
	e.owner.closed++
	e.owner.mu.Unlock()
	return e.Engine.Close()
}

func (e *trackedEngine) Navigate(url string, opts browser.NavigateOptions) error {
	e.owner.mu.Lock()
	e.owner.navHeaders = append(e.owner.navHeaders, opts.Headers)
	e.owner.mu.Unlock()
	return e.Engine.Navigate(url, opts)
}

func (e *trackedEngine) SetHeaders(headers map[string]string) error {
	e.owner.mu.Lock()
	e.owner.setHeaders = append(e.owner.setHeaders, headers)
	e.owner.mu.Unlock()
	return e.Engine.SetHeaders(headers)
}

// launch records opts and always runs a memory engine in their place.
func (r *recordingLauncher) launch(opts browser.LaunchOptions) (browser.Engine, error) {
	r.mu.Lock()
	r.opts = append(r.opts, opts)
	r.mu.Unlock()
	opts.Backend = browser.BackendMemory
	opts.CDPEndpoint = ""
	engine, err := browser.Launch(opts)
	if err != nil {
		return nil, err
	}
	return &trackedEngine{Engine: engine, owner: r}, nil
}

func newDaemon(t *testing.T, startup config.Startup) (*daemon.Daemon, *recordingLauncher, *config.Config) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	rec := &recordingLauncher{}
	d, err := daemon.New(cfg, daemon.Options{Session: "work", Startup: startup, Launch: rec.launch})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d, rec, cfg
}

func send(t *testing.T, d *daemon.Daemon, action string, fields map[string]any) ipc.Response {
	t.Helper()
	cmd := ipc.NewCommand(action, fields)
	resp := d.Handle(context.Background(), cmd)
	if resp.ID != cmd.ID() {
		t.Fatalf("response id %q, want %q", resp.ID, cmd.ID())
	}
	return resp
}

func mustOK(t *testing.T, resp ipc.Response) map[string]any {
	t.Helper()
	if !resp.Success {
		t.Fatalf("unexpected failure: %s", resp.Error)
	}
	out := map[string]any{}
	if len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, &out); err != nil {
			t.Fatalf("decode data: %v", err)
		}
	}
	return out
}

func TestUnknownAction(t *testing.T) {
	d, rec, _ := newDaemon(t, config.Startup{})
	resp := send(t, d, "teleport", nil)
	if resp.Success || resp.Error != "Unknown action: teleport" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if len(rec.opts) != 0 {
		t.Fatal("unknown action must not launch a browser")
	}
}

func TestEngineLaunchedLazilyFromStartup(t *testing.T) {
	startup := config.Startup{Headed: true, Persist: true, UserAgent: "bot/1", Args: []string{"--a"}}
	d, rec, cfg := newDaemon(t, startup)

	if got := mustOK(t, send(t, d, "status", nil)); got["launched"] != false {
		t.Fatalf("status before launch: %v", got)
	}
	if got := mustOK(t, send(t, d, "url", nil)); got["url"] != "about:blank" {
		t.Fatalf("url = %v", got["url"])
	}
	mustOK(t, send(t, d, "title", nil))

	if len(rec.opts) != 1 {
		t.Fatalf("launched %d times, want 1", len(rec.opts))
	}
	opts := rec.opts[0]
	if opts.Headless || opts.UserAgent != "bot/1" || len(opts.Args) != 1 {
		t.Fatalf("launch options not derived from startup: %+v", opts)
	}
	if opts.PersistPath != cfg.StatePath("work") {
		t.Fatalf("persist path = %q, want %q", opts.PersistPath, cfg.StatePath("work"))
	}
	if opts.Backend != "memory" {
		t.Fatalf("backend default not applied: %q", opts.Backend)
	}
	if got := mustOK(t, send(t, d, "status", nil)); got["launched"] != true || got["session"] != "work" {
		t.Fatalf("status after launch: %v", got)
	}
}

func TestPageActions(t *testing.T) {
	d, _, _ := newDaemon(t, config.Startup{})
	page := `<title>Demo</title><h1 class="h">Hi</h1><input id="q"><a id="l">x</a><input type="checkbox" id="c">`
	nav := mustOK(t, send(t, d, "open", map[string]any{"url": "data:text/html," + url.PathEscape(page)}))
	if nav["title"] != "Demo" || !strings.HasPrefix(nav["url"].(string), "data:") {
		t.Fatalf("navigate data = %v", nav)
	}

	mustOK(t, send(t, d, "fill", map[string]any{"selector": "#q", "value": "go"}))
	mustOK(t, send(t, d, "type", map[string]any{"selector": "#q", "text": "lang"}))
	if got := mustOK(t, send(t, d, "inputvalue", map[string]any{"selector": "#q"})); got["value"] != "golang" {
		t.Fatalf("inputvalue = %v", got)
	}
	if got := mustOK(t, send(t, d, "gettext", map[string]any{"selector": ".h"})); got["text"] != "Hi" {
		t.Fatalf("gettext = %v", got)
	}
	if got := mustOK(t, send(t, d, "count", map[string]any{"selector": "input"})); got["count"] != float64(2) {
		t.Fatalf("count = %v", got)
	}
	if got := mustOK(t, send(t, d, "getattribute", map[string]any{"selector": "#l", "attribute": "href"})); got["value"] != nil {
		t.Fatalf("missing attribute = %v", got)
	}
	if got := mustOK(t, send(t, d, "isvisible", map[string]any{"selector": "h1"})); got["visible"] != true {
		t.Fatalf("isvisible = %v", got)
	}
	if got := mustOK(t, send(t, d, "check", map[string]any{"selector": "#c"})); got["checked"] != true {
		t.Fatalf("check = %v", got)
	}
	if got := mustOK(t, send(t, d, "evaluate", map[string]any{"script": "document.title"})); got["result"] != "Demo" {
		t.Fatalf("evaluate = %v", got)
	}
	if got := mustOK(t, send(t, d, "content", nil)); !strings.Contains(got["html"].(string), "<h1") {
		t.Fatalf("content = %v", got)
	}
	if got := mustOK(t, send(t, d, "back", nil)); got["url"] != "about:blank" {
		t.Fatalf("back = %v", got)
	}

	for action, fields := range map[string]map[string]any{
		"click":      nil,
		"navigate":   nil,
		"type":       {"selector": "#q"},
		"press":      nil,
		"evaluate":   nil,
		"wait":       nil,
		"gettext":    {"selector": "#nope"},
		"screenshot": nil,
	} {
		if resp := send(t, d, action, fields); resp.Success {
			t.Fatalf("%s with %v should fail", action, fields)
		}
	}
}

func TestWaitForTimeout(t *testing.T) {
	d, rec, _ := newDaemon(t, config.Startup{})
	started := time.Now()
	mustOK(t, send(t, d, "wait", map[string]any{"timeout": json.Number("30")}))
	if time.Since(started) < 30*time.Millisecond {
		t.Fatal("wait returned early")
	}
	if len(rec.opts) != 0 {
		t.Fatal("a timed wait must not launch a browser")
	}
}

func TestLaunchActionRelaunchesWithOverrides(t *testing.T) {
	d, rec, _ := newDaemon(t, config.Startup{})
	mustOK(t, send(t, d, "url", nil))
	got := mustOK(t, send(t, d, "launch", map[string]any{
		"headless":  false,
		"userAgent": "custom",
		"args":      []any{"--x", "--y"},
		"proxy":     map[string]any{"server": "http://proxy:3128", "username": "u", "password": "p"},
	}))
	if got["launched"] != true {
		t.Fatalf("launch data = %v", got)
	}
	if len(rec.opts) != 2 || rec.closed != 1 {
		t.Fatalf("launches=%d closes=%d, want 2 and 1", len(rec.opts), rec.closed)
	}
	opts := rec.opts[1]
	if opts.Headless || opts.UserAgent != "custom" || len(opts.Args) != 2 {
		t.Fatalf("overrides not applied: %+v", opts)
	}
	if opts.Proxy == nil || opts.Proxy.Server != "http://proxy:3128" || opts.Proxy.Password != "p" {
		t.Fatalf("proxy = %+v", opts.Proxy)
	}
	if resp := send(t, d, "launch", map[string]any{"proxy": map[string]any{}}); resp.Success {
		t.Fatal("proxy without server should fail")
	}
}

func TestLaunchActionConnectsOverCDP(t *testing.T) {
	d, rec, _ := newDaemon(t, config.Startup{})
	tests := []struct {
		port any
		want string
	}{
		{json.Number("9222"), "http://localhost:9222"},
		{"9333", "http://localhost:9333"},
		{"ws://127.0.0.1:9222/devtools/browser/abc", "ws://127.0.0.1:9222/devtools/browser/abc"},
	}
	for _, tt := range tests {
		mustOK(t, send(t, d, "launch", map[string]any{"cdpPort": tt.port}))
		opts := rec.opts[len(rec.opts)-1]
		if opts.CDPEndpoint != tt.want {
			t.Fatalf("cdpPort %v: endpoint = %q, want %q", tt.port, opts.CDPEndpoint, tt.want)
		}
		if opts.Backend != browser.BackendChromium {
			t.Fatalf("cdpPort %v: backend = %q, want chromium", tt.port, opts.Backend)
		}
	}

	launches := len(rec.opts)
	for _, bad := range []any{json.Number("0"), json.Number("65536"), "abc", json.Number("92.5")} {
		resp := send(t, d, "launch", map[string]any{"cdpPort": bad})
		if resp.Success || !strings.Contains(resp.Error, "CDP") {
			t.Fatalf("cdpPort %v: %+v", bad, resp)
		}
	}
	if len(rec.opts) != launches {
		t.Fatal("an invalid CDP endpoint must not relaunch the browser")
	}
}

func TestHeadersReachTheEngine(t *testing.T) {
	d, rec, _ := newDaemon(t, config.Startup{})
	mustOK(t, send(t, d, "navigate", map[string]any{
		"url":     "https://api.example.com/",
		"headers": map[string]any{"Authorization": "Bearer t0k", "X-Retry": json.Number("3")},
	}))
	mustOK(t, send(t, d, "navigate", map[string]any{"url": "about:blank"}))
	if len(rec.navHeaders) != 2 {
		t.Fatalf("navigations = %d", len(rec.navHeaders))
	}
	if got := rec.navHeaders[0]; got["Authorization"] != "Bearer t0k" || got["X-Retry"] != "3" {
		t.Fatalf("navigate headers = %v", got)
	}
	if rec.navHeaders[1] != nil {
		t.Fatalf("headers leaked into a plain navigation: %v", rec.navHeaders[1])
	}

	mustOK(t, send(t, d, "headers", map[string]any{"headers": map[string]any{"X-Custom": "v"}}))
	if len(rec.setHeaders) != 1 || rec.setHeaders[0]["X-Custom"] != "v" {
		t.Fatalf("set headers = %v", rec.setHeaders)
	}

	for _, fields := range []map[string]any{
		nil,
		{"headers": "X-Custom: v"},
		{"headers": map[string]any{"X": []any{"a"}}},
	} {
		if resp := send(t, d, "headers", fields); resp.Success {
			t.Fatalf("headers with %v should fail", fields)
		}
	}
	if resp := send(t, d, "navigate", map[string]any{"url": "https://a.test/", "headers": []any{}}); resp.Success {
		t.Fatal("navigate with non-object headers should fail")
	}
}

func TestSessionNameSelectsNamedState(t *testing.T) {
	d, rec, cfg := newDaemon(t, config.Startup{SessionName: "checkout", Persist: true})
	mustOK(t, send(t, d, "url", nil))
	if got, want := rec.opts[0].PersistPath, cfg.NamedStatePath("checkout"); got != want {
		t.Fatalf("persist path = %q, want %q", got, want)
	}

	cfg2 := testsupport.NewConfig(t)
	if _, err := daemon.New(cfg2, daemon.Options{Session: "work", Startup: config.Startup{SessionName: "../escape"}}); err == nil {
		t.Fatal("expected a path-like session name to be rejected")
	}
}

func TestCloseStopsDaemon(t *testing.T) {
	d, rec, _ := newDaemon(t, config.Startup{})
	mustOK(t, send(t, d, "url", nil))
	if got := mustOK(t, send(t, d, "close", nil)); got["closed"] != true {
		t.Fatalf("close = %v", got)
	}
	select {
	case <-d.Done():
	default:
		t.Fatal("Done not closed after close action")
	}
	if rec.closed != 1 {
		t.Fatalf("engine closed %d times", rec.closed)
	}
	resp := send(t, d, "url", nil)
	if resp.Success || resp.Error != daemon.ErrShuttingDown.Error() {
		t.Fatalf("after close: %+v", resp)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close after close action: %v", err)
	}
}

func TestActionsSorted(t *testing.T) {
	names := daemon.Actions()
	for i := 1; i < len(names); i++ {
		if names[i-1] >= names[i] {
			t.Fatalf("actions not sorted: %v", names)
		}
	}
	for _, want := range []string{"navigate", "url", "close", "launch"} {
		found := false
		for _, name := range names {
			found = found || name == want
		}
		if !found {
			t.Fatalf("missing action %q", want)
		}
	}
}

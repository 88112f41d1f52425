package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"agentbrowser/internal/config"
	"agentbrowser/internal/ipc"
)

func newTestRenderer(jsonMode bool) (*renderer, *bytes.Buffer, *bytes.Buffer) {
	var stdout, stderr bytes.Buffer
	return newRenderer(&stdout, &stderr, jsonMode, false), &stdout, &stderr
}

func TestRendererResponseShapes(t *testing.T) {
	cases := []struct {
		name string
		data any
		want string
	}{
		{"navigate", map[string]any{"url": "https://example.com", "title": "Example"}, "✓ Example\n  https://example.com\n"},
		{"url", map[string]any{"url": "about:blank"}, "about:blank\n"},
		{"title", map[string]any{"title": "Example"}, "Example\n"},
		{"text", map[string]any{"text": "hello"}, "hello\n"},
		{"count", map[string]any{"count": 3}, "3\n"},
		{"visible", map[string]any{"visible": false}, "false\n"},
		{"checked", map[string]any{"checked": true}, "true\n"},
		{"result", map[string]any{"result": map[string]any{"a": 1}}, "{\n  \"a\": 1\n}\n"},
		{"missing attribute", map[string]any{"value": nil}, "null\n"},
		{"closed", map[string]any{"closed": true}, "✓ Browser closed\n"},
		{"launched", map[string]any{"launched": true, "backend": "memory"}, "✓ Browser launched (memory)\n"},
		{"path", map[string]any{"path": "/tmp/shot.png"}, "✓ Saved to /tmp/shot.png\n"},
		{"no data", nil, "✓ Done\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r, stdout, stderr := newTestRenderer(false)
			resp := ipc.OK("r1", tc.data)
			r.response(&resp)
			if got := stdout.String(); got != tc.want {
				t.Fatalf("stdout = %q, want %q", got, tc.want)
			}
			if stderr.Len() != 0 {
				t.Fatalf("unexpected stderr %q", stderr.String())
			}
		})
	}
}

func TestRendererStatus(t *testing.T) {
	r, stdout, _ := newTestRenderer(false)
	resp := ipc.OK("r1", map[string]any{
		"session": "work", "pid": 42, "backend": "memory", "launched": true, "url": "about:blank", "uptime": "3s",
	})
	r.response(&resp)
	for _, want := range []string{"Session:  work", "PID:      42", "Launched: yes", "URL:      about:blank"} {
		if !strings.Contains(stdout.String(), want) {
			t.Fatalf("status output %q missing %q", stdout.String(), want)
		}
	}
}

func TestRendererFailure(t *testing.T) {
	r, stdout, stderr := newTestRenderer(false)
	resp := ipc.Fail("r1", "Unknown action: bogus")
	r.response(&resp)
	if stdout.Len() != 0 || stderr.String() != "✗ Unknown action: bogus\n" {
		t.Fatalf("stdout %q stderr %q", stdout.String(), stderr.String())
	}

	r, _, stderr = newTestRenderer(false)
	resp = ipc.Fail("r1", "")
	r.response(&resp)
	if stderr.String() != "✗ Unknown error\n" {
		t.Fatalf("stderr %q", stderr.String())
	}
}

func TestRendererJSONMode(t *testing.T) {
	r, stdout, _ := newTestRenderer(true)
	resp := ipc.OK("r1", map[string]any{"url": "about:blank"})
	r.response(&resp)
	var got map[string]any
	if err := json.Unmarshal(stdout.Bytes(), &got); err != nil {
		t.Fatalf("decode %q: %v", stdout.String(), err)
	}
	if got["id"] != "r1" || got["success"] != true {
		t.Fatalf("unexpected json %v", got)
	}

	r, stdout, stderr := newTestRenderer(true)
	r.fail(errors.New("daemon not reachable"))
	if stderr.Len() != 0 || strings.TrimSpace(stdout.String()) != `{"success":false,"error":"daemon not reachable"}` {
		t.Fatalf("stdout %q stderr %q", stdout.String(), stderr.String())
	}
}

func TestWarnIgnored(t *testing.T) {
	settings := config.Startup{Headed: true, Backend: "firefox"}.NonDefault()

	r, _, stderr := newTestRenderer(false)
	r.warnIgnored(settings)
	want := "⚠ --headed ignored: daemon already running. Use 'agent-browser close' first to restart in headed mode.\n" +
		"⚠ --backend ignored: daemon already running. Use 'agent-browser close' first to restart with different backend.\n"
	if stderr.String() != want {
		t.Fatalf("stderr = %q, want %q", stderr.String(), want)
	}

	r, _, stderr = newTestRenderer(true)
	r.warnIgnored(settings)
	if stderr.Len() != 0 {
		t.Fatalf("json mode warned: %q", stderr.String())
	}
}

func TestColorEnabledHonoursNoColor(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	if colorEnabled(&bytes.Buffer{}) {
		t.Fatal("color enabled with NO_COLOR set")
	}
	r := newRenderer(&bytes.Buffer{}, &bytes.Buffer{}, false, true)
	if got := r.successMark(); got != ansiGreen+"✓"+ansiReset {
		t.Fatalf("successMark = %q", got)
	}
}

package session_test

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"

	"agentbrowser/internal/session"
	"agentbrowser/internal/testsupport"
)

func writeMarker(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := session.Resolve(dir, name).MarkerPath
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write marker: %v", err)
	}
	return path
}

func TestResolveIsDeterministic(t *testing.T) {
	dir := t.TempDir()
	a := session.Resolve(dir, "work")
	b := session.Resolve(dir, "  work ")
	if a != b {
		t.Fatalf("expected identical paths, got %+v and %+v", a, b)
	}
	if want := filepath.Join(dir, "agent-browser-work.pid"); a.MarkerPath != want {
		t.Fatalf("marker path = %q, want %q", a.MarkerPath, want)
	}
	if runtime.GOOS != "windows" {
		if a.Endpoint.Network != "unix" || a.Endpoint.Address != filepath.Join(dir, "agent-browser-work.sock") {
			t.Fatalf("unexpected endpoint %+v", a.Endpoint)
		}
	}
	if session.Resolve(dir, "other").Endpoint == a.Endpoint {
		t.Fatal("expected distinct endpoints for distinct sessions")
	}
}

func TestResolveDefaultsEmptyName(t *testing.T) {
	p := session.Resolve("/tmp", "")
	if p.Name != session.DefaultName {
		t.Fatalf("expected default name, got %q", p.Name)
	}
	if !strings.HasSuffix(p.MarkerPath, "agent-browser-default.pid") {
		t.Fatalf("unexpected marker %q", p.MarkerPath)
	}
}

func TestResolveNormalizesUnicode(t *testing.T) {
	composed := session.Resolve("/tmp", "caf\u00e9")
	decomposed := session.Resolve("/tmp", "cafe\u0301")
	if composed.MarkerPath != decomposed.MarkerPath {
		t.Fatalf("expected NFC-equal names to share a marker: %q vs %q", composed.MarkerPath, decomposed.MarkerPath)
	}
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		wantErr bool
	}{
		{"default", false},
		{"work-1", false},
		{"", false},
		{"a/b", true},
		{`a\b`, true},
		{"..", true},
		{"x..y", true},
		{"nul\x00", true},
	}
	for _, tt := range tests {
		err := session.ValidateName(tt.name)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ValidateName(%q) err=%v, wantErr=%v", tt.name, err, tt.wantErr)
		}
		if err != nil && !errors.Is(err, session.ErrInvalidName) {
			t.Fatalf("expected ErrInvalidName, got %v", err)
		}
	}
}

func TestIsAlive(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content string
		want    bool
	}{
		{"self", strconv.Itoa(os.Getpid()), true},
		{"self-newline", strconv.Itoa(os.Getpid()) + "\n", true},
		{"empty", "", false},
		{"garbage", "not-a-pid", false},
		{"zero", "0", false},
		{"negative", "-5", false},
	}
	for _, tt := range tests {
		path := writeMarker(t, dir, tt.name, tt.content)
		if got := session.IsAlive(path); got != tt.want {
			t.Fatalf("IsAlive(%s) = %v, want %v", tt.name, got, tt.want)
		}
	}
	if session.IsAlive(filepath.Join(dir, "missing.pid")) {
		t.Fatal("expected missing marker to be not alive")
	}
}

func TestIsAliveStalePID(t *testing.T) {
	dir := t.TempDir()
	path := writeMarker(t, dir, "stale", strconv.Itoa(testsupport.DeadPID(t)))
	if session.IsAlive(path) {
		t.Fatal("expected stale marker to be reported not alive")
	}
}

func TestReadPID(t *testing.T) {
	dir := t.TempDir()
	path := writeMarker(t, dir, "empty", "")
	pid, err := session.ReadPID(path)
	if err != nil || pid != 0 {
		t.Fatalf("ReadPID(empty) = %d, %v", pid, err)
	}
	path = writeMarker(t, dir, "bad", "abc")
	if _, err := session.ReadPID(path); err == nil {
		t.Fatal("expected error for malformed marker")
	}
	if _, err := session.ReadPID(filepath.Join(dir, "nope.pid")); !os.IsNotExist(err) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestRegistryList(t *testing.T) {
	dir := t.TempDir()
	writeMarker(t, dir, "live", strconv.Itoa(os.Getpid()))
	writeMarker(t, dir, "stale", strconv.Itoa(testsupport.DeadPID(t)))
	writeMarker(t, dir, "starting", "")
	if err := os.WriteFile(filepath.Join(dir, "unrelated.pid"), []byte("1"), 0o644); err != nil {
		t.Fatalf("write unrelated: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "agent-browser-live.sock"), nil, 0o644); err != nil {
		t.Fatalf("write socket placeholder: %v", err)
	}

	entries, err := session.NewRegistry(dir).List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	session.SortEntries(entries)

	want := []session.Entry{
		{Name: "live", PID: os.Getpid(), Alive: true},
		{Name: "stale", PID: entries[1].PID, Alive: false},
		{Name: "starting"},
	}
	if len(entries) != len(want) {
		t.Fatalf("expected %d entries, got %+v", len(want), entries)
	}
	for i := range want {
		if entries[i] != want[i] {
			t.Fatalf("entry %d = %+v, want %+v", i, entries[i], want[i])
		}
	}
}

func TestRegistryListMissingDir(t *testing.T) {
	entries, err := session.NewRegistry(filepath.Join(t.TempDir(), "absent")).List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no entries, got %+v", entries)
	}
}

func TestRegistryListSkipsMarkerRemovedDuringScan(t *testing.T) {
	dir := t.TempDir()
	writeMarker(t, dir, "kept", strconv.Itoa(os.Getpid()))

	// A dangling link is listed by ReadDir but reads as not-exist, the same
	// view a scan gets when a daemon removes its marker between the two steps.
	gone := session.Resolve(dir, "gone").MarkerPath
	if err := os.Symlink(filepath.Join(dir, "removed.pid"), gone); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	if _, err := session.ReadPID(gone); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("ReadPID on removed marker = %v, want not-exist", err)
	}

	entries, err := session.NewRegistry(dir).List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "kept" || !entries[0].Alive {
		t.Fatalf("entries = %+v, want only the live kept session", entries)
	}
}

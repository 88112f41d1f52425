package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"agentbrowser/internal/config"
	"agentbrowser/internal/ipc"
)

const (
	ansiReset  = "\x1b[0m"
	ansiBold   = "\x1b[1m"
	ansiDim    = "\x1b[2m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
)

// renderer prints daemon replies and local failures. Its color decision is
// fixed when it is built.
type renderer struct {
	stdout io.Writer
	stderr io.Writer
	json   bool
	color  bool
}

func newRenderer(stdout, stderr io.Writer, jsonMode, color bool) *renderer {
	return &renderer{stdout: stdout, stderr: stderr, json: jsonMode, color: color}
}

// colorEnabled honours NO_COLOR and only colors terminals.
func colorEnabled(w io.Writer) bool {
	if _, set := os.LookupEnv("NO_COLOR"); set {
		return false
	}
	return shouldColorize(w)
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func (r *renderer) paint(code, text string) string {
	if !r.color {
		return text
	}
	return code + text + ansiReset
}

func (r *renderer) successMark() string { return r.paint(ansiGreen, "✓") }
func (r *renderer) errorMark() string   { return r.paint(ansiRed, "✗") }
func (r *renderer) warnMark() string    { return r.paint(ansiYellow, "⚠") }

// fail reports a local error.
func (r *renderer) fail(err error) {
	if r.json {
		_ = writeJSONLine(r.stdout, ipc.Response{Success: false, Error: err.Error()})
		return
	}
	fmt.Fprintf(r.stderr, "%s %s\n", r.errorMark(), err)
}

// warnIgnored tells the user which startup flags a running daemon did not
// pick up. Nothing is printed in JSON mode.
func (r *renderer) warnIgnored(settings []config.Setting) {
	if r.json {
		return
	}
	for _, s := range settings {
		fmt.Fprintf(r.stderr, "%s %s ignored: daemon already running. Use 'agent-browser close' first %s.\n", r.warnMark(), s.Flag, s.Hint)
	}
}

// response prints a daemon reply. The first recognised data key decides
// the shape of the output.
func (r *renderer) response(resp *ipc.Response) {
	if r.json {
		_ = writeJSONLine(r.stdout, resp)
		return
	}
	if !resp.Success {
		msg := resp.Error
		if strings.TrimSpace(msg) == "" {
			msg = "Unknown error"
		}
		fmt.Fprintf(r.stderr, "%s %s\n", r.errorMark(), msg)
		return
	}

	var data map[string]json.RawMessage
	if len(resp.Data) == 0 || json.Unmarshal(resp.Data, &data) != nil {
		fmt.Fprintf(r.stdout, "%s Done\n", r.successMark())
		return
	}
	str := func(key string) (string, bool) {
		raw, ok := data[key]
		if !ok || string(raw) == "null" {
			return "", false
		}
		var s string
		if json.Unmarshal(raw, &s) != nil {
			return "", false
		}
		return s, true
	}
	boolean := func(key string) (bool, bool) {
		raw, ok := data[key]
		if !ok {
			return false, false
		}
		var b bool
		if json.Unmarshal(raw, &b) != nil {
			return false, false
		}
		return b, true
	}

	if _, ok := data["uptime"]; ok {
		r.status(data)
		return
	}
	if url, ok := str("url"); ok {
		if title, ok := str("title"); ok {
			fmt.Fprintf(r.stdout, "%s %s\n", r.successMark(), r.paint(ansiBold, title))
			fmt.Fprintf(r.stdout, "  %s\n", r.paint(ansiDim, url))
			return
		}
		fmt.Fprintln(r.stdout, url)
		return
	}
	for _, key := range []string{"title", "text", "html", "value", "base64"} {
		if s, ok := str(key); ok {
			fmt.Fprintln(r.stdout, s)
			return
		}
	}
	if raw, ok := data["count"]; ok {
		fmt.Fprintln(r.stdout, string(raw))
		return
	}
	for _, key := range []string{"visible", "checked"} {
		if b, ok := boolean(key); ok {
			fmt.Fprintln(r.stdout, b)
			return
		}
	}
	if raw, ok := data["result"]; ok {
		var pretty bytes.Buffer
		if json.Indent(&pretty, raw, "", "  ") != nil {
			pretty.Reset()
			pretty.Write(raw)
		}
		fmt.Fprintln(r.stdout, pretty.String())
		return
	}
	if _, ok := data["value"]; ok {
		// getattribute on a missing attribute
		fmt.Fprintln(r.stdout, "null")
		return
	}
	if _, ok := data["closed"]; ok {
		fmt.Fprintf(r.stdout, "%s Browser closed\n", r.successMark())
		return
	}
	if _, ok := boolean("launched"); ok {
		backend, _ := str("backend")
		fmt.Fprintf(r.stdout, "%s Browser launched (%s)\n", r.successMark(), backend)
		return
	}
	if path, ok := str("path"); ok {
		fmt.Fprintf(r.stdout, "%s Saved to %s\n", r.successMark(), path)
		return
	}
	fmt.Fprintf(r.stdout, "%s Done\n", r.successMark())
}

func (r *renderer) status(data map[string]json.RawMessage) {
	var st struct {
		Session  string `json:"session"`
		PID      int    `json:"pid"`
		Backend  string `json:"backend"`
		Launched bool   `json:"launched"`
		URL      string `json:"url"`
		Uptime   string `json:"uptime"`
	}
	raw, _ := json.Marshal(data)
	_ = json.Unmarshal(raw, &st)
	fmt.Fprintf(r.stdout, "Session:  %s\n", st.Session)
	fmt.Fprintf(r.stdout, "PID:      %d\n", st.PID)
	fmt.Fprintf(r.stdout, "Backend:  %s\n", st.Backend)
	fmt.Fprintf(r.stdout, "Launched: %s\n", yesNo(st.Launched))
	if st.URL != "" {
		fmt.Fprintf(r.stdout, "URL:      %s\n", st.URL)
	}
	fmt.Fprintf(r.stdout, "Uptime:   %s\n", st.Uptime)
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}

package daemonctl_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"agentbrowser/internal/config"
	"agentbrowser/internal/daemonrun"
)

// The supervisor re-executes the test binary as its daemon. helperModeEnv
// selects how that fake daemon behaves.
const (
	helperModeEnv = "AGENT_BROWSER_TEST_DAEMON"
	helperBaseEnv = "AGENT_BROWSER_TEST_BASE"
)

func TestMain(m *testing.M) {
	if mode := os.Getenv(helperModeEnv); mode != "" && len(os.Args) > 1 && os.Args[1] == "daemon" {
		os.Exit(runHelperDaemon(mode, os.Args[2:]))
	}
	os.Exit(m.Run())
}

func runHelperDaemon(mode string, args []string) int {
	var name, runtimeDir string
	for i := 0; i+1 < len(args); i++ {
		switch args[i] {
		case "--session":
			name = args[i+1]
		case "--runtime-dir":
			runtimeDir = args[i+1]
		}
	}

	switch mode {
	case "exit":
		fmt.Fprintln(os.Stderr, "boom: browser executable not found")
		return 3
	case "hang":
		time.Sleep(time.Hour)
		return 0
	case "ok":
	default:
		fmt.Fprintf(os.Stderr, "unknown helper mode %q\n", mode)
		return 2
	}

	base := os.Getenv(helperBaseEnv)
	cfg := config.Default()
	cfg.Paths.RuntimeDir = runtimeDir
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.StateDir = filepath.Join(base, "state")
	cfg.Browser.Backend = "memory"
	cfg.Logging.Level = "debug"
	if err := daemonrun.Run(context.Background(), &cfg, daemonrun.Options{Session: name}); err != nil {
		fmt.Fprintf(os.Stderr, "daemon: %v\n", err)
		return 1
	}
	return 0
}

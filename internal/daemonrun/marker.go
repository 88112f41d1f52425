package daemonrun

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"agentbrowser/internal/logging"
	"agentbrowser/internal/session"
)

// writeMarker replaces the marker atomically so readers never observe a
// partially written pid.
func writeMarker(path string, pid int) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(strconv.Itoa(pid) + "\n"); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("install marker: %w", err)
	}
	return nil
}

// removeMarker deletes the marker only while it still names pid; a newer
// daemon may have taken the session over.
func removeMarker(path string, pid int, logger *slog.Logger) {
	owner, err := session.ReadPID(path)
	if err != nil || owner != pid {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logging.WarnWithContext(logger, "failed to remove session marker", "marker_cleanup_failed",
			logging.String("marker", path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "the next invocation treats the marker as stale"),
		)
	}
}

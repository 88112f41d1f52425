package daemonctl

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/gofrs/flock"

	"agentbrowser/internal/procstate"
)

type markerState int

const (
	markerMissing markerState = iota
	// markerStarting is an empty marker young enough to belong to an
	// invocation that is still launching its daemon.
	markerStarting
	markerAlive
	// markerStale covers dead pids, garbage, and abandoned empty claims.
	markerStale
)

func (s markerState) String() string {
	switch s {
	case markerMissing:
		return "missing"
	case markerStarting:
		return "starting"
	case markerAlive:
		return "alive"
	default:
		return "stale"
	}
}

type markerSnapshot struct {
	state   markerState
	pid     int
	content []byte
}

// inspectMarker classifies the marker at path. claimTTL bounds how long an
// empty marker is trusted as an in-progress claim.
func inspectMarker(path string, claimTTL time.Duration) markerSnapshot {
	info, err := os.Stat(path)
	if err != nil {
		return markerSnapshot{state: markerMissing}
	}
	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return markerSnapshot{state: markerMissing}
		}
		return markerSnapshot{state: markerStale}
	}
	text := bytes.TrimSpace(content)
	if len(text) == 0 {
		if time.Since(info.ModTime()) < claimTTL {
			return markerSnapshot{state: markerStarting, content: content}
		}
		return markerSnapshot{state: markerStale, content: content}
	}
	pid, err := strconv.Atoi(string(text))
	if err != nil || pid <= 0 {
		return markerSnapshot{state: markerStale, content: content}
	}
	if procstate.Alive(pid) {
		return markerSnapshot{state: markerAlive, pid: pid, content: content}
	}
	return markerSnapshot{state: markerStale, pid: pid, content: content}
}

// claimMarker creates path exclusively. It fails with fs.ErrExist when
// another invocation holds the marker.
func claimMarker(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}

func lockPath(markerPath string) string {
	return markerPath + ".lock"
}

// withMarkerLock runs fn while holding the advisory lock beside markerPath.
func withMarkerLock(ctx context.Context, markerPath string, fn func() error) error {
	lock := flock.New(lockPath(markerPath))
	locked, err := lock.TryLockContext(ctx, 10*time.Millisecond)
	if err != nil {
		return fmt.Errorf("lock marker %s: %w", markerPath, err)
	}
	if !locked {
		return fmt.Errorf("lock marker %s: not acquired", markerPath)
	}
	defer lock.Unlock()
	return fn()
}

// reclaimStale removes a stale marker if, under the lock, it still holds
// the observed content and is still stale. It reports whether the marker is
// gone afterwards.
func reclaimStale(ctx context.Context, markerPath string, observed markerSnapshot, claimTTL time.Duration) (bool, error) {
	removed := false
	err := withMarkerLock(ctx, markerPath, func() error {
		current := inspectMarker(markerPath, claimTTL)
		switch {
		case current.state == markerMissing:
			removed = true
			return nil
		case current.state != markerStale || !bytes.Equal(current.content, observed.content):
			return nil
		}
		if err := os.Remove(markerPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove stale marker: %w", err)
		}
		removed = true
		return nil
	})
	return removed, err
}

// releaseClaim removes the marker when it is still the empty claim or holds
// pid. A marker rewritten by anyone else is left alone.
func releaseClaim(ctx context.Context, markerPath string, pid int) error {
	return withMarkerLock(ctx, markerPath, func() error {
		content, err := os.ReadFile(markerPath)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		text := string(bytes.TrimSpace(content))
		if text != "" && text != strconv.Itoa(pid) {
			return nil
		}
		if err := os.Remove(markerPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove marker: %w", err)
		}
		return nil
	})
}

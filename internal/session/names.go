package session

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

const (
	// DefaultName is used when no session name is supplied.
	DefaultName = "default"
	// Prefix is shared by every marker and endpoint file name.
	Prefix = "agent-browser-"

	markerSuffix   = ".pid"
	endpointSuffix = ".sock"
)

// ErrInvalidName reports a session name that cannot be mapped to a file name.
var ErrInvalidName = errors.New("invalid session name")

// Canonical trims and NFC-normalizes name, substituting DefaultName when empty.
func Canonical(name string) string {
	name = norm.NFC.String(strings.TrimSpace(name))
	if name == "" {
		return DefaultName
	}
	return name
}

// ValidateName rejects names that would escape the runtime directory.
func ValidateName(name string) error {
	name = Canonical(name)
	switch {
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("%w %q: must not contain path separators", ErrInvalidName, name)
	case strings.ContainsRune(name, 0):
		return fmt.Errorf("%w %q: must not contain NUL", ErrInvalidName, name)
	case strings.Contains(name, ".."):
		return fmt.Errorf("%w %q: must not contain \"..\"", ErrInvalidName, name)
	}
	return nil
}

func nameFromMarker(base string) (string, bool) {
	if !strings.HasPrefix(base, Prefix) || !strings.HasSuffix(base, markerSuffix) {
		return "", false
	}
	name := strings.TrimSuffix(strings.TrimPrefix(base, Prefix), markerSuffix)
	if name == "" {
		return "", false
	}
	return name, true
}

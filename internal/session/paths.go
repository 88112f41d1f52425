package session

import (
	"path/filepath"
)

// Endpoint names the listener a session daemon binds.
type Endpoint struct {
	Network string
	Address string
}

func (e Endpoint) String() string {
	return e.Network + "://" + e.Address
}

// Paths is the filesystem identity of one session.
type Paths struct {
	Name       string
	MarkerPath string
	Endpoint   Endpoint
}

// Resolve derives the marker and endpoint for name inside dir. It performs no I/O.
func Resolve(dir, name string) Paths {
	name = Canonical(name)
	return Paths{
		Name:       name,
		MarkerPath: filepath.Join(dir, Prefix+name+markerSuffix),
		Endpoint:   endpointFor(dir, name),
	}
}

// SocketPath returns the unix socket path for name regardless of platform.
// Cleanup code uses it to remove leftovers.
func SocketPath(dir, name string) string {
	return filepath.Join(dir, Prefix+Canonical(name)+endpointSuffix)
}

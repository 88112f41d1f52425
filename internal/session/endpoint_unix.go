//go:build !windows

package session

func endpointFor(dir, name string) Endpoint {
	return Endpoint{Network: "unix", Address: SocketPath(dir, name)}
}

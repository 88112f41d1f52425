//go:build windows

package session

import (
	"hash/fnv"
	"net"
	"strconv"
)

const (
	portBase  = 49152
	portRange = 65534 - portBase + 1
)

// endpointFor maps the session onto a loopback TCP port. The mapping is a
// pure function of the name; the runtime directory does not participate.
func endpointFor(_ string, name string) Endpoint {
	return Endpoint{Network: "tcp", Address: net.JoinHostPort("127.0.0.1", strconv.Itoa(Port(name)))}
}

// Port returns the loopback port assigned to name.
func Port(name string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(Canonical(name)))
	return portBase + int(h.Sum32()%portRange)
}

package ipc

import (
	"errors"
	"fmt"

	"agentbrowser/internal/session"
)

var (
	// ErrTransportUnreachable indicates no daemon accepted the connection.
	ErrTransportUnreachable = errors.New("daemon not reachable")
	// ErrProtocol indicates a malformed, truncated, or mismatched frame.
	ErrProtocol = errors.New("protocol error")
	// ErrResponseTimeout indicates the daemon did not answer within the read timeout.
	ErrResponseTimeout = errors.New("timed out waiting for daemon response")
)

// TransportError records which step failed against which endpoint.
type TransportError struct {
	Op       string
	Endpoint session.Endpoint
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

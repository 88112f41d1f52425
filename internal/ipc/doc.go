// Package ipc carries commands between the agent-browser CLI and a session
// daemon.
//
// The wire format is newline-delimited JSON. Each command is a flat object
// with an "id" and an "action"; each response echoes the id and carries
// "success" plus either "data" or "error". A client connection sends exactly
// one command and reads exactly one response before closing. The server
// side, embedded in the daemon, accepts any number of commands per
// connection and answers them in order.
//
// Failures are classified with sentinel errors: ErrTransportUnreachable when
// no daemon accepts the connection, ErrProtocol when the reply is malformed,
// truncated, or correlated to a different command, and ErrResponseTimeout
// when the daemon does not answer in time. Commands are never retried here.
package ipc

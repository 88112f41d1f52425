// Package session maps session names to their on-disk identity.
//
// Every session owns two entries in a shared runtime directory: a marker
// file (agent-browser-<name>.pid) holding the daemon's pid as text, and an
// endpoint the daemon listens on. Resolve is a pure function of the
// directory and the name, so every CLI invocation independently agrees on
// where a session lives. A marker whose pid is not running is stale and is
// reported as not alive rather than as an error.
package session

// Package main hosts the agent-browser CLI entrypoint and command graph.
//
// Every browser command is forwarded to a per-session daemon over a local
// socket. The CLI makes sure that daemon is running first, spawning this same
// binary with the hidden "daemon" subcommand when needed, then renders the
// daemon's reply for a terminal or, with --json, for another program.
//
// Keep this package thin: session identity, daemon supervision, and the wire
// protocol live in internal packages and are only surfaced here.
package main

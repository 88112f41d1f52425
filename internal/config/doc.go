// Package config loads, normalizes, and validates agent-browser configuration.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours AGENT_BROWSER_* environment
// overrides. Besides the file-backed Config it owns Startup, the immutable
// bundle of launch parameters handed to a freshly spawned daemon.
//
// Always obtain settings through this package so the CLI and the daemon agree
// on the shared runtime directory, timeouts, and the environment contract used
// to pass startup options across the spawn boundary.
package config

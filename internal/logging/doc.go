// Package logging builds the slog loggers used by the agent-browser CLI and
// its session daemons.
//
// Console output is a single human-readable line per record with the
// component, session and request id pulled into the header. JSON output uses
// short keys (ts, level, msg) for log shipping. Context helpers tag lines with
// the session and command id so daemon logs can be correlated with CLI calls.
package logging

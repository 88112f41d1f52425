// Package logs reads session daemon log files for the CLI.
//
// Last returns the final lines of a log with bounded memory; Follow polls
// for lines appended afterwards until its context ends. A log that does not
// exist yet reads as empty so callers can start following before the daemon
// writes anything.
package logs

// Package daemonctl guarantees that a session daemon is running and ready.
//
// EnsureDaemon coordinates concurrent CLI invocations through the session
// marker file alone: the invocation that creates the marker exclusively
// spawns the daemon, every other invocation either finds a live pid in the
// marker or waits for the winner to finish. Markers left behind by dead
// processes are reclaimed under an advisory lock so two reclaimers never
// delete each other's fresh claim.
//
// Startup configuration only reaches a daemon when it is spawned. Supplying
// it against a running daemon is reported back as ignored settings, never as
// an error.
package daemonctl

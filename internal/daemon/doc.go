// Package daemon holds the in-process state of one session daemon: the
// browser engine and the table of actions CLI invocations can send it.
//
// The engine is launched lazily on the first action that needs a page, or
// explicitly with the launch action, so a freshly spawned daemon binds its
// endpoint without waiting for a browser. Process lifecycle (signals,
// endpoint, marker file) lives in daemonrun.
package daemon

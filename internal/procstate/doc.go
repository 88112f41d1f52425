// Package procstate answers whether a process id refers to a live process on
// the current host. It never signals or otherwise disturbs the process.
package procstate

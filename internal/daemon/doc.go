// Package daemon coordinates the long-running logtransfer process.
//
// It owns the explicit daemon state (exit flag, compiled watch specs, the
// tracked file table) and runs one watcher per watch root plus the control
// server, with flock-based locking to prevent multiple instances. Stop flips
// the exit flag, nudges each watcher with a sentinel file, and cancels the
// worker context; Run then tears down in order: tracked files, handlers, lock.
//
// Keep orchestration logic here: line shipping lives in transfer and event
// handling in watcher.
package daemon

// Package main hosts the logtransfer CLI entrypoint and command graph.
//
// The Cobra command tree resolves configuration, talks to a running daemon
// over its TCP control port (start, stop, status, restart), runs the daemon
// itself through the hidden daemon command, and offers offline helpers for
// configuration scaffolding and offset file inspection.
package main

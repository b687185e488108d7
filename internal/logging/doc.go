// Package logging assembles structured slog loggers and formatting helpers used
// across logtransfer.
//
// It owns the console/JSON handlers, level parsing, and output plumbing
// (stdout plus a rotating daemon log file), and exposes helpers that tag log
// lines with component names and the daemon run ID. The package also provides
// a no-op logger for tests and wiring code that cannot fail.
package logging

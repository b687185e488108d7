// Package logs reads the daemon log file for the CLI: the last N lines, and
// a follow mode that streams lines as the daemon appends them.
package logs

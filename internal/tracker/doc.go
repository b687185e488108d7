// Package tracker owns the table of open log/offset file pairs.
//
// Each log path has at most one tracked entry. Entries are opened lazily by
// Acquire and closed either by the idle reclaimer, which evicts entries open
// longer than the configured window, or by CloseAll at shutdown. A reclaimed
// path is simply reopened on its next write, resuming from its offset file.
package tracker

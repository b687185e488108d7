// Package preflight provides readiness checks for the filesystem paths and
// remote endpoints a configuration depends on.
//
// The daemon runs CheckDirectoryAccess on every watch root before it starts
// watching, since offset directories are created next to the logs. The CLI
// "config validate" command runs RunAll to report every check at once.
package preflight

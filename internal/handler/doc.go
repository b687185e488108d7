// Package handler defines the line handler capability and its concrete
// variants.
//
// A handler receives every newly appended line of a log file that matched its
// pattern. Handlers are built from configuration through a Registry keyed by
// type name, initialized once when the daemon starts, and invoked in chain
// order by the transfer engine. A failing or panicking handler never stops the
// chain; its Name is recorded in the line's offset record instead.
package handler

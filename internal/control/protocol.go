package control

import (
	"fmt"

	"github.com/xiaoyaoyouzizai/logfile-transfer/internal/tracker"
)

const (
	CommandStop   = "stop"
	CommandStatus = "status"

	ReplyRunning = "daemon is running."
	ReplyExiting = "daemon is exiting."
)

// Report is the daemon state rendered by the status command.
type Report struct {
	// Identifier names the active configuration, e.g. "config file: /etc/x.toml".
	Identifier string
	Files      []tracker.Status
}

// Lines renders the status reply.
func (r Report) Lines() []string {
	lines := make([]string, 0, len(r.Files)+2)
	lines = append(lines, ReplyRunning, r.Identifier)
	for _, f := range r.Files {
		lines = append(lines, f.String())
	}
	return lines
}

// ConnectionError reports that the control server could not be reached or
// dropped the connection. Callers treat it as "daemon not running".
type ConnectionError struct {
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("control %s: %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

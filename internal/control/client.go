package control

import (
	"bufio"
	"context"
	"errors"
	"net"
	"time"
)

const defaultDialTimeout = 2 * time.Second

// Send delivers command to the control server at addr and returns the reply
// lines. Connection problems are reported as *ConnectionError.
func Send(ctx context.Context, addr, command string) ([]string, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultDialTimeout+commandReadTimeout)
		defer cancel()
	}
	dialer := net.Dialer{Timeout: defaultDialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &ConnectionError{Addr: addr, Err: err}
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if _, err := conn.Write([]byte(command + "\n")); err != nil {
		return nil, &ConnectionError{Addr: addr, Err: err}
	}

	var lines []string
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return lines, &ConnectionError{Addr: addr, Err: err}
	}
	return lines, nil
}

// Status sends the status command.
func Status(ctx context.Context, addr string) ([]string, error) {
	return Send(ctx, addr, CommandStatus)
}

// Stop sends the stop command. The server holds the connection open while it
// shuts down; once the reply has arrived a later read error is ignored.
func Stop(ctx context.Context, addr string) ([]string, error) {
	lines, err := Send(ctx, addr, CommandStop)
	if err != nil && len(lines) > 0 {
		return lines, nil
	}
	return lines, err
}

// Probe reports whether a daemon answers status at addr.
func Probe(ctx context.Context, addr string) bool {
	lines, err := Status(ctx, addr)
	return err == nil && len(lines) > 0 && lines[0] == ReplyRunning
}

// IsUnreachable reports whether err means no daemon answered.
func IsUnreachable(err error) bool {
	var connErr *ConnectionError
	return errors.As(err, &connErr)
}

package control

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/xiaoyaoyouzizai/logfile-transfer/internal/logging"
)

const commandReadTimeout = 5 * time.Second

// Target is the daemon surface the server drives.
type Target interface {
	// Stop requests shutdown. It may block for the stop grace delay.
	Stop()
	// Status reclaims idle entries and reports current state.
	Status() Report
}

// Server accepts control connections on a TCP listener.
type Server struct {
	target   Target
	logger   *slog.Logger
	listener net.Listener

	closeOnce sync.Once
}

// Listen binds the control address.
func Listen(addr string, target Target, logger *slog.Logger) (*Server, error) {
	if target == nil {
		return nil, errors.New("control server requires a target")
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	return &Server{
		target:   target,
		logger:   logging.NewComponentLogger(logger, "control"),
		listener: listener,
	}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Serve handles connections until a stop command is processed or ctx is
// canceled. The listener is closed on return.
func (s *Server) Serve(ctx context.Context) error {
	defer s.Close()
	stopWatch := context.AfterFunc(ctx, func() { s.Close() })
	defer stopWatch()

	s.logger.Info("control server listening", logging.String("addr", s.listener.Addr().String()))
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.logger.Debug("control server stopped")
				return nil
			}
			logging.WarnWithContext(s.logger, "accept failed", "control_accept_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "control clients may fail to connect"),
			)
			continue
		}
		stop := s.handle(conn)
		if stop {
			// The stopping client stays connected until shutdown is under way.
			s.target.Stop()
		}
		conn.Close()
		if stop {
			return nil
		}
	}
}

// Close stops accepting connections.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() { err = s.listener.Close() })
	return err
}

// handle serves one connection and reports whether it carried a stop command.
// The caller closes conn.
func (s *Server) handle(conn net.Conn) bool {
	_ = conn.SetDeadline(time.Now().Add(commandReadTimeout))

	command, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil && command == "" {
		s.logger.Debug("control connection closed before command", logging.Error(err))
		return false
	}
	command = strings.TrimSpace(command)
	s.logger.Debug("control command", logging.String("command", command), logging.String("remote", conn.RemoteAddr().String()))

	switch command {
	case CommandStop:
		s.reply(conn, ReplyExiting)
		return true
	case CommandStatus:
		s.reply(conn, s.target.Status().Lines()...)
	}
	return false
}

func (s *Server) reply(conn net.Conn, lines ...string) {
	w := bufio.NewWriter(conn)
	for _, line := range lines {
		w.WriteString(line)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		s.logger.Debug("control reply failed", logging.Error(err))
	}
}

//go:build unix

package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/crash-analysis/pkg/utils"
)

// Handler answers requests received by a Server. A returned error closes the
// connection without a reply.
type Handler interface {
	Initialize(ctx context.Context, req *Initialize) (*InitializeReply, error)
	TransferMinidump(ctx context.Context, req *TransferMinidump) (*TransferMinidumpReply, error)
	GenerateMinidump(ctx context.Context, req *GenerateMinidump) (*GenerateMinidumpReply, error)
	WindowsErrorReporting(ctx context.Context, req *WindowsErrorReporting) (*WindowsErrorReportingReply, error)
}

// Server accepts helper connections on a unix socket. Each connection is
// served by its own goroutine, one request at a time.
type Server struct {
	listener *net.UnixListener
	path     string
	handler  Handler
	logger   utils.Logger

	mu     sync.Mutex
	conns  map[*Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// Listen binds a unix socket at path, replacing a stale socket file.
func Listen(path string, handler Handler, logger utils.Logger) (*Server, error) {
	if logger == nil {
		logger = &utils.NullLogger{}
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}
	l, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", path, err)
	}
	return &Server{
		listener: l,
		path:     path,
		handler:  handler,
		logger:   logger.WithField("socket", path),
		conns:    make(map[*Conn]struct{}),
	}, nil
}

// Addr returns the socket path.
func (s *Server) Addr() string {
	return s.path
}

// Serve accepts connections until ctx is done or Close is called.
func (s *Server) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	s.logger.Info("Listening on %s", s.path)
	for {
		uc, err := s.listener.AcceptUnix()
		if err != nil {
			if s.isClosed() {
				s.wg.Wait()
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		conn := NewConn(uc)
		if !s.track(conn) {
			conn.Close()
			continue
		}
		s.wg.Add(1)
		go s.serveConn(ctx, conn)
	}
}

func (s *Server) serveConn(ctx context.Context, conn *Conn) {
	defer func() {
		s.untrack(conn)
		conn.Close()
		s.wg.Done()
	}()

	for {
		req, err := conn.Recv()
		if err != nil {
			if !errors.Is(err, ErrClosed) && !s.isClosed() {
				s.logger.Warn("Dropping connection: %v", err)
			}
			return
		}

		log := s.logger.WithField("kind", req.Kind().String())
		reply, err := s.dispatch(ctx, req)
		if err != nil {
			log.Error("Handler failed: %v", err)
			return
		}
		if err := conn.Send(reply); err != nil {
			log.Warn("Failed to send reply: %v", err)
			return
		}
		log.Debug("Replied with %s", reply.Kind())
	}
}

func (s *Server) dispatch(ctx context.Context, req Message) (Message, error) {
	switch m := req.(type) {
	case *Initialize:
		defer m.Endpoint.Close()
		return s.handler.Initialize(ctx, m)
	case *TransferMinidump:
		return s.handler.TransferMinidump(ctx, m)
	case *GenerateMinidump:
		return s.handler.GenerateMinidump(ctx, m)
	case *WindowsErrorReporting:
		return s.handler.WindowsErrorReporting(ctx, m)
	default:
		return nil, fmt.Errorf("%w: %s is not a request", ErrUnexpectedReply, req.Kind())
	}
}

func (s *Server) track(c *Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) untrack(c *Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, c)
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close stops accepting and closes every open connection.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conns := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	err := s.listener.Close()
	for _, c := range conns {
		c.Close()
	}
	return err
}

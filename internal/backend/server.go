// Package backend implements a reference backend for virtual register
// banks. It speaks the wire protocol on any stream and stores registers in
// memory.
package backend

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/tinyrange/vcan/internal/wire"
)

// Server accepts device connections and answers their register accesses.
type Server struct {
	handler Handler
	logger  *slog.Logger

	closed    atomic.Bool
	wg        sync.WaitGroup
	mu        sync.Mutex
	listeners map[net.Listener]struct{}
	conns     map[io.ReadWriteCloser]struct{}
}

// NewServer creates a server dispatching to handler. A nil logger uses
// slog.Default.
func NewServer(handler Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		handler:   handler,
		logger:    logger,
		listeners: make(map[net.Listener]struct{}),
		conns:     make(map[io.ReadWriteCloser]struct{}),
	}
}

// Serve accepts connections and handles requests.
// This blocks until Close is called.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		ln.Close()
		return nil
	}
	s.listeners[ln] = struct{}{}
	s.mu.Unlock()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.closed.Load() {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		if !s.track(conn) {
			return nil
		}
		go func() {
			defer s.wg.Done()
			if err := s.serveConn(conn); err != nil {
				s.logger.Warn("backend connection closed", "remote", conn.RemoteAddr(), "err", err)
			}
		}()
	}
}

// ServeConn handles requests on a single stream until it is closed.
func (s *Server) ServeConn(conn io.ReadWriteCloser) error {
	if !s.track(conn) {
		return nil
	}
	defer s.wg.Done()
	return s.serveConn(conn)
}

// track registers conn and its handler under mu, which Close holds while
// tearing down. After Close it closes conn and reports false.
func (s *Server) track(conn io.ReadWriteCloser) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		conn.Close()
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

// serveConn runs the request loop for a tracked connection.
func (s *Server) serveConn(conn io.ReadWriteCloser) error {
	defer func() {
		conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	r := bufio.NewReader(conn)
	for {
		req, err := wire.ReadRequest(r)
		if err != nil {
			if err == io.EOF || s.closed.Load() {
				return nil
			}
			// Without a length prefix there is no way to resynchronize.
			return fmt.Errorf("read request: %w", err)
		}

		if err := s.handle(conn, req); err != nil {
			if s.closed.Load() {
				return nil
			}
			return err
		}
	}
}

func (s *Server) handle(w io.Writer, req wire.Request) error {
	switch req.Op {
	case wire.OpRead:
		value, err := s.handler.ReadRegister(req.Addr, req.Size)
		if err != nil {
			// The device is waiting for exactly Size bytes; answer zero to
			// keep requests and responses paired.
			s.logger.Warn("backend read failed", "addr", fmt.Sprintf("0x%08x", req.Addr), "size", req.Size, "err", err)
			value = 0
		}
		resp, err := wire.EncodeResponse(value, req.Size)
		if err != nil {
			return err
		}
		if _, err := w.Write(resp); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
		s.logger.Debug("backend read", "addr", fmt.Sprintf("0x%08x", req.Addr), "size", req.Size, "value", fmt.Sprintf("0x%x", value))
	case wire.OpWrite:
		if err := s.handler.WriteRegister(req.Addr, req.Size, req.Value); err != nil {
			s.logger.Warn("backend write failed", "addr", fmt.Sprintf("0x%08x", req.Addr), "size", req.Size, "err", err)
			return nil
		}
		s.logger.Debug("backend write", "addr", fmt.Sprintf("0x%08x", req.Addr), "size", req.Size, "value", fmt.Sprintf("0x%x", req.Value))
	default:
		return fmt.Errorf("%w 0x%02x", wire.ErrBadOpcode, byte(req.Op))
	}
	return nil
}

// Close stops accepting connections, closes open ones and waits for their
// handlers to return.
func (s *Server) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	var errs []error
	s.mu.Lock()
	for ln := range s.listeners {
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return errors.Join(errs...)
}

// Package channel provides the byte-stream connection between a virtual
// device and the backend process that implements its registers.
package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"
)

var (
	ErrSendFailed    = errors.New("channel: send failed")
	ErrReceiveFailed = errors.New("channel: receive failed")
	ErrTimeout       = errors.New("channel: timeout")
	ErrCanceled      = errors.New("channel: canceled")
	ErrClosed        = errors.New("channel: closed")
)

// Channel is an ordered, reliable, duplex byte stream to a backend.
// A Channel is not safe for concurrent use; its owner serializes access.
type Channel interface {
	// Send writes all of p. A short write is reported as an error together
	// with the number of bytes that were transmitted.
	Send(p []byte) (int, error)
	// Receive blocks until len(p) bytes have been read or the stream fails.
	Receive(p []byte) (int, error)
	Close() error
}

// Options bound the time a single Send or Receive may block.
// Zero timeouts block indefinitely.
type Options struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Context aborts any in-flight and future transfer once it is done.
	Context context.Context
}

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

type stream struct {
	rw     io.ReadWriteCloser
	opts   Options
	closed atomic.Bool
	stop   func() bool
}

// New wraps rw. Timeouts are applied through SetReadDeadline and
// SetWriteDeadline when rw provides them (net.Conn, *os.File).
func New(rw io.ReadWriteCloser, opts Options) Channel {
	s := &stream{rw: rw, opts: opts}
	if opts.Context != nil {
		s.stop = context.AfterFunc(opts.Context, s.abort)
	}
	return s
}

// abort wakes up a blocked transfer after the context is done.
func (s *stream) abort() {
	rd, rok := s.rw.(readDeadliner)
	wd, wok := s.rw.(writeDeadliner)
	if rok && wok {
		past := time.Unix(1, 0)
		rd.SetReadDeadline(past)
		wd.SetWriteDeadline(past)
		return
	}
	s.rw.Close()
}

func (s *stream) check() error {
	if s.closed.Load() {
		return ErrClosed
	}
	if ctx := s.opts.Context; ctx != nil && ctx.Err() != nil {
		return fmt.Errorf("%w: %w", ErrCanceled, context.Cause(ctx))
	}
	return nil
}

func (s *stream) Send(p []byte) (int, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	if wd, ok := s.rw.(writeDeadliner); ok && s.opts.WriteTimeout > 0 {
		if err := wd.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout)); err != nil {
			return 0, fmt.Errorf("%w: set deadline: %w", ErrSendFailed, err)
		}
	}

	n, err := s.rw.Write(p)
	if err == nil && n != len(p) {
		err = io.ErrShortWrite
	}
	if err != nil {
		return n, s.failure(ErrSendFailed, err)
	}
	return n, nil
}

func (s *stream) Receive(p []byte) (int, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	if rd, ok := s.rw.(readDeadliner); ok && s.opts.ReadTimeout > 0 {
		if err := rd.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout)); err != nil {
			return 0, fmt.Errorf("%w: set deadline: %w", ErrReceiveFailed, err)
		}
	}

	n, err := io.ReadFull(s.rw, p)
	if err != nil {
		return n, s.failure(ErrReceiveFailed, err)
	}
	return n, nil
}

// failure classifies a transfer error. Timeouts and cancellation also
// match the direction they happened in.
func (s *stream) failure(kind, err error) error {
	if ctx := s.opts.Context; ctx != nil && ctx.Err() != nil {
		return fmt.Errorf("%w: %w: %w", kind, ErrCanceled, context.Cause(ctx))
	}
	if s.closed.Load() {
		return fmt.Errorf("%w: %w", kind, ErrClosed)
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return fmt.Errorf("%w: %w: %w", kind, ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", kind, err)
}

func (s *stream) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.stop != nil {
		s.stop()
	}
	return s.rw.Close()
}

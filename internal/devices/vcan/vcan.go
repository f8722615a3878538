// Package vcan implements a virtual CAN controller whose register bank is
// served by an external backend process.
//
// Every bus access is translated into one request on the backend channel
// (see package wire). Accesses are serialized by a single lock held for the
// whole exchange, so the backend always sees complete, non-interleaved
// request/response pairs. Failures never propagate to the bus: they are
// logged, counted and the access completes with zero (reads) or no effect
// (writes).
package vcan

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinyrange/vcan/internal/channel"
	"github.com/tinyrange/vcan/internal/chipset"
	"github.com/tinyrange/vcan/internal/wire"
)

const (
	TypeName = "virtual-can-controller"

	// DefaultBase is the CAN1 base address on STM32F1/F4 parts.
	DefaultBase = 0x40006400
	RegionSize  = 0x1000

	MinAccessSize = 1
	MaxAccessSize = 4
)

// Access describes one completed bus access.
type Access struct {
	Time   time.Time
	Op     wire.Opcode
	Offset uint32
	Size   uint8
	Value  uint64
	Err    error
}

// Observer is notified of every access in the order the exchanges hit the
// channel. It is called with the controller lock held and must not call
// back into the controller.
type Observer interface {
	ObserveAccess(Access)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Access)

func (f ObserverFunc) ObserveAccess(a Access) { f(a) }

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger used for access diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithObserver registers an access observer.
func WithObserver(o Observer) Option {
	return func(c *Controller) {
		c.observer = o
	}
}

// Controller is the register bridge. The backend channel is only reachable
// through Read, Write and Close, all of which take the lock.
type Controller struct {
	base     uint64
	logger   *slog.Logger
	observer Observer

	mu sync.Mutex
	ch channel.Channel

	reads    atomic.Uint64
	writes   atomic.Uint64
	failures [numKinds]atomic.Uint64
}

// New creates a controller at base that forwards accesses over ch. A nil
// channel yields an unconnected controller whose accesses all fail with
// ErrNotConnected.
func New(base uint64, ch channel.Channel, opts ...Option) *Controller {
	c := &Controller{
		base:   base,
		ch:     ch,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Base returns the bus address of the register bank.
func (c *Controller) Base() uint64 {
	return c.base
}

// SetObserver replaces the access observer. A nil observer disables
// observation.
func (c *Controller) SetObserver(o Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observer = o
}

// Connected reports whether the controller holds a backend channel.
func (c *Controller) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ch != nil
}

// Read performs a register read of size bytes at offset. It returns 0 if
// the access fails.
func (c *Controller) Read(offset uint32, size uint8) uint64 {
	v, _ := c.ReadErr(offset, size)
	return v
}

// Write performs a register write of size bytes at offset. Writes are
// best-effort; a failure is reported but not returned.
func (c *Controller) Write(offset uint32, size uint8, value uint64) {
	c.WriteErr(offset, size, value)
}

// ReadErr is Read for callers that want the failure. The error is an
// *AccessError.
func (c *Controller) ReadErr(offset uint32, size uint8) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	value, err := c.read(offset, size)
	if err != nil {
		value = 0
	}
	return value, c.report(wire.OpRead, offset, size, value, err)
}

// WriteErr is Write for callers that want the failure. The error is an
// *AccessError.
func (c *Controller) WriteErr(offset uint32, size uint8, value uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.write(offset, size, value)
	return c.report(wire.OpWrite, offset, size, value, err)
}

func (c *Controller) read(offset uint32, size uint8) (uint64, error) {
	if !wire.ValidSize(size) {
		return 0, fmt.Errorf("%w %d", wire.ErrInvalidSize, size)
	}
	if c.ch == nil {
		return 0, ErrNotConnected
	}

	req := wire.EncodeReadRequest(offset, size)
	if err := c.send(req[:]); err != nil {
		return 0, err
	}

	var buf [MaxAccessSize]byte
	n, err := c.ch.Receive(buf[:size])
	if err != nil {
		return 0, err
	}
	if n != int(size) {
		return 0, fmt.Errorf("%w: received %d of %d bytes", channel.ErrReceiveFailed, n, size)
	}
	return wire.DecodeResponse(buf[:n], size)
}

func (c *Controller) write(offset uint32, size uint8, value uint64) error {
	if !wire.ValidSize(size) {
		return fmt.Errorf("%w %d", wire.ErrInvalidSize, size)
	}
	if c.ch == nil {
		return ErrNotConnected
	}
	req, err := wire.EncodeWriteRequest(offset, size, value)
	if err != nil {
		return err
	}
	return c.send(req)
}

func (c *Controller) send(req []byte) error {
	n, err := c.ch.Send(req)
	if err != nil {
		return err
	}
	if n != len(req) {
		return fmt.Errorf("%w: sent %d of %d bytes", channel.ErrSendFailed, n, len(req))
	}
	return nil
}

// report notifies the observer, logs and counts the access. It runs with
// the lock held so observers see accesses in channel order.
func (c *Controller) report(op wire.Opcode, offset uint32, size uint8, value uint64, err error) error {
	if op == wire.OpRead {
		c.reads.Add(1)
	} else {
		c.writes.Add(1)
	}
	if c.observer != nil {
		c.observer.ObserveAccess(Access{
			Time:   time.Now(),
			Op:     op,
			Offset: offset,
			Size:   size,
			Value:  value,
			Err:    err,
		})
	}

	if err == nil {
		c.logger.Debug("vcan access",
			"op", op.String(),
			"offset", fmt.Sprintf("0x%08x", offset),
			"size", size,
			"value", fmt.Sprintf("0x%x", value),
		)
		return nil
	}

	kind := Classify(err)
	c.failures[kind].Add(1)
	c.logger.Error("vcan access failed",
		"op", op.String(),
		"kind", kind.String(),
		"offset", fmt.Sprintf("0x%08x", offset),
		"size", size,
		"err", err,
	)
	return &AccessError{Op: op, Offset: offset, Size: size, Err: err}
}

// Close releases the backend channel. Later accesses fail with
// ErrNotConnected.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ch == nil {
		return nil
	}
	err := c.ch.Close()
	c.ch = nil
	return err
}

// Stats is a snapshot of the access counters.
type Stats struct {
	Reads    uint64
	Writes   uint64
	Failures map[Kind]uint64
}

// Stats returns the access counters.
func (c *Controller) Stats() Stats {
	s := Stats{
		Reads:    c.reads.Load(),
		Writes:   c.writes.Load(),
		Failures: make(map[Kind]uint64),
	}
	for k := range c.failures {
		if n := c.failures[k].Load(); n > 0 {
			s.Failures[Kind(k)] = n
		}
	}
	return s
}

var _ chipset.ChipsetDevice = (*Controller)(nil)
var _ chipset.MmioHandler = (*Controller)(nil)

package channel

import (
	"fmt"
	"os"
	"sync"
	"time"

	"go.bug.st/serial"
)

// serialPoll bounds each blocking call into the driver so that a deadline
// moved by context cancellation is noticed.
const serialPoll = 100 * time.Millisecond

// OpenSerial opens a backend reachable through a serial line (8N1).
//
// Both timeouts in opts are honoured. The driver has no write timeout, so a
// write that outlives its deadline closes the port; the channel is unusable
// afterwards, as after any send failure.
func OpenSerial(port string, baud int, opts Options) (Channel, error) {
	if baud <= 0 {
		baud = 115200
	}
	mode := &serial.Mode{
		BaudRate: baud,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(port, mode)
	if err != nil {
		return nil, fmt.Errorf("channel: open serial port %q: %w", port, err)
	}
	p.ResetInputBuffer()
	p.ResetOutputBuffer()

	return New(newSerialConn(p), opts), nil
}

// serialConn gives a serial port net.Conn style deadlines. A port reports
// an expired read timeout as a zero-length read.
type serialConn struct {
	port serial.Port

	mu            sync.Mutex
	readDeadline  time.Time
	writeDeadline time.Time
}

func newSerialConn(p serial.Port) *serialConn {
	return &serialConn{port: p}
}

func (c *serialConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	c.readDeadline = t
	c.mu.Unlock()
	return nil
}

func (c *serialConn) SetWriteDeadline(t time.Time) error {
	c.mu.Lock()
	c.writeDeadline = t
	c.mu.Unlock()
	return nil
}

// slice returns how long the next driver call may block, or false once
// the deadline has passed.
func (c *serialConn) slice(deadline *time.Time) (time.Duration, bool) {
	c.mu.Lock()
	d := *deadline
	c.mu.Unlock()
	if d.IsZero() {
		return serialPoll, true
	}
	remaining := time.Until(d)
	if remaining <= 0 {
		return 0, false
	}
	return min(remaining, serialPoll), true
}

func (c *serialConn) Read(p []byte) (int, error) {
	for {
		timeout, ok := c.slice(&c.readDeadline)
		if !ok {
			return 0, os.ErrDeadlineExceeded
		}
		if err := c.port.SetReadTimeout(timeout); err != nil {
			return 0, err
		}
		n, err := c.port.Read(p)
		if n > 0 || err != nil {
			return n, err
		}
	}
}

func (c *serialConn) Write(p []byte) (int, error) {
	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := c.port.Write(p)
		done <- result{n, err}
	}()

	for {
		timeout, ok := c.slice(&c.writeDeadline)
		if !ok {
			// Closing the port is the only way to unblock the driver.
			c.port.Close()
			return 0, os.ErrDeadlineExceeded
		}
		select {
		case r := <-done:
			return r.n, r.err
		case <-time.After(timeout):
		}
	}
}

func (c *serialConn) Close() error {
	return c.port.Close()
}

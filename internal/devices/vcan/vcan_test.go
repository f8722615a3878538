package vcan

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tinyrange/vcan/internal/channel"
	"github.com/tinyrange/vcan/internal/wire"
)

// scriptChannel records requests and answers reads from a queue.
type scriptChannel struct {
	mu        sync.Mutex
	sent      [][]byte
	responses [][]byte
	receives  int
	sendLimit int // when > 0, Send transmits at most this many bytes
	recvErr   error
	closed    bool
}

func (c *scriptChannel) Send(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(p)
	if c.sendLimit > 0 && n > c.sendLimit {
		n = c.sendLimit
	}
	c.sent = append(c.sent, append([]byte(nil), p[:n]...))
	return n, nil
}

func (c *scriptChannel) Receive(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receives++
	if c.recvErr != nil {
		return 0, c.recvErr
	}
	if len(c.responses) == 0 {
		return 0, io.EOF
	}
	n := copy(p, c.responses[0])
	c.responses = c.responses[1:]
	return n, nil
}

func (c *scriptChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *scriptChannel) getSent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.sent...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestReadEncodesRequest(t *testing.T) {
	ch := &scriptChannel{responses: [][]byte{{0x78, 0x56, 0x34, 0x12}}}
	c := New(DefaultBase, ch, WithLogger(discardLogger()))

	if got := c.Read(0x1000, 4); got != 0x12345678 {
		t.Fatalf("Read: got 0x%x, want 0x12345678", got)
	}
	sent := ch.getSent()
	if len(sent) != 1 {
		t.Fatalf("requests: got %d, want 1", len(sent))
	}
	if want := []byte{0x52, 0x00, 0x10, 0x00, 0x00, 0x04}; !bytes.Equal(sent[0], want) {
		t.Fatalf("request: got % x, want % x", sent[0], want)
	}
}

func TestWriteEncodesRequest(t *testing.T) {
	ch := &scriptChannel{}
	c := New(DefaultBase, ch, WithLogger(discardLogger()))

	c.Write(0x1004, 2, 0xBEEF)

	sent := ch.getSent()
	if len(sent) != 1 {
		t.Fatalf("requests: got %d, want 1", len(sent))
	}
	if want := []byte{0x57, 0x04, 0x10, 0x00, 0x00, 0x02, 0xEF, 0xBE}; !bytes.Equal(sent[0], want) {
		t.Fatalf("request: got % x, want % x", sent[0], want)
	}
	if ch.receives != 0 {
		t.Fatalf("write waited for a response")
	}
}

func TestReadZeroExtends(t *testing.T) {
	ch := &scriptChannel{responses: [][]byte{{0xff}, {0xff, 0xff}}}
	c := New(DefaultBase, ch, WithLogger(discardLogger()))

	if got := c.Read(0, 1); got != 0xff {
		t.Fatalf("byte read: got 0x%x, want 0xff", got)
	}
	if got := c.Read(0, 2); got != 0xffff {
		t.Fatalf("half-word read: got 0x%x, want 0xffff", got)
	}
}

func TestInvalidSizeSendsNothing(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	ch := &scriptChannel{responses: [][]byte{{1, 2, 3, 4}}}
	c := New(DefaultBase, ch, WithLogger(logger))

	v, err := c.ReadErr(0x20, 3)
	if v != 0 {
		t.Fatalf("Read: got 0x%x, want 0", v)
	}
	var aerr *AccessError
	if !errors.As(err, &aerr) || aerr.Kind() != KindInvalidSize {
		t.Fatalf("ReadErr: got %v, want invalid size AccessError", err)
	}
	if !errors.Is(err, wire.ErrInvalidSize) {
		t.Fatalf("ReadErr: got %v, want wire.ErrInvalidSize in chain", err)
	}

	c.Write(0x20, 3, 0xabcdef)

	if sent := ch.getSent(); len(sent) != 0 {
		t.Fatalf("invalid accesses sent bytes: % x", sent)
	}
	if ch.receives != 0 {
		t.Fatalf("invalid read received from channel")
	}
	if got := c.Stats().Failures[KindInvalidSize]; got != 2 {
		t.Fatalf("invalid size failures: got %d, want 2", got)
	}

	out := logs.String()
	for _, want := range []string{"kind=invalid_size", "offset=0x00000020", "size=3"} {
		if !strings.Contains(out, want) {
			t.Fatalf("diagnostic missing %q:\n%s", want, out)
		}
	}
}

func TestShortSendSkipsReceive(t *testing.T) {
	ch := &scriptChannel{sendLimit: 4, responses: [][]byte{{1, 2, 3, 4}}}
	c := New(DefaultBase, ch, WithLogger(discardLogger()))

	v, err := c.ReadErr(0, 4)
	if v != 0 {
		t.Fatalf("Read: got 0x%x, want 0", v)
	}
	if !errors.Is(err, channel.ErrSendFailed) {
		t.Fatalf("ReadErr: got %v, want ErrSendFailed", err)
	}
	if ch.receives != 0 {
		t.Fatal("read after short send tried to receive")
	}
}

func TestShortSendWriteReleasesLock(t *testing.T) {
	ch := &scriptChannel{sendLimit: 3}
	c := New(DefaultBase, ch, WithLogger(discardLogger()))

	if err := c.WriteErr(0x8, 4, 1); !errors.Is(err, channel.ErrSendFailed) {
		t.Fatalf("WriteErr: got %v, want ErrSendFailed", err)
	}

	done := make(chan struct{})
	go func() {
		c.Write(0x8, 4, 2)
		c.Read(0x8, 1)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("access after failed write deadlocked")
	}

	if got := c.Stats().Failures[KindSendFailed]; got != 3 {
		t.Fatalf("send failures: got %d, want 3", got)
	}
}

func TestReceiveErrorReadsZero(t *testing.T) {
	ch := &scriptChannel{recvErr: channel.ErrReceiveFailed}
	c := New(DefaultBase, ch, WithLogger(discardLogger()))

	v, err := c.ReadErr(0x4, 4)
	if v != 0 {
		t.Fatalf("Read: got 0x%x, want 0", v)
	}
	var aerr *AccessError
	if !errors.As(err, &aerr) || aerr.Kind() != KindReceiveFailed {
		t.Fatalf("ReadErr: got %v, want receive AccessError", err)
	}
	if aerr.Op != wire.OpRead || aerr.Offset != 0x4 || aerr.Size != 4 {
		t.Fatalf("AccessError fields: got %+v", aerr)
	}
}

func TestUnconnected(t *testing.T) {
	c := New(DefaultBase, nil, WithLogger(discardLogger()))

	if c.Connected() {
		t.Fatal("controller without channel reports connected")
	}
	if v, err := c.ReadErr(0, 4); v != 0 || !errors.Is(err, ErrNotConnected) {
		t.Fatalf("ReadErr: got 0x%x, %v", v, err)
	}
	if err := c.WriteErr(0, 4, 1); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("WriteErr: got %v", err)
	}
}

func TestUnconnectedInvalidSizeReportsSize(t *testing.T) {
	c := New(DefaultBase, nil, WithLogger(discardLogger()))

	if v, err := c.ReadErr(0, 3); v != 0 || Classify(err) != KindInvalidSize {
		t.Fatalf("ReadErr size 3: got 0x%x, %v; want kind %v", v, err, KindInvalidSize)
	}
	if err := c.WriteErr(0, 3, 1); Classify(err) != KindInvalidSize {
		t.Fatalf("WriteErr size 3: got %v, want kind %v", err, KindInvalidSize)
	}
	st := c.Stats()
	if st.Failures[KindInvalidSize] != 2 || st.Failures[KindNotConnected] != 0 {
		t.Fatalf("failures: got %v", st.Failures)
	}
}

func TestCloseReleasesChannel(t *testing.T) {
	ch := &scriptChannel{}
	c := New(DefaultBase, ch, WithLogger(discardLogger()))

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !ch.closed {
		t.Fatal("channel not closed")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := c.WriteErr(0, 1, 1); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("WriteErr after Close: got %v, want ErrNotConnected", err)
	}
}

// orderChannel fails the test when a request is sent while another
// exchange is still waiting for its response. Responses echo the
// requested offset so a misrouted response is detectable.
type orderChannel struct {
	inFlight   atomic.Bool
	violations atomic.Int64
	lastAddr   uint32
	lastSize   uint8
	pending    bool
}

func (c *orderChannel) Send(p []byte) (int, error) {
	req, err := wire.ReadRequest(bytes.NewReader(p))
	if err != nil {
		return 0, err
	}
	if req.Op != wire.OpRead {
		return len(p), nil
	}
	if c.inFlight.Swap(true) {
		c.violations.Add(1)
	}
	c.lastAddr, c.lastSize, c.pending = req.Addr, req.Size, true
	return len(p), nil
}

func (c *orderChannel) Receive(p []byte) (int, error) {
	time.Sleep(50 * time.Microsecond)
	if !c.pending {
		c.violations.Add(1)
	}
	c.pending = false
	resp, _ := wire.EncodeResponse(uint64(c.lastAddr), c.lastSize)
	n := copy(p, resp)
	c.inFlight.Store(false)
	return n, nil
}

func (c *orderChannel) Close() error { return nil }

func TestConcurrentReadsDoNotInterleave(t *testing.T) {
	ch := &orderChannel{}
	c := New(DefaultBase, ch, WithLogger(discardLogger()))

	var wg sync.WaitGroup
	var mismatches atomic.Int64
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				offset := uint32(g*0x100 + i*4)
				if got := c.Read(offset, 4); got != uint64(offset) {
					mismatches.Add(1)
				}
			}
		}(g)
	}
	wg.Wait()

	if v := ch.violations.Load(); v != 0 {
		t.Fatalf("interleaved exchanges: %d", v)
	}
	if m := mismatches.Load(); m != 0 {
		t.Fatalf("misrouted responses: %d", m)
	}
	if got := c.Stats().Reads; got != 400 {
		t.Fatalf("reads: got %d, want 400", got)
	}
}

func TestObserverSeesAccessesInOrder(t *testing.T) {
	ch := &scriptChannel{responses: [][]byte{{0x11}}}
	var seen []Access
	c := New(DefaultBase, ch,
		WithLogger(discardLogger()),
		WithObserver(ObserverFunc(func(a Access) { seen = append(seen, a) })),
	)

	c.Write(0x10, 1, 0x22)
	c.Read(0x10, 1)
	c.Read(0x10, 3)

	if len(seen) != 3 {
		t.Fatalf("observed: got %d accesses, want 3", len(seen))
	}
	if seen[0].Op != wire.OpWrite || seen[0].Value != 0x22 {
		t.Fatalf("first access: got %+v", seen[0])
	}
	if seen[1].Op != wire.OpRead || seen[1].Value != 0x11 || seen[1].Err != nil {
		t.Fatalf("second access: got %+v", seen[1])
	}
	if Classify(seen[2].Err) != KindInvalidSize {
		t.Fatalf("third access: got %+v", seen[2])
	}
}

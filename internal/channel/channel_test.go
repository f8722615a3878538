package channel

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

// shortWriter accepts at most limit bytes per Write without reporting an error.
type shortWriter struct {
	mu     sync.Mutex
	limit  int
	data   []byte
	closed bool
}

func (w *shortWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := min(len(p), w.limit)
	w.data = append(w.data, p[:n]...)
	return n, nil
}

func (w *shortWriter) Read(p []byte) (int, error) {
	return 0, io.EOF
}

func (w *shortWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func TestSendShortWrite(t *testing.T) {
	w := &shortWriter{limit: 3}
	ch := New(w, Options{})

	n, err := ch.Send([]byte{1, 2, 3, 4, 5, 6})
	if !errors.Is(err, ErrSendFailed) {
		t.Fatalf("Send: got %v, want ErrSendFailed", err)
	}
	if !errors.Is(err, io.ErrShortWrite) {
		t.Fatalf("Send: got %v, want io.ErrShortWrite in chain", err)
	}
	if n != 3 {
		t.Fatalf("sent: got %d, want 3", n)
	}
}

func TestReceiveEOF(t *testing.T) {
	ch := New(&shortWriter{limit: 8}, Options{})

	n, err := ch.Receive(make([]byte, 4))
	if !errors.Is(err, ErrReceiveFailed) {
		t.Fatalf("Receive: got %v, want ErrReceiveFailed", err)
	}
	if n != 0 {
		t.Fatalf("received: got %d, want 0", n)
	}
}

func TestUseAfterClose(t *testing.T) {
	w := &shortWriter{limit: 8}
	ch := New(w, Options{})

	if err := ch.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := ch.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if !w.closed {
		t.Fatal("underlying stream not closed")
	}
	if _, err := ch.Send([]byte{1}); !errors.Is(err, ErrClosed) {
		t.Fatalf("Send after Close: got %v, want ErrClosed", err)
	}
	if _, err := ch.Receive(make([]byte, 1)); !errors.Is(err, ErrClosed) {
		t.Fatalf("Receive after Close: got %v, want ErrClosed", err)
	}
}

func TestLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	w := &shortWriter{limit: 2}
	ch := Logged(New(w, Options{}), logger, slog.LevelDebug)

	if _, err := ch.Send([]byte{0xab, 0xcd}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if _, err := ch.Send([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected short send to fail")
	}

	out := buf.String()
	if !strings.Contains(out, "channel send") || !strings.Contains(out, "data=abcd") {
		t.Fatalf("missing send record in log:\n%s", out)
	}
	if !strings.Contains(out, "channel send error") {
		t.Fatalf("missing error record in log:\n%s", out)
	}
}

//go:build unix

package channel

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

func TestSocketPairExchange(t *testing.T) {
	ch, peer, err := SocketPair(Options{})
	if err != nil {
		t.Fatalf("SocketPair: %v", err)
	}
	defer ch.Close()
	defer peer.Close()

	go func() {
		buf := make([]byte, 3)
		if _, err := io.ReadFull(peer, buf); err != nil {
			return
		}
		peer.Write([]byte{buf[2], buf[1], buf[0]})
	}()

	if n, err := ch.Send([]byte{1, 2, 3}); err != nil || n != 3 {
		t.Fatalf("Send: n=%d err=%v", n, err)
	}
	got := make([]byte, 3)
	if _, err := ch.Receive(got); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if want := []byte{3, 2, 1}; !bytes.Equal(got, want) {
		t.Fatalf("reply: got % x, want % x", got, want)
	}
}

func TestReceiveTimeout(t *testing.T) {
	ch, peer, err := SocketPair(Options{ReadTimeout: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("SocketPair: %v", err)
	}
	defer ch.Close()
	defer peer.Close()

	start := time.Now()
	_, err = ch.Receive(make([]byte, 4))
	if !errors.Is(err, ErrTimeout) || !errors.Is(err, ErrReceiveFailed) {
		t.Fatalf("Receive: got %v, want ErrTimeout and ErrReceiveFailed", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("timeout took too long: %v", elapsed)
	}
}

func TestReceivePeerClosedMidway(t *testing.T) {
	ch, peer, err := SocketPair(Options{})
	if err != nil {
		t.Fatalf("SocketPair: %v", err)
	}
	defer ch.Close()

	peer.Write([]byte{0xaa})
	peer.Close()

	n, err := ch.Receive(make([]byte, 4))
	if !errors.Is(err, ErrReceiveFailed) {
		t.Fatalf("Receive: got %v, want ErrReceiveFailed", err)
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("Receive: got %v, want io.ErrUnexpectedEOF in chain", err)
	}
	if n != 1 {
		t.Fatalf("received: got %d, want 1", n)
	}
}

func TestContextCancelAbortsReceive(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ch, peer, err := SocketPair(Options{Context: ctx})
	if err != nil {
		t.Fatalf("SocketPair: %v", err)
	}
	defer ch.Close()
	defer peer.Close()

	errc := make(chan error, 1)
	go func() {
		_, err := ch.Receive(make([]byte, 4))
		errc <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		if !errors.Is(err, ErrCanceled) {
			t.Fatalf("Receive: got %v, want ErrCanceled", err)
		}
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Receive: got %v, want context.Canceled in chain", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("receive not aborted by cancel")
	}

	if _, err := ch.Send([]byte{1}); !errors.Is(err, ErrCanceled) {
		t.Fatalf("Send after cancel: got %v, want ErrCanceled", err)
	}
}

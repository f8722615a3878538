package vcan_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"golang.org/x/net/nettest"

	"github.com/tinyrange/vcan"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startBackend(t *testing.T) (net.Listener, *vcan.RegisterFile) {
	t.Helper()
	ln, err := nettest.NewLocalListener("tcp")
	if err != nil {
		t.Fatalf("NewLocalListener: %v", err)
	}
	regs := vcan.NewRegisterFile(vcan.RegionSize)
	srv := vcan.NewBackend(regs, quietLogger())
	go srv.Serve(ln)
	t.Cleanup(func() { srv.Close() })
	return ln, regs
}

func TestControllerOverTCP(t *testing.T) {
	ln, regs := startBackend(t)

	ch, err := vcan.Dial(context.Background(), "tcp", ln.Addr().String(), vcan.DialConfig{
		Options: vcan.ChannelOptions{ReadTimeout: 5 * time.Second},
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	ctrl := vcan.NewController(vcan.DefaultBase, ch, quietLogger())
	defer ctrl.Close()

	ctrl.Write(0x0, 4, 0x00000001)
	ctrl.Write(0x4, 2, 0x1234)
	if got := ctrl.Read(0x0, 4); got != 1 {
		t.Fatalf("Read(0x0, 4): got 0x%x, want 0x1", got)
	}
	if got := ctrl.Read(0x4, 2); got != 0x1234 {
		t.Fatalf("Read(0x4, 2): got 0x%x, want 0x1234", got)
	}
	if v, _ := regs.ReadRegister(0x4, 1); v != 0x34 {
		t.Fatalf("backend byte: got 0x%x, want 0x34", v)
	}

	if got := ctrl.Read(0x0, 3); got != 0 {
		t.Fatalf("Read(0x0, 3): got 0x%x, want 0", got)
	}
	st := ctrl.Stats()
	if st.Reads != 3 || st.Writes != 2 || st.Failures[vcan.KindInvalidSize] != 1 {
		t.Fatalf("stats: got %+v", st)
	}
}

func TestRegistryCreatesController(t *testing.T) {
	reg := vcan.NewRegistry()
	if err := vcan.Register(reg); err != nil {
		t.Fatalf("Register: %v", err)
	}
	info, ok := reg.Lookup(vcan.TypeName)
	if !ok {
		t.Fatalf("Lookup(%q) failed", vcan.TypeName)
	}
	if info.Base != vcan.DefaultBase || info.Size != vcan.RegionSize {
		t.Fatalf("info: got %v", info)
	}

	d, err := reg.Create(vcan.TypeName, vcan.DeviceParams{Logger: quietLogger()})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	ctrl, ok := d.(*vcan.Controller)
	if !ok {
		t.Fatalf("Create returned %T", d)
	}
	if ctrl.Connected() {
		t.Fatal("controller without backend reports connected")
	}
	_, err = ctrl.ReadErr(0, 4)
	if !errors.Is(err, vcan.ErrNotConnected) {
		t.Fatalf("ReadErr: got %v, want %v", err, vcan.ErrNotConnected)
	}
}

package vcanctl

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tinyrange/vcan/internal/backend"
	dev "github.com/tinyrange/vcan/internal/devices/vcan"
)

var (
	passLabel = color.New(color.FgGreen, color.Bold).Sprint("PASS")
	failLabel = color.New(color.FgRed, color.Bold).Sprint("FAIL")
)

type selfCheck struct {
	name string
	run  func(context.Context, *session, *backend.RegisterFile) error
}

var selfChecks = []selfCheck{
	{"write and read back every width", checkWidths},
	{"reads are little-endian", checkEndianness},
	{"unsupported size sends nothing", checkInvalidSize},
	{"concurrent accesses stay paired", checkConcurrent},
	{"bus dump matches the register bank", checkDump},
	{"closed controller reads zero", checkClosed},
}

func (a *app) selftestCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "selftest",
		Short: "Exercise a controller against an in-process backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.selftest(cmd.Context(), out(cmd))
		},
	}
}

func (a *app) selftest(ctx context.Context, w io.Writer) error {
	regs := backend.NewRegisterFile(dev.RegionSize)
	ch, stop, err := startLocalBackend(ctx, regs, a.logger)
	if err != nil {
		return err
	}
	defer stop()

	s, err := a.attach(ch)
	if err != nil {
		return err
	}
	defer s.Close()

	failed := 0
	for _, c := range selfChecks {
		if err := c.run(ctx, s, regs); err != nil {
			failed++
			fmt.Fprintf(w, "%s %s: %v\n", failLabel, c.name, err)
			continue
		}
		fmt.Fprintf(w, "%s %s\n", passLabel, c.name)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d checks failed", failed, len(selfChecks))
	}
	return nil
}

func checkWidths(_ context.Context, s *session, _ *backend.RegisterFile) error {
	for _, tc := range []struct {
		offset uint32
		size   uint8
		value  uint64
	}{
		{0x100, 1, 0xa5},
		{0x102, 2, 0xbeef},
		{0x104, 4, 0xdeadbeef},
	} {
		if err := s.ctrl.WriteErr(tc.offset, tc.size, tc.value); err != nil {
			return err
		}
		got, err := s.ctrl.ReadErr(tc.offset, tc.size)
		if err != nil {
			return err
		}
		if got != tc.value {
			return fmt.Errorf("offset 0x%x size %d: got 0x%x, want 0x%x", tc.offset, tc.size, got, tc.value)
		}
	}
	return nil
}

func checkEndianness(_ context.Context, s *session, regs *backend.RegisterFile) error {
	if err := regs.WriteRegister(0x200, 4, 0x11223344); err != nil {
		return err
	}
	got, err := s.ctrl.ReadErr(0x200, 1)
	if err != nil {
		return err
	}
	if got != 0x44 {
		return fmt.Errorf("low byte: got 0x%x, want 0x44", got)
	}
	got, err = s.ctrl.ReadErr(0x202, 2)
	if err != nil {
		return err
	}
	if got != 0x1122 {
		return fmt.Errorf("high half: got 0x%x, want 0x1122", got)
	}
	return nil
}

func checkInvalidSize(_ context.Context, s *session, regs *backend.RegisterFile) error {
	if err := regs.WriteRegister(0x300, 4, 0); err != nil {
		return err
	}
	err := s.ctrl.WriteErr(0x300, 3, 0xffffff)
	var ae *dev.AccessError
	if !errors.As(err, &ae) || ae.Kind() != dev.KindInvalidSize {
		return fmt.Errorf("write size 3: got %v, want invalid_size", err)
	}
	if v, err := s.ctrl.ReadErr(0x300, 3); v != 0 || dev.Classify(err) != dev.KindInvalidSize {
		return fmt.Errorf("read size 3: got 0x%x, %v", v, err)
	}
	// The stream must still be in sync afterwards.
	if got, err := s.ctrl.ReadErr(0x300, 4); err != nil || got != 0 {
		return fmt.Errorf("read after invalid size: got 0x%x, %v", got, err)
	}
	return nil
}

func checkConcurrent(ctx context.Context, s *session, _ *backend.RegisterFile) error {
	res, err := runStress(ctx, s.ctrl, s.region.Size, 8, 50)
	if err != nil {
		return err
	}
	if res.mismatches > 0 {
		return fmt.Errorf("%d read-back mismatches", res.mismatches)
	}
	return nil
}

func checkDump(_ context.Context, s *session, regs *backend.RegisterFile) error {
	const n = 64
	data := make([]byte, 4)
	snap := regs.Snapshot()
	for off := uint64(0); off < n; off += 4 {
		if err := s.bus.HandleMMIO(s.region.Address+off, data, false); err != nil {
			return err
		}
		for i := range data {
			if data[i] != snap[off+uint64(i)] {
				return fmt.Errorf("byte 0x%x: got 0x%02x, want 0x%02x", off+uint64(i), data[i], snap[off+uint64(i)])
			}
		}
	}
	return nil
}

func checkClosed(_ context.Context, s *session, _ *backend.RegisterFile) error {
	if err := s.ctrl.Close(); err != nil {
		return err
	}
	if v, err := s.ctrl.ReadErr(0x104, 4); v != 0 || !errors.Is(err, dev.ErrNotConnected) {
		return fmt.Errorf("got 0x%x, %v; want 0, %v", v, err, dev.ErrNotConnected)
	}
	return nil
}

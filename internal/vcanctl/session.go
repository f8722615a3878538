package vcanctl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"

	"github.com/tinyrange/vcan/internal/channel"
	"github.com/tinyrange/vcan/internal/chipset"
	dev "github.com/tinyrange/vcan/internal/devices/vcan"
	"github.com/tinyrange/vcan/internal/trace"
)

// session is one connected controller mapped on a bus.
type session struct {
	ctrl   *dev.Controller
	bus    *chipset.Chipset
	region chipset.Region

	trace     *trace.Writer
	traceFile *os.File
}

// connect opens the configured backend and maps a controller for it.
func (a *app) connect(ctx context.Context) (*session, error) {
	dc := a.cfg.Backend.DialConfig(a.logger)
	dc.Context = ctx

	ch, err := channel.Connect(ctx, a.cfg.Backend.Network, a.cfg.Backend.Address, dc)
	if err != nil {
		return nil, err
	}
	return a.attach(ch)
}

// attach creates the configured device on ch. The session owns ch from
// here on, also on error.
func (a *app) attach(ch channel.Channel) (*session, error) {
	if a.cfg.Backend.LogTraffic {
		ch = channel.Logged(ch, a.logger, slog.LevelDebug)
	}

	reg := chipset.NewRegistry()
	if err := dev.Register(reg); err != nil {
		ch.Close()
		return nil, err
	}
	d, err := reg.Create(a.cfg.Device.Type, chipset.Params{
		Base:    a.cfg.Device.Base,
		Backend: ch,
		Logger:  a.logger,
	})
	if err != nil {
		ch.Close()
		return nil, err
	}
	ctrl, ok := d.(*dev.Controller)
	if !ok {
		ch.Close()
		return nil, fmt.Errorf("device type %q is not a register bridge", a.cfg.Device.Type)
	}

	b := chipset.NewBuilder()
	if err := b.RegisterDevice(a.cfg.Device.Name, ctrl); err != nil {
		ctrl.Close()
		return nil, err
	}
	s := &session{
		ctrl: ctrl,
		bus:  b.Build(),
	}
	s.region = s.bus.Regions()[0]

	if a.cfg.Trace.Path != "" {
		f, err := os.Create(a.cfg.Trace.Path)
		if err != nil {
			ctrl.Close()
			return nil, fmt.Errorf("create trace: %w", err)
		}
		s.traceFile = f
		s.trace = trace.NewWriter(f)
		ctrl.SetObserver(s.trace)
	}

	if err := s.bus.Start(); err != nil {
		s.Close()
		return nil, err
	}
	a.logger.Debug("device mapped",
		"name", a.cfg.Device.Name, "type", a.cfg.Device.Type,
		"base", fmt.Sprintf("0x%08x", s.region.Address))
	return s, nil
}

// Close stops the bus, closes the backend channel and flushes the trace.
func (s *session) Close() error {
	var errs []error
	if err := s.bus.Stop(); err != nil {
		errs = append(errs, err)
	}
	if err := s.bus.Close(); err != nil {
		errs = append(errs, err)
	}
	if s.traceFile != nil {
		s.ctrl.SetObserver(nil)
		if err := s.trace.Err(); err != nil {
			errs = append(errs, err)
		}
		if err := s.traceFile.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// checkRange validates an offset and width given on the command line.
// Widths are left to the controller so that unsupported sizes show up in
// its diagnostics.
func (s *session) checkRange(offset, size uint64) error {
	if size > math.MaxUint8 {
		return fmt.Errorf("access size %d too large", size)
	}
	if offset+size > s.region.Size || offset+size < offset {
		return fmt.Errorf("offset 0x%x+%d outside the 0x%x byte register bank", offset, size, s.region.Size)
	}
	return nil
}

// Package vcan provides a virtual CAN controller register bank whose
// registers are implemented by an external backend process. Bus accesses
// are forwarded over a byte stream using a compact request/response
// protocol and serialized so the backend sees one exchange at a time.
package vcan

import (
	"context"
	"log/slog"
	"net"

	"github.com/tinyrange/vcan/internal/backend"
	"github.com/tinyrange/vcan/internal/channel"
	"github.com/tinyrange/vcan/internal/chipset"
	dev "github.com/tinyrange/vcan/internal/devices/vcan"
	"github.com/tinyrange/vcan/internal/wire"
)

// -----------------------------------------------------------------------------
// Type Aliases - These re-export types from internal packages
// -----------------------------------------------------------------------------

// Controller is the register bridge. Read and Write may be called from any
// goroutine; they never fail past the bus boundary.
type Controller = dev.Controller

// Access describes one completed register access.
type Access = dev.Access

// AccessError records a failed register access.
type AccessError = dev.AccessError

// Kind categorizes a failed access.
type Kind = dev.Kind

// Observer is notified of every access in channel order.
type Observer = dev.Observer

// ObserverFunc adapts a function to Observer.
type ObserverFunc = dev.ObserverFunc

// Stats is a snapshot of a controller's access counters.
type Stats = dev.Stats

// Channel is the byte stream to a backend.
type Channel = channel.Channel

// ChannelOptions bound how long a channel transfer may block.
type ChannelOptions = channel.Options

// DialConfig describes how to reach a backend.
type DialConfig = channel.DialConfig

// Registry holds device types for a host.
type Registry = chipset.Registry

// DeviceInfo is the static description of a device type.
type DeviceInfo = chipset.DeviceInfo

// DeviceParams are the creation-time settings for Registry.Create.
type DeviceParams = chipset.Params

// RegisterFile is the in-memory register bank used by the reference backend.
type RegisterFile = backend.RegisterFile

// Backend is the reference backend server.
type Backend = backend.Server

// Failure kinds.
const (
	KindInvalidSize   = dev.KindInvalidSize
	KindSendFailed    = dev.KindSendFailed
	KindReceiveFailed = dev.KindReceiveFailed
	KindTimeout       = dev.KindTimeout
	KindCanceled      = dev.KindCanceled
	KindNotConnected  = dev.KindNotConnected
)

// Device constants.
const (
	TypeName    = dev.TypeName
	DefaultBase = dev.DefaultBase
	RegionSize  = dev.RegionSize
)

// Common sentinel errors.
var (
	ErrInvalidSize   = wire.ErrInvalidSize
	ErrNotConnected  = dev.ErrNotConnected
	ErrSendFailed    = channel.ErrSendFailed
	ErrReceiveFailed = channel.ErrReceiveFailed
	ErrTimeout       = channel.ErrTimeout
	ErrCanceled      = channel.ErrCanceled
	ErrChannelClosed = channel.ErrClosed
)

// -----------------------------------------------------------------------------
// Constructors
// -----------------------------------------------------------------------------

// NewController creates a controller at base forwarding accesses over ch.
// The controller owns ch and closes it in Close.
func NewController(base uint64, ch Channel, logger *slog.Logger) *Controller {
	return dev.New(base, ch, dev.WithLogger(logger))
}

// Dial connects to a backend on network ("unix", "tcp" or "serial").
func Dial(ctx context.Context, network, address string, cfg DialConfig) (Channel, error) {
	return channel.Connect(ctx, network, address, cfg)
}

// NewChannel wraps an established connection.
func NewChannel(conn net.Conn, opts ChannelOptions) Channel {
	return channel.New(conn, opts)
}

// NewRegistry returns an empty device registry.
func NewRegistry() *Registry {
	return chipset.NewRegistry()
}

// Register adds the virtual CAN controller type to reg.
func Register(reg *Registry) error {
	return dev.Register(reg)
}

// Info describes the virtual CAN controller type.
func Info() DeviceInfo {
	return dev.Info()
}

// NewBackend creates a reference backend answering from regs.
func NewBackend(regs *RegisterFile, logger *slog.Logger) *Backend {
	return backend.NewServer(regs, logger)
}

// NewRegisterFile returns a zeroed register bank of size bytes.
func NewRegisterFile(size int) *RegisterFile {
	return backend.NewRegisterFile(size)
}

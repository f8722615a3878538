package vcan

import (
	"errors"
	"fmt"

	"github.com/tinyrange/vcan/internal/channel"
	"github.com/tinyrange/vcan/internal/wire"
)

var ErrNotConnected = errors.New("vcan: backend not connected")

// Kind categorizes a failed access.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidSize
	KindSendFailed
	KindReceiveFailed
	KindTimeout
	KindCanceled
	KindNotConnected

	numKinds
)

func (k Kind) String() string {
	switch k {
	case KindInvalidSize:
		return "invalid_size"
	case KindSendFailed:
		return "send_failed"
	case KindReceiveFailed:
		return "receive_failed"
	case KindTimeout:
		return "timeout"
	case KindCanceled:
		return "canceled"
	case KindNotConnected:
		return "not_connected"
	default:
		return "unknown"
	}
}

// Classify maps an access error to its Kind. Timeouts and cancellation
// take precedence over the transfer direction they happened in.
func Classify(err error) Kind {
	switch {
	case errors.Is(err, wire.ErrInvalidSize):
		return KindInvalidSize
	case errors.Is(err, ErrNotConnected), errors.Is(err, channel.ErrClosed):
		return KindNotConnected
	case errors.Is(err, channel.ErrTimeout):
		return KindTimeout
	case errors.Is(err, channel.ErrCanceled):
		return KindCanceled
	case errors.Is(err, channel.ErrSendFailed):
		return KindSendFailed
	case errors.Is(err, channel.ErrReceiveFailed), errors.Is(err, wire.ErrShortBuffer):
		return KindReceiveFailed
	default:
		return KindUnknown
	}
}

// AccessError records a failed register access.
type AccessError struct {
	Op     wire.Opcode
	Offset uint32
	Size   uint8
	Err    error
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("vcan: %s offset 0x%08x size %d: %v", e.Op, e.Offset, e.Size, e.Err)
}

func (e *AccessError) Unwrap() error {
	return e.Err
}

// Kind returns the failure category.
func (e *AccessError) Kind() Kind {
	return Classify(e.Err)
}

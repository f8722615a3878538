// Package wire implements the register access protocol spoken between a
// virtual CAN controller and its backend.
//
// Every bus access becomes one request frame:
//
//	opcode(1) | address(4, LE) | size(1) | data(size, LE, writes only)
//
// Reads are answered with exactly size bytes (little-endian, no header).
// Writes are not answered. There is no request identifier, so frames on a
// stream must strictly alternate request and response.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Opcode distinguishes read requests from write requests.
type Opcode byte

const (
	OpRead  Opcode = 'R'
	OpWrite Opcode = 'W'
)

func (op Opcode) String() string {
	switch op {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	default:
		return fmt.Sprintf("opcode(0x%02x)", byte(op))
	}
}

// HeaderSize is the length of a request without data, and therefore the
// full length of a read request.
const HeaderSize = 6

// MaxRequestSize is the longest frame the protocol can produce.
const MaxRequestSize = HeaderSize + 4

var (
	ErrInvalidSize = errors.New("wire: invalid access size")
	ErrShortBuffer = errors.New("wire: buffer shorter than access size")
	ErrBadOpcode   = errors.New("wire: unknown opcode")
)

// ValidSize reports whether size is an access width the protocol carries.
func ValidSize(size uint8) bool {
	return size == 1 || size == 2 || size == 4
}

// EncodeReadRequest builds a read request. The size is not validated here;
// regions only pass widths of 1, 2 or 4 bytes.
func EncodeReadRequest(addr uint32, size uint8) [HeaderSize]byte {
	var req [HeaderSize]byte
	putHeader(req[:], OpRead, addr, size)
	return req
}

// EncodeWriteRequest builds a write request carrying value truncated to
// size bytes.
func EncodeWriteRequest(addr uint32, size uint8, value uint64) ([]byte, error) {
	if !ValidSize(size) {
		return nil, fmt.Errorf("%w %d", ErrInvalidSize, size)
	}
	req := make([]byte, HeaderSize+int(size))
	putHeader(req, OpWrite, addr, size)
	putValue(req[HeaderSize:], size, value)
	return req, nil
}

// DecodeResponse interprets the first size bytes of buf as an unsigned
// little-endian integer.
func DecodeResponse(buf []byte, size uint8) (uint64, error) {
	if !ValidSize(size) {
		return 0, fmt.Errorf("%w %d", ErrInvalidSize, size)
	}
	if len(buf) < int(size) {
		return 0, fmt.Errorf("%w: have %d, need %d", ErrShortBuffer, len(buf), size)
	}
	return getValue(buf, size), nil
}

// EncodeResponse builds the reply to a read request.
func EncodeResponse(value uint64, size uint8) ([]byte, error) {
	if !ValidSize(size) {
		return nil, fmt.Errorf("%w %d", ErrInvalidSize, size)
	}
	buf := make([]byte, size)
	putValue(buf, size, value)
	return buf, nil
}

// Request is a decoded request frame.
type Request struct {
	Op    Opcode
	Addr  uint32
	Size  uint8
	Value uint64 // zero for reads
}

// Len returns the number of bytes the request occupies on the wire.
func (r Request) Len() int {
	if r.Op == OpWrite {
		return HeaderSize + int(r.Size)
	}
	return HeaderSize
}

func (r Request) String() string {
	if r.Op == OpWrite {
		return fmt.Sprintf("%s addr=0x%08x size=%d value=0x%x", r.Op, r.Addr, r.Size, r.Value)
	}
	return fmt.Sprintf("%s addr=0x%08x size=%d", r.Op, r.Addr, r.Size)
}

// ReadRequest reads one request frame from r. It returns io.EOF only when
// the stream ends cleanly between frames.
func ReadRequest(r io.Reader) (Request, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Request{}, err
	}

	req := Request{
		Op:   Opcode(hdr[0]),
		Addr: binary.LittleEndian.Uint32(hdr[1:5]),
		Size: hdr[5],
	}
	if req.Op != OpRead && req.Op != OpWrite {
		return req, fmt.Errorf("%w 0x%02x", ErrBadOpcode, hdr[0])
	}
	if !ValidSize(req.Size) {
		return req, fmt.Errorf("%w %d", ErrInvalidSize, req.Size)
	}
	if req.Op == OpRead {
		return req, nil
	}

	var data [4]byte
	if _, err := io.ReadFull(r, data[:req.Size]); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return req, err
	}
	req.Value = getValue(data[:], req.Size)
	return req, nil
}

func putHeader(buf []byte, op Opcode, addr uint32, size uint8) {
	buf[0] = byte(op)
	binary.LittleEndian.PutUint32(buf[1:5], addr)
	buf[5] = size
}

func putValue(buf []byte, size uint8, value uint64) {
	switch size {
	case 1:
		buf[0] = uint8(value)
	case 2:
		binary.LittleEndian.PutUint16(buf, uint16(value))
	case 4:
		binary.LittleEndian.PutUint32(buf, uint32(value))
	}
}

func getValue(buf []byte, size uint8) uint64 {
	switch size {
	case 1:
		return uint64(buf[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(buf))
	case 4:
		return uint64(binary.LittleEndian.Uint32(buf))
	}
	return 0
}

package backend

import (
	"encoding/binary"
	"fmt"
	"sync"
)

// Handler implements register semantics for the backend server.
type Handler interface {
	ReadRegister(addr uint32, size uint8) (uint64, error)
	WriteRegister(addr uint32, size uint8, value uint64) error
}

// RegisterFile is a plain little-endian register bank. Reads return the
// last value written.
type RegisterFile struct {
	mu   sync.Mutex
	regs []byte
}

// NewRegisterFile returns a zeroed bank of size bytes.
func NewRegisterFile(size int) *RegisterFile {
	return &RegisterFile{regs: make([]byte, size)}
}

// Size returns the bank size in bytes.
func (f *RegisterFile) Size() int {
	return len(f.regs)
}

func (f *RegisterFile) span(addr uint32, size uint8) ([]byte, error) {
	end := uint64(addr) + uint64(size)
	if end > uint64(len(f.regs)) {
		return nil, fmt.Errorf("backend: access 0x%x+%d outside register file of 0x%x bytes", addr, size, len(f.regs))
	}
	return f.regs[addr:end], nil
}

// ReadRegister implements Handler.
func (f *RegisterFile) ReadRegister(addr uint32, size uint8) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, err := f.span(addr, size)
	if err != nil {
		return 0, err
	}
	switch size {
	case 1:
		return uint64(b[0]), nil
	case 2:
		return uint64(binary.LittleEndian.Uint16(b)), nil
	case 4:
		return uint64(binary.LittleEndian.Uint32(b)), nil
	}
	return 0, fmt.Errorf("backend: unsupported size %d", size)
}

// WriteRegister implements Handler.
func (f *RegisterFile) WriteRegister(addr uint32, size uint8, value uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, err := f.span(addr, size)
	if err != nil {
		return err
	}
	switch size {
	case 1:
		b[0] = byte(value)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(value))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(value))
	default:
		return fmt.Errorf("backend: unsupported size %d", size)
	}
	return nil
}

// Snapshot returns a copy of the bank.
func (f *RegisterFile) Snapshot() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]byte, len(f.regs))
	copy(out, f.regs)
	return out
}

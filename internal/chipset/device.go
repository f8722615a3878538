package chipset

import (
	"errors"
	"fmt"
)

var (
	ErrAccessSize = errors.New("chipset: unsupported access size")
	ErrUnmapped   = errors.New("chipset: no handler for address")
)

// MmioHandler handles reads and writes to memory-mapped regions. Addresses
// are absolute bus addresses; data holds the little-endian access bytes.
type MmioHandler interface {
	ReadMMIO(addr uint64, data []byte) error
	WriteMMIO(addr uint64, data []byte) error
}

// Region is a window of the bus address space served by one handler.
// Accesses narrower than MinAccess, wider than MaxAccess or of a width that
// is not a power of two are rejected before they reach the handler.
type Region struct {
	Address uint64
	Size    uint64

	MinAccess int
	MaxAccess int
}

// End returns the first address after the region.
func (r Region) End() uint64 {
	return r.Address + r.Size
}

// Contains reports whether an access of n bytes at addr lies inside r.
func (r Region) Contains(addr uint64, n int) bool {
	end := addr + uint64(n)
	return end >= addr && addr >= r.Address && end <= r.End()
}

// CheckAccess validates an access width against the region limits.
func (r Region) CheckAccess(n int) error {
	lo, hi := r.MinAccess, r.MaxAccess
	if lo <= 0 {
		lo = 1
	}
	if hi <= 0 {
		hi = 8
	}
	if n < lo || n > hi || n&(n-1) != 0 {
		return fmt.Errorf("%w %d (region 0x%x allows %d..%d)", ErrAccessSize, n, r.Address, lo, hi)
	}
	return nil
}

// MmioIntercept describes the MMIO regions a device serves and the handler for them.
type MmioIntercept struct {
	Regions []Region
	Handler MmioHandler
}

// ChangeDeviceState exposes lifecycle hooks for chipset devices.
type ChangeDeviceState interface {
	Start() error
	Stop() error
	Reset() error
}

// ChipsetDevice is the interface all chipset devices implement. Devices
// that hold external resources also implement io.Closer; Chipset.Close
// finalizes them.
type ChipsetDevice interface {
	ChangeDeviceState

	SupportsMmio() *MmioIntercept
}

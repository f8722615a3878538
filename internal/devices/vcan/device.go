package vcan

import (
	"fmt"
	"math"

	"github.com/tinyrange/vcan/internal/chipset"
)

// Info describes the device type for a chipset registry.
func Info() chipset.DeviceInfo {
	return chipset.DeviceInfo{
		Name:          TypeName,
		Description:   "CAN controller register bank served by an external backend",
		Base:          DefaultBase,
		Size:          RegionSize,
		Registers:     RegionSize / 4,
		MinAccess:     MinAccessSize,
		MaxAccess:     MaxAccessSize,
		UserCreatable: true,
		New: func(p chipset.Params) (chipset.ChipsetDevice, error) {
			return New(p.Base, p.Backend, WithLogger(p.Logger)), nil
		},
	}
}

// Register adds the device type to reg.
func Register(reg *chipset.Registry) error {
	return reg.Register(Info())
}

// Start implements chipset.ChangeDeviceState. The backend channel is
// connected before the controller is created.
func (c *Controller) Start() error { return nil }

// Stop implements chipset.ChangeDeviceState.
func (c *Controller) Stop() error { return nil }

// Reset implements chipset.ChangeDeviceState. Register state lives in the
// backend, so there is nothing to reset locally.
func (c *Controller) Reset() error { return nil }

// SupportsMmio implements chipset.ChipsetDevice.
func (c *Controller) SupportsMmio() *chipset.MmioIntercept {
	return &chipset.MmioIntercept{
		Regions: []chipset.Region{
			{
				Address:   c.base,
				Size:      RegionSize,
				MinAccess: MinAccessSize,
				MaxAccess: MaxAccessSize,
			},
		},
		Handler: c,
	}
}

// ReadMMIO implements chipset.MmioHandler. Backend failures are not
// returned; the access reads as zero.
func (c *Controller) ReadMMIO(addr uint64, data []byte) error {
	clear(data)
	offset, err := c.offset(addr, len(data))
	if err != nil {
		return err
	}
	v := c.Read(offset, accessSize(len(data)))
	for i := range data {
		if i >= 8 {
			break
		}
		data[i] = byte(v >> (8 * i))
	}
	return nil
}

// WriteMMIO implements chipset.MmioHandler. Backend failures are not
// returned.
func (c *Controller) WriteMMIO(addr uint64, data []byte) error {
	offset, err := c.offset(addr, len(data))
	if err != nil {
		return err
	}
	var v uint64
	for i := 0; i < len(data) && i < 8; i++ {
		v |= uint64(data[i]) << (8 * i)
	}
	c.Write(offset, accessSize(len(data)), v)
	return nil
}

func (c *Controller) offset(addr uint64, n int) (uint32, error) {
	if addr < c.base || addr+uint64(n) > c.base+RegionSize {
		return 0, fmt.Errorf("vcan: address 0x%x out of bounds", addr)
	}
	return uint32(addr - c.base), nil
}

// accessSize narrows a byte count to the protocol size field. Counts that
// do not fit map to 0, which the codec rejects.
func accessSize(n int) uint8 {
	if n > math.MaxUint8 {
		return 0
	}
	return uint8(n)
}

package chipset

import (
	"errors"
	"fmt"
	"io"
	"sort"
)

// Chipset dispatches bus accesses to the devices registered with a builder.
// It is immutable once built and safe for concurrent use; devices provide
// their own locking.
type Chipset struct {
	devices map[string]ChipsetDevice
	mmio    []mmioBinding
}

// Start activates all registered devices.
func (c *Chipset) Start() error {
	for _, name := range c.DeviceNames() {
		if err := c.devices[name].Start(); err != nil {
			return fmt.Errorf("chipset: start device %q: %w", name, err)
		}
	}
	return nil
}

// Stop deactivates all registered devices.
func (c *Chipset) Stop() error {
	for _, name := range c.DeviceNames() {
		if err := c.devices[name].Stop(); err != nil {
			return fmt.Errorf("chipset: stop device %q: %w", name, err)
		}
	}
	return nil
}

// Reset resets all registered devices.
func (c *Chipset) Reset() error {
	for _, name := range c.DeviceNames() {
		if err := c.devices[name].Reset(); err != nil {
			return fmt.Errorf("chipset: reset device %q: %w", name, err)
		}
	}
	return nil
}

// Close finalizes every device that holds external resources.
func (c *Chipset) Close() error {
	var errs []error
	for _, name := range c.DeviceNames() {
		if closer, ok := c.devices[name].(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, fmt.Errorf("chipset: close device %q: %w", name, err))
			}
		}
	}
	return errors.Join(errs...)
}

// HandleMMIO dispatches an MMIO access to the registered device.
func (c *Chipset) HandleMMIO(addr uint64, data []byte, isWrite bool) error {
	accessEnd := addr + uint64(len(data))
	if accessEnd < addr {
		return fmt.Errorf("chipset: MMIO access overflow at 0x%016x", addr)
	}

	for _, binding := range c.mmio {
		if !binding.region.Contains(addr, len(data)) {
			continue
		}
		if err := binding.region.CheckAccess(len(data)); err != nil {
			return err
		}
		if isWrite {
			return binding.handler.WriteMMIO(addr, data)
		}
		return binding.handler.ReadMMIO(addr, data)
	}

	return fmt.Errorf("%w 0x%016x", ErrUnmapped, addr)
}

// Device returns the device registered under name.
func (c *Chipset) Device(name string) (ChipsetDevice, bool) {
	dev, ok := c.devices[name]
	return dev, ok
}

// Regions returns the mapped regions in registration order.
func (c *Chipset) Regions() []Region {
	out := make([]Region, len(c.mmio))
	for i, binding := range c.mmio {
		out[i] = binding.region
	}
	return out
}

// DeviceNames returns the registered device names in sorted order.
func (c *Chipset) DeviceNames() []string {
	names := make([]string, 0, len(c.devices))
	for name := range c.devices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

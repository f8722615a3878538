package chipset

import (
	"fmt"
)

type mmioBinding struct {
	region  Region
	handler MmioHandler
}

// ChipsetBuilder registers devices and their intercepts before creating a Chipset.
type ChipsetBuilder struct {
	devices map[string]ChipsetDevice
	mmio    []mmioBinding
}

// NewBuilder returns an empty ChipsetBuilder instance.
func NewBuilder() *ChipsetBuilder {
	return &ChipsetBuilder{
		devices: make(map[string]ChipsetDevice),
	}
}

// RegisterDevice adds a chipset device and wires up its intercepts.
func (b *ChipsetBuilder) RegisterDevice(name string, dev ChipsetDevice) error {
	if b == nil {
		return fmt.Errorf("chipset builder is nil")
	}
	if name == "" {
		return fmt.Errorf("device name is empty")
	}
	if dev == nil {
		return fmt.Errorf("device %q is nil", name)
	}
	if _, exists := b.devices[name]; exists {
		return fmt.Errorf("device %q already registered", name)
	}

	if intercept := dev.SupportsMmio(); intercept != nil {
		if intercept.Handler == nil {
			return fmt.Errorf("device %q provided MMIO regions with nil handler", name)
		}
		for _, region := range intercept.Regions {
			if err := b.WithMmioRegion(region, intercept.Handler); err != nil {
				return fmt.Errorf("device %q: %w", name, err)
			}
		}
	}

	b.devices[name] = dev
	return nil
}

// WithMmioRegion registers a memory-mapped region handler.
func (b *ChipsetBuilder) WithMmioRegion(region Region, handler MmioHandler) error {
	base, size := region.Address, region.Size
	if handler == nil {
		return fmt.Errorf("MMIO handler for region 0x%x size 0x%x is nil", base, size)
	}
	if size == 0 {
		return fmt.Errorf("MMIO region at 0x%x has zero size", base)
	}
	if base+size < base {
		return fmt.Errorf("MMIO region at 0x%x with size 0x%x overflows", base, size)
	}
	if region.MinAccess > 0 && region.MaxAccess > 0 && region.MinAccess > region.MaxAccess {
		return fmt.Errorf("MMIO region at 0x%x has min access %d above max %d", base, region.MinAccess, region.MaxAccess)
	}
	for _, existing := range b.mmio {
		if regionsOverlap(base, size, existing.region.Address, existing.region.Size) {
			return fmt.Errorf(
				"MMIO region 0x%x-0x%x overlaps existing region 0x%x-0x%x",
				base, base+size-1, existing.region.Address, existing.region.End()-1)
		}
	}

	b.mmio = append(b.mmio, mmioBinding{region: region, handler: handler})
	return nil
}

// Build finalizes the chipset. The builder must not be used afterwards.
func (b *ChipsetBuilder) Build() *Chipset {
	mmio := make([]mmioBinding, len(b.mmio))
	copy(mmio, b.mmio)
	return &Chipset{
		devices: b.devices,
		mmio:    mmio,
	}
}

func regionsOverlap(aBase, aSize, bBase, bSize uint64) bool {
	return aBase < bBase+bSize && bBase < aBase+aSize
}

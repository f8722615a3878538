package chipset

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/tinyrange/vcan/internal/channel"
)

// Params are the creation-time settings handed to a device factory.
type Params struct {
	// Base overrides DeviceInfo.Base when non-zero.
	Base    uint64
	Backend channel.Channel
	Logger  *slog.Logger
}

// DeviceInfo is the static description of a device type.
type DeviceInfo struct {
	Name          string
	Description   string
	Base          uint64
	Size          uint64
	Registers     int
	MinAccess     int
	MaxAccess     int
	UserCreatable bool

	New func(Params) (ChipsetDevice, error)
}

func (d DeviceInfo) String() string {
	return fmt.Sprintf("%s @ 0x%08x size 0x%x, %d registers, access %d..%d bytes",
		d.Name, d.Base, d.Size, d.Registers, d.MinAccess, d.MaxAccess)
}

// Registry holds device types. Callers create and own their registry;
// there is no package-level instance.
type Registry struct {
	types map[string]DeviceInfo
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]DeviceInfo)}
}

// Register adds a device type.
func (r *Registry) Register(info DeviceInfo) error {
	if info.Name == "" {
		return fmt.Errorf("chipset: device type name is empty")
	}
	if info.New == nil {
		return fmt.Errorf("chipset: device type %q has no constructor", info.Name)
	}
	if _, exists := r.types[info.Name]; exists {
		return fmt.Errorf("chipset: device type %q already registered", info.Name)
	}
	r.types[info.Name] = info
	return nil
}

// Lookup returns the device type registered under name.
func (r *Registry) Lookup(name string) (DeviceInfo, bool) {
	info, ok := r.types[name]
	return info, ok
}

// Names returns the registered type names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Create instantiates a device of the named type.
func (r *Registry) Create(name string, params Params) (ChipsetDevice, error) {
	info, ok := r.types[name]
	if !ok {
		return nil, fmt.Errorf("chipset: unknown device type %q", name)
	}
	if params.Base == 0 {
		params.Base = info.Base
	}
	dev, err := info.New(params)
	if err != nil {
		return nil, fmt.Errorf("chipset: create %q: %w", name, err)
	}
	return dev, nil
}

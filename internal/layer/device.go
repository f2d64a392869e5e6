package layer

import (
	"fmt"

	"github.com/FlavioCFOliveira/GoNeuron2D/internal/kernels"
)

// DeviceType identifies the backend a layer runs on.
type DeviceType int

const (
	CPU DeviceType = iota
	Fused
)

func (t DeviceType) String() string {
	if t == Fused {
		return "fused"
	}
	return "cpu"
}

// Device selects between the fused kernels and the composed fallback.
// Layers resolve their device once at construction.
type Device interface {
	Type() DeviceType
	IsAvailable() bool
}

// CPUDevice runs the composed fallback path built from generic primitives.
type CPUDevice struct{}

func (d *CPUDevice) Type() DeviceType { return CPU }
func (d *CPUDevice) IsAvailable() bool { return true }

// FusedDevice runs the fused kernels. It is unavailable when the module is
// built with the nofused tag.
type FusedDevice struct{}

func NewFusedDevice() *FusedDevice {
	return &FusedDevice{}
}

func (d *FusedDevice) Type() DeviceType { return Fused }
func (d *FusedDevice) IsAvailable() bool { return kernels.IsAvailable() }

// GetDefaultDevice returns the best available device.
func GetDefaultDevice() Device {
	fused := NewFusedDevice()
	if fused.IsAvailable() {
		return fused
	}
	return &CPUDevice{}
}

// ParseDevice maps "auto", "cpu" or "fused" to a device.
func ParseDevice(name string) (Device, error) {
	switch name {
	case "", "auto":
		return GetDefaultDevice(), nil
	case "cpu":
		return &CPUDevice{}, nil
	case "fused":
		return NewFusedDevice(), nil
	}
	return nil, fmt.Errorf("%w: unknown device %q", ErrConfig, name)
}

// runsFused resolves d (nil means the default) and reports whether the fused
// kernels can serve it.
func runsFused(d Device) bool {
	if d == nil {
		d = GetDefaultDevice()
	}
	return d.Type() == Fused && d.IsAvailable()
}

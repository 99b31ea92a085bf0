// device_info.go
// Dieses Modul enthaelt die DeviceInfo-Strukturen, Geraete-Typen und
// Faehigkeits-Flags, die Code-Cache und Pipeline auswerten.

package ml

import (
	"fmt"
	"strings"
)

// DeviceID identifies a device by driver library and platform/device index.
type DeviceID struct {
	// Library is the name of the driver that exposes the device
	Library string `json:"library"`

	PlatformIndex int `json:"platform"`
	Index         int `json:"index"`
}

func (id DeviceID) String() string {
	return fmt.Sprintf("%s:%d:%d", id.Library, id.PlatformIndex, id.Index)
}

// Dir is the per-device subdirectory used for persisted artifacts.
func (id DeviceID) Dir() string {
	return fmt.Sprintf("device-%d-%d", id.PlatformIndex, id.Index)
}

type DeviceType int

const (
	DeviceTypeCPU DeviceType = iota
	DeviceTypeGPU
	DeviceTypeAccelerator
)

func (t DeviceType) String() string {
	switch t {
	case DeviceTypeCPU:
		return "cpu"
	case DeviceTypeGPU:
		return "gpu"
	case DeviceTypeAccelerator:
		return "accelerator"
	default:
		return fmt.Sprintf("DeviceType(%d)", int(t))
	}
}

// Capability is a set of device feature flags.
type Capability uint32

const (
	// CapSharedProgram marks devices where one physical compiled unit backs
	// several logical programs, so an installed lookup program can serve
	// further entry points without loading the binary again.
	CapSharedProgram Capability = 1 << iota

	// CapAsyncLaunch marks devices whose Launch returns before the kernel
	// has finished.
	CapAsyncLaunch

	// CapBinaryDump marks devices whose programs can be dumped as binaries.
	CapBinaryDump
)

func (c Capability) String() string {
	var names []string
	for _, f := range []struct {
		c    Capability
		name string
	}{
		{CapSharedProgram, "shared-program"},
		{CapAsyncLaunch, "async-launch"},
		{CapBinaryDump, "binary-dump"},
	} {
		if c&f.c != 0 {
			names = append(names, f.name)
		}
	}
	return strings.Join(names, ",")
}

type DeviceInfo struct {
	DeviceID

	// Name is the name of the device as labeled by the driver
	Name string `json:"name"`

	// Vendor is the device vendor, e.g. "Xilinx" or "Intel(R) Corporation"
	Vendor string `json:"vendor"`

	// PlatformVendor is the vendor of the platform exposing the device
	PlatformVendor string `json:"platform_vendor"`

	Type DeviceType `json:"type"`

	// TotalMemory is the total amount of memory usable for buffers
	TotalMemory uint64 `json:"total_memory"`

	// ComputeUnits is the number of parallel compute units
	ComputeUnits int `json:"compute_units"`

	Capabilities Capability `json:"capabilities"`

	// Features lists driver specific extensions (e.g. CPU instruction sets)
	Features []string `json:"features,omitempty"`
}

// Has reports whether all flags in c are set.
func (d DeviceInfo) Has(c Capability) bool {
	return d.Capabilities&c == c
}

// VendorPrefix returns the lower-cased vendor without any parenthesized
// suffix, e.g. "intel" for "Intel(R) Corporation".
func (d DeviceInfo) VendorPrefix() string {
	vendor := d.PlatformVendor
	if vendor == "" {
		vendor = d.Vendor
	}
	vendor, _, _ = strings.Cut(strings.ToLower(vendor), "(")
	return strings.TrimSpace(vendor)
}

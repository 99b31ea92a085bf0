// device.go
// Dieses Modul enthaelt die Geraete-Schnittstellen: Device, Program,
// Kernel und DeviceBuffer. Treiber in ml/backend implementieren sie.

package ml

import "context"

// Device is one compute device with its own memory and command queue.
type Device interface {
	Info() DeviceInfo

	// CreateProgramWithSource creates an unbuilt program from source text.
	CreateProgramWithSource(source []byte) (Program, error)

	// CreateProgramWithBinary creates an unbuilt program from a binary
	// previously produced by Program.Binary or an external toolchain.
	CreateProgramWithBinary(binary []byte) (Program, error)

	// Allocate reserves size bytes of device memory.
	Allocate(size int) (DeviceBuffer, error)

	// Launch submits kernel with the encoded argument frame. Devices with
	// CapAsyncLaunch return a running event; others return a terminal one.
	Launch(ctx context.Context, kernel Kernel, frame []byte) (Event, error)

	Close() error
}

// Program is a compiled unit that exports one or more kernels.
type Program interface {
	// Build compiles or links the program. A failed build is reported
	// through Status and BuildLog; the returned error is reserved for
	// failures to run the build at all.
	Build(options string) error

	Status() BuildStatus
	BuildLog() string

	// Kernel resolves an exported entry point.
	Kernel(name string) (Kernel, error)

	// Kernels lists the exported entry points.
	Kernels() []string

	// Binary returns the device binary of a built program.
	Binary() ([]byte, error)

	Release() error
}

type Kernel interface {
	Name() string
	Release() error
}

// DeviceBuffer is device memory backing one host buffer.
type DeviceBuffer interface {
	// Address is the device address passed to kernels in an argument frame.
	Address() uint64
	Size() int

	// Write copies src from the host to the device and blocks until done.
	Write(ctx context.Context, src []byte) error

	// Read copies the device contents into dst and blocks until done.
	Read(ctx context.Context, dst []byte) error

	Release() error
}

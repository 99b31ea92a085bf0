// Package fake provides a configurable in-memory device for contract tests.
// Programs are plain text; every "kernel <name>" token declares an entry
// point and a line starting with "#error" fails the build.
package fake

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ollama/offload/ml"
)

// BinaryPrefix marks program binaries produced by this device.
const BinaryPrefix = "FAKEBIN\n"

// Counters is a snapshot of device interactions.
type Counters struct {
	SourcePrograms int
	BinaryPrograms int
	Builds         int
	Releases       int
	Allocations    int
	Writes         int
	Reads          int
	Launches       int
}

// Device is a fake ml.Device. Fields are read at call time and may be set
// by tests before use.
type Device struct {
	info ml.DeviceInfo

	// LaunchErr makes every launch fail with this error.
	LaunchErr error

	// BuildErr and ReleaseErr are returned by program Build and Release.
	BuildErr   error
	ReleaseErr error

	// OnLaunch runs synchronously inside Launch, or on a goroutine for
	// devices with ml.CapAsyncLaunch.
	OnLaunch func(d *Device, kernel string, frame []byte) error

	// Hold delays asynchronous launches until it is closed.
	Hold chan struct{}

	mu       sync.Mutex
	counters Counters
	nextAddr uint64
	memory   map[uint64][]byte
	launched []string
	closed   bool
}

// New returns a device for the given info. An empty Library is set to "fake".
func New(info ml.DeviceInfo) *Device {
	if info.Library == "" {
		info.Library = "fake"
	}
	if info.Name == "" {
		info.Name = "FakeDevice"
	}
	return &Device{
		info:     info,
		nextAddr: 0x1000,
		memory:   make(map[uint64][]byte),
	}
}

func (d *Device) Info() ml.DeviceInfo {
	return d.info
}

func (d *Device) Counters() Counters {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.counters
}

// Launched returns the kernel names in launch order.
func (d *Device) Launched() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.launched...)
}

// Memory returns the device memory at address, or nil.
func (d *Device) Memory(address uint64) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.memory[address]
}

// SetMemory copies p into the device memory at address, as a kernel would.
func (d *Device) SetMemory(address uint64, p []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	mem, ok := d.memory[address]
	if !ok {
		return ml.ErrInvalidBuffer
	}
	copy(mem, p)
	return nil
}

func (d *Device) count(f func(*Counters)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f(&d.counters)
}

func (d *Device) CreateProgramWithSource(source []byte) (ml.Program, error) {
	d.count(func(c *Counters) { c.SourcePrograms++ })
	return &program{dev: d, text: string(source)}, nil
}

func (d *Device) CreateProgramWithBinary(binary []byte) (ml.Program, error) {
	if !bytes.HasPrefix(binary, []byte(BinaryPrefix)) {
		return nil, ml.ErrInvalidBinary
	}
	d.count(func(c *Counters) { c.BinaryPrograms++ })
	return &program{dev: d, text: string(binary[len(BinaryPrefix):])}, nil
}

func (d *Device) Allocate(size int) (ml.DeviceBuffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, ml.ErrDeviceLost
	}

	addr := d.nextAddr
	d.nextAddr += uint64(size) + 0x100
	d.memory[addr] = make([]byte, size)
	d.counters.Allocations++
	return &buffer{dev: d, addr: addr, size: size}, nil
}

func (d *Device) Launch(ctx context.Context, k ml.Kernel, frame []byte) (ml.Event, error) {
	kern, ok := k.(*kernel)
	if !ok || kern.released {
		return nil, ml.ErrInvalidKernel
	}

	d.mu.Lock()
	d.counters.Launches++
	d.launched = append(d.launched, kern.name)
	d.mu.Unlock()

	ev := ml.NewEvent(kern.name)
	run := func() {
		ev.Start()
		if d.Hold != nil {
			<-d.Hold
		}
		if d.LaunchErr != nil {
			ev.Fail(d.LaunchErr)
			return
		}
		if d.OnLaunch != nil {
			if err := d.OnLaunch(d, kern.name, frame); err != nil {
				ev.Fail(err)
				return
			}
		}
		ev.Complete()
	}

	if d.info.Has(ml.CapAsyncLaunch) {
		go run()
	} else {
		run()
	}
	return ev, nil
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

type program struct {
	dev    *Device
	text   string
	status ml.BuildStatus
	log    string
}

func (p *program) Build(options string) error {
	p.dev.count(func(c *Counters) { c.Builds++ })
	if p.dev.BuildErr != nil {
		return p.dev.BuildErr
	}

	for _, line := range strings.Split(p.text, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "#error") {
			p.status = ml.BuildError
			p.log = "error: " + strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "#error"))
			return nil
		}
	}
	p.status = ml.BuildSuccess
	p.log = ""
	return nil
}

func (p *program) Status() ml.BuildStatus { return p.status }
func (p *program) BuildLog() string       { return p.log }

func (p *program) Kernels() []string {
	var names []string
	fields := strings.Fields(p.text)
	for i := 0; i+1 < len(fields); i++ {
		if fields[i] == "kernel" {
			name, _, _ := strings.Cut(fields[i+1], "(")
			names = append(names, name)
		}
	}
	return names
}

func (p *program) Kernel(name string) (ml.Kernel, error) {
	if p.status != ml.BuildSuccess {
		return nil, ml.ErrProgramNotBuilt
	}
	for _, k := range p.Kernels() {
		if k == name {
			return &kernel{name: name}, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ml.ErrInvalidKernel, name)
}

func (p *program) Binary() ([]byte, error) {
	if p.status != ml.BuildSuccess {
		return nil, ml.ErrProgramNotBuilt
	}
	return []byte(BinaryPrefix + p.text), nil
}

func (p *program) Release() error {
	p.dev.count(func(c *Counters) { c.Releases++ })
	return p.dev.ReleaseErr
}

type kernel struct {
	name     string
	released bool
}

func (k *kernel) Name() string { return k.name }

func (k *kernel) Release() error {
	k.released = true
	return nil
}

type buffer struct {
	dev  *Device
	addr uint64
	size int
}

func (b *buffer) Address() uint64 { return b.addr }
func (b *buffer) Size() int       { return b.size }

func (b *buffer) Write(_ context.Context, src []byte) error {
	b.dev.mu.Lock()
	defer b.dev.mu.Unlock()

	mem, ok := b.dev.memory[b.addr]
	if !ok {
		return ml.ErrInvalidBuffer
	}
	if len(src) != len(mem) {
		return ml.ErrSizeMismatch
	}
	copy(mem, src)
	b.dev.counters.Writes++
	return nil
}

func (b *buffer) Read(_ context.Context, dst []byte) error {
	b.dev.mu.Lock()
	defer b.dev.mu.Unlock()

	mem, ok := b.dev.memory[b.addr]
	if !ok {
		return ml.ErrInvalidBuffer
	}
	if len(dst) != len(mem) {
		return ml.ErrSizeMismatch
	}
	copy(dst, mem)
	b.dev.counters.Reads++
	return nil
}

func (b *buffer) Release() error {
	b.dev.mu.Lock()
	defer b.dev.mu.Unlock()

	if _, ok := b.dev.memory[b.addr]; !ok {
		return errors.Join(ml.ErrInvalidBuffer, fmt.Errorf("double release of 0x%x", b.addr))
	}
	delete(b.dev.memory, b.addr)
	return nil
}

// Driver exposes a fixed set of fake devices.
type Driver struct {
	Devs []*Device
}

func (Driver) Name() string { return "fake" }

func (d Driver) Devices() ([]ml.Device, error) {
	devs := make([]ml.Device, len(d.Devs))
	for i, dev := range d.Devs {
		devs[i] = dev
	}
	return devs, nil
}

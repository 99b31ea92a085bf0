// Package host implements a multicore CPU driver. Programs are compiled at
// runtime: a program's source declares kernels and each declared kernel is
// bound to a Go implementation registered with RegisterKernel. Launches run
// in submission order on a per-device queue.
package host

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ollama/offload/callstack"
	"github.com/ollama/offload/logutil"
	"github.com/ollama/offload/ml"
)

const queueDepth = 64

type job struct {
	ev    *ml.CompletionEvent
	kern  *kernel
	frame *callstack.Frame
}

// Device is the host CPU as an ml.Device.
type Device struct {
	info    ml.DeviceInfo
	workers int
	mem     *memory

	qmu    sync.RWMutex
	queue  chan job
	closed bool
	done   chan struct{}
}

func newDevice(info ml.DeviceInfo, workers int) *Device {
	d := &Device{
		info:    info,
		workers: max(workers, 1),
		mem:     newMemory(),
		queue:   make(chan job, queueDepth),
		done:    make(chan struct{}),
	}
	go d.loop()
	return d
}

func (d *Device) Info() ml.DeviceInfo {
	return d.info
}

func (d *Device) CreateProgramWithSource(source []byte) (ml.Program, error) {
	return &program{dev: d, source: string(source)}, nil
}

func (d *Device) CreateProgramWithBinary(binary []byte) (ml.Program, error) {
	source, err := parseBinary(binary)
	if err != nil {
		return nil, err
	}
	return &program{dev: d, source: source}, nil
}

func (d *Device) Allocate(size int) (ml.DeviceBuffer, error) {
	if size < 0 {
		return nil, fmt.Errorf("host: negative allocation size %d", size)
	}

	d.qmu.RLock()
	defer d.qmu.RUnlock()
	if d.closed {
		return nil, ml.ErrDeviceLost
	}

	addr := d.mem.alloc(size)
	return &buffer{mem: d.mem, addr: addr, size: size}, nil
}

// Launch decodes the frame and queues the kernel. The returned event is
// queued or running; Wait on it for completion.
func (d *Device) Launch(ctx context.Context, k ml.Kernel, frame []byte) (ml.Event, error) {
	kern, ok := k.(*kernel)
	if !ok || kern.released {
		return nil, ml.ErrInvalidKernel
	}

	f, err := callstack.Decode(frame)
	if err != nil {
		return nil, err
	}

	d.qmu.RLock()
	defer d.qmu.RUnlock()
	if d.closed {
		return nil, ml.ErrDeviceLost
	}

	ev := ml.NewEvent(kern.name)
	select {
	case d.queue <- job{ev: ev, kern: kern, frame: f}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	logutil.TraceContext(ctx, "kernel queued", "device", d.info.DeviceID, "kernel", kern.name, "event", ev.ID(), "args", f.Len())
	return ev, nil
}

func (d *Device) loop() {
	defer close(d.done)

	for j := range d.queue {
		j.ev.Start()
		inv := &Invocation{Name: j.kern.name, Frame: j.frame, Workers: d.workers, mem: d.mem}
		if err := j.kern.fn(inv); err != nil {
			slog.Debug("kernel failed", "device", d.info.DeviceID, "kernel", j.kern.name, "error", err)
			j.ev.Fail(err)
			continue
		}
		j.ev.Complete()
	}
}

// Close drains queued launches and stops the device.
func (d *Device) Close() error {
	d.qmu.Lock()
	if d.closed {
		d.qmu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.qmu.Unlock()

	<-d.done
	return nil
}

package kernels

import (
	"context"
	"encoding/binary"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/x448/float16"

	"github.com/ollama/offload/callstack"
	"github.com/ollama/offload/ml"
	"github.com/ollama/offload/ml/backend/host"
)

type harness struct {
	t   *testing.T
	dev ml.Device
	p   ml.Program
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	devs, err := (&host.Driver{Workers: 2}).Devices()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { devs[0].Close() })

	p, err := devs[0].CreateProgramWithSource([]byte(Library))
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Build(""); err != nil {
		t.Fatal(err)
	}
	if p.Status() != ml.BuildSuccess {
		t.Fatalf("build failed: %s", p.BuildLog())
	}
	return &harness{t: t, dev: devs[0], p: p}
}

func (h *harness) buffer(data []byte) ml.DeviceBuffer {
	h.t.Helper()
	b, err := h.dev.Allocate(len(data))
	if err != nil {
		h.t.Fatal(err)
	}
	if err := b.Write(context.Background(), data); err != nil {
		h.t.Fatal(err)
	}
	return b
}

func (h *harness) run(name string, args ...any) {
	h.t.Helper()
	f := callstack.New(len(args), callstack.DefaultLimit)
	for _, a := range args {
		if b, ok := a.(ml.DeviceBuffer); ok {
			f.PushBuffer(b.Address(), b.Size())
			continue
		}
		if err := f.Push(a); err != nil {
			h.t.Fatal(err)
		}
	}
	frame, err := f.Encode()
	if err != nil {
		h.t.Fatal(err)
	}

	k, err := h.p.Kernel(name)
	if err != nil {
		h.t.Fatal(err)
	}
	ev, err := h.dev.Launch(context.Background(), k, frame)
	if err != nil {
		h.t.Fatal(err)
	}
	if err := ev.Wait(context.Background()); err != nil {
		h.t.Fatal(err)
	}
}

func (h *harness) read(b ml.DeviceBuffer) []byte {
	h.t.Helper()
	out := make([]byte, b.Size())
	if err := b.Read(context.Background(), out); err != nil {
		h.t.Fatal(err)
	}
	return out
}

func f32(v ...float32) []byte {
	b := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(f))
	}
	return b
}

func f64(v ...float64) []byte {
	b := make([]byte, 8*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint64(b[8*i:], math.Float64bits(f))
	}
	return b
}

func TestLibraryKernels(t *testing.T) {
	h := newHarness(t)
	want := []string{LookupBufferAddress, "vectorAdd", "saxpy", "daxpy", "hscale"}
	if diff := cmp.Diff(want, h.p.Kernels()); diff != "" {
		t.Errorf("kernels mismatch (-want +got):\n%s", diff)
	}
}

func TestVectorAdd(t *testing.T) {
	h := newHarness(t)
	a := h.buffer(f32(1, 2, 3, 4))
	b := h.buffer(f32(10, 20, 30, 40))
	c := h.buffer(make([]byte, 16))

	h.run("vectorAdd", a, b, c)

	if diff := cmp.Diff(f32(11, 22, 33, 44), h.read(c)); diff != "" {
		t.Errorf("c mismatch (-want +got):\n%s", diff)
	}
}

func TestSaxpy(t *testing.T) {
	h := newHarness(t)
	x := h.buffer(f32(1, 2, 3))
	y := h.buffer(f32(1, 1, 1))

	h.run("saxpy", float32(2), x, y)

	if diff := cmp.Diff(f32(3, 5, 7), h.read(y)); diff != "" {
		t.Errorf("y mismatch (-want +got):\n%s", diff)
	}
}

func TestDaxpy(t *testing.T) {
	h := newHarness(t)
	x := h.buffer(f64(1, 2, 3, 4, 5))
	y := h.buffer(f64(0.5, 0.5, 0.5, 0.5, 0.5))

	h.run("daxpy", 0.5, x, y)

	if diff := cmp.Diff(f64(1, 1.5, 2, 2.5, 3), h.read(y)); diff != "" {
		t.Errorf("y mismatch (-want +got):\n%s", diff)
	}
}

func TestHscale(t *testing.T) {
	h := newHarness(t)
	x := h.buffer(f32(1, -2, 0.5))

	h.run("hscale", float16.Fromfloat32(4), x)

	if diff := cmp.Diff(f32(4, -8, 2), h.read(x)); diff != "" {
		t.Errorf("x mismatch (-want +got):\n%s", diff)
	}
}

func TestLookupBufferAddress(t *testing.T) {
	h := newHarness(t)
	heap := h.buffer(make([]byte, 64))
	out := h.buffer(make([]byte, 8))

	h.run(LookupBufferAddress, heap, out)

	if got := binary.LittleEndian.Uint64(h.read(out)); got != heap.Address() {
		t.Errorf("heap address = 0x%x, want 0x%x", got, heap.Address())
	}
}

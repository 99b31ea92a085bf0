package host

import (
	"context"
	"encoding/binary"
	"math"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ollama/offload/callstack"
	"github.com/ollama/offload/ml"
)

func init() {
	RegisterKernel("testScale", func(inv *Invocation) error {
		alpha, err := inv.Float32(0)
		if err != nil {
			return err
		}
		v, err := inv.Float32s(1)
		if err != nil {
			return err
		}
		if err := inv.Parallel(len(v), func(lo, hi int) error {
			for i := lo; i < hi; i++ {
				v[i] *= alpha
			}
			return nil
		}); err != nil {
			return err
		}
		return inv.SetFloat32s(1, v)
	})
	RegisterKernel("testFail", func(inv *Invocation) error {
		return errors.New("kaputt")
	})
}

const testSource = `
__kernel void testScale(float alpha, __global float *v) { }
kernel void testFail() { }
`

func testDevice(t *testing.T) *Device {
	t.Helper()
	devs, err := (&Driver{Workers: 3}).Devices()
	if err != nil {
		t.Fatal(err)
	}
	d := devs[0].(*Device)
	t.Cleanup(func() { d.Close() })
	return d
}

func TestScanKernels(t *testing.T) {
	cases := []struct {
		name   string
		source string
		want   []string
	}{
		{"opencl", "__kernel void a(int x) {}\n__kernel  void  b (float y) {}", []string{"a", "b"}},
		{"short", "kernel void c() {}", []string{"c"}},
		{"identifier", "int mykernel void d() {}", nil},
		{"none", "void helper() {}", nil},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			got, err := scanKernels(tt.source)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("kernels mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBuild(t *testing.T) {
	d := testDevice(t)

	p, err := d.CreateProgramWithSource([]byte(testSource))
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Build(""); err != nil {
		t.Fatal(err)
	}
	if p.Status() != ml.BuildSuccess {
		t.Fatalf("status = %v, log = %q", p.Status(), p.BuildLog())
	}
	if diff := cmp.Diff([]string{"testScale", "testFail"}, p.Kernels()); diff != "" {
		t.Errorf("kernels mismatch (-want +got):\n%s", diff)
	}

	if _, err := p.Kernel("testScal"); !errors.Is(err, ml.ErrInvalidKernel) || !strings.Contains(err.Error(), `did you mean "testScale"`) {
		t.Errorf("Kernel(testScal) err = %v", err)
	}
}

func TestBuildFailures(t *testing.T) {
	cases := []struct {
		name    string
		source  string
		options string
		log     string
	}{
		{"error directive", "#error kaputt\n__kernel void testScale() {}", "", "<source>:1: error: kaputt"},
		{"no kernels", "void f() {}", "", "no kernel declared"},
		{"unknown kernel", "__kernel void testScal() {}", "", `did you mean "testScale"`},
		{"werror", "#warning w\n__kernel void testScale() {}", "-Werror", "warnings treated as errors"},
	}

	d := testDevice(t)
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			p, err := d.CreateProgramWithSource([]byte(tt.source))
			if err != nil {
				t.Fatal(err)
			}
			if err := p.Build(tt.options); err != nil {
				t.Fatal(err)
			}
			if p.Status() != ml.BuildError {
				t.Fatalf("status = %v, want %v", p.Status(), ml.BuildError)
			}
			if !strings.Contains(p.BuildLog(), tt.log) {
				t.Errorf("log = %q, want it to contain %q", p.BuildLog(), tt.log)
			}
			if _, err := p.Kernel("testScale"); !errors.Is(err, ml.ErrProgramNotBuilt) {
				t.Errorf("Kernel err = %v, want ErrProgramNotBuilt", err)
			}
			if _, err := p.Binary(); !errors.Is(err, ml.ErrProgramNotBuilt) {
				t.Errorf("Binary err = %v, want ErrProgramNotBuilt", err)
			}
		})
	}
}

func TestBinaryRoundTrip(t *testing.T) {
	d := testDevice(t)

	p, _ := d.CreateProgramWithSource([]byte(testSource))
	if err := p.Build(""); err != nil {
		t.Fatal(err)
	}
	bin, err := p.Binary()
	if err != nil {
		t.Fatal(err)
	}

	p2, err := d.CreateProgramWithBinary(bin)
	if err != nil {
		t.Fatal(err)
	}
	if err := p2.Build(""); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(p.Kernels(), p2.Kernels()); diff != "" {
		t.Errorf("kernels mismatch (-want +got):\n%s", diff)
	}

	if _, err := d.CreateProgramWithBinary([]byte("garbage")); !errors.Is(err, ml.ErrInvalidBinary) {
		t.Errorf("err = %v, want ErrInvalidBinary", err)
	}
}

func launch(t *testing.T, d *Device, name string, frame *callstack.Frame) ml.Event {
	t.Helper()
	p, _ := d.CreateProgramWithSource([]byte(testSource))
	if err := p.Build(""); err != nil {
		t.Fatal(err)
	}
	k, err := p.Kernel(name)
	if err != nil {
		t.Fatal(err)
	}
	b, err := frame.Encode()
	if err != nil {
		t.Fatal(err)
	}
	ev, err := d.Launch(context.Background(), k, b)
	if err != nil {
		t.Fatal(err)
	}
	return ev
}

func TestLaunch(t *testing.T) {
	ctx := context.Background()
	d := testDevice(t)

	buf, err := d.Allocate(4 * 5)
	if err != nil {
		t.Fatal(err)
	}
	in := []byte{
		0, 0, 128, 63, // 1
		0, 0, 0, 64, // 2
		0, 0, 64, 64, // 3
		0, 0, 128, 64, // 4
		0, 0, 160, 64, // 5
	}
	if err := buf.Write(ctx, in); err != nil {
		t.Fatal(err)
	}

	f := callstack.New(2, callstack.DefaultLimit)
	if err := f.Push(float32(2)); err != nil {
		t.Fatal(err)
	}
	f.PushBuffer(buf.Address(), buf.Size())

	ev := launch(t, d, "testScale", f)
	if err := ev.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	if ev.Status() != ml.EventComplete {
		t.Fatalf("status = %v", ev.Status())
	}

	out := make([]byte, buf.Size())
	if err := buf.Read(ctx, out); err != nil {
		t.Fatal(err)
	}
	got := make([]float32, len(out)/4)
	for i := range got {
		got[i] = math.Float32frombits(binary.LittleEndian.Uint32(out[4*i:]))
	}
	if diff := cmp.Diff([]float32{2, 4, 6, 8, 10}, got); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}
}

func TestLaunchFailure(t *testing.T) {
	d := testDevice(t)

	ev := launch(t, d, "testFail", callstack.New(0, callstack.DefaultLimit))
	err := ev.Wait(context.Background())
	if err == nil || err.Error() != "kaputt" {
		t.Fatalf("Wait err = %v, want kaputt", err)
	}
	if ev.Status() != ml.EventFailed {
		t.Errorf("status = %v, want failed", ev.Status())
	}
}

func TestArgumentKindMismatch(t *testing.T) {
	d := testDevice(t)

	f := callstack.New(2, callstack.DefaultLimit)
	f.Push(int32(2))
	f.PushBuffer(0xdead, 4)

	ev := launch(t, d, "testScale", f)
	if err := ev.Wait(context.Background()); err == nil || !strings.Contains(err.Error(), "want float32") {
		t.Errorf("Wait err = %v", err)
	}
}

func TestClosedDevice(t *testing.T) {
	d := testDevice(t)
	if err := d.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Allocate(4); !errors.Is(err, ml.ErrDeviceLost) {
		t.Errorf("Allocate err = %v, want ErrDeviceLost", err)
	}
	// zweites Close ist ein No-Op
	if err := d.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestReleaseTwice(t *testing.T) {
	d := testDevice(t)
	buf, err := d.Allocate(8)
	if err != nil {
		t.Fatal(err)
	}
	if err := buf.Release(); err != nil {
		t.Fatal(err)
	}
	if err := buf.Release(); !errors.Is(err, ml.ErrInvalidBuffer) {
		t.Errorf("second Release err = %v, want ErrInvalidBuffer", err)
	}
}

func TestParallelCoversRange(t *testing.T) {
	inv := &Invocation{Workers: 4}
	seen := make([]int, 10)
	if err := inv.Parallel(len(seen), func(lo, hi int) error {
		for i := lo; i < hi; i++ {
			seen[i]++
		}
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	for i, n := range seen {
		if n != 1 {
			t.Errorf("index %d visited %d times", i, n)
		}
	}
}

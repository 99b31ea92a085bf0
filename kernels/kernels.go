// Package kernels is the kernel library of the host driver. Importing it
// registers every kernel with the host driver; the Source constants are the
// matching program sources.
package kernels

import (
	"encoding/binary"
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/ollama/offload/ml/backend/host"
)

// LookupBufferAddress is the entry point of the helper kernel that reports
// the device address of a heap buffer.
const LookupBufferAddress = "lookupBufferAddress"

const (
	// LookupSource declares the buffer address helper:
	// heapAddress[0] = address of heap.
	LookupSource = `__kernel void lookupBufferAddress(__global uchar *heap, __global ulong *heapAddress) {
	heapAddress[0] = (ulong) heap;
}
`

	// VectorAddSource declares c[i] = a[i] + b[i].
	VectorAddSource = `__kernel void vectorAdd(__global const float *a, __global const float *b, __global float *c) {
	int i = get_global_id(0);
	c[i] = a[i] + b[i];
}
`

	// SaxpySource declares y[i] = alpha * x[i] + y[i].
	SaxpySource = `__kernel void saxpy(float alpha, __global const float *x, __global float *y) {
	int i = get_global_id(0);
	y[i] = alpha * x[i] + y[i];
}
`

	// DaxpySource declares the double precision saxpy.
	DaxpySource = `__kernel void daxpy(double alpha, __global const double *x, __global double *y) {
	int i = get_global_id(0);
	y[i] = alpha * x[i] + y[i];
}
`

	// HscaleSource scales a float buffer by a half precision factor.
	HscaleSource = `__kernel void hscale(half alpha, __global float *x) {
	int i = get_global_id(0);
	x[i] = vload_half(0, &alpha) * x[i];
}
`
)

// Library is the source of all kernels in one program.
const Library = LookupSource + VectorAddSource + SaxpySource + DaxpySource + HscaleSource

func init() {
	host.RegisterKernel(LookupBufferAddress, lookupBufferAddress)
	host.RegisterKernel("vectorAdd", vectorAdd)
	host.RegisterKernel("saxpy", saxpy)
	host.RegisterKernel("daxpy", daxpy)
	host.RegisterKernel("hscale", hscale)
}

func lookupBufferAddress(inv *host.Invocation) error {
	addr, err := inv.Address(0)
	if err != nil {
		return err
	}
	out, err := inv.Buffer(1)
	if err != nil {
		return err
	}
	if len(out) < 8 {
		return fmt.Errorf("%s: heap address buffer has %d bytes, want 8", inv.Name, len(out))
	}
	binary.LittleEndian.PutUint64(out, addr)
	return nil
}

func vectorAdd(inv *host.Invocation) error {
	a, err := inv.Float32s(0)
	if err != nil {
		return err
	}
	b, err := inv.Float32s(1)
	if err != nil {
		return err
	}
	c, err := inv.Float32s(2)
	if err != nil {
		return err
	}
	n := min(len(a), len(b), len(c))

	if err := inv.Parallel(n, func(lo, hi int) error {
		for i := lo; i < hi; i++ {
			c[i] = a[i] + b[i]
		}
		return nil
	}); err != nil {
		return err
	}
	return inv.SetFloat32s(2, c)
}

func saxpy(inv *host.Invocation) error {
	alpha, err := inv.Float32(0)
	if err != nil {
		return err
	}
	x, err := inv.Float32s(1)
	if err != nil {
		return err
	}
	y, err := inv.Float32s(2)
	if err != nil {
		return err
	}
	n := min(len(x), len(y))

	if err := inv.Parallel(n, func(lo, hi int) error {
		for i := lo; i < hi; i++ {
			y[i] += alpha * x[i]
		}
		return nil
	}); err != nil {
		return err
	}
	return inv.SetFloat32s(2, y)
}

func daxpy(inv *host.Invocation) error {
	alpha, err := inv.Float64(0)
	if err != nil {
		return err
	}
	x, err := inv.Float64s(1)
	if err != nil {
		return err
	}
	y, err := inv.Float64s(2)
	if err != nil {
		return err
	}
	if len(x) != len(y) {
		return fmt.Errorf("%s: length mismatch %d != %d", inv.Name, len(x), len(y))
	}

	if err := inv.Parallel(len(y), func(lo, hi int) error {
		floats.AddScaled(y[lo:hi], alpha, x[lo:hi])
		return nil
	}); err != nil {
		return err
	}
	return inv.SetFloat64s(2, y)
}

func hscale(inv *host.Invocation) error {
	h, err := inv.Float16(0)
	if err != nil {
		return err
	}
	x, err := inv.Float32s(1)
	if err != nil {
		return err
	}

	alpha := h.Float32()
	for i := range x {
		x[i] *= alpha
	}
	return inv.SetFloat32s(1, x)
}

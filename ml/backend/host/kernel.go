// kernel.go - Registry der Host-Kernel und Aufruf-Kontext
// Dieses Modul enthaelt KernelFunc, RegisterKernel und Invocation mit
// typisierten Argument-Zugriffen und paralleler Ausfuehrung.

package host

import (
	"encoding/binary"
	"fmt"
	"math"
	"slices"
	"sync"

	"github.com/x448/float16"
	"golang.org/x/sync/errgroup"

	"github.com/ollama/offload/callstack"
	"github.com/ollama/offload/ml"
)

// KernelFunc is the host implementation of a kernel entry point.
type KernelFunc func(inv *Invocation) error

var (
	kernelsMu sync.RWMutex
	kernels   = make(map[string]KernelFunc)
)

// RegisterKernel makes f available to programs that declare name.
func RegisterKernel(name string, f KernelFunc) {
	kernelsMu.Lock()
	defer kernelsMu.Unlock()

	if _, ok := kernels[name]; ok {
		panic("host: kernel already registered: " + name)
	}
	kernels[name] = f
}

func lookupKernel(name string) (KernelFunc, bool) {
	kernelsMu.RLock()
	defer kernelsMu.RUnlock()
	f, ok := kernels[name]
	return f, ok
}

// Kernels returns the registered kernel names in sorted order.
func Kernels() []string {
	kernelsMu.RLock()
	defer kernelsMu.RUnlock()

	names := make([]string, 0, len(kernels))
	for name := range kernels {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Invocation is one kernel launch as seen by a KernelFunc.
type Invocation struct {
	Name  string
	Frame *callstack.Frame

	// Workers bounds the goroutines used by Parallel.
	Workers int

	mem *memory
}

func (inv *Invocation) NumArgs() int {
	return inv.Frame.Len()
}

func (inv *Invocation) Arg(i int) (callstack.Slot, error) {
	slots := inv.Frame.Slots()
	if i < 0 || i >= len(slots) {
		return callstack.Slot{}, fmt.Errorf("%s: argument %d out of range (%d arguments)", inv.Name, i, len(slots))
	}
	return slots[i], nil
}

func (inv *Invocation) scalar(i int, kind callstack.Kind) (callstack.Slot, error) {
	s, err := inv.Arg(i)
	if err != nil {
		return s, err
	}
	if s.Kind != kind {
		return s, fmt.Errorf("%s: argument %d is %s, want %s", inv.Name, i, s.Kind, kind)
	}
	return s, nil
}

func (inv *Invocation) Int32(i int) (int32, error) {
	s, err := inv.scalar(i, callstack.KindInt32)
	return s.Int32(), err
}

func (inv *Invocation) Float32(i int) (float32, error) {
	s, err := inv.scalar(i, callstack.KindFloat32)
	return s.Float32(), err
}

func (inv *Invocation) Float64(i int) (float64, error) {
	s, err := inv.scalar(i, callstack.KindFloat64)
	return s.Float64(), err
}

func (inv *Invocation) Float16(i int) (float16.Float16, error) {
	s, err := inv.scalar(i, callstack.KindFloat16)
	return s.Float16(), err
}

// Buffer returns the device memory referenced by argument i. Writes to the
// returned slice are device writes.
func (inv *Invocation) Buffer(i int) ([]byte, error) {
	s, err := inv.scalar(i, callstack.KindBuffer)
	if err != nil {
		return nil, err
	}
	b, err := inv.mem.lookup(s.Address)
	if err != nil {
		return nil, fmt.Errorf("%s: argument %d: %w", inv.Name, i, err)
	}
	if len(b) != s.Size {
		return nil, fmt.Errorf("%s: argument %d: %w: frame says %d bytes, buffer has %d", inv.Name, i, ml.ErrSizeMismatch, s.Size, len(b))
	}
	return b, nil
}

// Address returns the device address of buffer argument i.
func (inv *Invocation) Address(i int) (uint64, error) {
	s, err := inv.scalar(i, callstack.KindBuffer)
	return s.Address, err
}

func (inv *Invocation) Float32s(i int) ([]float32, error) {
	b, err := inv.Buffer(i)
	if err != nil {
		return nil, err
	}
	v := make([]float32, len(b)/4)
	for j := range v {
		v[j] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*j:]))
	}
	return v, nil
}

func (inv *Invocation) SetFloat32s(i int, v []float32) error {
	b, err := inv.Buffer(i)
	if err != nil {
		return err
	}
	if len(b) < 4*len(v) {
		return fmt.Errorf("%s: argument %d: %w", inv.Name, i, ml.ErrSizeMismatch)
	}
	for j, f := range v {
		binary.LittleEndian.PutUint32(b[4*j:], math.Float32bits(f))
	}
	return nil
}

func (inv *Invocation) Float64s(i int) ([]float64, error) {
	b, err := inv.Buffer(i)
	if err != nil {
		return nil, err
	}
	v := make([]float64, len(b)/8)
	for j := range v {
		v[j] = math.Float64frombits(binary.LittleEndian.Uint64(b[8*j:]))
	}
	return v, nil
}

func (inv *Invocation) SetFloat64s(i int, v []float64) error {
	b, err := inv.Buffer(i)
	if err != nil {
		return err
	}
	if len(b) < 8*len(v) {
		return fmt.Errorf("%s: argument %d: %w", inv.Name, i, ml.ErrSizeMismatch)
	}
	for j, f := range v {
		binary.LittleEndian.PutUint64(b[8*j:], math.Float64bits(f))
	}
	return nil
}

// Parallel splits the range [0, n) into contiguous chunks and runs fn on
// each chunk concurrently.
func (inv *Invocation) Parallel(n int, fn func(lo, hi int) error) error {
	if n <= 0 {
		return nil
	}

	workers := max(min(inv.Workers, n), 1)
	chunk := (n + workers - 1) / workers

	var g errgroup.Group
	for lo := 0; lo < n; lo += chunk {
		hi := min(lo+chunk, n)
		g.Go(func() error {
			return fn(lo, hi)
		})
	}
	return g.Wait()
}

// Modul: typed.go - Typisierte Konstruktoren und Sichten
// Enthaelt: Float32s/Float64s/Int32s fuer Host-Buffer im Little-Endian-Layout
package residency

import (
	"encoding/binary"
	"math"
)

func Float32s(v []float32) *Buffer {
	b := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(f))
	}
	return NewBuffer(b)
}

func Float64s(v []float64) *Buffer {
	b := make([]byte, 8*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint64(b[8*i:], math.Float64bits(f))
	}
	return NewBuffer(b)
}

func Int32s(v []int32) *Buffer {
	b := make([]byte, 4*len(v))
	for i, n := range v {
		binary.LittleEndian.PutUint32(b[4*i:], uint32(n))
	}
	return NewBuffer(b)
}

// Float32s decodes the host data.
func (b *Buffer) Float32s() []float32 {
	v := make([]float32, len(b.data)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b.data[4*i:]))
	}
	return v
}

func (b *Buffer) Float64s() []float64 {
	v := make([]float64, len(b.data)/8)
	for i := range v {
		v[i] = math.Float64frombits(binary.LittleEndian.Uint64(b.data[8*i:]))
	}
	return v
}

func (b *Buffer) Int32s() []int32 {
	v := make([]int32, len(b.data)/4)
	for i := range v {
		v[i] = int32(binary.LittleEndian.Uint32(b.data[4*i:]))
	}
	return v
}

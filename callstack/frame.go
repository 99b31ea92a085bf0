// Package callstack serializes kernel arguments into the positional frame
// passed to a device launch.
//
// Modul: frame.go - Frame, Slot und Push-Operationen
// Enthaelt: Frame Struktur, Header, Skalar- und Buffer-Slots
package callstack

import (
	"errors"
	"fmt"
	"math"

	"github.com/x448/float16"
)

var (
	// ErrFrameTooLarge is returned when the encoded frame exceeds its limit.
	ErrFrameTooLarge = errors.New("callstack: frame exceeds limit")

	// ErrUnsupportedArgument is returned for values that cannot be inlined.
	ErrUnsupportedArgument = errors.New("callstack: unsupported argument type")

	// ErrMalformedFrame is returned when decoding a truncated or corrupt frame.
	ErrMalformedFrame = errors.New("callstack: malformed frame")
)

// DefaultLimit is the frame size limit when none is configured.
const DefaultLimit = 8192

type Kind uint8

const (
	KindInvalid Kind = iota
	KindInt32
	KindInt64
	KindFloat32
	KindFloat64
	KindFloat16
	KindBool
	KindBuffer
)

func (k Kind) String() string {
	switch k {
	case KindInt32:
		return "int32"
	case KindInt64:
		return "int64"
	case KindFloat32:
		return "float32"
	case KindFloat64:
		return "float64"
	case KindFloat16:
		return "float16"
	case KindBool:
		return "bool"
	case KindBuffer:
		return "buffer"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// width is the payload size of an encoded slot of kind k.
func (k Kind) width() int {
	switch k {
	case KindInt32, KindFloat32:
		return 4
	case KindInt64, KindFloat64:
		return 8
	case KindFloat16:
		return 2
	case KindBool:
		return 1
	case KindBuffer:
		return 16
	default:
		return 0
	}
}

// Slot is one positional argument: an inline scalar or a reference to a
// device buffer.
type Slot struct {
	Kind Kind

	// bits holds the scalar bit pattern
	bits uint64

	// Address and Size describe a buffer reference
	Address uint64
	Size    int
}

func (s Slot) IsBuffer() bool { return s.Kind == KindBuffer }

func (s Slot) Int32() int32     { return int32(uint32(s.bits)) }
func (s Slot) Int64() int64     { return int64(s.bits) }
func (s Slot) Float32() float32 { return math.Float32frombits(uint32(s.bits)) }
func (s Slot) Float64() float64 { return math.Float64frombits(s.bits) }
func (s Slot) Bool() bool       { return s.bits != 0 }

func (s Slot) Float16() float16.Float16 {
	return float16.Frombits(uint16(s.bits))
}

// Value returns the slot as a Go value: the scalar, or the buffer address.
func (s Slot) Value() any {
	switch s.Kind {
	case KindInt32:
		return s.Int32()
	case KindInt64:
		return s.Int64()
	case KindFloat32:
		return s.Float32()
	case KindFloat64:
		return s.Float64()
	case KindFloat16:
		return s.Float16()
	case KindBool:
		return s.Bool()
	case KindBuffer:
		return s.Address
	default:
		return nil
	}
}

// Frame is built fresh for every launch and discarded afterwards.
type Frame struct {
	limit  int
	header map[string]int64
	slots  []Slot
}

// New allocates a frame sized for numArgs arguments. A limit <= 0 uses
// DefaultLimit.
func New(numArgs, limit int) *Frame {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Frame{
		limit:  limit,
		header: map[string]int64{},
		slots:  make([]Slot, 0, numArgs),
	}
}

// SetHeader replaces the launch metadata. A nil map leaves the header empty.
func (f *Frame) SetHeader(h map[string]int64) {
	f.header = make(map[string]int64, len(h))
	for k, v := range h {
		f.header[k] = v
	}
}

func (f *Frame) Header() map[string]int64 {
	return f.header
}

func (f *Frame) Slots() []Slot {
	return f.slots
}

func (f *Frame) Len() int {
	return len(f.slots)
}

func (f *Frame) Limit() int {
	return f.limit
}

// Push appends an inline scalar.
func (f *Frame) Push(v any) error {
	s, err := scalar(v)
	if err != nil {
		return err
	}
	f.slots = append(f.slots, s)
	return nil
}

// PushBuffer appends a reference to device memory.
func (f *Frame) PushBuffer(address uint64, size int) {
	f.slots = append(f.slots, Slot{Kind: KindBuffer, Address: address, Size: size})
}

func scalar(v any) (Slot, error) {
	switch v := v.(type) {
	case int32:
		return Slot{Kind: KindInt32, bits: uint64(uint32(v))}, nil
	case uint32:
		return Slot{Kind: KindInt32, bits: uint64(v)}, nil
	case int:
		return Slot{Kind: KindInt64, bits: uint64(int64(v))}, nil
	case int64:
		return Slot{Kind: KindInt64, bits: uint64(v)}, nil
	case uint64:
		return Slot{Kind: KindInt64, bits: v}, nil
	case float32:
		return Slot{Kind: KindFloat32, bits: uint64(math.Float32bits(v))}, nil
	case float64:
		return Slot{Kind: KindFloat64, bits: math.Float64bits(v)}, nil
	case float16.Float16:
		return Slot{Kind: KindFloat16, bits: uint64(v.Bits())}, nil
	case bool:
		var b uint64
		if v {
			b = 1
		}
		return Slot{Kind: KindBool, bits: b}, nil
	default:
		return Slot{}, fmt.Errorf("%w: %T", ErrUnsupportedArgument, v)
	}
}

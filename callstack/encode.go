// Modul: encode.go - Binaerformat des Frames
// Enthaelt: Encode und Decode im Little-Endian-Layout
//
//	u32 magic
//	u16 header count, u16 slot count
//	header: u16 key length, key, i64 value (keys sorted)
//	slots:  u8 kind, payload (4/8/2/1 bytes, or u64 address + u64 size)
package callstack

import (
	"encoding/binary"
	"fmt"
	"math"
	"slices"
)

const magic uint32 = 0x5343464f // "OFCS"

// Encode serializes the frame. It fails with ErrFrameTooLarge when the
// result exceeds the frame limit.
func (f *Frame) Encode() ([]byte, error) {
	if len(f.header) > math.MaxUint16 || len(f.slots) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: %d header entries, %d slots", ErrFrameTooLarge, len(f.header), len(f.slots))
	}

	keys := make([]string, 0, len(f.header))
	for k := range f.header {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	b := make([]byte, 0, f.size(keys))
	b = binary.LittleEndian.AppendUint32(b, magic)
	b = binary.LittleEndian.AppendUint16(b, uint16(len(keys)))
	b = binary.LittleEndian.AppendUint16(b, uint16(len(f.slots)))

	for _, k := range keys {
		b = binary.LittleEndian.AppendUint16(b, uint16(len(k)))
		b = append(b, k...)
		b = binary.LittleEndian.AppendUint64(b, uint64(f.header[k]))
	}

	for _, s := range f.slots {
		b = append(b, byte(s.Kind))
		switch s.Kind {
		case KindInt32, KindFloat32:
			b = binary.LittleEndian.AppendUint32(b, uint32(s.bits))
		case KindInt64, KindFloat64:
			b = binary.LittleEndian.AppendUint64(b, s.bits)
		case KindFloat16:
			b = binary.LittleEndian.AppendUint16(b, uint16(s.bits))
		case KindBool:
			b = append(b, byte(s.bits))
		case KindBuffer:
			b = binary.LittleEndian.AppendUint64(b, s.Address)
			b = binary.LittleEndian.AppendUint64(b, uint64(s.Size))
		default:
			return nil, fmt.Errorf("%w: slot kind %v", ErrUnsupportedArgument, s.Kind)
		}
	}

	if len(b) > f.limit {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrFrameTooLarge, len(b), f.limit)
	}
	return b, nil
}

func (f *Frame) size(keys []string) int {
	n := 8
	for _, k := range keys {
		n += 2 + len(k) + 8
	}
	for _, s := range f.slots {
		n += 1 + s.Kind.width()
	}
	return n
}

// Decode parses an encoded frame. The decoded frame has no limit beyond
// the size of b.
func Decode(b []byte) (*Frame, error) {
	r := reader{b: b}

	if r.u32() != magic {
		return nil, fmt.Errorf("%w: bad magic", ErrMalformedFrame)
	}
	nheader := int(r.u16())
	nslots := int(r.u16())

	f := New(nslots, len(b))
	for range nheader {
		key := string(r.bytes(int(r.u16())))
		f.header[key] = int64(r.u64())
	}

	for range nslots {
		s := Slot{Kind: Kind(r.u8())}
		switch s.Kind {
		case KindInt32, KindFloat32:
			s.bits = uint64(r.u32())
		case KindInt64, KindFloat64:
			s.bits = r.u64()
		case KindFloat16:
			s.bits = uint64(r.u16())
		case KindBool:
			s.bits = uint64(r.u8())
		case KindBuffer:
			s.Address = r.u64()
			s.Size = int(r.u64())
		default:
			if r.err == nil {
				r.err = fmt.Errorf("%w: slot kind %d", ErrMalformedFrame, s.Kind)
			}
		}
		f.slots = append(f.slots, s)
	}

	if r.err != nil {
		return nil, r.err
	}
	if len(r.b) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedFrame, len(r.b))
	}
	return f, nil
}

// reader consumes little-endian values and records the first short read.
type reader struct {
	b   []byte
	err error
}

func (r *reader) bytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.b) < n {
		r.err = fmt.Errorf("%w: truncated", ErrMalformedFrame)
		return nil
	}
	p := r.b[:n]
	r.b = r.b[n:]
	return p
}

func (r *reader) u8() uint8 {
	if p := r.bytes(1); p != nil {
		return p[0]
	}
	return 0
}

func (r *reader) u16() uint16 {
	if p := r.bytes(2); p != nil {
		return binary.LittleEndian.Uint16(p)
	}
	return 0
}

func (r *reader) u32() uint32 {
	if p := r.bytes(4); p != nil {
		return binary.LittleEndian.Uint32(p)
	}
	return 0
}

func (r *reader) u64() uint64 {
	if p := r.bytes(8); p != nil {
		return binary.LittleEndian.Uint64(p)
	}
	return 0
}

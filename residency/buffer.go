// Package residency tracks which host buffers are allocated and present on
// which device.
//
// Modul: buffer.go - Host-Buffer und Geraete-Records
// Enthaelt: Buffer (geteilter Zustand pro Host-Buffer), Record, State
package residency

import (
	"fmt"
	"sync"

	"github.com/ollama/offload/ml"
)

type State int

const (
	Unallocated State = iota
	Allocated
	Present
)

func (s State) String() string {
	switch s {
	case Unallocated:
		return "UNALLOCATED"
	case Allocated:
		return "ALLOCATED"
	case Present:
		return "PRESENT"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Record is the residency of one host buffer on one device.
type Record struct {
	State  State
	Handle ml.DeviceBuffer
	Size   int

	// stale is set when the host copy changed after the last copy-in
	stale bool
}

// Buffer is a host buffer together with its per-device records. Every task
// that references the same host data must share the same *Buffer so that
// residency is tracked once.
type Buffer struct {
	mu      sync.Mutex
	data    []byte
	records map[ml.DeviceID]*Record
}

// NewBuffer wraps data. The slice is used in place: copy-outs write into it.
func NewBuffer(data []byte) *Buffer {
	return &Buffer{
		data:    data,
		records: make(map[ml.DeviceID]*Record),
	}
}

// Bytes returns the host data. Callers that modify it between launches must
// call MarkStale.
func (b *Buffer) Bytes() []byte {
	return b.data
}

func (b *Buffer) Len() int {
	return len(b.data)
}

// MarkStale forces the next read access on every device to copy the host
// data in again.
func (b *Buffer) MarkStale() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, r := range b.records {
		if r.State == Present {
			r.stale = true
		}
	}
}

// Record returns a snapshot of the record for a device.
func (b *Buffer) Record(id ml.DeviceID) (Record, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.records[id]
	if !ok {
		return Record{}, false
	}
	return *r, true
}

// State returns the residency state on a device; buffers never seen by the
// device are Unallocated.
func (b *Buffer) State(id ml.DeviceID) State {
	r, _ := b.Record(id)
	return r.State
}

// record returns the record for id, creating it on first reference.
// b.mu must be held.
func (b *Buffer) record(id ml.DeviceID) *Record {
	r, ok := b.records[id]
	if !ok {
		r = &Record{Size: len(b.data)}
		b.records[id] = r
	}
	return r
}

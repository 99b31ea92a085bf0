// Modul: tracker.go - Residency-Tracker pro Geraet
// Enthaelt: Tracker, EnsurePresent, EnsureAllocated, StreamOut, Reset
package residency

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ollama/offload/logutil"
	"github.com/ollama/offload/ml"
)

// Stats counts device interactions made by a tracker.
type Stats struct {
	Allocations int
	CopiesIn    int
	CopiesOut   int
}

// Tracker owns the residency records of one device. All state transitions
// of a record happen under the tracker's lock.
type Tracker struct {
	dev ml.Device
	id  ml.DeviceID

	mu      sync.Mutex
	buffers map[*Buffer]struct{}
	stats   Stats
}

func NewTracker(dev ml.Device) *Tracker {
	return &Tracker{
		dev:     dev,
		id:      dev.Info().DeviceID,
		buffers: make(map[*Buffer]struct{}),
	}
}

func (t *Tracker) Device() ml.Device {
	return t.dev
}

// Prepare applies the transfer policy for one argument before a launch:
// reads need the data present, pure writes only need an allocation.
func (t *Tracker) Prepare(ctx context.Context, b *Buffer, access ml.Access) (Record, error) {
	switch {
	case access.Reads():
		return t.EnsurePresent(ctx, b)
	case access.Writes():
		return t.EnsureAllocated(ctx, b)
	default:
		return Record{}, fmt.Errorf("residency: invalid access mode %v", access)
	}
}

// EnsureAllocated makes sure device memory exists for b without copying.
func (t *Tracker) EnsureAllocated(ctx context.Context, b *Buffer) (Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()

	r := b.record(t.id)
	if err := t.allocate(b, r); err != nil {
		return Record{}, err
	}
	logutil.TraceContext(ctx, "buffer allocated", "device", t.id, "state", r.State)
	return *r, nil
}

// EnsurePresent allocates if needed and copies the host data in unless the
// device copy is already present and not stale.
func (t *Tracker) EnsurePresent(ctx context.Context, b *Buffer) (Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()

	r := b.record(t.id)
	if err := t.allocate(b, r); err != nil {
		return Record{}, err
	}

	if r.State == Present && !r.stale {
		logutil.TraceContext(ctx, "buffer already present", "device", t.id, "size", r.Size)
		return *r, nil
	}

	if err := r.Handle.Write(ctx, b.data); err != nil {
		return Record{}, fmt.Errorf("copy in %d bytes to %s: %w", len(b.data), t.id, err)
	}
	t.stats.CopiesIn++
	r.State = Present
	r.stale = false
	return *r, nil
}

// allocate moves r out of Unallocated. t.mu and b.mu must be held.
func (t *Tracker) allocate(b *Buffer, r *Record) error {
	if r.State != Unallocated {
		return nil
	}

	h, err := t.dev.Allocate(len(b.data))
	if err != nil {
		return fmt.Errorf("allocate %d bytes on %s: %w", len(b.data), t.id, err)
	}
	t.stats.Allocations++
	t.buffers[b] = struct{}{}

	r.Handle = h
	r.Size = len(b.data)
	r.State = Allocated
	r.stale = false
	return nil
}

// StreamOut copies the device contents back into the host buffer and blocks
// until the copy is done. The device copy stays present; present copies on
// other devices become stale.
func (t *Tracker) StreamOut(ctx context.Context, b *Buffer) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.records[t.id]
	if !ok || r.State == Unallocated {
		return fmt.Errorf("residency: stream out of unallocated buffer on %s", t.id)
	}

	if err := r.Handle.Read(ctx, b.data); err != nil {
		return fmt.Errorf("copy out %d bytes from %s: %w", len(b.data), t.id, err)
	}
	t.stats.CopiesOut++

	// after a kernel wrote the buffer the device and host copies match,
	// copies on other devices now hold older data
	r.State = Present
	r.stale = false
	for id, other := range b.records {
		if id != t.id && other.State == Present {
			other.stale = true
		}
	}
	return nil
}

// Reset releases every device buffer this tracker allocated and returns
// their records to Unallocated.
func (t *Tracker) Reset() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var firstErr error
	for b := range t.buffers {
		b.mu.Lock()
		if r, ok := b.records[t.id]; ok {
			if r.Handle != nil {
				if err := r.Handle.Release(); err != nil && firstErr == nil {
					firstErr = err
				}
			}
			r.Handle = nil
			r.State = Unallocated
			r.stale = false
		}
		b.mu.Unlock()
	}

	slog.Debug("device buffers reset", "device", t.id, "buffers", len(t.buffers))
	t.buffers = make(map[*Buffer]struct{})
	return firstErr
}

func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

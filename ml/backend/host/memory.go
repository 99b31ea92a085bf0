// memory.go - Geraetespeicher des Host-Treibers
// Dieses Modul enthaelt den adressierten Speicher und die DeviceBuffer-
// Implementierung mit blockierenden Kopien.

package host

import (
	"context"
	"fmt"
	"sync"

	"github.com/ollama/offload/ml"
)

const (
	baseAddress = 0x10000
	alignment   = 64
)

// memory maps device addresses to allocations.
type memory struct {
	mu     sync.Mutex
	next   uint64
	blocks map[uint64][]byte
	used   uint64
}

func newMemory() *memory {
	return &memory{next: baseAddress, blocks: make(map[uint64][]byte)}
}

func (m *memory) alloc(size int) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	addr := m.next
	m.next += (uint64(size) + alignment - 1) &^ (alignment - 1)
	if size == 0 {
		m.next += alignment
	}
	m.blocks[addr] = make([]byte, size)
	m.used += uint64(size)
	return addr
}

func (m *memory) lookup(addr uint64) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.blocks[addr]
	if !ok {
		return nil, fmt.Errorf("%w: address 0x%x", ml.ErrInvalidBuffer, addr)
	}
	return b, nil
}

func (m *memory) free(addr uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.blocks[addr]
	if !ok {
		return fmt.Errorf("%w: double release of 0x%x", ml.ErrInvalidBuffer, addr)
	}
	m.used -= uint64(len(b))
	delete(m.blocks, addr)
	return nil
}

func (m *memory) copyIn(addr uint64, src []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.blocks[addr]
	if !ok {
		return fmt.Errorf("%w: address 0x%x", ml.ErrInvalidBuffer, addr)
	}
	if len(src) != len(b) {
		return fmt.Errorf("%w: %d bytes into %d", ml.ErrSizeMismatch, len(src), len(b))
	}
	copy(b, src)
	return nil
}

func (m *memory) copyOut(addr uint64, dst []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.blocks[addr]
	if !ok {
		return fmt.Errorf("%w: address 0x%x", ml.ErrInvalidBuffer, addr)
	}
	if len(dst) != len(b) {
		return fmt.Errorf("%w: %d bytes from %d", ml.ErrSizeMismatch, len(b), len(dst))
	}
	copy(dst, b)
	return nil
}

type buffer struct {
	mem  *memory
	addr uint64
	size int
}

func (b *buffer) Address() uint64 { return b.addr }
func (b *buffer) Size() int       { return b.size }

func (b *buffer) Write(ctx context.Context, src []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.mem.copyIn(b.addr, src)
}

func (b *buffer) Read(ctx context.Context, dst []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.mem.copyOut(b.addr, dst)
}

func (b *buffer) Release() error {
	return b.mem.free(b.addr)
}

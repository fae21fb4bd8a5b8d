//go:build unix

package shm

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// ErrAllocation indicates that a local buffer allocation failed. It is
// recoverable: the caller decides whether to retry with a smaller size.
var ErrAllocation = errors.New("shm: buffer allocation failed")

// ErrReleased indicates a second Release on an already released handle.
var ErrReleased = errors.New("shm: buffer already released")

// Kind describes how a Buffer's backing memory was obtained.
type Kind int

const (
	// KindHeap allocates from the Go heap.
	KindHeap Kind = iota
	// KindMapped allocates an anonymous private mapping. Useful for large
	// payloads that should go back to the OS immediately on release.
	KindMapped
)

// Buffer is an owning handle to a block of memory. It is move-only in
// spirit: the owner calls Release exactly once, after which the bytes
// must not be touched. The release path always matches the allocation
// kind.
type Buffer struct {
	data     []byte
	kind     Kind
	released bool
}

// Alloc returns a Buffer of n bytes backed by the requested kind.
func Alloc(n int, kind Kind) (*Buffer, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: negative size %d", ErrAllocation, n)
	}
	switch kind {
	case KindHeap:
		return &Buffer{data: make([]byte, n), kind: KindHeap}, nil
	case KindMapped:
		if n == 0 {
			return &Buffer{kind: KindMapped}, nil
		}
		data, err := unix.Mmap(-1, 0, n,
			unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
		if err != nil {
			return nil, fmt.Errorf("%w: mmap: %v", ErrAllocation, err)
		}
		return &Buffer{data: data, kind: KindMapped}, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %d", ErrAllocation, kind)
	}
}

// Bytes returns the underlying memory. Valid until Release.
func (b *Buffer) Bytes() []byte { return b.data }

// Len returns the buffer length in bytes.
func (b *Buffer) Len() int { return len(b.data) }

// AllocKind reports how the buffer was allocated.
func (b *Buffer) AllocKind() Kind { return b.kind }

// Release frees the backing memory through the allocator that produced
// it. The first call wins; subsequent calls return ErrReleased and do
// nothing.
func (b *Buffer) Release() error {
	if b.released {
		return ErrReleased
	}
	b.released = true
	data := b.data
	b.data = nil
	if b.kind == KindMapped && len(data) > 0 {
		if err := unix.Munmap(data); err != nil {
			return fmt.Errorf("shm: munmap buffer: %w", err)
		}
	}
	// Heap buffers are handed back to the garbage collector by dropping
	// the reference.
	return nil
}

// Package heap implements a first-fit allocator over a single region.
//
// Every block is a fixed-size header followed by its payload. Blocks are
// chained in the order they were carved from the region. A request reuses the
// first free block in that chain that is large enough, and otherwise grows the
// region by exactly one block. Freeing the block at the top of the region
// shrinks the region; freeing any other block marks it for reuse.
//
// Adjacent free blocks are never coalesced and free blocks are never split, so
// fragmentation only ever recedes at the top of the region. One mutex
// serializes every operation on a Heap.
//
// Memory returned by a Heap lives outside the Go heap and is not scanned by
// the garbage collector. It must not hold the only reference to any Go value.
package heap

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"unsafe"

	"github.com/james1993/memalloc/region"
)

// DefaultMaxSize is the address space reserved when Options.MaxSize is zero.
const DefaultMaxSize = 1 << 30

// Options configures a Heap. The zero value is ready to use.
type Options struct {
	MaxSize uint64         // Bytes of address space to reserve. Default: DefaultMaxSize
	Backing region.Backing // Where the region's memory comes from. Default: region.BackingOS
	Logger  *slog.Logger   // Receives grow and shrink events at debug level. Default: discard
}

// Heap is a first-fit allocator over one region. It is safe for concurrent use.
type Heap struct {
	mu     sync.Mutex
	region *region.Region
	head   block
	tail   block
	log    *slog.Logger
}

// New reserves a region and returns an empty heap over it.
func New(opts Options) (*Heap, error) {
	max := opts.MaxSize
	if max == 0 {
		max = DefaultMaxSize
	}
	r, err := region.New(max, opts.Backing)
	if err != nil {
		return nil, fmt.Errorf("heap: %w", err)
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Heap{region: r, head: noBlock, tail: noBlock, log: log}, nil
}

// Malloc returns a pointer to size bytes, or nil if the region cannot grow to
// satisfy the request. The contents are unspecified.
//
// Malloc(0) returns nil without carving a block.
func (h *Heap) Malloc(size uintptr) unsafe.Pointer {
	if size == 0 {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if b := h.findReusable(size); b != noBlock {
		h.hdr(b).free = 0
		return h.payload(b)
	}

	b, ok := h.grow(size)
	if !ok {
		return nil
	}
	h.append(b)
	return h.payload(b)
}

// Free releases the block at p. Freeing the block at the top of the region
// returns its memory to the operating system; any other block is kept for
// reuse.
//
// p must be nil or a live pointer returned by this heap. Anything else,
// including a second Free of the same pointer, is undefined and not detected.
func (h *Heap) Free(p unsafe.Pointer) {
	if p == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	b := h.blockOf(p)
	if h.shrinkIfTail(b) {
		return
	}
	h.hdr(b).free = 1
}

// Calloc returns a pointer to count*size zeroed bytes, or nil if the
// allocation fails. The multiplication is not checked for overflow.
func (h *Heap) Calloc(count, size uintptr) unsafe.Pointer {
	total := count * size
	p := h.Malloc(total)
	if p == nil {
		return nil
	}
	clear(unsafe.Slice((*byte)(p), total))
	return p
}

// Realloc returns a block of at least size bytes holding the contents of p.
//
// If the block at p already records at least size bytes, p is returned and
// its recorded size is left unchanged. Otherwise the contents move to a new
// block and p is freed. If that allocation fails, Realloc returns nil and p
// stays valid and untouched. Realloc(nil, size) is Malloc(size).
func (h *Heap) Realloc(p unsafe.Pointer, size uintptr) unsafe.Pointer {
	if p == nil {
		return h.Malloc(size)
	}

	old := h.UsableSize(p)
	if old >= size {
		return p
	}

	q := h.Malloc(size)
	if q == nil {
		return nil
	}
	copy(unsafe.Slice((*byte)(q), old), unsafe.Slice((*byte)(p), old))
	h.Free(p)
	return q
}

// UsableSize returns the size recorded for the block at p when it was carved.
// p must be a live pointer returned by this heap.
func (h *Heap) UsableSize(p unsafe.Pointer) uintptr {
	if p == nil {
		return 0
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	return uintptr(h.hdr(h.blockOf(p)).size)
}

// Close releases the region. Every pointer returned by the heap becomes
// invalid, and later allocations fail.
func (h *Heap) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.head, h.tail = noBlock, noBlock
	return h.region.Close()
}

// Bytes returns the n bytes at p as a slice.
func Bytes(p unsafe.Pointer, n uintptr) []byte {
	if p == nil {
		return nil
	}
	return unsafe.Slice((*byte)(p), n)
}

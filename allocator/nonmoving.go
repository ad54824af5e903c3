// Package allocator provides wazero memory allocators whose linear memory
// never moves once instantiated.
package allocator

import (
	"errors"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero/experimental"

	"github.com/james1993/memalloc/region"
)

var errInvalidReallocation = errors.New("allocator: reallocation above max")

// NewNonMoving returns a MemoryAllocator that reserves each memory's maximum
// size up front and commits pages as the memory grows, so the base address
// stays fixed for the life of the module.
func NewNonMoving() experimental.MemoryAllocator {
	return experimental.MemoryAllocatorFunc(func(cap, max uint64) experimental.LinearMemory {
		return alloc(cap, max, region.BackingOS)
	})
}

// sliceAlloc is the pure Go fallback, available on all platforms so it can be
// tested everywhere.
func sliceAlloc(cap, max uint64) experimental.LinearMemory {
	return alloc(cap, max, region.BackingSlice)
}

func alloc(_, max uint64, backing region.Backing) experimental.LinearMemory {
	// A memory with max 0 can never hold a byte, but the region still needs
	// a non-empty reservation.
	reserve := max
	if reserve == 0 {
		reserve = 1
	}
	r, err := region.New(reserve, backing)
	if err != nil {
		panic(fmt.Errorf("allocator: failed to reserve memory: %w", err))
	}
	return &regionMemory{r: r, max: max}
}

// regionMemory is a linear memory over a region. The region's break tracks
// the largest size requested so far.
type regionMemory struct {
	r   *region.Region
	max uint64

	// Wasm runtimes lock around Grow, but that is invisible to the race
	// detector, so take a lock while mutating the region anyway.
	mu sync.Mutex
}

func (m *regionMemory) Reallocate(size uint64) []byte {
	if size > m.max {
		panic(errInvalidReallocation)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if com := uint64(m.r.Len()); com < size {
		if _, err := m.r.Sbrk(int(size - com)); err != nil {
			panic(fmt.Errorf("allocator: failed to commit memory: %w", err))
		}
	}
	// Limit returned capacity because bytes beyond the committed prefix
	// are not accessible.
	buf := m.r.Committed()
	return buf[:size:len(buf)]
}

func (m *regionMemory) Free() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.r.Close(); err != nil {
		panic(fmt.Errorf("allocator: failed to release memory: %w", err))
	}
}

// Package memalloc exposes a process-wide first-fit heap through the four
// classic allocation entry points.
//
// The default heap is created on first use from the environment:
//
//	MEMALLOC_MAX_HEAP  address space to reserve, in bytes; K, M and G suffixes
//	                   are accepted (default 1G)
//	MEMALLOC_BACKING   "os" (default) or "slice"
//	MEMALLOC_DEBUG     "1" logs grow and shrink events to stderr
//
// If the heap cannot be created every allocation returns nil.
//
// See package heap for the allocation policy and its limits.
package memalloc

import (
	"log/slog"
	"os"
	"sync"
	"unsafe"

	"github.com/james1993/memalloc/heap"
)

var (
	std     *heap.Heap
	stdOnce sync.Once
)

// Default returns the process-wide heap, creating it on first use. It returns
// nil if the heap could not be created.
func Default() *heap.Heap {
	stdOnce.Do(func() { std = newDefault(os.Getenv) })
	return std
}

func newDefault(getenv func(string) string) *heap.Heap {
	opts, err := optionsFromEnv(getenv)
	if err != nil {
		slog.Error("memalloc: default heap unavailable", "error", err)
		return nil
	}
	h, err := heap.New(opts)
	if err != nil {
		slog.Error("memalloc: default heap unavailable", "error", err)
		return nil
	}
	return h
}

// Malloc returns size bytes from the default heap, or nil when out of memory.
func Malloc(size uintptr) unsafe.Pointer {
	h := Default()
	if h == nil {
		return nil
	}
	return h.Malloc(size)
}

// Free returns p to the default heap. p must be nil or a live pointer from
// this package.
func Free(p unsafe.Pointer) {
	if h := Default(); h != nil {
		h.Free(p)
	}
}

// Calloc returns count*size zeroed bytes from the default heap, or nil when
// out of memory. The product is not checked for overflow.
func Calloc(count, size uintptr) unsafe.Pointer {
	h := Default()
	if h == nil {
		return nil
	}
	return h.Calloc(count, size)
}

// Realloc resizes p on the default heap. On failure it returns nil and p
// remains valid.
func Realloc(p unsafe.Pointer, size uintptr) unsafe.Pointer {
	h := Default()
	if h == nil {
		return nil
	}
	return h.Realloc(p, size)
}

// UsableSize returns the size recorded for p when its block was carved.
func UsableSize(p unsafe.Pointer) uintptr {
	h := Default()
	if h == nil {
		return 0
	}
	return h.UsableSize(p)
}

// Stats returns a snapshot of the default heap.
func Stats() heap.Stats {
	h := Default()
	if h == nil {
		return heap.Stats{}
	}
	return h.Stats()
}

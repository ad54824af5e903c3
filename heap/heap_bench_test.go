package heap

import (
	"strconv"
	"testing"
	"unsafe"

	"github.com/james1993/memalloc/region"
)

func BenchmarkMallocFreeTail(b *testing.B) {
	h := newHeap(b, region.BackingOS, 1<<20)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		h.Free(h.Malloc(64))
	}
}

func BenchmarkMallocFreeReuse(b *testing.B) {
	h := newHeap(b, region.BackingOS, 1<<20)
	p := h.Malloc(64)
	h.Malloc(8)
	h.Free(p)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		h.Free(h.Malloc(64))
	}
}

// First-fit scans the whole chain when nothing free fits.
func BenchmarkMallocLongChain(b *testing.B) {
	for _, n := range []int{16, 256, 4096} {
		b.Run(strconv.Itoa(n), func(b *testing.B) {
			h := newHeap(b, region.BackingOS, 64<<20)
			ptrs := make([]unsafe.Pointer, n)
			for i := range ptrs {
				ptrs[i] = h.Malloc(8)
			}
			for i := 0; i < n-1; i += 2 {
				h.Free(ptrs[i])
			}
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				h.Free(h.Malloc(16))
			}
		})
	}
}

func BenchmarkMallocParallel(b *testing.B) {
	h := newHeap(b, region.BackingOS, 64<<20)
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			p := h.Malloc(32)
			h.Free(p)
		}
	})
}


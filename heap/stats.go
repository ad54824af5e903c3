package heap

import "unsafe"

// Stats summarizes the block chain and the region beneath it.
type Stats struct {
	Blocks         int    `json:"blocks"`
	FreeBlocks     int    `json:"free_blocks"`
	InUseBytes     uint64 `json:"in_use_bytes"`    // Recorded sizes of blocks in use.
	FreeBytes      uint64 `json:"free_bytes"`      // Recorded sizes of free blocks.
	RegionBytes    uint64 `json:"region_bytes"`    // Distance from the region base to the break.
	CommittedBytes uint64 `json:"committed_bytes"` // Region bytes currently backed by memory.
}

// BlockInfo describes one block in the chain.
type BlockInfo struct {
	Offset  uintptr        // Header offset from the region base.
	Size    uintptr        // Recorded payload size.
	Free    bool           // Available for reuse.
	Payload unsafe.Pointer // Address handed to callers.
}

// Walk calls fn for each block in carve order until fn returns false. The heap
// is locked for the duration, so fn must not call back into it.
func (h *Heap) Walk(fn func(BlockInfo) bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.walk(fn)
}

func (h *Heap) walk(fn func(BlockInfo) bool) {
	for b := h.head; b != noBlock; b = h.hdr(b).next {
		hdr := h.hdr(b)
		info := BlockInfo{
			Offset:  uintptr(b),
			Size:    uintptr(hdr.size),
			Free:    hdr.free != 0,
			Payload: h.payload(b),
		}
		if !fn(info) {
			return
		}
	}
}

// Stats returns a snapshot of the heap.
func (h *Heap) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()

	var s Stats
	h.walk(func(b BlockInfo) bool {
		s.Blocks++
		if b.Free {
			s.FreeBlocks++
			s.FreeBytes += uint64(b.Size)
		} else {
			s.InUseBytes += uint64(b.Size)
		}
		return true
	})
	s.RegionBytes = uint64(h.region.Len())
	s.CommittedBytes = uint64(len(h.region.Committed()))
	return s
}

package heap

import "unsafe"

// header precedes every payload in the region. It holds no Go pointers, since
// the garbage collector does not scan region memory.
type header struct {
	// size is the payload size requested when the block was carved. Reuse and
	// shrinking realloc never change it.
	size uint64
	// next is the following block in carve order, or noBlock.
	next block
	free uint32
	_    uint32
}

const (
	headerSize = unsafe.Sizeof(header{})
	alignment  = unsafe.Alignof(header{})

	// maxPayload keeps extent below math.MaxInt so it can be handed to Sbrk.
	maxPayload = uintptr(int(^uint(0)>>1)) - headerSize - alignment
)

// block is the offset of a header from the region base.
type block uint64

const noBlock = ^block(0)

// extent is the number of region bytes a block of the given payload size
// occupies. Rounding keeps the next header aligned.
func extent(size uintptr) uintptr {
	return headerSize + (size+alignment-1)&^(alignment-1)
}

// The three conversions below are the only places a block handle and a raw
// address meet.

func (h *Heap) hdr(b block) *header {
	return (*header)(unsafe.Add(h.region.Base(), b))
}

func (h *Heap) payload(b block) unsafe.Pointer {
	return unsafe.Add(h.region.Base(), uintptr(b)+headerSize)
}

// blockOf recovers the handle of the block whose payload starts at p. p must
// have come from this heap.
func (h *Heap) blockOf(p unsafe.Pointer) block {
	return block(uintptr(p) - uintptr(h.region.Base()) - headerSize)
}

// findReusable returns the first free block, in carve order, whose recorded
// size fits. The caller must hold h.mu.
func (h *Heap) findReusable(size uintptr) block {
	for b := h.head; b != noBlock; b = h.hdr(b).next {
		hdr := h.hdr(b)
		if hdr.free != 0 && hdr.size >= uint64(size) {
			return b
		}
	}
	return noBlock
}

// append links a freshly carved block after the tail. The caller must hold h.mu.
func (h *Heap) append(b block) {
	if h.head == noBlock {
		h.head = b
	}
	if h.tail != noBlock {
		h.hdr(h.tail).next = b
	}
	h.tail = b
}

// grow carves a new block of the given payload size from the top of the
// region. The caller must hold h.mu.
func (h *Heap) grow(size uintptr) (block, bool) {
	if size > maxPayload {
		h.log.Debug("heap: request too large", "size", size)
		return noBlock, false
	}
	n := extent(size)
	prev, err := h.region.Sbrk(int(n))
	if err != nil {
		h.log.Debug("heap: out of memory", "size", size, "error", err)
		return noBlock, false
	}
	b := block(uintptr(prev) - uintptr(h.region.Base()))
	h.log.Debug("heap: grew region", "offset", uint64(b), "extent", n, "len", h.region.Len())

	hdr := h.hdr(b)
	hdr.size = uint64(size)
	hdr.next = noBlock
	hdr.free = 0
	return b, true
}

// shrinkIfTail hands b back to the operating system if it ends at the top of
// the region and reports whether it did. The caller must hold h.mu.
func (h *Heap) shrinkIfTail(b block) bool {
	n := extent(uintptr(h.hdr(b).size))
	if uintptr(b)+n != uintptr(h.region.Len()) {
		return false
	}
	if _, err := h.region.Sbrk(-int(n)); err != nil {
		h.log.Warn("heap: failed to shrink region", "offset", uint64(b), "error", err)
		return false
	}
	h.log.Debug("heap: shrank region", "offset", uint64(b), "extent", n, "len", h.region.Len())

	// The block at the top is always the tail. Without back-links the
	// predecessor has to be found by walking.
	if h.head == b {
		h.head, h.tail = noBlock, noBlock
		return true
	}
	for p := h.head; p != noBlock; p = h.hdr(p).next {
		if hdr := h.hdr(p); hdr.next == b {
			hdr.next = noBlock
			h.tail = p
			break
		}
	}
	return true
}

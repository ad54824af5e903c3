// Package region manages a single contiguous span of address space that can
// only grow or shrink at its high end, in the manner of sbrk(2).
//
// The whole span is reserved up front so that it never moves. Pages are
// committed as the break moves forward and decommitted, returning them to the
// operating system, when it moves back.
package region

import (
	"errors"
	"fmt"
	"math"
	"unsafe"
)

var (
	// ErrOutOfMemory is returned when the region cannot grow by the requested amount.
	ErrOutOfMemory = errors.New("region: out of memory")

	// ErrInvalidShrink is returned when a shrink would move the break below the base.
	ErrInvalidShrink = errors.New("region: shrink below base")

	// ErrClosed is returned by operations on a released region.
	ErrClosed = errors.New("region: closed")
)

// Backing selects where a region's memory comes from.
type Backing int

const (
	// BackingOS reserves address space from the operating system and commits
	// pages on demand. Platforms without a native implementation use
	// BackingSlice instead.
	BackingOS Backing = iota

	// BackingSlice uses a single Go byte slice sized to the reservation.
	BackingSlice
)

func (b Backing) String() string {
	switch b {
	case BackingOS:
		return "os"
	case BackingSlice:
		return "slice"
	default:
		return fmt.Sprintf("Backing(%d)", int(b))
	}
}

// ParseBacking converts the output of Backing.String back into a Backing.
func ParseBacking(s string) (Backing, error) {
	switch s {
	case "os", "":
		return BackingOS, nil
	case "slice":
		return BackingSlice, nil
	default:
		return 0, fmt.Errorf("region: unknown backing %q", s)
	}
}

type mapper interface {
	reserve(n int) ([]byte, error)
	commit(b []byte) error
	decommit(b []byte) error
	release(b []byte) error
	pageSize() int
}

// Region is a reserved span of memory with a movable break.
//
// A Region is not safe for concurrent use.
type Region struct {
	// The slice covers the entire reservation:
	//   - mem[:brk] is in use,
	//   - mem[:committed] is readable and writable, committed >= brk,
	//   - len(mem) is the reserved address space, max rounded up to a page.
	mem       []byte
	brk       int
	committed int
	page      int
	m         mapper
}

// New reserves max bytes, rounded up to the page size, without committing any of them.
func New(max uint64, backing Backing) (*Region, error) {
	var m mapper
	switch backing {
	case BackingOS:
		m = osMapper{}
	case BackingSlice:
		m = sliceMapper{}
	default:
		return nil, fmt.Errorf("region: unknown backing %v", backing)
	}

	page := m.pageSize()
	rnd := uint64(page - 1)
	if max == 0 || max > math.MaxInt-rnd {
		return nil, fmt.Errorf("region: cannot reserve %d bytes: %w", max, ErrOutOfMemory)
	}
	reserved := (max + rnd) &^ rnd

	mem, err := m.reserve(int(reserved))
	if err != nil {
		return nil, fmt.Errorf("region: failed to reserve memory: %w", err)
	}
	return &Region{mem: mem, page: page, m: m}, nil
}

// Sbrk moves the break by delta bytes and returns the previous top of the
// region. Sbrk(0) returns the current top.
//
// Growing commits every page up to the new break. Shrinking decommits every
// whole page above it. On error the break is left where it was.
func (r *Region) Sbrk(delta int) (unsafe.Pointer, error) {
	if r.mem == nil {
		return nil, ErrClosed
	}
	prev := r.Top()

	switch {
	case delta > 0:
		if delta > len(r.mem)-r.brk {
			return nil, fmt.Errorf("region: grow by %d bytes with %d of %d in use: %w",
				delta, r.brk, len(r.mem), ErrOutOfMemory)
		}
		brk := r.brk + delta
		if brk > r.committed {
			end := r.roundUp(brk)
			if err := r.m.commit(r.mem[r.committed:end]); err != nil {
				return nil, fmt.Errorf("region: failed to commit memory: %w: %w", ErrOutOfMemory, err)
			}
			r.committed = end
		}
		r.brk = brk

	case delta < 0:
		if delta < -r.brk {
			return nil, fmt.Errorf("region: shrink by %d bytes with %d in use: %w", -delta, r.brk, ErrInvalidShrink)
		}
		brk := r.brk + delta
		if keep := r.roundUp(brk); keep < r.committed {
			if err := r.m.decommit(r.mem[keep:r.committed]); err != nil {
				return nil, fmt.Errorf("region: failed to decommit memory: %w", err)
			}
			r.committed = keep
		}
		r.brk = brk
	}

	return prev, nil
}

func (r *Region) roundUp(n int) int {
	rnd := r.page - 1
	return (n + rnd) &^ rnd
}

// Base returns the lowest address of the region, or nil once it is closed.
func (r *Region) Base() unsafe.Pointer {
	if r.mem == nil {
		return nil
	}
	return unsafe.Pointer(unsafe.SliceData(r.mem))
}

// Top returns the address one past the last byte in use.
func (r *Region) Top() unsafe.Pointer {
	if r.mem == nil {
		return nil
	}
	return unsafe.Add(r.Base(), r.brk)
}

// Len returns the number of bytes between the base and the break.
func (r *Region) Len() int { return r.brk }

// Cap returns the size of the reservation.
func (r *Region) Cap() int { return len(r.mem) }

// PageSize returns the commit granularity.
func (r *Region) PageSize() int { return r.page }

// Committed returns the readable and writable prefix of the region. Its
// length is at least Len.
func (r *Region) Committed() []byte {
	return r.mem[:r.committed:r.committed]
}

// Close releases the reservation. Pointers into the region must not be used
// afterwards.
func (r *Region) Close() error {
	if r.mem == nil {
		return nil
	}
	if err := r.m.release(r.mem); err != nil {
		return fmt.Errorf("region: failed to release memory: %w", err)
	}
	r.mem = nil
	r.brk = 0
	r.committed = 0
	return nil
}

// sliceMapper backs a region with ordinary Go memory. The slice is allocated
// once at full size so addresses stay stable.
type sliceMapper struct{}

func (sliceMapper) pageSize() int { return 1 }

func (sliceMapper) reserve(n int) (b []byte, err error) {
	// Sizes the runtime cannot allocate make makeslice panic.
	defer func() {
		if r := recover(); r != nil {
			b, err = nil, fmt.Errorf("%w: %v", ErrOutOfMemory, r)
		}
	}()
	// One spare byte keeps the top address inside the allocation when the
	// region is full.
	return make([]byte, n+1)[:n:n], nil
}

func (sliceMapper) commit([]byte) error { return nil }

func (sliceMapper) decommit(b []byte) error {
	clear(b)
	return nil
}

func (sliceMapper) release([]byte) error { return nil }

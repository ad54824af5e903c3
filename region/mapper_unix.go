//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package region

import "golang.org/x/sys/unix"

type osMapper struct{}

func (osMapper) pageSize() int { return unix.Getpagesize() }

// A protected, private, anonymous mapping reserves address space without
// committing memory.
func (osMapper) reserve(n int) ([]byte, error) {
	return unix.Mmap(-1, 0, n, unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANON)
}

func (osMapper) commit(b []byte) error {
	return unix.Mprotect(b, unix.PROT_READ|unix.PROT_WRITE)
}

// Dropping the pages first lets the kernel reclaim them; the protection change
// makes any stale pointer into them fault instead of reading zeros.
func (osMapper) decommit(b []byte) error {
	if err := unix.Madvise(b, unix.MADV_DONTNEED); err != nil {
		return err
	}
	return unix.Mprotect(b, unix.PROT_NONE)
}

func (osMapper) release(b []byte) error {
	return unix.Munmap(b)
}

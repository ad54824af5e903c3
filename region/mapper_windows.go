//go:build windows

package region

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

type osMapper struct{}

// https://cs.opensource.google/go/x/sys/+/refs/tags/v0.20.0:windows/syscall_windows.go;l=131
func (osMapper) pageSize() int { return 4096 }

func (osMapper) reserve(n int) ([]byte, error) {
	addr, err := windows.VirtualAlloc(0, uintptr(n), windows.MEM_RESERVE, windows.PAGE_READWRITE)
	if err != nil {
		return nil, err
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), n), nil
}

func (osMapper) commit(b []byte) error {
	_, err := windows.VirtualAlloc(addrOf(b), uintptr(len(b)), windows.MEM_COMMIT, windows.PAGE_READWRITE)
	return err
}

func (osMapper) decommit(b []byte) error {
	return windows.VirtualFree(addrOf(b), uintptr(len(b)), windows.MEM_DECOMMIT)
}

func (osMapper) release(b []byte) error {
	return windows.VirtualFree(addrOf(b), 0, windows.MEM_RELEASE)
}

func addrOf(b []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(b)))
}

//go:build linux

package net

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// doubleMap reserves a virtual address range twice the given capacity and
// maps a single memfd-backed region into both halves, giving a buffer
// whose data and free regions are always addressable as one contiguous
// slice regardless of wraparound. Grounded on the raw-syscall socket-option
// style the teacher uses in its epoll server (direct golang.org/x/sys/unix
// calls rather than a higher-level wrapper).
func doubleMap(capacity int) ([]byte, error) {
	fd, err := unix.MemfdCreate("neutronium-ringbuf", 0)
	if err != nil {
		return nil, fmt.Errorf("memfd_create: %w", err)
	}
	defer unix.Close(fd)

	if err := unix.Ftruncate(fd, int64(capacity)); err != nil {
		return nil, fmt.Errorf("ftruncate: %w", err)
	}

	reserved, err := unix.Mmap(-1, 0, capacity*2, unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("reserve address range: %w", err)
	}
	base := uintptr(unsafe.Pointer(&reserved[0]))

	if err := mmapFixed(base, uintptr(capacity), fd); err != nil {
		unix.Munmap(reserved)
		return nil, fmt.Errorf("map first half: %w", err)
	}
	if err := mmapFixed(base+uintptr(capacity), uintptr(capacity), fd); err != nil {
		unix.Munmap(reserved)
		return nil, fmt.Errorf("map second half: %w", err)
	}

	return reserved, nil
}

func mmapFixed(addr, length uintptr, fd int) error {
	_, _, errno := unix.Syscall6(
		unix.SYS_MMAP,
		addr,
		length,
		uintptr(unix.PROT_READ|unix.PROT_WRITE),
		uintptr(unix.MAP_SHARED|unix.MAP_FIXED),
		uintptr(fd),
		0,
	)
	if errno != 0 {
		return errno
	}
	return nil
}

func unmap(mem []byte) error {
	return unix.Munmap(mem)
}

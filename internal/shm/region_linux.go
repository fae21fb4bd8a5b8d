//go:build linux

package shm

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// CreateRegionMemfd creates an anonymous memfd-backed shared region.
// The name is a debugging label only (it shows up in /proc/pid/fd); the
// region has no filesystem presence and is inherited by children through
// the descriptor.
func CreateRegionMemfd(name string, size int) (*Region, error) {
	if size <= 0 {
		return nil, fmt.Errorf("shm: invalid region size %d", size)
	}
	fd, err := unix.MemfdCreate(name, unix.MFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("shm: memfd_create %s: %w", name, err)
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("shm: truncate memfd %s: %w", name, err)
	}
	mem, err := unix.Mmap(fd, 0, size,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("shm: mmap memfd %s: %w", name, err)
	}
	return &Region{mem: mem, fd: fd, mapType: MapTypeMemFd, creator: true}, nil
}

// OpenRegionFd attaches to a memfd region through an inherited
// descriptor. The mapping length is taken from the descriptor.
func OpenRegionFd(fd int) (*Region, error) {
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return nil, fmt.Errorf("shm: fstat memfd %d: %w", fd, err)
	}
	if st.Size == 0 {
		return nil, fmt.Errorf("shm: memfd %d is empty", fd)
	}
	mem, err := unix.Mmap(fd, 0, int(st.Size),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("shm: mmap memfd %d: %w", fd, err)
	}
	return &Region{mem: mem, fd: fd, mapType: MapTypeMemFd}, nil
}

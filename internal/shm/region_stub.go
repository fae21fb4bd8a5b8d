//go:build unix && !linux

package shm

// Memfd-backed regions are Linux only. Other unix platforms still get
// file-backed regions; these constructors fail with ErrNotSupported.

func CreateRegionMemfd(name string, size int) (*Region, error) {
	return nil, ErrNotSupported
}

func OpenRegionFd(fd int) (*Region, error) {
	return nil, ErrNotSupported
}

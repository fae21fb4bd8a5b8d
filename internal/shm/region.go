//go:build unix

/*
 * Copyright 2025 The procpipe Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package shm

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// ErrRegionExists is returned by CreateRegion when the backing file is
// already present. Stale segments must be removed by the operator; the
// library never silently reuses another channel's memory.
var ErrRegionExists = errors.New("shm: region already exists")

// MapType selects the carrier for a shared mapping.
type MapType int

const (
	// MapTypeFile backs the region with a file, preferably on /dev/shm.
	// Peers attach by path.
	MapTypeFile MapType = iota
	// MapTypeMemFd backs the region with an anonymous memfd. Peers attach
	// by inheriting the descriptor (fork/exec), no filesystem name.
	MapTypeMemFd
)

// Region is a MAP_SHARED mapping visible to every process that maps the
// same backing object. Writes on one side become visible on the other.
// The owning side calls Unmap exactly once; the handle must not be used
// afterwards.
type Region struct {
	mem     []byte
	fd      int
	path    string
	mapType MapType
	creator bool
}

// CreateRegion creates a new file-backed shared region of the given
// size. Creation is exclusive: an existing file is an error, never
// silently reused.
func CreateRegion(path string, size int) (*Region, error) {
	if size <= 0 {
		return nil, fmt.Errorf("shm: invalid region size %d", size)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrRegionExists, path)
		}
		return nil, fmt.Errorf("shm: create region %s: %w", path, err)
	}
	defer f.Close()

	if err := f.Truncate(int64(size)); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("shm: truncate region %s: %w", path, err)
	}
	mem, err := unix.Mmap(int(f.Fd()), 0, size,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("shm: mmap region %s: %w", path, err)
	}
	return &Region{mem: mem, fd: -1, path: path, mapType: MapTypeFile, creator: true}, nil
}

// OpenRegion attaches to an existing file-backed region created by a
// peer process. The mapping length is taken from the file size.
func OpenRegion(path string) (*Region, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("shm: open region %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("shm: stat region %s: %w", path, err)
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("shm: region %s is empty", path)
	}
	mem, err := unix.Mmap(int(f.Fd()), 0, int(info.Size()),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("shm: mmap region %s: %w", path, err)
	}
	return &Region{mem: mem, fd: -1, path: path, mapType: MapTypeFile}, nil
}

// Bytes returns the mapped memory. Valid until Unmap.
func (r *Region) Bytes() []byte { return r.mem }

// Size returns the mapping length in bytes.
func (r *Region) Size() int { return len(r.mem) }

// Path returns the backing file path, or "" for memfd regions.
func (r *Region) Path() string { return r.path }

// Fd returns the backing descriptor for memfd regions, -1 otherwise.
// The creator passes it to a child via ExtraFiles or SCM_RIGHTS.
func (r *Region) Fd() int { return r.fd }

// Unmap releases the mapping and, when this side created a file-backed
// region, removes the backing file. It must be called exactly once; a
// failure means the mapping guarantee is already broken and the caller
// is expected to treat it as unrecoverable.
func (r *Region) Unmap() error {
	if r.mem == nil {
		return errors.New("shm: region already unmapped")
	}
	mem := r.mem
	r.mem = nil
	if err := unix.Munmap(mem); err != nil {
		return fmt.Errorf("shm: munmap %s: %w", r.path, err)
	}
	if r.fd >= 0 {
		if err := unix.Close(r.fd); err != nil {
			return fmt.Errorf("shm: close region fd: %w", err)
		}
		r.fd = -1
	}
	if r.mapType == MapTypeFile && r.creator {
		if err := os.Remove(r.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("shm: remove region file %s: %w", r.path, err)
		}
	}
	return nil
}

package channel

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v3/disk"
)

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// defaultSegmentDir prefers /dev/shm, which gives page-cache-only
// backing on Linux, and falls back to the system temp dir elsewhere.
func defaultSegmentDir() string {
	if runtime.GOOS == "linux" {
		if info, err := os.Stat("/dev/shm"); err == nil && info.IsDir() {
			return "/dev/shm"
		}
	}
	return os.TempDir()
}

// canCreateOnDevShm reports whether a segment of the given size fits in
// the free space of /dev/shm. Paths outside /dev/shm are not checked;
// tmpfs is the only carrier that fails with SIGBUS instead of a write
// error when it runs out.
func canCreateOnDevShm(size uint64, path string) bool {
	if runtime.GOOS != "linux" || !strings.HasPrefix(filepath.Clean(path), "/dev/shm") {
		return true
	}
	usage, err := disk.Usage("/dev/shm")
	if err != nil {
		internalLogger.warnf("stat /dev/shm failed: %v", err)
		return true
	}
	return usage.Free >= size
}

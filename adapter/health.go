// Package adapter integrates the channel runtime with external
// operational tooling.
package adapter

import (
	"fmt"

	"github.com/heptiolabs/healthcheck"
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/procpipe/shmchan/pkg/channel"
)

// minFreeShmBytes is the /dev/shm headroom below which the liveness
// probe starts failing: a full tmpfs turns ring writes into SIGBUS.
const minFreeShmBytes = 16 << 20

// NewHealthHandler returns an HTTP health handler with two checks:
// a liveness check on /dev/shm free space and a readiness check that
// every named channel is still live (created or attached, not
// disposed) in this process.
func NewHealthHandler(names ...string) healthcheck.Handler {
	h := healthcheck.NewHandler()

	h.AddLivenessCheck("shm-free-space", func() error {
		usage, err := disk.Usage("/dev/shm")
		if err != nil {
			// No tmpfs on this platform: nothing to watch.
			return nil
		}
		if usage.Free < minFreeShmBytes {
			return fmt.Errorf("/dev/shm nearly full: %d bytes free", usage.Free)
		}
		return nil
	})

	for _, name := range names {
		name := name
		h.AddReadinessCheck("channel-"+name, func() error {
			c, ok := channel.Lookup(name)
			if !ok {
				return fmt.Errorf("channel %s not registered", name)
			}
			if c.Disposed() {
				return fmt.Errorf("channel %s disposed", name)
			}
			return nil
		})
	}
	return h
}

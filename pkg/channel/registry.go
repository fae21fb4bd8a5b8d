package channel

import (
	"fmt"

	cmap "github.com/orcaman/concurrent-map/v2"
)

// channels tracks every live channel this process created or attached,
// keyed by name. The registry guards against double creation within a
// process and feeds monitoring (the prometheus Collector and the health
// adapter walk it).
var channels = cmap.New[*Channel]()

func register(c *Channel) error {
	if !channels.SetIfAbsent(c.name, c) {
		return fmt.Errorf("%w: %s", ErrChannelExists, c.name)
	}
	return nil
}

// unregister removes c's registry entry. Removal is conditional on the
// entry holding this exact handle: an attached handle that lost the
// registration race to an in-process creator must not evict the
// creator's entry when it is torn down.
func unregister(c *Channel) {
	channels.RemoveCb(c.name, func(key string, v *Channel, exists bool) bool {
		return exists && v == c
	})
}

// Lookup returns the live channel registered under name, if any.
func Lookup(name string) (*Channel, bool) {
	return channels.Get(name)
}

// Names lists the names of every live channel in this process.
func Names() []string {
	return channels.Keys()
}

// ForEach calls fn for every live channel in this process.
func ForEach(fn func(*Channel)) {
	for item := range channels.IterBuffered() {
		fn(item.Val)
	}
}

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

package channel

import (
	"context"
	"encoding/binary"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/procpipe/shmchan/internal/shm"
)

// prefixSize is the width of the length prefix framing every message:
// one little-endian uint64, no padding, no checksum. The receiver
// always knows how many bytes to consume because it reads this first.
const prefixSize = 8

// ctxPollInterval bounds futex waits when a context without a deadline
// must still be able to observe cancellation.
const ctxPollInterval = 50 * time.Millisecond

// Stats is a snapshot of a channel's process-local counters.
type Stats struct {
	Sends         uint64
	Receives      uint64
	BytesSent     uint64
	BytesReceived uint64
	FullRejects   uint64
}

// DebugState is a point-in-time view of the shared ring metadata, read
// without the lock. Useful for diagnostics and monitoring only.
type DebugState struct {
	Capacity uint64
	Head     uint64
	Tail     uint64
	Full     bool
	Live     uint64
}

type instruments struct {
	sends     metric.Int64Counter
	receives  metric.Int64Counter
	sentBytes metric.Int64Counter
	recvBytes metric.Int64Counter
}

// Channel is a bounded byte-oriented IPC channel: a fixed-capacity ring
// of shared memory plus head/tail cursors, a full flag, a cross-process
// lock serializing every structural mutation, and a cross-process
// counter of fully written, not yet read messages.
//
// A Channel is simplex. Compose two with CreatePair for a duplex pipe.
// Every participating process maps the same two regions; the process
// designated final owner calls Dispose exactly once. That coordination
// is the caller's contract, not the channel's.
type Channel struct {
	name     string
	capacity uint64

	metaRegion *shm.Region
	ringRegion *shm.Region
	meta       *metaView
	ring       []byte

	lock   *shm.Sem
	unread *shm.Sem

	codec    Codec
	tracer   trace.Tracer
	inst     *instruments
	disposed atomic.Bool

	nSends       atomic.Uint64
	nReceives    atomic.Uint64
	nBytesSent   atomic.Uint64
	nBytesRecv   atomic.Uint64
	nFullRejects atomic.Uint64
}

// Create builds a new channel under the given name. The creator
// initializes the cursors, the full flag, the lock (count 1) and the
// unread counter (count 0); peers attach with Open or OpenFd.
func Create(name string, cfg *Config) (*Channel, error) {
	if err := verifyName(name); err != nil {
		return nil, err
	}
	if err := VerifyConfig(cfg); err != nil {
		return nil, err
	}

	var metaRegion, ringRegion *shm.Region
	var err error
	switch cfg.MemMapType {
	case MemMapTypeMemFd:
		metaRegion, err = shm.CreateRegionMemfd(name+"-meta", metaRegionSize)
		if err != nil {
			return nil, err
		}
		ringRegion, err = shm.CreateRegionMemfd(name+"-ring", int(cfg.Capacity))
	default:
		dir := cfg.Dir
		if dir == "" {
			dir = defaultSegmentDir()
		}
		ringPath := filepath.Join(dir, name+".ring")
		if !canCreateOnDevShm(cfg.Capacity+metaRegionSize, ringPath) {
			return nil, fmt.Errorf("channel: not enough space on /dev/shm for %d bytes", cfg.Capacity)
		}
		metaRegion, err = shm.CreateRegion(filepath.Join(dir, name+".meta"), metaRegionSize)
		if err != nil {
			return nil, err
		}
		ringRegion, err = shm.CreateRegion(ringPath, int(cfg.Capacity))
	}
	if err != nil {
		if metaRegion != nil {
			if uerr := metaRegion.Unmap(); uerr != nil {
				fatalf("channel %s: unmap meta region: %v", name, uerr)
			}
		}
		return nil, err
	}

	c := assemble(name, cfg, metaRegion, ringRegion)
	c.meta.SetHead(0)
	c.meta.SetTail(0)
	c.meta.SetFull(false)
	c.lock = shm.NewSem(c.meta.lockWord(), 1)
	c.unread = shm.NewSem(c.meta.unreadWord(), 0)

	if err := register(c); err != nil {
		c.teardown()
		return nil, err
	}
	internalLogger.infof("channel %s created, capacity %d", name, c.capacity)
	return c, nil
}

// Open attaches to an existing file-backed channel created by a peer.
// The capacity is taken from the ring segment, so every process
// computes the same value.
func Open(name string, cfg *Config) (*Channel, error) {
	if err := verifyName(name); err != nil {
		return nil, err
	}
	if err := VerifyConfig(cfg); err != nil {
		return nil, err
	}
	dir := cfg.Dir
	if dir == "" {
		dir = defaultSegmentDir()
	}
	metaRegion, err := shm.OpenRegion(filepath.Join(dir, name+".meta"))
	if err != nil {
		return nil, err
	}
	ringRegion, err := shm.OpenRegion(filepath.Join(dir, name+".ring"))
	if err != nil {
		if uerr := metaRegion.Unmap(); uerr != nil {
			fatalf("channel %s: unmap meta region: %v", name, uerr)
		}
		return nil, err
	}
	return attach(name, cfg, metaRegion, ringRegion)
}

// OpenFd attaches to a memfd-backed channel through descriptors
// inherited from the creating process (typically via ExtraFiles).
func OpenFd(name string, metaFd, ringFd int, cfg *Config) (*Channel, error) {
	if err := verifyName(name); err != nil {
		return nil, err
	}
	if err := VerifyConfig(cfg); err != nil {
		return nil, err
	}
	metaRegion, err := shm.OpenRegionFd(metaFd)
	if err != nil {
		return nil, err
	}
	ringRegion, err := shm.OpenRegionFd(ringFd)
	if err != nil {
		if uerr := metaRegion.Unmap(); uerr != nil {
			fatalf("channel %s: unmap meta region: %v", name, uerr)
		}
		return nil, err
	}
	return attach(name, cfg, metaRegion, ringRegion)
}

func attach(name string, cfg *Config, metaRegion, ringRegion *shm.Region) (*Channel, error) {
	c := assemble(name, cfg, metaRegion, ringRegion)
	c.lock = shm.AttachSem(c.meta.lockWord())
	c.unread = shm.AttachSem(c.meta.unreadWord())
	// Attaching alongside an existing handle for the same name is
	// legal (the creator usually lives in another process); only the
	// first handle per name lands in the registry.
	if err := register(c); err != nil {
		internalLogger.debugf("channel %s not registered: %v", name, err)
	}
	internalLogger.infof("channel %s attached, capacity %d", name, c.capacity)
	return c, nil
}

func assemble(name string, cfg *Config, metaRegion, ringRegion *shm.Region) *Channel {
	c := &Channel{
		name:       name,
		capacity:   uint64(ringRegion.Size()),
		metaRegion: metaRegion,
		ringRegion: ringRegion,
		meta:       newMetaView(metaRegion.Bytes()),
		ring:       ringRegion.Bytes(),
		codec:      cfg.Codec,
		tracer:     cfg.Tracer,
	}
	if cfg.Meter != nil {
		c.inst = newInstruments(cfg.Meter)
	}
	return c
}

func newInstruments(meter metric.Meter) *instruments {
	inst := &instruments{}
	var err error
	if inst.sends, err = meter.Int64Counter("shmchan.messages.sent"); err != nil {
		internalLogger.warnf("create send counter: %v", err)
		return nil
	}
	if inst.receives, err = meter.Int64Counter("shmchan.messages.received"); err != nil {
		internalLogger.warnf("create receive counter: %v", err)
		return nil
	}
	if inst.sentBytes, err = meter.Int64Counter("shmchan.bytes.sent"); err != nil {
		internalLogger.warnf("create sent bytes counter: %v", err)
		return nil
	}
	if inst.recvBytes, err = meter.Int64Counter("shmchan.bytes.received"); err != nil {
		internalLogger.warnf("create received bytes counter: %v", err)
		return nil
	}
	return inst
}

// Name returns the channel name.
func (c *Channel) Name() string { return c.name }

// Capacity returns the ring size in bytes.
func (c *Channel) Capacity() uint64 { return c.capacity }

// MetaFd and RingFd return the backing descriptors of a memfd channel
// (-1 for file-backed ones), for handing to a child process.
func (c *Channel) MetaFd() int { return c.metaRegion.Fd() }
func (c *Channel) RingFd() int { return c.ringRegion.Fd() }

// SendBytes frames p with its length and copies it into the ring.
// A zero-length p is a no-op success. If the framed message does not
// fit in the current free space the send fails with ErrBufferFull
// before a single byte is written; a failed send never partially
// corrupts the ring. SendBytes never blocks on a full ring.
func (c *Channel) SendBytes(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	if c.disposed.Load() {
		return ErrDisposed
	}
	needed := prefixSize + uint64(len(p))
	if needed > c.capacity {
		c.nFullRejects.Add(1)
		return fmt.Errorf("%w: framed size %d exceeds capacity %d", ErrBufferFull, needed, c.capacity)
	}

	if err := c.lock.Wait(); err != nil {
		return err
	}
	free := c.freeLocked()
	if needed > free {
		if err := c.lock.Post(); err != nil {
			return err
		}
		c.nFullRejects.Add(1)
		return fmt.Errorf("%w: need %d bytes, %d free", ErrBufferFull, needed, free)
	}

	var prefix [prefixSize]byte
	binary.LittleEndian.PutUint64(prefix[:], uint64(len(p)))
	tail := c.meta.Tail()
	c.copyIn(tail, prefix[:])
	c.copyIn((tail+prefixSize)%c.capacity, p)

	// The write exactly consumed the remaining space: head == tail must
	// now mean full, not empty. Flag before publishing the new tail.
	if needed == free {
		c.meta.SetFull(true)
	}
	c.meta.SetTail((tail + needed) % c.capacity)

	// The data is already committed, so a post failure is a broken
	// synchronization object, not a data error. It still propagates,
	// after the lock is released.
	postErr := c.unread.Post()
	if err := c.lock.Post(); err != nil {
		return err
	}
	if postErr != nil {
		return postErr
	}

	c.nSends.Add(1)
	c.nBytesSent.Add(uint64(len(p)))
	if c.inst != nil {
		c.inst.sends.Add(context.Background(), 1)
		c.inst.sentBytes.Add(context.Background(), int64(len(p)))
	}
	return nil
}

// ReceiveBytes copies the next message out of the ring. With block set
// it parks the caller until a message has been posted; otherwise it
// fails fast with ErrWouldBlock, leaving the ring and the lock
// untouched. The counter is the sole gate for "is there a message":
// every send posts exactly once and every receive consumes exactly one
// permit before touching the ring.
func (c *Channel) ReceiveBytes(block bool) ([]byte, error) {
	if c.disposed.Load() {
		return nil, ErrDisposed
	}
	if block {
		if err := c.unread.Wait(); err != nil {
			return nil, err
		}
	} else {
		ok, err := c.unread.TryWait()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrWouldBlock
		}
	}
	return c.consume()
}

// ReceiveBytesContext is ReceiveBytes(block=true) bounded by ctx. The
// underlying wait has no cancellation primitive, so waits without a
// deadline are sliced and the context re-checked between slices.
func (c *Channel) ReceiveBytesContext(ctx context.Context) ([]byte, error) {
	if c.disposed.Load() {
		return nil, ErrDisposed
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		wait := ctxPollInterval
		if deadline, ok := ctx.Deadline(); ok {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return nil, context.DeadlineExceeded
			}
			if remaining < wait {
				wait = remaining
			}
		}
		err := c.unread.WaitTimeout(wait)
		if err == nil {
			return c.consume()
		}
		if err != shm.ErrTimeout {
			return nil, err
		}
	}
}

// consume holds a permit from the unread counter and copies one framed
// message out under the lock.
func (c *Channel) consume() ([]byte, error) {
	if err := c.lock.Wait(); err != nil {
		return nil, err
	}

	head := c.meta.Head()
	scratch, err := shm.Alloc(prefixSize, shm.KindHeap)
	if err != nil {
		c.unlockOrFatal()
		return nil, err
	}
	c.copyOut(head, scratch.Bytes())
	msgLen := binary.LittleEndian.Uint64(scratch.Bytes())
	if rerr := scratch.Release(); rerr != nil {
		internalLogger.warnf("channel %s: release scratch: %v", c.name, rerr)
	}

	payload, err := shm.Alloc(int(msgLen), shm.KindHeap)
	if err != nil {
		c.unlockOrFatal()
		return nil, err
	}
	c.copyOut((head+prefixSize)%c.capacity, payload.Bytes())

	c.meta.SetHead((head + prefixSize + msgLen) % c.capacity)
	// Any successful read leaves fewer than capacity live bytes.
	c.meta.SetFull(false)

	if err := c.lock.Post(); err != nil {
		return nil, err
	}

	c.nReceives.Add(1)
	c.nBytesRecv.Add(msgLen)
	if c.inst != nil {
		c.inst.receives.Add(context.Background(), 1)
		c.inst.recvBytes.Add(context.Background(), int64(msgLen))
	}
	return payload.Bytes(), nil
}

func (c *Channel) unlockOrFatal() {
	if err := c.lock.Post(); err != nil {
		fatalf("channel %s: release ring lock: %v", c.name, err)
	}
}

// freeLocked computes the writable byte count from (head, tail, full).
// Must be called with the lock held. The three-way branch is required
// because the cursors wrap: head == tail alone cannot distinguish empty
// from full, hence the flag.
func (c *Channel) freeLocked() uint64 {
	head := c.meta.Head()
	tail := c.meta.Tail()
	switch {
	case head < tail:
		return c.capacity - (tail - head)
	case head > tail:
		return head - tail
	case !c.meta.Full():
		return c.capacity
	default:
		return 0
	}
}

// copyIn writes p starting at ring offset off, splitting the copy in
// two when it crosses the capacity boundary.
func (c *Channel) copyIn(off uint64, p []byte) {
	first := c.capacity - off
	if uint64(len(p)) <= first {
		copy(c.ring[off:], p)
		return
	}
	copy(c.ring[off:], p[:first])
	copy(c.ring, p[first:])
}

// copyOut reads len(p) bytes starting at ring offset off, split-safe
// across the wrap like copyIn.
func (c *Channel) copyOut(off uint64, p []byte) {
	first := c.capacity - off
	if uint64(len(p)) <= first {
		copy(p, c.ring[off:])
		return
	}
	copy(p[:first], c.ring[off:])
	copy(p[first:], c.ring)
}

// Live returns the number of live bytes, taken under the lock.
func (c *Channel) Live() (uint64, error) {
	if err := c.lock.Wait(); err != nil {
		return 0, err
	}
	live := c.capacity - c.freeLocked()
	if err := c.lock.Post(); err != nil {
		return 0, err
	}
	return live, nil
}

// Stats returns the process-local operation counters.
func (c *Channel) Stats() Stats {
	return Stats{
		Sends:         c.nSends.Load(),
		Receives:      c.nReceives.Load(),
		BytesSent:     c.nBytesSent.Load(),
		BytesReceived: c.nBytesRecv.Load(),
		FullRejects:   c.nFullRejects.Load(),
	}
}

// DebugState snapshots the shared metadata without taking the lock.
func (c *Channel) DebugState() DebugState {
	head := c.meta.Head()
	tail := c.meta.Tail()
	full := c.meta.Full()
	live := (tail - head + c.capacity) % c.capacity
	if live == 0 && full {
		live = c.capacity
	}
	return DebugState{
		Capacity: c.capacity,
		Head:     head,
		Tail:     tail,
		Full:     full,
		Live:     live,
	}
}

func (c *Channel) tracerOrNil() trace.Tracer { return c.tracer }

// Disposed reports whether this process has disposed the channel.
func (c *Channel) Disposed() bool { return c.disposed.Load() }

// Dispose destroys the semaphores and unmaps both regions. It must be
// called exactly once, by whichever process the caller designates the
// final owner; the channel does not arbitrate that. Any failure here is
// fatal: partial cleanup leaves shared kernel resources in a state
// other processes may still depend on, and a loud crash is preferred to
// silent leakage or corruption.
//
// File-backed segments are unlinked only when this process created the
// channel. A disposing attacher unmaps its views and destroys the
// semaphores but leaves the files under Dir for the creator (or the
// operator) to remove.
func (c *Channel) Dispose() {
	if c.disposed.Swap(true) {
		fatalf("channel %s: disposed twice in one process", c.name)
	}
	unregister(c)

	// The semaphore words live inside the metadata region, so they are
	// destroyed before their backing mapping goes away.
	if err := c.unread.Destroy(); err != nil {
		fatalf("channel %s: destroy unread counter: %v", c.name, err)
	}
	if err := c.lock.Destroy(); err != nil {
		fatalf("channel %s: destroy ring lock: %v", c.name, err)
	}
	if err := c.ringRegion.Unmap(); err != nil {
		fatalf("channel %s: unmap ring: %v", c.name, err)
	}
	if err := c.metaRegion.Unmap(); err != nil {
		fatalf("channel %s: unmap metadata: %v", c.name, err)
	}
	internalLogger.infof("channel %s disposed", c.name)
}

// teardown quietly unwinds a half-constructed channel before it was
// ever visible to a peer. The registry entry goes first: a metrics
// scrape or Lookup walking the registry after the mappings are gone
// would touch unmapped memory.
func (c *Channel) teardown() {
	c.disposed.Store(true)
	unregister(c)
	if err := c.ringRegion.Unmap(); err != nil {
		fatalf("channel %s: unmap ring: %v", c.name, err)
	}
	if err := c.metaRegion.Unmap(); err != nil {
		fatalf("channel %s: unmap metadata: %v", c.name, err)
	}
}

// Package shm contains the memory and synchronization primitives the
// channel is built on: file- and memfd-backed shared mappings, move-only
// owned buffers, and futex-based cross-process semaphores.
//
// Everything here is deliberately low level. Policy (framing, locking
// discipline, disposal order) lives in pkg/channel.
package shm

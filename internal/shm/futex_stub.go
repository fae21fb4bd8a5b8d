//go:build !linux

package shm

// Futex-backed blocking is Linux only. Other platforms can map regions
// but get ErrNotSupported from any operation that would park a waiter.

func futexWait(addr *uint32, val uint32) error { return ErrNotSupported }

func futexWaitTimeout(addr *uint32, val uint32, timeoutNs int64) error { return ErrNotSupported }

func futexWake(addr *uint32, n int) error { return ErrNotSupported }

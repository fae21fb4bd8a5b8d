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
	"sync/atomic"
	"time"
)

var (
	// ErrTimeout is returned by WaitTimeout when the wait expires.
	ErrTimeout = errors.New("shm: wait timed out")
	// ErrNotSupported is returned on platforms without futex support.
	ErrNotSupported = errors.New("shm: blocking primitives not supported on this platform")
	// ErrSemDestroyed is returned when a semaphore has been destroyed
	// while peers could still reach it.
	ErrSemDestroyed = errors.New("shm: semaphore destroyed")
)

// semPoison marks a destroyed semaphore. A live count can never reach
// it: posts beyond math.MaxUint32-1 would first fail the ring capacity
// checks many orders of magnitude earlier.
const semPoison = ^uint32(0)

// Sem is a counting semaphore whose entire state is one uint32 in
// shared memory, so any process mapping the word can wait and post.
// Blocking uses non-private futexes; the fast path is a single CAS.
//
// Initialized to 1 it acts as a cross-process mutex (not reentrant).
// Initialized to 0 it counts fully written, not yet read messages.
type Sem struct {
	v *uint32
}

// NewSem initializes the shared word to initial and returns a handle.
// Only the creating process calls NewSem; peers call AttachSem.
func NewSem(word *uint32, initial uint32) *Sem {
	atomic.StoreUint32(word, initial)
	return &Sem{v: word}
}

// AttachSem wraps an already initialized shared word.
func AttachSem(word *uint32) *Sem {
	return &Sem{v: word}
}

// Post increments the count and wakes one waiter.
func (s *Sem) Post() error {
	for {
		v := atomic.LoadUint32(s.v)
		if v == semPoison {
			return ErrSemDestroyed
		}
		if atomic.CompareAndSwapUint32(s.v, v, v+1) {
			return futexWake(s.v, 1)
		}
	}
}

// Wait blocks until the count is positive, then decrements it.
func (s *Sem) Wait() error {
	for {
		v := atomic.LoadUint32(s.v)
		switch {
		case v == semPoison:
			return ErrSemDestroyed
		case v == 0:
			if err := futexWait(s.v, 0); err != nil {
				return err
			}
		default:
			if atomic.CompareAndSwapUint32(s.v, v, v-1) {
				return nil
			}
		}
	}
}

// TryWait decrements and returns true only if the count was already
// positive. It never blocks.
func (s *Sem) TryWait() (bool, error) {
	for {
		v := atomic.LoadUint32(s.v)
		switch {
		case v == semPoison:
			return false, ErrSemDestroyed
		case v == 0:
			return false, nil
		default:
			if atomic.CompareAndSwapUint32(s.v, v, v-1) {
				return true, nil
			}
		}
	}
}

// WaitTimeout is Wait bounded by d. Returns ErrTimeout on expiry.
func (s *Sem) WaitTimeout(d time.Duration) error {
	deadline := time.Now().Add(d)
	for {
		v := atomic.LoadUint32(s.v)
		switch {
		case v == semPoison:
			return ErrSemDestroyed
		case v == 0:
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return ErrTimeout
			}
			if err := futexWaitTimeout(s.v, 0, remaining.Nanoseconds()); err != nil {
				return err
			}
		default:
			if atomic.CompareAndSwapUint32(s.v, v, v-1) {
				return nil
			}
		}
	}
}

// Destroy poisons the semaphore and wakes every waiter so that a peer
// blocked in Wait fails fast instead of deadlocking on a dead channel.
// The shared word itself is reclaimed when its region is unmapped.
func (s *Sem) Destroy() error {
	atomic.StoreUint32(s.v, semPoison)
	return futexWake(s.v, 1<<30)
}

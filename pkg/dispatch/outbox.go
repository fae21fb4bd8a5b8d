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

package dispatch

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/Workiva/go-datastructures/queue"
	"github.com/cenkalti/backoff/v4"

	"github.com/procpipe/shmchan/pkg/channel"
)

// Outbox decouples producers from ring backpressure. The channel itself
// never retries a full send; the outbox queues the message and retries
// with exponential backoff until the receiver frees space, the retry
// budget runs out, or the outbox is closed.
type Outbox struct {
	send    *channel.Sender
	pending *queue.Queue

	cancel  context.CancelFunc
	done    chan struct{}
	dropped atomic.Uint64

	// MaxElapsed bounds how long one message is retried before being
	// dropped. Zero means the backoff default.
	MaxElapsed time.Duration
}

// NewOutbox starts an outbox over the sender. hint sizes the internal
// queue's initial allocation.
func NewOutbox(s *channel.Sender, hint int64) *Outbox {
	ctx, cancel := context.WithCancel(context.Background())
	o := &Outbox{
		send:    s,
		pending: queue.New(hint),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go o.drain(ctx)
	return o
}

// Put enqueues one message for sending. It fails only after Close.
func (o *Outbox) Put(msg []byte) error {
	return o.pending.Put(msg)
}

// Pending returns the number of queued, not yet sent messages.
func (o *Outbox) Pending() int64 { return o.pending.Len() }

// Dropped returns how many messages exhausted their retry budget.
func (o *Outbox) Dropped() uint64 { return o.dropped.Load() }

// Close stops the drain loop and disposes the queue. Messages still
// queued are discarded.
func (o *Outbox) Close() {
	o.cancel()
	o.pending.Dispose()
	<-o.done
}

func (o *Outbox) drain(ctx context.Context) {
	defer close(o.done)
	for {
		items, err := o.pending.Get(1)
		if err != nil || len(items) == 0 {
			// Disposed: the outbox is shutting down.
			return
		}
		msg, ok := items[0].([]byte)
		if !ok {
			continue
		}
		if err := o.sendWithBackoff(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return
			}
			o.dropped.Add(1)
		}
	}
}

func (o *Outbox) sendWithBackoff(ctx context.Context, msg []byte) error {
	op := func() error {
		err := o.send.SendBytes(msg)
		if err == nil {
			return nil
		}
		if errors.Is(err, channel.ErrBufferFull) {
			// Backpressure: worth waiting for the receiver.
			return err
		}
		return backoff.Permanent(err)
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Millisecond
	if o.MaxElapsed > 0 {
		policy.MaxElapsedTime = o.MaxElapsed
	}
	return backoff.Retry(op, backoff.WithContext(policy, ctx))
}

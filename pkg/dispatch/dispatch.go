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

// Package dispatch provides worker-side plumbing around a channel: a
// Dispatcher that fans received messages out to a goroutine pool, and
// an Outbox that absorbs backpressure from a full ring with queued,
// retried sends.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/procpipe/shmchan/pkg/channel"
)

// Handler processes one received message. The slice is owned by the
// handler; the dispatcher never touches it again.
type Handler func(msg []byte)

// Dispatcher pulls messages off a Receiver and hands each one to a
// pooled worker, so slow handlers do not stall the ring drain.
type Dispatcher struct {
	recv    *channel.Receiver
	pool    *ants.Pool
	handler Handler

	cancel  context.CancelFunc
	done    chan struct{}
	started sync.Once
	stopped sync.Once
	runErr  error
}

// NewDispatcher builds a dispatcher with the given pool size.
func NewDispatcher(r *channel.Receiver, workers int, h Handler) (*Dispatcher, error) {
	if h == nil {
		return nil, errors.New("dispatch: nil handler")
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("dispatch: create pool: %w", err)
	}
	return &Dispatcher{
		recv:    r,
		pool:    pool,
		handler: h,
		done:    make(chan struct{}),
	}, nil
}

// Start begins the receive loop. It returns immediately; the loop runs
// until Close or a receive error.
func (d *Dispatcher) Start() {
	d.started.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		d.cancel = cancel
		go d.run(ctx)
	})
}

func (d *Dispatcher) run(ctx context.Context) {
	defer close(d.done)
	for {
		msg, err := d.recv.ReceiveBytesContext(ctx)
		if err != nil {
			if ctx.Err() == nil {
				d.runErr = err
			}
			return
		}
		if err := d.pool.Submit(func() { d.handler(msg) }); err != nil {
			d.runErr = fmt.Errorf("dispatch: submit: %w", err)
			return
		}
	}
}

// Close stops the receive loop, waits for it to exit and releases the
// pool. In-flight handlers finish; queued pool tasks are abandoned by
// the pool's own release semantics. Returns the loop's terminal error,
// if it stopped on one before Close.
func (d *Dispatcher) Close() error {
	var err error
	d.stopped.Do(func() {
		if d.cancel != nil {
			d.cancel()
			<-d.done
		}
		d.pool.Release()
		err = d.runErr
	})
	return err
}

// Err returns the terminal receive-loop error, if any.
func (d *Dispatcher) Err() error { return d.runErr }

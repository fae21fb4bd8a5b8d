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

	"go.opentelemetry.io/otel/trace"
)

// Sender is the sending half of a channel. The send operations do not
// protect against concurrent senders on the same half; each half is
// meant to be driven by one party.
type Sender struct {
	ch     *Channel
	tracer trace.Tracer
}

// SendBytes sends an opaque byte string. See Channel.SendBytes.
func (s *Sender) SendBytes(p []byte) error {
	return s.ch.SendBytes(p)
}

// SendValue serializes v through the channel codec and sends the
// resulting bytes.
func (s *Sender) SendValue(v interface{}) error {
	if s.tracer != nil {
		_, span := s.tracer.Start(context.Background(), "shmchan.SendValue")
		defer span.End()
	}
	data, err := s.ch.codec.Encode(v)
	if err != nil {
		return err
	}
	return s.ch.SendBytes(data)
}

// Channel returns the underlying channel.
func (s *Sender) Channel() *Channel { return s.ch }

// Receiver is the receiving half of a channel. Like Sender, one party
// per half.
type Receiver struct {
	ch     *Channel
	tracer trace.Tracer
}

// ReceiveBytes receives the next message. See Channel.ReceiveBytes.
func (r *Receiver) ReceiveBytes(block bool) ([]byte, error) {
	return r.ch.ReceiveBytes(block)
}

// ReceiveBytesContext receives the next message, honoring ctx.
func (r *Receiver) ReceiveBytesContext(ctx context.Context) ([]byte, error) {
	return r.ch.ReceiveBytesContext(ctx)
}

// ReceiveValue receives the next message and decodes it into v.
func (r *Receiver) ReceiveValue(block bool, v interface{}) error {
	if r.tracer != nil {
		_, span := r.tracer.Start(context.Background(), "shmchan.ReceiveValue")
		defer span.End()
	}
	data, err := r.ch.ReceiveBytes(block)
	if err != nil {
		return err
	}
	return r.ch.codec.Decode(data, v)
}

// Channel returns the underlying channel.
func (r *Receiver) Channel() *Channel { return r.ch }

// Pair composes two independent simplex channels into a full-duplex
// pipe: side A writes the channel side B reads, and vice versa. The
// two rings are fully independent; there is no ordering between them
// and no shared state beyond what each channel owns.
type Pair struct {
	atob *Channel
	btoa *Channel
}

// CreatePair builds both channels of a duplex pair under a common name.
// The creator typically keeps one side and lets the peer attach the
// other with AttachPair (or via the memfd descriptors).
func CreatePair(name string, cfg *Config) (*Pair, error) {
	atob, err := Create(name+"-a", cfg)
	if err != nil {
		return nil, err
	}
	btoa, err := Create(name+"-b", cfg)
	if err != nil {
		atob.Dispose()
		return nil, err
	}
	return &Pair{atob: atob, btoa: btoa}, nil
}

// AttachPair opens both channels of an existing file-backed pair.
func AttachPair(name string, cfg *Config) (*Pair, error) {
	atob, err := Open(name+"-a", cfg)
	if err != nil {
		return nil, err
	}
	btoa, err := Open(name+"-b", cfg)
	if err != nil {
		atob.teardown()
		return nil, err
	}
	return &Pair{atob: atob, btoa: btoa}, nil
}

// SideA returns the endpoints for party A: sends travel a→b, receives
// come from the b→a channel.
func (p *Pair) SideA() (*Sender, *Receiver) {
	return newSender(p.atob), newReceiver(p.btoa)
}

// SideB returns the endpoints for party B.
func (p *Pair) SideB() (*Sender, *Receiver) {
	return newSender(p.btoa), newReceiver(p.atob)
}

// AtoB and BtoA expose the underlying simplex channels.
func (p *Pair) AtoB() *Channel { return p.atob }
func (p *Pair) BtoA() *Channel { return p.btoa }

// Dispose releases both channels. Same exactly-once, final-owner
// contract as Channel.Dispose.
func (p *Pair) Dispose() {
	p.atob.Dispose()
	p.btoa.Dispose()
}

func newSender(c *Channel) *Sender {
	return &Sender{ch: c, tracer: c.tracerOrNil()}
}

func newReceiver(c *Channel) *Receiver {
	return &Receiver{ch: c, tracer: c.tracerOrNil()}
}

// NewSender and NewReceiver wrap a standalone channel for callers that
// manage their simplex channels directly.
func NewSender(c *Channel) *Sender     { return newSender(c) }
func NewReceiver(c *Channel) *Receiver { return newReceiver(c) }

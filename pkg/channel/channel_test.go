//go:build linux

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
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

var nameSeq atomic.Uint64

func testName() string {
	return fmt.Sprintf("chantest-%d", nameSeq.Add(1))
}

// ChannelTestSuite exercises one small file-backed channel per test.
type ChannelTestSuite struct {
	suite.Suite
	cfg *Config
	ch  *Channel
}

func (s *ChannelTestSuite) SetupTest() {
	s.cfg = DefaultConfig()
	s.cfg.Capacity = 64
	s.cfg.Dir = s.T().TempDir()
	var err error
	s.ch, err = Create(testName(), s.cfg)
	s.Require().NoError(err)
}

func (s *ChannelTestSuite) TearDownTest() {
	if s.ch != nil && !s.ch.Disposed() {
		s.ch.Dispose()
	}
}

func pattern(n int, seed byte) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = seed + byte(i*7)
	}
	return p
}

func (s *ChannelTestSuite) TestRoundTrip() {
	for _, n := range []int{1, 2, 7, 8, 9, 31, 56} {
		msg := pattern(n, byte(n))
		s.Require().NoError(s.ch.SendBytes(msg))
		got, err := s.ch.ReceiveBytes(true)
		s.Require().NoError(err)
		s.Require().Equal(msg, got, "payload length %d", n)
	}
}

func (s *ChannelTestSuite) TestEmptySendIsNoop() {
	s.Require().NoError(s.ch.SendBytes(nil))
	s.Require().NoError(s.ch.SendBytes([]byte{}))

	_, err := s.ch.ReceiveBytes(false)
	s.Require().ErrorIs(err, ErrWouldBlock)
}

func (s *ChannelTestSuite) TestEmptyFullDisambiguation() {
	// Framed size 8+56 == capacity: the ring is exactly full and
	// head == tail with the flag set.
	msg := pattern(56, 0x11)
	s.Require().NoError(s.ch.SendBytes(msg))

	state := s.ch.DebugState()
	s.Require().True(state.Full)
	s.Require().Equal(state.Head, state.Tail)
	s.Require().Equal(uint64(64), state.Live)

	err := s.ch.SendBytes([]byte{1})
	s.Require().ErrorIs(err, ErrBufferFull)

	got, err := s.ch.ReceiveBytes(true)
	s.Require().NoError(err)
	s.Require().Equal(msg, got)

	live, err := s.ch.Live()
	s.Require().NoError(err)
	s.Require().Equal(uint64(0), live)
	s.Require().False(s.ch.DebugState().Full)

	// The freed ring accepts a new exactly-capacity message.
	s.Require().NoError(s.ch.SendBytes(pattern(56, 0x22)))
}

func (s *ChannelTestSuite) TestWrapCorrectness() {
	// Position the cursors so the next length prefix straddles the
	// capacity boundary: 3 bytes at the end, 5 at the start.
	first := pattern(53, 0x31)
	s.Require().NoError(s.ch.SendBytes(first))
	got, err := s.ch.ReceiveBytes(true)
	s.Require().NoError(err)
	s.Require().Equal(first, got)
	s.Require().Equal(uint64(61), s.ch.DebugState().Head)

	straddle := pattern(10, 0x42)
	s.Require().NoError(s.ch.SendBytes(straddle))
	got, err = s.ch.ReceiveBytes(true)
	s.Require().NoError(err)
	s.Require().Equal(straddle, got)

	// Drive the cursors across the boundary several more times.
	var sent uint64
	for i := 0; i < 40; i++ {
		msg := pattern(i%19+1, byte(i))
		s.Require().NoError(s.ch.SendBytes(msg))
		sent += prefixSize + uint64(len(msg))
		got, err := s.ch.ReceiveBytes(true)
		s.Require().NoError(err)
		s.Require().Equal(msg, got, "iteration %d", i)
	}
	s.Require().Greater(sent, uint64(2*64), "cursors must cross the boundary at least twice")
}

func (s *ChannelTestSuite) TestNonBlockingReceiveLeavesStateUntouched() {
	before := s.ch.DebugState()
	_, err := s.ch.ReceiveBytes(false)
	s.Require().ErrorIs(err, ErrWouldBlock)
	s.Require().Equal(before, s.ch.DebugState())
}

func (s *ChannelTestSuite) TestBlockingReceiveUnblocksOnSend() {
	type result struct {
		msg []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		msg, err := s.ch.ReceiveBytes(true)
		done <- result{msg, err}
	}()

	time.Sleep(20 * time.Millisecond)
	want := pattern(12, 0x55)
	s.Require().NoError(s.ch.SendBytes(want))

	select {
	case r := <-done:
		s.Require().NoError(r.err)
		s.Require().Equal(want, r.msg)
	case <-time.After(2 * time.Second):
		s.T().Fatal("blocked receiver was not woken by send")
	}
}

func (s *ChannelTestSuite) TestOversizeAlwaysRejected() {
	// Framed size 8+57 = 65 > 64: can never fit, at any occupancy.
	err := s.ch.SendBytes(pattern(57, 0x01))
	s.Require().ErrorIs(err, ErrBufferFull)

	s.Require().NoError(s.ch.SendBytes(pattern(4, 0x02)))
	err = s.ch.SendBytes(pattern(57, 0x03))
	s.Require().ErrorIs(err, ErrBufferFull)

	s.Require().Equal(uint64(2), s.ch.Stats().FullRejects)
}

func (s *ChannelTestSuite) TestPartialFillThenFullRejection() {
	s.Require().NoError(s.ch.SendBytes(pattern(40, 0x07))) // framed 48, free 16
	err := s.ch.SendBytes(pattern(9, 0x08))                // framed 17
	s.Require().ErrorIs(err, ErrBufferFull)
	s.Require().NoError(s.ch.SendBytes(pattern(8, 0x09))) // framed 16, exact fit
	s.Require().True(s.ch.DebugState().Full)
}

func (s *ChannelTestSuite) TestReceiveContextCancel() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := s.ch.ReceiveBytesContext(ctx)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		s.Require().ErrorIs(err, context.Canceled)
	case <-time.After(2 * time.Second):
		s.T().Fatal("cancelled receiver did not return")
	}
}

func (s *ChannelTestSuite) TestReceiveContextDeadline() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := s.ch.ReceiveBytesContext(ctx)
	s.Require().ErrorIs(err, context.DeadlineExceeded)
}

func (s *ChannelTestSuite) TestReceiveContextGetsMessage() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	want := pattern(20, 0x66)
	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = s.ch.SendBytes(want)
	}()
	got, err := s.ch.ReceiveBytesContext(ctx)
	s.Require().NoError(err)
	s.Require().Equal(want, got)
}

func (s *ChannelTestSuite) TestStats() {
	s.Require().NoError(s.ch.SendBytes(pattern(10, 1)))
	s.Require().NoError(s.ch.SendBytes(pattern(20, 2)))
	_, err := s.ch.ReceiveBytes(true)
	s.Require().NoError(err)

	stats := s.ch.Stats()
	s.Require().Equal(uint64(2), stats.Sends)
	s.Require().Equal(uint64(1), stats.Receives)
	s.Require().Equal(uint64(30), stats.BytesSent)
	s.Require().Equal(uint64(10), stats.BytesReceived)
}

func (s *ChannelTestSuite) TestDisposedGuards() {
	s.ch.Dispose()
	s.Require().ErrorIs(s.ch.SendBytes([]byte{1}), ErrDisposed)
	_, err := s.ch.ReceiveBytes(false)
	s.Require().ErrorIs(err, ErrDisposed)
}

func TestChannelSuite(t *testing.T) {
	suite.Run(t, new(ChannelTestSuite))
}

func TestCreateRejectsBadName(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Capacity = 64
	cfg.Dir = t.TempDir()

	if _, err := Create("", cfg); err == nil {
		t.Fatal("empty name accepted")
	}
	if _, err := Create("a/b", cfg); err == nil {
		t.Fatal("name with separator accepted")
	}
}

func TestCreateDuplicateName(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Capacity = 64
	cfg.Dir = t.TempDir()

	name := testName()
	c, err := Create(name, cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Dispose()

	if _, err := Create(name, cfg); err == nil {
		t.Fatal("duplicate create accepted")
	}
}

func TestOpenAttachesToExistingSegments(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Capacity = 64
	cfg.Dir = t.TempDir()

	name := testName()
	creator, err := Create(name, cfg)
	if err != nil {
		t.Fatal(err)
	}

	peer, err := Open(name, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if peer.Capacity() != 64 {
		t.Fatalf("peer capacity = %d, want 64", peer.Capacity())
	}

	want := pattern(24, 0x77)
	if err := creator.SendBytes(want); err != nil {
		t.Fatal(err)
	}
	got, err := peer.ReceiveBytes(true)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(want) {
		t.Fatalf("cross-mapping receive mismatch: got %x want %x", got, want)
	}

	creator.Dispose()
}

func TestMemfdChannel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Capacity = 128
	cfg.MemMapType = MemMapTypeMemFd

	c, err := Create(testName(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Dispose()

	if c.MetaFd() < 0 || c.RingFd() < 0 {
		t.Fatalf("memfd channel without descriptors: meta=%d ring=%d", c.MetaFd(), c.RingFd())
	}

	want := pattern(33, 0x88)
	if err := c.SendBytes(want); err != nil {
		t.Fatal(err)
	}
	got, err := c.ReceiveBytes(true)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(want) {
		t.Fatalf("memfd roundtrip mismatch")
	}
}

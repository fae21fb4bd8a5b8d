//go:build linux

package dispatch

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/procpipe/shmchan/pkg/channel"
)

func testPair(t *testing.T, capacity uint64) *channel.Pair {
	t.Helper()
	cfg := channel.DefaultConfig()
	cfg.Capacity = capacity
	cfg.Dir = t.TempDir()
	pair, err := channel.CreatePair(fmt.Sprintf("dispatch-%s-%d", t.Name(), time.Now().UnixNano()), cfg)
	require.NoError(t, err)
	t.Cleanup(pair.Dispose)
	return pair
}

func TestDispatcherFansOut(t *testing.T) {
	pair := testPair(t, 4096)
	sendA, _ := pair.SideA()
	_, recvB := pair.SideB()

	var mu sync.Mutex
	got := make(map[string]bool)
	var wg sync.WaitGroup

	const n = 50
	wg.Add(n)
	d, err := NewDispatcher(recvB, 4, func(msg []byte) {
		mu.Lock()
		got[string(msg)] = true
		mu.Unlock()
		wg.Done()
	})
	require.NoError(t, err)
	d.Start()

	for i := 0; i < n; i++ {
		require.NoError(t, sendA.SendBytes([]byte(fmt.Sprintf("msg-%03d", i))))
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher did not deliver all messages")
	}

	require.NoError(t, d.Close())

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, got, n)
	for i := 0; i < n; i++ {
		assert.True(t, got[fmt.Sprintf("msg-%03d", i)], "missing msg-%03d", i)
	}
}

func TestDispatcherCloseUnblocksReceive(t *testing.T) {
	pair := testPair(t, 256)
	_, recvB := pair.SideB()

	d, err := NewDispatcher(recvB, 1, func([]byte) {})
	require.NoError(t, err)
	d.Start()

	closed := make(chan error, 1)
	go func() { closed <- d.Close() }()

	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not unblock the receive loop")
	}
}

func TestDispatcherNilHandler(t *testing.T) {
	pair := testPair(t, 256)
	_, recvB := pair.SideB()
	_, err := NewDispatcher(recvB, 1, nil)
	assert.Error(t, err)
}

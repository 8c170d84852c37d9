package p2p

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingTable_FulfillDeliversOnce(t *testing.T) {
	p := newPendingTable()

	ch := p.register("req-1", time.Minute)
	require.NotNil(t, ch)
	assert.Equal(t, 1, p.len())

	resp := &RPC{ID: "req-1", Kind: KindResponse}
	assert.True(t, p.fulfill("req-1", resp))
	assert.False(t, p.fulfill("req-1", resp), "second delivery must be rejected")
	assert.Equal(t, 0, p.len())

	got, ok := <-ch
	require.True(t, ok)
	assert.Same(t, resp, got)

	_, ok = <-ch
	assert.False(t, ok, "channel is closed after the single delivery")
}

func TestPendingTable_TimeoutDeliversNil(t *testing.T) {
	p := newPendingTable()

	var timeouts atomic.Int32
	p.onTimeout = func(string) { timeouts.Add(1) }

	ch := p.register("req-2", 20*time.Millisecond)
	require.NotNil(t, ch)

	select {
	case got := <-ch:
		assert.Nil(t, got)
	case <-time.After(time.Second):
		t.Fatal("timeout never fired")
	}

	assert.Equal(t, 0, p.len())
	assert.Equal(t, int32(1), timeouts.Load())
	assert.False(t, p.fulfill("req-2", &RPC{}), "late response is discarded")
}

func TestPendingTable_DuplicateRegister(t *testing.T) {
	p := newPendingTable()

	require.NotNil(t, p.register("dup", time.Minute))
	assert.Nil(t, p.register("dup", time.Minute))
	p.cancel("dup")
	assert.Equal(t, 0, p.len())
}

func TestPendingTable_RaceBetweenResponseAndTimeout(t *testing.T) {
	p := newPendingTable()

	const n = 200
	ids := make([]string, n)
	chans := make([]<-chan *RPC, n)
	for i := 0; i < n; i++ {
		ids[i] = fmt.Sprintf("req-%d", i)
		chans[i] = p.register(ids[i], time.Millisecond)
	}

	// Responses race the 1ms timers; every channel must get exactly one value.
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			time.Sleep(time.Duration(i%3) * time.Millisecond)
			p.fulfill(ids[i], &RPC{ID: ids[i], Kind: KindResponse})
		}(i)
		go func(i int) {
			defer wg.Done()
			got := 0
			for range chans[i] {
				got++
			}
			assert.Equal(t, 1, got)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, p.len())
}

func TestPendingTable_FailAll(t *testing.T) {
	p := newPendingTable()

	a := p.register("a", time.Minute)
	b := p.register("b", time.Minute)

	assert.Equal(t, 2, p.failAll())
	assert.Nil(t, <-a)
	assert.Nil(t, <-b)
	assert.Equal(t, 0, p.len())
}

package p2p

import (
	"sync"
	"time"
)

// pendingCall is one in-flight request: a single-slot delivery channel and
// the timer that fails it.
type pendingCall struct {
	ch    chan *RPC
	timer *time.Timer
}

// pendingTable maps request IDs to waiting callers. Every entry is
// completed exactly once, either by a response or by its timeout, and is
// removed in the same critical section that claims it.
type pendingTable struct {
	mu      sync.Mutex
	entries map[string]*pendingCall

	// onTimeout is called after a timer claims an entry.
	onTimeout func(id string)
}

func newPendingTable() *pendingTable {
	return &pendingTable{
		entries: make(map[string]*pendingCall),
	}
}

// register adds id and arms its timeout. Registering an id that is
// already pending replaces nothing and returns nil.
func (p *pendingTable) register(id string, timeout time.Duration) <-chan *RPC {
	call := &pendingCall{ch: make(chan *RPC, 1)}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.entries[id]; exists {
		return nil
	}
	p.entries[id] = call
	call.timer = time.AfterFunc(timeout, func() {
		if p.fulfill(id, nil) && p.onTimeout != nil {
			p.onTimeout(id)
		}
	})
	return call.ch
}

// take removes and returns the entry for id.
func (p *pendingTable) take(id string) *pendingCall {
	p.mu.Lock()
	defer p.mu.Unlock()

	call, ok := p.entries[id]
	if !ok {
		return nil
	}
	delete(p.entries, id)
	return call
}

// fulfill claims the entry for id and delivers rpc (nil on timeout).
// Returns false if the entry was already claimed.
func (p *pendingTable) fulfill(id string, rpc *RPC) bool {
	call := p.take(id)
	if call == nil {
		return false
	}
	call.timer.Stop()
	call.ch <- rpc
	close(call.ch)
	return true
}

// cancel drops id without delivering anything. Used when the send fails.
func (p *pendingTable) cancel(id string) {
	if call := p.take(id); call != nil {
		call.timer.Stop()
		close(call.ch)
	}
}

// failAll completes every pending entry with nil and returns how many
// there were.
func (p *pendingTable) failAll() int {
	p.mu.Lock()
	ids := make([]string, 0, len(p.entries))
	for id := range p.entries {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	n := 0
	for _, id := range ids {
		if p.fulfill(id, nil) {
			n++
		}
	}
	return n
}

func (p *pendingTable) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.entries)
}

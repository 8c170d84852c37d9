package dht

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kunal-geeks/kadnode/internal/p2p"
	"github.com/kunal-geeks/kadnode/internal/storage"
)

// ErrTimeout is returned by outbound operations when the peer did not
// answer within the transport's request timeout. The peer has already
// been removed from the routing table when this is returned.
var ErrTimeout = errors.New("dht: peer did not respond")

// NodeOpts configures a Node.
type NodeOpts struct {
	// Transport must already be listening; the node's Location is
	// derived from Transport.Addr().
	Transport p2p.Transport

	// Store holds the node's key/value pairs. Defaults to a MemStore.
	Store storage.KVStore

	// Bootstrap, if set, seeds the empty routing table.
	Bootstrap *Location

	Logger *zap.Logger

	// StaleRounds stops a lookup after this many rounds without finding
	// a closer peer. Zero drains the frontier completely.
	StaleRounds int
}

// Node is a DHT peer. It owns a routing table, a local store and a
// transport; it answers inbound requests and issues outbound ones.
type Node struct {
	loc         Location
	rt          *RoutingTable
	transport   p2p.Transport
	store       storage.KVStore
	logger      *zap.Logger
	staleRounds int

	// lookupBudget bounds the lookup behind an inbound FIND_NODE or
	// FIND_VALUE so the reply reaches the requester before it gives up.
	lookupBudget time.Duration

	handlers  sync.WaitGroup
	startOnce sync.Once
	closed    atomic.Bool
	done      chan struct{}
}

// NewNode creates a Node on top of a listening transport.
func NewNode(opts NodeOpts) (*Node, error) {
	if opts.Transport == nil {
		return nil, fmt.Errorf("NewNode: no transport configured")
	}

	loc, err := ParseLocation(opts.Transport.Addr())
	if err != nil {
		return nil, fmt.Errorf("NewNode: transport address: %w", err)
	}

	store := opts.Store
	if store == nil {
		store = storage.NewMemStore()
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("dht").With(zap.Stringer("node", loc))

	timeout := opts.Transport.Timeout()
	if timeout <= 0 {
		timeout = p2p.DefaultRequestTimeout
	}

	n := &Node{
		loc:          loc,
		rt:           NewRoutingTable(loc.ID, logger),
		transport:    opts.Transport,
		store:        store,
		logger:       logger,
		staleRounds:  opts.StaleRounds,
		lookupBudget: timeout / 2,
		done:         make(chan struct{}),
	}

	if opts.Bootstrap != nil {
		n.rt.Insert(*opts.Bootstrap)
		logger.Info("seeded routing table", zap.Stringer("bootstrap", *opts.Bootstrap))
	}

	return n, nil
}

// Start launches the handler loop that answers inbound requests.
func (n *Node) Start() {
	n.startOnce.Do(func() {
		go n.serve()
	})
}

// Close shuts the transport down and waits for in-flight handlers.
func (n *Node) Close() error {
	n.closed.Store(true)
	err := n.transport.Close()
	// A node that never started has no loop to wait for.
	n.startOnce.Do(func() { close(n.done) })
	<-n.done
	n.handlers.Wait()
	return err
}

// Location returns the node's own peer descriptor.
func (n *Node) Location() Location {
	return n.loc
}

// ID returns the node's ID.
func (n *Node) ID() ID {
	return n.loc.ID
}

// RoutingTable returns the node's routing table (for tests/inspection).
func (n *Node) RoutingTable() *RoutingTable {
	return n.rt
}

// LocalStore returns the node's local key/value store.
func (n *Node) LocalStore() storage.KVStore {
	return n.store
}

// serve consumes inbound requests until the transport closes its channel.
// The transport never calls into the node; this loop is the only link.
func (n *Node) serve() {
	defer close(n.done)

	for rpc := range n.transport.Consume() {
		n.handlers.Add(1)
		go func(rpc p2p.RPC) {
			defer n.handlers.Done()
			n.handleRPC(rpc)
		}(rpc)
	}
}

// call sends req to peer and waits for its response. A timeout evicts
// the peer from the routing table; any answer refreshes it. Requests cut
// short by Close fail with p2p.ErrClosed and leave the table alone.
func (n *Node) call(peer Location, req *Message) (*Message, error) {
	rpc, err := req.ToRPC()
	if err != nil {
		return nil, fmt.Errorf("%s to %s: %w", req.Type, peer, err)
	}

	ch, err := n.transport.Request(peer.Addr(), rpc)
	if err != nil {
		return nil, fmt.Errorf("%s to %s: %w", req.Type, peer, err)
	}

	raw := <-ch
	if raw == nil {
		if n.closed.Load() {
			return nil, fmt.Errorf("%s to %s: %w", req.Type, peer, p2p.ErrClosed)
		}
		n.rt.Remove(peer.ID)
		n.logger.Debug("peer timed out",
			zap.String("type", string(req.Type)), zap.Stringer("peer", peer))
		return nil, fmt.Errorf("%s to %s: %w", req.Type, peer, ErrTimeout)
	}

	resp, err := MessageFromRPC(*raw)
	if err != nil {
		return nil, fmt.Errorf("%s to %s: %w", req.Type, peer, err)
	}

	want, _ := ExpectedResponse(req.Type)
	if resp.Type != want {
		return nil, fmt.Errorf("%s to %s: got %s: %w", req.Type, peer, resp.Type, ErrUnexpectedResponse)
	}

	n.rt.Insert(peer)

	if resp.Error != "" {
		return resp, fmt.Errorf("%s to %s: remote error: %s", req.Type, peer, resp.Error)
	}
	return resp, nil
}

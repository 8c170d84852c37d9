package dht

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kunal-geeks/kadnode/internal/p2p"
)

// startUDPNode runs a node on a real loopback socket.
func startUDPNode(t *testing.T, bootstrap *Location) *Node {
	t.Helper()

	tr := p2p.NewUDPTransport(p2p.UDPTransportOpts{
		ListenAddr:     "127.0.0.1:0",
		RequestTimeout: 300 * time.Millisecond,
	})
	require.NoError(t, tr.ListenAndAccept())

	n, err := NewNode(NodeOpts{Transport: tr, Bootstrap: bootstrap})
	require.NoError(t, err)
	n.Start()
	t.Cleanup(func() { _ = n.Close() })
	return n
}

func TestIntegration_JoinThenFindNode(t *testing.T) {
	a := startUDPNode(t, nil)
	aLoc := a.Location()
	b := startUDPNode(t, &aLoc)
	c := startUDPNode(t, &aLoc)

	require.NoError(t, b.Join(aLoc))
	require.NoError(t, c.Join(aLoc))

	assert.True(t, a.RoutingTable().Contains(b.ID()))
	assert.True(t, a.RoutingTable().Contains(c.ID()))

	nodes, err := c.FindNode(b.ID(), aLoc)
	require.NoError(t, err)
	assert.Contains(t, nodes, b.Location(), "A should route C to B")
	assert.NotContains(t, nodes, c.Location(), "the requester is never returned")

	found := c.Lookup(b.ID())
	assert.Contains(t, found, b.Location())
	assert.True(t, c.RoutingTable().Contains(b.ID()), "replying peers are recorded")
}

func TestIntegration_StoreAndFindValue(t *testing.T) {
	a := startUDPNode(t, nil)
	aLoc := a.Location()
	b := startUDPNode(t, &aLoc)
	require.NoError(t, b.Join(aLoc))

	require.NoError(t, b.Store("fruit", "mango", aLoc))

	res, err := b.FindValue("fruit", aLoc)
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.Equal(t, "mango", res.Value)

	res, err = b.FindValue("vegetable", aLoc)
	require.NoError(t, err)
	assert.False(t, res.Found)
	assert.Empty(t, res.Value)

	// A knows only B, and never returns the requester.
	c := startUDPNode(t, &aLoc)
	require.NoError(t, c.Join(aLoc))
	res, err = c.FindValue("vegetable", aLoc)
	require.NoError(t, err)
	assert.False(t, res.Found)
	assert.Contains(t, res.Nodes, b.Location())
}

func TestIntegration_PutGet(t *testing.T) {
	a := startUDPNode(t, nil)
	aLoc := a.Location()

	var peers []*Node
	for i := 0; i < 4; i++ {
		n := startUDPNode(t, &aLoc)
		require.NoError(t, n.Join(aLoc))
		peers = append(peers, n)
	}

	acked, err := peers[0].Put("planet", "neptune")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, acked, 1)

	v, ok := peers[3].Get("planet")
	require.True(t, ok)
	assert.Equal(t, "neptune", v)

	_, ok = peers[3].Get("no-such-planet")
	assert.False(t, ok)
}

func TestIntegration_TimeoutEvictsDeadPeer(t *testing.T) {
	a := startUDPNode(t, nil)
	b := startUDPNode(t, nil)
	bLoc := b.Location()

	require.NoError(t, a.Ping(bLoc))
	require.True(t, a.RoutingTable().Contains(bLoc.ID))

	require.NoError(t, b.Close())

	err := a.Ping(bLoc)
	require.ErrorIs(t, err, ErrTimeout)
	assert.False(t, a.RoutingTable().Contains(bLoc.ID))
}

// silentPeer binds a UDP socket that never answers, standing in for a
// crashed node that is still in someone's routing table.
func silentPeer(t *testing.T) Location {
	t.Helper()

	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	loc, err := ParseLocation(conn.LocalAddr().String())
	require.NoError(t, err)
	return loc
}

func TestIntegration_DeadPeerDoesNotStallReplies(t *testing.T) {
	a := startUDPNode(t, nil)
	aLoc := a.Location()
	b := startUDPNode(t, &aLoc)
	require.NoError(t, b.Join(aLoc))
	c := startUDPNode(t, &aLoc)
	require.NoError(t, c.Join(aLoc))

	t.Run("find_value", func(t *testing.T) {
		a.RoutingTable().Insert(silentPeer(t))

		res, err := c.FindValue("missing", aLoc)
		require.NoError(t, err)
		assert.False(t, res.Found)
		assert.Contains(t, res.Nodes, b.Location())
		assert.True(t, c.RoutingTable().Contains(aLoc.ID), "A answered and must stay routable")
	})

	t.Run("find_node", func(t *testing.T) {
		a.RoutingTable().Insert(silentPeer(t))

		nodes, err := c.FindNode(b.ID(), aLoc)
		require.NoError(t, err)
		assert.Contains(t, nodes, b.Location())
		assert.True(t, c.RoutingTable().Contains(aLoc.ID))
	})
}

func TestIntegration_ValuesSurviveTheWireExactly(t *testing.T) {
	a := startUDPNode(t, nil)
	aLoc := a.Location()
	b := startUDPNode(t, &aLoc)

	want := "caf\u00e9 \u2603 \U0001F30D"
	require.NoError(t, b.Store("greeting", want, aLoc))
	res, err := b.FindValue("greeting", aLoc)
	require.NoError(t, err)
	require.True(t, res.Found)
	assert.Equal(t, want, res.Value)

	err = b.Store("raw", "\xff\xfe", aLoc)
	require.ErrorIs(t, err, ErrInvalidUTF8)
	_, ok := a.LocalStore().Get("raw")
	assert.False(t, ok, "a value that cannot be carried intact is never stored")
}

package dht

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoutingTable_InsertAndBucketIndex(t *testing.T) {
	self := MustRandomID()
	rt := NewRoutingTable(self, nil)

	peer := testLocation(MustRandomID(), 9001)
	require.True(t, rt.Insert(peer))

	idx := BucketIndex(self, peer.ID)
	assert.Equal(t, 1, rt.BucketLen(idx))
	assert.True(t, rt.Contains(peer.ID))
	assert.Equal(t, 1, rt.Len())
}

func TestRoutingTable_DoesNotStoreSelf(t *testing.T) {
	self := MustRandomID()
	rt := NewRoutingTable(self, nil)

	assert.False(t, rt.Insert(testLocation(self, 9000)))
	assert.Equal(t, 0, rt.Len())
}

func TestRoutingTable_BucketCapacityDropsNewcomers(t *testing.T) {
	self := MustRandomID()
	rt := NewRoutingTable(self, nil)

	const bucketIdx = 3
	var inserted []Location
	for i := 0; i < K+5; i++ {
		p := testLocation(idInBucket(self, bucketIdx, i), uint16(9000+i))
		require.Equal(t, bucketIdx, BucketIndex(self, p.ID))
		ok := rt.Insert(p)
		if i < K {
			assert.True(t, ok, "peer %d should fit", i)
			inserted = append(inserted, p)
		} else {
			assert.False(t, ok, "peer %d should be dropped", i)
		}
	}

	assert.Equal(t, K, rt.BucketLen(bucketIdx))

	snap := rt.Snapshot()[bucketIdx]
	seen := make(map[ID]bool)
	for _, p := range snap {
		assert.False(t, seen[p.ID], "duplicate peer in bucket")
		seen[p.ID] = true
	}
	for _, p := range inserted {
		assert.True(t, seen[p.ID], "first K peers must be kept")
	}
}

func TestRoutingTable_ReinsertRefreshesPosition(t *testing.T) {
	self := MustRandomID()
	rt := NewRoutingTable(self, nil)

	const bucketIdx = 10
	var peers []Location
	for i := 0; i < 5; i++ {
		p := testLocation(idInBucket(self, bucketIdx, i), uint16(9100+i))
		peers = append(peers, p)
		rt.Insert(p)
	}

	require.True(t, rt.Insert(peers[0]))

	snap := rt.Snapshot()[bucketIdx]
	require.Len(t, snap, 5, "re-insert must not duplicate")
	assert.Equal(t, peers[0].ID, snap[len(snap)-1].ID, "re-inserted peer should move to the end")
	assert.Equal(t, peers[1].ID, snap[0].ID)
}

func TestRoutingTable_ReinsertWhenFullIsKept(t *testing.T) {
	self := MustRandomID()
	rt := NewRoutingTable(self, nil)

	const bucketIdx = 0
	var first Location
	for i := 0; i < K; i++ {
		p := testLocation(idInBucket(self, bucketIdx, i), uint16(9200+i))
		if i == 0 {
			first = p
		}
		rt.Insert(p)
	}

	assert.True(t, rt.Insert(first), "known peer is refreshed even when the bucket is full")
	assert.Equal(t, K, rt.BucketLen(bucketIdx))
}

func TestRoutingTable_Remove(t *testing.T) {
	self := MustRandomID()
	rt := NewRoutingTable(self, nil)

	p := testLocation(MustRandomID(), 9300)
	rt.Insert(p)
	require.True(t, rt.Contains(p.ID))

	rt.Remove(p.ID)
	assert.False(t, rt.Contains(p.ID))
	assert.Equal(t, 0, rt.Len())

	// Removing an unknown peer is a no-op.
	rt.Remove(MustRandomID())
	assert.Equal(t, 0, rt.Len())
}

func TestRoutingTable_NearestNodesSorted(t *testing.T) {
	self := MustRandomID()
	rt := NewRoutingTable(self, nil)

	for i := 0; i < 10; i++ {
		rt.Insert(testLocation(MustRandomID(), uint16(9400+i)))
	}

	target := MustRandomID()
	closest := rt.NearestNodes(target)
	require.Len(t, closest, 10)

	for i := 1; i < len(closest); i++ {
		prev := Distance(target, closest[i-1].ID)
		curr := Distance(target, closest[i].ID)
		assert.True(t, prev.Less(curr), "closest peers not sorted by distance")
	}
}

func TestRoutingTable_NearestNodesMatchesBruteForce(t *testing.T) {
	self := MustRandomID()
	rt := NewRoutingTable(self, nil)

	var all []Location
	// Spread peers over a handful of buckets, several full.
	for b := 0; b < 6; b++ {
		for i := 0; i < K; i++ {
			p := testLocation(idInBucket(self, b, i), uint16(10000+b*100+i))
			if rt.Insert(p) {
				all = append(all, p)
			}
		}
	}
	for i := 0; i < 40; i++ {
		p := testLocation(MustRandomID(), uint16(12000+i))
		if rt.Insert(p) {
			all = append(all, p)
		}
	}
	require.Greater(t, len(all), K)

	for trial := 0; trial < 20; trial++ {
		target := MustRandomID()
		if trial%4 == 0 {
			target = all[trial].ID
		}

		want := append([]Location(nil), all...)
		SortByDistance(want, target)
		want = want[:K]

		got := rt.NearestNodes(target)
		require.Len(t, got, K)
		assert.Equal(t, want, got, "trial %d", trial)
	}
}

func TestRoutingTable_NearestNodesEmpty(t *testing.T) {
	rt := NewRoutingTable(MustRandomID(), nil)
	assert.Empty(t, rt.NearestNodes(MustRandomID()))
}

func TestSortByDistanceTieBreaksByID(t *testing.T) {
	target := MustRandomID()
	a := testLocation(MustRandomID(), 1)
	b := a
	b.Port = 2

	peers := []Location{b, a}
	SortByDistance(peers, target)
	assert.Equal(t, []Location{b, a}, peers, "equal IDs keep their relative order")

	peers = []Location{testLocation(target, 3), a}
	SortByDistance(peers, target)
	assert.Equal(t, target, peers[0].ID)
}

func ExampleBucketIndex() {
	var self, other ID
	other[0] = 0x04
	fmt.Println(BucketIndex(self, other))
	// Output: 5
}

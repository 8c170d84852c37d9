package dht

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// bucket holds up to K peers ordered from least to most recently seen.
type bucket struct {
	peers []Location
}

// indexOf returns the position of id in the bucket or -1.
func (b *bucket) indexOf(id ID) int {
	for i, p := range b.peers {
		if p.ID.Equals(id) {
			return i
		}
	}
	return -1
}

// touch moves an existing peer to the most-recently-seen end, replacing
// the stored copy with peer. Returns false if the peer is not present.
func (b *bucket) touch(peer Location) bool {
	i := b.indexOf(peer.ID)
	if i < 0 {
		return false
	}
	b.peers = append(b.peers[:i], b.peers[i+1:]...)
	b.peers = append(b.peers, peer)
	return true
}

// add appends a new peer if there is room. Full buckets drop the newcomer.
func (b *bucket) add(peer Location) bool {
	if len(b.peers) >= K {
		return false
	}
	b.peers = append(b.peers, peer)
	return true
}

func (b *bucket) remove(id ID) bool {
	i := b.indexOf(id)
	if i < 0 {
		return false
	}
	b.peers = append(b.peers[:i], b.peers[i+1:]...)
	return true
}

// all returns a copy of all peers in this bucket.
func (b *bucket) all() []Location {
	out := make([]Location, len(b.peers))
	copy(out, b.peers)
	return out
}

// RoutingTable is a Kademlia routing table for a single node.
// It maintains IDBits buckets, each bucket storing up to K peers whose
// bucket index relative to the local ID equals the bucket's position.
type RoutingTable struct {
	self    ID
	buckets [IDBits]*bucket
	mu      sync.RWMutex
	logger  *zap.Logger
}

// NewRoutingTable initializes an empty routing table for the given local ID.
func NewRoutingTable(self ID, logger *zap.Logger) *RoutingTable {
	if logger == nil {
		logger = zap.NewNop()
	}
	rt := &RoutingTable{
		self:   self,
		logger: logger,
	}
	for i := 0; i < IDBits; i++ {
		rt.buckets[i] = &bucket{}
	}
	return rt
}

// Self returns the local ID the table is organised around.
func (rt *RoutingTable) Self() ID {
	return rt.self
}

// Insert adds or refreshes a peer. A known peer moves to the
// most-recently-seen end of its bucket; an unknown peer is appended while
// the bucket has room and dropped otherwise. The local node is never
// stored. Reports whether the peer is in the table afterwards.
func (rt *RoutingTable) Insert(peer Location) bool {
	if rt.self.Equals(peer.ID) {
		return false
	}

	idx := BucketIndex(rt.self, peer.ID)

	rt.mu.Lock()
	defer rt.mu.Unlock()

	b := rt.buckets[idx]
	if b.touch(peer) {
		rt.logger.Debug("refreshed peer",
			zap.Stringer("peer", peer), zap.Int("bucket", idx))
		return true
	}

	if !b.add(peer) {
		rt.logger.Debug("bucket full, dropping peer",
			zap.Stringer("peer", peer), zap.Int("bucket", idx))
		return false
	}

	rt.logger.Debug("added peer",
		zap.Stringer("peer", peer), zap.Int("bucket", idx), zap.Int("size", len(b.peers)))
	return true
}

// Remove deletes the peer with the given ID if present.
func (rt *RoutingTable) Remove(id ID) {
	idx := BucketIndex(rt.self, id)

	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.buckets[idx].remove(id) {
		rt.logger.Debug("removed peer", zap.String("id", id.Short()), zap.Int("bucket", idx))
	}
}

// Contains reports whether a peer with the given ID is in the table.
func (rt *RoutingTable) Contains(id ID) bool {
	idx := BucketIndex(rt.self, id)

	rt.mu.RLock()
	defer rt.mu.RUnlock()

	return rt.buckets[idx].indexOf(id) >= 0
}

// Len returns the number of peers across all buckets.
func (rt *RoutingTable) Len() int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	n := 0
	for _, b := range rt.buckets {
		n += len(b.peers)
	}
	return n
}

// BucketLen returns the number of peers in bucket i.
func (rt *RoutingTable) BucketLen(i int) int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	return len(rt.buckets[i].peers)
}

// Snapshot returns a copy of every bucket, indexed by bucket position.
func (rt *RoutingTable) Snapshot() [][]Location {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	out := make([][]Location, IDBits)
	for i, b := range rt.buckets {
		out[i] = b.all()
	}
	return out
}

// NearestNodes returns up to K peers closest to target by XOR distance.
//
// Peers in the target's home bucket are closest, then every bucket above
// it (they all differ from the target first at the home bit), then the
// buckets below it in decreasing order. Gathering stops once K peers are
// collected at a tier boundary, then the result is sorted by true distance.
func (rt *RoutingTable) NearestNodes(target ID) []Location {
	home := BucketIndex(rt.self, target)

	rt.mu.RLock()
	out := rt.buckets[home].all()
	if len(out) < K {
		for i := home + 1; i < IDBits; i++ {
			out = append(out, rt.buckets[i].peers...)
		}
	}
	for i := home - 1; i >= 0 && len(out) < K; i-- {
		out = append(out, rt.buckets[i].peers...)
	}
	rt.mu.RUnlock()

	SortByDistance(out, target)
	if len(out) > K {
		out = out[:K]
	}
	return out
}

// SortByDistance orders peers by ascending XOR distance to target,
// breaking ties by ID.
func SortByDistance(peers []Location, target ID) {
	sort.SliceStable(peers, func(i, j int) bool {
		di := Distance(target, peers[i].ID)
		dj := Distance(target, peers[j].ID)
		if di != dj {
			return di.Less(dj)
		}
		return peers[i].ID.Less(peers[j].ID)
	})
}

package dht

import (
	"errors"
	"fmt"
	"sync/atomic"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrInvalidUTF8 is returned for keys or values that are not valid UTF-8.
// The wire format is JSON, which would silently rewrite such bytes.
var ErrInvalidUTF8 = errors.New("dht: key and value must be valid UTF-8")

// Ping checks that peer is alive.
func (n *Node) Ping(peer Location) error {
	_, err := n.call(peer, NewRequest(MsgPing, n.loc, peer))
	return err
}

// Store asks peer to keep key=value.
func (n *Node) Store(key, value string, peer Location) error {
	if err := checkText(key, value); err != nil {
		return fmt.Errorf("Store: %w", err)
	}

	req := NewRequest(MsgStore, n.loc, peer)
	req.Key = key
	req.Value = &value

	_, err := n.call(peer, req)
	return err
}

// FindNode asks peer for the peers closest to target. The peer runs a
// lookup of its own before answering.
func (n *Node) FindNode(target ID, peer Location) ([]Location, error) {
	return n.findNode(target, peer, false)
}

func (n *Node) findNode(target ID, peer Location, localOnly bool) ([]Location, error) {
	req := NewRequest(MsgFindNode, n.loc, peer)
	req.Target = &target
	req.LocalOnly = localOnly

	resp, err := n.call(peer, req)
	if err != nil {
		return nil, err
	}
	return withoutSelf(resp.Nodes, n.loc.ID), nil
}

// FindValue asks peer for key. If the peer does not hold it, the result
// lists the peers it found closest to the key instead.
func (n *Node) FindValue(key string, peer Location) (FindValueResult, error) {
	if err := checkText(key, ""); err != nil {
		return FindValueResult{}, fmt.Errorf("FindValue: %w", err)
	}

	req := NewRequest(MsgFindValue, n.loc, peer)
	req.Key = key

	resp, err := n.call(peer, req)
	if err != nil {
		return FindValueResult{}, err
	}

	res := resp.findValueResult()
	res.Nodes = withoutSelf(res.Nodes, n.loc.ID)
	return res, nil
}

// Join announces this node to peer, which adds it to its routing table.
func (n *Node) Join(peer Location) error {
	_, err := n.call(peer, NewRequest(MsgJoin, n.loc, peer))
	if err != nil {
		return err
	}
	n.logger.Info("joined network", zap.Stringer("via", peer))
	return nil
}

// Put stores key=value locally and on every peer a lookup for the key
// returns. It reports how many remote peers acknowledged the store.
func (n *Node) Put(key, value string) (int, error) {
	if err := checkText(key, value); err != nil {
		return 0, fmt.Errorf("Put: %w", err)
	}
	if err := n.store.Put(key, value); err != nil {
		return 0, fmt.Errorf("Put: local store: %w", err)
	}

	peers := n.Lookup(NewID(key))

	var (
		g     errgroup.Group
		acked atomic.Int32
	)
	g.SetLimit(Alpha)
	for _, peer := range peers {
		g.Go(func() error {
			if err := n.Store(key, value, peer); err != nil {
				n.logger.Debug("remote store failed",
					zap.String("key", key), zap.Stringer("peer", peer), zap.Error(err))
				return nil
			}
			acked.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	n.logger.Debug("put complete",
		zap.String("key", key), zap.Int("peers", len(peers)), zap.Int32("acked", acked.Load()))
	return int(acked.Load()), nil
}

// Get returns the value stored under key, checking the local store first
// and then asking the peers closest to the key, nearest first. found is
// false if no reachable peer holds the key.
func (n *Node) Get(key string) (value string, found bool) {
	if v, ok := n.store.Get(key); ok {
		return v, true
	}
	if !utf8.ValidString(key) {
		return "", false
	}

	keyID := NewID(key)
	peers := n.Lookup(keyID)
	SortByDistance(peers, keyID)

	for _, peer := range peers {
		res, err := n.FindValue(key, peer)
		if err != nil {
			n.logger.Debug("find_value failed", zap.Stringer("peer", peer), zap.Error(err))
			continue
		}
		if res.Found {
			return res.Value, true
		}
	}

	return "", false
}

func checkText(key, value string) error {
	if !utf8.ValidString(key) || !utf8.ValidString(value) {
		return ErrInvalidUTF8
	}
	return nil
}

// withoutSelf drops the local node from a peer list received over the
// wire; a node never routes to itself.
func withoutSelf(peers []Location, self ID) []Location {
	out := peers[:0]
	for _, p := range peers {
		if !p.ID.Equals(self) {
			out = append(out, p)
		}
	}
	return out
}

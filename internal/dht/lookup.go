package dht

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// lookupState is one iterative FIND_NODE lookup. The frontier holds
// peers learned but not yet queried, closest to the target first.
type lookupState struct {
	node   *Node
	target ID

	mu       sync.Mutex
	seen     map[ID]struct{} // queried, queued or excluded
	frontier []Location
	result   []Location
	best     *ID // smallest distance among repliers
}

// Lookup asks the network for the peers closest to target, starting from
// the local routing table. Peers are returned in the order they replied.
func (n *Node) Lookup(target ID) []Location {
	return n.lookup(context.Background(), target, nil)
}

// lookupFor runs the lookup behind an inbound request. It is cut off after
// lookupBudget, and whatever peers replied by then are returned.
func (n *Node) lookupFor(target ID, requester ID) []Location {
	ctx, cancel := context.WithTimeout(context.Background(), n.lookupBudget)
	defer cancel()
	return n.lookup(ctx, target, &requester)
}

// lookup runs the round loop. exclude, if set, is never queried; inbound
// FIND_NODE passes the requester so the lookup does not ask it back.
//
// Each round queries up to Alpha frontier peers concurrently and waits for
// all of them, or until ctx is done. Sub-queries carry LocalOnly, so the
// receivers answer from their tables and never start lookups of their own.
func (n *Node) lookup(ctx context.Context, target ID, exclude *ID) []Location {
	l := &lookupState{
		node:   n,
		target: target,
		seen:   map[ID]struct{}{n.loc.ID: {}},
	}
	if exclude != nil {
		l.seen[*exclude] = struct{}{}
	}
	l.enqueue(n.rt.NearestNodes(target))

	stale := 0
	for round := 1; ctx.Err() == nil; round++ {
		batch := l.next(Alpha)
		if len(batch) == 0 {
			break
		}

		n.logger.Debug("lookup round",
			zap.Stringer("target", target), zap.Int("round", round), zap.Int("queries", len(batch)))

		improved, err := l.query(ctx, batch)
		if err != nil {
			n.logger.Debug("lookup cut short",
				zap.Stringer("target", target), zap.Int("round", round), zap.Error(err))
			break
		}
		if improved {
			stale = 0
			continue
		}

		stale++
		if n.staleRounds > 0 && stale >= n.staleRounds {
			n.logger.Debug("lookup stopped without progress",
				zap.Stringer("target", target), zap.Int("rounds", round))
			break
		}
	}

	result := l.snapshot()
	n.logger.Debug("lookup finished",
		zap.Stringer("target", target), zap.Int("found", len(result)))
	return result
}

// query sends FIND_NODE to every peer in batch and folds the replies in.
// It reports whether a replier came closer to the target than any before.
// If ctx ends first, query returns its error and the outstanding queries
// keep folding into l in the background.
func (l *lookupState) query(ctx context.Context, batch []Location) (bool, error) {
	var (
		g        errgroup.Group
		improved bool
	)

	for _, peer := range batch {
		g.Go(func() error {
			nodes, err := l.node.findNode(l.target, peer, true)
			if err != nil {
				// A silent peer contributes nothing this lookup.
				l.node.logger.Debug("lookup query failed", zap.Stringer("peer", peer), zap.Error(err))
				return nil
			}

			l.mu.Lock()
			defer l.mu.Unlock()

			if len(l.result) < K {
				l.result = append(l.result, peer)
			}
			d := Distance(peer.ID, l.target)
			if l.best == nil || d.Less(*l.best) {
				l.best = &d
				improved = true
			}
			l.enqueueLocked(nodes)
			return nil
		})
	}

	waited := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(waited)
	}()

	select {
	case <-waited:
		return improved, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// snapshot copies the repliers gathered so far.
func (l *lookupState) snapshot() []Location {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Location(nil), l.result...)
}

// next pops up to n peers off the front of the frontier.
func (l *lookupState) next(n int) []Location {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n > len(l.frontier) {
		n = len(l.frontier)
	}
	batch := append([]Location(nil), l.frontier[:n]...)
	l.frontier = l.frontier[n:]
	return batch
}

func (l *lookupState) enqueue(peers []Location) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enqueueLocked(peers)
}

func (l *lookupState) enqueueLocked(peers []Location) {
	added := false
	for _, p := range peers {
		if _, ok := l.seen[p.ID]; ok {
			continue
		}
		l.seen[p.ID] = struct{}{}
		l.frontier = append(l.frontier, p)
		added = true
	}
	if added {
		SortByDistance(l.frontier, l.target)
	}
}

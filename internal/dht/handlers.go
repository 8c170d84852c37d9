package dht

import (
	"errors"

	"go.uber.org/zap"

	"github.com/kunal-geeks/kadnode/internal/p2p"
)

// handleRPC decodes one inbound request, answers it and records the
// requester in the routing table: a peer that contacts us is alive.
func (n *Node) handleRPC(rpc p2p.RPC) {
	req, err := MessageFromRPC(rpc)
	if err != nil {
		n.logger.Warn("dropping undecodable request", zap.String("from", rpc.From), zap.Error(err))
		return
	}

	if !req.Type.IsRequest() {
		n.logger.Warn("dropping non-request message",
			zap.String("type", string(req.Type)), zap.String("from", rpc.From))
		return
	}

	// A Location's ID is bound to its address; anything else is forged.
	if want := NewLocation(req.Source.Host, req.Source.Port).ID; !req.Source.ID.Equals(want) {
		n.logger.Warn("dropping request with mismatched source id",
			zap.Stringer("source", req.Source), zap.String("from", rpc.From))
		return
	}

	n.logger.Debug("received request",
		zap.String("type", string(req.Type)), zap.Stringer("from", req.Source))

	resp := n.handleRequest(req)
	n.rt.Insert(req.Source)
	n.reply(rpc.From, resp, replyTarget(req))
}

// replyTarget is the ID a response's node list is measured against.
func replyTarget(req *Message) ID {
	if req.Target != nil {
		return *req.Target
	}
	return NewID(req.Key)
}

// handleRequest maps a request onto exactly one response.
func (n *Node) handleRequest(req *Message) *Message {
	switch req.Type {
	case MsgPing:
		return n.handlePing(req)
	case MsgStore:
		return n.handleStore(req)
	case MsgFindNode:
		return n.handleFindNode(req)
	case MsgFindValue:
		return n.handleFindValue(req)
	case MsgJoin:
		return n.handleJoin(req)
	default:
		// IsRequest already filtered everything else.
		panic("dht: unhandled request type " + string(req.Type))
	}
}

func (n *Node) handlePing(req *Message) *Message {
	return NewResponse(req, MsgPong)
}

func (n *Node) handleStore(req *Message) *Message {
	resp := NewResponse(req, MsgStoreAck)
	if req.Value == nil {
		resp.Error = "store: missing value"
		return resp
	}
	if err := checkText(req.Key, *req.Value); err != nil {
		resp.Error = err.Error()
		return resp
	}
	if err := n.store.Put(req.Key, *req.Value); err != nil {
		resp.Error = err.Error()
		return resp
	}
	n.logger.Debug("stored value", zap.String("key", req.Key), zap.Stringer("from", req.Source))
	return resp
}

func (n *Node) handleFindNode(req *Message) *Message {
	resp := NewResponse(req, MsgNodes)
	if req.Target == nil {
		resp.Error = "find_node: missing target"
		return resp
	}

	if req.LocalOnly {
		resp.Nodes = n.nearestExcluding(*req.Target, req.Source.ID)
		return resp
	}

	resp.Nodes = n.lookupFor(*req.Target, req.Source.ID)
	return resp
}

func (n *Node) handleFindValue(req *Message) *Message {
	resp := NewResponse(req, MsgFindValueResult)

	if v, ok := n.store.Get(req.Key); ok {
		resp.Value = &v
		return resp
	}

	resp.Nodes = n.lookupFor(NewID(req.Key), req.Source.ID)
	return resp
}

func (n *Node) handleJoin(req *Message) *Message {
	n.rt.Insert(req.Source)
	n.logger.Info("peer joined", zap.Stringer("peer", req.Source))
	return NewResponse(req, MsgJoinAck)
}

// nearestExcluding answers a LocalOnly FIND_NODE from the routing table.
func (n *Node) nearestExcluding(target, exclude ID) []Location {
	nearest := n.rt.NearestNodes(target)
	out := nearest[:0]
	for _, p := range nearest {
		if !p.ID.Equals(exclude) {
			out = append(out, p)
		}
	}
	return out
}

// reply sends resp to addr. If the node list does not fit in a datagram,
// it is sorted by distance to target and the farthest entries are dropped
// until it does.
func (n *Node) reply(addr string, resp *Message, target ID) {
	sorted := false
	for {
		rpc, err := resp.ToRPC()
		if err == nil {
			err = n.transport.Send(addr, rpc)
		}
		if err == nil {
			return
		}

		if errors.Is(err, p2p.ErrMessageTooLarge) && len(resp.Nodes) > 0 {
			if !sorted {
				SortByDistance(resp.Nodes, target)
				sorted = true
			}
			resp.Nodes = resp.Nodes[:len(resp.Nodes)-1]
			continue
		}

		n.logger.Warn("failed to send response",
			zap.String("type", string(resp.Type)), zap.String("to", addr), zap.Error(err))
		return
	}
}

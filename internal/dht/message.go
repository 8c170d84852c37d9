package dht

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kunal-geeks/kadnode/internal/p2p"
)

// MessageType represents the type of a DHT message.
type MessageType string

const (
	// Requests.
	MsgPing      MessageType = "PING"
	MsgFindNode  MessageType = "FIND_NODE"
	MsgStore     MessageType = "STORE"
	MsgFindValue MessageType = "FIND_VALUE"
	MsgJoin      MessageType = "JOIN"

	// Responses.
	MsgPong            MessageType = "PONG"
	MsgNodes           MessageType = "NODES"
	MsgStoreAck        MessageType = "STORE_ACK"
	MsgFindValueResult MessageType = "FIND_VALUE_RESULT"
	MsgJoinAck         MessageType = "JOIN_ACK"

	// Control.
	MsgTerminate MessageType = "TERMINATE"
)

// ErrUnexpectedResponse means a peer answered a request with a response
// type that does not belong to it.
var ErrUnexpectedResponse = errors.New("dht: unexpected response type")

// expectedResponse pairs every request type with its only valid reply.
var expectedResponse = map[MessageType]MessageType{
	MsgPing:      MsgPong,
	MsgFindNode:  MsgNodes,
	MsgStore:     MsgStoreAck,
	MsgFindValue: MsgFindValueResult,
	MsgJoin:      MsgJoinAck,
}

// ExpectedResponse returns the response type a request of type t must be
// answered with, and false if t is not a request type.
func ExpectedResponse(t MessageType) (MessageType, bool) {
	r, ok := expectedResponse[t]
	return r, ok
}

// IsRequest reports whether t is one of the request types.
func (t MessageType) IsRequest() bool {
	_, ok := expectedResponse[t]
	return ok
}

// IsResponse reports whether t is one of the response types.
func (t MessageType) IsResponse() bool {
	switch t {
	case MsgPong, MsgNodes, MsgStoreAck, MsgFindValueResult, MsgJoinAck:
		return true
	default:
		return false
	}
}

// Message is the wire format for DHT messages.
// It is JSON-encoded into p2p.RPC.Payload; ID doubles as the RPC
// correlation ID.
type Message struct {
	ID          string      `json:"id"`
	Type        MessageType `json:"type"`
	Source      Location    `json:"src"`
	Destination Location    `json:"dst"`
	Timestamp   int64       `json:"ts"`

	// FIND_NODE
	Target *ID `json:"target,omitempty"`

	// LocalOnly asks the receiver of a FIND_NODE to answer from its own
	// routing table instead of running a lookup of its own.
	LocalOnly bool `json:"local_only,omitempty"`

	// STORE, FIND_VALUE
	Key string `json:"key,omitempty"`

	// STORE request value; on FIND_VALUE_RESULT a non-nil Value means
	// the key was found, otherwise Nodes holds the closest peers.
	Value *string `json:"value,omitempty"`

	// NODES, FIND_VALUE_RESULT
	Nodes []Location `json:"nodes,omitempty"`

	// Error for responses
	Error string `json:"error,omitempty"`
}

// NewRequest builds a request from src to dst with a fresh correlation ID
// derived from both endpoints and a random nonce.
func NewRequest(t MessageType, src, dst Location) *Message {
	seed := fmt.Sprintf("%s:%s:%s", src.ID, dst.ID, uuid.NewString())
	return &Message{
		ID:          NewID(seed).String(),
		Type:        t,
		Source:      src,
		Destination: dst,
		Timestamp:   time.Now().UnixMilli(),
	}
}

// NewResponse builds the reply to req: same ID, endpoints swapped.
func NewResponse(req *Message, t MessageType) *Message {
	return &Message{
		ID:          req.ID,
		Type:        t,
		Source:      req.Destination,
		Destination: req.Source,
		Timestamp:   time.Now().UnixMilli(),
	}
}

// Kind maps the message type onto the transport's routing kind.
func (m *Message) Kind() p2p.Kind {
	switch {
	case m.Type == MsgTerminate:
		return p2p.KindTerminate
	case m.Type.IsResponse():
		return p2p.KindResponse
	default:
		return p2p.KindRequest
	}
}

// Encode encodes the DHT message as JSON bytes.
func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// ToRPC wraps the message in a transport envelope.
func (m *Message) ToRPC() (p2p.RPC, error) {
	payload, err := m.Encode()
	if err != nil {
		return p2p.RPC{}, fmt.Errorf("ToRPC: encode: %w", err)
	}
	return p2p.RPC{
		ID:      m.ID,
		Kind:    m.Kind(),
		Payload: payload,
	}, nil
}

// DecodeMessage decodes JSON bytes into a DHT Message.
func DecodeMessage(b []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// MessageFromRPC decodes the envelope payload and checks that the
// envelope and the message agree on ID and kind.
func MessageFromRPC(rpc p2p.RPC) (*Message, error) {
	m, err := DecodeMessage(rpc.Payload)
	if err != nil {
		return nil, fmt.Errorf("MessageFromRPC: decode: %w", err)
	}
	if m.ID != rpc.ID {
		return nil, fmt.Errorf("MessageFromRPC: id mismatch %q != %q", m.ID, rpc.ID)
	}
	if m.Kind() != rpc.Kind {
		return nil, fmt.Errorf("MessageFromRPC: %s message in %s envelope", m.Type, rpc.Kind)
	}
	return m, nil
}

// FindValueResult is the outcome of a FIND_VALUE: either the value, or the
// peers closest to the key.
type FindValueResult struct {
	Value string
	Found bool
	Nodes []Location
}

func (m *Message) findValueResult() FindValueResult {
	if m.Value != nil {
		return FindValueResult{Value: *m.Value, Found: true}
	}
	return FindValueResult{Nodes: m.Nodes}
}

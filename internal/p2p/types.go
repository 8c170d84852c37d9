package p2p

import (
	"encoding/json"
	"errors"
	"time"
)

// ProtocolVersion is stamped on every outgoing RPC. Peers drop envelopes
// carrying any other version.
const ProtocolVersion = 1

// Kind tells the transport how to route an RPC: requests go up to the
// node, responses complete a pending request, terminate stops the loop.
type Kind string

const (
	KindRequest   Kind = "request"
	KindResponse  Kind = "response"
	KindTerminate Kind = "terminate"
)

var (
	// ErrMessageTooLarge is returned when an encoded RPC does not fit in
	// a single datagram.
	ErrMessageTooLarge = errors.New("p2p: message exceeds datagram size limit")

	// ErrBadVersion is returned when decoding an envelope from an
	// incompatible protocol version.
	ErrBadVersion = errors.New("p2p: unsupported protocol version")

	// ErrClosed is returned by operations on a closed transport.
	ErrClosed = errors.New("p2p: transport closed")
)

// Transport defines the behavior any datagram transport must implement.
// Higher-level components (like the DHT) interact with this interface,
// not with concrete UDP types.
type Transport interface {
	// Addr returns the local address this transport is bound to,
	// e.g. "127.0.0.1:9000".
	Addr() string

	// ListenAndAccept binds the local endpoint and starts the receive
	// loop in a goroutine.
	ListenAndAccept() error

	// Consume returns a receive-only channel of inbound requests.
	// Responses never appear here; they complete pending Requests.
	Consume() <-chan RPC

	// Send transmits a single RPC to addr without waiting for anything.
	Send(addr string, rpc RPC) error

	// Request registers rpc.ID as pending, sends rpc to addr and returns
	// a channel that yields exactly one value: the matching response, or
	// nil once the request timeout elapses.
	Request(addr string, rpc RPC) (<-chan *RPC, error)

	// Pending returns the number of requests still awaiting a response.
	Pending() int

	// Timeout is how long Request waits before yielding nil.
	Timeout() time.Duration

	// Close stops the receive loop and releases the socket.
	Close() error
}

// RPC is one envelope on the wire. The payload is opaque to the
// transport; only ID and Kind are used for routing.
type RPC struct {
	Version int             `json:"v"`
	ID      string          `json:"id"`
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`

	// From is filled in by the transport with the sender's address.
	From string `json:"-"`
}

// Codec turns RPCs into datagrams and back.
type Codec interface {
	Encode(rpc *RPC) ([]byte, error)
	Decode(data []byte, rpc *RPC) error
}

package p2p

import (
	"encoding/json"
	"fmt"
)

// DefaultMaxDatagramSize is the largest datagram a transport will send or
// accept. Larger encodings are rejected instead of being truncated.
const DefaultMaxDatagramSize = 4096

// JSONCodec implements Codec. Each datagram carries exactly one
// JSON-encoded RPC, so no framing is needed.
type JSONCodec struct {
	MaxSize int
}

// NewJSONCodec returns a codec enforcing maxSize (DefaultMaxDatagramSize
// when maxSize <= 0).
func NewJSONCodec(maxSize int) *JSONCodec {
	if maxSize <= 0 {
		maxSize = DefaultMaxDatagramSize
	}
	return &JSONCodec{MaxSize: maxSize}
}

// Encode stamps the protocol version and marshals rpc.
func (c *JSONCodec) Encode(rpc *RPC) ([]byte, error) {
	rpc.Version = ProtocolVersion

	data, err := json.Marshal(rpc)
	if err != nil {
		return nil, fmt.Errorf("encode: json marshal error: %w", err)
	}

	if len(data) > c.MaxSize {
		return nil, fmt.Errorf("encode: %d > %d bytes: %w", len(data), c.MaxSize, ErrMessageTooLarge)
	}

	return data, nil
}

// Decode unmarshals one datagram into rpc and checks its version.
func (c *JSONCodec) Decode(data []byte, rpc *RPC) error {
	if len(data) == 0 {
		return fmt.Errorf("decode: empty datagram")
	}
	if len(data) > c.MaxSize {
		return fmt.Errorf("decode: %d > %d bytes: %w", len(data), c.MaxSize, ErrMessageTooLarge)
	}

	*rpc = RPC{}

	if err := json.Unmarshal(data, rpc); err != nil {
		return fmt.Errorf("decode: json unmarshal error: %w", err)
	}

	if rpc.Version != ProtocolVersion {
		return fmt.Errorf("decode: version %d: %w", rpc.Version, ErrBadVersion)
	}

	switch rpc.Kind {
	case KindRequest, KindResponse, KindTerminate:
	default:
		return fmt.Errorf("decode: unknown kind %q", rpc.Kind)
	}

	if rpc.Kind != KindTerminate && rpc.ID == "" {
		return fmt.Errorf("decode: missing id")
	}

	return nil
}

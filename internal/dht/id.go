package dht

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/bits"
)

// IDBits is the length of a Kademlia ID in bits.
// IDs are SHA-256 digests, so 256 bits (32 bytes).
const IDBits = 256

// IDBytes is the length of an ID in bytes.
const IDBytes = IDBits / 8

// ID is a node or key identifier in the DHT keyspace.
// Peers and stored keys share the same space, so the distance from a key
// to a peer is well defined.
type ID [IDBytes]byte

// NewID derives an ID by hashing the seed string.
// Peers use "host:port" as their seed, data keys use the key itself.
func NewID(seed string) ID {
	return ID(sha256.Sum256([]byte(seed)))
}

// NewRandomID generates a cryptographically random ID.
func NewRandomID() (ID, error) {
	var id ID
	_, err := rand.Read(id[:])
	if err != nil {
		return ID{}, fmt.Errorf("NewRandomID: %w", err)
	}
	return id, nil
}

// MustRandomID is a helper for tests or places where you want to panic on error.
func MustRandomID() ID {
	id, err := NewRandomID()
	if err != nil {
		panic(err)
	}
	return id
}

// IDFromBytes constructs an ID from a byte slice.
// Returns an error if the slice length is not IDBytes.
func IDFromBytes(b []byte) (ID, error) {
	if len(b) != IDBytes {
		return ID{}, fmt.Errorf("IDFromBytes: invalid length %d, want %d", len(b), IDBytes)
	}
	var id ID
	copy(id[:], b)
	return id, nil
}

// IDFromHex constructs an ID from a hex string.
// The hex string must decode to IDBytes bytes.
func IDFromHex(s string) (ID, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return ID{}, fmt.Errorf("IDFromHex: decode error: %w", err)
	}
	return IDFromBytes(raw)
}

// String returns the hex encoding of the ID.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// Short returns the first 8 hex characters, for log lines.
func (id ID) Short() string {
	return hex.EncodeToString(id[:4])
}

// MarshalText encodes the ID as hex so JSON carries it as a string
// instead of an array of 32 numbers.
func (id ID) MarshalText() ([]byte, error) {
	out := make([]byte, hex.EncodedLen(IDBytes))
	hex.Encode(out, id[:])
	return out, nil
}

// UnmarshalText decodes a hex-encoded ID.
func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := IDFromHex(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// XOR computes the bitwise XOR distance between two IDs.
func (id ID) XOR(other ID) ID {
	var out ID
	for i := 0; i < IDBytes; i++ {
		out[i] = id[i] ^ other[i]
	}
	return out
}

// Distance is the XOR distance between a and b. It is symmetric and
// all-zero only when a == b.
func Distance(a, b ID) ID {
	return a.XOR(b)
}

// Equals reports whether two IDs are identical.
func (id ID) Equals(other ID) bool {
	return id == other
}

// IsZero reports whether every byte of the ID is zero.
func (id ID) IsZero() bool {
	return id == ID{}
}

// Less reports whether id is lexicographically less than other.
// Applied to distances it means "closer".
func (id ID) Less(other ID) bool {
	return bytes.Compare(id[:], other[:]) < 0
}

// PrefixLen returns the number of leading zero bits in the ID.
//
// Example:
//
//	ID: 00010010.... (in bits)
//	PrefixLen = 3    (first 3 bits are zero, 4th is 1)
func (id ID) PrefixLen() int {
	for i := 0; i < IDBytes; i++ {
		if id[i] != 0 {
			return i*8 + bits.LeadingZeros8(id[i])
		}
	}
	return IDBits
}

// BucketIndex returns the routing table bucket for other as seen from self:
// the position of the highest set bit of their distance, counted from the
// most significant bit. An all-zero distance maps to the last bucket.
func BucketIndex(self, other ID) int {
	prefix := Distance(self, other).PrefixLen()
	if prefix >= IDBits {
		return IDBits - 1
	}
	return prefix
}

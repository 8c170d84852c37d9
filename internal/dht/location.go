package dht

import (
	"fmt"
	"net"
	"strconv"
)

// Location describes a peer: its identifier and the UDP endpoint it
// listens on. The ID is always the hash of "host:port", so a Location is
// both a network address and a point in the keyspace.
type Location struct {
	ID   ID     `json:"id"`
	Host string `json:"host"`
	Port uint16 `json:"port"`
}

// NewLocation builds a Location and derives its ID from host and port.
func NewLocation(host string, port uint16) Location {
	return Location{
		ID:   NewID(net.JoinHostPort(host, strconv.Itoa(int(port)))),
		Host: host,
		Port: port,
	}
}

// ParseLocation parses "host:port" into a Location.
func ParseLocation(addr string) (Location, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return Location{}, fmt.Errorf("ParseLocation: %w", err)
	}
	if host == "" {
		return Location{}, fmt.Errorf("ParseLocation: missing host in %q", addr)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Location{}, fmt.Errorf("ParseLocation: invalid port %q: %w", portStr, err)
	}
	return NewLocation(host, uint16(port)), nil
}

// Addr returns the "host:port" form used for dialing.
func (l Location) Addr() string {
	return net.JoinHostPort(l.Host, strconv.Itoa(int(l.Port)))
}

func (l Location) String() string {
	return l.Addr()
}

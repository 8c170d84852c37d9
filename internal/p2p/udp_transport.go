package p2p

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultRequestTimeout is how long Request waits before yielding nil.
const DefaultRequestTimeout = 5 * time.Second

// terminateGrace bounds how long Close waits for the receive loop to see
// its own terminate datagram before closing the socket under it.
const terminateGrace = time.Second

// UDPTransportOpts holds configuration for UDPTransport.
type UDPTransportOpts struct {
	ListenAddr      string        // e.g. "127.0.0.1:9000" or "127.0.0.1:0" for a random free port
	Codec           Codec         // defaults to a JSONCodec sized to MaxDatagramSize
	RequestTimeout  time.Duration // defaults to DefaultRequestTimeout
	MaxDatagramSize int           // defaults to DefaultMaxDatagramSize
	Logger          *zap.Logger
	Metrics         *Metrics
}

// UDPTransport is a Transport over a single UDP socket. One goroutine
// reads datagrams; requests are handed to Consume, responses complete
// pending Requests.
type UDPTransport struct {
	UDPTransportOpts

	conn    *net.UDPConn
	rpcCh   chan RPC
	pending *pendingTable
	logger  *zap.Logger

	// terminateID authenticates the terminate datagram Close sends to
	// itself; terminate envelopes with any other id are ignored.
	terminateID string

	closing   atomic.Bool
	closeOnce sync.Once
	quit      chan struct{}
	done      chan struct{}
}

// NewUDPTransport creates a new UDPTransport with the given options.
// Nothing is bound until ListenAndAccept.
func NewUDPTransport(opts UDPTransportOpts) *UDPTransport {
	if opts.MaxDatagramSize <= 0 {
		opts.MaxDatagramSize = DefaultMaxDatagramSize
	}
	if opts.Codec == nil {
		opts.Codec = NewJSONCodec(opts.MaxDatagramSize)
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	t := &UDPTransport{
		UDPTransportOpts: opts,
		rpcCh:            make(chan RPC, 1024),
		pending:          newPendingTable(),
		logger:           logger,
		terminateID:      uuid.NewString(),
		quit:             make(chan struct{}),
		done:             make(chan struct{}),
	}
	t.pending.onTimeout = func(id string) {
		t.Metrics.timedOut()
		t.logger.Debug("request timed out", zap.String("id", id))
	}
	return t
}

// Addr returns the transport's listening address.
//
// If ListenAddr had port 0, after ListenAndAccept() this is the address
// chosen by the OS (e.g. "127.0.0.1:54321").
func (t *UDPTransport) Addr() string {
	return t.ListenAddr
}

// Consume returns a receive-only channel of inbound requests. It is
// closed when the receive loop exits.
func (t *UDPTransport) Consume() <-chan RPC {
	return t.rpcCh
}

// Pending returns the number of requests awaiting a response.
func (t *UDPTransport) Pending() int {
	return t.pending.len()
}

// Timeout returns the configured request timeout.
func (t *UDPTransport) Timeout() time.Duration {
	return t.RequestTimeout
}

// ListenAndAccept binds the UDP socket and starts the receive loop.
// A bind failure is returned to the caller.
func (t *UDPTransport) ListenAndAccept() error {
	udpAddr, err := net.ResolveUDPAddr("udp", t.ListenAddr)
	if err != nil {
		return fmt.Errorf("ListenAndAccept: resolve %s: %w", t.ListenAddr, err)
	}

	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("ListenAndAccept: bind %s: %w", t.ListenAddr, err)
	}

	t.conn = conn
	t.ListenAddr = conn.LocalAddr().String()

	go t.readLoop()

	t.logger.Info("UDP transport listening", zap.String("address", t.ListenAddr))
	return nil
}

// Send encodes rpc and writes it to addr as one datagram.
func (t *UDPTransport) Send(addr string, rpc RPC) error {
	if t.conn == nil || t.closing.Load() {
		return ErrClosed
	}

	data, err := t.Codec.Encode(&rpc)
	if err != nil {
		return fmt.Errorf("Send: %w", err)
	}

	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("Send: resolve %s: %w", addr, err)
	}

	if _, err := t.conn.WriteToUDP(data, udpAddr); err != nil {
		return fmt.Errorf("Send: write to %s: %w", addr, err)
	}

	t.Metrics.sent()
	return nil
}

// Request registers rpc.ID before sending so a fast response cannot be
// missed. The returned channel yields the response, or nil after
// RequestTimeout. A send failure unregisters the request and is returned.
func (t *UDPTransport) Request(addr string, rpc RPC) (<-chan *RPC, error) {
	if rpc.ID == "" {
		return nil, fmt.Errorf("Request: missing id")
	}
	rpc.Kind = KindRequest

	ch := t.pending.register(rpc.ID, t.RequestTimeout)
	if ch == nil {
		return nil, fmt.Errorf("Request: id %s already pending", rpc.ID)
	}
	t.Metrics.requestStarted()

	if err := t.Send(addr, rpc); err != nil {
		t.pending.cancel(rpc.ID)
		t.Metrics.requestAborted()
		return nil, err
	}

	return ch, nil
}

// Close stops the receive loop by sending it a terminate datagram, then
// releases the socket. Requests still pending complete with nil.
func (t *UDPTransport) Close() error {
	var err error

	t.closeOnce.Do(func() {
		if t.conn == nil {
			close(t.rpcCh)
			return
		}

		t.closing.Store(true)
		close(t.quit)
		if serr := t.sendTerminate(); serr != nil {
			t.logger.Debug("terminate datagram not sent", zap.Error(serr))
		}

		select {
		case <-t.done:
		case <-time.After(terminateGrace):
		}

		err = t.conn.Close()
		<-t.done

		for n := t.pending.failAll(); n > 0; n-- {
			t.Metrics.requestAborted()
		}

		t.logger.Info("UDP transport closed", zap.String("address", t.ListenAddr))
	})

	return err
}

func (t *UDPTransport) sendTerminate() error {
	data, err := t.Codec.Encode(&RPC{ID: t.terminateID, Kind: KindTerminate})
	if err != nil {
		return err
	}

	self := *t.conn.LocalAddr().(*net.UDPAddr)
	if self.IP == nil || self.IP.IsUnspecified() {
		self.IP = net.IPv4(127, 0, 0, 1)
	}

	_, err = t.conn.WriteToUDP(data, &self)
	return err
}

// readLoop reads datagrams until terminated or the socket is closed.
// A datagram that fails to decode is dropped; it never ends the loop.
func (t *UDPTransport) readLoop() {
	defer close(t.done)
	defer close(t.rpcCh)

	buf := make([]byte, t.MaxDatagramSize+1)

	for {
		n, from, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || t.closing.Load() {
				return
			}
			t.logger.Warn("UDP read error", zap.Error(err))
			continue
		}
		t.Metrics.received()

		if n > t.MaxDatagramSize {
			t.Metrics.dropped("oversize")
			t.logger.Warn("dropping oversize datagram",
				zap.Stringer("from", from), zap.Int("limit", t.MaxDatagramSize))
			continue
		}

		var rpc RPC
		if err := t.Codec.Decode(buf[:n], &rpc); err != nil {
			t.Metrics.dropped("decode")
			t.logger.Warn("dropping malformed datagram",
				zap.Stringer("from", from), zap.Error(err))
			continue
		}
		rpc.From = from.String()

		switch rpc.Kind {
		case KindTerminate:
			if rpc.ID == t.terminateID {
				t.logger.Debug("receive loop terminated")
				return
			}
			t.Metrics.dropped("terminate")
			t.logger.Warn("ignoring foreign terminate", zap.String("from", rpc.From))

		case KindRequest:
			select {
			case t.rpcCh <- rpc:
			case <-t.quit:
				return
			}

		case KindResponse:
			resp := rpc
			if t.pending.fulfill(rpc.ID, &resp) {
				t.Metrics.responseMatched()
				continue
			}
			t.Metrics.lateResponse()
			t.logger.Debug("discarding response with no pending request",
				zap.String("id", rpc.ID), zap.String("from", rpc.From))
		}
	}
}

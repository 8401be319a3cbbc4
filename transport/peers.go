package transport

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/minhng/cache-sync/cache"
	"github.com/minhng/cache-sync/protocol"
	"github.com/minhng/cache-sync/types"
)

// Peers broadcasts encoded frames to a static set of peer listeners over
// TCP. Connections are dialed lazily and reused across publishes; peers are
// written concurrently so one slow or dead peer never blocks the others.
//
// Publish returns the first peer failure but still attempts every peer; the
// caller owns any corrective retry, per the protocol's sender-side contract.
type Peers struct {
	codec   *protocol.Codec
	logger  cache.Logger
	timeout time.Duration
	conns   []*peerConn
}

// NewPeers creates a publisher targeting the given peer addresses. timeout
// bounds each dial, write, and acknowledgment read; zero means no bound.
func NewPeers(addrs []string, codec *protocol.Codec, logger cache.Logger, timeout time.Duration) *Peers {
	if codec == nil {
		codec = protocol.NewCodec(nil, nil)
	}
	if logger == nil {
		logger = cache.NewNoOpLogger()
	}

	conns := make([]*peerConn, 0, len(addrs))
	for _, addr := range addrs {
		conns = append(conns, &peerConn{addr: addr})
	}
	return &Peers{codec: codec, logger: logger, timeout: timeout, conns: conns}
}

// Publish encodes the batch once and sends the frame to every peer,
// waiting for each peer's acknowledgment.
func (p *Peers) Publish(ctx context.Context, batch types.Batch) error {
	frame, err := p.codec.Encode(batch)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, pc := range p.conns {
		pc := pc
		g.Go(func() error {
			if err := pc.send(ctx, frame, p.timeout); err != nil {
				p.logger.Warn("publish to peer failed", "peer", pc.addr, "error", err)
				return fmt.Errorf("peer %s: %w", pc.addr, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Close closes every peer connection.
func (p *Peers) Close() error {
	for _, pc := range p.conns {
		pc.close()
	}
	return nil
}

// peerConn is one reusable outbound connection. Sends to the same peer are
// serialized so a frame's acknowledgment is never interleaved with another
// frame's.
type peerConn struct {
	addr string
	mu   sync.Mutex
	conn net.Conn
	r    *bufio.Reader
}

func (pc *peerConn) send(ctx context.Context, frame []byte, timeout time.Duration) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	fresh := false
	if pc.conn == nil {
		if err := pc.dial(ctx, timeout); err != nil {
			return err
		}
		fresh = true
	}

	err := pc.roundTrip(frame, timeout)
	if err == nil {
		return nil
	}
	pc.closeLocked()

	// A pooled connection may have died since the last publish; a fresh one
	// gets no second chance.
	if fresh {
		return err
	}
	if err := pc.dial(ctx, timeout); err != nil {
		return err
	}
	if err := pc.roundTrip(frame, timeout); err != nil {
		pc.closeLocked()
		return err
	}
	return nil
}

func (pc *peerConn) dial(ctx context.Context, timeout time.Duration) error {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", pc.addr)
	if err != nil {
		return err
	}
	pc.conn = conn
	pc.r = bufio.NewReader(conn)
	return nil
}

// roundTrip writes one frame and reads the one-line response.
func (pc *peerConn) roundTrip(frame []byte, timeout time.Duration) error {
	if timeout > 0 {
		_ = pc.conn.SetDeadline(time.Now().Add(timeout))
	}

	// The frame is shared across peer goroutines; the delimiter goes out in
	// its own write rather than appending to the shared slice.
	if _, err := pc.conn.Write(frame); err != nil {
		return err
	}
	if _, err := pc.conn.Write([]byte{'\n'}); err != nil {
		return err
	}

	line, err := pc.r.ReadString('\n')
	if err != nil {
		return err
	}

	response := strings.TrimRight(line, "\r\n")
	if response != protocol.Ack {
		return fmt.Errorf("rejected: %s", response)
	}
	return nil
}

func (pc *peerConn) close() {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.closeLocked()
}

func (pc *peerConn) closeLocked() {
	if pc.conn != nil {
		pc.conn.Close()
		pc.conn = nil
		pc.r = nil
	}
}

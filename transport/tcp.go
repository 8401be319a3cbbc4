package transport

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/minhng/cache-sync/cache"
	"github.com/minhng/cache-sync/protocol"
)

// errFrameTooLarge marks a frame exceeding the configured size limit. The
// stream position is lost at that point, so the fault is fatal to the
// connection.
var errFrameTooLarge = errors.New("frame exceeds maximum size")

// ServerConfig configures the TCP synchronization listener.
type ServerConfig struct {
	// Addr is the TCP listen address, e.g. "0.0.0.0:7400".
	Addr string

	// IdleTimeout closes a connection that delivers no frame for this long.
	// Zero disables the timeout.
	IdleTimeout time.Duration

	// MaxFrameBytes caps the size of one inbound frame. Zero means no cap.
	MaxFrameBytes int

	// MaxConns caps concurrently served connections. Zero means no cap.
	// When the cap is reached, further accepts wait for a free slot.
	MaxConns int

	// Logger receives connection lifecycle events and failure reports.
	// If nil, defaults to the no-op logger.
	Logger cache.Logger
}

// Server accepts peer connections and serves the synchronization protocol
// over them. Frames are newline-delimited UTF-8 text; each connection runs
// its own handler goroutine and processes one frame at a time, so the peer
// gets natural backpressure: the next frame is not read until the previous
// response went out.
type Server struct {
	cfg    ServerConfig
	store  cache.SyncStore
	codec  *protocol.Codec
	logger cache.Logger

	listener   net.Listener
	group      *errgroup.Group
	ctx        context.Context
	cancel     context.CancelFunc
	acceptDone chan struct{}
	closed     int32

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}
}

// NewServer creates a server applying received batches to store.
func NewServer(cfg ServerConfig, store cache.SyncStore, codec *protocol.Codec) *Server {
	if cfg.Logger == nil {
		cfg.Logger = cache.NewNoOpLogger()
	}
	if codec == nil {
		codec = protocol.NewCodec(nil, nil)
	}
	return &Server{
		cfg:        cfg,
		store:      store,
		codec:      codec,
		logger:     cfg.Logger,
		acceptDone: make(chan struct{}),
		conns:      make(map[net.Conn]struct{}),
	}
}

// Start binds the listen address and begins accepting connections.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}

	s.listener = ln
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.group = &errgroup.Group{}
	if s.cfg.MaxConns > 0 {
		s.group.SetLimit(s.cfg.MaxConns)
	}

	go s.acceptLoop()

	s.logger.Info("sync listener started", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound listen address. Valid after Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) acceptLoop() {
	defer close(s.acceptDone)

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if atomic.LoadInt32(&s.closed) != 0 {
				return
			}
			s.logger.Error("accept failed", "error", err)
			return
		}

		s.trackConn(conn, true)
		s.group.Go(func() error {
			defer s.trackConn(conn, false)
			s.serveConn(s.ctx, conn)
			return nil
		})
	}
}

func (s *Server) trackConn(conn net.Conn, add bool) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	if add {
		s.conns[conn] = struct{}{}
	} else {
		delete(s.conns, conn)
	}
}

// serveConn runs one connection's frame cycle: accumulate a frame, decode
// and dispatch it through the handler, write the response, repeat. Protocol
// failures are answered on the wire and the connection stays open; transport
// faults close the connection with no response attempted.
func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	remote := conn.RemoteAddr().String()
	handler := protocol.NewHandler(s.store, s.codec, s.logger, remote)
	reader := bufio.NewReader(conn)

	s.logger.Debug("peer connected", "peer", remote)

	for {
		if s.cfg.IdleTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		}

		frame, err := readFrame(reader, s.cfg.MaxFrameBytes)
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.logger.Debug("peer disconnected", "peer", remote)
				return
			}
			s.logger.Error("connection failed",
				"category", string(protocol.CategoryTransport),
				"error", err.Error(),
				"peer", remote,
			)
			return
		}
		if len(frame) == 0 {
			continue
		}

		result := handler.HandleFrame(ctx, frame)

		// Responses go straight to the socket, flushed per frame. The write
		// deadline keeps a peer that stopped reading from parking this
		// goroutine in Write forever.
		if s.cfg.IdleTimeout > 0 {
			_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.IdleTimeout))
		}
		if _, err := conn.Write([]byte(result.Response() + "\n")); err != nil {
			s.logger.Error("connection failed",
				"category", string(protocol.CategoryTransport),
				"error", err.Error(),
				"peer", remote,
			)
			return
		}
	}
}

// readFrame accumulates bytes until one newline-terminated frame is
// available, keeping memory bounded by max while the frame is still partial.
func readFrame(r *bufio.Reader, max int) ([]byte, error) {
	var frame []byte
	for {
		chunk, err := r.ReadSlice('\n')
		frame = append(frame, chunk...)

		if max > 0 && len(frame) > max+1 {
			return nil, errFrameTooLarge
		}
		if err == nil {
			return bytes.TrimRight(frame, "\r\n"), nil
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		if errors.Is(err, io.EOF) && len(frame) > 0 {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
}

// Close stops accepting, closes every open connection, and waits for the
// connection goroutines to drain.
func (s *Server) Close() error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil
	}
	if s.listener == nil {
		return nil
	}

	err := s.listener.Close()
	<-s.acceptDone
	s.cancel()

	s.connsMu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.connsMu.Unlock()

	_ = s.group.Wait()
	s.logger.Info("sync listener stopped")
	return err
}

// Package fserver implements the Fenris TCP server: the accept loop, the
// capacity-bounded active-clients map, and the per-connection task that
// runs the secure-channel handshake and request loop.
package fserver

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/semaphore"

	"github.com/fenrisnet/fenris/internal/channel"
	"github.com/fenrisnet/fenris/internal/compression"
	fcrypto "github.com/fenrisnet/fenris/internal/crypto"
	"github.com/fenrisnet/fenris/internal/ferr"
	"github.com/fenrisnet/fenris/internal/fileops"
	"github.com/fenrisnet/fenris/internal/handler"
	"github.com/fenrisnet/fenris/internal/health"
	"github.com/fenrisnet/fenris/internal/logging"
	"github.com/fenrisnet/fenris/internal/metrics"
	"github.com/fenrisnet/fenris/internal/recovery"
	"github.com/fenrisnet/fenris/internal/session"
	"github.com/fenrisnet/fenris/internal/wire"
)

// ServerConfig holds the settings a Server is constructed from.
type ServerConfig struct {
	// Address to listen on, e.g. ":5555".
	Address string

	// BaseDir is the sandbox root every connection's file operations are
	// rooted at.
	BaseDir string

	// MaxConnections is the capacity semaphore's size (0 disables the
	// limit).
	MaxConnections int

	// RejectWhenFull selects try-acquire (reject immediately) vs
	// blocking-acquire (queue until a slot frees) admission at capacity.
	RejectWhenFull bool

	HandshakeTimeout time.Duration
	IdleTimeout      time.Duration

	CompressionAlgorithm string
	CompressionLevel     int

	TransferRateLimitBytesPerSec int64

	KeyContext string
}

// DefaultServerConfig returns the default server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:              ":5555",
		MaxConnections:       1024,
		RejectWhenFull:       true,
		HandshakeTimeout:     10 * time.Second,
		IdleTimeout:          300 * time.Second,
		CompressionAlgorithm: "none",
		KeyContext:           channel.DefaultKeyContext,
	}
}

// Server accepts Fenris client connections and dispatches their requests.
type Server struct {
	cfg      ServerConfig
	logger   *slog.Logger
	metrics  *metrics.Metrics
	listener net.Listener

	sem *semaphore.Weighted

	conns *connTracker

	clientsMu sync.RWMutex
	clients   map[session.ID]*session.Info

	nextID atomic.Uint64

	running  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer constructs a Server. logger and m may be nil, in which case a
// no-op logger and the process-wide metrics.Default() instance (registered
// with the global Prometheus registry) are used.
func NewServer(cfg ServerConfig, logger *slog.Logger, m *metrics.Metrics) *Server {
	if logger == nil {
		logger = logging.NopLogger()
	}
	if m == nil {
		m = metrics.Default()
	}

	var sem *semaphore.Weighted
	if cfg.MaxConnections > 0 {
		sem = semaphore.NewWeighted(int64(cfg.MaxConnections))
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		sem:     sem,
		conns:   newConnTracker(),
		clients: make(map[session.ID]*session.Info),
		stopCh:  make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start binds the listener and begins accepting connections in the
// background.
func (s *Server) Start() error {
	if s.running.Load() {
		return fmt.Errorf("server already running")
	}

	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.listener = ln
	s.running.Store(true)

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Stop closes the listener and all active connections, and waits for
// every connection task to finish. Closing each connection unblocks any
// task parked in a handshake or request read, so Stop returns promptly
// even with --idle-timeout 0 and a live, otherwise-idle client.
func (s *Server) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		s.running.Store(false)
		close(s.stopCh)
		s.cancel()
		if s.listener != nil {
			err = s.listener.Close()
		}
		s.conns.closeAll()
	})
	s.wg.Wait()
	return err
}

// Address returns the bound listen address, or nil before Start.
func (s *Server) Address() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// IsRunning reports whether the server is currently accepting connections.
func (s *Server) IsRunning() bool {
	return s.running.Load()
}

// Stats implements health.StatsProvider.
func (s *Server) Stats() health.Stats {
	s.clientsMu.RLock()
	active := len(s.clients)
	s.clientsMu.RUnlock()
	return health.Stats{
		ConnectionsActive: active,
		ConnectionsTotal:  int(s.nextID.Load()),
	}
}

// ConnectionCount returns the number of currently active connections.
func (s *Server) ConnectionCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
				s.logger.Error("accept failed", logging.KeyError, err)
				continue
			}
		}

		if !s.admit() {
			s.metrics.RecordRejected()
			conn.Close()
			continue
		}

		s.conns.add(conn)
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// admit applies the capacity policy: try-acquire rejects immediately when
// full, blocking-acquire waits (bounded by the server's lifetime) for a
// slot to free.
func (s *Server) admit() bool {
	if s.sem == nil {
		return true
	}
	if s.cfg.RejectWhenFull {
		return s.sem.TryAcquire(1)
	}
	if err := s.sem.Acquire(s.ctx, 1); err != nil {
		return false
	}
	return true
}

func (s *Server) release() {
	if s.sem != nil {
		s.sem.Release(1)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer s.release()
	defer recovery.RecoverWithLog(s.logger, "connection-task")
	defer conn.Close()
	defer s.conns.remove(conn)

	id := session.ID(s.nextID.Add(1))
	remoteAddr := conn.RemoteAddr()
	info := session.New(id, remoteAddr)

	s.clientsMu.Lock()
	s.clients[id] = info
	s.clientsMu.Unlock()
	s.metrics.RecordConnect()

	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, id)
		s.clientsMu.Unlock()
		s.metrics.RecordDisconnect()
	}()

	logger := s.logger.With(logging.KeyClientID, fmt.Sprintf("%d", id), logging.KeyRemoteAddr, remoteAddr.String())

	ops, err := fileops.NewDefaultFileOperations(s.cfg.BaseDir)
	if err != nil {
		logger.Error("failed to construct sandbox", logging.KeyError, err)
		return
	}
	ops.RateLimitBytesPerSec = s.cfg.TransferRateLimitBytesPerSec

	compressor, err := compression.ByName(s.cfg.CompressionAlgorithm, s.cfg.CompressionLevel)
	if err != nil {
		logger.Error("failed to construct compressor", logging.KeyError, err)
		return
	}

	sc, err := s.handshake(conn, compressor, logger)
	if err != nil {
		logger.Warn("handshake failed", logging.KeyError, err)
		return
	}
	defer sc.Close()

	logger.Info("client connected")
	h := handler.New(ops)
	s.requestLoop(conn, sc, h, info, logger)
	logger.Info("client disconnected")
}

func (s *Server) handshake(conn net.Conn, compressor compression.Compressor, logger *slog.Logger) (*channel.SecureChannel, error) {
	if s.cfg.HandshakeTimeout > 0 {
		conn.SetDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
		defer conn.SetDeadline(time.Time{})
	}

	start := time.Now()
	sc, err := channel.ServerHandshake(conn, fcrypto.Default(), compressor, s.cfg.KeyContext)
	if err != nil {
		s.metrics.RecordHandshakeError(classifyHandshakeError(err))
		return nil, err
	}
	s.metrics.RecordHandshake(time.Since(start).Seconds())
	return sc, nil
}

func classifyHandshakeError(err error) string {
	var fe *ferr.Error
	if e, ok := err.(*ferr.Error); ok {
		fe = e
	}
	if fe != nil {
		return fe.Kind.String()
	}
	return "unknown"
}

// requestLoop drives one client's request/response cycle until Terminate,
// a protocol error, or an idle timeout. current_dir is owned exclusively
// by this goroutine.
func (s *Server) requestLoop(conn net.Conn, sc *channel.SecureChannel, h *handler.RequestHandler, info *session.Info, logger *slog.Logger) {
	currentDir := "/"
	clientID := fmt.Sprintf("%d", info.ID)

	for {
		if s.cfg.IdleTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		}

		req, err := sc.RecvRequest()
		if err != nil {
			logger.Debug("connection task ending", logging.KeyError, err)
			return
		}
		info.Touch()
		info.CurrentDir = currentDir

		if req.Command == wire.Terminate {
			sc.SendResponse(&wire.Response{Type: wire.Terminated, Success: true})
			return
		}

		resp := h.ProcessRequest(clientID, req, &currentDir)
		info.CurrentDir = currentDir
		s.metrics.RecordRequest(req.Command.String(), resp.Success)

		if resp.Success && (req.Command == wire.WriteFile || req.Command == wire.AppendFile) {
			logger.Info("wrote data", logging.KeyPath, req.Filename, logging.KeyBytes, humanize.Bytes(uint64(len(req.Data))))
		}

		if err := sc.SendResponse(resp); err != nil {
			logger.Debug("send response ended session", logging.KeyError, err)
			return
		}
	}
}

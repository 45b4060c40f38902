package redisserver

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"

	"github.com/shardis/shardis/internal/storage"
	"github.com/shardis/shardis/internal/telemetry/logger"
	"github.com/shardis/shardis/internal/telemetry/metric"
)

// Config holds the server configuration.
type Config struct {
	// Addr is the TCP listen address.
	Addr string
	// MaxHandlers bounds the number of concurrently served connections.
	MaxHandlers int
	// ReadTimeout is the timeout for completing a started command
	// (slowloris protection).
	ReadTimeout time.Duration
	// WriteTimeout is the timeout for writing a response.
	WriteTimeout time.Duration
	// IdleTimeout is the timeout for idle connections between commands.
	IdleTimeout time.Duration
	// RateLimit is the maximum commands per second per client IP.
	// Zero disables rate limiting.
	RateLimit int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Addr:         "127.0.0.1:6379",
		MaxHandlers:  128,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  5 * time.Minute,
		RateLimit:    0,
	}
}

// Server accepts Redis protocol connections and serves them over a
// bounded pool of connection handlers.
type Server struct {
	cfg     *Config
	handler *CommandHandler
	logger  logger.Logger
	metrics *metric.Registry

	ln       net.Listener
	sem      chan struct{}
	running  atomic.Bool
	wg       sync.WaitGroup
	cancelMu sync.Mutex
	cancel   context.CancelFunc

	limitMu  sync.Mutex
	limiters map[string]*rate.Limiter
}

// Conn represents a single client connection. Incoming bytes accumulate
// in buf until they frame at least one complete request.
type Conn struct {
	id      string
	netConn net.Conn
	bw      *bufio.Writer
	buf     []byte
	closed  atomic.Bool
}

func newConn(c net.Conn) *Conn {
	return &Conn{
		id:      ulid.Make().String(),
		netConn: c,
		bw:      bufio.NewWriter(c),
	}
}

// Close closes the underlying connection once.
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.netConn.Close()
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.netConn.RemoteAddr()
}

// New creates a new Redis protocol server.
func New(cfg *Config, engine *storage.Engine, log logger.Logger, metrics *metric.Registry) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if log == nil {
		log = logger.Default()
	}
	if metrics == nil {
		metrics = metric.NewRegistry()
	}

	maxHandlers := cfg.MaxHandlers
	if maxHandlers < 1 {
		maxHandlers = 1
	}

	s := &Server{
		cfg:      cfg,
		logger:   log,
		metrics:  metrics,
		sem:      make(chan struct{}, maxHandlers),
		limiters: make(map[string]*rate.Limiter),
	}
	s.handler = NewCommandHandler(engine, log, metrics)
	return s
}

// ErrServerRunning is returned by Start on a server that is already
// accepting connections.
var ErrServerRunning = errors.New("redisserver: server already running")

// Start binds the listener and launches the accept loop. It returns
// once the listener is bound, so callers can connect immediately.
func (s *Server) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrServerRunning
	}
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		s.running.Store(false)
		return err
	}
	s.ln = ln

	ctx, cancel := context.WithCancel(ctx)
	s.cancelMu.Lock()
	s.cancel = cancel
	s.cancelMu.Unlock()

	s.logger.Info("redis server listening", "addr", ln.Addr().String())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.acceptLoop(ctx, ln); err != nil && s.running.Load() {
			s.logger.Error("accept loop error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound listener address, or empty before Start.
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Shutdown stops accepting connections, cancels suspended blocking
// pops, and waits for in-flight handlers up to the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.running.Store(false)

	var firstErr error
	if s.ln != nil {
		if err := s.ln.Close(); err != nil {
			firstErr = err
		}
	}

	s.cancelMu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.cancelMu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return firstErr
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) error {
	for {
		c, err := ln.Accept()
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return err
		}

		// The semaphore bounds handler concurrency: when every slot is
		// taken the accept loop itself waits, applying backpressure at
		// the listener.
		select {
		case s.sem <- struct{}{}:
		case <-ctx.Done():
			_ = c.Close()
			return nil
		}

		s.metrics.ConnectionsTotal.Inc()
		s.metrics.ConnectionsActive.Inc()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() {
				<-s.sem
				s.metrics.ConnectionsActive.Dec()
			}()
			s.serveConn(ctx, newConn(c))
		}()
	}
}

// serveConn runs the per-connection state machine: accumulate bytes,
// decode, dispatch, flush, repeat. One request at a time; the next
// request is not decoded until the previous reply has been flushed.
func (s *Server) serveConn(ctx context.Context, c *Conn) {
	// Cancelling on exit deregisters any blocking pop still suspended
	// on behalf of this connection.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer c.Close()

	// Unblock a pending Read when the server shuts down.
	go func() {
		<-ctx.Done()
		_ = c.Close()
	}()

	log := s.logger.With("conn_id", c.id, "remote", c.RemoteAddr().String())
	log.Debug("connection opened")
	defer log.Debug("connection closed")

	var limiter *rate.Limiter
	if s.cfg.RateLimit > 0 {
		limiter = s.limiterFor(c.RemoteAddr())
	}

	chunk := make([]byte, 4096)
	for {
		// Between commands the connection may sit idle; once a partial
		// request is buffered, tighten to the per-command read timeout.
		deadline := s.idleTimeout()
		if len(c.buf) > 0 {
			deadline = s.readTimeout()
		}
		if err := c.netConn.SetReadDeadline(time.Now().Add(deadline)); err != nil {
			return
		}

		n, err := c.netConn.Read(chunk)
		if n > 0 {
			c.buf = append(c.buf, chunk[:n]...)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				log.Debug("connection timed out")
				return
			}
			if s.running.Load() {
				log.Debug("connection read error", "error", err)
			}
			return
		}

		if !s.drainRequests(ctx, c, log, limiter) {
			return
		}
	}
}

// drainRequests decodes and serves every complete request currently
// buffered. It returns false when the connection must close.
func (s *Server) drainRequests(ctx context.Context, c *Conn, log logger.Logger, limiter *rate.Limiter) bool {
	for {
		args, n, err := Decode(c.buf)
		if errors.Is(err, ErrIncomplete) {
			return true
		}
		if err != nil {
			s.metrics.ProtocolErrors.Inc()
			log.Warn("protocol error", "error", err)
			_ = c.netConn.SetWriteDeadline(time.Now().Add(s.writeTimeout()))
			if errors.Is(err, ErrLimitExceeded) {
				_ = WriteError(c.bw, "ERR protocol limit exceeded")
			} else {
				_ = WriteError(c.bw, "ERR protocol error: "+err.Error())
			}
			_ = c.bw.Flush()
			return false
		}

		c.buf = c.buf[n:]
		if len(c.buf) == 0 {
			c.buf = nil
		}

		if len(args) == 0 {
			// Empty inline line or empty array; nothing to do.
			continue
		}

		if limiter != nil && !limiter.Allow() {
			_ = WriteError(c.bw, "ERR rate limit exceeded")
		} else {
			s.handler.Handle(ctx, c, args)
		}

		if c.closed.Load() {
			// QUIT flushed and closed inside the handler.
			return false
		}
		if err := c.netConn.SetWriteDeadline(time.Now().Add(s.writeTimeout())); err != nil {
			return false
		}
		if err := c.bw.Flush(); err != nil {
			log.Debug("connection write error", "error", err)
			return false
		}
	}
}

// limiterFor returns the per-IP limiter, creating it on first use.
func (s *Server) limiterFor(addr net.Addr) *rate.Limiter {
	ip := addr.String()
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	} else if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}

	s.limitMu.Lock()
	defer s.limitMu.Unlock()

	l, ok := s.limiters[ip]
	if !ok {
		l = rate.NewLimiter(rate.Limit(s.cfg.RateLimit), s.cfg.RateLimit)
		s.limiters[ip] = l
	}
	return l
}

func (s *Server) readTimeout() time.Duration {
	if s.cfg.ReadTimeout > 0 {
		return s.cfg.ReadTimeout
	}
	return 30 * time.Second
}

func (s *Server) writeTimeout() time.Duration {
	if s.cfg.WriteTimeout > 0 {
		return s.cfg.WriteTimeout
	}
	return 30 * time.Second
}

func (s *Server) idleTimeout() time.Duration {
	if s.cfg.IdleTimeout > 0 {
		return s.cfg.IdleTimeout
	}
	return 5 * time.Minute
}

package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/cileserver/internal/backend"
	"github.com/danmuck/cileserver/internal/observability"
	"github.com/danmuck/cileserver/internal/protocol"
	"github.com/danmuck/cileserver/internal/protocol/frame"
	"github.com/danmuck/cileserver/internal/protocol/session"
	"github.com/rs/zerolog"
)

const DefaultMaxConnections = 64

type Config struct {
	Session session.Config
	// MaxConnections caps concurrently served connections. Further clients
	// wait in the listen backlog until a slot frees.
	MaxConnections int
}

func DefaultConfig() Config {
	return Config{
		Session:        session.DefaultConfig(),
		MaxConnections: DefaultMaxConnections,
	}
}

// Stats is a point-in-time snapshot of server counters.
type Stats struct {
	ActiveConnections int64  `json:"active_connections"`
	TotalConnections  uint64 `json:"total_connections"`
	Exchanges         uint64 `json:"exchanges"`
	Rejected          uint64 `json:"rejected"`
	Failures          uint64 `json:"failures"`
}

// Server serves the file protocol, one goroutine and one session per
// connection.
type Server struct {
	handler *Handler
	sem     chan struct{}
	log     zerolog.Logger

	cfgMu   sync.RWMutex
	sessCfg session.Config

	connMu sync.Mutex
	conns  map[net.Conn]struct{}
	wg     sync.WaitGroup

	serving   atomic.Bool
	active    atomic.Int64
	total     atomic.Uint64
	exchanges atomic.Uint64
	rejected  atomic.Uint64
	failures  atomic.Uint64
}

func New(b backend.Backend, cfg Config) *Server {
	sessCfg := cfg.Session.WithDefaults()
	maxConns := cfg.MaxConnections
	if maxConns <= 0 {
		maxConns = DefaultMaxConnections
	}
	observability.RegisterMetrics()
	return &Server{
		handler: NewHandler(b, sessCfg.BufferSize),
		sem:     make(chan struct{}, maxConns),
		log:     observability.ComponentLogger("server"),
		sessCfg: sessCfg,
		conns:   make(map[net.Conn]struct{}),
	}
}

// SetTimeouts changes the read, write and idle deadlines for connections
// accepted from now on.
func (s *Server) SetTimeouts(read, write, idle time.Duration) {
	s.cfgMu.Lock()
	s.sessCfg.ReadTimeout = read
	s.sessCfg.WriteTimeout = write
	s.sessCfg.IdleTimeout = idle
	s.cfgMu.Unlock()
	s.log.Info().
		Dur("read_timeout", read).
		Dur("write_timeout", write).
		Dur("idle_timeout", idle).
		Msg("server.SetTimeouts")
}

func (s *Server) sessionConfig() session.Config {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.sessCfg
}

func (s *Server) Stats() Stats {
	return Stats{
		ActiveConnections: s.active.Load(),
		TotalConnections:  s.total.Load(),
		Exchanges:         s.exchanges.Load(),
		Rejected:          s.rejected.Load(),
		Failures:          s.failures.Load(),
	}
}

// Ready reports whether Serve is accepting.
func (s *Server) Ready() bool {
	return s.serving.Load()
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts on ln until ctx is done, then closes open connections and
// waits for their goroutines. ln is closed on return.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	s.log.Info().Str("addr", ln.Addr().String()).Int("max_connections", cap(s.sem)).Msg("server.Serve listening")

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = ln.Close()
		case <-stop:
		}
	}()

	s.serving.Store(true)
	defer func() {
		s.serving.Store(false)
		s.closeConns()
		s.wg.Wait()
		s.log.Info().Msg("server.Serve stopped")
	}()

	for {
		select {
		case s.sem <- struct{}{}:
		case <-ctx.Done():
			return nil
		}
		conn, err := ln.Accept()
		if err != nil {
			<-s.sem
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("server: accept: %w", err)
		}
		s.track(conn)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() { <-s.sem }()
			defer s.untrack(conn)
			s.handleConn(ctx, conn)
		}()
	}
}

func (s *Server) track(conn net.Conn) {
	s.connMu.Lock()
	s.conns[conn] = struct{}{}
	s.connMu.Unlock()
	s.total.Add(1)
	s.active.Add(1)
	observability.ConnectionOpened()
}

func (s *Server) untrack(conn net.Conn) {
	s.connMu.Lock()
	delete(s.conns, conn)
	s.connMu.Unlock()
	_ = conn.Close()
	s.active.Add(-1)
	observability.ConnectionClosed()
}

func (s *Server) closeConns() {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
	}
}

// handleConn runs sequential exchanges until the peer closes, the session
// fails or ctx is done.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	remote := conn.RemoteAddr().String()
	clog := s.log.With().Str("remote", remote).Logger()
	cfg := s.sessionConfig()
	cfg.Logger = &clog
	sess := session.New(conn, cfg)

	clog.Info().Int64("active_clients", s.active.Load()).Msg("server.conn connected")
	defer func() {
		clog.Info().Int64("active_clients", s.active.Load()-1).Msg("server.conn disconnected")
	}()

	for ctx.Err() == nil {
		req, err := sess.ReadRequest()
		if errors.Is(err, io.EOF) {
			return
		}
		var ferr *session.FrameError
		if errors.As(err, &ferr) {
			if !s.reject(sess, clog, ferr) {
				return
			}
			continue
		}
		if err != nil {
			s.sessionFailed(clog, err)
			return
		}
		if !s.answer(sess, clog, req) {
			return
		}
	}
}

func (s *Server) answer(sess *session.Session, clog zerolog.Logger, req session.Request) bool {
	start := time.Now()
	status, payload := s.handler.Handle(req)
	if err := sess.WriteResponse(status, payload); err != nil {
		s.sessionFailed(clog, err)
		return false
	}
	elapsed := time.Since(start)
	s.exchanges.Add(1)
	observability.RecordExchange(req.Command.String(), status.String(), len(req.Payload), len(payload), elapsed)

	event := clog.Info()
	if status != frame.StatusOK {
		event = clog.Warn().Str("message", string(payload))
	}
	event.
		Str("command", req.Command.String()).
		Str("path", req.Path).
		Str("status", status.String()).
		Int("in", len(req.Payload)).
		Int("out", len(payload)).
		Dur("duration", elapsed).
		Msg("server.exchange")
	return true
}

func (s *Server) reject(sess *session.Session, clog zerolog.Logger, ferr *session.FrameError) bool {
	s.rejected.Add(1)
	kind := "too_large"
	if errors.Is(ferr, protocol.ErrUnknownCommand) {
		kind = "unknown_command"
	}
	observability.RecordProtocolError(kind)
	clog.Warn().Err(ferr).Str("kind", kind).Msg("server.exchange rejected")

	status := ferr.Status()
	if err := sess.WriteResponse(status, s.handler.message(ferr.Err.Error())); err != nil {
		s.sessionFailed(clog, err)
		return false
	}
	observability.RecordExchange("rejected", status.String(), 0, 0, 0)
	return true
}

func (s *Server) sessionFailed(clog zerolog.Logger, err error) {
	s.failures.Add(1)
	kind := failureKind(err)
	observability.RecordProtocolError(kind)
	// Closed connections during shutdown are expected.
	if errors.Is(err, protocol.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		clog.Debug().Err(err).Str("kind", kind).Msg("server.conn failed")
		return
	}
	clog.Warn().Err(err).Str("kind", kind).Msg("server.conn failed")
}

func failureKind(err error) string {
	switch {
	case errors.Is(err, protocol.ErrTimeout):
		return "timeout"
	case errors.Is(err, protocol.ErrUnexpectedEOF):
		return "eof"
	case errors.Is(err, protocol.ErrDrainLimit):
		return "drain_limit"
	case errors.Is(err, protocol.ErrTruncated):
		return "truncated"
	case errors.Is(err, protocol.ErrProtocol):
		return "protocol"
	default:
		return "transport"
	}
}

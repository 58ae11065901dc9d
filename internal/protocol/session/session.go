package session

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/danmuck/cileserver/internal/protocol"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// State is the position of the current exchange.
type State int

const (
	StateIdle State = iota
	StateHeaderSent
	StateAwaitingResponseHeader
	StateAwaitingResponsePayload
	StateRequestReceived
	StateComplete
	StateFailed
)

var stateNames = [...]string{
	StateIdle:                    "idle",
	StateHeaderSent:              "header_sent",
	StateAwaitingResponseHeader:  "awaiting_response_header",
	StateAwaitingResponsePayload: "awaiting_response_payload",
	StateRequestReceived:         "request_received",
	StateComplete:                "complete",
	StateFailed:                  "failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type deadliner interface {
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// Session owns one connected stream and its transfer buffer. Exchanges are
// strictly sequential; a second concurrent call fails with ErrSessionBusy.
type Session struct {
	rw  io.ReadWriter
	cfg Config
	buf []byte

	mu      sync.Mutex
	busy    bool
	state   State
	failure error
}

// New wraps an established stream. The transfer buffer is allocated once here.
func New(rw io.ReadWriter, cfg Config) *Session {
	cfg = cfg.WithDefaults()
	return &Session{
		rw:    rw,
		cfg:   cfg,
		buf:   make([]byte, cfg.BufferSize),
		state: StateIdle,
	}
}

// Capacity is the transfer buffer size.
func (s *Session) Capacity() int {
	return len(s.buf)
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error that failed the session, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failure
}

// Close closes the underlying stream when it is closable. Any in-flight
// exchange on another goroutine fails.
func (s *Session) Close() error {
	if c, ok := s.rw.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (s *Session) logger() *zerolog.Logger {
	return s.cfg.logger()
}

func (c Config) logger() *zerolog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return &log.Logger
}

// begin claims the session for one exchange.
func (s *Session) begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateFailed {
		return fmt.Errorf("%w: %w", protocol.ErrSessionFailed, s.failure)
	}
	if s.busy {
		return protocol.ErrSessionBusy
	}
	s.busy = true
	s.state = StateIdle
	return nil
}

func (s *Session) end() {
	s.mu.Lock()
	s.busy = false
	s.mu.Unlock()
}

func (s *Session) setState(next State) {
	s.mu.Lock()
	prev := s.state
	s.state = next
	s.mu.Unlock()
	s.logger().Trace().Str("from", prev.String()).Str("to", next.String()).Msg("session.state")
}

// fail marks the session unusable and returns the classified error.
func (s *Session) fail(err error) error {
	err = classify(err)
	s.mu.Lock()
	s.state = StateFailed
	s.failure = err
	s.mu.Unlock()
	s.logger().Debug().Err(err).Msg("session.fail")
	return err
}

func (s *Session) armRead(d time.Duration) {
	if dl, ok := s.rw.(deadliner); ok {
		_ = dl.SetReadDeadline(deadline(d))
	}
}

func (s *Session) armWrite(d time.Duration) {
	if dl, ok := s.rw.(deadliner); ok {
		_ = dl.SetWriteDeadline(deadline(d))
	}
}

func deadline(d time.Duration) time.Time {
	if d <= 0 {
		return time.Time{}
	}
	return time.Now().Add(d)
}

// classify maps raw stream errors onto the protocol taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, protocol.ErrTransport) || errors.Is(err, protocol.ErrProtocol) {
		return err
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return fmt.Errorf("%w: %w", protocol.ErrTimeout, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %w", protocol.ErrTimeout, err)
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.ErrClosedPipe) {
		return fmt.Errorf("%w: %w", protocol.ErrUnexpectedEOF, err)
	}
	return fmt.Errorf("%w: %w", protocol.ErrTransport, err)
}

package session

import (
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/cileserver/internal/protocol"
	"github.com/danmuck/cileserver/internal/protocol/frame"
)

// Request is one decoded request. Payload aliases the transfer buffer and is
// only valid until the next call on the session.
type Request struct {
	Command frame.Command
	Path    string
	Payload []byte
}

// FrameError reports a request that was consumed off the stream but cannot be
// dispatched. The stream is still framed; the caller answers it with
// WriteResponse and may keep reading.
type FrameError struct {
	Header frame.RequestHeader
	Err    error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("rejected frame command=%d path_len=%d data_len=%d: %v",
		uint8(e.Header.Command), e.Header.PathLength, e.Header.DataLength, e.Err)
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// Status is the response status the rejection maps to.
func (e *FrameError) Status() frame.Status {
	if errors.Is(e.Err, protocol.ErrRequestTooLarge) {
		return frame.StatusTooLarge
	}
	return frame.StatusBadRequest
}

// ReadRequest blocks for the next request. A clean close between frames
// returns io.EOF. Rejected frames are drained and returned as *FrameError.
func (s *Session) ReadRequest() (Request, error) {
	if err := s.begin(); err != nil {
		return Request{}, err
	}
	defer s.end()

	h, err := s.readRequestHeader()
	if errors.Is(err, io.EOF) {
		return Request{}, io.EOF
	}
	if err != nil && !errors.Is(err, protocol.ErrUnknownCommand) {
		return Request{}, s.fail(err)
	}
	if err == nil {
		err = h.Check(frame.LimitsFor(s.Capacity()))
	}
	s.armRead(s.cfg.ReadTimeout)
	if err != nil {
		return Request{}, s.reject(h, err)
	}

	if err := frame.ReadBody(s.rw, s.buf[:h.PathLength]); err != nil {
		return Request{}, s.fail(err)
	}
	path := string(s.buf[:h.PathLength])
	payload := s.buf[:h.DataLength]
	if err := frame.ReadBody(s.rw, payload); err != nil {
		return Request{}, s.fail(err)
	}
	s.setState(StateRequestReceived)

	return Request{Command: h.Command, Path: path, Payload: payload}, nil
}

// readRequestHeader waits for the first header byte under IdleTimeout and
// reads the rest under ReadTimeout.
func (s *Session) readRequestHeader() (frame.RequestHeader, error) {
	hdr := s.buf[:frame.RequestHeaderLen]
	s.armRead(s.cfg.IdleTimeout)
	if _, err := io.ReadFull(s.rw, hdr[:1]); err != nil {
		return frame.RequestHeader{}, err
	}
	s.armRead(s.cfg.ReadTimeout)
	if n, err := io.ReadFull(s.rw, hdr[1:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return frame.RequestHeader{}, fmt.Errorf("%w: have %d of %d bytes", protocol.ErrTruncated, n+1, len(hdr))
		}
		return frame.RequestHeader{}, err
	}
	return frame.DecodeRequestHeader(hdr)
}

// reject drains a frame that will not be dispatched so the next header lines
// up, or fails the session when the frame is beyond MaxDrain.
func (s *Session) reject(h frame.RequestHeader, cause error) error {
	if h.FrameLen() > s.cfg.MaxDrain {
		return s.fail(fmt.Errorf("%w: %d > %d bytes: %w", protocol.ErrDrainLimit, h.FrameLen(), s.cfg.MaxDrain, cause))
	}
	if err := frame.Discard(s.rw, h.FrameLen()); err != nil {
		return s.fail(err)
	}
	s.setState(StateRequestReceived)
	s.logger().Debug().Err(cause).Int64("drained", h.FrameLen()).Msg("session.ReadRequest rejected")
	return &FrameError{Header: h, Err: cause}
}

// WriteResponse answers the request read last. The payload must fit the
// transfer buffer, the same ceiling the peer enforces.
func (s *Session) WriteResponse(status frame.Status, payload []byte) error {
	if len(payload) > s.Capacity() {
		return fmt.Errorf("%w: %d > %d bytes", protocol.ErrResponseTooLarge, len(payload), s.Capacity())
	}
	if err := s.begin(); err != nil {
		return err
	}
	defer s.end()

	s.armWrite(s.cfg.WriteTimeout)
	if err := frame.WriteResponse(s.rw, status, payload); err != nil {
		if errors.Is(err, protocol.ErrUnknownStatus) {
			return err
		}
		return s.fail(err)
	}
	s.setState(StateComplete)
	return nil
}

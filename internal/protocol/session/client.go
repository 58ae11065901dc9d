package session

import (
	"fmt"
	"io"
	"strings"

	"github.com/danmuck/cileserver/internal/protocol"
	"github.com/danmuck/cileserver/internal/protocol/frame"
	"github.com/danmuck/cileserver/internal/protocol/listing"
)

// RemoteError is a non-OK response. It is ordinary protocol data: the
// exchange completed and the session stays usable.
type RemoteError struct {
	Command frame.Command
	Status  frame.Status
	Message string
	// Truncated is set when the server sent a message larger than the buffer.
	Truncated bool
}

func (e *RemoteError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "no message"
	}
	if e.Truncated {
		msg += " [truncated]"
	}
	return fmt.Sprintf("%s: server returned %s: %s", e.Command, e.Status, msg)
}

// Is matches ErrBackend for operation failures and ErrRejected for requests
// the server refused to dispatch.
func (e *RemoteError) Is(target error) bool {
	switch target {
	case protocol.ErrBackend:
		return e.Status == frame.StatusError
	case protocol.ErrRejected:
		return e.Status == frame.StatusBadRequest || e.Status == frame.StatusTooLarge
	}
	return false
}

// List requests the entries of a remote directory.
func (s *Session) List(path string) ([]listing.Entry, error) {
	var entries []listing.Entry
	err := s.exchange(frame.CmdList, path, nil, func(body []byte) error {
		out, err := listing.Decode(body)
		if err != nil {
			return err
		}
		entries = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Get downloads a remote file. The result is a copy owned by the caller.
func (s *Session) Get(path string) ([]byte, error) {
	var data []byte
	err := s.exchange(frame.CmdGet, path, nil, func(body []byte) error {
		data = append(make([]byte, 0, len(body)), body...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Put uploads data in a single frame and returns the server's confirmation.
func (s *Session) Put(path string, data []byte) (string, error) {
	if strings.HasSuffix(path, "/") {
		return "", fmt.Errorf("%w: %q", protocol.ErrPathIsDirectory, path)
	}
	if len(data) > s.Capacity() {
		return "", fmt.Errorf("%w: %d > %d bytes", protocol.ErrPayloadTooLarge, len(data), s.Capacity())
	}
	return s.confirm(frame.CmdPut, path, data)
}

func (s *Session) Delete(path string) (string, error) {
	return s.confirm(frame.CmdDelete, path, nil)
}

func (s *Session) Mkdir(path string) (string, error) {
	return s.confirm(frame.CmdMkdir, path, nil)
}

func (s *Session) confirm(cmd frame.Command, path string, payload []byte) (string, error) {
	var msg string
	err := s.exchange(cmd, path, payload, func(body []byte) error {
		msg = string(body)
		return nil
	})
	return msg, err
}

// exchange sends one request and reads its response. onOK sees the payload
// while it still lives in the transfer buffer.
func (s *Session) exchange(cmd frame.Command, path string, payload []byte, onOK func([]byte) error) error {
	if path == "" {
		return protocol.ErrEmptyPath
	}
	req, err := frame.NewRequestHeader(cmd, path, len(payload))
	if err != nil {
		return err
	}
	if err := s.begin(); err != nil {
		return err
	}
	defer s.end()

	s.armWrite(s.cfg.WriteTimeout)
	if _, err := s.rw.Write(frame.AppendRequestHeader(s.buf[:0], req)); err != nil {
		return s.fail(err)
	}
	s.setState(StateHeaderSent)
	if err := s.writeBody(path, payload); err != nil {
		return s.fail(err)
	}
	s.setState(StateAwaitingResponseHeader)

	s.armRead(s.cfg.ReadTimeout)
	h, err := frame.ReadResponseHeader(s.rw, s.buf)
	if err != nil {
		return s.fail(err)
	}
	s.setState(StateAwaitingResponsePayload)

	if h.Status != frame.StatusOK {
		return s.readRemoteError(cmd, h)
	}

	// The ceiling is checked before a single payload byte leaves the stream.
	if int64(h.DataLength) > int64(s.Capacity()) {
		return s.fail(fmt.Errorf("%w: %d > %d bytes", protocol.ErrResponseTooLarge, h.DataLength, s.Capacity()))
	}
	body := s.buf[:h.DataLength]
	s.armRead(s.cfg.ReadTimeout)
	if err := frame.ReadBody(s.rw, body); err != nil {
		return s.fail(err)
	}
	s.setState(StateComplete)

	s.logger().Debug().
		Str("command", cmd.String()).
		Str("path", path).
		Int("bytes", len(body)).
		Msg("session.exchange ok")

	// A decode failure here leaves the stream framed; the session stays usable.
	return onOK(body)
}

func (s *Session) writeBody(path string, payload []byte) error {
	if _, err := io.WriteString(s.rw, path); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := s.rw.Write(payload)
	return err
}

// readRemoteError consumes an error payload. Messages beyond the buffer are
// read up to capacity and the rest discarded so the stream stays framed.
func (s *Session) readRemoteError(cmd frame.Command, h frame.ResponseHeader) error {
	n := min(int64(h.DataLength), int64(s.Capacity()))
	s.armRead(s.cfg.ReadTimeout)
	if err := frame.ReadBody(s.rw, s.buf[:n]); err != nil {
		return s.fail(err)
	}
	rest := int64(h.DataLength) - n
	if err := frame.Discard(s.rw, rest); err != nil {
		return s.fail(err)
	}
	s.setState(StateComplete)

	rerr := &RemoteError{
		Command:   cmd,
		Status:    h.Status,
		Message:   string(s.buf[:n]),
		Truncated: rest > 0,
	}
	if rerr.Truncated {
		s.logger().Warn().
			Str("command", cmd.String()).
			Uint32("declared", h.DataLength).
			Int64("discarded", rest).
			Msg("session.exchange error message truncated")
	}
	return rerr
}

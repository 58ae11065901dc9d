package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/danmuck/cileserver/internal/protocol"
)

const (
	// RequestHeaderLen is [command:u8][path_length:u16][data_length:u32].
	RequestHeaderLen = 1 + 2 + 4
	// ResponseHeaderLen is [status:u8][data_length:u32].
	ResponseHeaderLen = 1 + 4

	MaxPathLen = math.MaxUint16
	MaxDataLen = math.MaxUint32
)

// RequestHeader is the fixed request header.
type RequestHeader struct {
	Command    Command
	PathLength uint16
	DataLength uint32
}

// ResponseHeader is the fixed response header.
type ResponseHeader struct {
	Status     Status
	DataLength uint32
}

// Limits bounds how many bytes a reader accepts for a declared length.
type Limits struct {
	MaxPathBytes uint32
	MaxDataBytes uint32
}

// LimitsFor returns limits that fit one transfer buffer of size capacity.
func LimitsFor(capacity int) Limits {
	var c uint32
	switch {
	case capacity <= 0:
	case uint64(capacity) > MaxDataLen:
		c = MaxDataLen
	default:
		c = uint32(capacity)
	}
	return Limits{MaxPathBytes: min(c, MaxPathLen), MaxDataBytes: c}
}

// EncodeRequest builds one complete request frame.
func EncodeRequest(cmd Command, path string, payload []byte) ([]byte, error) {
	h, err := NewRequestHeader(cmd, path, len(payload))
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, RequestHeaderLen+len(path)+len(payload))
	out = AppendRequestHeader(out, h)
	out = append(out, path...)
	out = append(out, payload...)
	return out, nil
}

// NewRequestHeader validates lengths and builds the header for one request.
func NewRequestHeader(cmd Command, path string, payloadLen int) (RequestHeader, error) {
	if !cmd.Valid() {
		return RequestHeader{}, fmt.Errorf("%w: %d", protocol.ErrUnknownCommand, uint8(cmd))
	}
	if len(path) > MaxPathLen {
		return RequestHeader{}, fmt.Errorf("%w: %d bytes", protocol.ErrPathTooLong, len(path))
	}
	if payloadLen < 0 || uint64(payloadLen) > MaxDataLen {
		return RequestHeader{}, fmt.Errorf("%w: %d bytes", protocol.ErrPayloadTooLarge, payloadLen)
	}
	return RequestHeader{
		Command:    cmd,
		PathLength: uint16(len(path)),
		DataLength: uint32(payloadLen),
	}, nil
}

func AppendRequestHeader(dst []byte, h RequestHeader) []byte {
	dst = append(dst, byte(h.Command))
	dst = binary.BigEndian.AppendUint16(dst, h.PathLength)
	dst = binary.BigEndian.AppendUint32(dst, h.DataLength)
	return dst
}

// DecodeRequestHeader decodes the fixed request header from b. An unknown
// command still returns the decoded lengths so the caller can drain the frame.
func DecodeRequestHeader(b []byte) (RequestHeader, error) {
	if len(b) < RequestHeaderLen {
		return RequestHeader{}, fmt.Errorf("%w: have %d of %d bytes", protocol.ErrTruncated, len(b), RequestHeaderLen)
	}
	h := RequestHeader{
		Command:    Command(b[0]),
		PathLength: binary.BigEndian.Uint16(b[1:3]),
		DataLength: binary.BigEndian.Uint32(b[3:7]),
	}
	if !h.Command.Valid() {
		return h, fmt.Errorf("%w: %d", protocol.ErrUnknownCommand, b[0])
	}
	return h, nil
}

// EncodeResponse builds one complete response frame.
func EncodeResponse(status Status, payload []byte) ([]byte, error) {
	h, err := NewResponseHeader(status, len(payload))
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, ResponseHeaderLen+len(payload))
	out = AppendResponseHeader(out, h)
	out = append(out, payload...)
	return out, nil
}

func NewResponseHeader(status Status, payloadLen int) (ResponseHeader, error) {
	if !status.Valid() {
		return ResponseHeader{}, fmt.Errorf("%w: %d", protocol.ErrUnknownStatus, uint8(status))
	}
	if payloadLen < 0 || uint64(payloadLen) > MaxDataLen {
		return ResponseHeader{}, fmt.Errorf("%w: %d bytes", protocol.ErrPayloadTooLarge, payloadLen)
	}
	return ResponseHeader{Status: status, DataLength: uint32(payloadLen)}, nil
}

func AppendResponseHeader(dst []byte, h ResponseHeader) []byte {
	dst = append(dst, byte(h.Status))
	dst = binary.BigEndian.AppendUint32(dst, h.DataLength)
	return dst
}

func DecodeResponseHeader(b []byte) (ResponseHeader, error) {
	if len(b) < ResponseHeaderLen {
		return ResponseHeader{}, fmt.Errorf("%w: have %d of %d bytes", protocol.ErrTruncated, len(b), ResponseHeaderLen)
	}
	h := ResponseHeader{
		Status:     Status(b[0]),
		DataLength: binary.BigEndian.Uint32(b[1:5]),
	}
	if !h.Status.Valid() {
		return h, fmt.Errorf("%w: %d", protocol.ErrUnknownStatus, b[0])
	}
	return h, nil
}

// Check reports whether the declared lengths of h fit limits.
func (h RequestHeader) Check(limits Limits) error {
	if uint32(h.PathLength) > limits.MaxPathBytes {
		return fmt.Errorf("%w: path %d > %d", protocol.ErrRequestTooLarge, h.PathLength, limits.MaxPathBytes)
	}
	if h.DataLength > limits.MaxDataBytes {
		return fmt.Errorf("%w: data %d > %d", protocol.ErrRequestTooLarge, h.DataLength, limits.MaxDataBytes)
	}
	return nil
}

// FrameLen is the number of bytes that follow the fixed header.
func (h RequestHeader) FrameLen() int64 {
	return int64(h.PathLength) + int64(h.DataLength)
}

// ReadRequestHeader reads exactly one request header from r into scratch,
// which must hold at least RequestHeaderLen bytes. A clean close before the
// first byte returns io.EOF.
func ReadRequestHeader(r io.Reader, scratch []byte) (RequestHeader, error) {
	if err := readFixed(r, scratch[:RequestHeaderLen]); err != nil {
		return RequestHeader{}, err
	}
	return DecodeRequestHeader(scratch[:RequestHeaderLen])
}

func ReadResponseHeader(r io.Reader, scratch []byte) (ResponseHeader, error) {
	if err := readFixed(r, scratch[:ResponseHeaderLen]); err != nil {
		return ResponseHeader{}, err
	}
	return DecodeResponseHeader(scratch[:ResponseHeaderLen])
}

// WriteRequest writes one request frame to w without copying the payload.
func WriteRequest(w io.Writer, cmd Command, path string, payload []byte) error {
	h, err := NewRequestHeader(cmd, path, len(payload))
	if err != nil {
		return err
	}
	var hb [RequestHeaderLen]byte
	if _, err := w.Write(AppendRequestHeader(hb[:0], h)); err != nil {
		return err
	}
	if len(path) > 0 {
		if _, err := io.WriteString(w, path); err != nil {
			return err
		}
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return err
		}
	}
	return nil
}

func WriteResponse(w io.Writer, status Status, payload []byte) error {
	h, err := NewResponseHeader(status, len(payload))
	if err != nil {
		return err
	}
	var hb [ResponseHeaderLen]byte
	if _, err := w.Write(AppendResponseHeader(hb[:0], h)); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return err
		}
	}
	return nil
}

// ReadBody fills dst from r. A short read is reported as ErrUnexpectedEOF.
func ReadBody(r io.Reader, dst []byte) error {
	if len(dst) == 0 {
		return nil
	}
	if _, err := io.ReadFull(r, dst); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return protocol.ErrUnexpectedEOF
		}
		return err
	}
	return nil
}

// Discard consumes n bytes from r without buffering them.
func Discard(r io.Reader, n int64) error {
	if n <= 0 {
		return nil
	}
	if _, err := io.CopyN(io.Discard, r, n); err != nil {
		if errors.Is(err, io.EOF) {
			return protocol.ErrUnexpectedEOF
		}
		return err
	}
	return nil
}

func readFixed(r io.Reader, dst []byte) error {
	n, err := io.ReadFull(r, dst)
	if err == nil {
		return nil
	}
	if errors.Is(err, io.EOF) && n == 0 {
		return io.EOF
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: have %d of %d bytes", protocol.ErrTruncated, n, len(dst))
	}
	return err
}

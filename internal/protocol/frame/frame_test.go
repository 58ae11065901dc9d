package frame

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/danmuck/cileserver/internal/protocol"
)

const testCapacity = 4096

var allCommands = []Command{CmdList, CmdGet, CmdPut, CmdDelete, CmdMkdir}

func TestRequestRoundTripAllCommandsAndSizes(t *testing.T) {
	for _, cmd := range allCommands {
		for _, size := range []int{0, 1, testCapacity} {
			payload := bytes.Repeat([]byte{0xAB}, size)
			raw, err := EncodeRequest(cmd, "/dir/file.txt", payload)
			if err != nil {
				t.Fatalf("encode %s/%d: %v", cmd, size, err)
			}
			h, err := DecodeRequestHeader(raw)
			if err != nil {
				t.Fatalf("decode %s/%d: %v", cmd, size, err)
			}
			if h.Command != cmd || int(h.PathLength) != len("/dir/file.txt") || int(h.DataLength) != size {
				t.Fatalf("header mismatch: got=%+v", h)
			}
			body := raw[RequestHeaderLen:]
			if string(body[:h.PathLength]) != "/dir/file.txt" {
				t.Fatalf("path mismatch: %q", body[:h.PathLength])
			}
			if !bytes.Equal(body[h.PathLength:], payload) {
				t.Fatalf("payload mismatch for %s/%d", cmd, size)
			}
		}
	}
}

func TestResponseRoundTripAllStatusesAndSizes(t *testing.T) {
	for _, status := range []Status{StatusOK, StatusError, StatusBadRequest, StatusTooLarge} {
		for _, size := range []int{0, 1, testCapacity} {
			payload := bytes.Repeat([]byte{0x5A}, size)
			raw, err := EncodeResponse(status, payload)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			h, err := DecodeResponseHeader(raw)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if h.Status != status || int(h.DataLength) != size {
				t.Fatalf("header mismatch: got=%+v", h)
			}
			if !bytes.Equal(raw[ResponseHeaderLen:], payload) {
				t.Fatalf("payload mismatch")
			}
		}
	}
}

func TestRequestHeaderIsBigEndian(t *testing.T) {
	raw, err := EncodeRequest(CmdPut, "ab", []byte{1, 2, 3})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := []byte{3, 0x00, 0x02, 0x00, 0x00, 0x00, 0x03, 'a', 'b', 1, 2, 3}
	if !bytes.Equal(raw, want) {
		t.Fatalf("wire mismatch: got=%v want=%v", raw, want)
	}
}

func TestEncodeRequestPathTooLong(t *testing.T) {
	_, err := EncodeRequest(CmdGet, strings.Repeat("a", MaxPathLen+1), nil)
	if !errors.Is(err, protocol.ErrPathTooLong) {
		t.Fatalf("expected ErrPathTooLong, got %v", err)
	}
	if !errors.Is(err, protocol.ErrProtocol) {
		t.Fatalf("expected protocol class, got %v", err)
	}
	if _, err := EncodeRequest(CmdGet, strings.Repeat("a", MaxPathLen), nil); err != nil {
		t.Fatalf("max path should encode: %v", err)
	}
}

func TestDecodeRequestHeaderTruncated(t *testing.T) {
	_, err := DecodeRequestHeader([]byte{1, 0, 1})
	if !errors.Is(err, protocol.ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}

func TestDecodeRequestHeaderUnknownCommandKeepsLengths(t *testing.T) {
	raw := AppendRequestHeader(nil, RequestHeader{Command: 9, PathLength: 4, DataLength: 2})
	h, err := DecodeRequestHeader(raw)
	if !errors.Is(err, protocol.ErrUnknownCommand) {
		t.Fatalf("expected ErrUnknownCommand, got %v", err)
	}
	if h.PathLength != 4 || h.DataLength != 2 {
		t.Fatalf("lengths lost: %+v", h)
	}
}

func TestDecodeResponseHeaderUnknownStatus(t *testing.T) {
	_, err := DecodeResponseHeader([]byte{0x7F, 0, 0, 0, 0})
	if !errors.Is(err, protocol.ErrUnknownStatus) {
		t.Fatalf("expected ErrUnknownStatus, got %v", err)
	}
}

func TestReadRequestHeaderCleanEOF(t *testing.T) {
	var scratch [RequestHeaderLen]byte
	_, err := ReadRequestHeader(bytes.NewReader(nil), scratch[:])
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}
	_, err = ReadRequestHeader(bytes.NewReader([]byte{1, 0}), scratch[:])
	if !errors.Is(err, protocol.ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}

func TestWriteRequestMatchesEncode(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteRequest(&buf, CmdPut, "/out.bin", []byte("0123456789")); err != nil {
		t.Fatalf("write request: %v", err)
	}
	want, _ := EncodeRequest(CmdPut, "/out.bin", []byte("0123456789"))
	if !bytes.Equal(buf.Bytes(), want) {
		t.Fatalf("stream and buffer encodings differ")
	}
}

func TestHeaderCheckLimits(t *testing.T) {
	limits := LimitsFor(testCapacity)
	ok := RequestHeader{Command: CmdPut, PathLength: 10, DataLength: testCapacity}
	if err := ok.Check(limits); err != nil {
		t.Fatalf("capacity payload should pass: %v", err)
	}
	over := RequestHeader{Command: CmdPut, PathLength: 10, DataLength: testCapacity + 1}
	if err := over.Check(limits); !errors.Is(err, protocol.ErrRequestTooLarge) {
		t.Fatalf("expected ErrRequestTooLarge, got %v", err)
	}
	if over.FrameLen() != 10+testCapacity+1 {
		t.Fatalf("unexpected frame len: %d", over.FrameLen())
	}
}

func TestDiscardShortStream(t *testing.T) {
	err := Discard(bytes.NewReader([]byte{1, 2}), 5)
	if !errors.Is(err, protocol.ErrUnexpectedEOF) {
		t.Fatalf("expected ErrUnexpectedEOF, got %v", err)
	}
}

func TestParseCommand(t *testing.T) {
	for _, cmd := range allCommands {
		got, err := ParseCommand(strings.ToUpper(cmd.String()))
		if err != nil || got != cmd {
			t.Fatalf("parse %s: got=%v err=%v", cmd, got, err)
		}
	}
	if _, err := ParseCommand("rename"); !errors.Is(err, protocol.ErrUnknownCommand) {
		t.Fatalf("expected ErrUnknownCommand, got %v", err)
	}
}

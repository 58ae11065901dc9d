package listing

import (
	"errors"
	"strings"
	"testing"

	"github.com/danmuck/cileserver/internal/protocol"
)

func TestEncodeDecodePreservesOrder(t *testing.T) {
	in := []Entry{
		{Name: "zeta.txt", Size: 12, Modified: 1700000000},
		{Name: "alpha", IsDir: true, Modified: -5},
		{Name: strings.Repeat("n", NameLen), Size: 1 << 40},
	}
	raw, err := Encode(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(raw) != len(in)*RecordSize {
		t.Fatalf("unexpected payload len=%d", len(raw))
	}
	out, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("entry count mismatch: got=%d want=%d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("entry[%d] mismatch: got=%+v want=%+v", i, out[i], in[i])
		}
	}
}

func TestDecodeEmptyPayload(t *testing.T) {
	out, err := Decode(nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out == nil || len(out) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", out)
	}
}

func TestDecodeRejectsPartialRecord(t *testing.T) {
	_, err := Decode(make([]byte, RecordSize+1))
	if !errors.Is(err, protocol.ErrBadListing) {
		t.Fatalf("expected ErrBadListing, got %v", err)
	}
}

func TestEncodeRejectsLongName(t *testing.T) {
	_, err := Encode([]Entry{{Name: strings.Repeat("x", NameLen+1)}})
	if !errors.Is(err, protocol.ErrNameTooLong) {
		t.Fatalf("expected ErrNameTooLong, got %v", err)
	}
}

func TestMaxEntries(t *testing.T) {
	if got := MaxEntries(4096); got != 14 {
		t.Fatalf("unexpected max entries for 4096: %d", got)
	}
	if got := MaxEntries(RecordSize - 1); got != 0 {
		t.Fatalf("unexpected max entries: %d", got)
	}
}

// Package listing encodes LIST payloads: a flat run of fixed-width
// directory-entry records with no count field.
//
// Record layout (RecordSize bytes, big-endian):
//
//	offset 0   name      [256]byte NUL-padded
//	offset 256 size      u64
//	offset 264 flags     u8 (bit0 = directory)
//	offset 265 reserved  [7]byte
//	offset 272 mtime     i64 seconds since epoch
package listing

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/danmuck/cileserver/internal/protocol"
)

const (
	NameLen    = 256
	RecordSize = NameLen + 8 + 1 + 7 + 8

	offSize  = NameLen
	offFlags = offSize + 8
	offMtime = offFlags + 1 + 7

	flagDir = 0x01
)

// Entry is one directory entry.
type Entry struct {
	Name     string
	Size     uint64
	IsDir    bool
	Modified int64
}

// ModTime returns the modification time as a time.Time.
func (e Entry) ModTime() time.Time {
	return time.Unix(e.Modified, 0)
}

// MaxEntries is how many records fit a payload of capacity bytes.
func MaxEntries(capacity int) int {
	if capacity <= 0 {
		return 0
	}
	return capacity / RecordSize
}

// Encode packs entries in order.
func Encode(entries []Entry) ([]byte, error) {
	out := make([]byte, len(entries)*RecordSize)
	for i, e := range entries {
		if err := putRecord(out[i*RecordSize:(i+1)*RecordSize], e); err != nil {
			return nil, fmt.Errorf("entry[%d]: %w", i, err)
		}
	}
	return out, nil
}

// Decode unpacks a LIST payload. An empty payload yields an empty slice.
func Decode(payload []byte) ([]Entry, error) {
	if len(payload)%RecordSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes", protocol.ErrBadListing, len(payload))
	}
	entries := make([]Entry, 0, len(payload)/RecordSize)
	for off := 0; off < len(payload); off += RecordSize {
		entries = append(entries, getRecord(payload[off:off+RecordSize]))
	}
	return entries, nil
}

func putRecord(rec []byte, e Entry) error {
	if len(e.Name) > NameLen {
		return fmt.Errorf("%w: %d bytes", protocol.ErrNameTooLong, len(e.Name))
	}
	if bytes.IndexByte([]byte(e.Name), 0) >= 0 {
		return fmt.Errorf("%w: name contains NUL", protocol.ErrNameTooLong)
	}
	copy(rec[:NameLen], e.Name)
	binary.BigEndian.PutUint64(rec[offSize:offSize+8], e.Size)
	if e.IsDir {
		rec[offFlags] = flagDir
	}
	binary.BigEndian.PutUint64(rec[offMtime:offMtime+8], uint64(e.Modified))
	return nil
}

func getRecord(rec []byte) Entry {
	name := rec[:NameLen]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	return Entry{
		Name:     string(name),
		Size:     binary.BigEndian.Uint64(rec[offSize : offSize+8]),
		IsDir:    rec[offFlags]&flagDir != 0,
		Modified: int64(binary.BigEndian.Uint64(rec[offMtime : offMtime+8])),
	}
}

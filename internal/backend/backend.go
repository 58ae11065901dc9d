// Package backend executes dispatched commands against a filesystem.
package backend

import (
	"errors"

	"github.com/danmuck/cileserver/internal/protocol/listing"
)

var (
	ErrInvalidPath  = errors.New("backend: invalid path")
	ErrNotFound     = errors.New("backend: no such file or directory")
	ErrExist        = errors.New("backend: already exists")
	ErrIsDirectory  = errors.New("backend: is a directory")
	ErrNotDirectory = errors.New("backend: not a directory")
	ErrNotEmpty     = errors.New("backend: directory not empty")
	ErrTooLarge     = errors.New("backend: file too large")
)

// Backend is what the server needs from storage. Paths use '/' separators
// and are resolved against the backend root.
type Backend interface {
	List(path string) ([]listing.Entry, error)
	// Read returns the whole file, failing with ErrTooLarge beyond max bytes.
	Read(path string, max int64) ([]byte, error)
	Write(path string, data []byte) error
	// Delete removes a file or an empty directory.
	Delete(path string) error
	// Mkdir creates exactly one directory level.
	Mkdir(path string) error
}

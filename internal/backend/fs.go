package backend

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/danmuck/cileserver/internal/protocol/listing"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
)

const (
	filePerm = 0o644
	dirPerm  = 0o755
)

// FS is a Backend over a go-billy filesystem. All paths are confined to the
// filesystem root.
type FS struct {
	bfs billy.Filesystem
}

var _ Backend = (*FS)(nil)

// NewOS roots a backend at dir on the local disk. Symlinks cannot escape dir.
func NewOS(dir string) (*FS, error) {
	root := strings.TrimSpace(dir)
	if root == "" {
		return nil, fmt.Errorf("%w: empty root", ErrInvalidPath)
	}
	if err := os.MkdirAll(root, dirPerm); err != nil {
		return nil, fmt.Errorf("backend: create root %s: %w", root, err)
	}
	return New(osfs.New(root, osfs.WithBoundOS())), nil
}

// NewMemory returns an empty in-memory backend.
func NewMemory() *FS {
	return New(memfs.New())
}

// New wraps an existing billy filesystem.
func New(bfs billy.Filesystem) *FS {
	return &FS{bfs: bfs}
}

func (f *FS) List(p string) ([]listing.Entry, error) {
	rel, err := Resolve(p)
	if err != nil {
		return nil, err
	}
	if rel != "." {
		info, err := f.bfs.Stat(rel)
		if err != nil {
			return nil, mapErr(p, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("%w: %s", ErrNotDirectory, p)
		}
	}
	infos, err := f.bfs.ReadDir(rel)
	if err != nil {
		if rel == "." && errors.Is(err, os.ErrNotExist) {
			return []listing.Entry{}, nil
		}
		return nil, mapErr(p, err)
	}
	entries := make([]listing.Entry, 0, len(infos))
	for _, info := range infos {
		e := listing.Entry{
			Name:     info.Name(),
			IsDir:    info.IsDir(),
			Modified: info.ModTime().Unix(),
		}
		if !info.IsDir() && info.Size() > 0 {
			e.Size = uint64(info.Size())
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (f *FS) Read(p string, max int64) ([]byte, error) {
	rel, err := Resolve(p)
	if err != nil {
		return nil, err
	}
	info, err := f.bfs.Stat(rel)
	if err != nil {
		return nil, mapErr(p, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrIsDirectory, p)
	}
	if info.Size() > max {
		return nil, fmt.Errorf("%w: %s is %d bytes, limit %d", ErrTooLarge, p, info.Size(), max)
	}
	file, err := f.bfs.Open(rel)
	if err != nil {
		return nil, mapErr(p, err)
	}
	defer func() { _ = file.Close() }()

	// The file may grow between Stat and Open.
	data, err := io.ReadAll(io.LimitReader(file, max+1))
	if err != nil {
		return nil, mapErr(p, err)
	}
	if int64(len(data)) > max {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrTooLarge, p, max)
	}
	return data, nil
}

func (f *FS) Write(p string, data []byte) error {
	rel, err := Resolve(p)
	if err != nil {
		return err
	}
	if rel == "." {
		return fmt.Errorf("%w: %s", ErrIsDirectory, p)
	}
	if info, err := f.bfs.Stat(rel); err == nil && info.IsDir() {
		return fmt.Errorf("%w: %s", ErrIsDirectory, p)
	}
	if err := f.requireParent(p, rel); err != nil {
		return err
	}
	if err := util.WriteFile(f.bfs, rel, data, filePerm); err != nil {
		return mapErr(p, err)
	}
	return nil
}

func (f *FS) Delete(p string) error {
	rel, err := Resolve(p)
	if err != nil {
		return err
	}
	if rel == "." {
		return fmt.Errorf("%w: cannot delete root", ErrInvalidPath)
	}
	info, err := f.bfs.Stat(rel)
	if err != nil {
		return mapErr(p, err)
	}
	if info.IsDir() {
		children, err := f.bfs.ReadDir(rel)
		if err != nil {
			return mapErr(p, err)
		}
		if len(children) > 0 {
			return fmt.Errorf("%w: %s", ErrNotEmpty, p)
		}
	}
	if err := f.bfs.Remove(rel); err != nil {
		return mapErr(p, err)
	}
	return nil
}

func (f *FS) Mkdir(p string) error {
	rel, err := Resolve(p)
	if err != nil {
		return err
	}
	if rel == "." {
		return fmt.Errorf("%w: %s", ErrExist, p)
	}
	if _, err := f.bfs.Stat(rel); err == nil {
		return fmt.Errorf("%w: %s", ErrExist, p)
	}
	if err := f.requireParent(p, rel); err != nil {
		return err
	}
	// The parent exists, so MkdirAll creates exactly one level.
	if err := f.bfs.MkdirAll(rel, dirPerm); err != nil {
		return mapErr(p, err)
	}
	return nil
}

func (f *FS) requireParent(p, rel string) error {
	parent := path.Dir(rel)
	if parent == "." {
		return nil
	}
	info, err := f.bfs.Stat(parent)
	if err != nil {
		return fmt.Errorf("parent of %s: %w", p, mapErr(p, err))
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: parent of %s", ErrNotDirectory, p)
	}
	return nil
}

// Resolve normalizes a wire path to a root-relative billy path. The root
// itself resolves to ".". Paths may not climb out of the root.
func Resolve(p string) (string, error) {
	if strings.IndexByte(p, 0) >= 0 {
		return "", fmt.Errorf("%w: NUL not allowed", ErrInvalidPath)
	}
	if strings.Contains(p, "\\") {
		return "", fmt.Errorf("%w: backslash not allowed", ErrInvalidPath)
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w: .. segment not allowed", ErrInvalidPath)
		}
	}
	clean := strings.TrimPrefix(path.Clean("/"+p), "/")
	if clean == "" {
		return ".", nil
	}
	return clean, nil
}

func mapErr(p string, err error) error {
	switch {
	case errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("%w: %s", ErrNotFound, p)
	case errors.Is(err, os.ErrExist):
		return fmt.Errorf("%w: %s", ErrExist, p)
	case errors.Is(err, os.ErrPermission):
		return fmt.Errorf("backend: permission denied: %s", p)
	default:
		return fmt.Errorf("backend: %s: %w", p, err)
	}
}

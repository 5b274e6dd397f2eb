// Package vfs provides the filesystem capability handed to every component
// that reads or writes build output.
//
// Development builds use a memory-backed store so compiled assets and
// prerendered pages are servable without touching disk. Production builds
// use the same interface backed by the real filesystem.
//
// Names are paths relative to the project root. Absolute paths are accepted
// when they lie under the root.
package vfs

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
)

// ErrOutsideRoot is returned for absolute names that are not under the root.
var ErrOutsideRoot = stderrors.New("vfs: path outside root")

// WalkFunc is called for every file and directory below the walked
// directory. name is relative to the project root.
type WalkFunc func(name string, info os.FileInfo) error

// FS is a filesystem rooted at the project directory.
type FS interface {
	// Stat returns file info for name.
	Stat(name string) (os.FileInfo, error)

	// ReadFile returns the contents of name.
	ReadFile(name string) ([]byte, error)

	// ReadFileAsync reads name on a new goroutine and calls cb with the result.
	ReadFileAsync(name string, cb func([]byte, error))

	// WriteFile replaces the contents of name, creating parent directories.
	// Readers observe either the old or the new contents, never a mix.
	WriteFile(name string, data []byte) error

	// MkdirAll creates name and any missing parents.
	MkdirAll(name string) error

	// RemoveAll removes name and everything below it.
	RemoveAll(name string) error

	// Walk visits every entry below dir in lexical order.
	// Walking a missing directory visits nothing.
	Walk(dir string, fn WalkFunc) error

	// Root returns the absolute project root.
	Root() string

	// Virtual reports whether the store is memory-backed.
	Virtual() bool
}

// Store implements FS on top of a billy filesystem.
type Store struct {
	mu      sync.RWMutex
	fs      billy.Filesystem
	root    string
	virtual bool
}

// NewMemory creates an in-memory store for the project at root.
func NewMemory(root string) *Store {
	return &Store{fs: memfs.New(), root: absRoot(root), virtual: true}
}

// NewDisk creates a store backed by the real filesystem under root.
func NewDisk(root string) *Store {
	r := absRoot(root)
	return &Store{fs: osfs.New(r), root: r}
}

func absRoot(root string) string {
	if abs, err := filepath.Abs(root); err == nil {
		return abs
	}
	return filepath.Clean(root)
}

// Root returns the absolute project root.
func (s *Store) Root() string { return s.root }

// Virtual reports whether the store is memory-backed.
func (s *Store) Virtual() bool { return s.virtual }

// rel converts name into a clean path relative to the root.
func (s *Store) rel(name string) (string, error) {
	if filepath.IsAbs(name) {
		r, err := filepath.Rel(s.root, name)
		if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
			return "", fmt.Errorf("%w: %s", ErrOutsideRoot, name)
		}
		return r, nil
	}
	r := filepath.Clean(name)
	if r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, name)
	}
	return r, nil
}

// Stat returns file info for name.
func (s *Store) Stat(name string) (os.FileInfo, error) {
	p, err := s.rel(name)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fs.Stat(p)
}

// ReadFile returns the contents of name.
func (s *Store) ReadFile(name string) ([]byte, error) {
	p, err := s.rel(name)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return util.ReadFile(s.fs, p)
}

// ReadFileAsync reads name on a new goroutine and calls cb with the result.
func (s *Store) ReadFileAsync(name string, cb func([]byte, error)) {
	go func() {
		cb(s.ReadFile(name))
	}()
}

// WriteFile writes data to a temporary file next to name and renames it
// into place.
func (s *Store) WriteFile(name string, data []byte) error {
	p, err := s.rel(name)
	if err != nil {
		return err
	}
	dir := filepath.Dir(p)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fs.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := s.fs.TempFile(dir, ".tmp-"+filepath.Base(p)+"-")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		s.fs.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		s.fs.Remove(tmpName)
		return err
	}
	if ch, ok := s.fs.(billy.Change); ok {
		ch.Chmod(tmpName, 0644)
	}
	if err := s.fs.Rename(tmpName, p); err != nil {
		s.fs.Remove(tmpName)
		return err
	}
	return nil
}

// MkdirAll creates name and any missing parents.
func (s *Store) MkdirAll(name string) error {
	p, err := s.rel(name)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fs.MkdirAll(p, 0755)
}

// RemoveAll removes name and everything below it.
func (s *Store) RemoveAll(name string) error {
	p, err := s.rel(name)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.fs.Lstat(p); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return util.RemoveAll(s.fs, p)
}

// Walk visits every entry below dir in lexical order.
// The read lock is held for the whole walk.
func (s *Store) Walk(dir string, fn WalkFunc) error {
	p, err := s.rel(dir)
	if err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := s.fs.Stat(p); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return util.Walk(s.fs, p, func(name string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		return fn(name, info)
	})
}

// CopyTree copies every regular file below srcDir in src to the same
// relative location below dstDir in dst. It returns the number of files
// copied. A missing srcDir copies nothing.
func CopyTree(src FS, srcDir string, dst FS, dstDir string) (int, error) {
	base, err := relTo(src, srcDir)
	if err != nil {
		return 0, err
	}
	type file struct {
		name string
		data []byte
	}
	var files []file
	err = src.Walk(srcDir, func(name string, info os.FileInfo) error {
		if info.IsDir() || !info.Mode().IsRegular() {
			return nil
		}
		data, err := src.ReadFile(name)
		if err != nil {
			return err
		}
		r, err := filepath.Rel(base, name)
		if err != nil {
			return err
		}
		files = append(files, file{name: filepath.Join(dstDir, r), data: data})
		return nil
	})
	if err != nil {
		return 0, err
	}
	for _, f := range files {
		if err := dst.WriteFile(f.name, f.data); err != nil {
			return 0, err
		}
	}
	return len(files), nil
}

// relTo returns dir relative to the root of fsys.
func relTo(fsys FS, dir string) (string, error) {
	if !filepath.IsAbs(dir) {
		return filepath.Clean(dir), nil
	}
	r, err := filepath.Rel(fsys.Root(), dir)
	if err != nil || strings.HasPrefix(r, "..") {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, dir)
	}
	return r, nil
}

// IsNotExist reports whether err means a file does not exist.
func IsNotExist(err error) bool {
	return stderrors.Is(err, fs.ErrNotExist)
}

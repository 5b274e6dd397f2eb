// Package watch provides recursive directory subscriptions on top of
// fsnotify, and the content watcher that keeps one subscription per
// content directory.
package watch

import (
	stderrors "errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// DefaultIgnore contains path segments and name globs that never fire.
var DefaultIgnore = []string{
	".git",
	"node_modules",
	"*.tmp",
	"*.swp",
	"*.swx",
	"*~",
	"4913",
}

// Event is a qualifying filesystem change.
type Event struct {
	Path string
	Op   fsnotify.Op
}

// Handler receives events for one subscription.
type Handler func(Event)

// Watcher attaches recursive subscriptions.
type Watcher struct {
	// Ignore holds path segments and name globs to skip. Hidden files are
	// always skipped.
	Ignore []string

	// IgnoreDirs holds absolute directories whose contents never fire.
	IgnoreDirs []string

	// OnError receives watcher errors. Nil drops them.
	OnError func(error)
}

// New creates a Watcher with DefaultIgnore plus extra.
func New(extra ...string) *Watcher {
	ignore := append([]string{}, DefaultIgnore...)
	ignore = append(ignore, extra...)
	return &Watcher{Ignore: ignore}
}

// Subscription is one watcher bound to one directory tree with one handler.
type Subscription struct {
	dir        string
	fsw        *fsnotify.Watcher
	handler    Handler
	ignore     []string
	ignoreDirs []string
	onError    func(error)

	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// Attach subscribes handler to every change below dir, including
// directories created later. No events are delivered for files that
// already exist at attach time.
func (w *Watcher) Attach(dir string, handler Handler) (*Subscription, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch %s: not a directory", dir)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("fsnotify: %w", err)
	}

	s := &Subscription{
		dir:        abs,
		fsw:        fsw,
		handler:    handler,
		ignore:     w.Ignore,
		ignoreDirs: w.IgnoreDirs,
		onError:    w.OnError,
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
	if err := s.addRecursive(abs); err != nil {
		fsw.Close()
		return nil, err
	}

	go s.loop()
	return s, nil
}

// Dir returns the absolute directory the subscription is bound to.
func (s *Subscription) Dir() string {
	return s.dir
}

// Close detaches the subscription and waits for its event loop to exit.
// It must not be called from the subscription's own handler.
func (s *Subscription) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.closeErr = s.fsw.Close()
		<-s.stopped
	})
	return s.closeErr
}

func (s *Subscription) loop() {
	defer close(s.stopped)
	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-s.fsw.Events:
			if !ok {
				return
			}
			s.handle(ev)
		case err, ok := <-s.fsw.Errors:
			if !ok {
				return
			}
			if s.onError != nil {
				s.onError(err)
			}
		}
	}
}

func (s *Subscription) handle(ev fsnotify.Event) {
	if ev.Op == fsnotify.Chmod || s.shouldIgnore(ev.Name) {
		return
	}
	if ev.Has(fsnotify.Create) {
		if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
			if err := s.addRecursive(ev.Name); err != nil && s.onError != nil {
				s.onError(err)
			}
		}
	}
	select {
	case <-s.done:
		return
	default:
	}
	s.handler(Event{Path: ev.Name, Op: ev.Op})
}

func (s *Subscription) addRecursive(root string) error {
	return filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != root && s.shouldIgnore(p) {
			return filepath.SkipDir
		}
		if err := s.fsw.Add(p); err != nil {
			return fmt.Errorf("watch %s: %w", p, err)
		}
		return nil
	})
}

// shouldIgnore checks the path relative to the subscription root.
func (s *Subscription) shouldIgnore(fullPath string) bool {
	for _, dir := range s.ignoreDirs {
		if fullPath == dir || strings.HasPrefix(fullPath, dir+string(filepath.Separator)) {
			return true
		}
	}
	rel, err := filepath.Rel(s.dir, fullPath)
	if err != nil {
		rel = fullPath
	}
	return shouldIgnore(filepath.ToSlash(rel), s.ignore)
}

func shouldIgnore(rel string, patterns []string) bool {
	segments := splitPathSegments(rel)
	for _, seg := range segments {
		if strings.HasPrefix(seg, ".") {
			return true
		}
	}
	if len(segments) == 0 {
		return false
	}
	name := segments[len(segments)-1]

	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		if strings.ContainsAny(pattern, "*?[") {
			if matched, _ := path.Match(pattern, name); matched {
				return true
			}
			continue
		}
		for _, seg := range segments {
			if seg == pattern {
				return true
			}
		}
	}
	return false
}

func splitPathSegments(p string) []string {
	if p == "" {
		return nil
	}
	parts := strings.Split(p, "/")
	result := parts[:0]
	for _, part := range parts {
		if part != "" && part != "." {
			result = append(result, part)
		}
	}
	return result
}

// ErrClosed is returned by WatchDirectories after Close.
var ErrClosed = stderrors.New("watch: content watcher closed")

// ContentWatcher keeps exactly one subscription per watched directory.
type ContentWatcher struct {
	watcher *Watcher
	handler Handler

	mu     sync.Mutex
	subs   []*Subscription
	closed bool
}

// NewContentWatcher creates a ContentWatcher delivering every event to handler.
func NewContentWatcher(w *Watcher, handler Handler) *ContentWatcher {
	return &ContentWatcher{watcher: w, handler: handler}
}

// WatchDirectories detaches every existing subscription, then attaches one
// per distinct directory in dirs. Directories that cannot be watched are
// reported in the returned error; the others stay attached. After Close it
// attaches nothing and returns ErrClosed.
func (c *ContentWatcher) WatchDirectories(dirs []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	var errs []error
	for _, sub := range c.subs {
		if err := sub.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.subs = nil

	seen := make(map[string]bool, len(dirs))
	for _, dir := range dirs {
		abs, err := filepath.Abs(dir)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if seen[abs] {
			continue
		}
		seen[abs] = true

		sub, err := c.watcher.Attach(abs, c.handler)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		c.subs = append(c.subs, sub)
	}
	return stderrors.Join(errs...)
}

// Active returns the directories currently subscribed, in attach order.
func (c *ContentWatcher) Active() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	dirs := make([]string, 0, len(c.subs))
	for _, sub := range c.subs {
		dirs = append(dirs, sub.Dir())
	}
	return dirs
}

// Close detaches every subscription.
func (c *ContentWatcher) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	var errs []error
	for _, sub := range c.subs {
		if err := sub.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.subs = nil
	return stderrors.Join(errs...)
}

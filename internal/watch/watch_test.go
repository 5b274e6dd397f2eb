package watch

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
	ch     chan Event
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan Event, 64)}
}

func (r *recorder) handle(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	select {
	case r.ch <- ev:
	default:
	}
}

func (r *recorder) waitFor(t *testing.T, match func(Event) bool) Event {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case ev := <-r.ch:
			if match(ev) {
				return ev
			}
		case <-timeout:
			t.Fatal("timed out waiting for event")
			return Event{}
		}
	}
}

func (r *recorder) quiet(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case ev := <-r.ch:
		t.Fatalf("unexpected event %v", ev)
	case <-time.After(d):
	}
}

func inDir(dir string) func(Event) bool {
	return func(ev Event) bool {
		return strings.HasPrefix(ev.Path, dir+string(filepath.Separator))
	}
}

func TestAttachDeliversChanges(t *testing.T) {
	dir := t.TempDir()
	rec := newRecorder()

	sub, err := New().Attach(dir, rec.handle)
	require.NoError(t, err)
	defer sub.Close()

	target := filepath.Join(dir, "index.md")
	require.NoError(t, os.WriteFile(target, []byte("# hi"), 0644))

	ev := rec.waitFor(t, func(ev Event) bool { return ev.Path == target })
	assert.Equal(t, target, ev.Path)
}

func TestAttachFollowsNewDirectories(t *testing.T) {
	dir := t.TempDir()
	rec := newRecorder()

	sub, err := New().Attach(dir, rec.handle)
	require.NoError(t, err)
	defer sub.Close()

	nested := filepath.Join(dir, "guides")
	require.NoError(t, os.Mkdir(nested, 0755))
	rec.waitFor(t, func(ev Event) bool { return ev.Path == nested })

	// the new directory is watched once its create event has been handled
	time.Sleep(50 * time.Millisecond)
	target := filepath.Join(nested, "intro.md")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0644))
	rec.waitFor(t, func(ev Event) bool { return ev.Path == target })
}

func TestAttachIgnoresHiddenAndSwapFiles(t *testing.T) {
	dir := t.TempDir()
	rec := newRecorder()

	sub, err := New().Attach(dir, rec.handle)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".DS_Store"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "page.md.swp"), []byte("x"), 0644))
	rec.quiet(t, 200*time.Millisecond)
}

func TestAttachMissingDirectory(t *testing.T) {
	_, err := New().Attach(filepath.Join(t.TempDir(), "missing"), func(Event) {})
	assert.Error(t, err)
}

func TestCloseStopsDelivery(t *testing.T) {
	dir := t.TempDir()
	rec := newRecorder()

	sub, err := New().Attach(dir, rec.handle)
	require.NoError(t, err)
	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.md"), []byte("x"), 0644))
	rec.quiet(t, 200*time.Millisecond)
}

func TestWatchDirectoriesRebinds(t *testing.T) {
	root := t.TempDir()
	a := filepath.Join(root, "a")
	b := filepath.Join(root, "b")
	c := filepath.Join(root, "c")
	for _, d := range []string{a, b, c} {
		require.NoError(t, os.Mkdir(d, 0755))
	}

	rec := newRecorder()
	cw := NewContentWatcher(New(), rec.handle)
	defer cw.Close()

	require.NoError(t, cw.WatchDirectories([]string{a, b, a}))
	assert.Equal(t, []string{a, b}, cw.Active())

	require.NoError(t, cw.WatchDirectories([]string{a, c}))
	assert.Equal(t, []string{a, c}, cw.Active())

	require.NoError(t, os.WriteFile(filepath.Join(b, "old.md"), []byte("x"), 0644))
	rec.quiet(t, 200*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(c, "new.md"), []byte("x"), 0644))
	rec.waitFor(t, inDir(c))

	// one subscription for a: a single write yields events from one watcher only
	target := filepath.Join(a, "same.md")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0644))
	rec.waitFor(t, func(ev Event) bool { return ev.Path == target && ev.Op.Has(fsnotify.Create) })
	time.Sleep(100 * time.Millisecond)

	rec.mu.Lock()
	creates := 0
	for _, ev := range rec.events {
		if ev.Path == target && ev.Op.Has(fsnotify.Create) {
			creates++
		}
	}
	rec.mu.Unlock()
	assert.Equal(t, 1, creates)
}

func TestWatchDirectoriesReportsMissing(t *testing.T) {
	root := t.TempDir()
	cw := NewContentWatcher(New(), func(Event) {})
	defer cw.Close()

	err := cw.WatchDirectories([]string{root, filepath.Join(root, "missing")})
	assert.Error(t, err)
	assert.Equal(t, []string{root}, cw.Active())

	require.NoError(t, cw.Close())
	assert.Empty(t, cw.Active())
}

func TestWatchDirectoriesAfterClose(t *testing.T) {
	root := t.TempDir()
	cw := NewContentWatcher(New(), func(Event) {})
	require.NoError(t, cw.WatchDirectories([]string{root}))
	require.NoError(t, cw.Close())

	err := cw.WatchDirectories([]string{root})
	assert.ErrorIs(t, err, ErrClosed)
	assert.Empty(t, cw.Active())
}

func TestShouldIgnore(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"index.md", false},
		{"guides/intro.md", false},
		{".hidden", true},
		{"guides/.cache/x", true},
		{"node_modules/react/index.js", true},
		{"page.md.swp", true},
		{"draft~", true},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, shouldIgnore(tt.path, DefaultIgnore))
		})
	}
}

func TestAttachIgnoresDirectories(t *testing.T) {
	dir := t.TempDir()
	dist := filepath.Join(dir, "dist")
	require.NoError(t, os.Mkdir(dist, 0755))

	rec := newRecorder()
	w := New()
	w.IgnoreDirs = []string{dist}
	sub, err := w.Attach(dir, rec.handle)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dist, "index.html"), []byte("x"), 0644))
	rec.quiet(t, 200*time.Millisecond)

	target := filepath.Join(dir, "index.jsx")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0644))
	rec.waitFor(t, func(ev Event) bool { return ev.Path == target })
}

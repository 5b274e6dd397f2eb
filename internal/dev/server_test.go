package dev

import (
	"context"
	stderrors "errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vango-dev/pages/internal/bundler"
	"github.com/vango-dev/pages/internal/config"
	"github.com/vango-dev/pages/internal/console"
	"github.com/vango-dev/pages/internal/prerender"
	"github.com/vango-dev/pages/internal/registry"
)

// stubBundler emits one browser and one server module per job. A held
// bundler blocks in Build until released.
type stubBundler struct {
	closed atomic.Bool
	fail   atomic.Bool

	mu      sync.Mutex
	entered chan struct{}
	gate    chan struct{}
}

// hold makes the next Build block. entered is closed once it does.
func (b *stubBundler) hold() (entered chan struct{}, release func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entered = make(chan struct{})
	b.gate = make(chan struct{})
	gate := b.gate
	return b.entered, func() { close(gate) }
}

func (b *stubBundler) Build(ctx context.Context, g bundler.Graph) (*bundler.Result, error) {
	b.mu.Lock()
	entered, gate := b.entered, b.gate
	b.entered, b.gate = nil, nil
	b.mu.Unlock()
	if gate != nil {
		close(entered)
		<-gate
	}
	if b.fail.Load() {
		return &bundler.Result{Errors: []bundler.Message{{Text: "Unexpected token", File: "src/index.jsx", Line: 1, Column: 1}}}, nil
	}

	res := &bundler.Result{}
	for _, job := range g.Jobs {
		res.Artifacts = append(res.Artifacts, bundler.Artifact{
			Job:        job.Name,
			Target:     job.Target,
			Path:       filepath.Join(job.Outdir, "index.js"),
			EntryPoint: "src/index.jsx",
			Contents:   []byte("// " + job.Name),
		})
	}
	return res, nil
}

func (b *stubBundler) Close() error {
	b.closed.Store(true)
	return nil
}

// contentEnumerator renders content/index.md into index.html, or fails.
type contentEnumerator struct {
	calls atomic.Int32
	fail  atomic.Bool
}

func (e *contentEnumerator) Enumerate(ctx context.Context, entry registry.Entry, cfg *config.SiteConfig, mode config.Mode) ([]prerender.Page, error) {
	e.calls.Add(1)
	if e.fail.Load() {
		return nil, stderrors.New("ReferenceError: document is not defined")
	}
	data, err := os.ReadFile(filepath.Join(cfg.ContentPaths()[0], "index.md"))
	if err != nil {
		return nil, err
	}
	return []prerender.Page{
		{Path: "/", Content: data},
		{Path: "404.html", Content: []byte("missing")},
	}, nil
}

// syncBuffer is a goroutine-safe log sink.
type syncBuffer struct {
	mu sync.Mutex
	b  strings.Builder
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

type devFixture struct {
	root   string
	srv    *Server
	enum   *contentEnumerator
	bundle *stubBundler
	logs   *syncBuffer
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func writeFile(t *testing.T, name, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(name), 0755))
	require.NoError(t, os.WriteFile(name, []byte(content), 0644))
}

func startServer(t *testing.T) *devFixture {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "pages.json"), `{"baseUrl": "http://localhost/", "variants": [{"contentDirectory": "content"}]}`)
	writeFile(t, filepath.Join(root, "src", "index.jsx"), "export default {}")
	writeFile(t, filepath.Join(root, "content", "index.md"), "Hello")

	cfg, err := config.Load(root)
	require.NoError(t, err)

	f := &devFixture{
		root:   root,
		enum:   &contentEnumerator{},
		bundle: &stubBundler{},
		logs:   &syncBuffer{},
		done:   make(chan struct{}),
	}
	f.srv = NewServer(ServerOptions{
		Config:        cfg,
		Entry:         filepath.Join(root, "src", "index.jsx"),
		Host:          "127.0.0.1",
		Bundler:       f.bundle,
		Enumerator:    f.enum,
		Logger:        console.NewWriter(f.logs, f.logs),
		SettleWindow:  20 * time.Millisecond,
		ContentWindow: 100 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	go func() {
		f.err = f.srv.Start(ctx)
		close(f.done)
	}()

	select {
	case <-f.srv.Ready():
	case <-f.done:
		t.Fatalf("server exited: %v", f.err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}
	t.Cleanup(f.stop)
	return f
}

func (f *devFixture) stop() {
	f.cancel()
	select {
	case <-f.done:
	case <-time.After(5 * time.Second):
	}
}

func (f *devFixture) get(t *testing.T, p string) (int, string) {
	t.Helper()
	resp, err := http.Get("http://" + f.srv.Addr() + p)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func (f *devFixture) waitForBody(t *testing.T, p, want string) {
	t.Helper()
	require.Eventually(t, func() bool {
		_, body := f.get(t, p)
		return strings.HasPrefix(body, want)
	}, 5*time.Second, 20*time.Millisecond, "waiting for %q at %s", want, p)
}

func TestServerServesPrerenderedPages(t *testing.T) {
	f := startServer(t)
	f.waitForBody(t, "/", "Hello")

	status, body := f.get(t, "/")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Hello"+DevClientScript, body)

	status, body = f.get(t, "/_assets/index.js")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "// browser", body)

	status, body = f.get(t, "/nope")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "missing"+DevClientScript, body)

	status, _ = f.get(t, MetricsPath)
	assert.Equal(t, http.StatusOK, status)

	_, err := os.Stat(filepath.Join(f.root, "dist"))
	assert.True(t, os.IsNotExist(err), "development output stays in memory")
	_, err = os.Stat(filepath.Join(f.root, ".pages", "server", "g1", "index.js"))
	assert.NoError(t, err, "server bundle is on disk")
}

func TestServerReloadsOnContentChange(t *testing.T) {
	f := startServer(t)
	f.waitForBody(t, "/", "Hello")

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+f.srv.Addr()+ReloadPath, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return f.srv.Reload().ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	before := f.enum.calls.Load()
	for i := 0; i < 5; i++ {
		writeFile(t, filepath.Join(f.root, "content", "index.md"), "Changed")
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, MessageChange, string(msg))

	_, body := f.get(t, "/")
	assert.True(t, strings.HasPrefix(body, "Changed"))

	// the burst collapses into a single prerender
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, before+1, f.enum.calls.Load())
}

func TestServerSurvivesPrerenderFailure(t *testing.T) {
	f := startServer(t)
	f.waitForBody(t, "/", "Hello")

	f.enum.fail.Store(true)
	before := f.enum.calls.Load()
	writeFile(t, filepath.Join(f.root, "content", "index.md"), "Broken")

	require.Eventually(t, func() bool { return f.enum.calls.Load() > before }, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return strings.Contains(f.logs.String(), "document is not defined")
	}, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, f.logs.String(), "ERROR")

	status, body := f.get(t, "/")
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, strings.HasPrefix(body, "Hello"))

	f.enum.fail.Store(false)
	writeFile(t, filepath.Join(f.root, "content", "index.md"), "Recovered")
	f.waitForBody(t, "/", "Recovered")
}

func TestServerRebindsContentWatchersOnConfigChange(t *testing.T) {
	f := startServer(t)
	f.waitForBody(t, "/", "Hello")

	content := filepath.Join(f.root, "content")
	fr := filepath.Join(f.root, "content-fr")
	writeFile(t, filepath.Join(fr, "index.md"), "Bonjour")
	assert.Equal(t, []string{content}, f.srv.WatchedDirs())

	writeFile(t, filepath.Join(f.root, "pages.json"),
		`{"baseUrl": "http://localhost/", "variants": [{"contentDirectory": "content"}, {"contentDirectory": "content-fr"}]}`)

	require.Eventually(t, func() bool {
		return len(f.srv.WatchedDirs()) == 2
	}, 5*time.Second, 20*time.Millisecond)
	assert.ElementsMatch(t, []string{content, fr}, f.srv.WatchedDirs())
	assert.Len(t, f.srv.Config().Variants, 2)
}

func TestServerKeepsConfigWhenReloadFails(t *testing.T) {
	f := startServer(t)
	f.waitForBody(t, "/", "Hello")

	writeFile(t, filepath.Join(f.root, "pages.json"), `{"baseUrl": "not a url", "variants": []}`)

	require.Eventually(t, func() bool {
		return strings.Contains(f.logs.String(), "Keeping previous configuration")
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, "http://localhost/", f.srv.Config().BaseURL)

	status, _ := f.get(t, "/")
	assert.Equal(t, http.StatusOK, status)
}

func TestServerStopClosesResources(t *testing.T) {
	f := startServer(t)
	f.waitForBody(t, "/", "Hello")
	addr := f.srv.Addr()

	f.cancel()
	select {
	case <-f.done:
		assert.NoError(t, f.err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancel")
	}

	assert.True(t, f.bundle.closed.Load())
	assert.Empty(t, f.srv.WatchedDirs())
	_, err := http.Get("http://" + addr + "/")
	assert.Error(t, err)
}

func TestServerFollowsDistDirectoryChange(t *testing.T) {
	f := startServer(t)
	f.waitForBody(t, "/", "Hello")

	writeFile(t, filepath.Join(f.root, "pages.json"),
		`{"baseUrl": "http://localhost/", "distDirectory": "out", "variants": [{"contentDirectory": "content"}]}`)
	require.Eventually(t, func() bool {
		return f.srv.Config().DistDirectory == "out"
	}, 5*time.Second, 20*time.Millisecond)

	writeFile(t, filepath.Join(f.root, "content", "index.md"), "Changed")
	require.Eventually(t, func() bool {
		data, err := f.srv.out.ReadFile(filepath.Join(f.root, "out", "index.html"))
		return err == nil && string(data) == "Changed"
	}, 5*time.Second, 20*time.Millisecond)

	f.waitForBody(t, "/", "Changed")
}

func TestServerRendersContentChangeAfterFailedCompile(t *testing.T) {
	f := startServer(t)
	f.waitForBody(t, "/", "Hello")

	entered, release := f.bundle.hold()
	f.bundle.fail.Store(true)
	writeFile(t, filepath.Join(f.root, "src", "index.jsx"), "export default {")
	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("compile did not start")
	}

	// the content prerender runs while the compile is in flight
	writeFile(t, filepath.Join(f.root, "content", "index.md"), "Changed")
	require.Eventually(t, func() bool {
		return strings.Contains(f.logs.String(), "Content changed")
	}, 5*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	_, body := f.get(t, "/")
	assert.True(t, strings.HasPrefix(body, "Hello"))

	release()
	require.Eventually(t, func() bool {
		return strings.Contains(f.logs.String(), "Build failed")
	}, 5*time.Second, 10*time.Millisecond)
	f.waitForBody(t, "/", "Changed")
}

package dev

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/vango-dev/pages/internal/bundler"
	"github.com/vango-dev/pages/internal/config"
	"github.com/vango-dev/pages/internal/console"
	"github.com/vango-dev/pages/internal/debounce"
	"github.com/vango-dev/pages/internal/errors"
	"github.com/vango-dev/pages/internal/metrics"
	"github.com/vango-dev/pages/internal/pipeline"
	"github.com/vango-dev/pages/internal/prerender"
	"github.com/vango-dev/pages/internal/registry"
	"github.com/vango-dev/pages/internal/vfs"
	"github.com/vango-dev/pages/internal/watch"
)

const (
	// SettleWindow coalesces compile settles before prerendering.
	SettleWindow = time.Second

	// ContentWindow coalesces content changes before prerendering.
	ContentWindow = 300 * time.Millisecond
)

// ServerOptions configures the development server.
type ServerOptions struct {
	// Config is the initial site configuration. It is reloaded from its
	// file after every successful compile.
	Config *config.SiteConfig

	// Entry is the absolute path of the site's entry module.
	Entry string

	// Host defaults to "localhost".
	Host string

	// Port is the HTTP port. Zero picks a free port.
	Port int

	// Bundler defaults to esbuild.
	Bundler bundler.Bundler

	// Enumerator defaults to running the server entry with Node.js.
	Enumerator prerender.Enumerator

	// Metrics defaults to a fresh collector.
	Metrics *metrics.Collector

	// Logger defaults to stdout/stderr.
	Logger *console.Logger

	// SettleWindow and ContentWindow override the coalescing windows.
	SettleWindow  time.Duration
	ContentWindow time.Duration

	// Verbose logs every request.
	Verbose bool
}

// Server is the development server. Browser assets and pages live in a
// memory store; only the server bundle is written to disk.
type Server struct {
	opts   ServerOptions
	log    *console.Logger
	ctx    context.Context
	out    *vfs.Store
	reg    *registry.Registry
	bundle bundler.Bundler

	pipe     *pipeline.Pipeline
	watching *pipeline.Watching
	driver   *prerender.Driver
	reload   *ReloadServer
	content  *watch.ContentWatcher

	settle        *debounce.Trigger
	contentChange *debounce.Trigger

	httpServer *http.Server
	listener   net.Listener
	ready      chan struct{}

	mu      sync.Mutex
	cfg     *config.SiteConfig
	settled bool
	// contentPending marks a content change whose prerender was skipped
	// or discarded because a compile was running.
	contentPending bool
	running        bool
	stopped        bool
}

// NewServer creates a new development server.
func NewServer(opts ServerOptions) *Server {
	if opts.Host == "" {
		opts.Host = "localhost"
	}
	if opts.Bundler == nil {
		opts.Bundler = bundler.NewESBuild()
	}
	if opts.Enumerator == nil {
		opts.Enumerator = &prerender.NodeEnumerator{}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.Logger == nil {
		opts.Logger = console.New()
	}
	if opts.SettleWindow <= 0 {
		opts.SettleWindow = SettleWindow
	}
	if opts.ContentWindow <= 0 {
		opts.ContentWindow = ContentWindow
	}

	cfg := opts.Config
	s := &Server{
		opts:   opts,
		log:    opts.Logger,
		cfg:    cfg,
		out:    vfs.NewMemory(cfg.Dir()),
		reg:    registry.New(),
		bundle: opts.Bundler,
		reload: NewReloadServer(opts.Metrics),
		ready:  make(chan struct{}),
	}

	s.pipe = pipeline.New(pipeline.Options{
		Entry:    opts.Entry,
		Bundler:  s.bundle,
		Registry: s.reg,
		Output:   s.out,
		Metrics:  opts.Metrics,
		Logger:   s.log,
	})
	s.driver = prerender.New(prerender.Options{
		Registry:   s.reg,
		Enumerator: opts.Enumerator,
		Output:     s.out,
		Metrics:    opts.Metrics,
		Logger:     s.log,
	})

	s.settle = debounce.New(opts.SettleWindow, s.onSettled)
	s.contentChange = debounce.New(opts.ContentWindow, s.onContentChanged)

	watcher := watch.New()
	watcher.OnError = func(err error) { s.log.Warn("Content watcher: %v", err) }
	s.content = watch.NewContentWatcher(watcher, func(ev watch.Event) {
		opts.Metrics.RecordContentChange()
		s.contentChange.Signal()
	})

	return s
}

// Start runs the initial compile, binds the HTTP server and blocks until
// ctx is cancelled or the server fails.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running || s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.ctx = ctx
	s.mu.Unlock()

	cfg := s.Config()
	ln, err := net.Listen("tcp", net.JoinHostPort(s.opts.Host, fmt.Sprint(s.opts.Port)))
	if err != nil {
		s.Stop()
		return errors.New("E130").WithDetail(err.Error()).Wrap(err)
	}
	s.listener = ln

	s.log.Info("Bundling assets")
	watching, err := s.pipe.Watch(ctx, cfg, config.ModeDevelopment, s.onBuildSettled)
	if err != nil {
		ln.Close()
		s.Stop()
		return errors.FromError(err, "E110")
	}
	s.mu.Lock()
	s.watching = watching
	s.mu.Unlock()
	watching.SetConfig(s.Config())

	if err := s.content.WatchDirectories(s.Config().WatchPaths()); err != nil {
		s.log.Warn("Failed to watch content: %v", err)
	}

	s.httpServer = &http.Server{
		Handler: NewHandler(HandlerOptions{
			BasePath: cfg.BasePath(),
			Static: NewRouter(RouterOptions{
				FS:          s.out,
				DistPath:    func() string { return s.Config().DistPath() },
				Development: true,
				Logger:      s.log,
				Metrics:     s.opts.Metrics,
			}),
			Reload:  s.reload,
			Metrics: s.opts.Metrics,
			Verbose: s.opts.Verbose,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	s.log.Success("Dev server running at: http://%s%s", s.Addr(), cfg.BasePath())
	close(s.ready)

	select {
	case <-ctx.Done():
		s.Stop()
		return nil
	case err := <-errCh:
		s.Stop()
		if err != nil {
			return errors.New("E130").Wrap(err)
		}
		return nil
	}
}

// Ready is closed once the server accepts requests.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound host:port, empty before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	port := s.listener.Addr().(*net.TCPAddr).Port
	return net.JoinHostPort(s.opts.Host, fmt.Sprint(port))
}

// Config returns the current site configuration.
func (s *Server) Config() *config.SiteConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// WatchedDirs returns the content directories currently watched.
func (s *Server) WatchedDirs() []string {
	return s.content.Active()
}

// Reload returns the live-reload channel.
func (s *Server) Reload() *ReloadServer {
	return s.reload
}

// Stop stops the source watcher and both triggers, then the content
// watcher, the bundler, reload clients and the HTTP server. Content
// watchers close after the triggers so a settle in progress cannot
// re-attach them.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.running = false
	watching := s.watching
	s.mu.Unlock()

	if watching != nil {
		watching.Close()
	}
	s.settle.Stop()
	s.contentChange.Stop()
	s.settle.Wait()
	s.contentChange.Wait()
	s.content.Close()

	if err := s.bundle.Close(); err != nil {
		s.log.Warn("Failed to close bundler: %v", err)
	}
	s.reload.Close()

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(ctx)
	} else if s.listener != nil {
		s.listener.Close()
	}
}

// onBuildSettled runs after every compile pass.
func (s *Server) onBuildSettled(res *pipeline.Result, err error) {
	if err != nil {
		s.log.Error("Build failed\n%s", describe(err))
		// no settle follows a failed compile; render a missed content
		// change against the previous entry
		if s.takeContentPending() {
			s.contentChange.Signal()
		}
		return
	}
	if res.Superseded {
		return
	}
	if res.Warnings > 0 {
		s.log.Warn("Built generation %d with %d warnings in %s", res.Generation, res.Warnings, res.Duration.Round(time.Millisecond))
	} else {
		s.log.Info("Built generation %d in %s", res.Generation, res.Duration.Round(time.Millisecond))
	}

	s.reloadConfig()
	s.settle.Signal()
}

// reloadConfig replaces the configuration from its file. A config that
// fails to load or validate keeps the previous one.
func (s *Server) reloadConfig() {
	cur := s.Config()
	if cur.Path() == "" {
		return
	}
	cfg, err := config.LoadFile(cur.Path())
	if err != nil {
		s.log.Warn("Keeping previous configuration\n%s", describe(err))
		return
	}

	s.mu.Lock()
	s.cfg = cfg
	watching := s.watching
	s.mu.Unlock()
	if watching != nil {
		watching.SetConfig(cfg)
	}
}

// onSettled prerenders after compiles settle, rebinds content watchers when
// the variant list changed and tells browsers to reload.
func (s *Server) onSettled() {
	cfg := s.Config()
	stats, err := s.driver.Prerender(s.ctx, cfg, config.ModeDevelopment)
	if err != nil {
		s.log.Error("Prerender failed\n%s", describe(err))
		return
	}
	if stats.Skipped || stats.Discarded {
		return
	}
	s.takeContentPending()
	s.log.Info("Prerendered %d pages in %s", stats.Pages, stats.Duration.Round(time.Millisecond))

	if !sameDirs(s.content.Active(), cfg.WatchPaths()) {
		err := s.content.WatchDirectories(cfg.WatchPaths())
		if err != nil && !stderrors.Is(err, watch.ErrClosed) {
			s.log.Warn("Failed to watch content: %v", err)
		}
	}

	s.mu.Lock()
	first := !s.settled
	s.settled = true
	s.mu.Unlock()
	if !first {
		s.broadcast()
	}
}

// onContentChanged recopies the public directory, prerenders and tells
// browsers to reload.
func (s *Server) onContentChanged() {
	s.log.Info("Content changed")
	cfg := s.Config()

	if pub := cfg.PublicPath(); pub != "" {
		if _, err := vfs.CopyTree(vfs.NewDisk(cfg.Dir()), pub, s.out, cfg.DistPath()); err != nil {
			s.log.Error("Failed to copy %s: %v", cfg.PublicDirectory, err)
		}
	}

	stats, err := s.driver.Prerender(s.ctx, cfg, config.ModeDevelopment)
	if err != nil {
		s.log.Error("Prerender failed\n%s", describe(err))
		return
	}
	if stats.Skipped || stats.Discarded {
		s.mu.Lock()
		s.contentPending = true
		s.mu.Unlock()
		return
	}
	s.broadcast()
}

// takeContentPending clears and returns the pending content flag.
func (s *Server) takeContentPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := s.contentPending
	s.contentPending = false
	return pending
}

func (s *Server) broadcast() {
	n := s.reload.Broadcast(MessageChange)
	if n > 0 {
		s.log.Info("Reloaded %d browsers", n)
	}
}

// describe renders err for a log line.
func describe(err error) string {
	var pe *errors.PagesError
	if !stderrors.As(err, &pe) {
		return err.Error()
	}
	text := pe.FormatCompact()
	if pe.Detail != "" {
		text += "\n" + pe.Detail
	}
	if pe.Wrapped != nil {
		text += "\n" + pe.Wrapped.Error()
	}
	return text
}

func sameDirs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for _, d := range b {
		if !slices.Contains(a, filepath.Clean(d)) {
			return false
		}
	}
	return true
}

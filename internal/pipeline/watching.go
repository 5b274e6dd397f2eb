package pipeline

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/vango-dev/pages/internal/config"
	"github.com/vango-dev/pages/internal/debounce"
	"github.com/vango-dev/pages/internal/watch"
)

// AggregateTimeout is the quiet window between a source change and the
// compile pass it triggers.
const AggregateTimeout = 300 * time.Millisecond

// SettleFunc is called once per settled pass with its result and error.
type SettleFunc func(*Result, error)

// Watching is a running watch started by Pipeline.Watch.
type Watching struct {
	p        *Pipeline
	mode     config.Mode
	onSettle SettleFunc
	ctx      context.Context

	mu  sync.Mutex
	cfg *config.SiteConfig

	sub     *watch.Subscription
	trigger *debounce.Trigger
	once    sync.Once
}

// Watch runs an initial pass synchronously, then recompiles whenever a
// source file below the entry's directory changes. Every pass calls
// onSettle exactly once. A failed pass keeps watching.
func (p *Pipeline) Watch(ctx context.Context, cfg *config.SiteConfig, mode config.Mode, onSettle SettleFunc) (*Watching, error) {
	w := &Watching{p: p, mode: mode, onSettle: onSettle, ctx: ctx, cfg: cfg}
	w.trigger = debounce.New(AggregateTimeout, w.pass)

	w.pass()

	watcher := watch.New()
	watcher.IgnoreDirs = ignoredDirs(cfg)
	if p.opts.Logger != nil {
		watcher.OnError = func(err error) { p.opts.Logger.Warn("Source watcher: %v", err) }
	}

	sub, err := watcher.Attach(sourceRoot(p.opts.Entry, cfg), func(watch.Event) {
		w.trigger.Signal()
	})
	if err != nil {
		w.trigger.Stop()
		return nil, err
	}
	w.sub = sub
	return w, nil
}

// SetConfig replaces the configuration used by later passes.
func (w *Watching) SetConfig(cfg *config.SiteConfig) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cfg = cfg
}

// Config returns the configuration used by the next pass.
func (w *Watching) Config() *config.SiteConfig {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cfg
}

// Invalidate schedules a pass as if a source file changed.
func (w *Watching) Invalidate() {
	w.trigger.Signal()
}

// Close detaches the source subscription and waits for a running pass.
func (w *Watching) Close() error {
	var err error
	w.once.Do(func() {
		if w.sub != nil {
			err = w.sub.Close()
		}
		w.trigger.Stop()
		w.trigger.Wait()
	})
	return err
}

func (w *Watching) pass() {
	if w.ctx.Err() != nil {
		return
	}
	res, err := w.p.Run(w.ctx, w.Config(), w.mode)
	if w.onSettle != nil {
		w.onSettle(res, err)
	}
}

// sourceRoot is the tree watched for source changes: the project root when
// the entry lives inside it, the entry's directory otherwise.
func sourceRoot(entry string, cfg *config.SiteConfig) string {
	root := cfg.Dir()
	rel, err := filepath.Rel(root, entry)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.Dir(entry)
	}
	return root
}

// ignoredDirs are output and content trees that must not retrigger a
// compile. Content changes are handled by the content watcher.
func ignoredDirs(cfg *config.SiteConfig) []string {
	dirs := []string{cfg.DistPath(), cfg.CachePath()}
	dirs = append(dirs, cfg.WatchPaths()...)
	return dirs
}

package prerender

import (
	"context"
	stderrors "errors"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-dev/pages/internal/config"
	"github.com/vango-dev/pages/internal/console"
	"github.com/vango-dev/pages/internal/errors"
	"github.com/vango-dev/pages/internal/metrics"
	"github.com/vango-dev/pages/internal/registry"
	"github.com/vango-dev/pages/internal/vfs"
)

// ErrNoExports is returned by an Enumerator when the entry has not exported
// a page function yet. The driver treats it like a compile in flight.
var ErrNoExports = stderrors.New("prerender: entry exports nothing")

// Page is one enumerated page.
type Page struct {
	// Path is the page route relative to the dist directory.
	Path string

	// Content is written to the normalized output path.
	Content []byte
}

// Enumerator produces the page set of a compiled server entry.
type Enumerator interface {
	Enumerate(ctx context.Context, entry registry.Entry, cfg *config.SiteConfig, mode config.Mode) ([]Page, error)
}

// EnumeratorFunc adapts a function to the Enumerator interface.
type EnumeratorFunc func(ctx context.Context, entry registry.Entry, cfg *config.SiteConfig, mode config.Mode) ([]Page, error)

// Enumerate calls f.
func (f EnumeratorFunc) Enumerate(ctx context.Context, entry registry.Entry, cfg *config.SiteConfig, mode config.Mode) ([]Page, error) {
	return f(ctx, entry, cfg, mode)
}

// Options configures a Driver.
type Options struct {
	Registry   *registry.Registry
	Enumerator Enumerator

	// Output receives the page files.
	Output vfs.FS

	Metrics *metrics.Collector
	Logger  *console.Logger
}

// Stats describes one prerender pass.
type Stats struct {
	// Generation is the entry generation the pass rendered.
	Generation uint64

	// Pages is the number of files written.
	Pages int

	// Skipped reports that no entry was ready; nothing was enumerated.
	Skipped bool

	// Discarded reports that a newer generation began mid-pass and the
	// remaining pages were dropped.
	Discarded bool

	Duration time.Duration
}

// Driver runs prerender passes one at a time.
type Driver struct {
	opts   Options
	mu     sync.Mutex
	tracer trace.Tracer
}

// New creates a Driver.
func New(opts Options) *Driver {
	return &Driver{opts: opts, tracer: otel.Tracer("pages")}
}

// Prerender enumerates the pages of the newest entry and writes them below
// the dist directory of cfg. Enumeration failures return E120, write
// failures E121. Whether an error is fatal is up to the caller.
func (d *Driver) Prerender(ctx context.Context, cfg *config.SiteConfig, mode config.Mode) (Stats, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	start := time.Now()
	entry, err := d.opts.Registry.Acquire()
	if stderrors.Is(err, registry.ErrNotReady) {
		d.opts.Metrics.RecordPrerenderSkipped()
		return Stats{Skipped: true, Duration: time.Since(start)}, nil
	}
	if err != nil {
		return Stats{}, errors.FromError(err, "E120")
	}
	defer d.opts.Registry.Release(entry)

	ctx, span := d.tracer.Start(ctx, "prerender.run",
		trace.WithAttributes(
			attribute.Int64("pages.generation", int64(entry.Generation)),
			attribute.String("pages.mode", string(mode)),
		))
	defer span.End()

	stats, err := d.run(ctx, entry, cfg, mode)
	stats.Duration = time.Since(start)

	d.opts.Metrics.RecordPagesWritten(stats.Pages)
	span.SetAttributes(attribute.Int("pages.written", stats.Pages))
	if err != nil {
		d.opts.Metrics.RecordPrerenderError(string(mode))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return stats, err
	}
	if stats.Skipped {
		d.opts.Metrics.RecordPrerenderSkipped()
	}
	span.SetStatus(codes.Ok, "")
	return stats, nil
}

func (d *Driver) run(ctx context.Context, entry registry.Entry, cfg *config.SiteConfig, mode config.Mode) (Stats, error) {
	stats := Stats{Generation: entry.Generation}

	pages, err := d.opts.Enumerator.Enumerate(ctx, entry, cfg, mode)
	if stderrors.Is(err, ErrNoExports) {
		stats.Skipped = true
		return stats, nil
	}
	if err != nil {
		return stats, errors.FromError(err, "E120")
	}

	dist := cfg.DistPath()
	for _, p := range pages {
		if !d.opts.Registry.Current(entry) {
			stats.Discarded = true
			if d.opts.Logger != nil {
				d.opts.Logger.Info("Generation %d superseded, dropping %d pages", entry.Generation, len(pages)-stats.Pages)
			}
			return stats, nil
		}
		if err := ctx.Err(); err != nil {
			return stats, errors.New("E121").Wrap(err)
		}

		name := OutputPath(dist, p.Path, cfg.APIPrefix)
		if err := d.opts.Output.WriteFile(name, p.Content); err != nil {
			rel, _ := filepath.Rel(cfg.Dir(), name)
			return stats, errors.New("E121").WithDetail("Failed to write " + rel).Wrap(err)
		}
		stats.Pages++
	}
	return stats, nil
}

// OutputPath returns the file a page is written to. Leading slashes are
// stripped. Paths ending in ".html" or starting with apiPrefix are kept;
// every other path gets "index.html" appended. The result never escapes
// distDir.
func OutputPath(distDir, pagePath, apiPrefix string) string {
	p := strings.TrimLeft(filepath.ToSlash(pagePath), "/")
	apiPrefix = strings.TrimLeft(apiPrefix, "/")

	verbatim := strings.HasSuffix(p, ".html") || (apiPrefix != "" && strings.HasPrefix(p, apiPrefix))
	if !verbatim {
		p = path.Join(p, "index.html")
	}
	p = strings.TrimPrefix(path.Clean("/"+p), "/")
	return filepath.Join(distDir, filepath.FromSlash(p))
}

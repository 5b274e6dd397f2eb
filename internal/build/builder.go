package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vango-dev/pages/internal/bundler"
	"github.com/vango-dev/pages/internal/config"
	"github.com/vango-dev/pages/internal/console"
	"github.com/vango-dev/pages/internal/errors"
	"github.com/vango-dev/pages/internal/metrics"
	"github.com/vango-dev/pages/internal/pipeline"
	"github.com/vango-dev/pages/internal/prerender"
	"github.com/vango-dev/pages/internal/registry"
	"github.com/vango-dev/pages/internal/vfs"
)

// Build steps reported through Options.OnProgress.
const (
	StepBundle    = "1/2 Bundling assets"
	StepPrerender = "2/2 Prerendering pages"
)

// Result contains the build output.
type Result struct {
	// Duration is how long the build took.
	Duration time.Duration

	// Generation is the build generation the pages were rendered from.
	Generation uint64

	// Assets is the number of browser artifacts written.
	Assets int

	// Pages is the number of prerendered pages.
	Pages int

	// PublicFiles is the number of files copied from the public directory.
	PublicFiles int

	// Manifest maps entry modules to their hashed asset URL.
	Manifest map[string]string

	// OutputDir is the absolute dist directory.
	OutputDir string
}

// Options configures the builder.
type Options struct {
	// Entry is the absolute path of the site's entry module.
	Entry string

	// Bundler defaults to esbuild. A bundler created by the builder is
	// closed when Build returns.
	Bundler bundler.Bundler

	// Enumerator defaults to running the server entry with Node.js.
	Enumerator prerender.Enumerator

	// Metrics is optional.
	Metrics *metrics.Collector

	// Logger is optional.
	Logger *console.Logger

	// OnProgress is called with progress updates.
	OnProgress func(step string)
}

// Builder handles production builds.
type Builder struct {
	config  *config.SiteConfig
	options Options
}

// New creates a new builder.
func New(cfg *config.SiteConfig, options Options) *Builder {
	if options.Enumerator == nil {
		options.Enumerator = &prerender.NodeEnumerator{Stderr: os.Stderr}
	}
	return &Builder{
		config:  cfg,
		options: options,
	}
}

// Build performs a production build: it cleans the dist directory,
// compiles both bundles to disk and prerenders every page. Any failure is
// returned as a PagesError and leaves the build incomplete.
func (b *Builder) Build(ctx context.Context) (*Result, error) {
	start := time.Now()

	bnd := b.options.Bundler
	if bnd == nil {
		bnd = bundler.NewESBuild()
		defer bnd.Close()
	}

	if err := b.Clean(); err != nil {
		return nil, errors.New("E112").WithDetail("Failed to clean " + b.config.DistDirectory).Wrap(err)
	}

	reg := registry.New()
	out := vfs.NewDisk(b.config.Dir())

	b.progress(StepBundle)
	pipe := pipeline.New(pipeline.Options{
		Entry:    b.options.Entry,
		Bundler:  bnd,
		Registry: reg,
		Output:   out,
		Metrics:  b.options.Metrics,
		Logger:   b.options.Logger,
	})
	compiled, err := pipe.Run(ctx, b.config, config.ModeProduction)
	if err != nil {
		return nil, err
	}
	if compiled.Warnings > 0 && b.options.Logger != nil {
		b.options.Logger.Warn("Bundled with %d warnings", compiled.Warnings)
	}

	b.progress(StepPrerender)
	driver := prerender.New(prerender.Options{
		Registry:   reg,
		Enumerator: b.options.Enumerator,
		Output:     out,
		Metrics:    b.options.Metrics,
		Logger:     b.options.Logger,
	})
	stats, err := driver.Prerender(ctx, b.config, config.ModeProduction)
	if err != nil {
		return nil, err
	}
	if stats.Skipped {
		return nil, errors.New("E120").
			WithDetail("The compiled server entry did not export a page function.").
			WithSuggestion("Export the site's pages from " + b.options.Entry)
	}

	return &Result{
		Duration:    time.Since(start),
		Generation:  stats.Generation,
		Assets:      len(compiled.Assets),
		Pages:       stats.Pages,
		PublicFiles: compiled.PublicFiles,
		Manifest:    compiled.Manifest,
		OutputDir:   b.config.DistPath(),
	}, nil
}

// progress reports build progress.
func (b *Builder) progress(step string) {
	if b.options.OnProgress != nil {
		b.options.OnProgress(step)
	}
}

// Clean removes the build output directory. A dist directory that contains
// the project root is refused.
func (b *Builder) Clean() error {
	dist := b.config.DistPath()
	rel, err := filepath.Rel(dist, b.config.Dir())
	if err == nil && !strings.HasPrefix(rel, "..") {
		return fmt.Errorf("refusing to remove %s: it contains the project", dist)
	}
	return os.RemoveAll(dist)
}

// Package pipeline drives compile passes: it builds the bundler graph,
// routes artifacts to the right filesystem and publishes the compiled
// server entry under a new build generation.
//
// Browser artifacts go to the output store, which is memory-backed in
// development. Server artifacts always go to disk under
// <cacheDirectory>/server/g<generation>/ because the prerender driver
// executes them.
package pipeline

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-dev/pages/internal/bundler"
	"github.com/vango-dev/pages/internal/config"
	"github.com/vango-dev/pages/internal/console"
	"github.com/vango-dev/pages/internal/errors"
	"github.com/vango-dev/pages/internal/metrics"
	"github.com/vango-dev/pages/internal/registry"
	"github.com/vango-dev/pages/internal/vfs"
)

// Options configures a Pipeline.
type Options struct {
	// Entry is the absolute path of the site's entry module.
	Entry string

	// Bundler compiles the graph.
	Bundler bundler.Bundler

	// Registry receives the published server entries.
	Registry *registry.Registry

	// Output receives browser artifacts, the public directory copy and the
	// asset manifest.
	Output vfs.FS

	// Metrics is optional.
	Metrics *metrics.Collector

	// Logger is optional.
	Logger *console.Logger
}

// Pipeline runs compile passes one at a time.
type Pipeline struct {
	opts   Options
	mu     sync.Mutex
	tracer trace.Tracer
}

// Result describes one settled compile pass.
type Result struct {
	// Generation is the build generation of the pass.
	Generation uint64

	// Mode is the mode the pass compiled for.
	Mode config.Mode

	// Config is the configuration the pass compiled with.
	Config *config.SiteConfig

	// Entry is the published server entry. Zero when the pass failed or
	// was superseded.
	Entry registry.Entry

	// Assets lists the written browser artifacts, relative to the root.
	Assets []string

	// Manifest maps entry modules to their public asset URL.
	Manifest map[string]string

	// PublicFiles is the number of files copied from the public directory.
	PublicFiles int

	// Warnings is the number of bundler warnings, which never fail a pass.
	Warnings int

	// Superseded reports that a newer generation began before this one
	// published; its output was discarded.
	Superseded bool

	// Duration is the wall time of the pass.
	Duration time.Duration
}

// New creates a Pipeline.
func New(opts Options) *Pipeline {
	return &Pipeline{opts: opts, tracer: otel.Tracer("pages")}
}

// Entry returns the entry module the pipeline compiles.
func (p *Pipeline) Entry() string {
	return p.opts.Entry
}

// Run performs one compile pass. A pass with bundler errors writes nothing
// and returns an E110 error carrying every formatted error.
func (p *Pipeline) Run(ctx context.Context, cfg *config.SiteConfig, mode config.Mode) (*Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	gen := p.opts.Registry.Begin()
	res := &Result{Generation: gen, Mode: mode, Config: cfg}

	ctx, span := p.tracer.Start(ctx, "pipeline.run",
		trace.WithAttributes(
			attribute.Int64("pages.generation", int64(gen)),
			attribute.String("pages.mode", string(mode)),
		))
	defer span.End()

	err := p.run(ctx, cfg, mode, res)
	res.Duration = time.Since(start)

	p.opts.Metrics.RecordBuild(string(mode), res.Duration.Seconds(), err != nil)
	if res.Superseded {
		p.opts.Metrics.RecordSuperseded()
	}
	span.SetAttributes(attribute.Int("pages.assets", len(res.Assets)))
	if err != nil {
		p.opts.Registry.Fail(gen)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}
	span.SetStatus(codes.Ok, "")
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, cfg *config.SiteConfig, mode config.Mode, res *Result) error {
	graph := Graph(cfg, p.opts.Entry, mode)

	br, err := p.opts.Bundler.Build(ctx, graph)
	if err != nil {
		return errors.FromError(err, "E111")
	}
	res.Warnings = len(br.Warnings)
	if br.HasErrors() {
		return br.Err()
	}

	if p.superseded(res) {
		return nil
	}

	disk := vfs.NewDisk(cfg.Dir())
	genDir := filepath.Join(cfg.CachePath(), ServerDir, "g"+strconv.FormatUint(res.Generation, 10))
	entryPath, err := writeServer(disk, graph, br, genDir)
	if err != nil {
		return err
	}

	if err := p.writeBrowser(graph, br, res); err != nil {
		disk.RemoveAll(genDir)
		return err
	}

	if pub := cfg.PublicPath(); pub != "" {
		n, err := vfs.CopyTree(disk, pub, p.opts.Output, cfg.DistPath())
		if err != nil {
			disk.RemoveAll(genDir)
			return errors.New("E112").WithDetail("Failed to copy public directory " + cfg.PublicDirectory).Wrap(err)
		}
		res.PublicFiles = n
	}

	if mode.IsProduction() {
		if err := p.writeManifest(cfg, res); err != nil {
			disk.RemoveAll(genDir)
			return err
		}
	}

	entry, err := p.opts.Registry.Publish(res.Generation, entryPath)
	if stderrors.Is(err, registry.ErrSuperseded) {
		disk.RemoveAll(genDir)
		res.Superseded = true
		return nil
	}
	if err != nil {
		return errors.New("E112").Wrap(err)
	}
	res.Entry = entry
	return nil
}

// superseded reports whether a newer generation began during the pass.
func (p *Pipeline) superseded(res *Result) bool {
	if p.opts.Registry.Latest() != res.Generation {
		res.Superseded = true
	}
	return res.Superseded
}

func (p *Pipeline) writeBrowser(graph bundler.Graph, br *bundler.Result, res *Result) error {
	job, _ := graph.Job(bundler.TargetBrowser)
	res.Manifest = make(map[string]string)
	for _, a := range br.ArtifactsFor(bundler.TargetBrowser) {
		if err := p.opts.Output.WriteFile(a.Path, a.Contents); err != nil {
			return errors.New("E112").WithDetail("Failed to write " + a.Path).Wrap(err)
		}
		rel, err := filepath.Rel(p.opts.Output.Root(), a.Path)
		if err != nil {
			rel = a.Path
		}
		res.Assets = append(res.Assets, rel)

		if a.EntryPoint != "" && strings.HasSuffix(a.Path, ".js") {
			name, err := filepath.Rel(job.Outdir, a.Path)
			if err == nil {
				res.Manifest[filepath.ToSlash(a.EntryPoint)] = job.PublicPath + filepath.ToSlash(name)
			}
		}
	}
	sort.Strings(res.Assets)
	return nil
}

func (p *Pipeline) writeManifest(cfg *config.SiteConfig, res *Result) error {
	data, err := json.MarshalIndent(res.Manifest, "", "  ")
	if err != nil {
		return errors.New("E112").Wrap(err)
	}
	name := filepath.Join(cfg.DistPath(), AssetsDir, ManifestFile)
	if err := p.opts.Output.WriteFile(name, append(data, '\n')); err != nil {
		return errors.New("E112").WithDetail("Failed to write " + name).Wrap(err)
	}
	return nil
}

// writeServer writes the server artifacts into genDir and returns the
// absolute path of the entry module.
func writeServer(disk vfs.FS, graph bundler.Graph, br *bundler.Result, genDir string) (string, error) {
	job, _ := graph.Job(bundler.TargetServer)
	var entryPath string
	for _, a := range br.ArtifactsFor(bundler.TargetServer) {
		rel, err := filepath.Rel(job.Outdir, a.Path)
		if err != nil || strings.HasPrefix(rel, "..") {
			rel = filepath.Base(a.Path)
		}
		dest := filepath.Join(genDir, rel)
		if err := disk.WriteFile(dest, a.Contents); err != nil {
			disk.RemoveAll(genDir)
			return "", errors.New("E112").WithDetail("Failed to write " + dest).Wrap(err)
		}
		if a.EntryPoint != "" && strings.HasSuffix(dest, ".js") && entryPath == "" {
			entryPath = dest
		}
	}
	if entryPath == "" {
		disk.RemoveAll(genDir)
		return "", errors.New("E112").WithDetail("The server bundle has no entry module")
	}
	return entryPath, nil
}

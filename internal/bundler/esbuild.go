package bundler

import (
	"context"
	"encoding/json"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/vango-dev/pages/internal/errors"
)

// ESBuild is a Bundler that keeps one incremental esbuild context per job.
type ESBuild struct {
	mu       sync.Mutex
	contexts map[string]*jobContext
	closed   bool
}

type jobContext struct {
	job Job
	ctx api.BuildContext
}

// NewESBuild creates an esbuild-backed Bundler.
func NewESBuild() *ESBuild {
	return &ESBuild{contexts: make(map[string]*jobContext)}
}

// Build runs every job of g in order. Contexts of jobs that left the graph,
// or whose options changed, are disposed.
func (b *ESBuild) Build(ctx context.Context, g Graph) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, errors.New("E111").WithDetail("bundler is closed")
	}

	start := time.Now()
	b.syncContexts(g)

	result := &Result{}
	for _, job := range g.Jobs {
		jc, err := b.context(job)
		if err != nil {
			return nil, err
		}

		br := jc.ctx.Rebuild()
		result.Errors = append(result.Errors, convertMessages(br.Errors, api.ErrorMessage)...)
		result.Warnings = append(result.Warnings, convertMessages(br.Warnings, api.WarningMessage)...)
		if len(br.Errors) > 0 {
			continue
		}

		entries := entryPoints(br.Metafile, job.WorkingDir)
		for _, f := range br.OutputFiles {
			result.Artifacts = append(result.Artifacts, Artifact{
				Job:        job.Name,
				Target:     job.Target,
				Path:       f.Path,
				EntryPoint: entries[f.Path],
				Contents:   f.Contents,
			})
		}
	}

	if result.HasErrors() {
		result.Artifacts = nil
	}
	result.Duration = time.Since(start)
	return result, nil
}

// Close disposes every context.
func (b *ESBuild) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for name, jc := range b.contexts {
		jc.ctx.Dispose()
		delete(b.contexts, name)
	}
	b.closed = true
	return nil
}

// syncContexts disposes contexts not matching a job in g.
// Called with b.mu held.
func (b *ESBuild) syncContexts(g Graph) {
	wanted := make(map[string]Job, len(g.Jobs))
	for _, j := range g.Jobs {
		wanted[j.Name] = j
	}
	for name, jc := range b.contexts {
		j, ok := wanted[name]
		if !ok || !reflect.DeepEqual(j, jc.job) {
			jc.ctx.Dispose()
			delete(b.contexts, name)
		}
	}
}

// context returns the context for job, creating it when missing.
// Called with b.mu held.
func (b *ESBuild) context(job Job) (*jobContext, error) {
	if jc, ok := b.contexts[job.Name]; ok {
		return jc, nil
	}
	bctx, cerr := api.Context(buildOptions(job))
	if cerr != nil {
		var detail []string
		for _, m := range convertMessages(cerr.Errors, api.ErrorMessage) {
			detail = append(detail, m.String())
		}
		return nil, errors.New("E111").
			WithDetail(strings.Join(detail, "\n"))
	}
	jc := &jobContext{job: job, ctx: bctx}
	b.contexts[job.Name] = jc
	return jc, nil
}

func buildOptions(job Job) api.BuildOptions {
	opts := api.BuildOptions{
		AbsWorkingDir: job.WorkingDir,
		EntryPoints:   job.EntryPoints,
		Outdir:        job.Outdir,
		PublicPath:    job.PublicPath,
		EntryNames:    job.EntryNames,
		Bundle:        true,
		Write:         false,
		Metafile:      true,
		Define:        job.Define,
		LogLevel:      api.LogLevelSilent,
		JSX:           api.JSXAutomatic,
		Loader: map[string]api.Loader{
			".js":   api.LoaderJSX,
			".svg":  api.LoaderFile,
			".png":  api.LoaderFile,
			".jpg":  api.LoaderFile,
			".webp": api.LoaderFile,
			".woff": api.LoaderFile,
		},
	}

	switch job.Target {
	case TargetServer:
		opts.Platform = api.PlatformNode
		opts.Format = api.FormatCommonJS
		opts.Engines = []api.Engine{{Name: api.EngineNode, Version: "18"}}
		if job.ExternalPackages {
			opts.Packages = api.PackagesExternal
		}
	default:
		opts.Platform = api.PlatformBrowser
		opts.Format = api.FormatESModule
		opts.Target = api.ES2020
		opts.Splitting = job.Splitting
	}

	if job.Minify {
		opts.MinifyWhitespace = true
		opts.MinifyIdentifiers = true
		opts.MinifySyntax = true
	}
	if job.Sourcemap {
		opts.Sourcemap = api.SourceMapLinked
	}
	return opts
}

func convertMessages(msgs []api.Message, kind api.MessageKind) []Message {
	if len(msgs) == 0 {
		return nil
	}
	formatted := api.FormatMessages(msgs, api.FormatMessagesOptions{Kind: kind})
	out := make([]Message, 0, len(msgs))
	for i, m := range msgs {
		msg := Message{Text: m.Text}
		if m.Location != nil {
			msg.File = m.Location.File
			msg.Line = m.Location.Line
			msg.Column = m.Location.Column
			msg.LineText = m.Location.LineText
		}
		if i < len(formatted) {
			msg.Formatted = formatted[i]
		}
		out = append(out, msg)
	}
	return out
}

type metafile struct {
	Outputs map[string]struct {
		EntryPoint string `json:"entryPoint,omitempty"`
	} `json:"outputs"`
}

// entryPoints maps absolute output paths to their source entry.
func entryPoints(raw, workingDir string) map[string]string {
	out := make(map[string]string)
	if raw == "" {
		return out
	}
	var m metafile
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return out
	}
	for p, o := range m.Outputs {
		if o.EntryPoint == "" {
			continue
		}
		if !filepath.IsAbs(p) {
			p = filepath.Join(workingDir, p)
		}
		out[p] = o.EntryPoint
	}
	return out
}

// Package bundler describes compilation jobs and their results, and drives
// esbuild to execute them.
//
// A Graph holds one job per output target. The browser job produces the
// assets served to clients; the server job produces the entry module the
// prerender driver executes.
package bundler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vango-dev/pages/internal/errors"
)

// Target is the platform a job compiles for.
type Target string

const (
	TargetBrowser Target = "browser"
	TargetServer  Target = "server"
)

// Job is one bundler compilation.
type Job struct {
	// Name identifies the job across passes.
	Name string

	// Target selects platform and module format.
	Target Target

	// WorkingDir is the absolute project root.
	WorkingDir string

	// EntryPoints are the absolute entry modules.
	EntryPoints []string

	// Outdir is the absolute output directory.
	Outdir string

	// PublicPath is the URL prefix for chunk and asset references.
	PublicPath string

	// EntryNames is the output name template, e.g. "[name]-[hash]".
	EntryNames string

	// Define replaces global identifiers with constant expressions.
	Define map[string]string

	// Minify enables whitespace, identifier and syntax minification.
	Minify bool

	// Splitting enables code splitting into shared chunks.
	Splitting bool

	// Sourcemap emits linked source maps.
	Sourcemap bool

	// ExternalPackages leaves node_modules imports unbundled.
	ExternalPackages bool
}

// Graph is the set of jobs compiled together in one pass.
type Graph struct {
	Jobs []Job
}

// Job returns the job with the given target.
func (g Graph) Job(target Target) (Job, bool) {
	for _, j := range g.Jobs {
		if j.Target == target {
			return j, true
		}
	}
	return Job{}, false
}

// Artifact is one emitted output file.
type Artifact struct {
	// Job is the name of the job that emitted the file.
	Job string

	// Target is the job's target.
	Target Target

	// Path is the absolute output path.
	Path string

	// EntryPoint is the source entry, relative to the working directory,
	// when the file is an entry output.
	EntryPoint string

	// Contents are the file bytes.
	Contents []byte
}

// Message is a bundler diagnostic.
type Message struct {
	Text     string
	File     string
	Line     int
	Column   int
	LineText string

	// Formatted is the rendered diagnostic including a source excerpt.
	Formatted string
}

// String returns the formatted diagnostic, or file:line:col: text.
func (m Message) String() string {
	if m.Formatted != "" {
		return strings.TrimRight(m.Formatted, "\n")
	}
	if m.File == "" {
		return m.Text
	}
	return fmt.Sprintf("%s:%d:%d: %s", m.File, m.Line, m.Column, m.Text)
}

// Result is the outcome of one pass.
type Result struct {
	Artifacts []Artifact
	Errors    []Message
	Warnings  []Message
	Duration  time.Duration
}

// HasErrors reports whether the pass failed.
func (r *Result) HasErrors() bool {
	return r != nil && len(r.Errors) > 0
}

// ArtifactsFor returns the artifacts emitted for target.
func (r *Result) ArtifactsFor(target Target) []Artifact {
	var out []Artifact
	for _, a := range r.Artifacts {
		if a.Target == target {
			out = append(out, a)
		}
	}
	return out
}

// Err returns every error of the pass concatenated into one E110 error, or
// nil when the pass succeeded.
func (r *Result) Err() error {
	if !r.HasErrors() {
		return nil
	}
	formatted := make([]string, 0, len(r.Errors))
	for _, m := range r.Errors {
		formatted = append(formatted, m.String())
	}
	err := errors.New("E110").WithDetail(strings.Join(formatted, "\n"))
	if first := r.Errors[0]; first.File != "" && first.Line > 0 {
		err.Location = &errors.Location{File: first.File, Line: first.Line, Column: first.Column + 1}
	}
	if len(r.Errors) > 1 {
		err.Message = fmt.Sprintf("Build failed with %d errors", len(r.Errors))
	}
	return err
}

// Bundler compiles a Graph.
type Bundler interface {
	// Build runs one pass over every job in g. Diagnostics are reported in
	// the Result; the error is reserved for failures to run the bundler.
	Build(ctx context.Context, g Graph) (*Result, error)

	// Close releases incremental state.
	Close() error
}

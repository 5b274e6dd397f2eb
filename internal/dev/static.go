package dev

import (
	"mime"
	"net/http"
	"path"
	"path/filepath"
	"strings"

	"github.com/vango-dev/pages/internal/console"
	"github.com/vango-dev/pages/internal/metrics"
	"github.com/vango-dev/pages/internal/vfs"
)

// NotFoundPage is served with status 404 when nothing else matches.
const NotFoundPage = "404.html"

// extraTypes covers extensions missing from some system MIME tables.
var extraTypes = map[string]string{
	".js":          "text/javascript; charset=utf-8",
	".mjs":         "text/javascript; charset=utf-8",
	".map":         "application/json",
	".json":        "application/json",
	".webmanifest": "application/manifest+json",
	".wasm":        "application/wasm",
	".svg":         "image/svg+xml",
	".woff":        "font/woff",
	".woff2":       "font/woff2",
	".md":          "text/markdown; charset=utf-8",
	".txt":         "text/plain; charset=utf-8",
	".xml":         "text/xml; charset=utf-8",
}

// RouterOptions configures a Router.
type RouterOptions struct {
	// FS holds the dist tree.
	FS vfs.FS

	// DistDir is the absolute dist directory.
	DistDir string

	// DistPath, when set, is called on every request instead of using
	// DistDir, so a reloaded configuration takes effect immediately.
	DistPath func() string

	// Development appends Script to every .html response.
	Development bool

	// Script defaults to DevClientScript.
	Script string

	Logger  *console.Logger
	Metrics *metrics.Collector
}

// Router serves files from the dist directory with a fixed fallback chain:
// the exact file, then <path>/index.html, then 404.html with status 404,
// then an empty 404.
type Router struct {
	opts RouterOptions
}

// Response is the outcome of resolving a request path.
type Response struct {
	Status int

	// File is the served file, empty when nothing matched.
	File string

	ContentType string
	Body        []byte
}

// NewRouter creates a Router.
func NewRouter(opts RouterOptions) *Router {
	if opts.Script == "" {
		opts.Script = DevClientScript
	}
	return &Router{opts: opts}
}

// Resolve maps a request path, relative to the base path, to a response.
func (rt *Router) Resolve(requestPath string) Response {
	dist := rt.distDir()
	rel, ok := cleanRequestPath(requestPath)
	if ok {
		base := filepath.Join(dist, filepath.FromSlash(rel))
		for _, candidate := range []string{base, filepath.Join(base, "index.html")} {
			if resp, found := rt.serveFile(candidate, http.StatusOK); found {
				return resp
			}
		}
	}

	if resp, found := rt.serveFile(filepath.Join(dist, NotFoundPage), http.StatusNotFound); found {
		return resp
	}
	return Response{Status: http.StatusNotFound}
}

func (rt *Router) distDir() string {
	if rt.opts.DistPath != nil {
		return rt.opts.DistPath()
	}
	return rt.opts.DistDir
}

// serveFile returns the response for name when it is a regular file.
func (rt *Router) serveFile(name string, status int) (Response, bool) {
	info, err := rt.opts.FS.Stat(name)
	if err != nil || !info.Mode().IsRegular() {
		return Response{}, false
	}

	data, err := rt.opts.FS.ReadFile(name)
	if err != nil {
		if rt.opts.Logger != nil {
			rt.opts.Logger.Error("Failed to read %s: %v", name, err)
		}
		return Response{Status: http.StatusInternalServerError, File: name}, true
	}

	if rt.opts.Development && strings.HasSuffix(name, ".html") {
		body := make([]byte, 0, len(data)+len(rt.opts.Script))
		body = append(body, data...)
		data = append(body, rt.opts.Script...)
	}

	return Response{
		Status:      status,
		File:        name,
		ContentType: contentType(name),
		Body:        data,
	}, true
}

// ServeHTTP writes the resolved response. A Content-Type already set on w
// is kept.
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := rt.Resolve(r.URL.Path)

	if resp.ContentType != "" && w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}
	if rt.opts.Development {
		w.Header().Set("Cache-Control", "no-cache")
	}
	w.WriteHeader(resp.Status)
	if len(resp.Body) > 0 {
		w.Write(resp.Body)
	}
	rt.opts.Metrics.RecordResponse(resp.Status)
}

// cleanRequestPath strips leading slashes and rejects traversal segments.
func cleanRequestPath(p string) (string, bool) {
	p = strings.ReplaceAll(p, "\\", "/")
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", false
		}
	}
	p = strings.TrimPrefix(path.Clean("/"+p), "/")
	return p, true
}

// contentType infers the MIME type from the file extension.
func contentType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if t, ok := extraTypes[ext]; ok {
		return t
	}
	return mime.TypeByExtension(ext)
}

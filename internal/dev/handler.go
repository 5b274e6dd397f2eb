package dev

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/vango-dev/pages/internal/metrics"
)

// MetricsPath exposes the Prometheus metrics.
const MetricsPath = "/_pages/metrics"

// HandlerOptions configures NewHandler.
type HandlerOptions struct {
	// BasePath is the URL path the site is mounted under, "/" or "/docs/".
	BasePath string

	// Static serves the dist tree.
	Static http.Handler

	// Reload enables the live-reload endpoint when set.
	Reload *ReloadServer

	// Metrics enables the metrics endpoint when set.
	Metrics *metrics.Collector

	// Verbose logs every request.
	Verbose bool
}

// NewHandler mounts the static router under the base path, with the
// live-reload and metrics endpoints beside it.
func NewHandler(opts HandlerOptions) http.Handler {
	r := chi.NewRouter()
	if opts.Verbose {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)

	if opts.Reload != nil {
		r.Get(ReloadPath, opts.Reload.HandleWebSocket)
	}
	if opts.Metrics != nil {
		r.Handle(MetricsPath, opts.Metrics.Handler())
	}

	prefix := strings.TrimSuffix(opts.BasePath, "/")
	if prefix == "" {
		r.Mount("/", opts.Static)
	} else {
		r.Mount(prefix, http.StripPrefix(prefix, opts.Static))
	}
	return r
}

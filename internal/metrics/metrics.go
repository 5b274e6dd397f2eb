// Package metrics collects Prometheus metrics for builds, prerendering,
// live reload and the dev server.
//
// Metrics collected:
//   - pages_builds_total: compile passes by mode and status
//   - pages_build_duration_seconds: compile pass duration by mode
//   - pages_superseded_generations_total: passes discarded because a newer one began
//   - pages_pages_written_total: prerendered files written
//   - pages_prerender_errors_total: failed prerender passes by mode
//   - pages_prerender_skipped_total: prerender passes skipped while a compile was in flight
//   - pages_reload_broadcasts_total: live-reload broadcasts
//   - pages_reload_clients: connected live-reload clients
//   - pages_content_changes_total: content directory events
//   - pages_http_responses_total: dev server responses by status code
//
// A nil *Collector records nothing, so components can take one optionally.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config configures a Collector.
type Config struct {
	// Namespace is the metrics namespace (default: "pages").
	Namespace string

	// Buckets are the histogram buckets for build duration.
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: a fresh prometheus.Registry.
	Registry *prometheus.Registry
}

// Option configures a Collector.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry *prometheus.Registry) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

// Collector holds the Prometheus metrics of one process.
type Collector struct {
	registry *prometheus.Registry

	buildsTotal         *prometheus.CounterVec
	buildDuration       *prometheus.HistogramVec
	supersededTotal     prometheus.Counter
	pagesWritten        prometheus.Counter
	prerenderErrors     *prometheus.CounterVec
	prerenderSkipped    prometheus.Counter
	reloadBroadcasts    prometheus.Counter
	reloadClients       prometheus.Gauge
	contentChangesTotal prometheus.Counter
	httpResponses       *prometheus.CounterVec
}

// New creates a Collector and registers its metrics.
func New(opts ...Option) *Collector {
	config := Config{
		Namespace: "pages",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}
	for _, opt := range opts {
		opt(&config)
	}
	if config.Registry == nil {
		config.Registry = prometheus.NewRegistry()
	}

	factory := promauto.With(config.Registry)

	return &Collector{
		registry: config.Registry,

		buildsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "builds_total",
			Help:      "Total number of compile passes",
		}, []string{"mode", "status"}),

		buildDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Name:      "build_duration_seconds",
			Help:      "Compile pass duration in seconds",
			Buckets:   config.Buckets,
		}, []string{"mode"}),

		supersededTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "superseded_generations_total",
			Help:      "Compile passes whose output was discarded because a newer pass began",
		}),

		pagesWritten: factory.NewCounter(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "pages_written_total",
			Help:      "Total number of prerendered files written",
		}),

		prerenderErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "prerender_errors_total",
			Help:      "Total number of failed prerender passes",
		}, []string{"mode"}),

		prerenderSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "prerender_skipped_total",
			Help:      "Prerender passes skipped while a compile was in flight",
		}),

		reloadBroadcasts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "reload_broadcasts_total",
			Help:      "Total number of live-reload broadcasts",
		}),

		reloadClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: config.Namespace,
			Name:      "reload_clients",
			Help:      "Number of connected live-reload clients",
		}),

		contentChangesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "content_changes_total",
			Help:      "Total number of content directory events",
		}),

		httpResponses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "http_responses_total",
			Help:      "Dev server responses by status code",
		}, []string{"status"}),
	}
}

// Handler returns the Prometheus exposition handler for this collector.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// RecordBuild records a compile pass.
func (c *Collector) RecordBuild(mode string, seconds float64, failed bool) {
	if c == nil {
		return
	}
	status := "success"
	if failed {
		status = "error"
	}
	c.buildsTotal.WithLabelValues(mode, status).Inc()
	c.buildDuration.WithLabelValues(mode).Observe(seconds)
}

// RecordSuperseded records a discarded compile pass.
func (c *Collector) RecordSuperseded() {
	if c == nil {
		return
	}
	c.supersededTotal.Inc()
}

// RecordPagesWritten records n prerendered files.
func (c *Collector) RecordPagesWritten(n int) {
	if c == nil {
		return
	}
	c.pagesWritten.Add(float64(n))
}

// RecordPrerenderError records a failed prerender pass.
func (c *Collector) RecordPrerenderError(mode string) {
	if c == nil {
		return
	}
	c.prerenderErrors.WithLabelValues(mode).Inc()
}

// RecordPrerenderSkipped records a skipped prerender pass.
func (c *Collector) RecordPrerenderSkipped() {
	if c == nil {
		return
	}
	c.prerenderSkipped.Inc()
}

// RecordBroadcast records a live-reload broadcast.
func (c *Collector) RecordBroadcast() {
	if c == nil {
		return
	}
	c.reloadBroadcasts.Inc()
}

// SetReloadClients sets the number of connected live-reload clients.
func (c *Collector) SetReloadClients(n int) {
	if c == nil {
		return
	}
	c.reloadClients.Set(float64(n))
}

// RecordContentChange records a content directory event.
func (c *Collector) RecordContentChange() {
	if c == nil {
		return
	}
	c.contentChangesTotal.Inc()
}

// RecordResponse records a dev server response.
func (c *Collector) RecordResponse(status int) {
	if c == nil {
		return
	}
	c.httpResponses.WithLabelValues(strconv.Itoa(status)).Inc()
}

// Package metrics bundles the Prometheus collectors exported on /metrics.
// A nil *Collector is valid and records nothing.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
)

// Collector holds all fieldnotes metrics.
type Collector struct {
	gatherer prometheus.Gatherer

	Placements     *prometheus.CounterVec
	Duplicates     *prometheus.CounterVec
	Uploads        *prometheus.CounterVec
	UploadDuration prometheus.Histogram
	Tiles          *prometheus.CounterVec
	TileDuration   *prometheus.HistogramVec
	Sessions       prometheus.Gauge
	HTTPRequests   *prometheus.CounterVec
	HTTPDuration   *prometheus.HistogramVec
}

// New registers the collectors against reg, defaulting to the global
// registry when nil. Registering twice against the same registry reuses the
// existing collectors.
func New(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &Collector{gatherer: gatherer}
	var err error

	if c.Placements, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fieldnotes_placements_total",
		Help: "Placement attempts by outcome (saved, failed, declined, cancelled).",
	}, []string{"outcome"})); err != nil {
		return nil, err
	}
	if c.Duplicates, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fieldnotes_duplicates_total",
		Help: "Same-place collisions by resolution (prompted, overwritten, declined).",
	}, []string{"resolution"})); err != nil {
		return nil, err
	}
	if c.Uploads, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fieldnotes_photo_uploads_total",
		Help: "Photo uploads by result.",
	}, []string{"result"})); err != nil {
		return nil, err
	}
	if c.UploadDuration, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "fieldnotes_photo_upload_duration_seconds",
		Help:    "Single photo upload latency in seconds.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	})); err != nil {
		return nil, err
	}
	if c.Tiles, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fieldnotes_tiles_total",
		Help: "Tile proxy responses by layer and source (cache, upstream, blank).",
	}, []string{"layer", "source"})); err != nil {
		return nil, err
	}
	if c.TileDuration, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fieldnotes_tile_fetch_duration_seconds",
		Help:    "Upstream tile fetch latency in seconds.",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"layer"})); err != nil {
		return nil, err
	}
	if c.Sessions, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fieldnotes_sessions_active",
		Help: "Current number of live workspace sessions.",
	})); err != nil {
		return nil, err
	}
	if c.HTTPRequests, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fieldnotes_http_requests_total",
		Help: "HTTP requests by route pattern, method and status code.",
	}, []string{"route", "method", "code"})); err != nil {
		return nil, err
	}
	if c.HTTPDuration, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fieldnotes_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method"})); err != nil {
		return nil, err
	}

	return c, nil
}

// Handler exposes the registry for scraping.
func (c *Collector) Handler() http.Handler {
	if c == nil || c.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

// Placement records the outcome of a placement.
func (c *Collector) Placement(outcome string) {
	if c == nil {
		return
	}
	c.Placements.WithLabelValues(outcome).Inc()
}

// Duplicate records how a same-place collision was resolved.
func (c *Collector) Duplicate(resolution string) {
	if c == nil {
		return
	}
	c.Duplicates.WithLabelValues(resolution).Inc()
}

// Upload records a single photo upload.
func (c *Collector) Upload(err error, d time.Duration) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.Uploads.WithLabelValues(result).Inc()
	c.UploadDuration.Observe(d.Seconds())
}

// Tile records a tile proxy response. d is zero for cache hits.
func (c *Collector) Tile(layer, source string, d time.Duration) {
	if c == nil {
		return
	}
	c.Tiles.WithLabelValues(layer, source).Inc()
	if d > 0 {
		c.TileDuration.WithLabelValues(layer).Observe(d.Seconds())
	}
}

// SetSessions sets the live session gauge.
func (c *Collector) SetSessions(n int) {
	if c == nil {
		return
	}
	c.Sessions.Set(float64(n))
}

// Middleware records request counts and latency by chi route pattern.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	if c == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		c.HTTPRequests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		c.HTTPDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

func register[T prometheus.Collector](reg prometheus.Registerer, col T) (T, error) {
	if err := reg.Register(col); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		var zero T
		return zero, eris.Wrap(err, "metrics: register")
	}
	return col, nil
}

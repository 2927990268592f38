// Package metrics exposes Prometheus instrumentation for the send service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors of one registry.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	BatchesTotal    *prometheus.CounterVec
	BatchSize       prometheus.Histogram
	EmailsTotal     *prometheus.CounterVec
	SendDuration    *prometheus.HistogramVec
	AttachmentBytes prometheus.Histogram
	RateLimitWaits  prometheus.Histogram
}

// New creates a Metrics backed by a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailmerge_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),
		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailmerge_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		BatchesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailmerge_batches_total",
				Help: "Send batches by outcome",
			},
			[]string{"outcome"},
		),
		BatchSize: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mailmerge_batch_size",
				Help:    "Number of emails per send batch",
				Buckets: prometheus.ExponentialBuckets(1, 2, 10),
			},
		),
		EmailsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailmerge_emails_total",
				Help: "Emails processed by provider and result",
			},
			[]string{"provider", "result"},
		),
		SendDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailmerge_send_duration_seconds",
				Help:    "Time spent delivering a single email",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider"},
		),
		AttachmentBytes: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mailmerge_attachment_size_bytes",
				Help:    "Decoded attachment size in bytes",
				Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
			},
		),
		RateLimitWaits: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mailmerge_rate_limit_wait_seconds",
				Help:    "Time spent waiting for the send rate limiter",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordBatch records one completed or rejected batch.
func (m *Metrics) RecordBatch(outcome string, size int) {
	m.BatchesTotal.WithLabelValues(outcome).Inc()
	if size > 0 {
		m.BatchSize.Observe(float64(size))
	}
}

// RecordEmail records the delivery of one email.
func (m *Metrics) RecordEmail(provider string, success bool, d time.Duration) {
	result := "sent"
	if !success {
		result = "failed"
	}
	m.EmailsTotal.WithLabelValues(provider, result).Inc()
	m.SendDuration.WithLabelValues(provider).Observe(d.Seconds())
}

// RecordAttachment records the size of one decoded attachment.
func (m *Metrics) RecordAttachment(size int) {
	m.AttachmentBytes.Observe(float64(size))
}

// RecordRateLimitWait records time spent blocked on the rate limiter.
func (m *Metrics) RecordRateLimitWait(d time.Duration) {
	m.RateLimitWaits.Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware records request counts and latencies labelled by chi route
// pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		endpoint := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				endpoint = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.HTTPRequestsTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
	})
}

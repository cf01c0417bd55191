// Package metrics exposes Prometheus collectors for quota decisions,
// subscription lifecycle events and HTTP traffic.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dmitrymomot/meter/pkg/billing"
	"github.com/dmitrymomot/meter/pkg/entitlement"
	"github.com/dmitrymomot/meter/pkg/usage"
)

const namespace = "meter"

var (
	_ usage.Recorder   = (*Metrics)(nil)
	_ billing.Recorder = (*Metrics)(nil)
)

// Metrics holds all collectors.
type Metrics struct {
	QuotaDecisionsTotal *prometheus.CounterVec
	UsageResetsTotal    *prometheus.CounterVec
	LifecycleTotal      *prometheus.CounterVec

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		QuotaDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "quota_decisions_total",
				Help:      "Quota decisions by feature and outcome.",
			},
			[]string{"feature", "outcome"},
		),
		UsageResetsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "usage_resets_total",
				Help:      "Daily counters reset after an upgrade.",
			},
			[]string{"feature"},
		),
		LifecycleTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "subscription_lifecycle_events_total",
				Help:      "Checkout and subscription lifecycle events.",
			},
			[]string{"event"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by route and status.",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}

	reg.MustRegister(
		m.QuotaDecisionsTotal,
		m.UsageResetsTotal,
		m.LifecycleTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	)
	return m
}

func (m *Metrics) RecordDecision(feature entitlement.FeatureID, outcome usage.Outcome) {
	m.QuotaDecisionsTotal.WithLabelValues(string(feature), string(outcome)).Inc()
}

func (m *Metrics) RecordReset(feature entitlement.FeatureID) {
	m.UsageResetsTotal.WithLabelValues(string(feature)).Inc()
}

func (m *Metrics) RecordLifecycle(event string) {
	m.LifecycleTotal.WithLabelValues(event).Inc()
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Middleware records request counts and latencies labelled by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		m.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(sw.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

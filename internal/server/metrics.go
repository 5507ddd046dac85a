package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus collectors on a registry of its own.
type Metrics struct {
	registry *prometheus.Registry

	authOutcomes    *prometheus.CounterVec
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	inflight        *prometheus.GaugeVec
}

// NewMetrics creates and registers the collectors. A nil registry gets a fresh one.
func NewMetrics(registry *prometheus.Registry) (*Metrics, error) {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		registry: registry,
		authOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mastodonlm_auth_outcomes_total",
			Help: "Outcomes of the login flow by stage",
		}, []string{"stage", "outcome"}),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mastodonlm_http_requests_total",
			Help: "Requests served by route and status",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mastodonlm_http_request_duration_seconds",
			Help:    "Request latency by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		inflight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mastodonlm_http_inflight_requests",
			Help: "Requests in flight by route",
		}, []string{"method", "route"}),
	}

	for _, c := range []prometheus.Collector{m.authOutcomes, m.requestsTotal, m.requestDuration, m.inflight} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// AuthOutcome counts one outcome of stage (auth, callback, logout). Safe on a nil receiver.
func (m *Metrics) AuthOutcome(stage, outcome string) {
	if m == nil {
		return
	}
	m.authOutcomes.WithLabelValues(stage, outcome).Inc()
}

// Middleware instruments requests with counters, latency and in-flight gauges.
//
// Routes are labelled with the matched mux pattern so that query strings and unknown paths do not grow the label set.
func (m *Metrics) Middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			method := strings.ToUpper(r.Method)
			route := r.Pattern
			if route == "" {
				route = "unmatched"
			}

			m.inflight.WithLabelValues(method, route).Inc()
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			defer func() {
				m.inflight.WithLabelValues(method, route).Dec()
				m.requestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
				m.requestsTotal.WithLabelValues(method, route, strconv.Itoa(rec.status)).Inc()
			}()

			next.ServeHTTP(rec, r)
		})
	}
}

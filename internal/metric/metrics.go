package metric

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "apicomposer"

// Drift check outcomes used as the "result" label.
const (
	DriftResultUnchanged = "unchanged"
	DriftResultChanged   = "changed"
	DriftResultError     = "error"
)

// Metrics holds the gateway metrics. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	ProxyRequests      *prometheus.CounterVec
	ProxyDuration      *prometheus.HistogramVec
	ProxyErrors        *prometheus.CounterVec
	ComposedServices   *prometheus.GaugeVec
	CompositionErrors  *prometheus.CounterVec
	DriftChecks        *prometheus.CounterVec
	GraphQLRequests    *prometheus.CounterVec
	UpstreamHealth     *prometheus.GaugeVec
	SupergraphFallback prometheus.Gauge
}

// NewMetrics creates the gateway metrics and registers them with a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		ProxyRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "proxy",
				Name:      "requests_total",
				Help:      "Total number of proxied requests by service, method and upstream status code.",
			},
			[]string{"service", "method", "code"},
		),
		ProxyDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "proxy",
				Name:      "duration_seconds",
				Help:      "Time until the upstream response headers were received.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"service"},
		),
		ProxyErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "proxy",
				Name:      "errors_total",
				Help:      "Total number of proxied requests that failed before a response arrived.",
			},
			[]string{"service", "kind"},
		),
		ComposedServices: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "composition",
				Name:      "services",
				Help:      "Number of services in the last composition by schema kind and status (composed, failed).",
			},
			[]string{"kind", "status"},
		),
		CompositionErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "composition",
				Name:      "errors_total",
				Help:      "Total number of compositions that failed as a whole.",
			},
			[]string{"kind"},
		),
		DriftChecks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "drift",
				Name:      "checks_total",
				Help:      "Total number of per-service drift checks by schema kind and result.",
			},
			[]string{"kind", "result"},
		),
		GraphQLRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "graphql",
				Name:      "requests_total",
				Help:      "Total number of GraphQL requests by outcome (ok, partial, rejected).",
			},
			[]string{"outcome"},
		),
		UpstreamHealth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "upstream",
				Name:      "up",
				Help:      "Whether the upstream origin answered the last health probe (0=down, 1=up).",
			},
			[]string{"service"},
		),
		SupergraphFallback: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "graphql",
				Name:      "placeholder_supergraph",
				Help:      "Whether the placeholder supergraph is served (0=no, 1=yes).",
			},
		),
	}

	m.registry.MustRegister(
		m.ProxyRequests,
		m.ProxyDuration,
		m.ProxyErrors,
		m.ComposedServices,
		m.CompositionErrors,
		m.DriftChecks,
		m.GraphQLRequests,
		m.UpstreamHealth,
		m.SupergraphFallback,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry holding the gateway metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordProxyResponse counts a proxied request that received an upstream response.
func (m *Metrics) RecordProxyResponse(service, method string, code int, duration time.Duration) {
	if m == nil {
		return
	}
	m.ProxyRequests.WithLabelValues(service, method, strconv.Itoa(code)).Inc()
	m.ProxyDuration.WithLabelValues(service).Observe(duration.Seconds())
}

// RecordProxyError counts a proxied request that failed without upstream response.
func (m *Metrics) RecordProxyError(service, kind string) {
	if m == nil {
		return
	}
	m.ProxyErrors.WithLabelValues(service, kind).Inc()
}

// RecordComposition records how many services of a kind composed or failed.
func (m *Metrics) RecordComposition(kind string, composed, failed int) {
	if m == nil {
		return
	}
	m.ComposedServices.WithLabelValues(kind, "composed").Set(float64(composed))
	m.ComposedServices.WithLabelValues(kind, "failed").Set(float64(failed))
}

// RecordCompositionError counts a composition that failed as a whole.
func (m *Metrics) RecordCompositionError(kind string) {
	if m == nil {
		return
	}
	m.CompositionErrors.WithLabelValues(kind).Inc()
}

// RecordDriftCheck counts one drift check.
func (m *Metrics) RecordDriftCheck(kind, result string) {
	if m == nil {
		return
	}
	m.DriftChecks.WithLabelValues(kind, result).Inc()
}

// RecordGraphQLRequest counts one GraphQL request.
func (m *Metrics) RecordGraphQLRequest(outcome string) {
	if m == nil {
		return
	}
	m.GraphQLRequests.WithLabelValues(outcome).Inc()
}

// RecordUpstreamHealth updates the health gauge of a service.
func (m *Metrics) RecordUpstreamHealth(service string, up bool) {
	if m == nil {
		return
	}
	value := 0.0
	if up {
		value = 1.0
	}
	m.UpstreamHealth.WithLabelValues(service).Set(value)
}

// RecordSupergraph records whether the placeholder supergraph is served.
func (m *Metrics) RecordSupergraph(placeholder bool) {
	if m == nil {
		return
	}
	value := 0.0
	if placeholder {
		value = 1.0
	}
	m.SupergraphFallback.Set(value)
}

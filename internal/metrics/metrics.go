// Package metrics exposes orchestrator metrics on a private Prometheus
// registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every orchestrator metric.
type Metrics struct {
	ConnectAttempts *prometheus.CounterVec
	ConnectDuration *prometheus.HistogramVec
	Failovers       prometheus.Counter
	Exhaustions     prometheus.Counter
	CountdownActive prometheus.Gauge
	Connected       *prometheus.GaugeVec
	NetworkChanges  prometheus.Counter
	IPLookups       *prometheus.CounterVec
	ProviderState   *prometheus.GaugeVec

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.ConnectAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vpn_connect_attempts_total",
			Help: "Connect attempts by protocol, reason and result",
		},
		[]string{"protocol", "reason", "result"},
	)
	m.ConnectDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vpn_connect_duration_seconds",
			Help:    "Time from connect request to result",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"protocol"},
	)
	m.Failovers = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vpn_failover_countdowns_total",
		Help: "Failover countdowns started",
	})
	m.Exhaustions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vpn_protocols_exhausted_total",
		Help: "Times every candidate failed",
	})
	m.CountdownActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vpn_failover_countdown_active",
		Help: "1 while a failover countdown runs",
	})
	m.Connected = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vpn_connected",
			Help: "1 for the protocol of the established tunnel",
		},
		[]string{"protocol"},
	)
	m.NetworkChanges = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vpn_network_changes_total",
		Help: "Network identity changes seen",
	})
	m.IPLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vpn_ip_lookups_total",
			Help: "Public IP lookups by result",
		},
		[]string{"result"},
	)
	m.ProviderState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vpn_provider_state",
			Help: "Platform state of each provider profile (see protocols.State)",
		},
		[]string{"profile"},
	)

	m.registry.MustRegister(
		m.ConnectAttempts,
		m.ConnectDuration,
		m.Failovers,
		m.Exhaustions,
		m.CountdownActive,
		m.Connected,
		m.NetworkChanges,
		m.IPLookups,
		m.ProviderState,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SetConnected marks protocol as the only connected one. An empty protocol
// clears the gauge.
func (m *Metrics) SetConnected(protocol string) {
	m.Connected.Reset()
	if protocol != "" {
		m.Connected.WithLabelValues(protocol).Set(1)
	}
}

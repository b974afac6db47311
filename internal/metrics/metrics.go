// Package metrics records broker activity as Prometheus series.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is what the broker components report to.
type Metrics interface {
	ObserveConnect(serverID string, duration time.Duration, err error)
	ObserveDisconnect(serverID string)
	ObserveDiscovery(serverID string, err error)
	ObserveToolCall(serverID string, duration time.Duration, err error)
	ObserveSecretLookup(source string)
	ObserveOAuthFlow(kind string, err error)
}

// Noop discards everything.
type Noop struct{}

func (Noop) ObserveConnect(string, time.Duration, error)  {}
func (Noop) ObserveDisconnect(string)                     {}
func (Noop) ObserveDiscovery(string, error)               {}
func (Noop) ObserveToolCall(string, time.Duration, error) {}
func (Noop) ObserveSecretLookup(string)                   {}
func (Noop) ObserveOAuthFlow(string, error)               {}

// Prometheus implements Metrics on a dedicated registry.
type Prometheus struct {
	registry *prometheus.Registry

	connects        *prometheus.CounterVec
	connectDuration *prometheus.HistogramVec
	connected       *prometheus.GaugeVec
	discoveries     *prometheus.CounterVec
	toolCalls       *prometheus.CounterVec
	toolDuration    *prometheus.HistogramVec
	secretLookups   *prometheus.CounterVec
	oauthFlows      *prometheus.CounterVec
}

// NewPrometheus creates the collectors and registers them on a fresh registry.
func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Prometheus{
		registry: registry,
		connects: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "switchboard_upstream_connects_total",
				Help: "Upstream spawn or connect attempts",
			},
			[]string{"server", "status"},
		),
		connectDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "switchboard_upstream_connect_duration_seconds",
				Help:    "Time to spawn or connect and initialize an upstream",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"server"},
		),
		connected: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "switchboard_upstream_connected",
				Help: "1 while an upstream holds a live connection",
			},
			[]string{"server"},
		),
		discoveries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "switchboard_tool_discoveries_total",
				Help: "Upstream tool-list calls",
			},
			[]string{"server", "status"},
		),
		toolCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "switchboard_tool_calls_total",
				Help: "Tool calls forwarded upstream",
			},
			[]string{"server", "status"},
		),
		toolDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "switchboard_tool_call_duration_seconds",
				Help:    "Duration of forwarded tool calls",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"server"},
		),
		secretLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "switchboard_secret_lookups_total",
				Help: "Placeholder resolutions by the source that answered",
			},
			[]string{"source"},
		),
		oauthFlows: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "switchboard_oauth_flows_total",
				Help: "OAuth authorization and refresh attempts",
			},
			[]string{"kind", "status"},
		),
	}
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (p *Prometheus) ObserveConnect(serverID string, duration time.Duration, err error) {
	p.connects.WithLabelValues(serverID, status(err)).Inc()
	p.connectDuration.WithLabelValues(serverID).Observe(duration.Seconds())
	if err == nil {
		p.connected.WithLabelValues(serverID).Set(1)
	}
}

func (p *Prometheus) ObserveDisconnect(serverID string) {
	p.connected.WithLabelValues(serverID).Set(0)
}

func (p *Prometheus) ObserveDiscovery(serverID string, err error) {
	p.discoveries.WithLabelValues(serverID, status(err)).Inc()
}

func (p *Prometheus) ObserveToolCall(serverID string, duration time.Duration, err error) {
	p.toolCalls.WithLabelValues(serverID, status(err)).Inc()
	p.toolDuration.WithLabelValues(serverID).Observe(duration.Seconds())
}

func (p *Prometheus) ObserveSecretLookup(source string) {
	p.secretLookups.WithLabelValues(source).Inc()
}

func (p *Prometheus) ObserveOAuthFlow(kind string, err error) {
	p.oauthFlows.WithLabelValues(kind, status(err)).Inc()
}

// Registry exposes the underlying registry, mainly for tests.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus text format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

var (
	_ Metrics = (*Prometheus)(nil)
	_ Metrics = Noop{}
)

// Package telemetry exposes the gateway's Prometheus instruments and the
// /metrics handler.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the gateway instruments so handlers can record without
// touching package globals.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RateLimitedTotal prometheus.Counter
	ForwardErrors    *prometheus.CounterVec
	NodesOnline      prometheus.Gauge
	WSClients        prometheus.Gauge
}

// New creates the instrument set on a private registry, keeping the
// /metrics output limited to what the gateway itself records.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voicegrid",
			Name:      "requests_total",
			Help:      "API requests by endpoint and status class.",
		}, []string{"endpoint", "status"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "voicegrid",
			Name:      "request_duration_seconds",
			Help:      "API request latency by endpoint.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
		RateLimitedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "voicegrid",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter.",
		}),
		ForwardErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voicegrid",
			Name:      "forward_errors_total",
			Help:      "Failed forwards to worker nodes by engine.",
		}, []string{"engine"}),
		NodesOnline: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "voicegrid",
			Name:      "nodes_online",
			Help:      "Worker nodes currently online.",
		}),
		WSClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "voicegrid",
			Name:      "ws_clients",
			Help:      "Connected WebSocket dashboard clients.",
		}),
	}
}

// Handler serves the /metrics endpoint for this instrument set.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

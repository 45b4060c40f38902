// Package metric provides Prometheus metrics for shardis.
//
// It exposes connection, command, and storage-engine metrics on a
// dedicated registry so tests can run multiple instances without
// default-registry collisions.
package metric

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// EngineStats is the view of the storage engine the collector samples.
type EngineStats interface {
	Len() int
	BlockedWaiters() int
}

// Registry holds all application metrics.
type Registry struct {
	reg *prometheus.Registry

	// Connection metrics
	ConnectionsActive prometheus.Gauge
	ConnectionsTotal  prometheus.Counter

	// Command metrics
	CommandsTotal   *prometheus.CounterVec
	CommandDuration *prometheus.HistogramVec

	// Protocol metrics
	ProtocolErrors prometheus.Counter
}

// NewRegistry creates a registry with all metrics registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	r := &Registry{
		reg: reg,
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shardis_connections_active",
			Help: "Number of currently open client connections.",
		}),
		ConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shardis_connections_total",
			Help: "Total number of accepted client connections.",
		}),
		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shardis_commands_total",
			Help: "Total number of dispatched commands by name.",
		}, []string{"command"}),
		CommandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shardis_command_duration_seconds",
			Help:    "Command execution latency by name.",
			Buckets: prometheus.ExponentialBuckets(0.000010, 4, 12),
		}, []string{"command"}),
		ProtocolErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shardis_protocol_errors_total",
			Help: "Total number of connections terminated by RESP framing errors.",
		}),
	}

	reg.MustRegister(
		r.ConnectionsActive,
		r.ConnectionsTotal,
		r.CommandsTotal,
		r.CommandDuration,
		r.ProtocolErrors,
	)
	return r
}

// RegisterEngine registers gauge functions sampling the storage engine.
func (r *Registry) RegisterEngine(stats EngineStats) {
	r.reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "shardis_keys_total",
			Help: "Number of keys currently stored across all shards.",
		}, func() float64 { return float64(stats.Len()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "shardis_blocked_waiters",
			Help: "Number of registered blocking-pop waiter entries.",
		}, func() float64 { return float64(stats.BlockedWaiters()) }),
	)
}

// ObserveCommand records one dispatched command and its latency.
func (r *Registry) ObserveCommand(name string, elapsed time.Duration) {
	r.CommandsTotal.WithLabelValues(name).Inc()
	r.CommandDuration.WithLabelValues(name).Observe(elapsed.Seconds())
}

// Handler returns the HTTP handler serving this registry in Prometheus
// exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Package metrics holds the Prometheus collectors of the graph service and client.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds every depi collector. It is exposed by Handler.
	Registry = prometheus.NewRegistry()

	// RemoteCalls counts remote calls by method and result code ("ok" on success).
	RemoteCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "depi_remote_calls_total",
			Help: "Number of remote calls by method and result code.",
		},
		[]string{"side", "method", "code"},
	)

	// CallDuration observes remote call latency by method.
	CallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "depi_remote_call_duration_seconds",
			Help:    "Time taken to serve a remote call.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"side", "method"},
	)

	// ActiveWatchers is the number of open watcher streams.
	ActiveWatchers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "depi_active_watchers",
			Help: "Number of open watcher streams by scope.",
		},
		[]string{"scope"},
	)

	// BlackboardSaves counts blackboard commits by result (saved, conflict, error).
	BlackboardSaves = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "depi_blackboard_saves_total",
			Help: "Number of blackboard saves by result.",
		},
		[]string{"result"},
	)

	// KeepaliveFailures counts failed keepalive pings by error kind.
	KeepaliveFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "depi_keepalive_failures_total",
			Help: "Number of failed keepalive pings by error kind.",
		},
		[]string{"kind"},
	)
)

// Sides of a remote call.
const (
	SideClient = "client"
	SideServer = "server"
)

func init() {
	Registry.MustRegister(
		RemoteCalls,
		CallDuration,
		ActiveWatchers,
		BlackboardSaves,
		KeepaliveFailures,
		collectors.NewGoCollector(),
	)
}

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

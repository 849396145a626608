// Package metrics defines the engine's Prometheus instruments, served
// by internal/api's /metrics route via promhttp.Handler's default
// registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SignalsDispatchedTotal counts signals that cleared SignalDispatcher,
// labeled by symbol and side.
var SignalsDispatchedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "signals_dispatched_total",
		Help: "Total number of trading signals dispatched, by symbol and side.",
	},
	[]string{"symbol", "side"},
)

// PositionsOpen is the current number of virtual positions under
// watch, incremented on Track and decremented on close.
var PositionsOpen = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "positions_open",
		Help: "Current number of virtual positions being watched.",
	},
)

// ScanDurationSeconds observes wall-clock time of a single orchestrator
// scan pass (candidate evaluation fan-out plus dispatch).
var ScanDurationSeconds = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "scan_duration_seconds",
		Help:    "Duration of a single symbol-scan pass.",
		Buckets: prometheus.DefBuckets,
	},
)

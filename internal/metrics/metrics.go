// Package metrics provides Prometheus metrics for monitoring acquisition runs.
//
// Key metrics:
//   - Acquisition units by outcome and rows parsed
//   - Ports currently leased to sessions
//   - Run outcomes and wall-clock duration
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	UnitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "histdata_units_total",
			Help: "Acquisition units processed, by status.",
		},
		[]string{"status"},
	)

	RowsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "histdata_rows_total",
			Help: "Minute bars parsed from source payloads.",
		},
	)

	PortsInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "histdata_ports_in_use",
			Help: "Local ports currently leased to acquisition sessions.",
		},
	)

	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "histdata_runs_total",
			Help: "Pipeline runs, by status.",
		},
		[]string{"status"},
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "histdata_run_duration_seconds",
			Help:    "Wall-clock duration of pipeline runs.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		},
	)
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

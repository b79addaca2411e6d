// Package metrics holds the prometheus collectors for the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Requests counts shortest-path requests by outcome.
	Requests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridpath_requests_total",
			Help: "Shortest-path requests by status (ok, no_path, error)",
		},
		[]string{"status"},
	)

	// RequestDuration tracks end-to-end request handling time.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gridpath_request_duration_seconds",
			Help:    "Time spent serving shortest-path requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	// Iterations tracks relaxation dispatches per converged request.
	Iterations = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gridpath_relax_iterations",
			Help:    "Relaxation dispatches until convergence",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)

	// GridCells tracks request grid sizes.
	GridCells = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gridpath_grid_cells",
			Help:    "Cells per requested grid",
			Buckets: prometheus.ExponentialBuckets(16, 4, 10),
		},
	)

	// LiveBuffers reports currently allocated device buffers.
	LiveBuffers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gridpath_device_buffers_live",
			Help: "Device buffers currently allocated",
		},
	)

	// LiveBufferBytes reports currently allocated device memory.
	LiveBufferBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gridpath_device_buffer_bytes_live",
			Help: "Device buffer bytes currently allocated",
		},
	)
)

// ObserveBuffers updates the buffer gauges from an accounting
// snapshot. Called after each request; cheap enough not to need a
// sampler loop.
func ObserveBuffers(liveBuffers, liveBytes int64) {
	LiveBuffers.Set(float64(liveBuffers))
	LiveBufferBytes.Set(float64(liveBytes))
}

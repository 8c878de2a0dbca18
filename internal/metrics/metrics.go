// Package metrics declares the prometheus collectors exported at /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CoverageComputations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hexgrid_coverage_computations_total",
		Help: "Coverage enumerations performed against the spatial index",
	}, []string{"path"})
	CoverageTooMany = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hexgrid_coverage_too_many_total",
		Help: "Coverage requests rejected because the estimate reached the ceiling",
	}, []string{"path"})
	CoverageIndexErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hexgrid_coverage_index_errors_total",
		Help: "Coverage requests that failed inside the spatial index",
	}, []string{"path"})
	CoverageCells = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hexgrid_coverage_cells",
		Help:    "Cells returned per coverage computation",
		Buckets: []float64{0, 10, 100, 500, 1000, 5000, 10000, 50000, 100000},
	}, []string{"path"})
	CoverageCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hexgrid_coverage_cache_hits_total",
		Help: "Coverage cache hits",
	})
	CoverageCacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hexgrid_coverage_cache_misses_total",
		Help: "Coverage cache misses",
	})
	TasksSubmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hexgrid_tasks_submitted_total",
		Help: "Background compute tasks accepted by the pool",
	})
	TasksCompleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hexgrid_tasks_completed_total",
		Help: "Background compute tasks that delivered their callback",
	})
	TaskQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hexgrid_task_queue_depth",
		Help: "Tasks waiting for a worker",
	})
	GridRebuilds = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hexgrid_grid_rebuilds_total",
		Help: "Grid model rebuilds",
	})
	TileRenders = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hexgrid_tile_renders_total",
		Help: "PNG tiles rendered (cache misses)",
	})
	TileCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hexgrid_tile_cache_hits_total",
		Help: "PNG tiles served from cache",
	})
	Sessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hexgrid_sessions",
		Help: "Grid sessions held by the registry",
	})
)

func init() {
	prometheus.MustRegister(
		CoverageComputations,
		CoverageTooMany,
		CoverageIndexErrors,
		CoverageCells,
		CoverageCacheHits,
		CoverageCacheMisses,
		TasksSubmitted,
		TasksCompleted,
		TaskQueueDepth,
		GridRebuilds,
		TileRenders,
		TileCacheHits,
		Sessions,
	)
}

// Handler returns the exposition handler for the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

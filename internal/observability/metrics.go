package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "climate_dash"

// Metrics holds the Prometheus counters, histograms, and gauges for the dashboard service.
type Metrics struct {
	// Layer ingestion pipeline.
	ReleasesConsumed prometheus.Counter
	LayersProduced   prometheus.Counter
	LayerErrors      *prometheus.CounterVec // labels: kind={no_geometry,raster_decode,empty_domain,degenerate_rect,invalid_release,internal}
	PipelineRunning  prometheus.Gauge

	// Batch processing metrics.
	BatchSize               prometheus.Histogram
	BatchProcessingDuration prometheus.Histogram

	// Raster decode and colorize.
	LayerBuildDuration prometheus.Histogram
	LayerHandles       prometheus.Gauge
	StaleDecodes       prometheus.Counter

	// Data source metrics.
	SourceRequests      *prometheus.CounterVec   // labels: source={file,http}, outcome={success,error,not_found}
	SourceCache         *prometheus.CounterVec   // labels: result={hit,miss}
	SourceFetchDuration *prometheus.HistogramVec // labels: source={file,http}

	// Dashboard sessions.
	Sessions    prometheus.Gauge
	Transitions *prometheus.CounterVec // labels: op, outcome={ok,error}
}

// NewMetrics creates and registers all service metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		ReleasesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "releases_consumed_total",
			Help:      "Total dataset release notices read from the source topic.",
		}),
		LayersProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "layers_produced_total",
			Help:      "Total layer-ready notices written to the sink topic.",
		}),
		LayerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "layer_errors_total",
			Help:      "Suppressed layers by error kind.",
		}, []string{"kind"}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 when the ingestion pipeline is active, 0 when shut down.",
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Number of release notices per batch extracted from Kafka.",
			Buckets:   []float64{1, 2, 5, 10, 20, 50},
		}),
		BatchProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_processing_duration_seconds",
			Help:      "Duration of a complete batch extract-transform-load cycle.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}),
		LayerBuildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "layer_build_duration_seconds",
			Help:      "Duration of fetching, decoding, and colorizing one raster layer.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		LayerHandles: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "layer_handles",
			Help:      "Live raster image handles held by sessions.",
		}),
		StaleDecodes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_decodes_total",
			Help:      "Raster decodes discarded because a newer request superseded them.",
		}),
		SourceRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_requests_total",
			Help:      "Data source reads by source and outcome.",
		}, []string{"source", "outcome"}),
		SourceCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_cache_total",
			Help:      "Data source cache lookups by result.",
		}, []string{"result"}),
		SourceFetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "source_fetch_duration_seconds",
			Help:      "Data source read duration in seconds.",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"source"}),
		Sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions",
			Help:      "Open dashboard sessions.",
		}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Selection state transitions by operation and outcome.",
		}, []string{"op", "outcome"}),
	}

	prometheus.MustRegister(
		m.ReleasesConsumed,
		m.LayersProduced,
		m.LayerErrors,
		m.PipelineRunning,
		m.BatchSize,
		m.BatchProcessingDuration,
		m.LayerBuildDuration,
		m.LayerHandles,
		m.StaleDecodes,
		m.SourceRequests,
		m.SourceCache,
		m.SourceFetchDuration,
		m.Sessions,
		m.Transitions,
	)

	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		ReleasesConsumed:        prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "releases_consumed_total"}),
		LayersProduced:          prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "layers_produced_total"}),
		LayerErrors:             prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "layer_errors_total"}, []string{"kind"}),
		PipelineRunning:         prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "pipeline_running"}),
		BatchSize:               prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "batch_size"}),
		BatchProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "batch_processing_duration_seconds"}),
		LayerBuildDuration:      prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "layer_build_duration_seconds"}),
		LayerHandles:            prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "layer_handles"}),
		StaleDecodes:            prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "stale_decodes_total"}),
		SourceRequests:          prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "source_requests_total"}, []string{"source", "outcome"}),
		SourceCache:             prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "source_cache_total"}, []string{"result"}),
		SourceFetchDuration:     prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: namespace, Name: "source_fetch_duration_seconds"}, []string{"source"}),
		Sessions:                prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "sessions"}),
		Transitions:             prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "transitions_total"}, []string{"op", "outcome"}),
	}
}

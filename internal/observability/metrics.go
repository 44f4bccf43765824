package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "airq_etl"

// Metrics holds the Prometheus counters, histograms, and gauges for the service.
type Metrics struct {
	SamplesIngested  *prometheus.CounterVec // labels: source={http,mqtt}
	SamplesProcessed *prometheus.CounterVec // labels: outcome={processed,dropped,duplicate,deferred}
	StoreErrors      *prometheus.CounterVec // labels: op
	PipelineRunning  prometheus.Gauge

	// Sweep metrics.
	SweepSize     prometheus.Histogram
	SweepDuration prometheus.Histogram

	// Hotspot and alert metrics.
	HotspotsActive     prometheus.Gauge
	HotspotTransitions *prometheus.CounterVec // labels: transition={created,updated,resolved}
	AlertsFired        *prometheus.CounterVec // labels: type, severity
	EventsPublished    *prometheus.CounterVec // labels: kind={alert,hotspot}, outcome={success,error}

	// Geocoding metrics.
	GeocodeRequests    *prometheus.CounterVec   // labels: method={reverse}, outcome={success,error,empty}
	GeocodeCache       *prometheus.CounterVec   // labels: method={reverse}, result={hit,miss}
	GeocodeAPIDuration *prometheus.HistogramVec // labels: method={reverse}
	GeocodeEnabled     prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		SamplesIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_ingested_total",
			Help:      "Raw samples accepted at the ingestion boundary by source.",
		}, []string{"source"}),
		SamplesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_processed_total",
			Help:      "Raw samples consumed by outcome.",
		}, []string{"outcome"}),
		StoreErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Persistence failures by operation.",
		}, []string{"op"}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 when the background sweep is active, 0 when shut down.",
		}),
		SweepSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_size",
			Help:      "Number of raw samples consumed per sweep.",
			Buckets:   []float64{0, 1, 10, 50, 100, 250, 500, 1000, 2500, 5000},
		}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of a complete background sweep.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}),
		HotspotsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "hotspots_active",
			Help:      "Active hotspots after the latest detection cycle.",
		}),
		HotspotTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hotspot_transitions_total",
			Help:      "Hotspot lifecycle transitions.",
		}, []string{"transition"}),
		AlertsFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_fired_total",
			Help:      "Alerts created by type and severity.",
		}, []string{"type", "severity"}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Alert and hotspot events written to Kafka.",
		}, []string{"kind", "outcome"}),
		GeocodeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_requests_total",
			Help:      "Geocoding API requests by method and outcome.",
		}, []string{"method", "outcome"}),
		GeocodeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_cache_total",
			Help:      "Geocoding cache lookups by method and result.",
		}, []string{"method", "result"}),
		GeocodeAPIDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "geocode_api_duration_seconds",
			Help:      "Mapbox API request duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"method"}),
		GeocodeEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "geocode_enabled",
			Help:      "1 when hotspot place naming is enabled, 0 otherwise.",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.SamplesIngested,
		m.SamplesProcessed,
		m.StoreErrors,
		m.PipelineRunning,
		m.SweepSize,
		m.SweepDuration,
		m.HotspotsActive,
		m.HotspotTransitions,
		m.AlertsFired,
		m.EventsPublished,
		m.GeocodeRequests,
		m.GeocodeCache,
		m.GeocodeAPIDuration,
		m.GeocodeEnabled,
	}
}

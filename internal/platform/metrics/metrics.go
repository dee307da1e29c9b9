package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the DASH packager.
type Metrics struct {
	registry             *prometheus.Registry
	samplesIngestedTotal *prometheus.CounterVec
	segmentsWrittenTotal *prometheus.CounterVec
	segmentDuration      prometheus.Histogram
	segmentSize          prometheus.Histogram
	manifestWritesTotal  prometheus.Counter
	anomaliesTotal       *prometheus.CounterVec
	storageRetriesTotal  prometheus.Counter
	storageFailuresTotal prometheus.Counter
	driftWarningsTotal   prometheus.Counter
	activeTracks         prometheus.Gauge
	httpRequestsTotal    prometheus.Counter
	httpErrorsTotal      prometheus.Counter
}

// New creates and registers Prometheus metrics for the packager.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	samplesIngestedTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dash_samples_ingested_total",
		Help: "Total number of samples ingested, per track",
	}, []string{"track"})
	segmentsWrittenTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dash_segments_written_total",
		Help: "Total number of media segments confirmed stored, per track",
	}, []string{"track"})
	segmentDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "dash_segment_duration_seconds",
		Help:    "Duration of stored media segments",
		Buckets: []float64{0.5, 1, 2, 4, 6, 8, 10, 15, 30},
	})
	segmentSize := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "dash_segment_size_bytes",
		Help:    "Size of stored media segments",
		Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
	})
	manifestWritesTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dash_manifest_writes_total",
		Help: "Total number of manifest documents written",
	})
	anomaliesTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dash_stream_anomalies_total",
		Help: "Total number of stream anomalies (timing, missing keyframe)",
	}, []string{"kind"})
	storageRetriesTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dash_storage_retries_total",
		Help: "Total number of retried storage writes",
	})
	storageFailuresTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dash_storage_failures_total",
		Help: "Total number of storage writes that exhausted their retries",
	})
	driftWarningsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dash_alignment_drift_warnings_total",
		Help: "Total number of cross-track alignment drift warnings",
	})
	activeTracks := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dash_active_tracks",
		Help: "Number of tracks currently producing segments",
	})
	httpRequestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dash_http_requests_total",
		Help: "Total number of HTTP requests served",
	})
	httpErrorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dash_http_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})

	registry.MustRegister(
		samplesIngestedTotal,
		segmentsWrittenTotal,
		segmentDuration,
		segmentSize,
		manifestWritesTotal,
		anomaliesTotal,
		storageRetriesTotal,
		storageFailuresTotal,
		driftWarningsTotal,
		activeTracks,
		httpRequestsTotal,
		httpErrorsTotal,
	)

	return &Metrics{
		registry:             registry,
		samplesIngestedTotal: samplesIngestedTotal,
		segmentsWrittenTotal: segmentsWrittenTotal,
		segmentDuration:      segmentDuration,
		segmentSize:          segmentSize,
		manifestWritesTotal:  manifestWritesTotal,
		anomaliesTotal:       anomaliesTotal,
		storageRetriesTotal:  storageRetriesTotal,
		storageFailuresTotal: storageFailuresTotal,
		driftWarningsTotal:   driftWarningsTotal,
		activeTracks:         activeTracks,
		httpRequestsTotal:    httpRequestsTotal,
		httpErrorsTotal:      httpErrorsTotal,
	}
}

// IncRequests increments the served-requests counter.
func (m *Metrics) IncRequests() {
	m.httpRequestsTotal.Inc()
}

// IncErrors increments the HTTP error counter.
func (m *Metrics) IncErrors() {
	m.httpErrorsTotal.Inc()
}

// IncSamplesIngested increments the ingested-samples counter for a track.
func (m *Metrics) IncSamplesIngested(track string) {
	m.samplesIngestedTotal.WithLabelValues(track).Inc()
}

// ObserveSegment records one confirmed stored segment.
func (m *Metrics) ObserveSegment(track string, durationSeconds float64, sizeBytes int64) {
	m.segmentsWrittenTotal.WithLabelValues(track).Inc()
	m.segmentDuration.Observe(durationSeconds)
	m.segmentSize.Observe(float64(sizeBytes))
}

// IncManifestWrites increments the manifest write counter.
func (m *Metrics) IncManifestWrites() {
	m.manifestWritesTotal.Inc()
}

// IncAnomalies increments the anomaly counter for the given kind
// ("timing" or "missing_keyframe").
func (m *Metrics) IncAnomalies(kind string) {
	m.anomaliesTotal.WithLabelValues(kind).Inc()
}

// IncStorageRetries increments the retried-writes counter.
func (m *Metrics) IncStorageRetries() {
	m.storageRetriesTotal.Inc()
}

// IncStorageFailures increments the exhausted-retries counter.
func (m *Metrics) IncStorageFailures() {
	m.storageFailuresTotal.Inc()
}

// IncDriftWarnings increments the alignment drift warning counter.
func (m *Metrics) IncDriftWarnings() {
	m.driftWarningsTotal.Inc()
}

// SetActiveTracks sets the active tracks gauge.
func (m *Metrics) SetActiveTracks(n int) {
	m.activeTracks.Set(float64(n))
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}

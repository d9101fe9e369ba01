// Package metrics provides Prometheus metrics for the ligand preparation workers.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for a worker or the partitioner.
type Metrics struct {
	// Collection metrics
	CollectionsProcessed *prometheus.CounterVec
	CollectionsSkipped   prometheus.Counter
	CollectionDuration   prometheus.Histogram

	// Ligand metrics
	LigandsProcessed   *prometheus.CounterVec
	TautomersProcessed *prometheus.CounterVec
	StageDuration      *prometheus.HistogramVec
	InFlightLigands    prometheus.Gauge

	// Partitioner metrics
	WorkunitsPublished prometheus.Counter
	SubjobsSealed      prometheus.Counter

	// Error metrics
	EngineFailures *prometheus.CounterVec
	StorageErrors  *prometheus.CounterVec
	CatalogErrors  prometheus.Counter
	RetryAttempts  *prometheus.CounterVec
}

var defaultMetrics *Metrics

// Init initializes the metrics package with global metrics.
// Call this once at startup.
func Init(namespace string) *Metrics {
	defaultMetrics = initWith(promauto.With(prometheus.DefaultRegisterer), namespace)
	return defaultMetrics
}

// NewUnregistered builds a Metrics instance on a private registry.
func NewUnregistered(namespace string) *Metrics {
	return initWith(promauto.With(prometheus.NewRegistry()), namespace)
}

func initWith(f promauto.Factory, namespace string) *Metrics {
	if namespace == "" {
		namespace = "vflp"
	}

	m := &Metrics{
		CollectionsProcessed: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "collections_processed_total",
				Help:      "Total number of collections processed",
			},
			[]string{"result"},
		),
		CollectionsSkipped: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "collections_skipped_total",
				Help:      "Collections skipped because a checkpoint marks them complete",
			},
		),
		CollectionDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "collection_duration_seconds",
				Help:      "Time to process and upload one collection",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 14), // 1s to ~4.5h
			},
		),
		LigandsProcessed: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ligands_processed_total",
				Help:      "Total number of ligands processed by final status",
			},
			[]string{"status"},
		),
		TautomersProcessed: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tautomers_processed_total",
				Help:      "Total number of tautomers processed by final status",
			},
			[]string{"status"},
		),
		StageDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Duration of engine-qualified pipeline stages",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
			},
			[]string{"stage"},
		),
		InFlightLigands: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "in_flight_ligands",
				Help:      "Number of ligands currently being processed",
			},
		),
		WorkunitsPublished: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workunits_published_total",
				Help:      "Total number of workunits published by the partitioner",
			},
		),
		SubjobsSealed: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "subjobs_sealed_total",
				Help:      "Total number of subjobs sealed by the partitioner",
			},
		),
		EngineFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "engine_failures_total",
				Help:      "Total number of failed external engine invocations",
			},
			[]string{"engine", "stage"},
		),
		StorageErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "storage_errors_total",
				Help:      "Total number of storage errors",
			},
			[]string{"backend", "operation"},
		),
		CatalogErrors: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "catalog_errors_total",
				Help:      "Total number of run catalog errors",
			},
		),
		RetryAttempts: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retry_attempts_total",
				Help:      "Total number of retry attempts",
			},
			[]string{"operation"},
		),
	}

	return m
}

// Get returns the global metrics instance.
// Returns nil if Init has not been called.
func Get() *Metrics {
	return defaultMetrics
}

// StartServer starts an HTTP server for Prometheus metrics scraping.
// Blocks until the server exits.
func StartServer(address string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return http.ListenAndServe(address, mux)
}

// IncCollection increments the collections counter with "success" or "failed".
func (m *Metrics) IncCollection(result string) {
	m.CollectionsProcessed.WithLabelValues(result).Inc()
}

// IncCollectionsSkipped increments the skipped collections counter.
func (m *Metrics) IncCollectionsSkipped() {
	m.CollectionsSkipped.Inc()
}

// ObserveCollectionDuration records the time spent on one collection.
func (m *Metrics) ObserveCollectionDuration(seconds float64) {
	m.CollectionDuration.Observe(seconds)
}

// IncLigand increments the ligand counter for a final status.
func (m *Metrics) IncLigand(status string) {
	m.LigandsProcessed.WithLabelValues(status).Inc()
}

// IncTautomer increments the tautomer counter for a final status.
func (m *Metrics) IncTautomer(status string) {
	m.TautomersProcessed.WithLabelValues(status).Inc()
}

// ObserveStage records the duration of a named stage.
func (m *Metrics) ObserveStage(stage string, seconds float64) {
	m.StageDuration.WithLabelValues(stage).Observe(seconds)
}

// AddInFlightLigands adjusts the in-flight ligand gauge.
func (m *Metrics) AddInFlightLigands(delta float64) {
	m.InFlightLigands.Add(delta)
}

// IncWorkunitsPublished increments the published workunits counter.
func (m *Metrics) IncWorkunitsPublished() {
	m.WorkunitsPublished.Inc()
}

// IncSubjobsSealed increments the sealed subjobs counter.
func (m *Metrics) IncSubjobsSealed() {
	m.SubjobsSealed.Inc()
}

// IncEngineFailures increments the engine failure counter.
func (m *Metrics) IncEngineFailures(engine, stage string) {
	m.EngineFailures.WithLabelValues(engine, stage).Inc()
}

// IncStorageErrors increments the storage errors counter.
func (m *Metrics) IncStorageErrors(backend, operation string) {
	m.StorageErrors.WithLabelValues(backend, operation).Inc()
}

// IncCatalogErrors increments the catalog errors counter.
func (m *Metrics) IncCatalogErrors() {
	m.CatalogErrors.Inc()
}

// IncRetryAttempts increments the retry attempts counter.
func (m *Metrics) IncRetryAttempts(operation string) {
	m.RetryAttempts.WithLabelValues(operation).Inc()
}

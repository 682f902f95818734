// Package metrics defines the Prometheus collectors used by the indexer and
// the searcher and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for both binaries.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	SearchQueriesTotal *prometheus.CounterVec
	SearchLatency      *prometheus.HistogramVec
	SearchResultsCount prometheus.Histogram
	CacheHitsTotal     prometheus.Counter
	CacheMissesTotal   prometheus.Counter

	BarrelCacheHitsTotal   prometheus.Counter
	BarrelCacheMissesTotal prometheus.Counter
	BarrelLoadsTotal       *prometheus.CounterVec
	BarrelLoadDuration     prometheus.Histogram

	BuildsTotal        *prometheus.CounterVec
	BuildStageDuration *prometheus.HistogramVec
	IndexDocuments     prometheus.Gauge
	IndexTerms         prometheus.Gauge
	MissedTerms        prometheus.Gauge
	BarrelPostings     *prometheus.GaugeVec
	ActiveGeneration   *prometheus.GaugeVec

	CircuitBreakerState *prometheus.GaugeVec
}

// New creates all collectors and registers them with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates all collectors and registers them with reg. A nil
// reg leaves them unregistered, which tests use to avoid duplicate
// registration panics.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		SearchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_queries_total",
				Help: "Total search queries by outcome (hit, zero_result, empty_query, timeout, error).",
			},
			[]string{"result_type"},
		),
		SearchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "search_latency_seconds",
				Help:    "Search query latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"cache_status"},
		),
		SearchResultsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "search_results_count",
				Help:    "Number of results returned per search query.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of query result cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of query result cache misses.",
			},
		),
		BarrelCacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "barrel_cache_hits_total",
				Help: "Barrel fetches served from the in-process barrel cache.",
			},
		),
		BarrelCacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "barrel_cache_misses_total",
				Help: "Barrel fetches that had to read the barrel store.",
			},
		),
		BarrelLoadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "barrel_loads_total",
				Help: "Barrel file loads by status (ok, missing, error).",
			},
			[]string{"status"},
		),
		BarrelLoadDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "barrel_load_duration_seconds",
				Help:    "Time to read and decode one barrel file.",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
			},
		),
		BuildsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_builds_total",
				Help: "Index builds by status (success, failure).",
			},
			[]string{"status"},
		),
		BuildStageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "index_build_stage_duration_seconds",
				Help:    "Duration of each index build stage.",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
			},
			[]string{"stage"},
		),
		IndexDocuments: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "index_documents",
				Help: "Documents in the most recently built or loaded generation.",
			},
		),
		IndexTerms: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "index_terms",
				Help: "Lexicon size of the most recently built or loaded generation.",
			},
		),
		MissedTerms: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "index_missed_terms",
				Help: "Distinct terms skipped by the forward builder because the lexicon lacked them.",
			},
		),
		BarrelPostings: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "index_barrel_postings",
				Help: "Number of (term, document) postings per barrel in the last build.",
			},
			[]string{"barrel"},
		),
		ActiveGeneration: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "index_active_generation_info",
				Help: "Set to 1 for the generation currently served.",
			},
			[]string{"generation"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.HTTPRequestsTotal,
			m.HTTPRequestDuration,
			m.HTTPRequestsInFlight,
			m.SearchQueriesTotal,
			m.SearchLatency,
			m.SearchResultsCount,
			m.CacheHitsTotal,
			m.CacheMissesTotal,
			m.BarrelCacheHitsTotal,
			m.BarrelCacheMissesTotal,
			m.BarrelLoadsTotal,
			m.BarrelLoadDuration,
			m.BuildsTotal,
			m.BuildStageDuration,
			m.IndexDocuments,
			m.IndexTerms,
			m.MissedTerms,
			m.BarrelPostings,
			m.ActiveGeneration,
			m.CircuitBreakerState,
		)
	}

	return m
}

// SetActiveGeneration marks id as the only served generation.
func (m *Metrics) SetActiveGeneration(id string) {
	m.ActiveGeneration.Reset()
	m.ActiveGeneration.WithLabelValues(id).Set(1)
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

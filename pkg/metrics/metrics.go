// Package metrics defines the Prometheus collectors of the search services
// and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector. Build it with New against the registry the
// process serves.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	SearchQueriesTotal   *prometheus.CounterVec
	SearchLatency        *prometheus.HistogramVec
	SearchResultsCount   prometheus.Histogram
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	DocsIndexedTotal     prometheus.Counter
	DocsDeletedTotal     prometheus.Counter
	BatchCommitsTotal    *prometheus.CounterVec
	MutationEventsTotal  *prometheus.CounterVec
	CircuitBreakerState  *prometheus.GaugeVec

	reg prometheus.Registerer
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		reg: reg,
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, route, and status.",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "route"},
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
				Help: "Total search queries by outcome (hit, zero_result, malformed, error).",
			},
			[]string{"outcome"},
		),
		SearchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "search_latency_seconds",
				Help:    "Search latency in seconds.",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"cache_status"},
		),
		SearchResultsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "search_total_hits",
				Help:    "Number of matching documents per search.",
				Buckets: []float64{0, 1, 5, 10, 50, 100, 1000, 10000},
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "search_cache_hits_total",
				Help: "Total number of query cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "search_cache_misses_total",
				Help: "Total number of query cache misses.",
			},
		),
		DocsIndexedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "index_documents_indexed_total",
				Help: "Total documents indexed or replaced.",
			},
		),
		DocsDeletedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "index_documents_deleted_total",
				Help: "Total delete operations applied.",
			},
		),
		BatchCommitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_batch_commits_total",
				Help: "Index batch commits by status.",
			},
			[]string{"status"},
		),
		MutationEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_mutation_events_total",
				Help: "Mutation feed events by operation and status.",
			},
			[]string{"op", "status"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.SearchQueriesTotal,
		m.SearchLatency,
		m.SearchResultsCount,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.DocsIndexedTotal,
		m.DocsDeletedTotal,
		m.BatchCommitsTotal,
		m.MutationEventsTotal,
		m.CircuitBreakerState,
	)
	return m
}

// IndexSource is the part of an index the gauges observe.
type IndexSource interface {
	OpenSnapshots() int
	DocCount() (uint64, error)
	Generation() (uint64, error)
}

// ObserveIndex registers gauges sampled from src at scrape time.
func (m *Metrics) ObserveIndex(src IndexSource) {
	m.reg.MustRegister(
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "index_open_snapshots",
				Help: "Snapshots currently held by readers.",
			},
			func() float64 { return float64(src.OpenSnapshots()) },
		),
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "index_documents",
				Help: "Live documents in the index.",
			},
			func() float64 {
				n, err := src.DocCount()
				if err != nil {
					return -1
				}
				return float64(n)
			},
		),
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "index_generation",
				Help: "Generation of the last committed batch.",
			},
			func() float64 {
				g, err := src.Generation()
				if err != nil {
					return -1
				}
				return float64(g)
			},
		),
	)
}

// Handler returns the scrape handler for the given gatherer.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

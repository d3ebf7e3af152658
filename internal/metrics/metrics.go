package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "discovery",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "discovery",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 20},
	}, []string{"method", "path"})

	ProviderRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "discovery",
		Name:      "provider_requests_total",
		Help:      "Total provider calls by provider name and outcome.",
	}, []string{"provider", "outcome"})

	ProviderRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "discovery",
		Name:      "provider_request_duration_seconds",
		Help:      "Provider call duration in seconds, retries included.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30},
	}, []string{"provider"})

	ProviderRetriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "discovery",
		Name:      "provider_retries_total",
		Help:      "Retried provider attempts after a transient failure.",
	}, []string{"provider"})

	CircuitState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "discovery",
		Name:      "provider_circuit_state",
		Help:      "Circuit breaker state per provider: 0 closed, 1 half-open, 2 open.",
	}, []string{"provider"})

	CircuitTripsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "discovery",
		Name:      "provider_circuit_trips_total",
		Help:      "Number of times a provider circuit opened.",
	}, []string{"provider"})

	ParseErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "discovery",
		Name:      "provider_parse_errors_total",
		Help:      "Raw items that failed normalization.",
	}, []string{"provider"})

	CacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "discovery",
		Name:      "cache_hits_total",
		Help:      "Total number of result cache hits.",
	})

	CacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "discovery",
		Name:      "cache_misses_total",
		Help:      "Total number of result cache misses.",
	})

	CacheInvalidationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "discovery",
		Name:      "cache_invalidations_total",
		Help:      "Cache entries removed because a provider changed.",
	}, []string{"provider"})

	QueryVariants = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "discovery",
		Name:      "query_variants",
		Help:      "Number of query variants planned per search.",
		Buckets:   []float64{1, 2, 3, 4, 5, 6, 8},
	})

	MergedResults = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "discovery",
		Name:      "merged_results",
		Help:      "Canonical results produced per pipeline run.",
		Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250},
	})

	ChartRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "discovery",
		Name:      "chart_runs_total",
		Help:      "Chart collection runs by trigger and status.",
	}, []string{"trigger", "status"})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ProviderRequestsTotal,
		ProviderRequestDuration,
		ProviderRetriesTotal,
		CircuitState,
		CircuitTripsTotal,
		ParseErrorsTotal,
		CacheHitsTotal,
		CacheMissesTotal,
		CacheInvalidationsTotal,
		QueryVariants,
		MergedResults,
		ChartRunsTotal,
	)
}

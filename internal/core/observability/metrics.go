// Package observability holds the Prometheus collectors used across the service.
package observability

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
	OutcomeStale = "stale"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	upstreamLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Latency of upstream calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"upstream"},
	)

	clicksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coordinfo_clicks_total",
			Help: "Map clicks received by the aggregator.",
		},
	)

	clickSettledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coordinfo_click_settled_total",
			Help: "Click aggregations settled by outcome (ok|error|stale).",
		},
		[]string{"outcome"},
	)

	clickDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coordinfo_click_duration_seconds",
			Help:    "Time from click to settlement.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"outcome"},
	)

	batchesPerClick = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coordinfo_batches_per_click",
			Help:    "Outbound feature-info requests issued per click.",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 13},
		},
	)

	layerBuildErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coordinfo_layer_build_errors_total",
			Help: "Layers skipped because their feature-info query could not be built.",
		},
	)

	featuresPerClick = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coordinfo_features_per_click",
			Help:    "Features returned per successful click.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	cacheResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_results_total",
			Help: "Feature-info response cache results by outcome.",
		},
		[]string{"outcome"},
	)

	cacheOpSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cache_op_seconds",
			Help:    "Latency of cache operations.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op", "result"},
	)

	invalidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invalidation_events_total",
			Help: "Cache invalidation events by result.",
		},
		[]string{"result"},
	)

	hotCells = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "coordinfo_hot_cells",
			Help: "H3 cells currently tracked by the click hotness model.",
		},
	)

	hitEventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hit_events_dropped_total",
			Help: "Click analytics events dropped because the publish queue was full.",
		},
	)
)

// Collectors returns every collector owned by this package
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		httpRequestsTotal, httpRequestDurationSeconds, upstreamLatencySeconds,
		clicksTotal, clickSettledTotal, clickDurationSeconds, batchesPerClick,
		layerBuildErrors, featuresPerClick, cacheResults, cacheOpSeconds,
		invalidationsTotal, hotCells, hitEventsDropped,
	}
}

// Init registers the collectors on reg; registering twice is a no-op
func Init(reg prometheus.Registerer, enabled bool) {
	if !enabled || reg == nil {
		return
	}
	for _, c := range Collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			panic(err)
		}
	}
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveUpstreamLatency(upstream string, durationSeconds float64) {
	upstreamLatencySeconds.WithLabelValues(upstream).Observe(durationSeconds)
}

func IncClick() { clicksTotal.Inc() }

func ObserveClickSettled(outcome string, durationSeconds float64) {
	clickSettledTotal.WithLabelValues(outcome).Inc()
	clickDurationSeconds.WithLabelValues(outcome).Observe(durationSeconds)
}

func ObserveBatchesPerClick(n int) { batchesPerClick.Observe(float64(n)) }

func ObserveFeaturesPerClick(n int) { featuresPerClick.Observe(float64(n)) }

func IncLayerBuildError() { layerBuildErrors.Inc() }

func IncCacheHit() { cacheResults.WithLabelValues("hit").Inc() }

func IncCacheMiss() { cacheResults.WithLabelValues("miss").Inc() }

func ObserveCacheOp(op string, err error, durationSeconds float64) {
	res := "ok"
	if err != nil {
		res = "error"
	}
	cacheOpSeconds.WithLabelValues(op, res).Observe(durationSeconds)
}

func IncInvalidation(result string) { invalidationsTotal.WithLabelValues(result).Inc() }

func IncHitEventDropped() { hitEventsDropped.Inc() }

func SetHotCells(n int) { hotCells.Set(float64(n)) }

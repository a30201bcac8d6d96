package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CacheOperation identifies the cache method being instrumented.
type CacheOperation string

const (
	CacheOperationLookup CacheOperation = "lookup"
	CacheOperationStore  CacheOperation = "store"
	CacheOperationDelete CacheOperation = "delete"
)

// CacheLookupOutcome captures the result of a cache lookup.
type CacheLookupOutcome string

const (
	CacheLookupHit   CacheLookupOutcome = "hit"
	CacheLookupMiss  CacheLookupOutcome = "miss"
	CacheLookupError CacheLookupOutcome = "error"
)

// CacheStoreOutcome captures the result of a cache write or delete.
type CacheStoreOutcome string

const (
	CacheStoreStored CacheStoreOutcome = "stored"
	CacheStoreError  CacheStoreOutcome = "error"
)

// Recorder publishes Prometheus metrics for the publishing pipeline.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	publishRequests *prometheus.CounterVec
	publishLatency  *prometheus.HistogramVec

	cacheOperations *prometheus.CounterVec
	cacheLatency    *prometheus.HistogramVec

	rateLimitDecisions *prometheus.CounterVec
	invalidations      *prometheus.CounterVec
	generationDefects  *prometheus.CounterVec
}

// NewRecorder constructs a Prometheus-backed Recorder. When reg is nil a dedicated
// registry is created so multiple recorders can coexist without conflicting with
// the global default registerer.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	publishRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pricefeed",
		Subsystem: "publish",
		Name:      "requests_total",
		Help:      "Public artifact requests by artifact, status code and cache outcome.",
	}, []string{"artifact", "status_code", "cache"})

	publishLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pricefeed",
		Subsystem: "publish",
		Name:      "request_duration_seconds",
		Help:      "Latency distribution for public artifact requests.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
	}, []string{"artifact"})

	cacheOperations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pricefeed",
		Subsystem: "cache",
		Name:      "operations_total",
		Help:      "Shared artifact cache operations.",
	}, []string{"artifact", "operation", "result"})

	cacheLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pricefeed",
		Subsystem: "cache",
		Name:      "operation_duration_seconds",
		Help:      "Latency distribution for shared artifact cache operations.",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
	}, []string{"artifact", "operation", "result"})

	rateLimitDecisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pricefeed",
		Subsystem: "ratelimit",
		Name:      "decisions_total",
		Help:      "Rate limiter decisions, including degraded fail-open passes.",
	}, []string{"result"})

	invalidations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pricefeed",
		Subsystem: "invalidation",
		Name:      "requests_total",
		Help:      "Artifact invalidations by trigger source and result.",
	}, []string{"source", "result"})

	generationDefects := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pricefeed",
		Subsystem: "generator",
		Name:      "defects_total",
		Help:      "Generated artifacts that failed the self-check and were not served.",
	}, []string{"artifact"})

	reg.MustRegister(publishRequests, publishLatency, cacheOperations, cacheLatency,
		rateLimitDecisions, invalidations, generationDefects)

	return &Recorder{
		gatherer:           reg,
		handler:            promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		publishRequests:    publishRequests,
		publishLatency:     publishLatency,
		cacheOperations:    cacheOperations,
		cacheLatency:       cacheLatency,
		rateLimitDecisions: rateLimitDecisions,
		invalidations:      invalidations,
		generationDefects:  generationDefects,
	}
}

// Handler exposes the Prometheus HTTP handler for the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

// Gatherer returns the underlying Prometheus gatherer for tests and advanced
// integrations.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

// ObservePublish records one completed public request. cacheOutcome is
// "hit", "miss" or empty when the request ended before the cache.
func (r *Recorder) ObservePublish(artifact string, statusCode int, cacheOutcome string, duration time.Duration) {
	if r == nil {
		return
	}
	statusLabel := strconv.Itoa(statusCode)
	if statusCode <= 0 {
		statusLabel = "unknown"
	}
	cacheLabel := strings.TrimSpace(cacheOutcome)
	if cacheLabel == "" {
		cacheLabel = "none"
	}
	artifactLabel := normalizeLabel(artifact)
	r.publishRequests.WithLabelValues(artifactLabel, statusLabel, cacheLabel).Inc()
	r.publishLatency.WithLabelValues(artifactLabel).Observe(duration.Seconds())
}

// ObserveCacheLookup records the result of a cache lookup.
func (r *Recorder) ObserveCacheLookup(artifact string, result CacheLookupOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	resultLabel := string(result)
	if resultLabel == "" {
		resultLabel = string(CacheLookupMiss)
	}
	r.observeCache(normalizeLabel(artifact), CacheOperationLookup, resultLabel, duration)
}

// ObserveCacheStore records the result of a cache store attempt.
func (r *Recorder) ObserveCacheStore(artifact string, result CacheStoreOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	resultLabel := string(result)
	if resultLabel == "" {
		resultLabel = string(CacheStoreError)
	}
	r.observeCache(normalizeLabel(artifact), CacheOperationStore, resultLabel, duration)
}

// ObserveCacheDelete records an invalidation delete against the cache.
func (r *Recorder) ObserveCacheDelete(result CacheStoreOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	r.observeCache("all", CacheOperationDelete, normalizeLabel(string(result)), duration)
}

// ObserveRateLimit records one limiter outcome.
func (r *Recorder) ObserveRateLimit(outcome string) {
	if r == nil {
		return
	}
	r.rateLimitDecisions.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// ObserveInvalidation records one invalidation attempt.
func (r *Recorder) ObserveInvalidation(source, result string) {
	if r == nil {
		return
	}
	r.invalidations.WithLabelValues(normalizeLabel(source), normalizeLabel(result)).Inc()
}

// ObserveGenerationDefect records a self-check failure.
func (r *Recorder) ObserveGenerationDefect(artifact string) {
	if r == nil {
		return
	}
	r.generationDefects.WithLabelValues(normalizeLabel(artifact)).Inc()
}

func (r *Recorder) observeCache(artifact string, operation CacheOperation, result string, duration time.Duration) {
	opLabel := string(operation)
	if opLabel == "" {
		opLabel = string(CacheOperationLookup)
	}
	resLabel := normalizeLabel(result)
	r.cacheOperations.WithLabelValues(artifact, opLabel, resLabel).Inc()
	r.cacheLatency.WithLabelValues(artifact, opLabel, resLabel).Observe(duration.Seconds())
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}

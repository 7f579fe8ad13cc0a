package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the HTTP
// surface, the cache and the planner itself.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheWrite      prometheus.Observer
	cacheHitRatio   prometheus.Gauge
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	dbQueryDuration *prometheus.HistogramVec

	planGenerations   *prometheus.CounterVec
	planGenDuration   prometheus.Observer
	planInfeasible    prometheus.Counter
	planLessonsPlaced prometheus.Counter
	exportJobsTotal   *prometheus.CounterVec
	exportJobDuration prometheus.Observer

	cacheHitCount  uint64
	cacheMissCount uint64
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cache_hit_ratio",
		Help: "Ratio of cache hits to total cache lookups",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "db_query_duration_seconds",
		Help:    "Duration of database queries",
		Buckets: prometheus.DefBuckets,
	}, []string{"query"})

	planGenerations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "plan_generations_total",
		Help: "Total successful plan generations",
	}, []string{"modality"})

	planGenDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "plan_generation_duration_seconds",
		Help:    "End-to-end duration of plan generation",
		Buckets: prometheus.DefBuckets,
	})

	planInfeasible := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "plan_infeasible_total",
		Help: "Total generation requests rejected as infeasible",
	})

	planLessonsPlaced := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "plan_lessons_placed_total",
		Help: "Total lessons placed across generated plans",
	})

	exportJobsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "plan_export_jobs_total",
		Help: "Total plan export jobs by outcome",
	}, []string{"format", "outcome"})

	exportJobDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "plan_export_duration_seconds",
		Help:    "Duration of plan export rendering",
		Buckets: prometheus.DefBuckets,
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheHitRatio, cacheHits, cacheMisses, dbQueryDuration, planGenerations, planGenDuration, planInfeasible, planLessonsPlaced, exportJobsTotal, exportJobDuration, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:          registry,
		handler:           handler,
		requestDuration:   requestDuration,
		requestTotal:      requestTotal,
		cacheLatency:      cacheLatency,
		cacheWrite:        cacheWrite,
		cacheHitRatio:     cacheHitRatio,
		cacheHits:         cacheHits,
		cacheMisses:       cacheMisses,
		dbQueryDuration:   dbQueryDuration,
		planGenerations:   planGenerations,
		planGenDuration:   planGenDuration,
		planInfeasible:    planInfeasible,
		planLessonsPlaced: planLessonsPlaced,
		exportJobsTotal:   exportJobsTotal,
		exportJobDuration: exportJobDuration,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	if m.cacheLatency != nil {
		m.cacheLatency.Observe(duration.Seconds())
	}
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	total := hits + misses
	if total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks the duration for cache set operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil || m.cacheWrite == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// ObserveDBQuery records database query timing.
func (m *MetricsService) ObserveDBQuery(label string, duration time.Duration) {
	if m == nil {
		return
	}
	m.dbQueryDuration.WithLabelValues(label).Observe(duration.Seconds())
}

// RecordPlanGeneration counts one successful generation and its cost.
func (m *MetricsService) RecordPlanGeneration(modality string, duration time.Duration, lessonsPlaced int) {
	if m == nil {
		return
	}
	m.planGenerations.WithLabelValues(modality).Inc()
	m.planGenDuration.Observe(duration.Seconds())
	m.planLessonsPlaced.Add(float64(lessonsPlaced))
}

// RecordInfeasibleRejection counts one TEMPO_INSUFICIENTE rejection.
func (m *MetricsService) RecordInfeasibleRejection() {
	if m == nil {
		return
	}
	m.planInfeasible.Inc()
}

// RecordExportJob counts one finished or failed export and its render time.
func (m *MetricsService) RecordExportJob(format, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.exportJobsTotal.WithLabelValues(format, outcome).Inc()
	m.exportJobDuration.Observe(duration.Seconds())
}

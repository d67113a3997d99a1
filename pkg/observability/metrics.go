package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Entitlement metrics
	EntitlementBuildsTotal   *prometheus.CounterVec
	EntitlementBuildDuration *prometheus.HistogramVec
	ResolutionsTotal         *prometheus.CounterVec

	// View cache metrics
	ViewCacheHitsTotal          *prometheus.CounterVec
	ViewCacheMissesTotal        *prometheus.CounterVec
	ViewCacheInvalidationsTotal *prometheus.CounterVec

	// Version lifecycle metrics
	VersionPublishesTotal *prometheus.CounterVec
	VersionRetiresTotal   *prometheus.CounterVec
	RebindsTotal          *prometheus.CounterVec

	// Override metrics
	OverrideMutationsTotal *prometheus.CounterVec
	OverrideConflictsTotal prometheus.Counter

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entitle_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "entitle_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		EntitlementBuildsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entitle_entitlement_builds_total",
				Help: "Total number of entitlement view builds",
			},
			[]string{"business_type", "outcome"},
		),
		EntitlementBuildDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "entitle_entitlement_build_duration_seconds",
				Help:    "Entitlement view build duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"business_type"},
		),
		ResolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entitle_resolutions_total",
				Help: "Total number of feature/module resolutions by winning scope",
			},
			[]string{"source_scope"},
		),
		ViewCacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entitle_view_cache_hits_total",
				Help: "Total number of entitlement view cache hits",
			},
			[]string{"tier"},
		),
		ViewCacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entitle_view_cache_misses_total",
				Help: "Total number of entitlement view cache misses",
			},
			[]string{"tier"},
		),
		ViewCacheInvalidationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entitle_view_cache_invalidations_total",
				Help: "Total number of entitlement view cache invalidations",
			},
			[]string{"trigger"},
		),
		VersionPublishesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entitle_version_publishes_total",
				Help: "Total number of business type version publishes",
			},
			[]string{"business_type"},
		),
		VersionRetiresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entitle_version_retires_total",
				Help: "Total number of business type version retirements",
			},
			[]string{"business_type"},
		),
		RebindsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entitle_rebinds_total",
				Help: "Total number of tenant version rebinds",
			},
			[]string{"business_type", "rollback"},
		),
		OverrideMutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entitle_override_mutations_total",
				Help: "Total number of override mutations",
			},
			[]string{"scope", "operation"},
		),
		OverrideConflictsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "entitle_override_conflicts_total",
				Help: "Total number of concurrent override write conflicts",
			},
		),
		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "entitle_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "entitle_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.EntitlementBuildsTotal,
		m.EntitlementBuildDuration,
		m.ResolutionsTotal,
		m.ViewCacheHitsTotal,
		m.ViewCacheMissesTotal,
		m.ViewCacheInvalidationsTotal,
		m.VersionPublishesTotal,
		m.VersionRetiresTotal,
		m.RebindsTotal,
		m.OverrideMutationsTotal,
		m.OverrideConflictsTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// Handler returns an HTTP handler for the /metrics endpoint
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps an HTTP handler with request metrics
func (m *Metrics) InstrumentHandler(path string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		duration := time.Since(start).Seconds()
		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusRecorder captures the response status code
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// CollectDBStats updates database connection gauges from pool stats
func (m *Metrics) CollectDBStats(stats sql.DBStats) {
	m.DBConnectionsActive.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
}

// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, health checks, and graceful shutdown for the
// entitlement engine.
//
// # Logging
//
// Logger wraps stdlib slog with a JSON handler and chainable field helpers:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("tenant_id", tenantID).Info("entitlement view built")
//
// Request, tenant, and user IDs travel via context and are stamped onto
// every log line by FromContext.
//
// # Metrics
//
// NewMetrics registers counters and histograms for entitlement builds,
// resolver decisions by winning scope, cache hit/miss/invalidation rates,
// version lifecycle events, and override mutations. Serve them with
// Handler on the health port.
//
// # Health
//
// HealthChecker probes Postgres and Redis. Postgres down is unhealthy;
// Redis down is only degraded because views are recomputed on cache miss.
package observability

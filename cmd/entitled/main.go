package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vertiqo/entitle/pkg/api"
	"github.com/vertiqo/entitle/pkg/audit"
	"github.com/vertiqo/entitle/pkg/catalog"
	"github.com/vertiqo/entitle/pkg/config"
	"github.com/vertiqo/entitle/pkg/entitlement"
	"github.com/vertiqo/entitle/pkg/middleware"
	"github.com/vertiqo/entitle/pkg/migrations"
	"github.com/vertiqo/entitle/pkg/observability"
	"github.com/vertiqo/entitle/pkg/overrides"
	"github.com/vertiqo/entitle/pkg/tenants"
	"github.com/vertiqo/entitle/pkg/versioning"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "entitled: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.Info("Starting entitlement service")

	ctx := context.Background()

	var otelProviders *observability.OTelProviders
	if cfg.Observability.OTelEnabled {
		otelProviders, err = observability.InitOTel(ctx, observability.OTelConfig{
			Enabled:        true,
			Endpoint:       cfg.Observability.OTelEndpoint,
			ServiceName:    cfg.Observability.OTelServiceName,
			ServiceVersion: cfg.Observability.OTelServiceVersion,
			Insecure:       cfg.Observability.OTelInsecure,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
		}
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnLifetime)
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	if err := migrations.RunMigrations(ctx, db, logger); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("invalid redis URL: %w", err)
		}
		if cfg.Redis.Password != "" {
			opts.Password = cfg.Redis.Password
		}
		opts.DB = cfg.Redis.DB
		opts.MaxRetries = cfg.Redis.MaxRetries
		opts.PoolSize = cfg.Redis.PoolSize
		redisClient = redis.NewClient(opts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.WithError(err).Warn("Redis unreachable at startup, view cache degrades to memory-only")
			redisClient = nil
		}
	}

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	source, watcher, err := buildCatalogSource(cfg, db, logger)
	if err != nil {
		return err
	}
	if watcher != nil {
		defer watcher.Close()
	}

	auditor, auditDB, err := buildAuditor(db)
	if err != nil {
		return err
	}

	cache := entitlement.NewViewCache(redisClient, cfg.Cache.ViewLRUSize, cfg.Cache.ViewTTL, metrics, logger)

	overrideStore := overrides.NewStore(db)
	tenantStore := tenants.NewStore(db)
	versionStore := versioning.NewStore(db)

	builder := entitlement.NewBuilder(source, tenantStore, versionStore, overrideStore, cache, logger, metrics, auditor)
	versionManager := versioning.NewManager(versionStore, logger, metrics, auditor, cache)
	tenantService := tenants.NewService(tenantStore, logger, auditor, cache, versionStore)

	server := api.NewServer(api.Config{
		Builder:     builder,
		Overrides:   overrideStore,
		Versions:    versionManager,
		Tenants:     tenantService,
		Invalidator: cache,
		AuditSearch: auditDB,
		Logger:      logger,
		Metrics:     metrics,
	})

	var handler http.Handler = server
	if redisClient != nil {
		limiter := middleware.NewTenantRateLimiter(redisClient, nil, logger)
		handler = limiter.Handler(handler)
	}
	handler = middleware.NewIdentity(true).Handler(handler)
	handler = middleware.RequestID(handler)
	handler = metrics.InstrumentHandler("/api", handler)

	httpServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthServer := startHealthServer(cfg, db, redisClient, registry, logger)

	go collectDBStats(ctx, db, metrics)

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return healthServer.Shutdown(ctx)
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		if closer, ok := auditor.(interface{ Close() error }); ok {
			return closer.Close()
		}
		return nil
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		if redisClient != nil {
			return redisClient.Close()
		}
		return nil
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return db.Close()
	})
	if otelProviders != nil {
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			return observability.ShutdownOTel(ctx, otelProviders, logger)
		})
	}

	go func() {
		logger.WithField("addr", httpServer.Addr).Info("Entitlement API listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("HTTP server failed")
		}
	}()

	return shutdown.WaitForShutdown()
}

// buildCatalogSource wires the configured catalog backend: a YAML seed
// file with hot reload when a seed path is set, the Postgres catalog
// behind an LRU cache otherwise.
func buildCatalogSource(cfg *config.Config, db *sql.DB, logger *observability.Logger) (catalog.Source, *catalog.Watcher, error) {
	if cfg.Catalog.SeedPath != "" {
		seed, err := catalog.LoadSeed(cfg.Catalog.SeedPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load catalog seed: %w", err)
		}
		source := seed.BuildSource()

		if cfg.Catalog.Watch {
			watcher, err := catalog.NewWatcher(cfg.Catalog.SeedPath, source, logger, nil)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to watch catalog seed: %w", err)
			}
			watcher.Start()
			logger.WithField("path", cfg.Catalog.SeedPath).Info("Watching catalog seed for changes")
			return source, watcher, nil
		}
		return source, nil, nil
	}

	return catalog.NewCachedSource(catalog.NewStore(db), cfg.Cache.CatalogLRUSize, cfg.Cache.CatalogTTL), nil, nil
}

func buildAuditor(db *sql.DB) (audit.Logger, *audit.DBLogger, error) {
	dbLogger, err := audit.NewDBLogger(db)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize audit logger: %w", err)
	}

	if path := os.Getenv("ENTITLE_AUDIT_FILE"); path != "" {
		fileLogger, err := audit.NewFileLogger(path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open audit file: %w", err)
		}
		return audit.NewMultiLogger(dbLogger, fileLogger), dbLogger, nil
	}
	return dbLogger, dbLogger, nil
}

func startHealthServer(cfg *config.Config, db *sql.DB, redisClient *redis.Client, registry *prometheus.Registry, logger *observability.Logger) *http.Server {
	checker := observability.NewHealthChecker(db, redisClient)

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, checker)
	if cfg.Observability.MetricsEnabled {
		healthMux.Handle("/metrics", observability.Handler(registry))
	}

	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}
	go func() {
		logger.WithField("addr", healthServer.Addr).Info("Health server listening")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("Health server failed")
		}
	}()
	return healthServer
}

func collectDBStats(ctx context.Context, db *sql.DB, metrics *observability.Metrics) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.CollectDBStats(db.Stats())
		}
	}
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/vertiqo/entitle/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Cache         CacheConfig
	Catalog       CatalogConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
	ConnLifetime time.Duration
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled    bool
	URL        string
	Password   string
	DB         int
	MaxRetries int
	PoolSize   int
}

// CacheConfig holds entitlement view and catalog cache tuning
type CacheConfig struct {
	ViewTTL        time.Duration
	ViewLRUSize    int
	CatalogTTL     time.Duration
	CatalogLRUSize int
}

// CatalogConfig holds catalog seed file configuration
type CatalogConfig struct {
	SeedPath string
	Watch    bool
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		Cache:         loadCacheConfig(),
		Catalog:       loadCatalogConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("ENTITLE_HOST", "0.0.0.0"),
		Port:            getEnv("ENTITLE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("ENTITLE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("ENTITLE_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("ENTITLE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("ENTITLE_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("ENTITLE_HEALTH_PORT", "9090"),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:          getEnv("ENTITLE_POSTGRES_URL", "postgres://localhost/entitle?sslmode=disable"),
		MaxOpenConns: getEnvInt("ENTITLE_POSTGRES_MAX_CONNS", 25),
		MaxIdleConns: getEnvInt("ENTITLE_POSTGRES_IDLE_CONNS", 5),
		ConnLifetime: getEnvDuration("ENTITLE_POSTGRES_CONN_LIFETIME", 30*time.Minute),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:    getEnvBool("ENTITLE_REDIS_ENABLED", true),
		URL:        getEnv("ENTITLE_REDIS_URL", "redis://localhost:6379/0"),
		Password:   getEnv("ENTITLE_REDIS_PASSWORD", ""),
		DB:         getEnvInt("ENTITLE_REDIS_DB", 0),
		MaxRetries: getEnvInt("ENTITLE_REDIS_MAX_RETRIES", 3),
		PoolSize:   getEnvInt("ENTITLE_REDIS_POOL_SIZE", 10),
	}
}

func loadCacheConfig() CacheConfig {
	return CacheConfig{
		ViewTTL:        getEnvDuration("ENTITLE_VIEW_CACHE_TTL", 60*time.Second),
		ViewLRUSize:    getEnvInt("ENTITLE_VIEW_CACHE_SIZE", 10000),
		CatalogTTL:     getEnvDuration("ENTITLE_CATALOG_CACHE_TTL", 5*time.Minute),
		CatalogLRUSize: getEnvInt("ENTITLE_CATALOG_CACHE_SIZE", 2048),
	}
}

func loadCatalogConfig() CatalogConfig {
	return CatalogConfig{
		SeedPath: getEnv("ENTITLE_CATALOG_SEED", ""),
		Watch:    getEnvBool("ENTITLE_CATALOG_WATCH", false),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("ENTITLE_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("ENTITLE_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("ENTITLE_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("ENTITLE_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("ENTITLE_OTEL_SERVICE_NAME", "entitle"),
		OTelServiceVersion: getEnv("ENTITLE_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("ENTITLE_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	if c.Redis.Enabled && c.Redis.URL == "" {
		return fmt.Errorf("redis URL is required when redis is enabled")
	}

	if c.Cache.ViewTTL <= 0 {
		return fmt.Errorf("view cache TTL must be positive")
	}

	if c.Catalog.Watch && c.Catalog.SeedPath == "" {
		return fmt.Errorf("catalog seed path is required when catalog watch is enabled")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/vertiqo/entitle/pkg/observability"
)

// RateLimitConfig defines per-tenant rate limiting
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// DefaultRateLimitConfig returns the default per-tenant limit
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerWindow: 600,
		WindowDuration:    time.Minute,
	}
}

// TenantRateLimiter limits requests per tenant using a Redis counter so
// limits hold across instances. Redis errors fail open: a degraded
// limiter must not take the entitlement API down with it.
type TenantRateLimiter struct {
	client *redis.Client
	config *RateLimitConfig
	prefix string
	log    *observability.Logger
}

// NewTenantRateLimiter creates a Redis-backed per-tenant rate limiter
func NewTenantRateLimiter(client *redis.Client, config *RateLimitConfig, log *observability.Logger) *TenantRateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	return &TenantRateLimiter{
		client: client,
		config: config,
		prefix: "entitle:ratelimit:tenant",
		log:    log,
	}
}

// Allow reports whether a request for the tenant is within the window
func (rl *TenantRateLimiter) Allow(ctx context.Context, tenantID string) (bool, error) {
	key := fmt.Sprintf("%s:%s", rl.prefix, tenantID)

	pipe := rl.client.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, rl.config.WindowDuration)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, fmt.Errorf("rate limit check failed: %w", err)
	}

	return incr.Val() <= int64(rl.config.RequestsPerWindow), nil
}

// Remaining returns the requests left in the tenant's current window
func (rl *TenantRateLimiter) Remaining(ctx context.Context, tenantID string) (int, error) {
	key := fmt.Sprintf("%s:%s", rl.prefix, tenantID)

	count, err := rl.client.Get(ctx, key).Int()
	if err == redis.Nil {
		return rl.config.RequestsPerWindow, nil
	} else if err != nil {
		return 0, err
	}

	remaining := rl.config.RequestsPerWindow - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// Reset clears the tenant's window
func (rl *TenantRateLimiter) Reset(ctx context.Context, tenantID string) error {
	return rl.client.Del(ctx, fmt.Sprintf("%s:%s", rl.prefix, tenantID)).Err()
}

// Handler wraps an HTTP handler with per-tenant rate limiting. Requests
// without a tenant in context pass through untouched.
func (rl *TenantRateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		tenantID := observability.GetTenantID(ctx)
		if tenantID == "" {
			next.ServeHTTP(w, r)
			return
		}

		allowed, err := rl.Allow(ctx, tenantID)
		if err != nil {
			rl.log.WithError(err).Warn("Rate limiter degraded, failing open")
		}
		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(rl.config.WindowDuration.Seconds())))
			writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vertiqo/entitle/pkg/observability"
)

func newTestLimiter(t *testing.T, limit int) *TenantRateLimiter {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	config := &RateLimitConfig{RequestsPerWindow: limit, WindowDuration: time.Minute}
	return NewTenantRateLimiter(client, config, testLogger())
}

func TestRateLimiterAllowsUnderLimit(t *testing.T) {
	rl := newTestLimiter(t, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, err := rl.Allow(ctx, "t-1")
		require.NoError(t, err)
		assert.True(t, allowed)
	}

	allowed, err := rl.Allow(ctx, "t-1")
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestRateLimiterIsolatesTenants(t *testing.T) {
	rl := newTestLimiter(t, 1)
	ctx := context.Background()

	allowed, err := rl.Allow(ctx, "t-1")
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = rl.Allow(ctx, "t-2")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestRateLimiterRemainingAndReset(t *testing.T) {
	rl := newTestLimiter(t, 5)
	ctx := context.Background()

	remaining, err := rl.Remaining(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, 5, remaining)

	_, err = rl.Allow(ctx, "t-1")
	require.NoError(t, err)

	remaining, err = rl.Remaining(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, 4, remaining)

	require.NoError(t, rl.Reset(ctx, "t-1"))
	remaining, err = rl.Remaining(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, 5, remaining)
}

func TestRateLimitHandler(t *testing.T) {
	rl := newTestLimiter(t, 1)
	handler := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(observability.WithTenantID(req.Context(), "t-1"))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestRateLimitHandlerSkipsAnonymous(t *testing.T) {
	rl := newTestLimiter(t, 1)
	handler := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// Health checks and other unidentified requests are not limited
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

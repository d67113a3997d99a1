package entitlement

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vertiqo/entitle/pkg/observability"
)

func newTestCache(t *testing.T) (*ViewCache, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	log := observability.NewLogger(observability.ErrorLevel, io.Discard)
	return NewViewCache(client, 16, time.Minute, nil, log), mr
}

func testView(tenantID, userID, businessType string) *EntitlementView {
	return &EntitlementView{
		TenantID:     tenantID,
		UserID:       userID,
		BusinessType: businessType,
		Permissions:  []string{"bookings.read"},
		Features:     map[string]bool{"telemedicine": true},
		Modules:      map[string]bool{"bookings": true},
		ComputedAt:   time.Now().UTC().Truncate(time.Second),
	}
}

func TestCacheRoundTrip(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	assert.Nil(t, cache.Get(ctx, "t-1", "u-1"))

	view := testView("t-1", "u-1", "clinic")
	cache.Set(ctx, view)

	got := cache.Get(ctx, "t-1", "u-1")
	require.NotNil(t, got)
	assert.Equal(t, view.Permissions, got.Permissions)
	assert.True(t, got.FeatureEnabled("telemedicine"))
}

func TestCacheRedisTierSurvivesLocalEviction(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	view := testView("t-1", "u-1", "clinic")
	cache.Set(ctx, view)

	// Drop the in-process tier only; the redis tier must refill it
	cache.local.Purge()

	got := cache.Get(ctx, "t-1", "u-1")
	require.NotNil(t, got)
	assert.Equal(t, "clinic", got.BusinessType)

	// Second read is served from the refilled local tier
	_, ok := cache.local.Get(viewKey("t-1", "u-1"))
	assert.True(t, ok)
}

func TestCacheCorruptEntrySelfHeals(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	key := viewKey("t-1", "u-1")
	require.NoError(t, mr.Set(key, "{not json"))

	assert.Nil(t, cache.Get(ctx, "t-1", "u-1"))
	assert.False(t, mr.Exists(key))
}

func TestCacheInvalidateTenant(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	cache.Set(ctx, testView("t-1", "u-1", "clinic"))
	cache.Set(ctx, testView("t-1", "u-2", "clinic"))
	cache.Set(ctx, testView("t-2", "u-1", "clinic"))

	require.NoError(t, cache.InvalidateTenant(ctx, "t-1"))

	assert.Nil(t, cache.Get(ctx, "t-1", "u-1"))
	assert.Nil(t, cache.Get(ctx, "t-1", "u-2"))
	assert.NotNil(t, cache.Get(ctx, "t-2", "u-1"))
	assert.False(t, mr.Exists(tenantIndexPrefix+"t-1"))
}

func TestCacheInvalidateBusinessTypeBlastRadius(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	// A publish or global override changes the answer for every tenant
	// of the business type at once
	cache.Set(ctx, testView("t-1", "u-1", "clinic"))
	cache.Set(ctx, testView("t-2", "u-1", "clinic"))
	cache.Set(ctx, testView("t-3", "u-1", "food-truck"))

	require.NoError(t, cache.InvalidateBusinessType(ctx, "clinic"))

	assert.Nil(t, cache.Get(ctx, "t-1", "u-1"))
	assert.Nil(t, cache.Get(ctx, "t-2", "u-1"))
	assert.NotNil(t, cache.Get(ctx, "t-3", "u-1"))
}

func TestCacheInvalidateAll(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	cache.Set(ctx, testView("t-1", "u-1", "clinic"))
	cache.Set(ctx, testView("t-2", "u-1", "food-truck"))

	require.NoError(t, cache.InvalidateAll(ctx))

	assert.Nil(t, cache.Get(ctx, "t-1", "u-1"))
	assert.Nil(t, cache.Get(ctx, "t-2", "u-1"))
}

func TestCacheMemoryOnlyWithoutRedis(t *testing.T) {
	log := observability.NewLogger(observability.ErrorLevel, io.Discard)
	cache := NewViewCache(nil, 16, time.Minute, nil, log)
	ctx := context.Background()

	cache.Set(ctx, testView("t-1", "u-1", "clinic"))
	require.NotNil(t, cache.Get(ctx, "t-1", "u-1"))

	require.NoError(t, cache.InvalidateBusinessType(ctx, "clinic"))
	assert.Nil(t, cache.Get(ctx, "t-1", "u-1"))
}

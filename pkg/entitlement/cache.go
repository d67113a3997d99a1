package entitlement

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/vertiqo/entitle/pkg/observability"
)

const (
	viewKeyPrefix     = "entitle:view:"
	tenantIndexPrefix = "entitle:view:index:tenant:"
	bizIndexPrefix    = "entitle:view:index:bt:"
)

// Invalidator is the cache invalidation surface the mutation paths call.
// Override writes, plan and role changes, publishes and rebinds all go
// through it.
type Invalidator interface {
	InvalidateTenant(ctx context.Context, tenantID string) error
	InvalidateBusinessType(ctx context.Context, businessType string) error
	InvalidateAll(ctx context.Context) error
}

// ViewCache is the two-tier entitlement view cache: an in-process
// expirable LRU backed by Redis. Redis is optional; without it the cache
// is memory-only and invalidation fan-out stops at this process.
type ViewCache struct {
	local  *expirable.LRU[string, *EntitlementView]
	client *redis.Client
	ttl    time.Duration

	mu         sync.Mutex
	tenantKeys map[string]map[string]struct{}
	bizTenants map[string]map[string]struct{}

	metrics *observability.Metrics
	log     *observability.Logger
}

// NewViewCache creates a view cache. client may be nil for memory-only
// operation.
func NewViewCache(client *redis.Client, size int, ttl time.Duration, metrics *observability.Metrics, log *observability.Logger) *ViewCache {
	return &ViewCache{
		local:      expirable.NewLRU[string, *EntitlementView](size, nil, ttl),
		client:     client,
		ttl:        ttl,
		tenantKeys: make(map[string]map[string]struct{}),
		bizTenants: make(map[string]map[string]struct{}),
		metrics:    metrics,
		log:        log,
	}
}

func viewKey(tenantID, userID string) string {
	return viewKeyPrefix + tenantID + ":" + userID
}

// Get returns a cached view, or nil on miss
func (c *ViewCache) Get(ctx context.Context, tenantID, userID string) *EntitlementView {
	key := viewKey(tenantID, userID)

	if view, ok := c.local.Get(key); ok {
		c.hit("memory")
		return view
	}
	c.miss("memory")

	if c.client == nil {
		return nil
	}

	data, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		c.miss("redis")
		return nil
	}
	if err != nil {
		c.log.WithError(err).Warn("Redis view lookup failed")
		c.miss("redis")
		return nil
	}

	var view EntitlementView
	if err := json.Unmarshal([]byte(data), &view); err != nil {
		// Corrupt entry: delete it so the next build repopulates
		c.client.Del(ctx, key)
		c.log.WithError(err).WithField("key", key).Warn("Deleted corrupt cached view")
		c.miss("redis")
		return nil
	}

	c.hit("redis")
	c.local.Add(key, &view)
	c.index(&view)
	return &view
}

// Set stores a view in both tiers and records it in the invalidation
// indexes
func (c *ViewCache) Set(ctx context.Context, view *EntitlementView) {
	key := viewKey(view.TenantID, view.UserID)
	c.local.Add(key, view)
	c.index(view)

	if c.client == nil {
		return
	}

	data, err := json.Marshal(view)
	if err != nil {
		c.log.WithError(err).Warn("Failed to marshal view for cache")
		return
	}

	pipe := c.client.Pipeline()
	pipe.Set(ctx, key, data, c.ttl)
	pipe.SAdd(ctx, tenantIndexPrefix+view.TenantID, key)
	pipe.Expire(ctx, tenantIndexPrefix+view.TenantID, c.ttl)
	if view.BusinessType != "" {
		pipe.SAdd(ctx, bizIndexPrefix+view.BusinessType, view.TenantID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.log.WithError(err).Warn("Failed to cache view in redis")
	}
}

// InvalidateTenant drops every cached view for one tenant
func (c *ViewCache) InvalidateTenant(ctx context.Context, tenantID string) error {
	c.invalidated("tenant")
	return c.dropTenant(ctx, tenantID)
}

// InvalidateBusinessType drops every cached view for every tenant of a
// business type. A global or business-scoped override changes the answer
// for all of them at once, so the blast radius is intentionally wide.
func (c *ViewCache) InvalidateBusinessType(ctx context.Context, businessType string) error {
	c.invalidated("business_type")

	tenantSet := make(map[string]struct{})
	c.mu.Lock()
	for tenantID := range c.bizTenants[businessType] {
		tenantSet[tenantID] = struct{}{}
	}
	delete(c.bizTenants, businessType)
	c.mu.Unlock()

	if c.client != nil {
		members, err := c.client.SMembers(ctx, bizIndexPrefix+businessType).Result()
		if err != nil && err != redis.Nil {
			return fmt.Errorf("failed to read business type index: %w", err)
		}
		for _, tenantID := range members {
			tenantSet[tenantID] = struct{}{}
		}
		if err := c.client.Del(ctx, bizIndexPrefix+businessType).Err(); err != nil {
			return fmt.Errorf("failed to drop business type index: %w", err)
		}
	}

	for tenantID := range tenantSet {
		if err := c.dropTenant(ctx, tenantID); err != nil {
			return err
		}
	}
	return nil
}

// InvalidateAll drops every cached view
func (c *ViewCache) InvalidateAll(ctx context.Context) error {
	c.invalidated("all")

	c.local.Purge()
	c.mu.Lock()
	c.tenantKeys = make(map[string]map[string]struct{})
	c.bizTenants = make(map[string]map[string]struct{})
	c.mu.Unlock()

	if c.client == nil {
		return nil
	}

	iter := c.client.Scan(ctx, 0, viewKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("failed to delete key %s: %w", iter.Val(), err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("view cache scan failed: %w", err)
	}
	return nil
}

func (c *ViewCache) dropTenant(ctx context.Context, tenantID string) error {
	c.mu.Lock()
	keys := c.tenantKeys[tenantID]
	delete(c.tenantKeys, tenantID)
	c.mu.Unlock()

	for key := range keys {
		c.local.Remove(key)
	}

	if c.client == nil {
		return nil
	}

	indexKey := tenantIndexPrefix + tenantID
	members, err := c.client.SMembers(ctx, indexKey).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("failed to read tenant view index: %w", err)
	}
	for _, key := range members {
		if err := c.client.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("failed to delete cached view %s: %w", key, err)
		}
		c.local.Remove(key)
	}
	if err := c.client.Del(ctx, indexKey).Err(); err != nil {
		return fmt.Errorf("failed to drop tenant view index: %w", err)
	}
	return nil
}

func (c *ViewCache) index(view *EntitlementView) {
	key := viewKey(view.TenantID, view.UserID)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tenantKeys[view.TenantID] == nil {
		c.tenantKeys[view.TenantID] = make(map[string]struct{})
	}
	c.tenantKeys[view.TenantID][key] = struct{}{}

	if view.BusinessType != "" {
		if c.bizTenants[view.BusinessType] == nil {
			c.bizTenants[view.BusinessType] = make(map[string]struct{})
		}
		c.bizTenants[view.BusinessType][view.TenantID] = struct{}{}
	}
}

func (c *ViewCache) hit(tier string) {
	if c.metrics != nil {
		c.metrics.ViewCacheHitsTotal.WithLabelValues(tier).Inc()
	}
}

func (c *ViewCache) miss(tier string) {
	if c.metrics != nil {
		c.metrics.ViewCacheMissesTotal.WithLabelValues(tier).Inc()
	}
}

func (c *ViewCache) invalidated(trigger string) {
	if c.metrics != nil {
		c.metrics.ViewCacheInvalidationsTotal.WithLabelValues(trigger).Inc()
	}
}

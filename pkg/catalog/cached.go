package catalog

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// CachedSource wraps a Source with an in-process expirable LRU.
// Catalog data changes rarely; a short TTL keeps reloads cheap while
// sparing the database a lookup per entitlement build.
type CachedSource struct {
	source Source

	perms    *lru.LRU[string, []PermissionCode]
	exists   *lru.LRU[PermissionCode, bool]
	features *lru.LRU[string, Feature]
	modules  *lru.LRU[string, Module]
	legacy   *lru.LRU[string, LegacyMapping]
}

// NewCachedSource wraps source with an LRU of the given size and TTL
func NewCachedSource(source Source, size int, ttl time.Duration) *CachedSource {
	if size < 16 {
		size = 16
	}
	return &CachedSource{
		source:   source,
		perms:    lru.NewLRU[string, []PermissionCode](size, nil, ttl),
		exists:   lru.NewLRU[PermissionCode, bool](size, nil, ttl),
		features: lru.NewLRU[string, Feature](size, nil, ttl),
		modules:  lru.NewLRU[string, Module](size, nil, ttl),
		legacy:   lru.NewLRU[string, LegacyMapping](size, nil, ttl),
	}
}

// Purge drops all cached entries. Called after a catalog reload.
func (c *CachedSource) Purge() {
	c.perms.Purge()
	c.exists.Purge()
	c.features.Purge()
	c.modules.Purge()
	c.legacy.Purge()
}

// GetRolePermissions implements Source
func (c *CachedSource) GetRolePermissions(ctx context.Context, roleID string) ([]PermissionCode, error) {
	return c.cachedPerms(ctx, "role:"+roleID, func() ([]PermissionCode, error) {
		return c.source.GetRolePermissions(ctx, roleID)
	})
}

// GetPlanPermissions implements Source
func (c *CachedSource) GetPlanPermissions(ctx context.Context, planCode string) ([]PermissionCode, error) {
	return c.cachedPerms(ctx, "plan:"+planCode, func() ([]PermissionCode, error) {
		return c.source.GetPlanPermissions(ctx, planCode)
	})
}

// GetAddonPermissions implements Source
func (c *CachedSource) GetAddonPermissions(ctx context.Context, addonCode string) ([]PermissionCode, error) {
	return c.cachedPerms(ctx, "addon:"+addonCode, func() ([]PermissionCode, error) {
		return c.source.GetAddonPermissions(ctx, addonCode)
	})
}

func (c *CachedSource) cachedPerms(ctx context.Context, key string, load func() ([]PermissionCode, error)) ([]PermissionCode, error) {
	if codes, ok := c.perms.Get(key); ok {
		return codes, nil
	}
	codes, err := load()
	if err != nil {
		// Misses (including not-found) are not cached: a missing role is
		// a configuration problem that should heal as soon as it is fixed.
		return nil, err
	}
	c.perms.Add(key, codes)
	return codes, nil
}

// PermissionExists implements Source
func (c *CachedSource) PermissionExists(ctx context.Context, code PermissionCode) (bool, error) {
	if ok, hit := c.exists.Get(code); hit && ok {
		return true, nil
	}
	ok, err := c.source.PermissionExists(ctx, code)
	if err != nil {
		return false, err
	}
	if ok {
		// Only positive results are cached; negatives must stay fresh so
		// a just-registered permission is seen immediately.
		c.exists.Add(code, true)
	}
	return ok, nil
}

// GetFeature implements Source
func (c *CachedSource) GetFeature(ctx context.Context, code string) (*Feature, error) {
	if f, ok := c.features.Get(code); ok {
		return &f, nil
	}
	f, err := c.source.GetFeature(ctx, code)
	if err != nil {
		return nil, err
	}
	c.features.Add(code, *f)
	return f, nil
}

// GetModule implements Source
func (c *CachedSource) GetModule(ctx context.Context, code string) (*Module, error) {
	if m, ok := c.modules.Get(code); ok {
		return &m, nil
	}
	m, err := c.source.GetModule(ctx, code)
	if err != nil {
		return nil, err
	}
	c.modules.Add(code, *m)
	return m, nil
}

// ListGlobalFeatures implements Source. List results are not cached;
// they are consumed once per build alongside far hotter point lookups.
func (c *CachedSource) ListGlobalFeatures(ctx context.Context) ([]Feature, error) {
	return c.source.ListGlobalFeatures(ctx)
}

// ListGlobalModules implements Source
func (c *CachedSource) ListGlobalModules(ctx context.Context) ([]Module, error) {
	return c.source.ListGlobalModules(ctx)
}

// GetLegacyMapping implements Source
func (c *CachedSource) GetLegacyMapping(ctx context.Context, businessType string) (*LegacyMapping, error) {
	if lm, ok := c.legacy.Get(businessType); ok {
		return &lm, nil
	}
	lm, err := c.source.GetLegacyMapping(ctx, businessType)
	if err != nil {
		return nil, err
	}
	c.legacy.Add(businessType, *lm)
	return lm, nil
}

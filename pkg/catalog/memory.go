package catalog

import (
	"context"
	"sync"
)

// MemorySource is an in-memory Source backed by maps. It serves two
// purposes: fixture catalogs in tests, and the seed-file catalog loaded
// at startup before the database is reachable.
type MemorySource struct {
	mu          sync.RWMutex
	permissions map[PermissionCode]Permission
	roles       map[string]Role
	plans       map[string]Plan
	addons      map[string]Addon
	features    map[string]Feature
	modules     map[string]Module
	legacy      map[string]LegacyMapping
}

// NewMemorySource creates an empty in-memory catalog
func NewMemorySource() *MemorySource {
	return &MemorySource{
		permissions: make(map[PermissionCode]Permission),
		roles:       make(map[string]Role),
		plans:       make(map[string]Plan),
		addons:      make(map[string]Addon),
		features:    make(map[string]Feature),
		modules:     make(map[string]Module),
		legacy:      make(map[string]LegacyMapping),
	}
}

// AddPermission registers a permission
func (m *MemorySource) AddPermission(p Permission) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.permissions[p.Code] = p
}

// AddRole registers a role
func (m *MemorySource) AddRole(r Role) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roles[r.ID] = r
}

// AddPlan registers a plan
func (m *MemorySource) AddPlan(p Plan) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans[p.Code] = p
}

// AddAddon registers an addon
func (m *MemorySource) AddAddon(a Addon) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addons[a.Code] = a
}

// AddFeature registers a feature
func (m *MemorySource) AddFeature(f Feature) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.features[f.Code] = f
}

// AddModule registers a module
func (m *MemorySource) AddModule(mod Module) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.modules[mod.Code] = mod
}

// AddLegacyMapping registers a flat business type mapping
func (m *MemorySource) AddLegacyMapping(lm LegacyMapping) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.legacy[lm.BusinessType] = lm
}

// GetRolePermissions implements Source
func (m *MemorySource) GetRolePermissions(ctx context.Context, roleID string) ([]PermissionCode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	role, ok := m.roles[roleID]
	if !ok {
		return nil, &NotFoundError{Kind: "role", Code: roleID}
	}
	out := make([]PermissionCode, len(role.Permissions))
	copy(out, role.Permissions)
	return out, nil
}

// GetPlanPermissions implements Source
func (m *MemorySource) GetPlanPermissions(ctx context.Context, planCode string) ([]PermissionCode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	plan, ok := m.plans[planCode]
	if !ok {
		return nil, &NotFoundError{Kind: "plan", Code: planCode}
	}
	out := make([]PermissionCode, len(plan.Permissions))
	copy(out, plan.Permissions)
	return out, nil
}

// GetAddonPermissions implements Source
func (m *MemorySource) GetAddonPermissions(ctx context.Context, addonCode string) ([]PermissionCode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	addon, ok := m.addons[addonCode]
	if !ok {
		return nil, &NotFoundError{Kind: "addon", Code: addonCode}
	}
	out := make([]PermissionCode, len(addon.Permissions))
	copy(out, addon.Permissions)
	return out, nil
}

// PermissionExists implements Source
func (m *MemorySource) PermissionExists(ctx context.Context, code PermissionCode) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.permissions[code]
	return ok, nil
}

// GetFeature implements Source
func (m *MemorySource) GetFeature(ctx context.Context, code string) (*Feature, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.features[code]
	if !ok {
		return nil, &NotFoundError{Kind: "feature", Code: code}
	}
	return &f, nil
}

// GetModule implements Source
func (m *MemorySource) GetModule(ctx context.Context, code string) (*Module, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mod, ok := m.modules[code]
	if !ok {
		return nil, &NotFoundError{Kind: "module", Code: code}
	}
	return &mod, nil
}

// ListGlobalFeatures implements Source
func (m *MemorySource) ListGlobalFeatures(ctx context.Context) ([]Feature, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Feature
	for _, f := range m.features {
		if f.Scope == ScopeGlobal {
			out = append(out, f)
		}
	}
	return out, nil
}

// ListGlobalModules implements Source
func (m *MemorySource) ListGlobalModules(ctx context.Context) ([]Module, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Module
	for _, mod := range m.modules {
		if mod.Scope == ScopeGlobal {
			out = append(out, mod)
		}
	}
	return out, nil
}

// GetLegacyMapping implements Source
func (m *MemorySource) GetLegacyMapping(ctx context.Context, businessType string) (*LegacyMapping, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	lm, ok := m.legacy[businessType]
	if !ok {
		return nil, &NotFoundError{Kind: "legacy mapping", Code: businessType}
	}
	return &lm, nil
}

// Replace atomically swaps the catalog contents with another source's.
// Used by the seed watcher to hot-reload without a partially-applied state.
func (m *MemorySource) Replace(other *MemorySource) {
	other.mu.RLock()
	defer other.mu.RUnlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.permissions = other.permissions
	m.roles = other.roles
	m.plans = other.plans
	m.addons = other.addons
	m.features = other.features
	m.modules = other.modules
	m.legacy = other.legacy
}

package entitlement

import (
	"time"

	"github.com/vertiqo/entitle/pkg/catalog"
	"github.com/vertiqo/entitle/pkg/versioning"
)

// EntitlementView is the immutable, cacheable outcome of one build: the
// permissions a user holds and the features and modules enabled for the
// tenant. Views are derived state only; they are never mutated after
// assembly, never stored as records, and discarded on invalidation.
type EntitlementView struct {
	TenantID     string `json:"tenant_id"`
	UserID       string `json:"user_id"`
	BusinessType string `json:"business_type"`

	Permissions []string        `json:"permissions"`
	Features    map[string]bool `json:"features"`
	Modules     map[string]bool `json:"modules"`

	// Sources records which layer decided each gate, keyed by code
	FeatureSources map[string]SourceScope `json:"feature_sources,omitempty"`
	ModuleSources  map[string]SourceScope `json:"module_sources,omitempty"`

	// VersionID is empty when the tenant resolved through the legacy
	// flat mapping
	VersionID  string    `json:"version_id,omitempty"`
	ComputedAt time.Time `json:"computed_at"`
}

// HasPermission reports whether the view grants a permission
func (v *EntitlementView) HasPermission(code string) bool {
	for _, p := range v.Permissions {
		if p == code {
			return true
		}
	}
	return false
}

// FeatureEnabled reports whether a feature is enabled. Unknown features
// are disabled.
func (v *EntitlementView) FeatureEnabled(code string) bool {
	return v.Features[code]
}

// ModuleEnabled reports whether a module is enabled. Unknown modules are
// disabled.
func (v *EntitlementView) ModuleEnabled(code string) bool {
	return v.Modules[code]
}

// Empty reports whether the view grants nothing at all
func (v *EntitlementView) Empty() bool {
	if len(v.Permissions) > 0 {
		return false
	}
	for _, enabled := range v.Features {
		if enabled {
			return false
		}
	}
	for _, enabled := range v.Modules {
		if enabled {
			return false
		}
	}
	return true
}

// zeroView is the fail-closed view: no permissions, no features, no
// modules. Returned alongside IncompleteEntitlementError.
func zeroView(tenantID, userID string) *EntitlementView {
	return &EntitlementView{
		TenantID:    tenantID,
		UserID:      userID,
		Permissions: []string{},
		Features:    map[string]bool{},
		Modules:     map[string]bool{},
		ComputedAt:  time.Now(),
	}
}

// ConfigSource is the tenant's module/feature configuration origin,
// resolved exactly once per build: either a versioned snapshot or the
// legacy flat mapping for business types with no versioning configured.
type ConfigSource interface {
	isConfigSource()
}

// VersionedConfig carries the tenant's effective published snapshot
type VersionedConfig struct {
	Version *versioning.BusinessTypeVersion
}

func (VersionedConfig) isConfigSource() {}

// LegacyConfig carries the flat business type mapping, the degraded but
// defined mode for business types that predate versioning
type LegacyConfig struct {
	Mapping *catalog.LegacyMapping
}

func (LegacyConfig) isConfigSource() {}

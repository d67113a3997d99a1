package entitlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vertiqo/entitle/pkg/audit"
	"github.com/vertiqo/entitle/pkg/catalog"
	"github.com/vertiqo/entitle/pkg/observability"
	"github.com/vertiqo/entitle/pkg/tenants"
	"github.com/vertiqo/entitle/pkg/versioning"
)

// Builder assembles entitlement views. One build resolves the tenant's
// records, composes permissions, picks the config source, resolves every
// gate and caches the result.
type Builder struct {
	catalog  catalog.Source
	tenants  *tenants.Store
	versions *versioning.Store
	composer *Composer
	resolver *Resolver
	cache    *ViewCache

	log     *observability.Logger
	metrics *observability.Metrics
	auditor audit.Logger
}

// NewBuilder creates a builder. cache and auditor may be nil.
func NewBuilder(source catalog.Source, tenantStore *tenants.Store, versionStore *versioning.Store, overrideSource OverrideSource, cache *ViewCache, log *observability.Logger, metrics *observability.Metrics, auditor audit.Logger) *Builder {
	if auditor == nil {
		auditor = audit.NoOp()
	}
	return &Builder{
		catalog:  source,
		tenants:  tenantStore,
		versions: versionStore,
		composer: NewComposer(source),
		resolver: NewResolver(overrideSource, metrics),
		cache:    cache,
		log:      log,
		metrics:  metrics,
		auditor:  auditor,
	}
}

// Build returns the entitlement view for a user in a tenant. On a broken
// tenant record (missing role, plan or business type configuration) it
// returns a zero-permission view together with an
// IncompleteEntitlementError; callers that only gate access can use the
// view as-is, callers that surface errors get the diagnosis.
func (b *Builder) Build(ctx context.Context, tenantID, userID string) (*EntitlementView, error) {
	if b.cache != nil {
		if view := b.cache.Get(ctx, tenantID, userID); view != nil {
			return view, nil
		}
	}

	start := time.Now()
	view, err := b.build(ctx, tenantID, userID)

	businessType := "unknown"
	if view != nil && view.BusinessType != "" {
		businessType = view.BusinessType
	}
	if b.metrics != nil {
		b.metrics.EntitlementBuildDuration.WithLabelValues(businessType).Observe(time.Since(start).Seconds())
		b.metrics.EntitlementBuildsTotal.WithLabelValues(businessType, buildOutcome(err)).Inc()
	}

	var incomplete *IncompleteEntitlementError
	if errors.As(err, &incomplete) {
		b.log.WithError(err).WithField("tenant_id", tenantID).Warn("Entitlement build failed closed")
		b.auditor.LogDenied(ctx, audit.EventTypeEntitlementIncomplete, tenantID, userID, audit.ResourceTypeTenant, tenantID, err.Error())
		return zeroView(tenantID, userID), err
	}
	if err != nil {
		return nil, err
	}

	if b.cache != nil {
		b.cache.Set(ctx, view)
	}
	return view, nil
}

func (b *Builder) build(ctx context.Context, tenantID, userID string) (*EntitlementView, error) {
	tenant, err := b.tenants.Get(ctx, tenantID)
	if err != nil {
		var notFound *tenants.NotFoundError
		if errors.As(err, &notFound) {
			return nil, &IncompleteEntitlementError{TenantID: tenantID, UserID: userID, Missing: "tenant record"}
		}
		return nil, fmt.Errorf("failed to load tenant %s: %w", tenantID, err)
	}

	roleID, err := b.tenants.GetUserRole(ctx, tenantID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load role for user %s: %w", userID, err)
	}
	if roleID == "" {
		return b.incomplete(tenant, userID, "role assignment")
	}
	if tenant.PlanCode == "" {
		return b.incomplete(tenant, userID, "plan")
	}

	addons, err := b.tenants.GetAddons(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load addons for tenant %s: %w", tenantID, err)
	}

	perms, err := b.composer.Compose(ctx, roleID, tenant.PlanCode, addons)
	if err != nil {
		// A role or plan the catalog does not know is a broken tenant
		// record, not a catalog bug
		if errors.Is(err, catalog.ErrNotFound) {
			return b.incomplete(tenant, userID, fmt.Sprintf("catalog definition (%v)", err))
		}
		return nil, err
	}

	cfg, err := b.resolveConfigSource(ctx, tenant)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return b.incomplete(tenant, userID, "business type configuration")
	}

	featureGates, moduleGates, versionID, err := b.gates(ctx, cfg)
	if err != nil {
		return nil, err
	}

	gates := append(append([]Gate{}, featureGates...), moduleGates...)
	resolutions, err := b.resolver.ResolveAll(ctx, gates, tenantID, tenant.BusinessType)
	if err != nil {
		return nil, err
	}

	view := &EntitlementView{
		TenantID:       tenantID,
		UserID:         userID,
		BusinessType:   tenant.BusinessType,
		Permissions:    perms.Codes(),
		Features:       make(map[string]bool, len(featureGates)),
		Modules:        make(map[string]bool, len(moduleGates)),
		FeatureSources: make(map[string]SourceScope, len(featureGates)),
		ModuleSources:  make(map[string]SourceScope, len(moduleGates)),
		VersionID:      versionID,
		ComputedAt:     time.Now(),
	}
	for _, g := range featureGates {
		res := resolutions[g.Code]
		view.Features[g.Code] = res.Enabled
		view.FeatureSources[g.Code] = res.SourceScope
	}
	for _, g := range moduleGates {
		res := resolutions[g.Code]
		view.Modules[g.Code] = res.Enabled
		view.ModuleSources[g.Code] = res.SourceScope
	}
	return view, nil
}

func (b *Builder) incomplete(tenant *tenants.Tenant, userID, missing string) (*EntitlementView, error) {
	view := zeroView(tenant.ID, userID)
	view.BusinessType = tenant.BusinessType
	return view, &IncompleteEntitlementError{TenantID: tenant.ID, UserID: userID, Missing: missing}
}

// resolveConfigSource decides, once per build, whether the tenant reads a
// versioned snapshot or the legacy flat mapping. A nil return with nil
// error means neither exists.
func (b *Builder) resolveConfigSource(ctx context.Context, tenant *tenants.Tenant) (ConfigSource, error) {
	version, err := b.versions.EffectiveVersion(ctx, tenant.ID, tenant.BusinessType)
	if err != nil {
		// A dangling pin is fatal, not a fallback: silently reverting a
		// pinned tenant to latest would change what they see
		return nil, err
	}
	if version != nil {
		return VersionedConfig{Version: version}, nil
	}

	mapping, err := b.catalog.GetLegacyMapping(ctx, tenant.BusinessType)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load legacy mapping for %s: %w", tenant.BusinessType, err)
	}
	return LegacyConfig{Mapping: mapping}, nil
}

// gates expands a config source plus the global catalog into the full
// set of feature and module gates to resolve. Snapshot entries win over
// global definitions with the same code.
func (b *Builder) gates(ctx context.Context, cfg ConfigSource) (features, modules []Gate, versionID string, err error) {
	seenFeatures := make(map[string]struct{})
	seenModules := make(map[string]struct{})

	switch c := cfg.(type) {
	case VersionedConfig:
		versionID = c.Version.ID
		for _, e := range c.Version.FeatureSnapshot {
			features = append(features, Gate{Kind: catalog.KindFeature, Code: e.Code, DefaultEnabled: e.DefaultEnabled})
			seenFeatures[e.Code] = struct{}{}
		}
		for _, e := range c.Version.ModuleSnapshot {
			modules = append(modules, Gate{Kind: catalog.KindModule, Code: e.Code, DefaultEnabled: e.DefaultEnabled})
			seenModules[e.Code] = struct{}{}
		}
	case LegacyConfig:
		// Legacy mappings list what the business type gets; listed
		// entries default to enabled
		for _, code := range c.Mapping.Features {
			features = append(features, Gate{Kind: catalog.KindFeature, Code: code, DefaultEnabled: true})
			seenFeatures[code] = struct{}{}
		}
		for _, code := range c.Mapping.Modules {
			modules = append(modules, Gate{Kind: catalog.KindModule, Code: code, DefaultEnabled: true})
			seenModules[code] = struct{}{}
		}
	}

	globalFeatures, err := b.catalog.ListGlobalFeatures(ctx)
	if err != nil {
		return nil, nil, "", fmt.Errorf("failed to list global features: %w", err)
	}
	for _, f := range globalFeatures {
		if _, ok := seenFeatures[f.Code]; ok {
			continue
		}
		features = append(features, Gate{Kind: catalog.KindFeature, Code: f.Code, DefaultEnabled: f.DefaultEnabled})
	}

	globalModules, err := b.catalog.ListGlobalModules(ctx)
	if err != nil {
		return nil, nil, "", fmt.Errorf("failed to list global modules: %w", err)
	}
	for _, m := range globalModules {
		if _, ok := seenModules[m.Code]; ok {
			continue
		}
		modules = append(modules, Gate{Kind: catalog.KindModule, Code: m.Code, DefaultEnabled: m.DefaultEnabled})
	}

	return features, modules, versionID, nil
}

func buildOutcome(err error) string {
	if err == nil {
		return "success"
	}
	var incomplete *IncompleteEntitlementError
	if errors.As(err, &incomplete) {
		return "incomplete"
	}
	return "error"
}

package entitlement

import (
	"context"
	"database/sql"
	"io"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vertiqo/entitle/pkg/catalog"
	"github.com/vertiqo/entitle/pkg/observability"
	"github.com/vertiqo/entitle/pkg/tenants"
	"github.com/vertiqo/entitle/pkg/versioning"
)

func setupBuilderDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE tenants (
			id TEXT PRIMARY KEY,
			slug TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			business_type TEXT NOT NULL,
			status TEXT NOT NULL,
			plan_code TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);

		CREATE TABLE tenant_addons (
			tenant_id TEXT NOT NULL,
			addon_code TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			PRIMARY KEY (tenant_id, addon_code)
		);

		CREATE TABLE tenant_user_roles (
			tenant_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			role_id TEXT NOT NULL,
			granted_by TEXT,
			granted_at TIMESTAMP NOT NULL,
			PRIMARY KEY (tenant_id, user_id)
		);

		CREATE TABLE business_type_versions (
			id TEXT PRIMARY KEY,
			business_type TEXT NOT NULL,
			version_number INTEGER NOT NULL DEFAULT 0,
			state TEXT NOT NULL,
			module_snapshot TEXT NOT NULL,
			feature_snapshot TEXT NOT NULL,
			effective_at TIMESTAMP,
			created_by TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			published_at TIMESTAMP,
			retired_at TIMESTAMP
		);

		CREATE TABLE business_type_registry (
			business_type TEXT PRIMARY KEY,
			latest_version_number INTEGER NOT NULL DEFAULT 0,
			latest_version_id TEXT
		);

		CREATE TABLE tenant_version_bindings (
			tenant_id TEXT PRIMARY KEY,
			business_type TEXT NOT NULL,
			pinned_version_id TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);

		CREATE TABLE tenant_business_type_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tenant_id TEXT NOT NULL,
			business_type TEXT NOT NULL,
			from_version_id TEXT,
			to_version_id TEXT,
			reason TEXT,
			actor TEXT,
			created_at TIMESTAMP NOT NULL
		);
	`)
	require.NoError(t, err)
	return db
}

type builderEnv struct {
	db        *sql.DB
	source    *catalog.MemorySource
	tenants   *tenants.Store
	versions  *versioning.Store
	overrides *memOverrides
	builder   *Builder
}

func newBuilderEnv(t *testing.T) *builderEnv {
	t.Helper()

	db := setupBuilderDB(t)
	src := catalog.NewMemorySource()
	for _, code := range []catalog.PermissionCode{"bookings.read", "invoices.write", "reports.read"} {
		src.AddPermission(catalog.Permission{Code: code})
	}
	src.AddRole(catalog.Role{ID: "staff", Permissions: []catalog.PermissionCode{"bookings.read"}})
	src.AddPlan(catalog.Plan{Code: "pro", Permissions: []catalog.PermissionCode{"invoices.write"}})
	src.AddAddon(catalog.Addon{Code: "analytics", Permissions: []catalog.PermissionCode{"reports.read"}})
	src.AddFeature(catalog.Feature{Code: "branded-portal", Scope: catalog.ScopeGlobal, DefaultEnabled: false})
	src.AddModule(catalog.Module{Code: "billing", Scope: catalog.ScopeGlobal, DefaultEnabled: true})

	env := &builderEnv{
		db:        db,
		source:    src,
		tenants:   tenants.NewStore(db),
		versions:  versioning.NewStore(db),
		overrides: &memOverrides{},
	}
	log := observability.NewLogger(observability.ErrorLevel, io.Discard)
	env.builder = NewBuilder(src, env.tenants, env.versions, env.overrides, nil, log, nil, nil)
	return env
}

// newTenant creates an active tenant with a staff user and its version
// binding, the state a fully onboarded tenant has.
func (e *builderEnv) newTenant(t *testing.T, name, businessType string) *tenants.Tenant {
	t.Helper()
	ctx := context.Background()

	tenant := &tenants.Tenant{Name: name, BusinessType: businessType, PlanCode: "pro"}
	require.NoError(t, e.tenants.Create(ctx, tenant))
	require.NoError(t, e.tenants.AssignRole(ctx, tenant.ID, "u-1", "staff", "admin@vertiqo"))
	_, err := e.versions.EnsureBinding(ctx, tenant.ID, businessType)
	require.NoError(t, err)
	return tenant
}

func (e *builderEnv) publish(t *testing.T, businessType string, modules, features []versioning.SnapshotEntry) *versioning.BusinessTypeVersion {
	t.Helper()
	ctx := context.Background()

	draft, err := e.versions.CreateDraft(ctx, businessType, modules, features, nil, "config@vertiqo")
	require.NoError(t, err)
	v, err := e.versions.Publish(ctx, draft.ID)
	require.NoError(t, err)
	return v
}

func clinicSnapshot() (modules, features []versioning.SnapshotEntry) {
	modules = []versioning.SnapshotEntry{
		{Code: "bookings", Name: "Bookings", DefaultEnabled: true},
		{Code: "invoices", Name: "Invoicing", DefaultEnabled: false},
	}
	features = []versioning.SnapshotEntry{
		{Code: "telemedicine", Name: "Telemedicine", DefaultEnabled: false},
	}
	return modules, features
}

func TestBuildVersionedTenant(t *testing.T) {
	env := newBuilderEnv(t)
	ctx := context.Background()

	modules, features := clinicSnapshot()
	v := env.publish(t, "clinic", modules, features)
	tenant := env.newTenant(t, "Med Clinic", "clinic")
	require.NoError(t, env.tenants.AddAddon(ctx, tenant.ID, "analytics"))

	view, err := env.builder.Build(ctx, tenant.ID, "u-1")
	require.NoError(t, err)

	assert.Equal(t, []string{"bookings.read", "invoices.write", "reports.read"}, view.Permissions)
	assert.Equal(t, v.ID, view.VersionID)

	// Snapshot defaults with no overrides anywhere
	assert.True(t, view.ModuleEnabled("bookings"))
	assert.False(t, view.ModuleEnabled("invoices"))
	assert.False(t, view.FeatureEnabled("telemedicine"))
	assert.Equal(t, SourceDefault, view.ModuleSources["bookings"])

	// Global catalog gates ride along even when the snapshot omits them
	assert.True(t, view.ModuleEnabled("billing"))
	assert.False(t, view.FeatureEnabled("branded-portal"))
}

func TestBuildAppliesOverridePrecedence(t *testing.T) {
	env := newBuilderEnv(t)
	ctx := context.Background()

	modules, features := clinicSnapshot()
	env.publish(t, "clinic", modules, features)
	tenant := env.newTenant(t, "Med Clinic", "clinic")

	businessType := "clinic"
	env.overrides.add(catalog.KindFeature, "telemedicine", catalog.ScopeBusiness, &businessType, true)
	env.overrides.add(catalog.KindFeature, "telemedicine", catalog.ScopeTenant, &tenant.ID, false)

	view, err := env.builder.Build(ctx, tenant.ID, "u-1")
	require.NoError(t, err)

	assert.False(t, view.FeatureEnabled("telemedicine"))
	assert.Equal(t, SourceTenant, view.FeatureSources["telemedicine"])
}

func TestBuildLegacyFallback(t *testing.T) {
	env := newBuilderEnv(t)
	ctx := context.Background()

	// No published version for food-truck; only a flat mapping
	env.source.AddLegacyMapping(catalog.LegacyMapping{
		BusinessType: "food-truck",
		Modules:      []string{"bookings"},
		Features:     []string{"loyalty"},
	})
	tenant := env.newTenant(t, "Taco Cart", "food-truck")

	view, err := env.builder.Build(ctx, tenant.ID, "u-1")
	require.NoError(t, err)

	assert.Empty(t, view.VersionID)
	assert.True(t, view.ModuleEnabled("bookings"))
	assert.True(t, view.FeatureEnabled("loyalty"))
	assert.False(t, view.ModuleEnabled("invoices"))
}

func TestBuildPinnedTenantKeepsOldSnapshot(t *testing.T) {
	env := newBuilderEnv(t)
	ctx := context.Background()

	modules, features := clinicSnapshot()
	v1 := env.publish(t, "clinic", modules, features)
	tenant := env.newTenant(t, "Med Clinic", "clinic")

	_, err := env.versions.Rebind(ctx, tenant.ID, &v1.ID, "pin before migration", "ops@vertiqo", versioning.RebindOptions{})
	require.NoError(t, err)

	// A later publish adds a module the pinned tenant must not see
	v2Modules := append([]versioning.SnapshotEntry{{Code: "inventory", DefaultEnabled: true}}, modules...)
	env.publish(t, "clinic", v2Modules, features)

	view, err := env.builder.Build(ctx, tenant.ID, "u-1")
	require.NoError(t, err)

	assert.Equal(t, v1.ID, view.VersionID)
	_, ok := view.Modules["inventory"]
	assert.False(t, ok)
}

func TestBuildFailsClosedWithoutRole(t *testing.T) {
	env := newBuilderEnv(t)
	ctx := context.Background()

	modules, features := clinicSnapshot()
	env.publish(t, "clinic", modules, features)

	tenant := &tenants.Tenant{Name: "No Staff Clinic", BusinessType: "clinic", PlanCode: "pro"}
	require.NoError(t, env.tenants.Create(ctx, tenant))

	view, err := env.builder.Build(ctx, tenant.ID, "u-unassigned")
	require.Error(t, err)

	var incomplete *IncompleteEntitlementError
	require.ErrorAs(t, err, &incomplete)
	assert.Equal(t, "role assignment", incomplete.Missing)

	require.NotNil(t, view)
	assert.True(t, view.Empty())
	assert.Empty(t, view.Permissions)
}

func TestBuildFailsClosedWithoutPlan(t *testing.T) {
	env := newBuilderEnv(t)
	ctx := context.Background()

	modules, features := clinicSnapshot()
	env.publish(t, "clinic", modules, features)

	tenant := &tenants.Tenant{Name: "Planless Clinic", BusinessType: "clinic"}
	require.NoError(t, env.tenants.Create(ctx, tenant))
	require.NoError(t, env.tenants.AssignRole(ctx, tenant.ID, "u-1", "staff", "admin@vertiqo"))

	view, err := env.builder.Build(ctx, tenant.ID, "u-1")
	require.Error(t, err)

	var incomplete *IncompleteEntitlementError
	require.ErrorAs(t, err, &incomplete)
	assert.Equal(t, "plan", incomplete.Missing)
	assert.True(t, view.Empty())
}

func TestBuildFailsClosedUnknownTenant(t *testing.T) {
	env := newBuilderEnv(t)

	view, err := env.builder.Build(context.Background(), "t-ghost", "u-1")
	require.Error(t, err)

	var incomplete *IncompleteEntitlementError
	require.ErrorAs(t, err, &incomplete)
	assert.True(t, view.Empty())
}

func TestBuildFailsClosedNoConfiguration(t *testing.T) {
	env := newBuilderEnv(t)

	// Neither a published version nor a legacy mapping exists for this
	// business type
	tenant := env.newTenant(t, "Mystery Shop", "unconfigured")

	view, err := env.builder.Build(context.Background(), tenant.ID, "u-1")
	require.Error(t, err)

	var incomplete *IncompleteEntitlementError
	require.ErrorAs(t, err, &incomplete)
	assert.Equal(t, "business type configuration", incomplete.Missing)
	assert.True(t, view.Empty())
}

func TestBuildDanglingPinIsFatal(t *testing.T) {
	env := newBuilderEnv(t)
	ctx := context.Background()

	modules, features := clinicSnapshot()
	v1 := env.publish(t, "clinic", modules, features)
	tenant := env.newTenant(t, "Med Clinic", "clinic")
	_, err := env.versions.Rebind(ctx, tenant.ID, &v1.ID, "pin", "ops@vertiqo", versioning.RebindOptions{})
	require.NoError(t, err)

	// Simulate a dangling pin by deleting the version row out from
	// under the binding
	_, err = env.db.Exec("DELETE FROM business_type_versions WHERE id = $1", v1.ID)
	require.NoError(t, err)

	view, err := env.builder.Build(ctx, tenant.ID, "u-1")
	require.Error(t, err)

	var notFound *versioning.VersionNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Nil(t, view)
}

func TestBuildUsesCache(t *testing.T) {
	env := newBuilderEnv(t)
	ctx := context.Background()

	modules, features := clinicSnapshot()
	env.publish(t, "clinic", modules, features)
	tenant := env.newTenant(t, "Med Clinic", "clinic")

	log := observability.NewLogger(observability.ErrorLevel, io.Discard)
	cache := NewViewCache(nil, 16, time.Minute, nil, log)
	env.builder.cache = cache

	first, err := env.builder.Build(ctx, tenant.ID, "u-1")
	require.NoError(t, err)

	// A tenant override added after the build is invisible until
	// invalidation
	env.overrides.add(catalog.KindModule, "bookings", catalog.ScopeTenant, &tenant.ID, false)

	cached, err := env.builder.Build(ctx, tenant.ID, "u-1")
	require.NoError(t, err)
	assert.Equal(t, first.ComputedAt, cached.ComputedAt)
	assert.True(t, cached.ModuleEnabled("bookings"))

	require.NoError(t, cache.InvalidateTenant(ctx, tenant.ID))

	rebuilt, err := env.builder.Build(ctx, tenant.ID, "u-1")
	require.NoError(t, err)
	assert.False(t, rebuilt.ModuleEnabled("bookings"))
}

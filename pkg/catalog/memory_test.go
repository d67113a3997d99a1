package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixtureSource() *MemorySource {
	src := NewMemorySource()
	src.AddPermission(Permission{Code: "bookings.read"})
	src.AddPermission(Permission{Code: "invoices.write"})
	src.AddPermission(Permission{Code: "reports.read"})
	src.AddRole(Role{ID: "staff", Name: "Staff", IsSystem: true, Permissions: []PermissionCode{"bookings.read"}})
	src.AddPlan(Plan{Code: "pro", Permissions: []PermissionCode{"bookings.read", "invoices.write"}})
	src.AddAddon(Addon{Code: "analytics", Permissions: []PermissionCode{"reports.read"}})
	src.AddFeature(Feature{Code: "telemedicine", Scope: ScopeGlobal, DefaultEnabled: false})
	src.AddFeature(Feature{Code: "branded-portal", Scope: ScopeTenant, DefaultEnabled: false})
	src.AddModule(Module{Code: "billing", Scope: ScopeGlobal, DefaultEnabled: true})
	src.AddLegacyMapping(LegacyMapping{BusinessType: "gym", Modules: []string{"billing"}, Features: nil})
	return src
}

func TestMemorySourceLookups(t *testing.T) {
	ctx := context.Background()
	src := fixtureSource()

	perms, err := src.GetRolePermissions(ctx, "staff")
	require.NoError(t, err)
	assert.Equal(t, []PermissionCode{"bookings.read"}, perms)

	perms, err = src.GetPlanPermissions(ctx, "pro")
	require.NoError(t, err)
	assert.Len(t, perms, 2)

	perms, err = src.GetAddonPermissions(ctx, "analytics")
	require.NoError(t, err)
	assert.Equal(t, []PermissionCode{"reports.read"}, perms)

	ok, err := src.PermissionExists(ctx, "bookings.read")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = src.PermissionExists(ctx, "nope.nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemorySourceNotFound(t *testing.T) {
	ctx := context.Background()
	src := fixtureSource()

	_, err := src.GetRolePermissions(ctx, "ghost")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))

	var nfe *NotFoundError
	require.True(t, errors.As(err, &nfe))
	assert.Equal(t, "role", nfe.Kind)
	assert.Equal(t, "ghost", nfe.Code)

	_, err = src.GetFeature(ctx, "ghost")
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = src.GetLegacyMapping(ctx, "spa")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestMemorySourceGlobalListings(t *testing.T) {
	ctx := context.Background()
	src := fixtureSource()

	features, err := src.ListGlobalFeatures(ctx)
	require.NoError(t, err)
	require.Len(t, features, 1)
	assert.Equal(t, "telemedicine", features[0].Code)

	modules, err := src.ListGlobalModules(ctx)
	require.NoError(t, err)
	require.Len(t, modules, 1)
	assert.Equal(t, "billing", modules[0].Code)
}

func TestMemorySourceReplace(t *testing.T) {
	ctx := context.Background()
	src := fixtureSource()

	next := NewMemorySource()
	next.AddPermission(Permission{Code: "tours.read"})
	next.AddRole(Role{ID: "guide", Permissions: []PermissionCode{"tours.read"}})
	src.Replace(next)

	_, err := src.GetRolePermissions(ctx, "staff")
	assert.True(t, errors.Is(err, ErrNotFound))

	perms, err := src.GetRolePermissions(ctx, "guide")
	require.NoError(t, err)
	assert.Equal(t, []PermissionCode{"tours.read"}, perms)
}

func TestPermissionCode(t *testing.T) {
	assert.True(t, PermissionCode("bookings.read").Valid())
	assert.False(t, PermissionCode("bookings").Valid())
	assert.False(t, PermissionCode(".read").Valid())
	assert.False(t, PermissionCode("bookings.").Valid())
	assert.False(t, PermissionCode("a.b.c").Valid())
	assert.Equal(t, "bookings", PermissionCode("bookings.read").Resource())
}

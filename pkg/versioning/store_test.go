package versioning

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
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

func clinicModules() []SnapshotEntry {
	return []SnapshotEntry{
		{Code: "bookings", Name: "Bookings", DefaultEnabled: true},
		{Code: "invoices", Name: "Invoicing", DefaultEnabled: true},
	}
}

func clinicFeatures() []SnapshotEntry {
	return []SnapshotEntry{
		{Code: "telemedicine", Name: "Telemedicine", DefaultEnabled: false},
		{Code: "reports", Name: "Reports", DefaultEnabled: true},
	}
}

func publishedVersion(t *testing.T, store *Store, businessType string) *BusinessTypeVersion {
	t.Helper()
	ctx := context.Background()
	draft, err := store.CreateDraft(ctx, businessType, clinicModules(), clinicFeatures(), nil, "config@vertiqo")
	require.NoError(t, err)
	v, err := store.Publish(ctx, draft.ID)
	require.NoError(t, err)
	return v
}

func TestPublishAssignsMonotonicNumbers(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	v1 := publishedVersion(t, store, "clinic")
	v2 := publishedVersion(t, store, "clinic")

	assert.Equal(t, 1, v1.VersionNumber)
	assert.Equal(t, 2, v2.VersionNumber)
	assert.Equal(t, StatePublished, v2.State)
	require.NotNil(t, v2.PublishedAt)

	latest, err := store.GetLatestPublished(ctx, "clinic")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, v2.ID, latest.ID)
}

func TestPublishValidation(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	tests := []struct {
		name      string
		modules   []SnapshotEntry
		features  []SnapshotEntry
		effective *time.Time
	}{
		{name: "empty module snapshot", modules: nil, features: clinicFeatures()},
		{
			name:     "duplicate module codes",
			modules:  []SnapshotEntry{{Code: "bookings"}, {Code: "bookings"}},
			features: clinicFeatures(),
		},
		{
			name:     "duplicate feature codes",
			modules:  clinicModules(),
			features: []SnapshotEntry{{Code: "reports"}, {Code: "reports"}},
		},
		{name: "past effectiveAt", modules: clinicModules(), features: clinicFeatures(), effective: &past},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			draft, err := store.CreateDraft(ctx, "clinic", tt.modules, tt.features, tt.effective, "config@vertiqo")
			require.NoError(t, err)

			_, err = store.Publish(ctx, draft.ID)
			var validationErr *PublishValidationError
			require.ErrorAs(t, err, &validationErr)

			// A failed publish must not advance the registry
			latest, err := store.GetLatestPublished(ctx, "clinic")
			require.NoError(t, err)
			assert.Nil(t, latest)
		})
	}
}

func TestPublishRejectsNonDraft(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	v := publishedVersion(t, store, "clinic")
	_, err := store.Publish(ctx, v.ID)
	var transitionErr *InvalidTransitionError
	require.ErrorAs(t, err, &transitionErr)
}

func TestPublishedVersionIsImmutable(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	v1 := publishedVersion(t, store, "clinic")
	before, err := store.Get(ctx, v1.ID)
	require.NoError(t, err)

	_, err = store.UpdateDraft(ctx, v1.ID, []SnapshotEntry{{Code: "other"}}, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "immutable")

	// Publishing the next version must not alter any field of v1
	publishedVersion(t, store, "clinic")
	after, err := store.Get(ctx, v1.ID)
	require.NoError(t, err)
	assert.Equal(t, before.VersionNumber, after.VersionNumber)
	assert.Equal(t, before.ModuleSnapshot, after.ModuleSnapshot)
	assert.Equal(t, before.FeatureSnapshot, after.FeatureSnapshot)
	assert.Equal(t, before.State, after.State)
}

func TestRetireRequiresAnotherPublishedVersion(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	v1 := publishedVersion(t, store, "clinic")
	_, err := store.Retire(ctx, v1.ID, RetireOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only published version")

	// Force bypasses the guard
	retired, err := store.Retire(ctx, v1.ID, RetireOptions{Force: true})
	require.NoError(t, err)
	assert.Equal(t, StateRetired, retired.State)
	require.NotNil(t, retired.RetiredAt)

	latest, err := store.GetLatestPublished(ctx, "clinic")
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestRetireRepointsLatest(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	v1 := publishedVersion(t, store, "clinic")
	v2 := publishedVersion(t, store, "clinic")

	_, err := store.Retire(ctx, v2.ID, RetireOptions{})
	require.NoError(t, err)

	latest, err := store.GetLatestPublished(ctx, "clinic")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, v1.ID, latest.ID)

	// Retired content stays readable for pinned tenants
	retired, err := store.Get(ctx, v2.ID)
	require.NoError(t, err)
	assert.Equal(t, clinicModules(), retired.ModuleSnapshot)
}

func TestRebindAppendsExactlyOneHistoryRow(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	v1 := publishedVersion(t, store, "clinic")
	v2 := publishedVersion(t, store, "clinic")

	_, err := store.EnsureBinding(ctx, "tenant-1", "clinic")
	require.NoError(t, err)

	entry, err := store.Rebind(ctx, "tenant-1", &v1.ID, "pin to stable", "ops@vertiqo", RebindOptions{})
	require.NoError(t, err)
	assert.Nil(t, entry.FromVersionID)
	require.NotNil(t, entry.ToVersionID)
	assert.Equal(t, v1.ID, *entry.ToVersionID)

	history, err := store.ListHistory(ctx, "tenant-1")
	require.NoError(t, err)
	require.Len(t, history, 1)

	// Second rebind records the prior pin as fromVersionId
	entry, err = store.Rebind(ctx, "tenant-1", &v2.ID, "upgrade", "ops@vertiqo", RebindOptions{})
	require.NoError(t, err)
	require.NotNil(t, entry.FromVersionID)
	assert.Equal(t, v1.ID, *entry.FromVersionID)

	history, err = store.ListHistory(ctx, "tenant-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
}

func TestRebindRejectsWrongBusinessType(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	other := publishedVersion(t, store, "salon")
	_, err := store.EnsureBinding(ctx, "tenant-1", "clinic")
	require.NoError(t, err)

	_, err = store.Rebind(ctx, "tenant-1", &other.ID, "", "ops@vertiqo", RebindOptions{})
	var notFound *VersionNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "clinic", notFound.BusinessType)

	history, err := store.ListHistory(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestRebindRetiredTargetNeedsRollback(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	v1 := publishedVersion(t, store, "clinic")
	publishedVersion(t, store, "clinic")
	_, err := store.Retire(ctx, v1.ID, RetireOptions{})
	require.NoError(t, err)

	_, err = store.EnsureBinding(ctx, "tenant-1", "clinic")
	require.NoError(t, err)

	_, err = store.Rebind(ctx, "tenant-1", &v1.ID, "", "ops@vertiqo", RebindOptions{})
	var retiredErr *RetiredTargetError
	require.ErrorAs(t, err, &retiredErr)

	// An explicit rollback may target the retired version
	entry, err := store.Rebind(ctx, "tenant-1", &v1.ID, "incident rollback", "ops@vertiqo", RebindOptions{Rollback: true})
	require.NoError(t, err)
	assert.Equal(t, v1.ID, *entry.ToVersionID)
}

func TestRebindToFloating(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	v1 := publishedVersion(t, store, "clinic")
	_, err := store.EnsureBinding(ctx, "tenant-1", "clinic")
	require.NoError(t, err)
	_, err = store.Rebind(ctx, "tenant-1", &v1.ID, "pin", "ops@vertiqo", RebindOptions{})
	require.NoError(t, err)

	entry, err := store.Rebind(ctx, "tenant-1", nil, "unpin", "ops@vertiqo", RebindOptions{})
	require.NoError(t, err)
	assert.Nil(t, entry.ToVersionID)
	assert.Equal(t, v1.ID, *entry.FromVersionID)

	binding, err := store.GetBinding(ctx, "tenant-1")
	require.NoError(t, err)
	assert.False(t, binding.Pinned())
}

func TestFloatingTenantTracksLatest(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	v1 := publishedVersion(t, store, "clinic")
	_, err := store.EnsureBinding(ctx, "tenant-1", "clinic")
	require.NoError(t, err)

	effective, err := store.EffectiveVersion(ctx, "tenant-1", "clinic")
	require.NoError(t, err)
	assert.Equal(t, v1.ID, effective.ID)

	// Publishing flips floating tenants without a rebind
	v2 := publishedVersion(t, store, "clinic")
	effective, err = store.EffectiveVersion(ctx, "tenant-1", "clinic")
	require.NoError(t, err)
	assert.Equal(t, v2.ID, effective.ID)
}

func TestPinnedTenantIgnoresNewPublishes(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	v1 := publishedVersion(t, store, "clinic")
	_, err := store.EnsureBinding(ctx, "tenant-1", "clinic")
	require.NoError(t, err)
	_, err = store.Rebind(ctx, "tenant-1", &v1.ID, "pin", "ops@vertiqo", RebindOptions{})
	require.NoError(t, err)

	publishedVersion(t, store, "clinic")
	effective, err := store.EffectiveVersion(ctx, "tenant-1", "clinic")
	require.NoError(t, err)
	assert.Equal(t, v1.ID, effective.ID)
}

func TestEffectiveVersionWithoutVersioning(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	// No versions published for this business type at all: the caller
	// falls back to the legacy flat mapping
	effective, err := store.EffectiveVersion(ctx, "tenant-1", "food-truck")
	require.NoError(t, err)
	assert.Nil(t, effective)
}

func TestEnsureBindingIsIdempotent(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	v1 := publishedVersion(t, store, "clinic")
	first, err := store.EnsureBinding(ctx, "tenant-1", "clinic")
	require.NoError(t, err)
	_, err = store.Rebind(ctx, "tenant-1", &v1.ID, "pin", "ops@vertiqo", RebindOptions{})
	require.NoError(t, err)

	second, err := store.EnsureBinding(ctx, "tenant-1", "clinic")
	require.NoError(t, err)
	assert.Equal(t, first.TenantID, second.TenantID)
	require.NotNil(t, second.PinnedVersionID)
	assert.Equal(t, v1.ID, *second.PinnedVersionID)
}

func TestGetPublishedByNumber(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	v1 := publishedVersion(t, store, "clinic")
	publishedVersion(t, store, "clinic")

	got, err := store.GetPublished(ctx, "clinic", 1)
	require.NoError(t, err)
	assert.Equal(t, v1.ID, got.ID)

	_, err = store.GetPublished(ctx, "clinic", 9)
	var notFound *VersionNotFoundError
	require.ErrorAs(t, err, &notFound)
}
